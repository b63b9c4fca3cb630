package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// DefaultProfileName is the profile used when no profile is configured.
const DefaultProfileName = "default"

// DefaultProfile returns the built-in insurer profile.
func DefaultProfile() ProfileConfig {
	return ProfileConfig{
		IndustryPattern: "{code}|{name}",
		IndustryDepth:   4,
		AmountBrackets:  []float64{100000, 200000, 300000, 500000, 800000, 1000000},
		DisabilityTiers: []string{"十级伤残:5%", "十级伤残:10%"},
		RenewalLabels:   RenewalLabels{New: "新单", Renewal: "续保"},
	}
}

// DefaultAnalyses returns the standard grouping analyses: single-dimension
// reports, the combined report, and the tree analyses that feed the
// condition tree at every industry depth plus the basic bucket.
func DefaultAnalyses() []AnalysisConfig {
	analyses := []AnalysisConfig{
		{Name: "renewal", Dimensions: []string{"renewal"}},
		{Name: "disability", Dimensions: []string{"disability"}},
		{Name: "industry_2", Dimensions: []string{"industry_2"}},
		{Name: "city", Dimensions: []string{"city"}},
		{Name: "province", Dimensions: []string{"province"}},
		{Name: "renewal_disability_industry_2_city", Dimensions: []string{"renewal", "disability", "industry_2", "city"}},
	}
	for depth := 1; depth <= 4; depth++ {
		dims := make([]string, 0, depth+3)
		for lvl := 1; lvl <= depth; lvl++ {
			dims = append(dims, "industry_"+strconv.Itoa(lvl))
		}
		dims = append(dims, "disability", "amount_bracket", "renewal")
		analyses = append(analyses, AnalysisConfig{
			Name:       "tree_industry_" + strconv.Itoa(depth),
			Dimensions: dims,
			Tree:       true,
		})
	}
	return append(analyses, AnalysisConfig{
		Name:       "tree_basic",
		Dimensions: []string{"amount_bracket", "renewal"},
		Tree:       true,
	})
}

type profilesFile struct {
	Profiles map[string]ProfileConfig `yaml:"profiles"`
}

// LoadProfiles reads insurer profiles from a YAML file with a top-level
// profiles map. Profile names are lowercased to match viper's key handling.
func LoadProfiles(path string) (map[string]ProfileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read profiles %s", path)
	}

	var f profilesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "config: parse profiles %s", path)
	}
	if len(f.Profiles) == 0 {
		return nil, eris.Wrapf(ErrConfiguration, "config: no profiles in %s", path)
	}

	out := make(map[string]ProfileConfig, len(f.Profiles))
	for name, p := range f.Profiles {
		out[strings.ToLower(name)] = p
	}
	return out, nil
}

func (p ProfileConfig) withDefaults() ProfileConfig {
	def := DefaultProfile()
	if p.IndustryPattern == "" {
		p.IndustryPattern = def.IndustryPattern
	}
	if p.IndustryDepth <= 0 || p.IndustryDepth > 4 {
		p.IndustryDepth = def.IndustryDepth
	}
	if p.RenewalLabels.New == "" {
		p.RenewalLabels.New = def.RenewalLabels.New
	}
	if p.RenewalLabels.Renewal == "" {
		p.RenewalLabels.Renewal = def.RenewalLabels.Renewal
	}
	return p
}

// FormatIndustry renders one classification level with the profile pattern.
func (p ProfileConfig) FormatIndustry(code, name string) string {
	pattern := p.IndustryPattern
	if pattern == "" {
		pattern = DefaultProfile().IndustryPattern
	}
	return strings.NewReplacer("{code}", code, "{name}", name).Replace(pattern)
}

// RenewalLabel returns the profile label for a renewal flag.
func (p ProfileConfig) RenewalLabel(renewal bool) string {
	if renewal {
		return p.RenewalLabels.Renewal
	}
	return p.RenewalLabels.New
}

// ParseRenewal maps a renewal label (profile labels, or true/false/1/0) to
// the flag.
func (p ProfileConfig) ParseRenewal(label string) (bool, error) {
	s := strings.TrimSpace(label)
	switch {
	case s == p.RenewalLabels.Renewal && s != "":
		return true, nil
	case s == p.RenewalLabels.New && s != "":
		return false, nil
	}
	switch strings.ToLower(s) {
	case "true", "1", "yes", "y":
		return true, nil
	case "false", "0", "no", "n":
		return false, nil
	}
	return false, eris.Errorf("config: unknown renewal label %q", label)
}

// Bracket returns the amount bracket label for an insured amount: the first
// bound that is >= amount, or ">last" above every bound. Without bounds the
// amount itself is the label.
func (p ProfileConfig) Bracket(amount float64) string {
	if len(p.AmountBrackets) == 0 {
		return formatBound(amount)
	}
	for _, b := range p.AmountBrackets {
		if amount <= b {
			return formatBound(b)
		}
	}
	return ">" + formatBound(p.AmountBrackets[len(p.AmountBrackets)-1])
}

// KnownTier reports whether tier is in the profile enumeration. An empty
// enumeration accepts every tier.
func (p ProfileConfig) KnownTier(tier string) bool {
	if len(p.DisabilityTiers) == 0 || tier == "" {
		return true
	}
	for _, t := range p.DisabilityTiers {
		if t == tier {
			return true
		}
	}
	return false
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
