package model

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Dimension names a grouping column of a PolicyRecord.
type Dimension string

// Grouping dimensions.
const (
	DimRenewal       Dimension = "renewal"
	DimDisability    Dimension = "disability"
	DimIndustry1     Dimension = "industry_1"
	DimIndustry2     Dimension = "industry_2"
	DimIndustry3     Dimension = "industry_3"
	DimIndustry4     Dimension = "industry_4"
	DimCity          Dimension = "city"
	DimProvince      Dimension = "province"
	DimAmountBracket Dimension = "amount_bracket"
)

// AllDimensions lists every supported dimension in canonical order.
var AllDimensions = []Dimension{
	DimIndustry1, DimIndustry2, DimIndustry3, DimIndustry4,
	DimDisability, DimAmountBracket, DimRenewal,
	DimCity, DimProvince,
}

// ParseDimension validates a configured dimension name.
func ParseDimension(s string) (Dimension, error) {
	d := Dimension(strings.TrimSpace(strings.ToLower(s)))
	for _, known := range AllDimensions {
		if d == known {
			return d, nil
		}
	}
	return "", eris.Errorf("model: unknown dimension %q", s)
}

// IndustryLevel reports the 1-based industry level of d, or 0 when d is not an
// industry dimension.
func (d Dimension) IndustryLevel() int {
	switch d {
	case DimIndustry1:
		return 1
	case DimIndustry2:
		return 2
	case DimIndustry3:
		return 3
	case DimIndustry4:
		return 4
	}
	return 0
}

// IndustryDimension returns the dimension for a 1-based industry level.
func IndustryDimension(level int) Dimension {
	return Dimension("industry_" + strconv.Itoa(level))
}

// Value extracts the grouping value of d from a record.
func (d Dimension) Value(r PolicyRecord) string {
	if lvl := d.IndustryLevel(); lvl > 0 {
		return r.IndustryLevel(lvl)
	}
	switch d {
	case DimRenewal:
		return strconv.FormatBool(r.Renewal)
	case DimDisability:
		return r.Disability
	case DimCity:
		return r.City
	case DimProvince:
		return r.Province
	case DimAmountBracket:
		return r.AmountBracket
	}
	return ""
}

// KeyPart is one (dimension, value) pair of a DimensionKey.
type KeyPart struct {
	Dimension Dimension `json:"dimension"`
	Value     string    `json:"value"`
}

// DimensionKey is the ordered tuple of grouping values that buckets records.
type DimensionKey []KeyPart

// KeyOf builds the key of r over dims.
func KeyOf(r PolicyRecord, dims []Dimension) DimensionKey {
	key := make(DimensionKey, len(dims))
	for i, d := range dims {
		key[i] = KeyPart{Dimension: d, Value: d.Value(r)}
	}
	return key
}

// String renders the key as a stable map key; equal keys render equal strings.
func (k DimensionKey) String() string {
	var b strings.Builder
	for i, p := range k {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		b.WriteString(string(p.Dimension))
		b.WriteByte('=')
		b.WriteString(p.Value)
	}
	return b.String()
}

// Get returns the value recorded for d.
func (k DimensionKey) Get(d Dimension) (string, bool) {
	for _, p := range k {
		if p.Dimension == d {
			return p.Value, true
		}
	}
	return "", false
}

// Label renders the key for humans, e.g. "renewal=true, city=无锡市".
func (k DimensionKey) Label() string {
	parts := make([]string, len(k))
	for i, p := range k {
		parts[i] = string(p.Dimension) + "=" + p.Value
	}
	return strings.Join(parts, ", ")
}
