package conditiontree

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/risk-surcharge/internal/model"
)

// ErrInvalidPath is returned when a path cannot address a leaf.
var ErrInvalidPath = eris.New("conditiontree: invalid path")

// Path addresses a leaf. Segments are ordered industry L1..Lk, disability,
// amount bracket, renewal. A blank disability is left out, which is how the
// basic (bracket, renewal) buckets are stored.
type Path struct {
	Industry   []string `json:"industry,omitempty"`
	Disability string   `json:"disability,omitempty"`
	Bracket    string   `json:"amount_bracket"`
	Renewal    string   `json:"renewal"`
}

// segment is one typed level of a path, so a tier label can never collide
// with an industry label at the same depth.
type segment struct {
	dim   model.Dimension
	value string
}

func (p Path) validate() error {
	if p.Bracket == "" || p.Renewal == "" {
		return eris.Wrapf(ErrInvalidPath, "conditiontree: %s: bracket and renewal are required", p)
	}
	if len(p.Industry) > model.MaxIndustryDepth {
		return eris.Wrapf(ErrInvalidPath, "conditiontree: %s: industry deeper than %d levels", p, model.MaxIndustryDepth)
	}
	for i, v := range p.Industry {
		if strings.TrimSpace(v) == "" {
			return eris.Wrapf(ErrInvalidPath, "conditiontree: %s: blank industry level %d", p, i+1)
		}
	}
	return nil
}

func (p Path) segments() []segment {
	segs := make([]segment, 0, len(p.Industry)+3)
	for i, v := range p.Industry {
		segs = append(segs, segment{model.IndustryDimension(i + 1), v})
	}
	return append(segs, p.tail()...)
}

// tail is the part of the path below the industry levels.
func (p Path) tail() []segment {
	segs := make([]segment, 0, 3)
	if p.Disability != "" {
		segs = append(segs, segment{model.DimDisability, p.Disability})
	}
	return append(segs,
		segment{model.DimAmountBracket, p.Bracket},
		segment{model.DimRenewal, p.Renewal},
	)
}

// Truncate keeps the first k industry levels.
func (p Path) Truncate(k int) Path {
	if k > len(p.Industry) {
		k = len(p.Industry)
	}
	out := p
	out.Industry = append([]string(nil), p.Industry[:k]...)
	return out
}

// Basic drops industry and disability.
func (p Path) Basic() Path {
	return Path{Bracket: p.Bracket, Renewal: p.Renewal}
}

// Values lists the segment values in canonical order.
func (p Path) Values() []string {
	segs := p.segments()
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = s.value
	}
	return out
}

func (p Path) String() string {
	return "[" + strings.Join(p.Values(), " / ") + "]"
}

func (p Path) key() string {
	return strings.Join(p.Values(), "\x1f") + "\x1e" + p.Disability
}

func pathFromSegments(segs []segment) Path {
	var p Path
	for _, s := range segs {
		switch {
		case s.dim.IndustryLevel() > 0:
			p.Industry = append(p.Industry, s.value)
		case s.dim == model.DimDisability:
			p.Disability = s.value
		case s.dim == model.DimAmountBracket:
			p.Bracket = s.value
		case s.dim == model.DimRenewal:
			p.Renewal = s.value
		}
	}
	return p
}
