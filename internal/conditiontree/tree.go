// Package conditiontree indexes surcharge coefficients by industry path,
// disability tier, amount bracket and renewal flag, and serves lookups that
// degrade from exact matches to shorter industry paths and to the basic
// (bracket, renewal) buckets.
package conditiontree

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/risk-surcharge/internal/model"
)

// ErrNotFound is returned when no configured match mode finds a leaf.
var ErrNotFound = eris.New("conditiontree: no matching leaf")

// Leaf is the payload stored at a fully specified path.
type Leaf struct {
	Coefficient float64 `json:"coefficient"`
	Score       float64 `json:"risk_score"`
	Records     int     `json:"records"`
	// Source names the analysis group the leaf came from.
	Source string `json:"source,omitempty"`
}

// node is either a *branch or a *leafNode.
type node interface {
	isNode()
}

type branch struct {
	children map[segment]node
}

type leafNode struct {
	Leaf
}

func (*branch) isNode()   {}
func (*leafNode) isNode() {}

func newBranch() *branch {
	return &branch{children: make(map[segment]node)}
}

// Conflict records two inserts at the same path. The later leaf wins.
type Conflict struct {
	Path     Path `json:"path"`
	Previous Leaf `json:"previous"`
	Current  Leaf `json:"current"`
}

// Builder accumulates leaves. It is not safe for concurrent use.
type Builder struct {
	root      *branch
	size      int
	conflicts []Conflict
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{root: newBranch()}
}

// Insert stores l at p. A second insert at the same path replaces the first
// and is recorded as a Conflict.
func (b *Builder) Insert(p Path, l Leaf) error {
	if err := p.validate(); err != nil {
		return err
	}

	segs := p.segments()
	cur := b.root
	for _, s := range segs[:len(segs)-1] {
		switch child := cur.children[s].(type) {
		case *branch:
			cur = child
		case nil:
			next := newBranch()
			cur.children[s] = next
			cur = next
		default:
			return eris.Wrapf(ErrInvalidPath, "conditiontree: %s: leaf found above renewal level", p)
		}
	}

	last := segs[len(segs)-1]
	switch prev := cur.children[last].(type) {
	case *leafNode:
		c := Conflict{Path: p, Previous: prev.Leaf, Current: l}
		b.conflicts = append(b.conflicts, c)
		zap.L().Warn("conditiontree: conflicting leaf, last write wins",
			zap.String("path", p.String()),
			zap.Float64("previous", prev.Coefficient),
			zap.String("previous_source", prev.Source),
			zap.Float64("current", l.Coefficient),
			zap.String("current_source", l.Source),
		)
	case nil:
		b.size++
	default:
		return eris.Wrapf(ErrInvalidPath, "conditiontree: %s: branch found at renewal level", p)
	}
	cur.children[last] = &leafNode{Leaf: l}
	return nil
}

// Conflicts returns the conflicts recorded so far.
func (b *Builder) Conflicts() []Conflict {
	return append([]Conflict(nil), b.conflicts...)
}

// Build returns the immutable tree. The builder must not be used afterwards.
func (b *Builder) Build() *Tree {
	t := &Tree{root: b.root, size: b.size, conflicts: b.conflicts}
	b.root = nil
	return t
}

// Tree is a read-only condition tree, safe for concurrent lookups.
type Tree struct {
	root      *branch
	size      int
	conflicts []Conflict
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	return t.size
}

// Conflicts returns the conflicts recorded while building.
func (t *Tree) Conflicts() []Conflict {
	return append([]Conflict(nil), t.conflicts...)
}

// Match is a successful lookup.
type Match struct {
	Mode model.MatchMode
	Leaf Leaf
	// Path is the path actually resolved, e.g. the truncated industry path
	// for industry_degrade.
	Path Path
}

// Lookup tries each mode in order and returns the first hit. With no modes it
// uses model.DefaultModes. The error wraps ErrNotFound when every mode fails.
func (t *Tree) Lookup(p Path, modes ...model.MatchMode) (Match, error) {
	if len(modes) == 0 {
		modes = model.DefaultModes
	}
	p.Industry = model.TrimIndustry(p.Industry)

	for _, mode := range modes {
		var (
			m  Match
			ok bool
		)
		switch mode {
		case model.ModeExact:
			m, ok = t.exact(p)
		case model.ModeIndustryDegrade:
			m, ok = t.degrade(p)
		case model.ModeBasic:
			m, ok = t.basic(p)
		}
		if ok {
			return m, nil
		}
		zap.L().Debug("conditiontree: mode missed",
			zap.String("mode", string(mode)),
			zap.String("path", p.String()),
		)
	}

	names := make([]string, len(modes))
	for i, m := range modes {
		names[i] = string(m)
	}
	return Match{}, eris.Wrapf(ErrNotFound, "conditiontree: %s (modes %s)", p, strings.Join(names, ","))
}

func (t *Tree) exact(p Path) (Match, bool) {
	l, ok := walk(t.root, p.segments())
	if !ok {
		return Match{}, false
	}
	return Match{Mode: model.ModeExact, Leaf: l, Path: p}, true
}

// degrade walks the industry prefix once, keeping the branch reached at each
// depth, then tries the tail from the deepest proper prefix upwards.
func (t *Tree) degrade(p Path) (Match, bool) {
	n := len(p.Industry)
	if n < 2 {
		return Match{}, false
	}

	visited := make([]*branch, 0, n)
	cur := t.root
	for i, v := range p.Industry {
		next, ok := cur.children[segment{model.IndustryDimension(i + 1), v}].(*branch)
		if !ok {
			break
		}
		visited = append(visited, next)
		cur = next
	}

	tail := p.tail()
	for k := min(len(visited), n-1); k >= 1; k-- {
		if l, ok := walk(visited[k-1], tail); ok {
			return Match{Mode: model.ModeIndustryDegrade, Leaf: l, Path: p.Truncate(k)}, true
		}
		zap.L().Debug("conditiontree: degrade step missed",
			zap.Int("depth", k),
			zap.String("path", p.Truncate(k).String()),
		)
	}
	return Match{}, false
}

func (t *Tree) basic(p Path) (Match, bool) {
	bp := p.Basic()
	l, ok := walk(t.root, bp.segments())
	if !ok {
		return Match{}, false
	}
	return Match{Mode: model.ModeBasic, Leaf: l, Path: bp}, true
}

func walk(from *branch, segs []segment) (Leaf, bool) {
	cur := from
	for i, s := range segs {
		child, ok := cur.children[s]
		if !ok {
			return Leaf{}, false
		}
		switch n := child.(type) {
		case *branch:
			cur = n
		case *leafNode:
			if i == len(segs)-1 {
				return n.Leaf, true
			}
			return Leaf{}, false
		}
	}
	return Leaf{}, false
}

// Entry is one flattened leaf.
type Entry struct {
	Path Path `json:"path"`
	Leaf Leaf `json:"leaf"`
}

// Entries flattens the tree into a lookup table sorted by path.
func (t *Tree) Entries() []Entry {
	out := make([]Entry, 0, t.size)
	var visit func(b *branch, prefix []segment)
	visit = func(b *branch, prefix []segment) {
		for s, child := range b.children {
			segs := append(append([]segment(nil), prefix...), s)
			switch n := child.(type) {
			case *branch:
				visit(n, segs)
			case *leafNode:
				out = append(out, Entry{Path: pathFromSegments(segs), Leaf: n.Leaf})
			}
		}
	}
	visit(t.root, nil)

	sort.Slice(out, func(i, j int) bool {
		return out[i].Path.key() < out[j].Path.key()
	})
	return out
}

// FromEntries rebuilds a tree from a lookup table.
func FromEntries(entries []Entry) (*Tree, error) {
	b := NewBuilder()
	for _, e := range entries {
		if err := b.Insert(e.Path, e.Leaf); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}
