package conditiontree

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/risk-surcharge/internal/model"
)

const tier = "十级伤残:5%"

func path(industry ...string) Path {
	return Path{Industry: industry, Disability: tier, Bracket: "200000", Renewal: "true"}
}

func build(t *testing.T, entries ...Entry) *Tree {
	t.Helper()
	tree, err := FromEntries(entries)
	require.NoError(t, err)
	return tree
}

func TestInsertExactRoundTrip(t *testing.T) {
	paths := []Path{
		path("A"),
		path("A", "B", "C", "D"),
		{Industry: []string{"A"}, Bracket: "100000", Renewal: "false"},
		{Bracket: "100000", Renewal: "false"},
	}
	for _, p := range paths {
		t.Run(p.String(), func(t *testing.T) {
			b := NewBuilder()
			require.NoError(t, b.Insert(p, Leaf{Coefficient: 123.4, Score: 42}))
			tree := b.Build()

			m, err := tree.Lookup(p, model.ModeExact)
			require.NoError(t, err)
			assert.Equal(t, model.ModeExact, m.Mode)
			assert.Equal(t, 123.4, m.Leaf.Coefficient)
			assert.Equal(t, 42.0, m.Leaf.Score)
			assert.Equal(t, p.Values(), m.Path.Values())
		})
	}
}

func TestExactRequiresFullPath(t *testing.T) {
	tree := build(t, Entry{Path: path("A", "B"), Leaf: Leaf{Coefficient: 1}})

	_, err := tree.Lookup(path("A"), model.ModeExact)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = tree.Lookup(path("A", "B", "C"), model.ModeExact)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDegradeToLevelTwo(t *testing.T) {
	tree := build(t,
		Entry{Path: path("A", "B"), Leaf: Leaf{Coefficient: 88.8}},
		Entry{Path: path("A", "X", "Y"), Leaf: Leaf{Coefficient: 1}},
	)

	m, err := tree.Lookup(path("A", "B", "C", "D"))
	require.NoError(t, err)
	assert.Equal(t, model.ModeIndustryDegrade, m.Mode)
	assert.Equal(t, 88.8, m.Leaf.Coefficient)
	assert.Equal(t, []string{"A", "B"}, m.Path.Industry)
}

func TestDegradeExample(t *testing.T) {
	tree := build(t,
		Entry{Path: path("A", "B"), Leaf: Leaf{Coefficient: 64.2}},
		Entry{Path: Path{Bracket: "200000", Renewal: "true"}, Leaf: Leaf{Coefficient: 10}},
	)

	m, err := tree.Lookup(path("A", "B", "C", "D"),
		model.ModeExact, model.ModeIndustryDegrade, model.ModeBasic)
	require.NoError(t, err)
	assert.Equal(t, model.ModeIndustryDegrade, m.Mode)
	assert.Equal(t, []string{"A", "B", tier, "200000", "true"}, m.Path.Values())
	assert.Equal(t, 64.2, m.Leaf.Coefficient)
}

func TestDegradePrefersDeepestPrefix(t *testing.T) {
	tree := build(t,
		Entry{Path: path("A"), Leaf: Leaf{Coefficient: 1}},
		Entry{Path: path("A", "B", "C"), Leaf: Leaf{Coefficient: 3}},
	)

	m, err := tree.Lookup(path("A", "B", "C", "D"), model.ModeIndustryDegrade)
	require.NoError(t, err)
	assert.Equal(t, 3.0, m.Leaf.Coefficient)

	// Level 2 has no leaf for the tail, so the walk continues up to level 1.
	m, err = tree.Lookup(path("A", "B", "Z"), model.ModeIndustryDegrade)
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.Leaf.Coefficient)
	assert.Equal(t, []string{"A"}, m.Path.Industry)
}

func TestDegradeHoldsTailFixed(t *testing.T) {
	tree := build(t, Entry{Path: path("A"), Leaf: Leaf{Coefficient: 1}})

	q := path("A", "B")
	q.Renewal = "false"
	_, err := tree.Lookup(q, model.ModeIndustryDegrade)
	assert.True(t, errors.Is(err, ErrNotFound))

	q = path("A", "B")
	q.Disability = "十级伤残:10%"
	_, err = tree.Lookup(q, model.ModeIndustryDegrade)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDegradeNeverReturnsFullDepth(t *testing.T) {
	tree := build(t, Entry{Path: path("A", "B"), Leaf: Leaf{Coefficient: 1}})

	_, err := tree.Lookup(path("A", "B"), model.ModeIndustryDegrade)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = tree.Lookup(path("A"), model.ModeIndustryDegrade)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestBasicIgnoresIndustryAndDisability(t *testing.T) {
	tree := build(t, Entry{Path: Path{Bracket: "200000", Renewal: "true"}, Leaf: Leaf{Coefficient: 7}})

	m, err := tree.Lookup(path("Q", "R"), model.ModeExact, model.ModeIndustryDegrade, model.ModeBasic)
	require.NoError(t, err)
	assert.Equal(t, model.ModeBasic, m.Mode)
	assert.Equal(t, 7.0, m.Leaf.Coefficient)
	assert.Equal(t, []string{"200000", "true"}, m.Path.Values())
}

func TestModeOrderIsHonoured(t *testing.T) {
	tree := build(t,
		Entry{Path: path("A", "B"), Leaf: Leaf{Coefficient: 2}},
		Entry{Path: Path{Bracket: "200000", Renewal: "true"}, Leaf: Leaf{Coefficient: 9}},
	)

	m, err := tree.Lookup(path("A", "B", "C"), model.ModeBasic, model.ModeIndustryDegrade)
	require.NoError(t, err)
	assert.Equal(t, model.ModeBasic, m.Mode)

	_, err = tree.Lookup(path("A", "B", "C"), model.ModeExact)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestNotFound(t *testing.T) {
	tree := build(t, Entry{Path: path("A"), Leaf: Leaf{Coefficient: 1}})

	_, err := tree.Lookup(Path{Industry: []string{"Z"}, Bracket: "1", Renewal: "false"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "exact,industry_degrade,basic")
}

func TestSegmentsAreTyped(t *testing.T) {
	// An industry label equal to a bracket label must not be confused with it.
	tree := build(t, Entry{
		Path: Path{Industry: []string{"200000"}, Bracket: "true", Renewal: "true"},
		Leaf: Leaf{Coefficient: 1},
	})

	_, err := tree.Lookup(Path{Bracket: "200000", Renewal: "true"}, model.ModeExact)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestConflictLastWriteWins(t *testing.T) {
	b := NewBuilder()
	p := path("A", "B")
	require.NoError(t, b.Insert(p, Leaf{Coefficient: 1.1, Source: "first"}))
	require.NoError(t, b.Insert(p, Leaf{Coefficient: 1.3, Source: "second"}))
	tree := b.Build()

	assert.Equal(t, 1, tree.Len())
	m, err := tree.Lookup(p, model.ModeExact)
	require.NoError(t, err)
	assert.Equal(t, 1.3, m.Leaf.Coefficient)

	conflicts := tree.Conflicts()
	require.Len(t, conflicts, 1)
	assert.Equal(t, 1.1, conflicts[0].Previous.Coefficient)
	assert.Equal(t, 1.3, conflicts[0].Current.Coefficient)
	assert.Equal(t, p.Values(), conflicts[0].Path.Values())
}

func TestInsertInvalidPath(t *testing.T) {
	tests := []struct {
		name string
		p    Path
	}{
		{"no bracket", Path{Renewal: "true"}},
		{"no renewal", Path{Bracket: "1"}},
		{"blank level", Path{Industry: []string{"A", " "}, Bracket: "1", Renewal: "true"}},
		{"too deep", Path{Industry: []string{"A", "B", "C", "D", "E"}, Bracket: "1", Renewal: "true"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewBuilder().Insert(tt.p, Leaf{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidPath))
		})
	}
}

func TestEntriesRoundTrip(t *testing.T) {
	entries := []Entry{
		{Path: path("A", "B"), Leaf: Leaf{Coefficient: 2, Score: 80, Records: 3, Source: "tree_industry_2"}},
		{Path: path("A"), Leaf: Leaf{Coefficient: 1}},
		{Path: Path{Bracket: "200000", Renewal: "true"}, Leaf: Leaf{Coefficient: 5}},
		{Path: Path{Industry: []string{"A"}, Bracket: "100000", Renewal: "false"}, Leaf: Leaf{Coefficient: 4}},
	}
	tree := build(t, entries...)

	flat := tree.Entries()
	require.Len(t, flat, 4)
	for i := 1; i < len(flat); i++ {
		assert.Less(t, flat[i-1].Path.key(), flat[i].Path.key())
	}

	rebuilt, err := FromEntries(flat)
	require.NoError(t, err)
	assert.Equal(t, flat, rebuilt.Entries())

	for _, e := range entries {
		m, err := rebuilt.Lookup(e.Path, model.ModeExact)
		require.NoError(t, err)
		assert.Equal(t, e.Leaf, m.Leaf)
	}
}

func TestConcurrentLookups(t *testing.T) {
	tree := build(t,
		Entry{Path: path("A", "B"), Leaf: Leaf{Coefficient: 2}},
		Entry{Path: Path{Bracket: "200000", Renewal: "true"}, Leaf: Leaf{Coefficient: 5}},
	)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m, err := tree.Lookup(path("A", "B", "C"))
				assert.NoError(t, err)
				assert.Equal(t, 2.0, m.Leaf.Coefficient)
			}
		}()
	}
	wg.Wait()
}

func TestPathHelpers(t *testing.T) {
	p := path("A", "B", "C")
	assert.Equal(t, []string{"A"}, p.Truncate(1).Industry)
	assert.Equal(t, []string{"A", "B", "C"}, p.Truncate(9).Industry)
	assert.Equal(t, Path{Bracket: "200000", Renewal: "true"}, p.Basic())
	assert.Equal(t, "[A / B / C / 十级伤残:5% / 200000 / true]", p.String())

	// Truncate copies.
	tr := p.Truncate(2)
	tr.Industry[0] = "Z"
	assert.Equal(t, "A", p.Industry[0])
}
