package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountByKey(t *testing.T) {
	counts := CountByKey([]string{"k1", "k1", "k2"})
	assert.Equal(t, map[string]int{"k1": 2, "k2": 1}, counts)

	assert.Empty(t, CountByKey(nil))
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "empty", NormalizeKey("", "empty"))
	assert.Equal(t, "empty", NormalizeKey("   ", "empty"))
	assert.Equal(t, "OSS", NormalizeKey("OSS", "empty"))
}

func TestYearBuckets(t *testing.T) {
	t.Run("drops malformed dates without raising", func(t *testing.T) {
		buckets, dropped := YearBuckets([]string{"2020-01-01", "not-a-date", "2021-06-01"}, false, nil)
		assert.Equal(t, map[int]int{2020: 1, 2021: 1}, buckets)
		assert.Equal(t, 1, dropped)
	})

	t.Run("missing dates are counted as dropped", func(t *testing.T) {
		buckets, dropped := YearBuckets([]string{"", "2022-03-04"}, false, nil)
		assert.Equal(t, map[int]int{2022: 1}, buckets)
		assert.Equal(t, 1, dropped)
	})

	t.Run("old year filter excludes 2015 and earlier", func(t *testing.T) {
		buckets, dropped := YearBuckets([]string{"2014-01-01", "2015-12-31", "2016-01-01"}, true, nil)
		assert.Equal(t, map[int]int{2016: 1}, buckets)
		assert.Zero(t, dropped, "filtered years are excluded, not dropped")
	})
}

func TestSortCounts(t *testing.T) {
	t.Run("descending by count", func(t *testing.T) {
		counts := []NamedCount{
			{ID: "a", Name: "alpha", Count: 1},
			{ID: "b", Name: "beta", Count: 3},
			{ID: "c", Name: "gamma", Count: 2},
		}
		SortCounts(counts)
		assert.Equal(t, []string{"b", "c", "a"}, []string{counts[0].ID, counts[1].ID, counts[2].ID})
	})

	t.Run("equal counts break ties lexicographically", func(t *testing.T) {
		counts := []NamedCount{
			{ID: "1", Name: "y", Count: 2},
			{ID: "2", Name: "x", Count: 2},
		}
		SortCounts(counts)
		assert.Equal(t, "x", counts[0].Name)
	})
}

func TestTopN(t *testing.T) {
	counts := []NamedCount{
		{Name: "y", Count: 2},
		{Name: "x", Count: 2},
		{Name: "z", Count: 5},
	}

	t.Run("n=1 on equal counts picks lexicographically smaller after leader", func(t *testing.T) {
		top := TopN(counts, 2)
		require.Len(t, top, 2)
		assert.Equal(t, "z", top[0].Name)
		assert.Equal(t, "x", top[1].Name)
	})

	t.Run("n beyond length returns all", func(t *testing.T) {
		assert.Len(t, TopN(counts, 10), 3)
	})

	t.Run("input is not mutated", func(t *testing.T) {
		_ = TopN(counts, 1)
		assert.Equal(t, "y", counts[0].Name)
	})
}

func TestUnreferenced(t *testing.T) {
	t.Run("set difference", func(t *testing.T) {
		all := []string{"r1", "r2", "r3"}
		referenced := []string{"r1", "r2"}
		assert.Equal(t, []string{"r3"}, Unreferenced(all, referenced))
	})

	t.Run("duplicates in input counted once", func(t *testing.T) {
		all := []string{"r3", "r3", "r4"}
		assert.Equal(t, []string{"r3", "r4"}, Unreferenced(all, nil))
	})

	t.Run("everything referenced yields empty", func(t *testing.T) {
		assert.Empty(t, Unreferenced([]string{"a"}, []string{"a"}))
	})
}

func TestSeen(t *testing.T) {
	seen := NewSeen()
	assert.True(t, seen.Add("vol-1"))
	assert.False(t, seen.Add("vol-1"), "repeat must be rejected")
	assert.True(t, seen.Add("vol-2"))
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, Dedupe([]string{"a", "b", "a", "c", "b"}))
}
