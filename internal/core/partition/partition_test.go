package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintscraper/internal/core/record"
)

func TestRangeInterleavesByModulo(t *testing.T) {
	a, err := Range(10, 13, 2)
	require.NoError(t, err)

	assert.Equal(t, []int{10, 12}, a.Worker(0))
	assert.Equal(t, []int{11}, a.Worker(1))
	assert.Equal(t, 2, a.Count())
	assert.Equal(t, 3, a.Size())
}

func TestRangeIsExactOverTheRange(t *testing.T) {
	for _, tc := range []struct{ start, stop, workers int }{
		{0, 0, 1},
		{0, 100, 1},
		{5, 47, 3},
		{1000, 1017, 4},
		{-6, 6, 5},
		{3, 5, 8},
	} {
		a, err := Range(tc.start, tc.stop, tc.workers)
		require.NoError(t, err)

		seen := map[int]int{}
		for w := 0; w < tc.workers; w++ {
			for _, k := range a.Worker(w) {
				seen[k]++
				assert.Equal(t, w, a.Owner(k))
			}
		}
		assert.Len(t, seen, tc.stop-tc.start, "range [%d,%d)", tc.start, tc.stop)
		for k, n := range seen {
			assert.Equal(t, 1, n, "key %d assigned %d times", k, n)
			assert.True(t, k >= tc.start && k < tc.stop)
		}
	}
}

func TestOwnerHandlesNegativeIds(t *testing.T) {
	assert.Equal(t, 2, Owner(-1, 3))
	assert.Equal(t, 0, Owner(-3, 3))
}

func TestRangeRejectsBadInput(t *testing.T) {
	_, err := Range(0, 10, 0)
	assert.Error(t, err)
	_, err = Range(10, 9, 2)
	assert.Error(t, err)
}

func TestKeysApplyOrderPrefix(t *testing.T) {
	a, err := Range(7, 10, 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"HM-8"}, a.Keys(0, record.KindOrder, "HM-"))
	assert.Equal(t, []string{"7", "9"}, a.Keys(1, record.KindRequest, "HM-"))
	assert.Nil(t, a.Worker(5))
}
