package extract

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCount(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"1.2K", 1200, true},
		{"5M", 5_000_000, true},
		{"3B", 3_000_000_000, true},
		{"1.5m", 1_500_000, true},
		{" 42 ", 42, true},
		{"1,024", 1024, true},
		{"1,5K", 1500, true},
		{"0", 0, true},
		{"", 0, false},
		{"invalid", 0, false},
		{"12 likes", 0, false},
		{"K", 0, false},
		{"-5", 0, false},
		{"9223372036854775807", math.MaxInt64, true},
		{"9223372036854775808", 0, false},
		{"9300000000B", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseCount(tc.in)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestFirstCountSkipsWordsStartingWithSuffixLetters(t *testing.T) {
	t.Parallel()

	v, ok := FirstCount("12 Bookmarks")
	assert.True(t, ok)
	assert.EqualValues(t, 12, v)

	v, ok = FirstCount("Liked by 3.4K people")
	assert.True(t, ok)
	assert.EqualValues(t, 3400, v)

	_, ok = FirstCount("Like")
	assert.False(t, ok)
}

func TestAggregate(t *testing.T) {
	t.Parallel()

	v, ok := Aggregate(PolicyMin, []int64{120, 118, 120})
	assert.True(t, ok)
	assert.EqualValues(t, 118, v)

	v, ok = Aggregate(PolicyMax, []int64{900, 950})
	assert.True(t, ok)
	assert.EqualValues(t, 950, v)

	v, ok = Aggregate(PolicyMin, []int64{0, 40, 0, 55})
	assert.True(t, ok)
	assert.EqualValues(t, 40, v, "zero placeholders do not win the minimum")

	v, ok = Aggregate(PolicyMin, []int64{0})
	assert.True(t, ok)
	assert.Zero(t, v)

	_, ok = Aggregate(PolicyMax, nil)
	assert.False(t, ok)
	_, ok = Aggregate(PolicyMax, []int64{-1})
	assert.False(t, ok)
}

func TestCountPoliciesOnlyLikesTakeMinimum(t *testing.T) {
	t.Parallel()

	want := map[countField]Policy{
		likeField:    PolicyMin,
		commentField: PolicyMax,
		shareField:   PolicyMax,
		viewField:    PolicyMax,
		archiveField: PolicyMax,
	}
	require.Len(t, countSpecs, int(numCountFields))
	for _, spec := range countSpecs {
		assert.Equal(t, want[spec.field], spec.policy, spec.field.String())
	}
}
