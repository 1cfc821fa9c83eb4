package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashtagsNormalizeCaseAndMarker(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"fun"}, Hashtags("Great day #Fun #fun #FUN!"))
}

func TestHashtagsSortedAndIdempotent(t *testing.T) {
	t.Parallel()

	text := "#zeta and #Alpha, then #beta_2 #alpha"
	first := Hashtags(text)
	assert.Equal(t, []string{"alpha", "beta_2", "zeta"}, first)

	joined := ""
	for _, tag := range first {
		joined += "#" + tag + " "
	}
	assert.Equal(t, first, Hashtags(joined))
}

func TestHashtagsUnicodeAndEmpty(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"café", "東京"}, Hashtags("#Café at #東京"))
	assert.Empty(t, Hashtags(""))
	assert.Empty(t, Hashtags("no tags # here"))
	assert.NotNil(t, Hashtags(""))
}
