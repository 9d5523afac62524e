package paper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "forces https",
			in:   "http://arxiv.org/abs/2301.07041",
			want: "https://arxiv.org/abs/2301.07041",
		},
		{
			name: "lowercases host",
			in:   "https://ArXiv.ORG/abs/2301.07041",
			want: "https://arxiv.org/abs/2301.07041",
		},
		{
			name: "strips trailing slash",
			in:   "https://example.org/papers/",
			want: "https://example.org/papers",
		},
		{
			name: "strips tracking parameters",
			in:   "https://example.org/p?utm_source=x&utm_medium=y&utm_campaign=z&ref=tw&source=rss&fbclid=a&gclid=b",
			want: "https://example.org/p",
		},
		{
			name: "keeps meaningful parameters",
			in:   "https://example.org/p?id=42&utm_source=x",
			want: "https://example.org/p?id=42",
		},
		{
			name: "drops fragment",
			in:   "https://example.org/p#section-2",
			want: "https://example.org/p",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeURLRejectsGarbage(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "not a url", "://missing-scheme"} {
		_, err := NormalizeURL(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestNormalizeURLVariantsConverge(t *testing.T) {
	t.Parallel()

	variants := []string{
		"http://Example.org/paper/",
		"https://example.org/paper?utm_source=feed",
		"https://example.org/paper#abstract",
	}
	first, err := NormalizeURL(variants[0])
	require.NoError(t, err)
	for _, v := range variants[1:] {
		got, err := NormalizeURL(v)
		require.NoError(t, err)
		assert.Equal(t, first, got)
	}
}
