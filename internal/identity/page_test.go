package identity

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hex40 = regexp.MustCompile(`^[0-9a-f]{40}$`)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://example.com/", "https://example.com/"},
		{"https://example.com", "https://example.com/"},
		{"https://example.com/blog/post?utm_source=x", "https://example.com/blog/post"},
		{"https://example.com/blog/post#comments", "https://example.com/blog/post"},
		{"HTTPS://Example.COM/Path", "https://example.com/Path"},
		{"https://example.com:443/a", "https://example.com/a"},
		{"http://example.com:80/a", "http://example.com/a"},
		{"http://example.com:8080/a", "http://example.com:8080/a"},
		{"https://user:pw@example.com/a", "https://example.com/a"},
		{"http://[::1]:3000/x", "http://[::1]:3000/x"},
		{"not a url", "not a url"},
		{"/relative/path", "/relative/path"},
		{"%zz", "%zz"},
		{"https://example.com/a/../b", "https://example.com/b"},
		{"https://example.com/a/./b/", "https://example.com/a/b/"},
		{"https://example.com/a/b/..", "https://example.com/a/"},
		{"https://example.com/../..", "https://example.com/"},
		{"fallback:my-repo", "nullmy-repo"},
		{"custom:/x/y?q=1", "null/x/y"},
		{"mailto:someone@example.com", "nullsomeone@example.com"},
		{"fallback:bad\x01", "nullbad\x01"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Canonicalize(tt.in))
		})
	}
}

func TestDerivePage_StableAndQueryInsensitive(t *testing.T) {
	u := "https://example.com/docs/intro"

	a := DerivePage(u)
	b := DerivePage(u)
	c := DerivePage(u + "?x=1")

	assert.Equal(t, a, b)
	assert.Equal(t, a.Key, c.Key)
	assert.Equal(t, u, c.URL)
	assert.Regexp(t, hex40, a.Key)
}

func TestDerivePage_DifferentPagesDiffer(t *testing.T) {
	assert.NotEqual(t,
		DerivePage("https://example.com/a").Key,
		DerivePage("https://example.com/b").Key)
}

func TestDerivePage_MalformedFallsBackToOpaque(t *testing.T) {
	p := DerivePage("::not-a-url::")
	assert.Equal(t, "::not-a-url::", p.URL)
	assert.Regexp(t, hex40, p.Key)
}

func TestPageKey_KnownVector(t *testing.T) {
	// sha256("https://example.com/") truncated to 40 hex chars.
	assert.Equal(t, "0f115db062b7c0dd030b16878c99dea5c354b49d", PageKey("https://example.com/"))
}

func TestResolvePage(t *testing.T) {
	t.Run("referrer wins", func(t *testing.T) {
		p, err := ResolvePage("https://example.com/?ref=1", "repo")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/", p.URL)
	})

	t.Run("fallback id", func(t *testing.T) {
		p, err := ResolvePage("", "my-repo")
		require.NoError(t, err)
		assert.Equal(t, "fallback:my-repo", p.URL)
		assert.Equal(t, PageKey("fallback:my-repo"), p.Key)
	})

	t.Run("fallback cannot collide with url", func(t *testing.T) {
		fb, err := ResolvePage("", "https://example.com/")
		require.NoError(t, err)
		ref, err := ResolvePage("https://example.com/", "")
		require.NoError(t, err)
		assert.NotEqual(t, fb.Key, ref.Key)
	})

	t.Run("fallback-shaped referrer stays out of fallback namespace", func(t *testing.T) {
		ref, err := ResolvePage("fallback:foo", "")
		require.NoError(t, err)
		fb, err := ResolvePage("", "foo")
		require.NoError(t, err)
		assert.Equal(t, "nullfoo", ref.URL)
		assert.Equal(t, "fallback:foo", fb.URL)
		assert.NotEqual(t, fb.Key, ref.Key)
	})

	t.Run("dot segments share a key", func(t *testing.T) {
		a, err := ResolvePage("https://example.com/a/../b", "")
		require.NoError(t, err)
		b, err := ResolvePage("https://example.com/b", "")
		require.NoError(t, err)
		assert.Equal(t, b.Key, a.Key)
	})

	t.Run("missing both", func(t *testing.T) {
		_, err := ResolvePage("  ", "")
		assert.ErrorIs(t, err, ErrMissingPageIdentity)
	})
}
