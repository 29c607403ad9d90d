package scope

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManagerDerivesRootDomain(t *testing.T) {
	testCases := []struct {
		name       string
		initialURL string
		wantRoot   string
		wantErr    bool
	}{
		{"simple domain", "https://example.com/start", "example.com", false},
		{"subdomain collapses to eTLD+1", "https://app.example.com", "example.com", false},
		{"multi-part public suffix", "https://shop.example.co.uk/cart", "example.co.uk", false},
		{"missing hostname", "not-a-url", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := NewManager(tc.initialURL, true)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantRoot, m.RootDomain())
		})
	}
}

func TestIsInScope(t *testing.T) {
	withSubs, err := NewManager("https://example.com", true)
	require.NoError(t, err)
	noSubs, err := NewManager("https://example.com", false)
	require.NoError(t, err)

	parse := func(s string) *url.URL {
		u, err := url.Parse(s)
		require.NoError(t, err)
		return u
	}

	assert.True(t, withSubs.IsInScope(parse("https://example.com/page")))
	assert.True(t, withSubs.IsInScope(parse("https://app.example.com/dash")))
	assert.False(t, withSubs.IsInScope(parse("https://notexample.com")))
	assert.False(t, withSubs.IsInScope(parse("https://example.com.evil.net")))

	assert.True(t, noSubs.IsInScope(parse("https://example.com/page")))
	assert.False(t, noSubs.IsInScope(parse("https://app.example.com")))
}

func TestNormalize(t *testing.T) {
	m, err := NewManager("https://example.com", true)
	require.NoError(t, err)

	testCases := []struct {
		name    string
		rawURL  string
		baseURL string
		want    string
		wantErr string
	}{
		{
			name:    "relative resolved against base",
			rawURL:  "/about",
			baseURL: "https://example.com/home",
			want:    "https://example.com/about",
		},
		{
			name:   "fragment stripped",
			rawURL: "https://example.com/docs#section-2",
			want:   "https://example.com/docs",
		},
		{
			name:   "default port removed",
			rawURL: "https://example.com:443/a",
			want:   "https://example.com/a",
		},
		{
			name:   "empty path becomes slash",
			rawURL: "https://example.com",
			want:   "https://example.com/",
		},
		{
			name:   "query parameters sorted",
			rawURL: "https://example.com/search?z=1&a=2",
			want:   "https://example.com/search?a=2&z=1",
		},
		{
			name:    "out of scope rejected",
			rawURL:  "https://other.net/page",
			wantErr: "out of scope",
		},
		{
			name:    "javascript scheme rejected",
			rawURL:  "javascript:void(0)",
			wantErr: "unsupported scheme",
		},
		{
			name:    "static asset rejected",
			rawURL:  "https://example.com/logo.png",
			wantErr: "static asset",
		},
		{
			name:    "relative without base rejected",
			rawURL:  "/orphan",
			wantErr: "relative URL without base",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			u, err := m.Normalize(tc.rawURL, tc.baseURL)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, u.String())
		})
	}
}
