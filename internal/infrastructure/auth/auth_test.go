package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticVerify(t *testing.T) {
	v, err := NewStatic("s3cret")
	require.NoError(t, err)

	assert.True(t, v.Verify("s3cret"))
	assert.False(t, v.Verify("wrong"))
	assert.False(t, v.Verify(""))
}

func TestAllowAll(t *testing.T) {
	v := AllowAll{}

	assert.True(t, v.Verify("anything"))
	assert.True(t, v.Verify(""))
}

func TestFromToken(t *testing.T) {
	open, err := FromToken("")
	require.NoError(t, err)
	assert.IsType(t, AllowAll{}, open)

	locked, err := FromToken("s3cret")
	require.NoError(t, err)
	assert.IsType(t, &Static{}, locked)
	assert.True(t, locked.Verify("s3cret"))
	assert.False(t, locked.Verify("other"))
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{name: "bearer header", header: "Bearer abc123", want: "abc123"},
		{name: "query parameter", query: "abc123", want: "abc123"},
		{name: "header wins over query", header: "Bearer fromheader", query: "fromquery", want: "fromheader"},
		{name: "malformed header falls back to query", header: "Basic abc123", query: "fromquery", want: "fromquery"},
		{name: "nothing presented", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/ws/terminal"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest("GET", target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			assert.Equal(t, tt.want, TokenFromRequest(req))
		})
	}
}
