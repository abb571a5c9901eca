package server

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPExchange_Request(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/views?fallback-id=abc&color=red&color=blue", nil)
	r.Header.Set("Referer", "https://example.com/")
	r.RemoteAddr = "203.0.113.9:51000"

	ex := newHTTPExchange(httptest.NewRecorder(), r, nil)
	assert.Equal(t, "https://example.com/", ex.Header("Referer"))
	assert.Equal(t, "abc", ex.Query("fallback-id"))
	assert.Equal(t, "red", ex.Query("color"), "first value wins")
	assert.Equal(t, "", ex.Query("missing"))
	assert.Equal(t, "203.0.113.9", ex.ClientAddress())
}

func TestHTTPExchange_ClientAddressBehindProxy(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	r := httptest.NewRequest(http.MethodGet, "/views", nil)
	r.RemoteAddr = "10.1.2.3:443"
	r.Header.Set("X-Forwarded-For", "198.51.100.7, 10.1.2.3")
	assert.Equal(t, "198.51.100.7", newHTTPExchange(nil, r, trusted).ClientAddress())

	untrusted := httptest.NewRequest(http.MethodGet, "/views", nil)
	untrusted.RemoteAddr = "192.0.2.50:1234"
	untrusted.Header.Set("X-Forwarded-For", "198.51.100.7")
	assert.Equal(t, "192.0.2.50", newHTTPExchange(nil, untrusted, trusted).ClientAddress(), "spoofed header ignored")
}

func TestHTTPExchange_Response(t *testing.T) {
	rec := httptest.NewRecorder()
	ex := newHTTPExchange(rec, httptest.NewRequest(http.MethodGet, "/", nil), nil)

	ex.SetHeader("Content-Type", "text/plain")
	ex.SetStatus(http.StatusTeapot)
	require.NoError(t, ex.Write([]byte("short and stout")))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, "short and stout", rec.Body.String())
}

func TestHTTPExchange_DefaultStatusAndHead(t *testing.T) {
	rec := httptest.NewRecorder()
	ex := newHTTPExchange(rec, httptest.NewRequest(http.MethodHead, "/", nil), nil)
	require.NoError(t, ex.Write([]byte("body")))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}
