package api

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaginationFromRequestDefaults(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/contracts", nil)
	pagination := paginationFromRequest(r)
	assert.Equal(t, 10, pagination.Limit)
	assert.Zero(t, pagination.Offset)
}

func TestPaginationFromRequestClampsLimit(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/contracts?limit=500&offset=20", nil)
	pagination := paginationFromRequest(r)
	assert.Equal(t, 100, pagination.Limit)
	assert.Equal(t, 20, pagination.Offset)
}

func TestPaginationFromRequestIgnoresGarbage(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/contracts?limit=abc&offset=-5", nil)
	pagination := paginationFromRequest(r)
	assert.Equal(t, 10, pagination.Limit)
	assert.Zero(t, pagination.Offset)
}

func TestPaginationLinks(t *testing.T) {
	pagination := Pagination{Limit: 10, Offset: 10}

	next := pagination.NextLink("http://example.org/api/v1/contracts", 25)
	require.NotNil(t, next)
	assert.Equal(t, "http://example.org/api/v1/contracts?limit=10&offset=20", *next)

	previous := pagination.PreviousLink("http://example.org/api/v1/contracts")
	require.NotNil(t, previous)
	assert.Equal(t, "http://example.org/api/v1/contracts?limit=10&offset=0", *previous)
}

func TestPaginationLinksAtBoundaries(t *testing.T) {
	first := Pagination{Limit: 10, Offset: 0}
	assert.Nil(t, first.PreviousLink("http://example.org/x"))
	assert.Nil(t, first.NextLink("http://example.org/x", 10))

	// Previous offset never goes negative
	odd := Pagination{Limit: 10, Offset: 5}
	previous := odd.PreviousLink("http://example.org/x")
	require.NotNil(t, previous)
	assert.Equal(t, "http://example.org/x?limit=10&offset=0", *previous)
}

func TestProxyAwareURLWithoutHeaders(t *testing.T) {
	r := httptest.NewRequest("GET", "http://localhost:8000/api/v1/contracts", nil)
	assert.Equal(t, "http://localhost:8000/api/v1/contracts", proxyAwareURL(r))
}

func TestProxyAwareURLWithForwardingHeaders(t *testing.T) {
	r := httptest.NewRequest("GET", "http://localhost:8000/api/v1/contracts", nil)
	r.Header.Set("x-forwarded-prefix", "/decoder/")
	r.Header.Set("x-forwarded-host", "safe.example.org")
	r.Header.Set("x-forwarded-proto", "https")
	r.Header.Set("x-forwarded-port", "443")

	assert.Equal(t, "https://safe.example.org/decoder/api/v1/contracts", proxyAwareURL(r))
}

func TestProxyAwareURLWithCustomPort(t *testing.T) {
	r := httptest.NewRequest("GET", "http://localhost:8000/api/v1/contracts", nil)
	r.Header.Set("x-forwarded-prefix", "/decoder")
	r.Header.Set("x-forwarded-host", "safe.example.org")
	r.Header.Set("x-forwarded-proto", "https")
	r.Header.Set("x-forwarded-port", "8443")

	assert.Equal(t, "https://safe.example.org:8443/decoder/api/v1/contracts", proxyAwareURL(r))
}

func TestProxyAwareURLIgnoresHeadersWithoutPrefix(t *testing.T) {
	r := httptest.NewRequest("GET", "http://localhost:8000/api/v1/contracts", nil)
	r.Header.Set("x-forwarded-host", "safe.example.org")

	assert.Equal(t, "http://localhost:8000/api/v1/contracts", proxyAwareURL(r))
}
