package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// Pagination holds the offset/limit window of one request
type Pagination struct {
	Limit  int
	Offset int
}

// paginationFromRequest parses limit and offset query parameters,
// clamping the limit to the maximum page size.
func paginationFromRequest(r *http.Request) Pagination {
	pagination := Pagination{Limit: defaultPageSize}

	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		if limit, err := strconv.Atoi(rawLimit); err == nil && limit > 0 {
			if limit < maxPageSize {
				pagination.Limit = limit
			} else {
				pagination.Limit = maxPageSize
			}
		}
	}
	if rawOffset := r.URL.Query().Get("offset"); rawOffset != "" {
		if offset, err := strconv.Atoi(rawOffset); err == nil && offset > 0 {
			pagination.Offset = offset
		}
	}
	return pagination
}

// NextLink returns the link to the following page, nil on the last one
func (p Pagination) NextLink(baseURL string, count int) *string {
	if p.Offset+p.Limit < count {
		link := fmt.Sprintf("%s?limit=%d&offset=%d", baseURL, p.Limit, p.Offset+p.Limit)
		return &link
	}
	return nil
}

// PreviousLink returns the link to the preceding page, nil on the first
func (p Pagination) PreviousLink(baseURL string) *string {
	if p.Offset > 0 {
		previousOffset := p.Offset - p.Limit
		if previousOffset < 0 {
			previousOffset = 0
		}
		link := fmt.Sprintf("%s?limit=%d&offset=%d", baseURL, p.Limit, previousOffset)
		return &link
	}
	return nil
}

// proxyAwareURL reconstructs the outward URL of the request. Behind a
// proxy the x-forwarded-* headers carry the original scheme, host, port
// and path prefix.
func proxyAwareURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host
	path := r.URL.Path

	prefix := strings.TrimSuffix(r.Header.Get("x-forwarded-prefix"), "/")
	if prefix != "" {
		if forwardedHost := r.Header.Get("x-forwarded-host"); forwardedHost != "" {
			host = forwardedHost
		}
		if forwardedProto := r.Header.Get("x-forwarded-proto"); forwardedProto != "" {
			scheme = forwardedProto
		}
		if forwardedPort := r.Header.Get("x-forwarded-port"); forwardedPort != "" {
			if hostname, _, ok := strings.Cut(host, ":"); ok {
				host = hostname
			}
			if !isDefaultPort(scheme, forwardedPort) {
				host = host + ":" + forwardedPort
			}
		}
		path = prefix + path
	}

	return fmt.Sprintf("%s://%s%s", scheme, host, path)
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}
