// Package echo reflects inbound HTTP requests back to the caller as JSON.
// It also carries the health handlers served next to it and a small client
// for driving a running instance from tests.
package echo

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// Document describes one inbound request. It is built fresh per request and
// written back as the response body.
type Document struct {
	Method  string             `json:"method"`
	Headers map[string]string  `json:"headers"`
	URL     URL                `json:"url"`
	Body    string             `json:"body"`
	Vars    map[string]string  `json:"vars,omitempty"`
	KV      map[string]*string `json:"KV,omitempty"`
	Testing *bool              `json:"TESTING,omitempty"`
}

// URL holds the components of the request target
type URL struct {
	Hostname string            `json:"hostname"`
	Pathname string            `json:"pathname"`
	Hash     *string           `json:"hash,omitempty"`
	Params   map[string]string `json:"params"`
}

// FlattenHeaders collapses a header collection into one value per name.
// Names are lower-cased and the last value of a repeated header wins.
func FlattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) == 0 {
			continue
		}
		out[strings.ToLower(name)] = values[len(values)-1]
	}
	return out
}

// FlattenValues collapses query parameters into one value per key, keeping the last
func FlattenValues(v url.Values) map[string]string {
	out := make(map[string]string, len(v))
	for key, values := range v {
		if len(values) == 0 {
			continue
		}
		out[key] = values[len(values)-1]
	}
	return out
}

// CleanPath strips exactly one leading slash and then every trailing slash
func CleanPath(pathname string) string {
	return strings.TrimRight(strings.TrimPrefix(pathname, "/"), "/")
}

// NewURL extracts the URL components of r. Servers only see a fragment when
// the client sent an absolute-form target, so hash is usually empty.
func NewURL(r *http.Request, includeHash bool) URL {
	u := URL{
		Hostname: hostname(r),
		Pathname: r.URL.EscapedPath(),
		Params:   FlattenValues(r.URL.Query()),
	}
	if u.Pathname == "" {
		u.Pathname = "/"
	}

	if includeHash {
		hash := ""
		if r.URL.Fragment != "" {
			hash = "#" + r.URL.EscapedFragment()
		}
		u.Hash = &hash
	}

	return u
}

func hostname(r *http.Request) string {
	host := r.URL.Host
	if host == "" {
		host = r.Host
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(strings.Trim(host, "[]"))
}

// parseTarget re-checks the raw request target. net/http has already parsed
// it once, but handlers built by hand in tests can carry a nil URL.
func parseTarget(r *http.Request) error {
	if r.URL == nil {
		return errInvalidTarget("request has no URL")
	}
	if r.RequestURI == "" {
		return nil
	}
	if _, err := url.ParseRequestURI(r.RequestURI); err != nil {
		return errInvalidTarget(err.Error())
	}
	return nil
}
