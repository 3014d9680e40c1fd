// Package request defines the normalized HTTP request descriptor that the
// pagination engine operates on, plus the curl-style invocation parser and
// the placeholder substitution used by enrichment fetches.
package request

import (
	"fmt"
	"net/url"
	"strings"
)

// Descriptor is a normalized HTTP request. URL carries origin and path only;
// query parameters live in Query. Descriptors are never mutated in place:
// every page transition derives a fresh copy so that one page's overrides
// cannot leak into the next.
type Descriptor struct {
	Method  string
	URL     string
	Headers map[string]string
	Query   map[string]string
	Body    string
}

// Clone returns a deep copy of the descriptor.
func (d *Descriptor) Clone() *Descriptor {
	c := &Descriptor{
		Method: d.Method,
		URL:    d.URL,
		Body:   d.Body,
	}
	if d.Headers != nil {
		c.Headers = make(map[string]string, len(d.Headers))
		for k, v := range d.Headers {
			c.Headers[k] = v
		}
	}
	if d.Query != nil {
		c.Query = make(map[string]string, len(d.Query))
		for k, v := range d.Query {
			c.Query[k] = v
		}
	}
	return c
}

// WithQuery returns a copy of the descriptor with the given query parameter set.
func (d *Descriptor) WithQuery(key, value string) *Descriptor {
	c := d.Clone()
	if c.Query == nil {
		c.Query = make(map[string]string, 1)
	}
	c.Query[key] = value
	return c
}

// WithURL returns a copy of the descriptor pointing at a complete replacement
// URL. Existing query parameters are dropped; any query string embedded in the
// new URL is split back out into Query.
func (d *Descriptor) WithURL(fullURL string) *Descriptor {
	c := d.Clone()
	c.Query = nil
	base, query := splitQuery(fullURL)
	c.URL = base
	c.Query = query
	return c
}

// FullURL assembles the request URL including encoded query parameters.
func (d *Descriptor) FullURL() string {
	if len(d.Query) == 0 {
		return d.URL
	}
	values := url.Values{}
	for k, v := range d.Query {
		values.Set(k, v)
	}
	return d.URL + "?" + values.Encode()
}

// Validate checks that the descriptor is usable for a fetch.
func (d *Descriptor) Validate() error {
	if d.URL == "" {
		return fmt.Errorf("%w: missing URL", ErrParse)
	}
	if !strings.HasPrefix(d.URL, "http://") && !strings.HasPrefix(d.URL, "https://") {
		return fmt.Errorf("%w: URL %q must be absolute", ErrParse, d.URL)
	}
	return nil
}

// SubstituteKey returns a copy of the descriptor with every occurrence of the
// placeholder token replaced verbatim by key in the URL, all query parameter
// values, and a string body. Used by enrichment to build per-key requests.
func SubstituteKey(d *Descriptor, placeholder, key string) *Descriptor {
	c := d.Clone()
	c.URL = strings.ReplaceAll(c.URL, placeholder, key)
	for k, v := range c.Query {
		c.Query[k] = strings.ReplaceAll(v, placeholder, key)
	}
	c.Body = strings.ReplaceAll(c.Body, placeholder, key)
	return c
}

// splitQuery separates a URL into its origin+path and query parameters.
func splitQuery(raw string) (string, map[string]string) {
	idx := strings.Index(raw, "?")
	if idx < 0 {
		return raw, nil
	}
	base := raw[:idx]
	values, err := url.ParseQuery(raw[idx+1:])
	if err != nil {
		return raw, nil
	}
	query := make(map[string]string, len(values))
	for k := range values {
		query[k] = values.Get(k)
	}
	return base, query
}
