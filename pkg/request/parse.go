package request

import (
	"errors"
	"fmt"
	"strings"
)

// ErrParse indicates a malformed invocation string or descriptor.
// Parse errors are surfaced immediately and never retried.
var ErrParse = errors.New("invalid request")

// Parse turns a curl-style invocation string into a Descriptor.
//
// Supported forms:
//
//	curl https://api.example.com/items?page=1
//	curl -X POST -H 'Authorization: Bearer x' -d '{"a":1}' https://api.example.com/items
//
// The leading "curl" word is optional. Recognized flags: -X/--request,
// -H/--header, -d/--data/--data-raw, --url. The first non-flag argument is
// taken as the URL; its query string is split out into Query.
func Parse(invocation string) (*Descriptor, error) {
	tokens, err := tokenize(invocation)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty invocation", ErrParse)
	}
	if strings.EqualFold(tokens[0], "curl") {
		tokens = tokens[1:]
	}

	d := &Descriptor{
		Method:  "GET",
		Headers: make(map[string]string),
	}
	methodSet := false

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch tok {
		case "-X", "--request":
			val, err := flagValue(tokens, &i, tok)
			if err != nil {
				return nil, err
			}
			d.Method = strings.ToUpper(val)
			methodSet = true
		case "-H", "--header":
			val, err := flagValue(tokens, &i, tok)
			if err != nil {
				return nil, err
			}
			name, value, ok := strings.Cut(val, ":")
			if !ok {
				return nil, fmt.Errorf("%w: header %q missing ':'", ErrParse, val)
			}
			d.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
		case "-d", "--data", "--data-raw":
			val, err := flagValue(tokens, &i, tok)
			if err != nil {
				return nil, err
			}
			d.Body = val
		case "--url":
			val, err := flagValue(tokens, &i, tok)
			if err != nil {
				return nil, err
			}
			d.URL = val
		default:
			if strings.HasPrefix(tok, "-") {
				return nil, fmt.Errorf("%w: unsupported flag %q", ErrParse, tok)
			}
			if d.URL != "" {
				return nil, fmt.Errorf("%w: multiple URLs (%q and %q)", ErrParse, d.URL, tok)
			}
			d.URL = tok
		}
	}

	// curl switches to POST when a body is given without an explicit method.
	if d.Body != "" && !methodSet {
		d.Method = "POST"
	}

	base, query := splitQuery(d.URL)
	d.URL = base
	d.Query = query

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// flagValue returns the argument following a flag, advancing the index.
func flagValue(tokens []string, i *int, flag string) (string, error) {
	if *i+1 >= len(tokens) {
		return "", fmt.Errorf("%w: flag %s missing value", ErrParse, flag)
	}
	*i++
	return tokens[*i], nil
}

// tokenize splits an invocation string on whitespace, honoring single and
// double quotes.
func tokenize(s string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	inToken := false
	var quote rune

	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == ' ' || r == '\t' || r == '\n':
			if inToken {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("%w: unterminated quote", ErrParse)
	}
	if inToken {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}
