package catalog

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ErrMissingPagination is returned when a strict query lacks $top or $skip.
var ErrMissingPagination = errors.New("catalog: search query must contain both top and skip parameters")

// Query is a search URL with its pagination parameters pulled out into named fields.
// Every other byte of the URL is kept as supplied, so rendered pages differ from the
// original only in the top/skip values.
type Query struct {
	raw      string
	base     string
	params   []string
	fragment string

	topIdx  int
	skipIdx int

	// Top and Skip are the values found in the supplied URL (0 when absent).
	Top  int
	Skip int
}

// ParseQuery parses a pre-built OData search URL. "$top"/"top" and "$skip"/"skip" keys are
// recognised, including a percent-encoded "$".
func ParseQuery(raw string) (*Query, error) {
	raw = strings.TrimSpace(raw)

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("catalog: invalid search url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("catalog: search url %q is not absolute", raw)
	}

	q := &Query{raw: raw, topIdx: -1, skipIdx: -1}

	rest := raw
	if i := strings.IndexByte(rest, '#'); i >= 0 {
		q.fragment = rest[i:]
		rest = rest[:i]
	}

	i := strings.IndexByte(rest, '?')
	if i < 0 {
		q.base = rest
		return q, nil
	}
	q.base = rest[:i]

	for _, seg := range strings.Split(rest[i+1:], "&") {
		if seg == "" {
			continue
		}
		idx := len(q.params)
		q.params = append(q.params, seg)

		key, value, _ := strings.Cut(seg, "=")
		switch paramName(key) {
		case "top":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("catalog: invalid top value %q: %w", value, err)
			}
			q.topIdx, q.Top = idx, n
		case "skip":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("catalog: invalid skip value %q: %w", value, err)
			}
			q.skipIdx, q.Skip = idx, n
		}
	}

	return q, nil
}

func paramName(key string) string {
	if k, err := url.QueryUnescape(key); err == nil {
		key = k
	}
	return strings.ToLower(strings.TrimPrefix(key, "$"))
}

// HasPagination reports whether both top and skip were present in the supplied URL.
func (q *Query) HasPagination() bool {
	return q.topIdx >= 0 && q.skipIdx >= 0
}

// String returns the URL exactly as supplied (whitespace trimmed).
func (q *Query) String() string {
	return q.raw
}

// Page renders the URL requesting top records starting at skip.
// Missing parameters are appended as $top / $skip.
func (q *Query) Page(top, skip int) string {
	params := make([]string, len(q.params), len(q.params)+2)
	copy(params, q.params)

	params = setParam(params, q.topIdx, "$top", top)
	params = setParam(params, q.skipIdx, "$skip", skip)

	return q.base + "?" + strings.Join(params, "&") + q.fragment
}

func setParam(params []string, idx int, fallbackKey string, value int) []string {
	if idx < 0 {
		return append(params, fallbackKey+"="+strconv.Itoa(value))
	}
	key, _, _ := strings.Cut(params[idx], "=")
	params[idx] = key + "=" + strconv.Itoa(value)
	return params
}

// requote percent-encodes bytes that may not appear literally in a request line,
// such as the spaces in "$filter=Collection/Name eq 'SENTINEL-2'". Existing escapes
// and reserved characters are left alone.
func requote(s string) string {
	const hex = "0123456789ABCDEF"

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isURLSafe(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isURLSafe(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("-._~!#$&'()*+,/:;=?@[]%", c) >= 0
}
