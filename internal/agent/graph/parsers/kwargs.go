package parsers

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*$`)
	intRe   = regexp.MustCompile(`^-?(0|[1-9][0-9]{0,8})$`)
	floatRe = regexp.MustCompile(`^-?(0|[1-9][0-9]*)\.[0-9]+$`)
)

// parseKwargs parses `key='value', key2=3` into a map. ok is false when any
// segment is not a key/value pair.
func parseKwargs(s string) (map[string]any, bool) {
	out := map[string]any{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out, true
	}
	for _, part := range splitTopLevel(s, ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.IndexByte(part, '=')
		if idx <= 0 {
			return nil, false
		}
		key := strings.Trim(strings.TrimSpace(part[:idx]), `"'`)
		if !identRe.MatchString(key) {
			return nil, false
		}
		out[key] = parseValue(part[idx+1:])
	}
	return out, len(out) > 0
}

// parseValue unquotes strings and coerces numeric and literal values.
func parseValue(raw string) any {
	v := strings.TrimSpace(raw)
	if len(v) >= 2 {
		if q := v[0]; (q == '\'' || q == '"') && v[len(v)-1] == q {
			return coerce(v[1 : len(v)-1])
		}
	}
	switch strings.ToLower(v) {
	case "true":
		return true
	case "false":
		return false
	case "none", "null", "nil":
		return nil
	}
	return coerce(v)
}

// coerce converts numeric strings to int or float. Numbers with leading zeros
// and long digit runs (phone numbers, ids) stay strings.
func coerce(s string) any {
	switch {
	case intRe.MatchString(s):
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	case floatRe.MatchString(s):
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}

// splitTopLevel splits s on sep outside of quotes and brackets.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	var quote byte
	last := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			if depth > 0 {
				depth--
			}
		case sep:
			if depth == 0 {
				parts = append(parts, s[last:i])
				last = i + 1
			}
		}
	}
	return append(parts, s[last:])
}
