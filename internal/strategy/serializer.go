package strategy

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Serialize renders a strategy as one log line:
//
//	CreateBacklog("b1", "Monday") @ 2024-01-15T09:00:00Z by alice@example.com # 3
//
// Parameters are double-quoted with backslash escaping, the timestamp
// is RFC 3339 in UTC, and the sequence number comes last.
func Serialize(s Strategy) string {
	var sb strings.Builder
	sb.WriteString(s.Name())
	sb.WriteByte('(')
	for i, p := range s.Params() {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('"')
		sb.WriteString(escapeParam(p))
		sb.WriteByte('"')
	}
	sb.WriteString(") @ ")
	sb.WriteString(s.When().UTC().Format(time.RFC3339Nano))
	sb.WriteString(" by ")
	sb.WriteString(s.User())
	sb.WriteString(" # ")
	sb.WriteString(strconv.FormatInt(s.Seq(), 10))
	return sb.String()
}

func escapeParam(p string) string {
	p = strings.ReplaceAll(p, `\`, `\\`)
	return strings.ReplaceAll(p, `"`, `\"`)
}

// ErrSkipLine is returned by Parse for blank lines and '#' comments.
// Callers skip those; they never survive a rewrite.
var errSkipLine = fmt.Errorf("skippable line")

// IsSkippable reports whether Parse rejected the line as a blank or a
// comment rather than as malformed.
func IsSkippable(err error) bool { return err == errSkipLine }

// Parse reverses Serialize. Blank lines and lines starting with '#'
// yield an error for which IsSkippable returns true.
func Parse(line string, reg *Registry) (Strategy, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return nil, errSkipLine
	}

	open := strings.IndexByte(trimmed, '(')
	if open <= 0 {
		return nil, fmt.Errorf("bad syntax: %q", line)
	}
	name := trimmed[:open]

	params, rest, err := parseParams(trimmed[open+1:])
	if err != nil {
		return nil, fmt.Errorf("bad syntax in %q: %w", line, err)
	}

	rest, ok := strings.CutPrefix(rest, " @ ")
	if !ok {
		return nil, fmt.Errorf("bad syntax: %q", line)
	}
	ts, rest, ok := strings.Cut(rest, " by ")
	if !ok {
		return nil, fmt.Errorf("bad syntax: %q", line)
	}
	when, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("bad timestamp in %q: %w", line, err)
	}
	user, seqStr, ok := strings.Cut(rest, " # ")
	if !ok {
		return nil, fmt.Errorf("bad syntax: %q", line)
	}
	seq, err := strconv.ParseInt(strings.TrimSpace(seqStr), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad sequence in %q: %w", line, err)
	}

	return reg.Create(name, seq, when, strings.TrimSpace(user), params)
}

// parseParams consumes a quoted, comma-separated parameter list up to
// and including the closing parenthesis, returning the remainder.
func parseParams(s string) ([]string, string, error) {
	var params []string
	i := 0
	for {
		for i < len(s) && s[i] == ' ' {
			i++
		}
		if i >= len(s) {
			return nil, "", fmt.Errorf("unterminated parameter list")
		}
		if s[i] == ')' {
			return params, s[i+1:], nil
		}
		if s[i] != '"' {
			return nil, "", fmt.Errorf("expected quoted parameter at %q", s[i:])
		}
		i++
		var sb strings.Builder
		for {
			if i >= len(s) {
				return nil, "", fmt.Errorf("unterminated string")
			}
			switch s[i] {
			case '\\':
				if i+1 >= len(s) {
					return nil, "", fmt.Errorf("dangling escape")
				}
				sb.WriteByte(s[i+1])
				i += 2
			case '"':
				i++
				goto closed
			default:
				sb.WriteByte(s[i])
				i++
			}
		}
	closed:
		params = append(params, sb.String())
		for i < len(s) && s[i] == ' ' {
			i++
		}
		if i < len(s) && s[i] == ',' {
			i++
		}
	}
}
