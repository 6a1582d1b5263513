package core

import (
	"fmt"
	"log"
	"regexp"
	"strings"
)

// InvalidPattern is a configured pattern that failed to compile.
type InvalidPattern struct {
	Pattern string `json:"pattern"`
	Error   string `json:"error"`
}

// GroupFilter decides which LMS groups get a chat channel.
// A group matches when its name matches any configured pattern.
type GroupFilter struct {
	patterns []*regexp.Regexp
	sources  []string
	invalid  []InvalidPattern
}

// NewGroupFilter compiles a newline-separated list of patterns. Blank lines are
// ignored. Patterns that do not compile are kept aside and never match.
func NewGroupFilter(text string) *GroupFilter {
	f := &GroupFilter{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" {
			continue
		}
		re, err := compileGroupPattern(line)
		if err != nil {
			log.Printf("ignoring group pattern %q: %v", line, err)
			f.invalid = append(f.invalid, InvalidPattern{Pattern: line, Error: err.Error()})
			continue
		}
		f.patterns = append(f.patterns, re)
		f.sources = append(f.sources, line)
	}
	return f
}

// Match reports whether name matches at least one pattern.
func (f *GroupFilter) Match(name string) bool {
	for _, re := range f.patterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// Patterns returns the patterns that compiled, as configured.
func (f *GroupFilter) Patterns() []string {
	return append([]string(nil), f.sources...)
}

// Invalid returns the patterns that were skipped.
func (f *GroupFilter) Invalid() []InvalidPattern {
	return append([]InvalidPattern(nil), f.invalid...)
}

// delimiters accepted for PCRE-style patterns such as /^Team/i.
const patternDelimiters = "/#~%@!|+"

// bracket delimiters close with their counterpart, e.g. {^Team}i.
var bracketDelimiters = map[byte]byte{'(': ')', '{': '}', '[': ']', '<': '>'}

// compileGroupPattern accepts either a Go regexp or a delimited pattern with
// trailing flags. Supported flags: i, m, s, U (u is accepted and ignored).
// A line opening with a bracket is always read as delimited.
func compileGroupPattern(p string) (*regexp.Regexp, error) {
	body, flags, delimited := splitDelimited(p)
	if !delimited {
		if closer, bracket := bracketDelimiters[p[0]]; bracket {
			if end := closingBracket(p, p[0], closer); end > 0 {
				return nil, fmt.Errorf("unknown modifier %q", p[end+1:])
			}
			return nil, fmt.Errorf("no matching ending delimiter %q", closer)
		}
		return regexp.Compile(p)
	}
	var inline strings.Builder
	for _, fl := range flags {
		switch fl {
		case 'i', 'm', 's', 'U':
			if !strings.ContainsRune(inline.String(), fl) {
				inline.WriteRune(fl)
			}
		case 'u':
		default:
			return nil, fmt.Errorf("unsupported pattern flag %q", fl)
		}
	}
	if inline.Len() > 0 {
		body = "(?" + inline.String() + ")" + body
	}
	return regexp.Compile(body)
}

func splitDelimited(p string) (body, flags string, ok bool) {
	if len(p) < 2 {
		return "", "", false
	}
	var end int
	if closer, bracket := bracketDelimiters[p[0]]; bracket {
		end = closingBracket(p, p[0], closer)
	} else if strings.IndexByte(patternDelimiters, p[0]) >= 0 {
		end = strings.LastIndexByte(p, p[0])
	} else {
		return "", "", false
	}
	if end <= 0 {
		return "", "", false
	}
	flags = p[end+1:]
	for _, r := range flags {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return "", "", false
		}
	}
	return p[1:end], flags, true
}

// closingBracket returns the index of the bracket closing p[0], honouring
// nesting and backslash escapes, or -1.
func closingBracket(p string, open, closer byte) int {
	depth := 0
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case '\\':
			i++
		case open:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
