package policy

import (
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Pattern is a parsed allow/deny entry. The source form is either a bare
// tool name ("Bash") or a tool name with an argument glob ("Bash(git
// status*)", "Write(/tmp/**)"). Argument globs are matched with doublestar
// against the strings a tool classifies its own arguments into.
type Pattern struct {
	// Source is the original pattern text, used in refusal feedback.
	Source string
	// Tool matches the tool name; "*" matches any tool.
	Tool string
	// Arg matches classified argument strings; empty matches any arguments.
	Arg string
}

// ParsePattern splits a pattern source into its tool and argument parts.
func ParsePattern(source string) Pattern {
	trimmed := strings.TrimSpace(source)
	open := strings.IndexByte(trimmed, '(')
	if open < 0 || !strings.HasSuffix(trimmed, ")") {
		return Pattern{Source: source, Tool: trimmed}
	}
	return Pattern{
		Source: source,
		Tool:   strings.TrimSpace(trimmed[:open]),
		Arg:    trimmed[open+1 : len(trimmed)-1],
	}
}

// Matches reports whether the pattern applies to a call. classified holds
// the argument strings the tool exposed for matching.
func (p Pattern) Matches(toolName string, classified []string) bool {
	if !globMatch(p.Tool, toolName) {
		return false
	}
	if p.Arg == "" {
		return true
	}
	for _, candidate := range classified {
		if globMatch(p.Arg, candidate) {
			return true
		}
	}
	return false
}

// MatchAny returns the first matching pattern source, in pattern order.
func MatchAny(patterns []string, toolName string, classified []string) (string, bool) {
	for _, source := range patterns {
		if ParsePattern(source).Matches(toolName, classified) {
			return source, true
		}
	}
	return "", false
}

// globMatch matches an argument pattern against a classified string. Patterns
// containing a path separator use doublestar path semantics (`*` stays within
// one component, `**` crosses); anything else is a command-style glob where
// `*` matches any text, separators included. Invalid patterns match nothing.
func globMatch(pattern string, value string) bool {
	if pattern == "*" || pattern == value {
		return true
	}
	if strings.ContainsRune(pattern, '/') {
		matched, err := doublestar.Match(pattern, value)
		if err != nil {
			return false
		}
		return matched
	}
	return commandGlobMatch(pattern, value)
}

// commandGlobMatch compiles a command-style glob: * any text, ? one rune.
func commandGlobMatch(pattern string, value string) bool {
	var translated strings.Builder
	translated.WriteString(`(?s)^`)
	for _, symbol := range pattern {
		switch symbol {
		case '*':
			translated.WriteString(`.*`)
		case '?':
			translated.WriteString(`.`)
		default:
			translated.WriteString(regexp.QuoteMeta(string(symbol)))
		}
	}
	translated.WriteString(`$`)
	compiled, err := regexp.Compile(translated.String())
	if err != nil {
		return false
	}
	return compiled.MatchString(value)
}
