package hooks

import (
	"regexp"
	"strings"
	"sync"
)

// matcher is a compiled hook matcher. Matchers compare against the literal
// tool name only.
type matcher struct {
	// all matches every tool ("*" or empty source).
	all bool
	// exact holds literal tokens from simple or pipe-separated matchers.
	exact map[string]bool
	// regex is used when the source contains special characters.
	regex *regexp.Regexp
	// invalid marks a regex matcher that failed to compile; it matches nothing.
	invalid bool
}

// simpleMatcherPattern recognizes literal matchers with optional pipes.
var simpleMatcherPattern = regexp.MustCompile(`^[a-zA-Z0-9_|]+$`)

// matcherCache memoizes compiled matchers per distinct source string.
var matcherCache sync.Map

// compileMatcher compiles a matcher source, caching by the source string.
func compileMatcher(source string) *matcher {
	if cached, ok := matcherCache.Load(source); ok {
		return cached.(*matcher)
	}
	compiled := buildMatcher(source)
	actual, _ := matcherCache.LoadOrStore(source, compiled)
	return actual.(*matcher)
}

// buildMatcher constructs a matcher without consulting the cache.
func buildMatcher(source string) *matcher {
	if source == "" || source == "*" {
		return &matcher{all: true}
	}
	if simpleMatcherPattern.MatchString(source) {
		exact := map[string]bool{}
		for _, token := range strings.Split(source, "|") {
			token = strings.TrimSpace(token)
			if token != "" {
				exact[token] = true
			}
		}
		return &matcher{exact: exact}
	}
	regex, err := regexp.Compile(source)
	if err != nil {
		return &matcher{invalid: true}
	}
	return &matcher{regex: regex}
}

// Matches reports whether the matcher applies to a tool name.
func (m *matcher) Matches(toolName string) bool {
	switch {
	case m.invalid:
		return false
	case m.all:
		return true
	case m.exact != nil:
		return m.exact[toolName]
	default:
		return m.regex.MatchString(toolName)
	}
}
