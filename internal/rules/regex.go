// internal/rules/regex.go
package rules

import (
	"regexp"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/solatis/abusefilter/internal/types"
)

/*
 * Pattern matching for the regex and glob operators.
 *
 * Patterns are compiled with RE2 (linear time in the subject length), so
 * there is no catastrophic backtracking. Large subjects can still take
 * long, so every match is additionally time-bounded: subjects above
 * inlineMatchLimit bytes are matched on a separate goroutine and abandoned
 * when the timeout fires. An abandoned match runs to completion in the
 * background and its result is discarded.
 *
 * Background matches hold one of maxBackgroundMatches slots per evaluator
 * until they finish, abandoned or not. With every slot taken a new large
 * match waits for one within its own timeout and otherwise fails as a
 * regex budget overrun, so at most maxBackgroundMatches goroutines are
 * ever stuck on runaway subjects.
 *
 * Compiled patterns, including compile failures, are cached in a shared
 * LRU keyed by flavour and source.
 */

// inlineMatchLimit is the subject size below which matching runs inline.
const inlineMatchLimit = 4096

// maxBackgroundMatches caps concurrent off-goroutine matches per evaluator.
const maxBackgroundMatches = 64

// DefaultRegexTimeout bounds a single match when none is configured.
const DefaultRegexTimeout = 250 * time.Millisecond

type compiledPattern struct {
	re  *regexp.Regexp
	err error
}

// PatternCache caches compiled regular expressions.
type PatternCache struct {
	lru *lru.Cache[string, compiledPattern]
}

// NewPatternCache creates a cache holding up to size patterns.
func NewPatternCache(size int) *PatternCache {
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New[string, compiledPattern](size)
	if err != nil {
		// lru.New only fails on a non-positive size.
		panic(err)
	}
	return &PatternCache{lru: c}
}

// Regex compiles pattern as RE2 syntax with '.' matching newlines.
func (c *PatternCache) Regex(pattern string, caseInsensitive bool) (*regexp.Regexp, error) {
	key := "r:" + pattern
	if caseInsensitive {
		key = "i:" + pattern
	}
	if hit, ok := c.lru.Get(key); ok {
		return hit.re, hit.err
	}
	src := pattern
	if caseInsensitive {
		src = "(?i)" + src
	}
	re, err := regexp.Compile("(?s)" + src)
	c.lru.Add(key, compiledPattern{re: re, err: err})
	return re, err
}

// Glob compiles a shell-style wildcard pattern: '*' any run, '?' one
// character, '[...]' a class. The whole subject must match.
func (c *PatternCache) Glob(pattern string) (*regexp.Regexp, error) {
	key := "g:" + pattern
	if hit, ok := c.lru.Get(key); ok {
		return hit.re, hit.err
	}
	re, err := regexp.Compile(globToRegex(pattern))
	c.lru.Add(key, compiledPattern{re: re, err: err})
	return re, err
}

func globToRegex(glob string) string {
	var sb strings.Builder
	sb.WriteString("(?s)^")
	runes := []rune(glob)
	for i := 0; i < len(runes); i++ {
		switch r := runes[i]; r {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		case '[':
			end := i + 1
			if end < len(runes) && runes[end] == '!' {
				end++
			}
			if end < len(runes) && runes[end] == ']' {
				end++
			}
			for end < len(runes) && runes[end] != ']' {
				end++
			}
			if end >= len(runes) {
				sb.WriteString(`\[`)
				continue
			}
			class := string(runes[i+1 : end])
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			sb.WriteString("[" + strings.ReplaceAll(class, `\`, `\\`) + "]")
			i = end
		case '\\':
			if i+1 < len(runes) {
				i++
				sb.WriteString(regexp.QuoteMeta(string(runes[i])))
			} else {
				sb.WriteString(`\\`)
			}
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	return sb.String()
}

// matchPattern applies a pattern operator.
func (s *state) matchPattern(n *Binary, subject, pattern string) (types.Value, error) {
	var (
		re  *regexp.Regexp
		err error
	)
	if n.Op == OpLike {
		re, err = s.ev.patterns.Glob(pattern)
	} else {
		re, err = s.ev.patterns.Regex(pattern, n.Op == OpIRegex)
	}
	if err != nil {
		return types.Null, &types.TypeError{Position: n.At, Message: "invalid pattern: " + err.Error()}
	}
	ok, err := s.boundedMatch(func() bool { return re.MatchString(subject) }, len(subject))
	if err != nil {
		return types.Null, err
	}
	return types.Bool(ok), nil
}

// boundedMatch runs fn, aborting with a regex BudgetExceededError when it
// does not finish within the evaluator's timeout.
func (s *state) boundedMatch(fn func() bool, size int) (bool, error) {
	timeout := s.ev.regexTimeout
	if timeout <= 0 || size < inlineMatchLimit {
		return fn(), nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s.ev.matchSlots <- struct{}{}:
	case <-timer.C:
		return false, &types.BudgetExceededError{Budget: s.budget, Used: s.used, Reason: types.BudgetReasonRegex}
	}

	done := make(chan bool, 1)
	go func() {
		defer func() { <-s.ev.matchSlots }()
		done <- fn()
	}()
	select {
	case ok := <-done:
		return ok, nil
	case <-timer.C:
		return false, &types.BudgetExceededError{Budget: s.budget, Used: s.used, Reason: types.BudgetReasonRegex}
	}
}
