// internal/rules/functions.go
package rules

import (
	"fmt"
	"html"
	"math"
	"net/netip"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	ac "github.com/petar-dambovaliev/aho-corasick"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/solatis/abusefilter/internal/types"
)

/*
 * Builtin functions.
 *
 * The registry is fixed at package init; rules cannot define functions.
 * Argument counts are checked by Compile, so implementations may index
 * args up to MinArgs without checking. Each call costs CostNode plus the
 * builtin's Cost, charged after its arguments have been evaluated.
 *
 * Multi-needle search (contains_any, contains_all) runs an Aho-Corasick
 * automaton over the haystack. Empty needles are ignored by both.
 */

// BuiltinFunc implements a builtin. args are already evaluated.
type BuiltinFunc func(s *state, call *Call, args []types.Value) (types.Value, error)

// Builtin describes a callable function. MaxArgs < 0 means variadic.
type Builtin struct {
	Name    string
	MinArgs int
	MaxArgs int
	Cost    int
	fn      BuiltinFunc
}

func (b *Builtin) arityMessage(got int) string {
	switch {
	case b.MaxArgs < 0:
		return fmt.Sprintf("%s() expects at least %d arguments, got %d", b.Name, b.MinArgs, got)
	case b.MinArgs == b.MaxArgs:
		return fmt.Sprintf("%s() expects %d arguments, got %d", b.Name, b.MinArgs, got)
	default:
		return fmt.Sprintf("%s() expects %d to %d arguments, got %d", b.Name, b.MinArgs, b.MaxArgs, got)
	}
}

var builtins map[string]*Builtin

func init() {
	builtins = map[string]*Builtin{}
	register := func(name string, min, max, cost int, fn BuiltinFunc) {
		builtins[name] = &Builtin{Name: name, MinArgs: min, MaxArgs: max, Cost: cost, fn: fn}
	}

	register("lcase", 1, 1, CostCallString, stringFn(strings.ToLower))
	register("ucase", 1, 1, CostCallString, stringFn(strings.ToUpper))
	register("length", 1, 1, CostCallTrivial, fnLength)
	register("string", 1, 1, CostCallTrivial, func(_ *state, _ *Call, a []types.Value) (types.Value, error) {
		return types.String(toString(a[0])), nil
	})
	register("int", 1, 1, CostCallTrivial, func(_ *state, _ *Call, a []types.Value) (types.Value, error) {
		return types.Number(math.Trunc(lenientNumber(a[0]))), nil
	})
	register("float", 1, 1, CostCallTrivial, func(_ *state, _ *Call, a []types.Value) (types.Value, error) {
		return types.Number(lenientNumber(a[0])), nil
	})
	register("bool", 1, 1, CostCallTrivial, func(_ *state, _ *Call, a []types.Value) (types.Value, error) {
		return types.Bool(truthy(a[0])), nil
	})
	register("count", 1, 2, CostCallSearch, fnCount)
	register("ccnorm", 1, 1, CostCallNormalize, stringFn(ccnorm))
	register("norm", 1, 1, CostCallNormalize, stringFn(func(s string) string {
		return rmdoubles(rmwhitespace(rmspecials(ccnorm(s))))
	}))
	register("rmdoubles", 1, 1, CostCallString, stringFn(rmdoubles))
	register("rmspecials", 1, 1, CostCallString, stringFn(rmspecials))
	register("rmwhitespace", 1, 1, CostCallString, stringFn(rmwhitespace))
	register("specialratio", 1, 1, CostCallString, fnSpecialRatio)
	register("sanitize", 1, 1, CostCallString, stringFn(html.UnescapeString))
	register("rescape", 1, 1, CostCallString, stringFn(regexp.QuoteMeta))
	register("contains_any", 2, -1, CostCallSearch, fnContainsAny)
	register("contains_all", 2, -1, CostCallSearch, fnContainsAll)
	register("equals_to_any", 2, -1, CostCallTrivial, fnEqualsToAny)
	register("substr", 2, 3, CostCallString, fnSubstr)
	register("strlen", 1, 1, CostCallTrivial, fnLength)
	register("strpos", 2, 3, CostCallSearch, fnStrpos)
	register("str_replace", 3, 3, CostCallSearch, fnStrReplace)
	register("str_replace_regexp", 3, 3, CostCallRegex, fnStrReplaceRegexp)
	register("get_matches", 2, 2, CostCallRegex, fnGetMatches)
	register("ip_in_range", 2, 2, CostCallTrivial, fnIPInRange)
	register("ip_in_ranges", 2, -1, CostCallSearch, fnIPInRanges)
}

// LookupBuiltin returns the builtin registered under name.
func LookupBuiltin(name string) (*Builtin, bool) {
	b, ok := builtins[strings.ToLower(name)]
	return b, ok
}

// BuiltinNames lists registered builtins in sorted order.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func stringFn(f func(string) string) BuiltinFunc {
	return func(_ *state, _ *Call, a []types.Value) (types.Value, error) {
		return types.String(f(toString(a[0]))), nil
	}
}

func fnLength(_ *state, _ *Call, a []types.Value) (types.Value, error) {
	if a[0].Kind() == types.KindList {
		return types.Int(int64(a[0].Len())), nil
	}
	return types.Int(int64(utf8.RuneCountInString(toString(a[0])))), nil
}

// fnCount with one argument counts list items, or comma-separated fields
// of a string. With two it counts non-overlapping occurrences of the first
// argument in the second.
func fnCount(_ *state, _ *Call, a []types.Value) (types.Value, error) {
	if len(a) == 1 {
		if a[0].Kind() == types.KindList {
			return types.Int(int64(a[0].Len())), nil
		}
		return types.Int(int64(strings.Count(toString(a[0]), ",") + 1)), nil
	}
	needle := toString(a[0])
	if needle == "" {
		return types.Int(0), nil
	}
	return types.Int(int64(strings.Count(toString(a[1]), needle))), nil
}

// confusables folds common Cyrillic and Greek lookalikes onto Latin
// capitals. Applied after upper-casing.
var confusables = map[rune]rune{
	'А': 'A', 'В': 'B', 'Е': 'E', 'К': 'K', 'М': 'M', 'Н': 'H', 'О': 'O',
	'Р': 'P', 'С': 'C', 'Т': 'T', 'Х': 'X', 'У': 'Y', 'І': 'I', 'Ј': 'J',
	'Ѕ': 'S', 'Ԁ': 'D', 'Ԛ': 'Q', 'Ԝ': 'W',
	'Α': 'A', 'Β': 'B', 'Ε': 'E', 'Ζ': 'Z', 'Η': 'H', 'Ι': 'I', 'Κ': 'K',
	'Μ': 'M', 'Ν': 'N', 'Ο': 'O', 'Ρ': 'P', 'Τ': 'T', 'Υ': 'Y', 'Χ': 'X',
	'0': 'O', '1': 'I', '|': 'I', '$': 'S', '@': 'A',
}

// ccnorm strips diacritics (NFKD then drop combining marks), upper-cases
// and folds confusable characters.
func ccnorm(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return strings.Map(func(r rune) rune {
		if c, ok := confusables[r]; ok {
			return c
		}
		return r
	}, strings.ToUpper(stripped))
}

func rmdoubles(s string) string {
	var sb strings.Builder
	prev := rune(-1)
	for _, r := range s {
		if r != prev {
			sb.WriteRune(r)
		}
		prev = r
	}
	return sb.String()
}

func rmspecials(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, s)
}

func rmwhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func fnSpecialRatio(_ *state, _ *Call, a []types.Value) (types.Value, error) {
	s := toString(a[0])
	total := utf8.RuneCountInString(s)
	if total == 0 {
		return types.Int(0), nil
	}
	special := total - utf8.RuneCountInString(rmspecials(s))
	return types.Number(float64(special) / float64(total)), nil
}

// needles flattens the needle arguments of a multi-search function one level
// deep and drops empty strings.
func needles(args []types.Value) []string {
	var out []string
	for _, a := range args {
		items := []types.Value{a}
		if a.Kind() == types.KindList {
			items = a.Items()
		}
		for _, it := range items {
			if s := toString(it); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func buildAutomaton(patterns []string) ac.AhoCorasick {
	builder := ac.NewAhoCorasickBuilder(ac.Opts{MatchKind: ac.LeftMostLongestMatch})
	return builder.Build(patterns)
}

func fnContainsAny(_ *state, _ *Call, a []types.Value) (types.Value, error) {
	pats := needles(a[1:])
	if len(pats) == 0 {
		return types.False, nil
	}
	automaton := buildAutomaton(pats)
	return types.Bool(len(automaton.FindAll(toString(a[0]))) > 0), nil
}

// fnContainsAll reports whether every needle occurs in the haystack. The
// automaton reports non-overlapping matches only, so needles it did not
// report are confirmed with a direct substring search.
func fnContainsAll(_ *state, _ *Call, a []types.Value) (types.Value, error) {
	pats := needles(a[1:])
	if len(pats) == 0 {
		return types.True, nil
	}
	haystack := toString(a[0])
	automaton := buildAutomaton(pats)
	found := make([]bool, len(pats))
	for _, m := range automaton.FindAll(haystack) {
		found[m.Pattern()] = true
	}
	for i, p := range pats {
		if !found[i] && !strings.Contains(haystack, p) {
			return types.False, nil
		}
	}
	return types.True, nil
}

func fnEqualsToAny(_ *state, _ *Call, a []types.Value) (types.Value, error) {
	for _, cand := range a[1:] {
		if strictEqual(a[0], cand) {
			return types.True, nil
		}
	}
	return types.False, nil
}

func intArg(v types.Value, call *Call) (int, error) {
	n, err := toNumber(v, call.At)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// fnSubstr takes a rune-based substring. A negative start counts from the
// end; a negative length stops that many runes before the end.
func fnSubstr(_ *state, call *Call, a []types.Value) (types.Value, error) {
	r := []rune(toString(a[0]))
	n := len(r)
	start, err := intArg(a[1], call)
	if err != nil {
		return types.Null, err
	}
	if start < 0 {
		start = max(n+start, 0)
	}
	if start > n {
		return types.String(""), nil
	}
	end := n
	if len(a) == 3 {
		length, err := intArg(a[2], call)
		if err != nil {
			return types.Null, err
		}
		if length < 0 {
			end = n + length
		} else {
			end = min(start+length, n)
		}
	}
	if end <= start {
		return types.String(""), nil
	}
	return types.String(string(r[start:end])), nil
}

// fnStrpos returns the rune offset of the first occurrence of needle at or
// after offset, or -1.
func fnStrpos(_ *state, call *Call, a []types.Value) (types.Value, error) {
	hay := []rune(toString(a[0]))
	needle := toString(a[1])
	offset := 0
	if len(a) == 3 {
		var err error
		if offset, err = intArg(a[2], call); err != nil {
			return types.Null, err
		}
		if offset < 0 {
			offset = max(len(hay)+offset, 0)
		}
	}
	if offset > len(hay) {
		return types.Int(-1), nil
	}
	idx := strings.Index(string(hay[offset:]), needle)
	if idx < 0 {
		return types.Int(-1), nil
	}
	return types.Int(int64(offset + utf8.RuneCountInString(string(hay[offset:])[:idx]))), nil
}

func fnStrReplace(_ *state, _ *Call, a []types.Value) (types.Value, error) {
	subject, search := toString(a[0]), toString(a[1])
	if search == "" {
		return types.String(subject), nil
	}
	return types.String(strings.ReplaceAll(subject, search, toString(a[2]))), nil
}

func fnStrReplaceRegexp(s *state, call *Call, a []types.Value) (types.Value, error) {
	subject := toString(a[0])
	re, err := s.ev.patterns.Regex(toString(a[1]), false)
	if err != nil {
		return types.Null, &types.TypeError{Position: call.At, Message: "invalid pattern: " + err.Error()}
	}
	var out string
	_, err = s.boundedMatch(func() bool {
		out = re.ReplaceAllString(subject, toString(a[2]))
		return true
	}, len(subject))
	if err != nil {
		return types.Null, err
	}
	return types.String(out), nil
}

// fnGetMatches returns the whole match followed by each capture group.
// Groups that did not participate, and every entry when nothing matched,
// are false.
func fnGetMatches(s *state, call *Call, a []types.Value) (types.Value, error) {
	re, err := s.ev.patterns.Regex(toString(a[0]), false)
	if err != nil {
		return types.Null, &types.TypeError{Position: call.At, Message: "invalid pattern: " + err.Error()}
	}
	subject := toString(a[1])
	var idx []int
	_, err = s.boundedMatch(func() bool {
		idx = re.FindStringSubmatchIndex(subject)
		return idx != nil
	}, len(subject))
	if err != nil {
		return types.Null, err
	}
	out := make([]types.Value, re.NumSubexp()+1)
	for i := range out {
		if idx == nil || idx[2*i] < 0 {
			out[i] = types.False
			continue
		}
		out[i] = types.String(subject[idx[2*i]:idx[2*i+1]])
	}
	return types.List(out...), nil
}

func fnIPInRange(_ *state, call *Call, a []types.Value) (types.Value, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(toString(a[0])))
	if err != nil {
		return types.False, nil
	}
	ok, err := ipInRange(addr, toString(a[1]), call)
	if err != nil {
		return types.Null, err
	}
	return types.Bool(ok), nil
}

func fnIPInRanges(_ *state, call *Call, a []types.Value) (types.Value, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(toString(a[0])))
	if err != nil {
		return types.False, nil
	}
	for _, r := range needles(a[1:]) {
		ok, err := ipInRange(addr, r, call)
		if err != nil {
			return types.Null, err
		}
		if ok {
			return types.True, nil
		}
	}
	return types.False, nil
}

// ipInRange accepts a CIDR prefix, a single address, or "first - last".
func ipInRange(addr netip.Addr, spec string, call *Call) (bool, error) {
	spec = strings.TrimSpace(spec)
	bad := &types.TypeError{Position: call.At, Message: "invalid IP range " + strconv.Quote(spec)}
	switch {
	case strings.Contains(spec, "/"):
		prefix, err := netip.ParsePrefix(spec)
		if err != nil {
			return false, bad
		}
		return prefix.Contains(addr.Unmap()), nil
	case strings.Contains(spec, "-"):
		lo, hi, _ := strings.Cut(spec, "-")
		first, err1 := netip.ParseAddr(strings.TrimSpace(lo))
		last, err2 := netip.ParseAddr(strings.TrimSpace(hi))
		if err1 != nil || err2 != nil {
			return false, bad
		}
		a := addr.Unmap()
		return first.Compare(a) <= 0 && a.Compare(last) <= 0, nil
	default:
		single, err := netip.ParseAddr(spec)
		if err != nil {
			return false, bad
		}
		return single.Unmap() == addr.Unmap(), nil
	}
}
