// internal/rules/coercion.go
package rules

import (
	"math"
	"strconv"
	"strings"

	"github.com/solatis/abusefilter/internal/types"
)

/*
 * Type coercion for rule evaluation.
 *
 * The language is loosely typed. These rules are a fixed contract; rule
 * authors depend on them and changing any of them changes which actions
 * existing rules match.
 *
 * Truthiness:  null false; bool itself; number != 0; string non-empty;
 *              list non-empty.
 * To number:   null 0; false 0; true 1; numeric string (surrounding
 *              whitespace allowed) its value; any other string or a list
 *              fails with TypeError.
 * To string:   null ""; true "true"; false "false"; numbers via
 *              types.FormatNumber; lists join their items' string forms
 *              with "\n".
 *
 * Loose equality (==):
 *   - null equals only null
 *   - bool against anything compares truthiness
 *   - number against number, or number against numeric string: numerically
 *   - list against list: same length and pairwise loose equality
 *   - list against scalar: false
 *   - anything else: string forms are compared
 *
 * Strict equality (===): same kind and loose equality.
 */

// truthy reports the boolean interpretation of v.
func truthy(v types.Value) bool {
	switch v.Kind() {
	case types.KindBool:
		return v.AsBool()
	case types.KindNumber:
		return v.AsNumber() != 0
	case types.KindString:
		return v.AsString() != ""
	case types.KindList:
		return v.Len() > 0
	default:
		return false
	}
}

// parseNumeric parses a numeric string. Whitespace-only strings are not numeric.
func parseNumeric(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			if u, herr := strconv.ParseUint(s[2:], 16, 64); herr == nil {
				return float64(u), true
			}
		}
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		// ParseFloat accepts "nan" and "inf"; rule text never means those.
		return 0, false
	}
	return n, true
}

// toNumber converts v to a number or fails with TypeError at pos.
func toNumber(v types.Value, pos int) (float64, error) {
	switch v.Kind() {
	case types.KindNull:
		return 0, nil
	case types.KindBool:
		if v.AsBool() {
			return 1, nil
		}
		return 0, nil
	case types.KindNumber:
		return v.AsNumber(), nil
	case types.KindString:
		if n, ok := parseNumeric(v.AsString()); ok {
			return n, nil
		}
		return 0, &types.TypeError{Position: pos, Message: "cannot use string " + strconv.Quote(truncate(v.AsString(), 32)) + " as a number"}
	default:
		return 0, &types.TypeError{Position: pos, Message: "cannot use " + v.Kind().String() + " as a number"}
	}
}

// lenientNumber is used by int() and float(): non-numeric strings become 0
// and lists become their length.
func lenientNumber(v types.Value) float64 {
	switch v.Kind() {
	case types.KindString:
		s := strings.TrimSpace(v.AsString())
		end := numericPrefix(s)
		n, _ := strconv.ParseFloat(s[:end], 64)
		return n
	case types.KindList:
		return float64(v.Len())
	default:
		n, _ := toNumber(v, 0)
		return n
	}
}

// numericPrefix returns the length of the longest leading decimal number in s.
func numericPrefix(s string) int {
	i := 0
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		i++
	}
	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		j := i + 1
		for j < len(s) && isDigit(s[j]) {
			j++
			digits++
		}
		i = j
	}
	if digits == 0 {
		return 0
	}
	return i
}

// toString converts v to its string form.
func toString(v types.Value) string {
	switch v.Kind() {
	case types.KindBool:
		return strconv.FormatBool(v.AsBool())
	case types.KindNumber:
		return types.FormatNumber(v.AsNumber())
	case types.KindString:
		return v.AsString()
	case types.KindList:
		parts := make([]string, v.Len())
		for i, item := range v.Items() {
			parts[i] = toString(item)
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

// looseEqual implements '=='.
func looseEqual(a, b types.Value) bool {
	ak, bk := a.Kind(), b.Kind()
	switch {
	case ak == types.KindNull || bk == types.KindNull:
		return ak == bk
	case ak == types.KindList || bk == types.KindList:
		if ak != bk || a.Len() != b.Len() {
			return false
		}
		bi := b.Items()
		for i, item := range a.Items() {
			if !looseEqual(item, bi[i]) {
				return false
			}
		}
		return true
	case ak == types.KindBool || bk == types.KindBool:
		return truthy(a) == truthy(b)
	case ak == types.KindNumber && bk == types.KindNumber:
		return a.AsNumber() == b.AsNumber()
	case ak == types.KindNumber:
		if n, ok := parseNumeric(b.AsString()); ok {
			return a.AsNumber() == n
		}
	case bk == types.KindNumber:
		if n, ok := parseNumeric(a.AsString()); ok {
			return n == b.AsNumber()
		}
	}
	return toString(a) == toString(b)
}

// strictEqual implements '==='.
func strictEqual(a, b types.Value) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	if a.Kind() == types.KindList {
		if a.Len() != b.Len() {
			return false
		}
		bi := b.Items()
		for i, item := range a.Items() {
			if !strictEqual(item, bi[i]) {
				return false
			}
		}
		return true
	}
	return looseEqual(a, b)
}

// compareOrdered returns -1, 0 or 1. Both sides compare numerically when each
// is null, bool, number or a numeric string; otherwise their string forms are
// compared. Lists cannot be ordered.
func compareOrdered(a, b types.Value, pos int) (int, error) {
	if a.Kind() == types.KindList || b.Kind() == types.KindList {
		return 0, &types.TypeError{Position: pos, Message: "cannot order list values"}
	}
	an, aok := numericView(a)
	bn, bok := numericView(b)
	if aok && bok {
		switch {
		case an < bn:
			return -1, nil
		case an > bn:
			return 1, nil
		}
		return 0, nil
	}
	return strings.Compare(toString(a), toString(b)), nil
}

func numericView(v types.Value) (float64, bool) {
	if v.Kind() == types.KindString {
		return parseNumeric(v.AsString())
	}
	n, err := toNumber(v, 0)
	return n, err == nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
