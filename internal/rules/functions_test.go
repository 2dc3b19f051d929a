package rules

import (
	"testing"

	"github.com/solatis/abusefilter/internal/types"
)

func TestBuiltins(t *testing.T) {
	tests := []struct {
		src  string
		want types.Value
	}{
		{`lcase("HeLLo")`, types.String("hello")},
		{`ucase("abc")`, types.String("ABC")},
		{`length("héllo")`, types.Int(5)},
		{`length([1, 2, 3])`, types.Int(3)},
		{`strlen("ab")`, types.Int(2)},
		{`int("42abc")`, types.Int(42)},
		{`int("abc")`, types.Int(0)},
		{`int(3.9)`, types.Int(3)},
		{`float("2.5")`, types.Number(2.5)},
		{`bool("")`, types.False},
		{`bool([0])`, types.True},
		{`count("a,b,c")`, types.Int(3)},
		{`count([1, 2])`, types.Int(2)},
		{`count("ab", "abcabcab")`, types.Int(3)},
		{`count("", "abc")`, types.Int(0)},
		{`rmdoubles("aaabbbccc")`, types.String("abc")},
		{`rmspecials("a-b_c d!")`, types.String("abc d")},
		{`rmwhitespace(" a b\tc\n")`, types.String("abc")},
		{`specialratio("a!b?")`, types.Number(0.5)},
		{`specialratio("")`, types.Int(0)},
		{`ccnorm("café")`, types.String("CAFE")},
		{`ccnorm("pаypal")`, types.String("PAYPAL")},
		{`norm("F.r.e.e   m0ney!!")`, types.String("FREMONEY")},
		{`sanitize("&lt;b&gt;")`, types.String("<b>")},
		{`rescape("a.b*c")`, types.String(`a\.b\*c`)},
		{`contains_any("hello world", "xyz", "wor")`, types.True},
		{`contains_any("hello world", ["xyz", "abc"])`, types.False},
		{`contains_any("hello", "")`, types.False},
		{`contains_all("abcd", "ab", "b", "cd")`, types.True},
		{`contains_all("abcd", "ab", "x")`, types.False},
		{`equals_to_any("a", "b", "a")`, types.True},
		{`equals_to_any(1, "1")`, types.False},
		{`substr("hello", 1, 3)`, types.String("ell")},
		{`substr("hello", -3)`, types.String("llo")},
		{`substr("hello", 1, -1)`, types.String("ell")},
		{`substr("hello", 10)`, types.String("")},
		{`strpos("hello", "l")`, types.Int(2)},
		{`strpos("hello", "l", 3)`, types.Int(3)},
		{`strpos("hello", "z")`, types.Int(-1)},
		{`strpos("héllo", "l")`, types.Int(2)},
		{`str_replace("a-b-c", "-", "+")`, types.String("a+b+c")},
		{`str_replace_regexp("a1b22", "[0-9]+", "#")`, types.String("a#b#")},
		{`get_matches("(foo)(bar)?", "xfoo")`, types.List(types.String("foo"), types.String("foo"), types.False)},
		{`get_matches("(z)", "abc")`, types.List(types.False, types.False)},
		{`ip_in_range("10.1.2.3", "10.0.0.0/8")`, types.True},
		{`ip_in_range("11.1.2.3", "10.0.0.0/8")`, types.False},
		{`ip_in_range("2001:db8::1", "2001:db8::/32")`, types.True},
		{`ip_in_range("192.168.0.5", "192.168.0.1 - 192.168.0.9")`, types.True},
		{`ip_in_range("not-an-ip", "10.0.0.0/8")`, types.False},
		{`ip_in_ranges("1.2.3.4", "5.0.0.0/8", "1.2.3.4")`, types.True},
	}
	for _, tt := range tests {
		got, err := evalString(t, tt.src, nil)
		if err != nil {
			t.Errorf("Evaluate(%s) error = %v, want nil", tt.src, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("Evaluate(%s) = %v, want %v", tt.src, got, tt.want)
		}
	}
}

func TestLookupBuiltin_CaseInsensitive(t *testing.T) {
	if _, ok := LookupBuiltin("LCASE"); !ok {
		t.Errorf("LookupBuiltin(LCASE) ok = false, want true")
	}
	if _, ok := LookupBuiltin("eval"); ok {
		t.Errorf("LookupBuiltin(eval) ok = true, want false")
	}
	if len(BuiltinNames()) != len(builtins) {
		t.Errorf("len(BuiltinNames()) = %d, want %d", len(BuiltinNames()), len(builtins))
	}
}
