// internal/rules/compile_test.go
package rules

import (
	"errors"
	"strings"
	"testing"

	"github.com/solatis/abusefilter/internal/types"
)

func TestCompile_Precedence(t *testing.T) {
	tests := []struct {
		src  string
		want types.Value
	}{
		{"1 + 2 * 3", types.Int(7)},
		{"(1 + 2) * 3", types.Int(9)},
		{"2 ** 3 ** 2", types.Int(512)},
		{"-2 ** 2", types.Int(4)},
		{"10 - 4 - 3", types.Int(3)},
		{"12 / 3 / 2", types.Int(2)},
		{"true | false & false", types.True},
		{"(true | false) & false", types.False},
		{"true ^ true | true", types.True},
		{"false & true ^ true", types.True},
		{"false & (true ^ true)", types.False},
		{"1 + 1 == 2", types.True},
		{"!1 == 0", types.True},
		{"1 < 2 == true", types.True},
		{"'a' + 'b' in 'xaby'", types.True},
	}
	for _, tt := range tests {
		got, err := evalString(t, tt.src, nil)
		if err != nil {
			t.Errorf("Evaluate(%q) error = %v, want nil", tt.src, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("Evaluate(%q) = %v, want %v", tt.src, got, tt.want)
		}
	}
}

func TestCompile_SyntaxErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		pos  int
		msg  string
	}{
		{"empty", "   ", 0, "empty"},
		{"comment only", "/* nothing */", 0, "empty"},
		{"missing close paren", "(a & b", 0, "unbalanced ("},
		{"extra close paren", "a & b)", 5, "unbalanced )"},
		{"missing close bracket", "[1, 2", 0, "unbalanced ["},
		{"dangling operator", "a &", 3, "unexpected end"},
		{"unknown function", "frobnicate(a)", 0, "unknown function"},
		{"wrong arity", "lcase(a, b)", 0, "expects 1 arguments"},
		{"too few args", "contains_any(a)", 0, "at least 2"},
		{"adjacent operands", "a b", 2, "unexpected identifier b"},
		{"keyword as operand", "in", 0, "unexpected keyword"},
		{"trailing comma", "[1, ]", 4, "unbalanced ]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.src)
			var syn *types.SyntaxError
			if !errors.As(err, &syn) {
				t.Fatalf("Compile(%q) error = %v, want SyntaxError", tt.src, err)
			}
			if syn.Position != tt.pos {
				t.Errorf("Position = %d, want %d", syn.Position, tt.pos)
			}
			if !strings.Contains(syn.Message, tt.msg) {
				t.Errorf("Message = %q, want substring %q", syn.Message, tt.msg)
			}
		})
	}
}

func TestCompile_NestingLimit(t *testing.T) {
	ok := strings.Repeat("(", types.MaxNestingDepth) + "1" + strings.Repeat(")", types.MaxNestingDepth)
	if _, err := Compile(ok); err != nil {
		t.Errorf("Compile(depth=%d) error = %v, want nil", types.MaxNestingDepth, err)
	}
	deep := "(" + ok + ")"
	var syn *types.SyntaxError
	if _, err := Compile(deep); !errors.As(err, &syn) {
		t.Errorf("Compile(depth=%d) error = %v, want SyntaxError", types.MaxNestingDepth+1, err)
	}
	unary := strings.Repeat("!", types.MaxNestingDepth+1) + "a"
	if _, err := Compile(unary); !errors.As(err, &syn) {
		t.Errorf("Compile(deep unary) error = %v, want SyntaxError", err)
	}
}

func TestCompile_SourceTooLong(t *testing.T) {
	src := strings.Repeat(" ", types.MaxSourceLength) + "1"
	var syn *types.SyntaxError
	if _, err := Compile(src); !errors.As(err, &syn) {
		t.Errorf("Compile(oversized) error = %v, want SyntaxError", err)
	}
}

func TestCompile_VariablesAndCost(t *testing.T) {
	prog := mustCompile(t, `new_wikitext =~ "badword" & user_editcount < 10 & lcase(USER_NAME) == user_name`)

	want := []string{"new_wikitext", "user_editcount", "user_name"}
	if strings.Join(prog.Variables, ",") != strings.Join(want, ",") {
		t.Errorf("Variables = %v, want %v", prog.Variables, want)
	}

	// 12 nodes, one regex operator, one lcase call.
	wantCost := 12*CostNode + CostRegexOperator + CostCallString
	if prog.StaticCost != wantCost {
		t.Errorf("StaticCost = %d, want %d", prog.StaticCost, wantCost)
	}
}

func TestCheckVariables(t *testing.T) {
	prog := mustCompile(t, "user_name == 'x' | no_such_var")
	known := func(name string) bool { return name == "user_name" }

	err := CheckVariables(prog, known)
	var syn *types.SyntaxError
	if !errors.As(err, &syn) {
		t.Fatalf("CheckVariables() error = %v, want SyntaxError", err)
	}
	if syn.Position != 19 {
		t.Errorf("Position = %d, want 19", syn.Position)
	}

	if err := CheckVariables(mustCompile(t, "user_name"), known); err != nil {
		t.Errorf("CheckVariables(known) error = %v, want nil", err)
	}
}

func TestCompileCache(t *testing.T) {
	cache := NewCompileCache(8)

	p1, err := cache.Compile("a & b")
	if err != nil {
		t.Fatalf("Compile() error = %v, want nil", err)
	}
	p2, _ := cache.Compile("a & b")
	if p1 != p2 {
		t.Errorf("second Compile() returned a different program, want cached pointer")
	}

	_, err1 := cache.Compile("a &")
	_, err2 := cache.Compile("a &")
	if err1 == nil || err1 != err2 {
		t.Errorf("cached syntax error = %v / %v, want identical non-nil errors", err1, err2)
	}
	if cache.Len() != 2 {
		t.Errorf("Len() = %d, want 2", cache.Len())
	}
}
