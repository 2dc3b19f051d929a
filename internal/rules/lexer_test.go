// internal/rules/lexer_test.go
package rules

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/solatis/abusefilter/internal/types"
)

func TestLex_OperatorsLongestMatch(t *testing.T) {
	toks, err := Lex("a === b !== c ** d =~ e != !f")
	if err != nil {
		t.Fatalf("Lex() error = %v, want nil", err)
	}
	var ops []string
	for _, tok := range toks {
		if tok.Kind == TokOperator {
			ops = append(ops, tok.Text)
		}
	}
	want := []string{"===", "!==", "**", "=~", "!=", "!"}
	if len(ops) != len(want) {
		t.Fatalf("operators = %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Errorf("operator[%d] = %q, want %q", i, ops[i], want[i])
		}
	}
}

func TestLex_KeywordsCaseInsensitive(t *testing.T) {
	toks, err := Lex("X IN Y Contains TRUE")
	if err != nil {
		t.Fatalf("Lex() error = %v, want nil", err)
	}
	wantKinds := []TokenKind{TokIdent, TokKeyword, TokIdent, TokKeyword, TokKeyword, TokEOF}
	wantText := []string{"x", "in", "y", "contains", "true", ""}
	for i, tok := range toks {
		if tok.Kind != wantKinds[i] || tok.Text != wantText[i] {
			t.Errorf("token[%d] = (%v, %q), want (%v, %q)", i, tok.Kind, tok.Text, wantKinds[i], wantText[i])
		}
	}
}

func TestLex_StringEscapes(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{`"a\"b"`, `a"b`},
		{`'it\'s'`, `it's`},
		{`"line\nnext"`, "line\nnext"},
		{`"\x41é"`, "Aé"},
		{`"keep\d"`, `keep\d`},
		{`'mixed "quotes"'`, `mixed "quotes"`},
	}
	for _, tt := range tests {
		toks, err := Lex(tt.src)
		if err != nil {
			t.Fatalf("Lex(%s) error = %v, want nil", tt.src, err)
		}
		if toks[0].Kind != TokString || toks[0].Text != tt.want {
			t.Errorf("Lex(%s) = %q, want %q", tt.src, toks[0].Text, tt.want)
		}
	}
}

func TestLex_Numbers(t *testing.T) {
	tests := []struct {
		src  string
		want float64
	}{
		{"42", 42},
		{"3.25", 3.25},
		{".5", 0.5},
		{"1e3", 1000},
		{"0x1F", 31},
	}
	for _, tt := range tests {
		toks, err := Lex(tt.src)
		if err != nil {
			t.Fatalf("Lex(%s) error = %v, want nil", tt.src, err)
		}
		if toks[0].Num != tt.want {
			t.Errorf("Lex(%s) = %v, want %v", tt.src, toks[0].Num, tt.want)
		}
	}
}

func TestLex_CommentsSkipped(t *testing.T) {
	toks, err := Lex("a /* note */ & b")
	if err != nil {
		t.Fatalf("Lex() error = %v, want nil", err)
	}
	if len(toks) != 4 {
		t.Errorf("len(tokens) = %d, want 4", len(toks))
	}
}

func TestLex_Errors(t *testing.T) {
	tests := []struct {
		src string
		pos int
	}{
		{`"open`, 0},
		{`a /* open`, 2},
		{`a # b`, 2},
		{`12abc`, 0},
		{`0x`, 0},
	}
	for _, tt := range tests {
		_, err := Lex(tt.src)
		var syn *types.SyntaxError
		if !errors.As(err, &syn) {
			t.Errorf("Lex(%q) error = %v, want SyntaxError", tt.src, err)
			continue
		}
		if syn.Position != tt.pos {
			t.Errorf("Lex(%q) position = %d, want %d", tt.src, syn.Position, tt.pos)
		}
	}
}

func TestLex_PropertyNeverPanics(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("lexing and compiling arbitrary input never panics", prop.ForAll(
		func(src string) bool {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("Compile(%q) panicked: %v", src, r)
				}
			}()
			_, _ = Lex(src)
			_, _ = Compile(src)
			return true
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
