package types

import (
	"encoding/json"
	"fmt"
	"testing"
)

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{5, "5"},
		{-3, "-3"},
		{1.5, "1.5"},
		{0.1, "0.1"},
		{1e20, "100000000000000000000"},
	}
	for _, tt := range tests {
		if got := FormatNumber(tt.in); got != tt.want {
			t.Errorf("FormatNumber(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFromNative_NestedList(t *testing.T) {
	var raw any
	if err := json.Unmarshal([]byte(`[1, "a", [true, null]]`), &raw); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	v, err := FromNative(raw)
	if err != nil {
		t.Fatalf("FromNative() error = %v, want nil", err)
	}
	want := List(Int(1), String("a"), List(True, Null))
	if !v.Equal(want) {
		t.Errorf("FromNative() = %v, want %v", v, want)
	}
}

func TestFromNative_RejectsMaps(t *testing.T) {
	if _, err := FromNative(map[string]any{"a": 1}); err == nil {
		t.Errorf("FromNative(map) error = nil, want error")
	}
}

func TestValue_EqualIsStrict(t *testing.T) {
	if String("1").Equal(Int(1)) {
		t.Errorf(`String("1").Equal(Int(1)) = true, want false`)
	}
	if !List(Int(1)).Equal(List(Number(1))) {
		t.Errorf("List(1).Equal(List(1.0)) = false, want true")
	}
}

func TestList_CopiesInput(t *testing.T) {
	items := []Value{Int(1), Int(2)}
	v := List(items...)
	items[0] = Int(9)
	if v.Items()[0].AsNumber() != 1 {
		t.Errorf("List() shares backing array with caller")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&SyntaxError{Position: 1, Message: "x"}, DiagSyntax},
		{&UnsetVariableError{Name: "x"}, DiagUnset},
		{&TypeError{Message: "division by zero"}, DiagType},
		{&BudgetExceededError{Budget: 10, Used: 11}, DiagBudget},
		{fmt.Errorf("wrapped: %w", &ComputationError{Variable: "v", Kind: "k", Err: ErrUnknownComputation}), DiagComputation},
		{ErrRuleSetUnavailable, DiagInternal},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestSortRules(t *testing.T) {
	rules := []*Rule{
		{ID: 3, Priority: 0},
		{ID: 1, Priority: 5},
		{ID: 2, Priority: 0},
		{ID: 9, Priority: 9, Global: true},
	}
	SortRules(rules)
	want := []RuleID{9, 2, 3, 1}
	for i, r := range rules {
		if r.ID != want[i] {
			t.Fatalf("SortRules() order[%d] = %v, want %v", i, r.ID, want[i])
		}
	}
}

func TestParseRuleID(t *testing.T) {
	id, err := ParseRuleID("#42")
	if err != nil || id != 42 {
		t.Errorf("ParseRuleID(#42) = %v, %v, want 42, nil", id, err)
	}
	if _, err := ParseRuleID("0"); err == nil {
		t.Errorf("ParseRuleID(0) error = nil, want error")
	}
}

func TestConsequenceKind_Destructive(t *testing.T) {
	for _, k := range []ConsequenceKind{ConsequenceBlock, ConsequenceDegroup, ConsequenceBlockAutopromote} {
		if !k.Destructive() {
			t.Errorf("%s.Destructive() = false, want true", k)
		}
	}
	for _, k := range []ConsequenceKind{ConsequenceTag, ConsequenceWarn, ConsequenceDisallow, ConsequenceThrottle} {
		if k.Destructive() {
			t.Errorf("%s.Destructive() = true, want false", k)
		}
	}
}
