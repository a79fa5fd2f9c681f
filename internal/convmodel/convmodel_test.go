package convmodel

import "testing"

func TestValidateCatchesPlanLengthMismatch(t *testing.T) {
	st := NewEmpty()
	st.PlanSteps = []string{"a", "b"}
	st.PlanCapabilities = []string{"none"}
	if err := st.Validate(10, 2); err == nil {
		t.Fatal("expected error for mismatched plan lengths")
	}
}

func TestValidateCatchesLoopCountOverflow(t *testing.T) {
	st := NewEmpty()
	st.LoopCount = 11
	if err := st.Validate(10, 2); err == nil {
		t.Fatal("expected error for loop_count over MAX_LOOPS")
	}
}

func TestValidateCatchesDanglingToolCallID(t *testing.T) {
	st := NewEmpty()
	st.Messages = []Message{{Role: RoleTool, ToolCallID: "missing"}}
	if err := st.Validate(10, 2); err == nil {
		t.Fatal("expected error for tool message referencing unknown call id")
	}
}

func TestValidatePassesOnFreshState(t *testing.T) {
	st := NewEmpty()
	if err := st.Validate(10, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNormalizeProfileMapsKnownAliasesToCanonicalEmpty(t *testing.T) {
	for _, alias := range []string{"", "None", "null", "nothing", "空"} {
		if got := NormalizeProfile(alias); got != EmptyProfileLiteral {
			t.Fatalf("NormalizeProfile(%q) = %q, want %q", alias, got, EmptyProfileLiteral)
		}
	}
}

func TestNormalizeProfileLeavesOtherContentUntouched(t *testing.T) {
	const memory = "- likes coffee\n- lives in Berlin"
	if got := NormalizeProfile(memory); got != memory {
		t.Fatalf("NormalizeProfile modified non-empty content: %q", got)
	}
}

func TestUsageAddIsFieldwise(t *testing.T) {
	a := Usage{Input: 1, Output: 2, Total: 3}
	b := Usage{Input: 4, Output: 5, Total: 9}
	got := a.Add(b)
	want := Usage{Input: 5, Output: 7, Total: 12}
	if got != want {
		t.Fatalf("Add() = %+v, want %+v", got, want)
	}
}
