package handlers

import (
	"testing"

	"loom/agent"
)

func TestCalculate_BasicArithmetic(t *testing.T) {
	cases := map[string]string{
		"2 + 3":    "5",
		"10 - 4":   "6",
		"6 * 7":    "42",
		"9 / 3":    "3",
		"2 ^ 5":    "32",
		"7 % 3":    "1",
		"sqrt(16)": "4",
		"5":        "5",
	}
	for expr, want := range cases {
		if got := calculate(expr); got != want {
			t.Errorf("calculate(%q) = %q, want %q", expr, got, want)
		}
	}
}

func TestCalculate_DivisionByZero(t *testing.T) {
	if got := calculate("1 / 0"); got != "Error: division by zero" {
		t.Fatalf("expected division-by-zero error, got %q", got)
	}
}

func TestCalculate_InvalidExpression(t *testing.T) {
	got := calculate("banana")
	if got == "" || got[:6] != "Error:" {
		t.Fatalf("expected an error message, got %q", got)
	}
}

func TestNewBuiltinTools_OmitsSearchWithoutAPIKey(t *testing.T) {
	cfg := &agent.AgentConfig{}
	tools := NewBuiltinTools(cfg)

	names := make(map[string]bool)
	for _, tl := range tools {
		names[tl.Name()] = true
	}
	if names["internet_search"] {
		t.Fatal("expected internet_search to be omitted without a tavily_api_key")
	}
	if !names["calculate"] || !names["current_datetime"] {
		t.Fatalf("expected calculate and current_datetime to always be registered, got %v", names)
	}
}
