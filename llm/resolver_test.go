package llm

import (
	"testing"
)

func TestResolveMap_ExpandsEnvInCredentialFields(t *testing.T) {
	t.Setenv("TEST_LOOM_OPENAI_KEY", "sk-from-env")

	client, model, err := Resolve(map[string]any{
		"provider": "openai",
		"model":    "gpt-4o",
		"api_key":  "${TEST_LOOM_OPENAI_KEY}",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model != "gpt-4o" {
		t.Fatalf("expected model gpt-4o, got %q", model)
	}
	oc, ok := client.(*OpenAIClient)
	if !ok {
		t.Fatalf("expected *OpenAIClient, got %T", client)
	}
	if oc.apiKey != "sk-from-env" {
		t.Fatalf("expected api_key to be expanded from env, got %q", oc.apiKey)
	}
}

func TestResolveMap_MissingEnvVarExpandsEmpty(t *testing.T) {
	_, _, err := Resolve(map[string]any{
		"provider": "anthropic",
		"model":    "claude-3",
		"api_key":  "${TEST_LOOM_UNSET_VAR}",
	})
	if err == nil {
		t.Fatal("expected an error when the expanded api_key is empty")
	}
}

func TestResolveMap_UnknownProvider(t *testing.T) {
	_, _, err := Resolve(map[string]any{"provider": "made-up"})
	if err == nil {
		t.Fatal("expected an error for an unknown provider")
	}
}

func TestResolveString_OllamaShorthand(t *testing.T) {
	client, model, err := Resolve("llama3.1:8b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model != "llama3.1:8b" {
		t.Fatalf("expected model llama3.1:8b, got %q", model)
	}
	if _, ok := client.(*OpenAIClient); !ok {
		t.Fatalf("expected *OpenAIClient for bare ollama spec, got %T", client)
	}
}
