package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractSSEData_FindsFirstDataLine(t *testing.T) {
	body := []byte("event: message\ndata: {\"foo\":1}\n\n")
	got := extractSSEData(body)
	if string(got) != `{"foo":1}` {
		t.Fatalf("expected extracted JSON, got %q", got)
	}
}

func TestExtractSSEData_NoDataLineReturnsNil(t *testing.T) {
	body := []byte("event: message\n\n")
	if got := extractSSEData(body); got != nil {
		t.Fatalf("expected nil, got %q", got)
	}
}

func TestDownstreamClient_ListTools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req JSONRPCRequest
		json.NewDecoder(r.Body).Decode(&req)

		result := ToolsListResult{Tools: []Tool{{Name: "read_file"}}}
		resultJSON, _ := json.Marshal(result)
		resp := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: resultJSON}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewDownstreamClient("local", srv.URL)
	tools, err := client.ListTools()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "read_file" {
		t.Fatalf("unexpected tools: %+v", tools)
	}
}

func TestDownstreamClient_ListTools_PropagatesRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req JSONRPCRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: &JSONRPCError{Code: CodeInternalError, Message: "boom"}}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewDownstreamClient("local", srv.URL)
	if _, err := client.ListTools(); err == nil {
		t.Fatal("expected an error from an RPC error response")
	}
}
