package main

import (
	"encoding/json"
	"testing"
)

func TestNewErrorResponse_CarriesReservedCode(t *testing.T) {
	resp := newErrorResponse(json.RawMessage(`1`), CodeMethodNotFound, "Method not found: foo")
	if resp.Error == nil {
		t.Fatal("expected an error object")
	}
	if resp.Error.Code != -32601 {
		t.Fatalf("expected code -32601, got %d", resp.Error.Code)
	}
	if resp.Result != nil {
		t.Fatal("expected no result on an error response")
	}
}

func TestNewSuccessResponse_MarshalsResult(t *testing.T) {
	resp, err := newSuccessResponse(json.RawMessage(`1`), ToolsListResult{Tools: []Tool{{Name: "read_file"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("expected no error, got %+v", resp.Error)
	}

	var result ToolsListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if len(result.Tools) != 1 || result.Tools[0].Name != "read_file" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestJSONRPCRequest_IsNotification(t *testing.T) {
	withID := JSONRPCRequest{ID: json.RawMessage(`1`)}
	if withID.IsNotification() {
		t.Fatal("expected a request with an ID to not be a notification")
	}

	notification := JSONRPCRequest{}
	if !notification.IsNotification() {
		t.Fatal("expected a request with no ID to be a notification")
	}
}
