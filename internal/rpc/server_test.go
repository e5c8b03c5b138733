package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func serve(t *testing.T, input string, register func(*Server)) []map[string]any {
	t.Helper()
	var output bytes.Buffer
	server := NewServer("1", strings.NewReader(input), &output, nil)
	if register != nil {
		register(server)
	}
	if err := server.Serve(context.Background()); err != nil {
		t.Fatalf("serve: %v", err)
	}
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
		if line == "" {
			continue
		}
		var msg map[string]any
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			t.Fatalf("unmarshal %q: %v", line, err)
		}
		out = append(out, msg)
	}
	return out
}

func errorCode(t *testing.T, msg map[string]any) int {
	t.Helper()
	payload, ok := msg["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error in %v", msg)
	}
	return int(payload["code"].(float64))
}

func TestServerHandlesRequest(t *testing.T) {
	msgs := serve(t, `{"jsonrpc":"2.0","id":1,"method":"Ping","api_version":"1"}`+"\n", func(s *Server) {
		s.Register("Ping", func(ctx context.Context, params json.RawMessage) (any, *Error) {
			return map[string]any{"pong": true}, nil
		})
	})
	if len(msgs) != 1 {
		t.Fatalf("expected one response, got %d", len(msgs))
	}
	result := msgs[0]["result"].(map[string]any)
	if result["pong"] != true {
		t.Fatalf("expected pong true")
	}
}

func TestServerWaitsForHandlersAndLastLineWithoutNewline(t *testing.T) {
	msgs := serve(t, `{"jsonrpc":"2.0","id":7,"method":"Run"}`, func(s *Server) {
		s.Register("Run", func(ctx context.Context, params json.RawMessage) (any, *Error) {
			s.Notify("Progress", map[string]int{"chunk": 1})
			return "done", nil
		})
	})
	if len(msgs) != 2 {
		t.Fatalf("expected notification and response, got %v", msgs)
	}
	if msgs[0]["method"] != "Progress" {
		t.Fatalf("expected progress notification first, got %v", msgs[0])
	}
	if msgs[1]["result"] != "done" {
		t.Fatalf("expected result done, got %v", msgs[1])
	}
}

func TestServerErrors(t *testing.T) {
	input := strings.Join([]string{
		`not json`,
		`{"jsonrpc":"1.0","id":1,"method":"Ping"}`,
		`{"jsonrpc":"2.0","id":2,"method":"Missing"}`,
		`{"jsonrpc":"2.0","id":3,"method":"Ping","api_version":"9"}`,
	}, "\n") + "\n"
	msgs := serve(t, input, func(s *Server) {
		s.Register("Ping", func(ctx context.Context, params json.RawMessage) (any, *Error) {
			return "pong", nil
		})
	})
	if len(msgs) != 4 {
		t.Fatalf("expected four errors, got %v", msgs)
	}
	want := []int{CodeParseError, CodeInvalidRequest, CodeMethodNotFound, CodeInvalidRequest}
	for i, code := range want {
		if got := errorCode(t, msgs[i]); got != code {
			t.Fatalf("message %d: expected code %d, got %d", i, code, got)
		}
	}
}

func TestServerHandlerError(t *testing.T) {
	msgs := serve(t, `{"jsonrpc":"2.0","id":"a","method":"Fail","params":{"api_key":"sk-123456"}}`+"\n", func(s *Server) {
		s.Register("Fail", func(ctx context.Context, params json.RawMessage) (any, *Error) {
			return nil, &Error{Message: "boom", Data: map[string]string{"error_code": "INTERNAL"}}
		})
	})
	if got := errorCode(t, msgs[0]); got != CodeServerError {
		t.Fatalf("expected server error code, got %d", got)
	}
	if msgs[0]["id"] != "a" {
		t.Fatalf("expected id echoed, got %v", msgs[0]["id"])
	}
}

func TestRedactParams(t *testing.T) {
	got := redactParams(json.RawMessage(`{"api_key":"sk-abcdef1234","input":"book.txt"}`)).(map[string]any)
	if got["api_key"] != "****1234" || got["input"] != "book.txt" {
		t.Fatalf("unexpected redaction %v", got)
	}
	if redactParams(nil) != nil {
		t.Fatalf("expected nil for empty params")
	}
}
