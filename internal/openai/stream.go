package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"glossa/internal/llm"
	"glossa/internal/sse"
)

type streamEvent struct {
	Type     string          `json:"type"`
	Object   string          `json:"object"`
	Delta    json.RawMessage `json:"delta,omitempty"`
	Text     json.RawMessage `json:"text,omitempty"`
	Choices  []streamChoice  `json:"choices,omitempty"`
	Response *responseBody   `json:"response,omitempty"`
	Error    *errorPayload   `json:"error,omitempty"`
	Message  string          `json:"message,omitempty"`
	Code     json.RawMessage `json:"code,omitempty"`
	Status   int             `json:"status,omitempty"`
}

type streamChoice struct {
	Delta struct {
		Content json.RawMessage `json:"content"`
	} `json:"delta"`
}

type responseBody struct {
	Output json.RawMessage `json:"output,omitempty"`
	Error  *errorPayload   `json:"error,omitempty"`
}

type errorPayload struct {
	Message string          `json:"message"`
	Code    json.RawMessage `json:"code,omitempty"`
	Type    string          `json:"type,omitempty"`
	Status  int             `json:"status,omitempty"`
}

func (p *errorPayload) codeString() string {
	if p == nil {
		return ""
	}
	if code := rawScalar(p.Code); code != "" {
		return code
	}
	return p.Type
}

// accumulator keeps delta text and full-text events apart; the full text
// wins when present. Done parts append in order and a completed response
// replaces them.
type accumulator struct {
	deltas strings.Builder
	full   strings.Builder
	failed error
}

func (c *Client) readStream(ctx context.Context, body io.Reader) (string, error) {
	decoder := &sse.Decoder{}
	acc := &accumulator{}
	buf := make([]byte, readChunkBytes)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			decoder.Feed(buf[:n])
		}
		if readErr == io.EOF {
			decoder.Close()
		}
		done, err := c.drain(decoder, acc)
		if err != nil {
			return "", err
		}
		if done {
			break
		}
		if readErr != nil && readErr != io.EOF {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", fmt.Errorf("%w after %s", llm.ErrTimeout, c.timeout)
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("%w: %v", llm.ErrStreamAborted, readErr)
		}
	}
	if acc.full.Len() > 0 {
		return acc.full.String(), nil
	}
	return acc.deltas.String(), nil
}

func (c *Client) drain(decoder *sse.Decoder, acc *accumulator) (bool, error) {
	for {
		payload, state := decoder.Next()
		switch state {
		case sse.NeedMore:
			return false, nil
		case sse.Done:
			return true, nil
		}
		var event streamEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			c.logger.Debug("openai.stream_event_skipped", "error", err.Error(), "bytes", len(payload))
			continue
		}
		if err := acc.apply(event); err != nil {
			return true, err
		}
	}
}

func (acc *accumulator) apply(event streamEvent) error {
	switch {
	case event.Type == "response.output_text.delta":
		if text, ok := decodeText(event.Delta); ok {
			acc.deltas.WriteString(text)
		}
	case event.Object == "chat.completion.chunk":
		for _, choice := range event.Choices {
			if text, ok := decodeText(choice.Delta.Content); ok {
				acc.deltas.WriteString(text)
			}
		}
	case event.Type == "response.output_text.done":
		if text, ok := decodeText(event.Text); ok && text != "" {
			acc.full.WriteString(text)
		}
	case event.Type == "response.completed":
		if event.Response != nil {
			if text, ok := decodeText(event.Response.Output); ok && text != "" {
				acc.full.Reset()
				acc.full.WriteString(text)
			}
		}
	case event.Type == "error" || event.Type == "response.failed":
		return eventError(event)
	}
	return nil
}

func eventError(event streamEvent) error {
	payload := event.Error
	if payload == nil && event.Response != nil {
		payload = event.Response.Error
	}
	statusErr := &llm.StatusError{Status: event.Status, Message: event.Message, Code: rawScalar(event.Code)}
	if payload != nil {
		if statusErr.Message == "" {
			statusErr.Message = payload.Message
		}
		if statusErr.Code == "" {
			statusErr.Code = payload.codeString()
		}
		if statusErr.Status == 0 {
			statusErr.Status = payload.Status
		}
	}
	if statusErr.Status == 0 {
		statusErr.Status = statusFromCode(statusErr.Code)
	}
	if strings.TrimSpace(statusErr.Message) == "" {
		statusErr.Message = "stream reported " + event.Type
	}
	return statusErr
}

// statusFromCode maps well-known error codes onto HTTP statuses so the
// retry classification treats them like their HTTP counterparts.
func statusFromCode(code string) int {
	if n, err := strconv.Atoi(code); err == nil && n >= 100 && n < 600 {
		return n
	}
	switch code {
	case "rate_limit_exceeded", "rate_limited":
		return 429
	case "server_error", "internal_error":
		return 500
	case "server_overloaded", "overloaded":
		return 503
	case "invalid_api_key", "unauthorized":
		return 401
	}
	return 0
}

// decodeText accepts either a JSON string or a structured array of output
// items / content parts and flattens it to text.
func decodeText(raw json.RawMessage) (string, bool) {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return "", false
		}
		var b strings.Builder
		found := false
		for _, item := range items {
			if text, ok := decodeText(item); ok {
				b.WriteString(text)
				found = true
			}
		}
		return b.String(), found
	case '{':
		var part struct {
			Type    string          `json:"type"`
			Text    json.RawMessage `json:"text"`
			Content json.RawMessage `json:"content"`
		}
		if err := json.Unmarshal(raw, &part); err != nil {
			return "", false
		}
		if part.Type == "reasoning" || part.Type == "function_call" {
			return "", false
		}
		if text, ok := decodeText(part.Text); ok {
			return text, true
		}
		return decodeText(part.Content)
	}
	return "", false
}

func rawScalar(raw json.RawMessage) string {
	value := strings.TrimSpace(string(raw))
	if value == "" || value == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return value
}
