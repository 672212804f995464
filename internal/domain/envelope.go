package domain

import (
	"encoding/json"
	"fmt"
)

// APIResponse is the backend's JSON envelope. Every endpoint answers with
// either {"success":true,"data":...} or {"success":false,"error":{...}}.
type APIResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ErrorPayload   `json:"error,omitempty"`
	Meta    *ResponseMeta   `json:"meta,omitempty"`
}

// ErrorPayload is the error half of the envelope.
type ErrorPayload struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
}

// ResponseMeta carries per-response metadata. Timestamp and RequestID may
// come from the server envelope; the gateway merges in the request id and
// API version observed on response headers plus the measured processing time.
type ResponseMeta struct {
	Timestamp    string `json:"timestamp,omitempty"`
	RequestID    string `json:"requestId,omitempty"`
	APIVersion   string `json:"apiVersion,omitempty"`
	ProcessingMS int64  `json:"processingMs,omitempty"`
}

// DecodeData unmarshals the envelope's data payload into v.
func (r *APIResponse) DecodeData(v any) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("response envelope has no data payload")
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}
