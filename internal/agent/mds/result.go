// Package mds is the agent's transfer channel to the dispatch server.
// Every call returns the server's normalized envelope: a status of SUCCESS
// or FAILURE, a machine-readable code, and call-specific data.
package mds

import (
	"encoding/json"
	"fmt"
)

const (
	statusSuccess = "SUCCESS"
	statusFailure = "FAILURE"
)

// Failure codes the agent reacts to. Anything else is treated as a generic
// server-side rejection.
const (
	CodeInvalidCredentials = "invalid_credentials"
	CodeRejected           = "rejected"
	CodeBadOffset          = "bad_offset"
)

// Result is the dispatch server's response envelope. It is never persisted.
type Result struct {
	Status string          `json:"status"`
	Code   string          `json:"code"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Succeeded reports whether the server accepted the request.
func (r Result) Succeeded() bool {
	return r.Status == statusSuccess
}

// Failed reports whether the server rejected the request.
func (r Result) Failed() bool {
	return r.Status == statusFailure
}

// DataInt64 decodes Data as a number (e.g. an acknowledged chunk offset).
func (r Result) DataInt64() (int64, error) {
	var v int64
	if err := json.Unmarshal(r.Data, &v); err != nil {
		return 0, fmt.Errorf("envelope data is not a number: %w", err)
	}
	return v, nil
}

// DataString decodes Data as a string (e.g. a session token).
func (r Result) DataString() (string, error) {
	var v string
	if err := json.Unmarshal(r.Data, &v); err != nil {
		return "", fmt.Errorf("envelope data is not a string: %w", err)
	}
	return v, nil
}
