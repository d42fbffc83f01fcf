// Package api holds the wire types and error codes shared by the registry
// HTTP server and its clients.
package api

import (
	"encoding/json"

	"agentregistry/pkg/domain"
)

const (
	// PrincipalHeader carries the caller identity authenticated upstream.
	PrincipalHeader = "X-Registry-Principal"
	// RequestIDHeader is echoed back on every response.
	RequestIDHeader = "X-Request-Id"
)

// CallRequest is the body of POST /api/v1/calls.
type CallRequest struct {
	Operation string          `json:"operation"`
	Args      json.RawMessage `json:"args"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Error codes reported in ErrorResponse.Code.
const (
	CodeNotRegistered     = "not_registered"
	CodeAlreadyRegistered = "already_registered"
	CodeFieldTooLarge     = "field_too_large"
	CodeInvalidArguments  = "invalid_arguments"
	CodeUnknownOperation  = "unknown_operation"
	CodeRuleViolation     = "rule_violation"
	CodeExhausted         = "identifier_space_exhausted"
	CodeNotFound          = "not_found"
	CodeInternal          = "internal"
)

// AgentStatus is the body of GET /api/v1/agents/{principal}.
type AgentStatus struct {
	Principal  domain.Principal `json:"principal"`
	Registered bool             `json:"registered"`
}

// ImageResponse is the body returned after an image upload.
type ImageResponse struct {
	Hash domain.ContentHash `json:"hash"`
}
