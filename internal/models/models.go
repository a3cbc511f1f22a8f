// Package models defines the core data structures for CanvassSync.
//
// It includes the sync-action records, external-system rows and contact data
// shared by the store, the external-system adapters and the HTTP API.
package models

// APIStatus is the status field of the JSON envelope.
type APIStatus string

const (
	APIStatusOK       APIStatus = "ok"
	APIStatusError    APIStatus = "error"
	APIStatusAccepted APIStatus = "accepted"
)

// APIResponse is the envelope every HTTP endpoint answers with.
type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Result  any    `json:"result,omitempty"`
}

// Success wraps a result in an "ok" envelope.
func Success(result any) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Accepted reports work that was recorded and completes in a background job.
func Accepted(message string, result any) APIResponse {
	return APIResponse{Status: string(APIStatusAccepted), Message: message, Result: result}
}

// Error wraps a message in an "error" envelope.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
