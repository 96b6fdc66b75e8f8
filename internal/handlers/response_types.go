package handlers

import (
	"encoding/json"

	"github.com/xpanvictor/migoto-coach/internal/domains/attempt"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// PaginationInfo represents pagination information
type PaginationInfo struct {
	Total  int64 `json:"total"`
	Offset int   `json:"offset"`
	Limit  int   `json:"limit"`
}

type ListAttemptsResponse struct {
	Attempts   []attempt.Attempt `json:"attempts"`
	Pagination PaginationInfo    `json:"pagination"`
}

type TranscriptResponse struct {
	Transcript *attempt.Transcript `json:"transcript"`
}

type ReportResponse struct {
	SessionID string          `json:"sessionId"`
	Report    json.RawMessage `json:"report"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}
