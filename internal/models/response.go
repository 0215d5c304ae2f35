// Package models - admin API response types.
package models

import "time"

// ErrorResponse provides structured error information for the admin API.
type ErrorResponse struct {
	Error     string            `json:"error"`
	Message   string            `json:"message"`
	Code      string            `json:"code,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Machine-readable error codes for the admin API.
const (
	ErrorCodeNotFound          = "NOT_FOUND"
	ErrorCodeBadRequest        = "BAD_REQUEST"
	ErrorCodeValidation        = "VALIDATION_ERROR"
	ErrorCodeConflict          = "CONFLICT"
	ErrorCodeUnauthorized      = "UNAUTHORIZED"
	ErrorCodeInternalError     = "INTERNAL_ERROR"
	ErrorCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

// ListRulesResponse wraps the current rule snapshot.
type ListRulesResponse struct {
	Rules      []Rule `json:"rules"`
	TotalCount int    `json:"total_count"`
}

// CreateRuleResponse acknowledges a rule installation.
type CreateRuleResponse struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// ListAttacksResponse wraps attack records for the admin API.
type ListAttacksResponse struct {
	Attacks    []*AttackRecord `json:"attacks"`
	TotalCount int             `json:"total_count"`
}

// HealthCheckResponse reports service and component health.
type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Health status constants.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{Status: status, Message: message}
}
