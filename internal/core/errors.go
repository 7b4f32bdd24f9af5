package core

import "errors"

var (
	ErrEmptyMessage           = errors.New("message is empty")
	ErrBusy                   = errors.New("an answer is already pending")
	ErrOffline                = errors.New("answering service is offline")
	ErrForbidden              = errors.New("transcript belongs to another user")
	ErrTranscriptUnavailable  = errors.New("transcript unavailable")
	ErrSessionNotFound        = errors.New("session not found")
	ErrUnknownSuggestion      = errors.New("unknown suggestion")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrEmailInUse             = errors.New("email already registered")
	ErrFederatedNotConfigured = errors.New("federated sign-in not configured")
	ErrUserNotFound           = errors.New("user not found")
)

// ValidationError lists the fields rejected by a registration or profile
// update, keyed by field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return "validation failed"
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = msg
	}
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
