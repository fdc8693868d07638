package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// maxErrorBody caps how much of a failed response body travels inside the
// error string.
const maxErrorBody = 512

// ProviderError reports a failed provider request with the context needed to
// debug it: which provider and model, the HTTP status, and a truncated copy
// of the response body.
type ProviderError struct {
	Provider string
	Model    string
	Status   int
	Body     string
	Cause    error
}

func (e *ProviderError) Error() string {
	parts := []string{e.Provider}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	switch {
	case e.Body != "":
		parts = append(parts, e.Body)
	case e.Cause != nil:
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Retryable reports whether the failure looks transient. Rate limits,
// server-side errors and timeouts qualify; everything with a definite 4xx
// status does not.
func (e *ProviderError) Retryable() bool {
	switch {
	case e.Status == http.StatusTooManyRequests:
		return true
	case e.Status >= 500:
		return true
	case e.Status != 0:
		return false
	}
	return retryableMessage(e.Cause)
}

// AsProviderError extracts a ProviderError from an error chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}

func retryableMessage(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"timeout",
		"deadline exceeded",
		"rate limit",
		"too many requests",
		"connection refused",
		"connection reset",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func truncateBody(body string) string {
	body = strings.TrimSpace(body)
	if len(body) <= maxErrorBody {
		return body
	}
	return body[:maxErrorBody] + "..."
}
