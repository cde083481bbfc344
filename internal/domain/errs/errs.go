// Package errs holds the workflow error taxonomy. Every error carries the
// operation that failed and the resource it was acting on; callers match
// kinds with errors.As.
package errs

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/fiapx/fiapx-video-analysis/internal/domain/entity"
)

// ValidationError is malformed caller input. It is never dispatched.
type ValidationError struct {
	Op       string
	Resource string
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s %s: invalid input: %s", e.Op, e.Resource, e.Reason)
	}
	return fmt.Sprintf("%s %s: invalid %s: %s", e.Op, e.Resource, e.Field, e.Reason)
}

// ConfigMissingError means no stage config exists for the requested stage.
type ConfigMissingError struct {
	Op         string
	VideoID    entity.VideoID
	StageIndex int
}

func (e *ConfigMissingError) Error() string {
	return fmt.Sprintf("%s video %s: no stage config for stage %d", e.Op, e.VideoID, e.StageIndex)
}

// ConfigValidationError means a stage config or its extraction params are
// internally inconsistent.
type ConfigValidationError struct {
	Op         string
	VideoID    entity.VideoID
	StageIndex int
	Field      string
	Reason     string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("%s video %s stage %d: invalid %s: %s", e.Op, e.VideoID, e.StageIndex, e.Field, e.Reason)
}

// NotFoundError is a referenced id the service does not know.
type NotFoundError struct {
	Op       string
	Resource string
	ID       string
	Err      error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s %s not found", e.Op, e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// StateError is an operation that is not valid in the video's current OCR state.
type StateError struct {
	Op      string
	VideoID entity.VideoID
	State   entity.OCRState
	Want    []entity.OCRState
	Reason  string
}

func (e *StateError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s video %s: invalid in state %s", e.Op, e.VideoID, e.State)
	if len(e.Want) > 0 {
		want := make([]string, len(e.Want))
		for i, s := range e.Want {
			want[i] = string(s)
		}
		fmt.Fprintf(&b, " (want %s)", strings.Join(want, "|"))
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

// TransportError is a network failure or a non-2xx response. StatusCode is 0
// when no response was received. Payload is the response body, unmodified.
type TransportError struct {
	Op         string
	Method     string
	Path       string
	StatusCode int
	Payload    []byte
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s %s: %v", e.Op, e.Method, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %s %s: status %d: %s", e.Op, e.Method, e.Path, e.StatusCode, strings.TrimSpace(string(e.Payload)))
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) NotFound() bool { return e.StatusCode == http.StatusNotFound }
