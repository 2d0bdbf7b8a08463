package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidState is returned when a job is not in the state an
	// operation requires.
	ErrInvalidState = errors.New("job is not in a valid state for this operation")
	// ErrJobBusy is returned when an orchestration is already running for the job.
	ErrJobBusy = errors.New("job is already being processed")
)

// ValidationError lists missing or malformed request fields, keyed by field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = msg
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// ConnectorError wraps a failure talking to the hosting account.
type ConnectorError struct {
	Op  string
	Err error
}

func (e *ConnectorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectorError) Unwrap() error { return e.Err }

// FileNotFoundError names a deployment artifact that was missing at transfer time.
type FileNotFoundError struct {
	Artifact string
	Path     string
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("required file %s not found at %s", e.Artifact, e.Path)
}
