package domain

import "errors"

var (
	ErrFetchFailed     = errors.New("telemetry fetch failed")
	ErrUnsupportedAuth = errors.New("unsupported auth method")
	ErrStateMissing    = errors.New("process state missing from response")
	ErrUnknownKind     = errors.New("unknown stream server type")
	ErrServerNotFound  = errors.New("stream server not found")
)
