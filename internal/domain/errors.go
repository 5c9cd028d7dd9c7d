package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrRunInProgress = errors.New("sync: another run holds the lock")
)

// NetworkError means the snapshot source could not be reached or answered
// with a non-success status.
type NetworkError struct {
	URL    string
	Status int // 0 for transport failures
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("network: GET %s: status %d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("network: GET %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// DecodeError means the payload did not have the expected shape. Key is the
// best available fragment identifying the offending record.
type DecodeError struct {
	Key   string
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	switch {
	case e.Key != "" && e.Field != "":
		return fmt.Sprintf("decode: record %s: field %q: %v", e.Key, e.Field, e.Err)
	case e.Key != "":
		return fmt.Sprintf("decode: record %s: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("decode: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// StorageError is a failed write of one projection.
type StorageError struct {
	Key  RecordKey
	Lang Language
	Err  error
}

func (e *StorageError) Error() string {
	if e.Lang != "" {
		return fmt.Sprintf("storage: record %s (%s): %v", e.Key, e.Lang, e.Err)
	}
	return fmt.Sprintf("storage: record %s: %v", e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ErrorKind classifies err for log fields and metric labels.
func ErrorKind(err error) string {
	var (
		ne *NetworkError
		de *DecodeError
		se *StorageError
	)
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrRunInProgress):
		return "lock"
	// interrupted writes surface wrapped in a StorageError
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &ne):
		return "network"
	case errors.As(err, &de):
		return "decode"
	case errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.As(err, &se):
		return "storage"
	}
	return "other"
}
