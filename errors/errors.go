package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Common error types for categorization and handling

var (
	// ErrNoFileSelected indicates the user tried to query with no active dataset
	ErrNoFileSelected = errors.New("no file selected")

	// ErrNetworkUnreachable indicates the backend could not be reached at all
	ErrNetworkUnreachable = errors.New("backend unreachable")

	// ErrDatasetNotLoaded indicates the backend no longer has the dataset
	ErrDatasetNotLoaded = errors.New("dataset not loaded")

	// ErrSendInFlight indicates a send was attempted while another is pending
	ErrSendInFlight = errors.New("a query is already in flight")

	// ErrBackend indicates any other backend failure; the detail string is
	// surfaced verbatim
	ErrBackend = errors.New("backend error")
)

// WrapError wraps an error with context message and stack
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// WrapErrorf wraps an error with formatted context message
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// IsNoFileSelected checks if error is a no-file-selected error
func IsNoFileSelected(err error) bool {
	return errors.Is(err, ErrNoFileSelected)
}

// IsNetworkUnreachable checks if error is a network-level failure
func IsNetworkUnreachable(err error) bool {
	return errors.Is(err, ErrNetworkUnreachable)
}

// IsDatasetNotLoaded checks if error is a missing-dataset error
func IsDatasetNotLoaded(err error) bool {
	return errors.Is(err, ErrDatasetNotLoaded)
}

// IsBackend checks if error is a generic backend failure
func IsBackend(err error) bool {
	return errors.Is(err, ErrBackend)
}

// IsSendInFlight checks if error is the single-flight send guard
func IsSendInFlight(err error) bool {
	return errors.Is(err, ErrSendInFlight)
}

// ChatGuidance maps a chat-turn error to the inline message shown in the chat
// surface. Chat errors are per-turn and non-fatal; they are displayed, not
// persisted into any session.
func ChatGuidance(err error) string {
	switch {
	case IsNoFileSelected(err):
		return "No file selected. Upload a CSV or pick one from the dashboard first."
	case IsNetworkUnreachable(err):
		return "Could not reach the backend. Is the server running?"
	case IsDatasetNotLoaded(err):
		return "That dataset is no longer loaded. Upload it again and retry."
	case IsSendInFlight(err):
		return "Still working on the previous question. One at a time."
	case err != nil:
		return err.Error()
	default:
		return ""
	}
}

// LooksLikeMissingDataset reports whether a backend detail string describes a
// missing dataset (the backend phrases these as 404s mentioning the dataset).
func LooksLikeMissingDataset(detail string) bool {
	return strings.Contains(strings.ToLower(detail), "dataset")
}
