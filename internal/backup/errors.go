package backup

import (
	"errors"
	"fmt"
)

// Sentinel errors for transfer failures, matched via errors.Is().
var (
	// ErrSourceNotFound indicates the requested path does not exist in
	// the container.
	ErrSourceNotFound = errors.New("backup source not found")

	// ErrTransferIncomplete indicates the stream ended before the full
	// payload arrived. The partial local artifact has been removed.
	ErrTransferIncomplete = errors.New("transfer incomplete")
)

// SourceNotFoundError reports a missing source path, detected before any
// bytes are moved.
type SourceNotFoundError struct {
	Path string
}

func (e *SourceNotFoundError) Error() string {
	return fmt.Sprintf("path %q does not exist in container", e.Path)
}

func (e *SourceNotFoundError) Is(target error) bool { return target == ErrSourceNotFound }

// TransferIncompleteError reports a stream that failed mid-flight.
type TransferIncompleteError struct {
	Path string
	Err  error
}

func (e *TransferIncompleteError) Error() string {
	return fmt.Sprintf("transfer of %q failed mid-stream: %v", e.Path, e.Err)
}

func (e *TransferIncompleteError) Unwrap() error { return e.Err }

func (e *TransferIncompleteError) Is(target error) bool { return target == ErrTransferIncomplete }
