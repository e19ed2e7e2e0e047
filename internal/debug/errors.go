package debug

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for orchestration failures, matched via errors.Is().
var (
	// ErrPatchRejected indicates the API server refused to add the
	// ephemeral container (feature gate disabled, policy webhook, etc).
	ErrPatchRejected = errors.New("ephemeral container patch rejected")

	// ErrStartTimeout indicates the container never reached Running
	// within the configured timeout.
	ErrStartTimeout = errors.New("debug container start timeout")

	// ErrStartFailed indicates the container hit a terminal failure state
	// while starting (image pull failure, crash loop, ...).
	ErrStartFailed = errors.New("debug container failed to start")

	// ErrShellUnavailable indicates none of the candidate shells exist in
	// the debug image.
	ErrShellUnavailable = errors.New("no usable shell in debug container")

	// ErrPathNotFound indicates --cd-into named a path that does not
	// exist in the target container's filesystem view.
	ErrPathNotFound = errors.New("working directory not found")
)

// PatchRejectedError reports the API server rejecting the subresource
// update that adds the ephemeral container.
type PatchRejectedError struct {
	Namespace string
	Pod       string
	Err       error
}

func (e *PatchRejectedError) Error() string {
	return fmt.Sprintf("pod %s/%s rejected ephemeral container: %v", e.Namespace, e.Pod, e.Err)
}

func (e *PatchRejectedError) Unwrap() error { return e.Err }

func (e *PatchRejectedError) Is(target error) bool { return target == ErrPatchRejected }

// StartTimeoutError reports that the debug container did not reach Running
// in time. LastState carries the most recent waiting reason, and Err the
// last poll failure when status could never be read at all.
type StartTimeoutError struct {
	Container string
	Timeout   time.Duration
	LastState string
	Err       error
}

func (e *StartTimeoutError) Error() string {
	msg := fmt.Sprintf("container %q not running after %s", e.Container, e.Timeout)
	if e.LastState != "" {
		msg = fmt.Sprintf("%s (last state: %s)", msg, e.LastState)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *StartTimeoutError) Is(target error) bool { return target == ErrStartTimeout }

func (e *StartTimeoutError) Unwrap() error { return e.Err }

// StartFailedError reports a terminal container failure state observed
// while waiting, such as ImagePullBackOff or an early exit.
type StartFailedError struct {
	Container string
	Reason    string
	Message   string
	ExitCode  int32
}

func (e *StartFailedError) Error() string {
	msg := fmt.Sprintf("container %q failed to start: %s", e.Container, e.Reason)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *StartFailedError) Is(target error) bool { return target == ErrStartFailed }

// ShellUnavailableError lists the shells that were probed without success.
type ShellUnavailableError struct {
	Tried []string
}

func (e *ShellUnavailableError) Error() string {
	return fmt.Sprintf("none of the candidate shells are available in the debug image: %s",
		strings.Join(e.Tried, ", "))
}

func (e *ShellUnavailableError) Is(target error) bool { return target == ErrShellUnavailable }

// PathNotFoundError reports a missing working directory in the shared
// process-namespace view of the target filesystem.
type PathNotFoundError struct {
	Path string
}

func (e *PathNotFoundError) Error() string {
	return fmt.Sprintf("path %q does not exist in the target container", e.Path)
}

func (e *PathNotFoundError) Is(target error) bool { return target == ErrPathNotFound }
