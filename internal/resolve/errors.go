package resolve

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for resolution failures, matched via errors.Is().
var (
	// ErrNotFound indicates the named pod or controller does not exist.
	ErrNotFound = errors.New("target not found")

	// ErrAmbiguousContainer indicates a multi-container pod was selected
	// without an explicit container name.
	ErrAmbiguousContainer = errors.New("ambiguous container selection")

	// ErrNoRunningPods indicates the controller manages no Running pods.
	ErrNoRunningPods = errors.New("no running pods")

	// ErrPermissionDenied indicates the cluster API rejected a read.
	ErrPermissionDenied = errors.New("permission denied")
)

// NotFoundError reports a missing pod or controller.
type NotFoundError struct {
	Kind      string
	Namespace string
	Name      string
	Err       error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found in namespace %q", strings.ToLower(e.Kind), e.Name, e.Namespace)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// AmbiguousContainerError reports a pod with several containers and no
// explicit choice. The resolver never picks one silently: attaching to the
// wrong process namespace is worse than failing.
type AmbiguousContainerError struct {
	Namespace  string
	Pod        string
	Containers []string
}

func (e *AmbiguousContainerError) Error() string {
	return fmt.Sprintf("pod %s/%s has %d containers, specify one of: %s",
		e.Namespace, e.Pod, len(e.Containers), strings.Join(e.Containers, ", "))
}

func (e *AmbiguousContainerError) Is(target error) bool { return target == ErrAmbiguousContainer }

// NoRunningPodsError reports that resolution found the workload but no pod
// in Phase=Running.
type NoRunningPodsError struct {
	Kind      string
	Namespace string
	Name      string
}

func (e *NoRunningPodsError) Error() string {
	return fmt.Sprintf("no running pods for %s %s/%s", strings.ToLower(e.Kind), e.Namespace, e.Name)
}

func (e *NoRunningPodsError) Is(target error) bool { return target == ErrNoRunningPods }

// PermissionDeniedError wraps a Forbidden response from the API server.
type PermissionDeniedError struct {
	Operation string
	Err       error
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied during %s: %v", e.Operation, e.Err)
}

func (e *PermissionDeniedError) Unwrap() error { return e.Err }

func (e *PermissionDeniedError) Is(target error) bool { return target == ErrPermissionDenied }
