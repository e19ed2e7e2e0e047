package logging

import (
	"log/slog"
	"os"
)

// Common log attribute keys for consistent naming across the codebase.
const (
	KeyOperation  = "operation"
	KeyNamespace  = "namespace"
	KeyPod        = "pod"
	KeyContainer  = "container"
	KeyController = "controller"
	KeyImage      = "image"
	KeyPath       = "path"
	KeyStatus     = "status"
	KeyError      = "error"
)

// Status values for consistent logging.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// New returns a text-handler logger writing to stderr. Debug mode lowers the
// level so underlying cluster API operations become visible.
func New(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// WithOperation returns a logger with the operation attribute set.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String(KeyOperation, operation))
}

// Operation returns a slog attribute for the operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Namespace returns a slog attribute for the namespace.
func Namespace(ns string) slog.Attr {
	return slog.String(KeyNamespace, ns)
}

// Pod returns a slog attribute for the pod name.
func Pod(name string) slog.Attr {
	return slog.String(KeyPod, name)
}

// Container returns a slog attribute for the container name.
func Container(name string) slog.Attr {
	return slog.String(KeyContainer, name)
}

// Controller returns a slog attribute for a controller reference in
// "Kind/name" form.
func Controller(kind, name string) slog.Attr {
	return slog.String(KeyController, kind+"/"+name)
}

// Image returns a slog attribute for a container image.
func Image(image string) slog.Attr {
	return slog.String(KeyImage, image)
}

// Path returns a slog attribute for a filesystem path.
func Path(path string) slog.Attr {
	return slog.String(KeyPath, path)
}

// Status returns a slog attribute for the status.
func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}

// Err returns a slog attribute for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
