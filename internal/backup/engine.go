package backup

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/jessegoodier/kdebug/internal/k8s"
	"github.com/jessegoodier/kdebug/internal/logging"
	"github.com/jessegoodier/kdebug/internal/resolve"
)

// Client is the slice of cluster operations the engine needs. *k8s.Client
// satisfies it.
type Client interface {
	Exec(ctx context.Context, namespace, podName, containerName string, command []string, opts k8s.ExecOptions) error
}

// Job describes one backup request.
type Job struct {
	// SourcePath is the path inside the target container.
	SourcePath string

	// Compress streams the payload through gzip into a .tar.gz artifact.
	Compress bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithBaseDir overrides the local artifact directory.
func WithBaseDir(dir string) Option {
	return func(e *Engine) { e.baseDir = dir }
}

// WithPathPrefix prepends a prefix to the source path before it is read
// inside the exec container. The session orchestrator sets this to the
// shared process-namespace root so transfers run through the debug
// container against the target's filesystem.
func WithPathPrefix(prefix string) Option {
	return func(e *Engine) { e.pathPrefix = prefix }
}

// withClock overrides artifact timestamps in tests.
func withClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine streams backup payloads from a container to local disk.
type Engine struct {
	client     Client
	logger     *slog.Logger
	baseDir    string
	pathPrefix string
	now        func() time.Time
}

// NewEngine creates a transfer engine.
func NewEngine(client Client, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		client:  client,
		logger:  logging.WithOperation(logger, "backup"),
		baseDir: DefaultBaseDir,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Transfer copies job.SourcePath out of the container into a deterministic
// local path and returns that path. Partial artifacts never survive a
// failed transfer.
func (e *Engine) Transfer(ctx context.Context, target resolve.Target, execContainer string, job Job) (string, error) {
	remote := e.pathPrefix + job.SourcePath
	logger := e.logger.With(
		logging.Namespace(target.Namespace),
		logging.Pod(target.PodName),
		logging.Path(job.SourcePath))

	isDir, err := e.classifySource(ctx, target, execContainer, remote, job.SourcePath)
	if err != nil {
		return "", err
	}

	ext := ""
	switch {
	case job.Compress:
		ext = ".tar.gz"
	case isDir:
		ext = ".tar"
	}

	if err := os.MkdirAll(filepath.Join(e.baseDir, target.Namespace), 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}
	file, dest, err := createArtifact(e.baseDir, target.Namespace, target.PodName, e.now(), ext)
	if err != nil {
		return "", err
	}

	command := transferCommand(remote, isDir, job.Compress)
	logger.Info("starting transfer",
		slog.Bool("compress", job.Compress),
		slog.Bool("directory", isDir),
		slog.String("dest", dest))

	if err := e.stream(ctx, target, execContainer, command, file, job.Compress); err != nil {
		// No silent half-written backups: drop the partial artifact.
		if rmErr := os.Remove(dest); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warn("failed to remove partial artifact", logging.Err(rmErr))
		}
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", err, ctx.Err())
		}
		return "", &TransferIncompleteError{Path: job.SourcePath, Err: err}
	}

	logger.Info("backup complete", logging.Status(logging.StatusSuccess), slog.String("dest", dest))
	return dest, nil
}

// classifySource verifies the source exists and reports whether it is a
// directory. A miss logs the parent directory contents as a hint.
func (e *Engine) classifySource(ctx context.Context, target resolve.Target, execContainer, remote, source string) (bool, error) {
	var out bytes.Buffer
	quoted := shellQuote(remote)
	probe := fmt.Sprintf("test -e %s && { test -d %s && echo dir || echo file; }", quoted, quoted)
	err := e.client.Exec(ctx, target.Namespace, target.PodName, execContainer,
		[]string{"sh", "-c", probe}, k8s.ExecOptions{Stdout: &out})
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		e.logParentHint(ctx, target, execContainer, remote)
		return false, &SourceNotFoundError{Path: source}
	}
	return strings.TrimSpace(out.String()) == "dir", nil
}

// logParentHint lists the parent directory so the operator can spot typos.
func (e *Engine) logParentHint(ctx context.Context, target resolve.Target, execContainer, remote string) {
	parent := path.Dir(remote)
	if parent == remote || parent == "/" {
		return
	}
	var listing bytes.Buffer
	err := e.client.Exec(ctx, target.Namespace, target.PodName, execContainer,
		[]string{"sh", "-c", fmt.Sprintf("ls -la %s 2>/dev/null | head -20", shellQuote(parent))},
		k8s.ExecOptions{Stdout: &listing})
	if err == nil && listing.Len() > 0 {
		e.logger.Info("parent directory contents",
			logging.Path(strings.TrimPrefix(parent, e.pathPrefix)),
			slog.String("listing", listing.String()))
	}
}

// transferCommand picks the remote read command. Directories (and anything
// compressed) leave as a tar stream rooted at the source's parent so
// archive entries carry clean relative paths; plain files are read raw for
// byte-for-byte fidelity.
func transferCommand(remote string, isDir, compress bool) []string {
	if isDir || compress {
		return []string{"tar", "cf", "-", "-C", path.Dir(remote), path.Base(remote)}
	}
	return []string{"cat", remote}
}

// stream runs the exec command with stdout wired straight into the local
// artifact, through a streaming gzip writer when compressing. Memory stays
// bounded regardless of payload size.
func (e *Engine) stream(ctx context.Context, target resolve.Target, execContainer string, command []string, file *os.File, compress bool) error {
	var stderr bytes.Buffer
	var execErr error
	if compress {
		gz := gzip.NewWriter(file)
		execErr = e.client.Exec(ctx, target.Namespace, target.PodName, execContainer, command,
			k8s.ExecOptions{Stdout: gz, Stderr: &stderr})
		if closeErr := gz.Close(); execErr == nil && closeErr != nil {
			execErr = fmt.Errorf("failed to finalize gzip stream: %w", closeErr)
		}
	} else {
		execErr = e.client.Exec(ctx, target.Namespace, target.PodName, execContainer, command,
			k8s.ExecOptions{Stdout: file, Stderr: &stderr})
	}

	if closeErr := file.Close(); execErr == nil && closeErr != nil {
		execErr = fmt.Errorf("failed to close local artifact: %w", closeErr)
	}
	if execErr != nil && stderr.Len() > 0 {
		e.logger.Debug("remote transfer stderr", slog.String("stderr", stderr.String()))
	}
	return execErr
}

// shellQuote single-quotes s for safe splicing into a sh -c string, closing
// and reopening the quotes around any embedded single quote.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
