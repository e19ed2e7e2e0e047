package debug

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/buildkite/roko"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/utils/ptr"

	"github.com/jessegoodier/kdebug/internal/k8s"
	"github.com/jessegoodier/kdebug/internal/logging"
)

// Client is the slice of cluster operations the orchestrator needs.
// *k8s.Client satisfies it.
type Client interface {
	GetPod(ctx context.Context, namespace, name string) (*corev1.Pod, error)
	AddEphemeralContainer(ctx context.Context, namespace, podName string, ec corev1.EphemeralContainer) (*corev1.Pod, error)
	Exec(ctx context.Context, namespace, podName, containerName string, command []string, opts k8s.ExecOptions) error
}

// Residue describes what the terminated session left behind on the cluster.
// The ephemeral container entry itself always remains in the pod spec until
// the pod restarts; the distinction is whether its process is still running.
type Residue string

const (
	// ResidueTerminated: the debug container's process has exited. Only
	// the inert spec entry remains until pod restart.
	ResidueTerminated Residue = "terminated"

	// ResidueRunning: the holder process is still alive and will keep
	// running until its sleep elapses or the pod restarts.
	ResidueRunning Residue = "running"

	// ResidueUnknown: cleanup could not determine the container state.
	ResidueUnknown Residue = "unknown"
)

// Waiting reasons that never recover; polling further only wastes the
// timeout budget.
var terminalWaitingReasons = map[string]bool{
	"ImagePullBackOff":           true,
	"ErrImagePull":               true,
	"CrashLoopBackOff":           true,
	"CreateContainerError":       true,
	"InvalidImageName":           true,
	"CreateContainerConfigError": true,
}

// shellCandidates is the probe order for the interactive shell.
var shellCandidates = []string{"zsh", "bash", "sh"}

const (
	defaultStartTimeout  = 60 * time.Second
	defaultPollInterval  = 2 * time.Second
	terminateGracePeriod = 10 * time.Second
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStartTimeout bounds how long WaitReady polls for Running.
func WithStartTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.startTimeout = d }
}

// WithPollInterval sets the status poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.pollInterval = d }
}

// WithStreams redirects the interactive session's stdio. Defaults to the
// process's own stdin/stdout/stderr.
func WithStreams(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(o *Orchestrator) {
		o.stdin = stdin
		o.stdout = stdout
		o.stderr = stderr
	}
}

// Orchestrator owns one debug session's cluster-side lifecycle.
type Orchestrator struct {
	client  Client
	session *Session
	logger  *slog.Logger

	startTimeout time.Duration
	pollInterval time.Duration

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	mu       sync.Mutex
	launched bool
	residue  Residue
}

// NewOrchestrator creates an orchestrator for one session.
func NewOrchestrator(client Client, session *Session, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		client:       client,
		session:      session,
		logger:       logging.WithOperation(logger, "debug"),
		startTimeout: defaultStartTimeout,
		pollInterval: defaultPollInterval,
		stdin:        os.Stdin,
		stdout:       os.Stdout,
		stderr:       os.Stderr,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ContainerName returns the generated ephemeral container name.
func (o *Orchestrator) ContainerName() string {
	return o.session.ContainerName
}

// Launch adds the ephemeral container to the target pod. The container runs
// a bounded sleep holder; the interactive shell and transfer commands are
// exec'd into it separately.
func (o *Orchestrator) Launch(ctx context.Context) error {
	sess := o.session
	target := sess.Target

	pod, err := o.client.GetPod(ctx, target.Namespace, target.PodName)
	if err != nil {
		return fmt.Errorf("failed to re-read target pod: %w", err)
	}
	if existing := ephemeralContainerNames(pod); len(existing) > 0 {
		o.logger.Info("pod already has ephemeral containers",
			logging.Pod(target.PodName),
			slog.String("existing", strings.Join(existing, ", ")))
	}

	securityContext := &corev1.SecurityContext{}
	if sess.AsRoot {
		securityContext.RunAsUser = ptr.To(int64(0))
	} else {
		securityContext.RunAsUser = ptr.To(nonRootUID)
		securityContext.RunAsNonRoot = ptr.To(true)
	}

	ec := corev1.EphemeralContainer{
		EphemeralContainerCommon: corev1.EphemeralContainerCommon{
			Name:            sess.ContainerName,
			Image:           sess.Image,
			ImagePullPolicy: corev1.PullIfNotPresent,
			Command:         []string{"sleep", strconv.Itoa(holderSeconds)},
			SecurityContext: securityContext,
		},
		TargetContainerName: target.ContainerName,
	}

	o.logger.Info("launching debug container",
		logging.Namespace(target.Namespace),
		logging.Pod(target.PodName),
		logging.Container(sess.ContainerName),
		logging.Image(sess.Image))

	if _, err := o.client.AddEphemeralContainer(ctx, target.Namespace, target.PodName, ec); err != nil {
		if apierrors.IsForbidden(err) {
			return fmt.Errorf("permission denied adding debug container: %w", err)
		}
		return &PatchRejectedError{Namespace: target.Namespace, Pod: target.PodName, Err: err}
	}

	o.mu.Lock()
	o.launched = true
	o.mu.Unlock()
	return nil
}

// WaitReady polls the pod status until the debug container reports Running.
// Terminal failure states abort immediately; otherwise polling continues
// until the start timeout elapses.
func (o *Orchestrator) WaitReady(ctx context.Context) error {
	target := o.session.Target
	name := o.session.ContainerName

	attempts := int(o.startTimeout/o.pollInterval) + 1
	var lastReason string
	var lastPollErr error

	retrier := roko.NewRetrier(
		roko.WithMaxAttempts(attempts),
		roko.WithStrategy(roko.Constant(o.pollInterval)),
	)
	err := retrier.DoWithContext(ctx, func(rt *roko.Retrier) error {
		pod, err := o.client.GetPod(ctx, target.Namespace, target.PodName)
		if err != nil {
			lastPollErr = err
			return fmt.Errorf("failed to poll pod status: %w", err)
		}
		lastPollErr = nil

		status := ephemeralStatus(pod, name)
		if status == nil {
			lastReason = "NotReported"
			return fmt.Errorf("ephemeral container %q not reported yet", name)
		}

		state := status.State
		switch {
		case state.Running != nil:
			o.logger.Info("debug container is running", logging.Container(name))
			return nil

		case state.Waiting != nil:
			reason := state.Waiting.Reason
			if terminalWaitingReasons[reason] {
				rt.Break()
				return &StartFailedError{Container: name, Reason: reason, Message: state.Waiting.Message}
			}
			if reason != lastReason {
				o.logger.Info("debug container waiting", logging.Container(name), slog.String("reason", reason))
				lastReason = reason
			}
			return fmt.Errorf("container waiting: %s", reason)

		case state.Terminated != nil:
			rt.Break()
			return &StartFailedError{
				Container: name,
				Reason:    state.Terminated.Reason,
				Message:   state.Terminated.Message,
				ExitCode:  state.Terminated.ExitCode,
			}

		default:
			lastReason = "Initializing"
			return fmt.Errorf("container state not available yet")
		}
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStartFailed) {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("cancelled while waiting for debug container: %w", ctx.Err())
	}
	return &StartTimeoutError{Container: name, Timeout: o.startTimeout, LastState: lastReason, Err: lastPollErr}
}

// ProbeShell finds the first available shell in the running debug
// container, preferring zsh, then bash, then sh.
func (o *Orchestrator) ProbeShell(ctx context.Context) (string, error) {
	target := o.session.Target
	for _, shell := range shellCandidates {
		var out bytes.Buffer
		err := o.client.Exec(ctx, target.Namespace, target.PodName, o.session.ContainerName,
			[]string{"sh", "-c", "command -v " + shell}, k8s.ExecOptions{Stdout: &out})
		if err == nil && strings.TrimSpace(out.String()) != "" {
			o.logger.Debug("shell probe succeeded", slog.String("shell", shell))
			return shell, nil
		}
		o.logger.Debug("shell probe missed", slog.String("shell", shell), logging.Err(err))
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", &ShellUnavailableError{Tried: shellCandidates}
}

// VerifyWorkingDir checks that the requested directory exists in the target
// container's filesystem before an interactive session is started there.
func (o *Orchestrator) VerifyWorkingDir(ctx context.Context) error {
	dir := o.session.WorkingDir
	if dir == "" {
		return nil
	}
	target := o.session.Target
	err := o.client.Exec(ctx, target.Namespace, target.PodName, o.session.ContainerName,
		[]string{"sh", "-c", "test -d " + shellQuote(ProcessRootPrefix+dir)}, k8s.ExecOptions{})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &PathNotFoundError{Path: dir}
	}
	return nil
}

// Attach runs an interactive session in the debug container using the given
// shell (or the session's explicit command), blocking until the remote
// process exits or ctx is cancelled.
func (o *Orchestrator) Attach(ctx context.Context, shell string) error {
	sess := o.session
	target := sess.Target

	command := sess.Command
	if len(command) == 0 {
		command = []string{shell}
	}
	if sess.WorkingDir != "" {
		// Navigate the target's filesystem through the shared process
		// namespace, not the debug container's own rootfs.
		wrapped := fmt.Sprintf("cd %s && exec %s",
			shellQuote(ProcessRootPrefix+sess.WorkingDir), strings.Join(command, " "))
		command = []string{"sh", "-c", wrapped}
	}

	o.logger.Info("starting interactive session",
		logging.Pod(target.PodName),
		logging.Container(sess.ContainerName),
		slog.String("command", strings.Join(command, " ")))

	restore, sizeQueue, err := o.rawTerminal()
	if err != nil {
		return err
	}
	defer restore()

	return o.client.Exec(ctx, target.Namespace, target.PodName, sess.ContainerName, command, k8s.ExecOptions{
		Stdin:     o.stdin,
		Stdout:    o.stdout,
		Stderr:    nil, // TTY multiplexes stderr onto stdout
		TTY:       true,
		SizeQueue: sizeQueue,
	})
}

// Terminate ends the session's cluster-side state as far as the API allows.
// It is idempotent and never returns an error: failures are logged so they
// can never mask the error that brought us here. It runs on a fresh
// deadline because the inbound context is usually already cancelled.
func (o *Orchestrator) Terminate(ctx context.Context) Residue {
	o.mu.Lock()
	if !o.launched {
		o.mu.Unlock()
		return ResidueTerminated
	}
	if o.residue != "" {
		residue := o.residue
		o.mu.Unlock()
		return residue
	}
	o.mu.Unlock()

	target := o.session.Target
	name := o.session.ContainerName
	logger := o.logger.With(logging.Pod(target.PodName), logging.Container(name))
	logger.Info("cleaning up debug container")

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminateGracePeriod)
	defer cancel()

	// Best-effort: ask the container's init to exit. Depending on the
	// process namespace layout the signal may be ignored, which is why the
	// actual state is re-read below instead of assumed.
	err := o.client.Exec(cleanupCtx, target.Namespace, target.PodName, name,
		[]string{"sh", "-c", "kill 1 2>/dev/null || true"}, k8s.ExecOptions{})
	if err != nil {
		logger.Debug("holder signal failed", logging.Err(err))
	}

	residue := ResidueUnknown
	if pod, err := o.client.GetPod(cleanupCtx, target.Namespace, target.PodName); err != nil {
		logger.Warn("could not confirm debug container state", logging.Err(err))
	} else if status := ephemeralStatus(pod, name); status != nil && status.State.Terminated != nil {
		residue = ResidueTerminated
	} else {
		residue = ResidueRunning
	}

	switch residue {
	case ResidueTerminated:
		logger.Info("debug container terminated; its spec entry remains until the pod restarts")
	case ResidueRunning:
		logger.Warn("debug container is still running; it will stop when its holder process exits or the pod restarts",
			slog.Int("holder_ttl_seconds", holderSeconds))
	default:
		logger.Warn("debug container state unknown after cleanup")
	}

	o.mu.Lock()
	o.residue = residue
	o.mu.Unlock()
	return residue
}

// ephemeralStatus returns the status entry for the named ephemeral
// container, or nil when the kubelet has not reported it yet.
func ephemeralStatus(pod *corev1.Pod, name string) *corev1.ContainerStatus {
	for i := range pod.Status.EphemeralContainerStatuses {
		if pod.Status.EphemeralContainerStatuses[i].Name == name {
			return &pod.Status.EphemeralContainerStatuses[i]
		}
	}
	return nil
}

// ephemeralContainerNames lists the ephemeral containers already present in
// the pod spec.
func ephemeralContainerNames(pod *corev1.Pod) []string {
	names := make([]string, 0, len(pod.Spec.EphemeralContainers))
	for _, ec := range pod.Spec.EphemeralContainers {
		names = append(names, ec.Name)
	}
	return names
}

// shellQuote single-quotes s for safe splicing into a sh -c string, closing
// and reopening the quotes around any embedded single quote.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
