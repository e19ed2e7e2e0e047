package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	utilexec "k8s.io/client-go/util/exec"

	"github.com/jessegoodier/kdebug/internal/backup"
	"github.com/jessegoodier/kdebug/internal/debug"
	"github.com/jessegoodier/kdebug/internal/k8s"
	"github.com/jessegoodier/kdebug/internal/logging"
	"github.com/jessegoodier/kdebug/internal/resolve"
)

// State names the lifecycle stages of one invocation.
type State string

const (
	StateIdle      State = "Idle"
	StateResolving State = "Resolving"
	StateLaunching State = "Launching"
	StateActive    State = "Active"
	StateCleaning  State = "Cleaning"
	StateSucceeded State = "Succeeded"
	StateFailed    State = "Failed"
)

// Config describes one invocation.
type Config struct {
	Namespace string
	Selector  resolve.Selector

	// Debug container settings
	Image        string
	AsRoot       bool
	Command      []string
	WorkingDir   string
	StartTimeout time.Duration

	// BackupPath switches the session into backup mode when set.
	BackupPath string
	Compress   bool
}

// Result carries what a finished session produced.
type Result struct {
	Target resolve.Target

	// ArtifactPath is the local backup artifact, backup mode only.
	ArtifactPath string

	// Residue reports what the session left on the cluster.
	Residue debug.Residue

	// ExitCode is the interactive shell's exit status.
	ExitCode int
}

// Narrow views of the collaborating components, so tests can substitute
// them without a cluster.

type targetResolver interface {
	Resolve(ctx context.Context, namespace string, sel resolve.Selector) (*resolve.Target, error)
}

type orchestrator interface {
	Launch(ctx context.Context) error
	WaitReady(ctx context.Context) error
	ProbeShell(ctx context.Context) (string, error)
	VerifyWorkingDir(ctx context.Context) error
	Attach(ctx context.Context, shell string) error
	Terminate(ctx context.Context) debug.Residue
	ContainerName() string
}

type transferEngine interface {
	Transfer(ctx context.Context, target resolve.Target, execContainer string, job backup.Job) (string, error)
}

// Runner owns one invocation end to end.
type Runner struct {
	cfg    Config
	logger *slog.Logger

	resolver        targetResolver
	newOrchestrator func(target resolve.Target) orchestrator
	newEngine       func() transferEngine

	mu    sync.Mutex
	state State
}

// New wires a Runner against a real cluster client.
func New(client *k8s.Client, cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		cfg:      cfg,
		logger:   logging.WithOperation(logger, "session"),
		resolver: resolve.New(client, logger),
		state:    StateIdle,
	}
	r.newOrchestrator = func(target resolve.Target) orchestrator {
		sess := debug.NewSession(target, cfg.Image)
		sess.AsRoot = cfg.AsRoot
		sess.WorkingDir = cfg.WorkingDir
		sess.Command = cfg.Command

		opts := []debug.Option{}
		if cfg.StartTimeout > 0 {
			opts = append(opts, debug.WithStartTimeout(cfg.StartTimeout))
		}
		return debug.NewOrchestrator(client, sess, logger, opts...)
	}
	r.newEngine = func() transferEngine {
		return backup.NewEngine(client, logger, backup.WithPathPrefix(debug.ProcessRootPrefix))
	}
	return r
}

// State returns the current lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setState(next State) {
	r.mu.Lock()
	prev := r.state
	r.state = next
	r.mu.Unlock()
	r.logger.Debug("state transition", slog.String("from", string(prev)), slog.String("to", string(next)))
}

// Run executes the session: resolve, launch, attach or transfer, clean up.
// Cancelling ctx tears down whichever phase is in flight and still runs
// cleanup.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	result := &Result{Residue: debug.ResidueTerminated}

	r.setState(StateResolving)
	target, err := r.resolver.Resolve(ctx, r.cfg.Namespace, r.cfg.Selector)
	if err != nil {
		r.setState(StateFailed)
		return result, err
	}
	result.Target = *target

	orch := r.newOrchestrator(*target)
	r.setState(StateLaunching)
	if err := orch.Launch(ctx); err != nil {
		// Nothing was created; no cleanup owed.
		r.setState(StateFailed)
		return result, err
	}

	// Cluster-side state exists from here on: every path below funnels
	// through Cleaning.
	runErr := r.runActive(ctx, orch, result)

	r.setState(StateCleaning)
	result.Residue = orch.Terminate(ctx)

	if runErr != nil {
		r.setState(StateFailed)
		return result, runErr
	}
	r.setState(StateSucceeded)
	return result, nil
}

// runActive drives the session body after a successful launch.
func (r *Runner) runActive(ctx context.Context, orch orchestrator, result *Result) error {
	if err := orch.WaitReady(ctx); err != nil {
		return err
	}
	r.setState(StateActive)

	if r.cfg.BackupPath != "" {
		artifact, err := r.newEngine().Transfer(ctx, result.Target, orch.ContainerName(), backup.Job{
			SourcePath: r.cfg.BackupPath,
			Compress:   r.cfg.Compress,
		})
		if err != nil {
			return err
		}
		result.ArtifactPath = artifact
		return nil
	}

	if err := orch.VerifyWorkingDir(ctx); err != nil {
		return err
	}
	shell := ""
	if len(r.cfg.Command) == 0 {
		probed, err := orch.ProbeShell(ctx)
		if err != nil {
			return err
		}
		shell = probed
	}

	err := orch.Attach(ctx, shell)
	// A nonzero shell exit is the operator's doing, not a session failure;
	// surface it as the exit code instead of an error.
	var codeErr utilexec.CodeExitError
	if errors.As(err, &codeErr) {
		result.ExitCode = codeErr.Code
		return nil
	}
	return err
}
