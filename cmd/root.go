package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jessegoodier/kdebug/internal/debug"
	"github.com/jessegoodier/kdebug/internal/k8s"
	"github.com/jessegoodier/kdebug/internal/logging"
	"github.com/jessegoodier/kdebug/internal/resolve"
	"github.com/jessegoodier/kdebug/internal/session"
)

// imageEnvVar overrides the default debug image when the --debug-image flag
// is not given.
const imageEnvVar = "KDEBUG_IMAGE"

var rootFlags struct {
	podName        string
	controller     string
	controllerName string
	namespace      string
	container      string

	image      string
	command    string
	workingDir string
	asRoot     bool
	timeout    time.Duration

	backupPath string
	compress   bool

	kubeconfig  string
	kubeContext string
	inCluster   bool
	qpsLimit    float32
	burstLimit  int

	debugMode bool
}

// shellExitCode carries the interactive shell's exit status out of the
// command so Execute can pass it through to the process exit code.
var shellExitCode int

// rootCmd represents the base command for kdebug. Running it without
// subcommands starts a debug session against the selected pod.
var rootCmd = &cobra.Command{
	Use:   "kdebug",
	Short: "Attach an ephemeral debug container to a Kubernetes pod",
	Long: `kdebug injects an ephemeral debug container into a running pod and
attaches an interactive shell to it, targeting the pod's process namespace.
The target pod is never restarted and its images are never modified.

The target is selected by pod name or by controller; controller selection
picks one Running pod deterministically (Ready pods first, then the oldest).

The target container's filesystem is reachable under /proc/1/root inside
the debug container. Backup mode copies a file or directory from there to
a local artifact instead of opening a shell.

Examples:

  kdebug --pod web-0 -n prod                     # shell into web-0
  kdebug --controller deploy --controller-name api   # shell into a pod of deployment api
  kdebug --pod web-0 --cd-into /app              # start in the target's /app
  kdebug --pod web-0 --cmd "ps aux"              # run one command and exit
  kdebug --pod web-0 --backup /var/lib/data --compress   # fetch a .tar.gz backup

The debug container runs a bounded sleep as its main process and is torn
down when the session ends, even on interrupt. Kubernetes keeps terminated
ephemeral containers visible in the pod spec; kdebug reports that residue
truthfully rather than pretending to remove it.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(cmd)
	},
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the
// application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application. It runs the root
// command and translates the outcome into the process exit code: 1 for
// session failures, or the interactive shell's own exit status.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "kdebug version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
	if shellExitCode != 0 {
		os.Exit(shellExitCode)
	}
}

func runSession(cmd *cobra.Command) error {
	logger := logging.New(rootFlags.debugMode)

	image := rootFlags.image
	if !cmd.Flags().Changed("debug-image") {
		if env := os.Getenv(imageEnvVar); env != "" {
			image = env
		}
	}

	selector := resolve.Selector{
		PodName:        rootFlags.podName,
		ControllerName: rootFlags.controllerName,
		ContainerName:  rootFlags.container,
	}
	if rootFlags.controller != "" {
		kind, err := resolve.ParseControllerKind(rootFlags.controller)
		if err != nil {
			return err
		}
		selector.ControllerKind = kind
	}
	if err := selector.Validate(); err != nil {
		return err
	}

	client, err := k8s.NewClient(&k8s.ClientConfig{
		KubeconfigPath: rootFlags.kubeconfig,
		Context:        rootFlags.kubeContext,
		InCluster:      rootFlags.inCluster,
		QPSLimit:       rootFlags.qpsLimit,
		BurstLimit:     rootFlags.burstLimit,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create Kubernetes client: %w", err)
	}

	namespace := rootFlags.namespace
	if namespace == "" {
		namespace = client.DefaultNamespace()
	}

	var command []string
	if rootFlags.command != "" {
		command = strings.Fields(rootFlags.command)
	}

	// Interrupts cancel the session but still run cleanup.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := session.New(client, session.Config{
		Namespace:    namespace,
		Selector:     selector,
		Image:        image,
		AsRoot:       rootFlags.asRoot,
		Command:      command,
		WorkingDir:   rootFlags.workingDir,
		StartTimeout: rootFlags.timeout,
		BackupPath:   rootFlags.backupPath,
		Compress:     rootFlags.compress,
	}, logger)

	result, err := runner.Run(ctx)
	if result != nil && result.Residue != debug.ResidueTerminated {
		fmt.Fprintf(cmd.ErrOrStderr(),
			"Note: the debug container entry remains in pod %s (state: %s); its sleep will expire on its own\n",
			result.Target.PodName, result.Residue)
	}
	if err != nil {
		return err
	}
	if result.ArtifactPath != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Backup written to %s\n", result.ArtifactPath)
	}
	shellExitCode = result.ExitCode
	return nil
}

func init() {
	rootCmd.AddCommand(newVersionCmd())

	flags := rootCmd.Flags()

	// Target selection
	flags.StringVar(&rootFlags.podName, "pod", "", "Target pod name")
	flags.StringVar(&rootFlags.controller, "controller", "", "Target controller kind: deployment, statefulset, or daemonset (aliases: deploy, sts, ds)")
	flags.StringVar(&rootFlags.controllerName, "controller-name", "", "Target controller name (used with --controller)")
	flags.StringVarP(&rootFlags.namespace, "namespace", "n", "", "Namespace of the target (default: current kubeconfig namespace)")
	flags.StringVar(&rootFlags.container, "container", "", "Target container within the pod (required when the pod has several)")

	// Debug container settings
	flags.StringVar(&rootFlags.image, "debug-image", debug.DefaultImage, "Debug container image (can also be set via "+imageEnvVar+" env var)")
	flags.StringVar(&rootFlags.command, "cmd", "", "Command to run instead of an interactive shell")
	flags.StringVar(&rootFlags.workingDir, "cd-into", "", "Directory of the target's filesystem to start the shell in")
	flags.BoolVar(&rootFlags.asRoot, "as-root", false, "Run the debug container as root (default: non-root)")
	flags.DurationVar(&rootFlags.timeout, "timeout", 0, "How long to wait for the debug container to start (default: 60s)")

	// Backup mode
	flags.StringVar(&rootFlags.backupPath, "backup", "", "Copy this file or directory from the target instead of opening a shell")
	flags.BoolVar(&rootFlags.compress, "compress", false, "Gzip the backup artifact (used with --backup)")

	// Cluster access
	flags.StringVar(&rootFlags.kubeconfig, "kubeconfig", "", "Path to the kubeconfig file (default: standard loading rules)")
	flags.StringVar(&rootFlags.kubeContext, "context", "", "Kubeconfig context to use")
	flags.BoolVar(&rootFlags.inCluster, "in-cluster", false, "Use in-cluster authentication (service account token) instead of kubeconfig")
	flags.Float32Var(&rootFlags.qpsLimit, "qps-limit", k8s.DefaultQPSLimit, "QPS limit for Kubernetes API calls")
	flags.IntVar(&rootFlags.burstLimit, "burst-limit", k8s.DefaultBurstLimit, "Burst limit for Kubernetes API calls")

	flags.BoolVar(&rootFlags.debugMode, "debug", false, "Enable debug logging")
}
