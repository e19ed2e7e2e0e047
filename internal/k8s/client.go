package k8s

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// ClientConfig holds configuration for the Kubernetes client.
type ClientConfig struct {
	// Kubeconfig settings
	KubeconfigPath string
	Context        string

	// InCluster uses service account authentication instead of kubeconfig.
	InCluster bool

	// Performance settings
	QPSLimit   float32
	BurstLimit int

	// Logging
	Logger *slog.Logger
}

// Client provides the cluster operations kdebug needs. It is safe for
// concurrent use; all mutable state is established during construction.
type Client struct {
	clientset  kubernetes.Interface
	restConfig *rest.Config
	namespace  string
	logger     *slog.Logger
}

// NewClient creates a Kubernetes client from the standard kubeconfig loading
// rules, or from in-cluster service account credentials when requested.
func NewClient(config *ClientConfig) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("client configuration is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.QPSLimit == 0 {
		config.QPSLimit = DefaultQPSLimit
	}
	if config.BurstLimit == 0 {
		config.BurstLimit = DefaultBurstLimit
	}

	var restConfig *rest.Config
	var namespace string
	var err error

	if config.InCluster {
		if err := validateInClusterEnvironment(); err != nil {
			return nil, fmt.Errorf("in-cluster authentication not available: %w", err)
		}
		restConfig, err = rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to create in-cluster rest config: %w", err)
		}
		namespace = inClusterNamespace()
		config.Logger.Info("Using in-cluster authentication")
	} else {
		restConfig, namespace, err = kubeconfigRestConfig(config)
		if err != nil {
			return nil, err
		}
		config.Logger.Debug("Using kubeconfig authentication",
			"context", config.Context, "namespace", namespace)
	}

	restConfig.QPS = config.QPSLimit
	restConfig.Burst = config.BurstLimit

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	return &Client{
		clientset:  clientset,
		restConfig: restConfig,
		namespace:  namespace,
		logger:     config.Logger,
	}, nil
}

// NewForClientset wraps an existing clientset. Exec is unavailable on the
// returned client; it exists so tests can drive the read paths against a
// fake clientset.
func NewForClientset(clientset kubernetes.Interface, namespace string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		clientset: clientset,
		namespace: namespace,
		logger:    logger,
	}
}

// DefaultNamespace returns the namespace of the active kubeconfig context,
// or "default" when the context does not name one.
func (c *Client) DefaultNamespace() string {
	if c.namespace == "" {
		return DefaultNamespace
	}
	return c.namespace
}

// kubeconfigRestConfig builds a rest config and resolves the context
// namespace from the kubeconfig loading rules.
func kubeconfigRestConfig(config *ClientConfig) (*rest.Config, string, error) {
	kubeconfigPath := config.KubeconfigPath
	if kconf := os.Getenv("KUBECONFIG"); kconf != "" && kubeconfigPath == "" {
		if strings.HasPrefix(kconf, "~/") {
			uhd, _ := os.UserHomeDir()
			kconf = filepath.Join(uhd, kconf[2:])
		}
		kubeconfigPath = kconf
	}

	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfigPath != "" {
		loadingRules.ExplicitPath = kubeconfigPath
	}

	clientConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		loadingRules,
		&clientcmd.ConfigOverrides{CurrentContext: config.Context},
	)

	restConfig, err := clientConfig.ClientConfig()
	if err != nil {
		return nil, "", fmt.Errorf("failed to load kubeconfig: %w", err)
	}

	namespace, _, err := clientConfig.Namespace()
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve kubeconfig namespace: %w", err)
	}

	return restConfig, namespace, nil
}

// validateInClusterEnvironment checks that the service account files exist.
func validateInClusterEnvironment() error {
	if _, err := os.Stat(DefaultTokenPath); os.IsNotExist(err) {
		return fmt.Errorf("service account token not found at %s", DefaultTokenPath)
	}
	if _, err := os.Stat(DefaultCACertPath); os.IsNotExist(err) {
		return fmt.Errorf("service account CA certificate not found at %s", DefaultCACertPath)
	}
	return nil
}

// inClusterNamespace reads the namespace the process runs in.
func inClusterNamespace() string {
	data, err := os.ReadFile(DefaultServiceAccountPath + "/namespace")
	if err != nil {
		return DefaultNamespace
	}
	if ns := strings.TrimSpace(string(data)); ns != "" {
		return ns
	}
	return DefaultNamespace
}
