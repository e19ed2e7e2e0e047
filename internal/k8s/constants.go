package k8s

const (
	// Service account paths - default Kubernetes in-cluster locations
	DefaultServiceAccountPath = "/var/run/secrets/kubernetes.io/serviceaccount"
	DefaultTokenPath          = DefaultServiceAccountPath + "/token"
	DefaultCACertPath         = DefaultServiceAccountPath + "/ca.crt"

	// Default performance settings. No client-side request timeout is set:
	// exec streams stay open for the length of an interactive session and
	// must not be cut by the HTTP client.
	DefaultQPSLimit   = 20.0
	DefaultBurstLimit = 30

	// Fallback namespace when the kubeconfig context does not name one
	DefaultNamespace = "default"
)
