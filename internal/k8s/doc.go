// Package k8s wraps the client-go machinery kdebug needs to drive a debug
// session: typed pod and workload reads, the ephemeralcontainers subresource,
// and SPDY exec streams.
//
// The package exposes a concrete *Client built from the standard kubeconfig
// loading rules (KUBECONFIG, ~/.kube/config) or in-cluster service account
// credentials. Consumers declare their own narrow interfaces over the methods
// they use, which keeps them testable against hand-written fakes while this
// package stays a thin, honest view of the cluster API.
package k8s
