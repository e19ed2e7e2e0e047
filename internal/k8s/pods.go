package k8s

import (
	"context"
	"fmt"
	"io"
	"net/http"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/remotecommand"
)

// ExecOptions configures the streams attached to an exec call.
type ExecOptions struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	TTY    bool

	// SizeQueue feeds terminal resize events to the remote TTY. Only
	// meaningful when TTY is set.
	SizeQueue remotecommand.TerminalSizeQueue
}

// GetPod retrieves a single pod.
func (c *Client) GetPod(ctx context.Context, namespace, name string) (*corev1.Pod, error) {
	c.logger.Debug("get pod", "namespace", namespace, "pod", name)
	return c.clientset.CoreV1().Pods(namespace).Get(ctx, name, metav1.GetOptions{})
}

// ListPods lists pods in a namespace.
func (c *Client) ListPods(ctx context.Context, namespace string, opts metav1.ListOptions) (*corev1.PodList, error) {
	c.logger.Debug("list pods", "namespace", namespace, "selector", opts.LabelSelector)
	return c.clientset.CoreV1().Pods(namespace).List(ctx, opts)
}

// GetDeployment retrieves a Deployment.
func (c *Client) GetDeployment(ctx context.Context, namespace, name string) (*appsv1.Deployment, error) {
	c.logger.Debug("get deployment", "namespace", namespace, "name", name)
	return c.clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
}

// GetStatefulSet retrieves a StatefulSet.
func (c *Client) GetStatefulSet(ctx context.Context, namespace, name string) (*appsv1.StatefulSet, error) {
	c.logger.Debug("get statefulset", "namespace", namespace, "name", name)
	return c.clientset.AppsV1().StatefulSets(namespace).Get(ctx, name, metav1.GetOptions{})
}

// GetDaemonSet retrieves a DaemonSet.
func (c *Client) GetDaemonSet(ctx context.Context, namespace, name string) (*appsv1.DaemonSet, error) {
	c.logger.Debug("get daemonset", "namespace", namespace, "name", name)
	return c.clientset.AppsV1().DaemonSets(namespace).Get(ctx, name, metav1.GetOptions{})
}

// ListReplicaSets lists ReplicaSets in a namespace. Used to walk the
// Deployment -> ReplicaSet -> Pod ownership chain.
func (c *Client) ListReplicaSets(ctx context.Context, namespace string, opts metav1.ListOptions) (*appsv1.ReplicaSetList, error) {
	c.logger.Debug("list replicasets", "namespace", namespace)
	return c.clientset.AppsV1().ReplicaSets(namespace).List(ctx, opts)
}

// AddEphemeralContainer appends an ephemeral container to a pod via the
// ephemeralcontainers subresource. This is a single atomic API call; the
// server rejects it when the pod cannot accept ephemeral containers.
func (c *Client) AddEphemeralContainer(ctx context.Context, namespace, podName string, ec corev1.EphemeralContainer) (*corev1.Pod, error) {
	c.logger.Debug("add ephemeral container",
		"namespace", namespace, "pod", podName, "container", ec.Name, "image", ec.Image)

	pod, err := c.clientset.CoreV1().Pods(namespace).Get(ctx, podName, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get pod %s/%s: %w", namespace, podName, err)
	}

	pod.Spec.EphemeralContainers = append(pod.Spec.EphemeralContainers, ec)

	updated, err := c.clientset.CoreV1().Pods(namespace).UpdateEphemeralContainers(ctx, podName, pod, metav1.UpdateOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to update ephemeral containers of pod %s/%s: %w", namespace, podName, err)
	}
	return updated, nil
}

// Exec executes a command inside a pod container, streaming through the
// configured stdio. It blocks until the remote process exits or ctx is
// cancelled. A nonzero remote exit surfaces as an exec.CodeExitError.
func (c *Client) Exec(ctx context.Context, namespace, podName, containerName string, command []string, opts ExecOptions) error {
	if c.restConfig == nil {
		return fmt.Errorf("exec is not available on this client")
	}

	c.logger.Debug("exec",
		"namespace", namespace, "pod", podName, "container", containerName, "command", command)

	execReq := c.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(podName).
		Namespace(namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: containerName,
			Command:   command,
			Stdin:     opts.Stdin != nil,
			Stdout:    opts.Stdout != nil,
			Stderr:    opts.Stderr != nil,
			TTY:       opts.TTY,
		}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(c.restConfig, http.MethodPost, execReq.URL())
	if err != nil {
		return fmt.Errorf("failed to create executor: %w", err)
	}

	return exec.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdin:             opts.Stdin,
		Stdout:            opts.Stdout,
		Stderr:            opts.Stderr,
		Tty:               opts.TTY,
		TerminalSizeQueue: opts.SizeQueue,
	})
}
