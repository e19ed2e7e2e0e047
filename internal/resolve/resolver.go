package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/jessegoodier/kdebug/internal/logging"
)

// Client is the slice of cluster read operations the resolver needs.
// *k8s.Client satisfies it, so resolution reads share the same debug
// logging as every other API call.
type Client interface {
	GetPod(ctx context.Context, namespace, name string) (*corev1.Pod, error)
	ListPods(ctx context.Context, namespace string, opts metav1.ListOptions) (*corev1.PodList, error)
	GetDeployment(ctx context.Context, namespace, name string) (*appsv1.Deployment, error)
	GetStatefulSet(ctx context.Context, namespace, name string) (*appsv1.StatefulSet, error)
	GetDaemonSet(ctx context.Context, namespace, name string) (*appsv1.DaemonSet, error)
	ListReplicaSets(ctx context.Context, namespace string, opts metav1.ListOptions) (*appsv1.ReplicaSetList, error)
}

// Resolver resolves target selectors against the cluster.
type Resolver struct {
	client Client
	logger *slog.Logger
}

// New creates a Resolver.
func New(client Client, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		client: client,
		logger: logging.WithOperation(logger, "resolve"),
	}
}

// Resolve turns a selector into a concrete target. The returned pod was in
// Phase=Running at resolution time; this is best-effort and may race with
// cluster state.
func (r *Resolver) Resolve(ctx context.Context, namespace string, sel Selector) (*Target, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}

	var pod *corev1.Pod
	var err error

	if sel.PodName != "" {
		pod, err = r.podByName(ctx, namespace, sel.PodName)
	} else {
		pod, err = r.podByController(ctx, namespace, sel.ControllerKind, sel.ControllerName)
	}
	if err != nil {
		return nil, err
	}

	container, err := pickContainer(pod, sel.ContainerName)
	if err != nil {
		return nil, err
	}

	target := &Target{
		Namespace:     pod.Namespace,
		PodName:       pod.Name,
		ContainerName: container,
		NodeName:      pod.Spec.NodeName,
	}
	r.logger.Info("resolved target",
		logging.Namespace(target.Namespace),
		logging.Pod(target.PodName),
		logging.Container(target.ContainerName))
	return target, nil
}

// podByName looks up a pod directly and requires it to be Running.
func (r *Resolver) podByName(ctx context.Context, namespace, name string) (*corev1.Pod, error) {
	pod, err := r.client.GetPod(ctx, namespace, name)
	if err != nil {
		return nil, classifyAPIError("pod lookup", "Pod", namespace, name, err)
	}
	if pod.Status.Phase != corev1.PodRunning {
		return nil, &NoRunningPodsError{Kind: "Pod", Namespace: namespace, Name: name}
	}
	return pod, nil
}

// podByController enumerates the pods the controller currently manages and
// picks one deterministically.
func (r *Resolver) podByController(ctx context.Context, namespace string, kind ControllerKind, name string) (*corev1.Pod, error) {
	owned, err := r.managedPods(ctx, namespace, kind, name)
	if err != nil {
		return nil, err
	}

	running := owned[:0]
	for _, pod := range owned {
		if pod.Status.Phase == corev1.PodRunning {
			running = append(running, pod)
		}
	}
	if len(running) == 0 {
		return nil, &NoRunningPodsError{Kind: string(kind), Namespace: namespace, Name: name}
	}

	// Stable pick: Ready pods before not-ready ones, then the pod Running
	// longest, then name. Repeated invocations against an unchanged
	// workload land on the same pod instead of flapping to fresh ones.
	sort.SliceStable(running, func(i, j int) bool {
		ri, rj := isReady(running[i]), isReady(running[j])
		if ri != rj {
			return ri
		}
		si, sj := running[i].Status.StartTime, running[j].Status.StartTime
		switch {
		case si == nil && sj != nil:
			return false
		case si != nil && sj == nil:
			return true
		case si != nil && sj != nil && !si.Equal(sj):
			return si.Before(sj)
		}
		return running[i].Name < running[j].Name
	})

	picked := running[0]
	if len(running) > 1 {
		r.logger.Info("multiple running pods, selecting oldest ready pod",
			logging.Controller(string(kind), name),
			logging.Pod(picked.Name),
			slog.Int("candidates", len(running)))
	}
	return picked, nil
}

// managedPods returns the pods currently owned by the controller via owner
// references. Deployments are followed through their ReplicaSets.
func (r *Resolver) managedPods(ctx context.Context, namespace string, kind ControllerKind, name string) ([]*corev1.Pod, error) {
	// Confirm the controller exists so a missing workload reports NotFound
	// rather than an empty pod list.
	var selector *metav1.LabelSelector
	switch kind {
	case KindDeployment:
		dep, err := r.client.GetDeployment(ctx, namespace, name)
		if err != nil {
			return nil, classifyAPIError("controller lookup", string(kind), namespace, name, err)
		}
		selector = dep.Spec.Selector
	case KindStatefulSet:
		sts, err := r.client.GetStatefulSet(ctx, namespace, name)
		if err != nil {
			return nil, classifyAPIError("controller lookup", string(kind), namespace, name, err)
		}
		selector = sts.Spec.Selector
	case KindDaemonSet:
		ds, err := r.client.GetDaemonSet(ctx, namespace, name)
		if err != nil {
			return nil, classifyAPIError("controller lookup", string(kind), namespace, name, err)
		}
		selector = ds.Spec.Selector
	default:
		return nil, fmt.Errorf("unsupported controller kind %q", kind)
	}

	// The label selector narrows the listing; ownership is still decided by
	// owner references, never by labels alone.
	listOpts := metav1.ListOptions{}
	if selector != nil {
		listOpts.LabelSelector = metav1.FormatLabelSelector(selector)
	}
	pods, err := r.client.ListPods(ctx, namespace, listOpts)
	if err != nil {
		return nil, classifyAPIError("pod listing", string(kind), namespace, name, err)
	}

	ownerNames := map[string]bool{name: true}
	ownerKind := string(kind)
	if kind == KindDeployment {
		// Pods of a Deployment are owned by its ReplicaSets.
		ownerKind = "ReplicaSet"
		ownerNames, err = r.replicaSetsOf(ctx, namespace, name, listOpts.LabelSelector)
		if err != nil {
			return nil, err
		}
	}

	var owned []*corev1.Pod
	for i := range pods.Items {
		pod := &pods.Items[i]
		for _, ref := range pod.OwnerReferences {
			if ref.Kind == ownerKind && ownerNames[ref.Name] {
				owned = append(owned, pod)
				break
			}
		}
	}
	return owned, nil
}

// replicaSetsOf returns the names of the ReplicaSets owned by a Deployment.
func (r *Resolver) replicaSetsOf(ctx context.Context, namespace, deployment, labelSelector string) (map[string]bool, error) {
	rsList, err := r.client.ListReplicaSets(ctx, namespace, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		return nil, classifyAPIError("replicaset listing", "Deployment", namespace, deployment, err)
	}

	names := make(map[string]bool)
	for i := range rsList.Items {
		rs := &rsList.Items[i]
		for _, ref := range rs.OwnerReferences {
			if ref.Kind == string(KindDeployment) && ref.Name == deployment {
				names[rs.Name] = true
				break
			}
		}
	}
	return names, nil
}

// pickContainer selects the target container from the pod spec. Single
// container pods resolve implicitly; anything else needs an explicit name.
func pickContainer(pod *corev1.Pod, requested string) (string, error) {
	names := make([]string, 0, len(pod.Spec.Containers))
	for _, c := range pod.Spec.Containers {
		names = append(names, c.Name)
	}

	if requested != "" {
		for _, n := range names {
			if n == requested {
				return n, nil
			}
		}
		return "", &NotFoundError{Kind: "Container", Namespace: pod.Namespace, Name: requested}
	}

	switch len(names) {
	case 0:
		return "", &NotFoundError{Kind: "Container", Namespace: pod.Namespace, Name: pod.Name}
	case 1:
		return names[0], nil
	default:
		return "", &AmbiguousContainerError{Namespace: pod.Namespace, Pod: pod.Name, Containers: names}
	}
}

// isReady reports whether the pod has a True Ready condition.
func isReady(pod *corev1.Pod) bool {
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

// classifyAPIError maps API server failures onto the package error taxonomy.
func classifyAPIError(operation, kind, namespace, name string, err error) error {
	switch {
	case apierrors.IsNotFound(err):
		return &NotFoundError{Kind: kind, Namespace: namespace, Name: name, Err: err}
	case apierrors.IsForbidden(err) || apierrors.IsUnauthorized(err):
		return &PermissionDeniedError{Operation: operation, Err: err}
	default:
		return fmt.Errorf("%s for %s %s/%s failed: %w", operation, kind, namespace, name, err)
	}
}
