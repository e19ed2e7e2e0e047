package resolve

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/jessegoodier/kdebug/internal/k8s"
)

var testLabels = map[string]string{"app": "web"}

type podOption func(*corev1.Pod)

func withContainers(names ...string) podOption {
	return func(pod *corev1.Pod) {
		pod.Spec.Containers = nil
		for _, n := range names {
			pod.Spec.Containers = append(pod.Spec.Containers, corev1.Container{Name: n})
		}
	}
}

func withOwner(kind, name string) podOption {
	return func(pod *corev1.Pod) {
		pod.OwnerReferences = append(pod.OwnerReferences, metav1.OwnerReference{
			Kind: kind,
			Name: name,
		})
	}
}

func withPhase(phase corev1.PodPhase) podOption {
	return func(pod *corev1.Pod) { pod.Status.Phase = phase }
}

func withStart(start time.Time) podOption {
	return func(pod *corev1.Pod) {
		t := metav1.NewTime(start)
		pod.Status.StartTime = &t
	}
}

func notReady() podOption {
	return func(pod *corev1.Pod) {
		pod.Status.Conditions = []corev1.PodCondition{
			{Type: corev1.PodReady, Status: corev1.ConditionFalse},
		}
	}
}

func makePod(name string, opts ...podOption) *corev1.Pod {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: "default",
			Name:      name,
			Labels:    testLabels,
		},
		Spec: corev1.PodSpec{
			NodeName:   "node-1",
			Containers: []corev1.Container{{Name: "app"}},
		},
		Status: corev1.PodStatus{
			Phase: corev1.PodRunning,
			Conditions: []corev1.PodCondition{
				{Type: corev1.PodReady, Status: corev1.ConditionTrue},
			},
		},
	}
	for _, opt := range opts {
		opt(pod)
	}
	return pod
}

func makeDeployment(name string) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: name},
		Spec: appsv1.DeploymentSpec{
			Selector: &metav1.LabelSelector{MatchLabels: testLabels},
		},
	}
}

func makeReplicaSet(name, deployment string) *appsv1.ReplicaSet {
	return &appsv1.ReplicaSet{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: "default",
			Name:      name,
			Labels:    testLabels,
			OwnerReferences: []metav1.OwnerReference{
				{Kind: "Deployment", Name: deployment},
			},
		},
	}
}

func makeStatefulSet(name string) *appsv1.StatefulSet {
	return &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: name},
		Spec: appsv1.StatefulSetSpec{
			Selector: &metav1.LabelSelector{MatchLabels: testLabels},
		},
	}
}

func newResolver(objects ...runtime.Object) *Resolver {
	return New(k8s.NewForClientset(fake.NewSimpleClientset(objects...), "default", nil), nil)
}

func TestResolve_ByPodName(t *testing.T) {
	t.Run("single container resolves implicitly", func(t *testing.T) {
		r := newResolver(makePod("web-0"))

		target, err := r.Resolve(t.Context(), "default", Selector{PodName: "web-0"})
		require.NoError(t, err)
		assert.Equal(t, "default", target.Namespace)
		assert.Equal(t, "web-0", target.PodName)
		assert.Equal(t, "app", target.ContainerName)
		assert.Equal(t, "node-1", target.NodeName)
	})

	t.Run("multi container requires explicit name", func(t *testing.T) {
		r := newResolver(makePod("web-0", withContainers("app", "sidecar")))

		_, err := r.Resolve(t.Context(), "default", Selector{PodName: "web-0"})
		require.ErrorIs(t, err, ErrAmbiguousContainer)
		assert.Contains(t, err.Error(), "app, sidecar")
	})

	t.Run("explicit container must exist", func(t *testing.T) {
		r := newResolver(makePod("web-0", withContainers("app", "sidecar")))

		target, err := r.Resolve(t.Context(), "default", Selector{PodName: "web-0", ContainerName: "sidecar"})
		require.NoError(t, err)
		assert.Equal(t, "sidecar", target.ContainerName)

		_, err = r.Resolve(t.Context(), "default", Selector{PodName: "web-0", ContainerName: "nope"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("missing pod", func(t *testing.T) {
		r := newResolver()

		_, err := r.Resolve(t.Context(), "default", Selector{PodName: "ghost"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("pod not running", func(t *testing.T) {
		r := newResolver(makePod("web-0", withPhase(corev1.PodPending)))

		_, err := r.Resolve(t.Context(), "default", Selector{PodName: "web-0"})
		assert.ErrorIs(t, err, ErrNoRunningPods)
	})
}

func TestResolve_ByDeployment(t *testing.T) {
	now := time.Now()
	objects := []runtime.Object{
		makeDeployment("web"),
		makeReplicaSet("web-7d9f", "web"),
		makePod("web-7d9f-young", withOwner("ReplicaSet", "web-7d9f"), withStart(now)),
		makePod("web-7d9f-old", withOwner("ReplicaSet", "web-7d9f"), withStart(now.Add(-time.Hour))),
		// Pod with matching labels but foreign owner must be ignored.
		makePod("web-other", withOwner("ReplicaSet", "other-rs"), withStart(now.Add(-2*time.Hour))),
	}

	sel := Selector{ControllerKind: KindDeployment, ControllerName: "web"}

	t.Run("picks longest running owned pod deterministically", func(t *testing.T) {
		r := newResolver(objects...)
		for range 3 {
			target, err := r.Resolve(t.Context(), "default", sel)
			require.NoError(t, err)
			assert.Equal(t, "web-7d9f-old", target.PodName)
		}
	})

	t.Run("ready beats older not-ready", func(t *testing.T) {
		r := newResolver(
			makeDeployment("web"),
			makeReplicaSet("web-7d9f", "web"),
			makePod("web-7d9f-notready", withOwner("ReplicaSet", "web-7d9f"), withStart(now.Add(-time.Hour)), notReady()),
			makePod("web-7d9f-ready", withOwner("ReplicaSet", "web-7d9f"), withStart(now)),
		)
		target, err := r.Resolve(t.Context(), "default", sel)
		require.NoError(t, err)
		assert.Equal(t, "web-7d9f-ready", target.PodName)
	})

	t.Run("no running pods", func(t *testing.T) {
		r := newResolver(
			makeDeployment("web"),
			makeReplicaSet("web-7d9f", "web"),
			makePod("web-7d9f-pending", withOwner("ReplicaSet", "web-7d9f"), withPhase(corev1.PodPending)),
		)
		_, err := r.Resolve(t.Context(), "default", sel)
		assert.ErrorIs(t, err, ErrNoRunningPods)
	})

	t.Run("missing deployment", func(t *testing.T) {
		r := newResolver()
		_, err := r.Resolve(t.Context(), "default", sel)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestResolve_ByStatefulSet(t *testing.T) {
	r := newResolver(
		makeStatefulSet("aggregator"),
		makePod("aggregator-0", withOwner("StatefulSet", "aggregator")),
		makePod("loner"),
	)

	target, err := r.Resolve(t.Context(), "default", Selector{
		ControllerKind: KindStatefulSet, ControllerName: "aggregator",
	})
	require.NoError(t, err)
	assert.Equal(t, "aggregator-0", target.PodName)
}

func TestParseControllerKind(t *testing.T) {
	for alias, want := range map[string]ControllerKind{
		"deployment":  KindDeployment,
		"deploy":      KindDeployment,
		"Deploy":      KindDeployment,
		"statefulset": KindStatefulSet,
		"sts":         KindStatefulSet,
		"daemonset":   KindDaemonSet,
		"ds":          KindDaemonSet,
	} {
		kind, err := ParseControllerKind(alias)
		require.NoError(t, err, alias)
		assert.Equal(t, want, kind, alias)
	}

	_, err := ParseControllerKind("cronjob")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown controller type")
}

func TestSelector_Validate(t *testing.T) {
	tests := []struct {
		name    string
		sel     Selector
		wantErr string
	}{
		{"pod only", Selector{PodName: "web-0"}, ""},
		{"controller only", Selector{ControllerKind: KindDeployment, ControllerName: "web"}, ""},
		{"both", Selector{PodName: "web-0", ControllerKind: KindDeployment, ControllerName: "web"}, "mutually exclusive"},
		{"neither", Selector{}, "either a pod or a controller"},
		{"controller name missing", Selector{ControllerKind: KindDeployment}, "controller name is required"},
		{"controller kind missing", Selector{ControllerName: "web"}, "controller type is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sel.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestResolve_LogsAPIReadsAtDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	clientset := fake.NewSimpleClientset(
		makeDeployment("web"),
		makeReplicaSet("web-7d9f", "web"),
		makePod("web-7d9f-abc", withOwner("ReplicaSet", "web-7d9f")),
	)
	r := New(k8s.NewForClientset(clientset, "default", logger), logger)

	_, err := r.Resolve(t.Context(), "default", Selector{ControllerKind: KindDeployment, ControllerName: "web"})
	require.NoError(t, err)

	// Resolution reads run through the shared client wrapper, so --debug
	// shows every underlying API call, not just exec and patch.
	logs := buf.String()
	assert.Contains(t, logs, "get deployment")
	assert.Contains(t, logs, "list replicasets")
	assert.Contains(t, logs, "list pods")
}
