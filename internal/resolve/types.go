package resolve

import (
	"fmt"
	"strings"
)

// ControllerKind identifies a workload controller type. The set is closed:
// only controllers whose pods can be enumerated through owner references
// are supported.
type ControllerKind string

const (
	KindDeployment  ControllerKind = "Deployment"
	KindStatefulSet ControllerKind = "StatefulSet"
	KindDaemonSet   ControllerKind = "DaemonSet"
)

// controllerAliases maps accepted spellings to canonical kinds.
var controllerAliases = map[string]ControllerKind{
	"deployment":  KindDeployment,
	"deploy":      KindDeployment,
	"statefulset": KindStatefulSet,
	"sts":         KindStatefulSet,
	"daemonset":   KindDaemonSet,
	"ds":          KindDaemonSet,
}

// ParseControllerKind normalizes a user-supplied controller type, accepting
// the common kubectl aliases (deploy, sts, ds).
func ParseControllerKind(s string) (ControllerKind, error) {
	kind, ok := controllerAliases[strings.ToLower(s)]
	if !ok {
		return "", fmt.Errorf("unknown controller type %q (supported: %s)",
			s, strings.Join(supportedControllerTypes(), ", "))
	}
	return kind, nil
}

func supportedControllerTypes() []string {
	return []string{"deployment", "deploy", "statefulset", "sts", "daemonset", "ds"}
}

// Selector describes which pod to act on. Exactly one of PodName or the
// ControllerKind/ControllerName pair must be set.
type Selector struct {
	PodName        string
	ControllerKind ControllerKind
	ControllerName string

	// ContainerName optionally pins the target container. Required for
	// multi-container pods.
	ContainerName string
}

// Validate checks the exactly-one-of invariant.
func (s Selector) Validate() error {
	byPod := s.PodName != ""
	byController := s.ControllerKind != "" || s.ControllerName != ""

	switch {
	case byPod && byController:
		return fmt.Errorf("pod and controller selection are mutually exclusive")
	case !byPod && !byController:
		return fmt.Errorf("either a pod or a controller must be specified")
	case byController && s.ControllerKind == "":
		return fmt.Errorf("controller type is required when selecting by controller")
	case byController && s.ControllerName == "":
		return fmt.Errorf("controller name is required when selecting by controller")
	}
	return nil
}

// Target is the concrete triple a debug session acts upon. Immutable once
// produced.
type Target struct {
	Namespace     string
	PodName       string
	ContainerName string
	NodeName      string
}

func (t Target) String() string {
	return fmt.Sprintf("%s/%s[%s]", t.Namespace, t.PodName, t.ContainerName)
}
