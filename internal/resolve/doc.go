// Package resolve turns loose target selectors into one concrete
// (namespace, pod, container) triple.
//
// A selector names either a pod directly or a workload controller
// (Deployment, StatefulSet, DaemonSet). Controller-based resolution
// enumerates the currently managed Running pods and picks one
// deterministically: Ready pods first, longest-running first, so repeated
// invocations against a stable workload land on the same pod.
//
// Resolution is read-only; it never mutates cluster state.
package resolve
