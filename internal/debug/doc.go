// Package debug drives the ephemeral debug container lifecycle: injecting
// the container into the target pod, waiting for it to reach Running,
// probing for a usable shell, attaching an interactive session, and
// terminating on the way out.
//
// The injected container shares the target container's process namespace
// (EphemeralContainer.TargetContainerName), which is what lets a shell in
// the debug container reach the target's filesystem through /proc/1/root
// without any volume mounts.
//
// Ephemeral containers cannot be removed from a pod spec once added, so
// termination is best-effort by design: the holder process is signalled and
// the true outcome (terminated vs still running until the holder exits) is
// reported rather than papered over.
package debug
