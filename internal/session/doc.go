// Package session sequences one kdebug invocation: resolve the target,
// launch the ephemeral debug container, run the interactive shell or the
// backup transfer, and always clean up.
//
// The lifecycle is a small state machine. Once launching has created
// cluster-side state, every path - success, error, interrupt - passes
// through Cleaning before reaching a terminal state, so the debug
// container's termination is attempted exactly once from a single unwind
// point.
package session
