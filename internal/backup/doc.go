// Package backup streams files and directory trees out of a running
// container onto local disk.
//
// Transfers run over an exec stream into the debug container, reading the
// target's filesystem through the shared process-namespace view. Single
// files copy byte-for-byte; directories stream as tar, optionally gzipped
// on the local side so the payload is never buffered in full anywhere.
// A transfer that dies mid-stream deletes its partial artifact instead of
// leaving a corrupt backup behind.
package backup
