// Package cmd provides the command-line interface for kdebug.
//
// This package implements a Cobra-based CLI. The root command runs a debug
// session directly; there are no operational subcommands:
//
//	kdebug [flags]        # Attach a debug container to the selected pod
//	kdebug version        # Shows version information
//	kdebug help           # Shows help information
//
// The root command selects its target by pod name (--pod) or by controller
// (--controller plus --controller-name), and runs in one of two modes:
// interactive (default, opens a shell in the injected debug container) or
// backup (--backup, copies a path from the target's filesystem to a local
// artifact). See the root command's long help for examples.
package cmd
