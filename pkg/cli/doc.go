// Package cli implements the stash command line interface.
//
// Commands that move bytes (import, update, remove, list) wire the full
// component graph in-process and run to completion in the foreground.
// serve runs the long-lived daemon; status talks to a running daemon
// over its HTTP API.
package cli
