// Package drift keeps the tracking index honest about the file system:
// a watcher reacts to external deletions as they happen, and Scan does a
// full reconcile pass for startup and scheduled sweeps.
package drift
