// Package localfs implements the host file-system and path/guid mapping
// collaborators over the OS, scoped to a single project root.
package localfs
