// Package config provides environment-based configuration loading.
//
// All settings come from STASH_* environment variables with sensible
// defaults, so a bare `stash` invocation works against a local registry
// without any setup. LoadConfig validates the result before returning
// it.
package config
