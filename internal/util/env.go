package util

import "os"

// MergeEnv appends extra entries to the current process environment.
// Later entries win when a key is repeated.
func MergeEnv(extra []string) []string {
	env := make([]string, 0, len(os.Environ())+len(extra))
	env = append(env, os.Environ()...)
	return append(env, extra...)
}
