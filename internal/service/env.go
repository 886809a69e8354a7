package service

import (
	"fmt"
	"sort"
	"strings"
)

// Checks that env carries every wanted variable with its exact value.
// Every offender is named in the returned [ErrEnvMismatch].
func CheckEnv(env []string, want map[string]string) error {
	have := make(map[string]string, len(env))
	for _, entry := range env {
		if k, v, ok := strings.Cut(entry, "="); ok {
			have[k] = v
		}
	}

	keys := make([]string, 0, len(want))
	for k := range want {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var problems []string
	for _, k := range keys {
		v, ok := have[k]
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("%s is not set", k))
		case v != want[k]:
			problems = append(problems, fmt.Sprintf("%s=%q, want %q", k, v, want[k]))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrEnvMismatch, strings.Join(problems, "; "))
	}
	return nil
}
