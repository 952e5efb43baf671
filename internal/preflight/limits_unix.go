//go:build unix

package preflight

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors(helpers int) Check {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return Check{Name: "file_descriptors", Passed: true, Warning: true, Message: err.Error()}
	}

	// The runner and every helper hold pipes and redirects, the status
	// server one socket per channel, and the result logs six files.
	required := 64 + helpers*8
	actual := int(min(limit.Cur, 1<<30))

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d)", actual, required),
	}
}

// checkCoreLimit warns when a zero core size limit keeps crashed runners
// from leaving cores behind.
func checkCoreLimit() Check {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_CORE, &limit); err != nil {
		return Check{Name: "core_limit", Passed: true, Warning: true, Message: err.Error()}
	}
	switch {
	case limit.Cur >= 1<<62:
		return Check{Name: "core_limit", Passed: true, Message: "unlimited"}
	case limit.Cur == 0:
		return Check{Name: "core_limit", Passed: true, Warning: true, Message: "ulimit -c 0, crashes will leave no core"}
	}
	return Check{Name: "core_limit", Passed: true, Message: fmt.Sprintf("%d bytes", limit.Cur)}
}
