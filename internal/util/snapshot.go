package util

import (
	"fmt"
	"strings"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
)

// defaultSnapshotPaths mirrors the paths a sidecar is expected to persist:
// the agent's home directory and whatever state the sidecar itself keeps.
var defaultSnapshotPaths = []string{"/home/agent", "/var/lib/sidecar"}

// BuildSnapshotUploadCommand composes the `sh -c` script the reaper execs
// inside a running container to tar the requested paths (at least one
// required) and stream the archive to destination via curl.
func BuildSnapshotUploadCommand(destination string, paths []string) (string, error) {
	if len(paths) == 0 {
		paths = defaultSnapshotPaths
	}
	if len(paths) == 0 {
		return "", apierr.Validation("snapshot command requires at least one path")
	}
	if destination == "" {
		return "", apierr.Validation("snapshot command requires a destination")
	}

	escapedPaths := make([]string, 0, len(paths))
	for _, p := range paths {
		escapedPaths = append(escapedPaths, ShellEscape(p))
	}

	return fmt.Sprintf(
		"tar -czf - %s | curl -sf -X PUT --data-binary @- %s",
		strings.Join(escapedPaths, " "),
		ShellEscape(destination),
	), nil
}

// BuildSnapshotRestoreCommand composes the exec'd command the cold-resume
// path runs to pull an archive back down and unpack it in place.
func BuildSnapshotRestoreCommand(source string) (string, error) {
	if source == "" {
		return "", apierr.Validation("snapshot restore command requires a source URL")
	}
	return fmt.Sprintf("curl %s | tar -xzf -", ShellEscape(source)), nil
}
