// Package fetch implements the storage backends that model artifacts are
// downloaded from.
//
// The two backends differ in caching policy, not only in transport:
//
//   - RepositoryBackend treats any existing local file as authoritative and
//     never contacts the network for it, even when an update check is
//     requested. It has no remote digest to compare against.
//   - ObjectStorageBackend consults a digest index when an update check is
//     requested and only downloads when the local digest differs. Index
//     failures force a download.
//
// Both return errs.ErrUpToDate when the local copy should be reused.
package fetch

import (
	"context"
	"io"
	"os"
)

// Backend produces the current bytes of a named model artifact.
type Backend interface {
	// Name identifies the backend in logs, metrics and the fetch ledger.
	Name() string
	// Fetch applies the backend's caching policy for req and returns either
	// the artifact to persist or an error matching errs.ErrUpToDate.
	Fetch(ctx context.Context, req Request) (*Artifact, error)
}

// Request describes one model lookup.
type Request struct {
	Model       string
	LocalPath   string
	UpdateCheck bool
}

// Artifact is a downloaded model. Body must be closed by the caller.
type Artifact struct {
	Body io.ReadCloser
	// Size is the advertised length in bytes, or -1 when unknown.
	Size int64
	// Digest is the expected hex SHA-256 of Body, or "" when the backend
	// has none.
	Digest string
}

// FileExists reports whether path names an existing regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
