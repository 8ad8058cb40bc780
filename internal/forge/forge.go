// Package forge builds small static web artifacts from a task brief and
// publishes them somewhere a participant callback can point at. Building is
// pure (same request, same files); publishing owns all side effects.
package forge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"practicum/internal/store"
)

// FileSet maps relative file paths to their contents.
type FileSet map[string]string

// ContentID derives a stable identifier from the file set. Equal file sets
// always produce the same id, which is what makes callback re-delivery
// detectable as idempotent.
func (fs FileSet) ContentID() string {
	names := make([]string, 0, len(fs))
	for name := range fs {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write([]byte(fs[name]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

// BuildRequest carries everything a build needs from an inbound task.
type BuildRequest struct {
	TaskID      string
	Round       int
	Brief       string
	Checks      []store.Check
	Attachments []store.Attachment
}

// Generator turns a build request into a file set. Implementations must be
// pure: no network, no clock, no side effects.
type Generator interface {
	Build(ctx context.Context, req BuildRequest) (FileSet, error)
	Revise(ctx context.Context, req BuildRequest, existing FileSet) (FileSet, error)
}

// Publication is where a published file set ended up.
type Publication struct {
	ArtifactLocation string
	ContentID        string
	RenderedURL      string
}

// Publisher deploys a file set under a target name and reports back the
// locations a submission callback carries.
type Publisher interface {
	Publish(ctx context.Context, fs FileSet, target string) (*Publication, error)
	// Load returns the previously published file set for target, or nil if
	// nothing was published there. Revision builds start from it.
	Load(ctx context.Context, target string) (FileSet, error)
}
