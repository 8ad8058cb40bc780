package forge

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"practicum/internal/logging"
)

// DirPublisher deploys file sets under a root directory, one subdirectory per
// target, and reports rendered URLs relative to a base URL where that root is
// served. Republishing a target fully replaces its previous contents.
type DirPublisher struct {
	root    string
	baseURL string
	logger  *slog.Logger
}

// NewDirPublisher creates a publisher writing under root, served at baseURL.
func NewDirPublisher(root, baseURL string) *DirPublisher {
	return &DirPublisher{
		root:    root,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logging.New("forge"),
	}
}

// Publish writes the file set under root/target and returns its locations.
func (p *DirPublisher) Publish(_ context.Context, fs FileSet, target string) (*Publication, error) {
	if target == "" || strings.ContainsAny(target, "/\\") {
		return nil, fmt.Errorf("invalid target name %q", target)
	}
	dir := filepath.Join(p.root, target)
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("clear %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	for name, content := range fs {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create dir for %s: %w", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
	}

	rendered, err := url.JoinPath(p.baseURL, target)
	if err != nil {
		return nil, fmt.Errorf("join rendered url: %w", err)
	}
	pub := &Publication{
		ArtifactLocation: dir,
		ContentID:        fs.ContentID(),
		RenderedURL:      rendered,
	}
	p.logger.Info("published", "target", target, "files", len(fs), "content_id", pub.ContentID)
	return pub, nil
}

// Load reads back the file set previously published for target.
func (p *DirPublisher) Load(_ context.Context, target string) (FileSet, error) {
	dir := filepath.Join(p.root, target)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	fs := FileSet{}
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}
		fs[filepath.ToSlash(rel)] = string(content)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", target, err)
	}
	return fs, nil
}
