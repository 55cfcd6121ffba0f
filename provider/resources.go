package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/shaharia-lab/mcpstdio/mcp"
	"github.com/shaharia-lab/mcpstdio/observability"
)

const (
	fileScheme       = "file://"
	resourceMimeType = "text/plain"
)

// ErrOutsideRoot is returned when a resource path resolves outside the root.
var ErrOutsideRoot = errors.New("access denied: path outside resource root")

// DirectoryResources serves the regular files directly under one root
// directory as text resources.
type DirectoryResources struct {
	root   string
	logger observability.Logger
}

// NewDirectoryResources canonicalizes root and returns a provider for it.
func NewDirectoryResources(root string, logger observability.Logger) (*DirectoryResources, error) {
	if logger == nil {
		logger = observability.NewNullLogger()
	}

	canonical, err := canonicalize(root)
	if err != nil {
		return nil, fmt.Errorf("resource root %q: %w", root, err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("resource root %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("resource root %q is not a directory", root)
	}

	return &DirectoryResources{root: canonical, logger: logger}, nil
}

// Root returns the canonical root directory.
func (d *DirectoryResources) Root() string {
	return d.root
}

// ListResources lists regular files under the root, following symlinks.
func (d *DirectoryResources) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", d.root, err)
	}

	resources := make([]mcp.Resource, 0, len(entries))
	for _, entry := range entries {
		path := filepath.Join(d.root, entry.Name())
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		resources = append(resources, mcp.Resource{
			URI:      fileScheme + path,
			Name:     entry.Name(),
			MimeType: resourceMimeType,
		})
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i].Name < resources[j].Name })
	return resources, nil
}

// ReadResource returns the text of the file behind uri. The path is resolved
// through every symlink before it is checked against the root.
func (d *DirectoryResources) ReadResource(ctx context.Context, uri string) ([]mcp.ResourceContent, error) {
	if !strings.HasPrefix(uri, fileScheme) {
		return nil, fmt.Errorf("invalid URI scheme: %q", uri)
	}

	path := strings.TrimPrefix(uri, fileScheme)
	if !filepath.IsAbs(path) {
		path = filepath.Join(d.root, path)
	}

	resolved, err := canonicalize(path)
	if err != nil {
		return nil, err
	}
	if !within(d.root, resolved) {
		d.logger.WithFields(map[string]interface{}{
			"uri":      uri,
			"resolved": resolved,
			"root":     d.root,
		}).Warn("Resource path escapes root")
		return nil, ErrOutsideRoot
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", resolved)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%s is not UTF-8 text", resolved)
	}

	return []mcp.ResourceContent{{
		URI:      uri,
		MimeType: resourceMimeType,
		Text:     string(data),
	}}, nil
}

func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// within reports whether path lies inside root. Both must be canonical.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
