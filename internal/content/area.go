// Package content manages the per-user content area where uploaded assets
// are written and from which they are served back.
package content

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
)

// ErrInvalidAsset reports an asset kind or name that cannot be stored.
var ErrInvalidAsset = errors.New("invalid asset")

// UploadsDir is the directory under the content root holding user folders.
// Asset paths handed to clients start with it.
const UploadsDir = "uploads"

// Folders are created for every user session. Each one is a valid asset kind.
var Folders = []string{"documents", "images", "images/min", "profile_pics", "videos"}

// Area is a content root on the local filesystem.
type Area struct {
	root string
}

// NewArea returns an Area rooted at root.
func NewArea(root string) *Area {
	if root == "" {
		root = "."
	}
	return &Area{root: root}
}

// Provision creates the folder layout for a user session.
func (a *Area) Provision(sessionID string) error {
	if !validSegment(sessionID) {
		return fmt.Errorf("%w: session id %q", ErrInvalidAsset, sessionID)
	}
	base := filepath.Join(a.root, UploadsDir, sessionID)
	for _, folder := range Folders {
		if err := os.MkdirAll(filepath.Join(base, filepath.FromSlash(folder)), 0o755); err != nil {
			return err
		}
	}
	return nil
}

// AssetPath returns the client-facing path of an asset, relative to the
// content root and slash separated.
func AssetPath(sessionID, kind, name string) string {
	return path.Join(UploadsDir, sessionID, kind, name)
}

// Create opens a new asset file for writing, truncating any previous asset
// with the same name, and returns it with its asset path.
func (a *Area) Create(sessionID, kind, name string) (*os.File, string, error) {
	if !slices.Contains(Folders, kind) {
		return nil, "", fmt.Errorf("%w: kind %q", ErrInvalidAsset, kind)
	}
	name = filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, "\\", "/")))
	if !validSegment(sessionID) || !validSegment(name) {
		return nil, "", fmt.Errorf("%w: name %q", ErrInvalidAsset, name)
	}

	dir := filepath.Join(a.root, UploadsDir, sessionID, filepath.FromSlash(kind))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", err
	}
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, "", err
	}
	return f, AssetPath(sessionID, kind, name), nil
}

// Resolve maps an asset path received from a client to a file inside the
// uploads directory. Paths escaping it are rejected.
func (a *Area) Resolve(assetPath string) (string, error) {
	clean := path.Clean("/" + strings.ReplaceAll(assetPath, "\\", "/"))
	rel := strings.TrimPrefix(clean, "/")
	if rel != UploadsDir && !strings.HasPrefix(rel, UploadsDir+"/") {
		return "", fmt.Errorf("%w: path %q", ErrInvalidAsset, assetPath)
	}
	if rel == UploadsDir {
		return "", fmt.Errorf("%w: path %q", ErrInvalidAsset, assetPath)
	}
	return filepath.Join(a.root, filepath.FromSlash(rel)), nil
}

func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && s != "/" &&
		!strings.ContainsAny(s, "/\\\x00")
}
