package documents

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Store returns the extracted plain text for a document reference. How the
// text got extracted is someone else's problem.
type Store interface {
	GetText(ctx context.Context, ref string) (string, error)
}

// DirStore serves extracted text from files under a root directory, keyed
// by relative path.
type DirStore struct {
	root string
}

func NewDirStore(root string) *DirStore {
	return &DirStore{root: root}
}

func (s *DirStore) GetText(_ context.Context, ref string) (string, error) {
	cleaned := filepath.Clean(ref)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) || filepath.IsAbs(cleaned) {
		return "", errors.Errorf("document reference %q escapes the store root", ref)
	}

	data, err := os.ReadFile(filepath.Join(s.root, cleaned))
	if err != nil {
		return "", errors.Wrapf(err, "read document %q", ref)
	}
	return string(data), nil
}
