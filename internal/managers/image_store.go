package managers

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/oxomo030/comfyflow/internal/domain"
)

// DirectoryImageStore resolves internal file references against a
// local directory. File ids are relative paths under the root;
// traversal outside the root is rejected.
type DirectoryImageStore struct {
	root string
}

func NewDirectoryImageStore(root string) *DirectoryImageStore {
	return &DirectoryImageStore{root: root}
}

func (s *DirectoryImageStore) GetImage(_ context.Context, params domain.GetImageParams) (domain.StoredImage, error) {
	cleaned := filepath.Clean(params.FileID)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) || filepath.IsAbs(cleaned) {
		return domain.StoredImage{}, fmt.Errorf("invalid file id %q", params.FileID)
	}

	path := filepath.Join(s.root, cleaned)

	info, err := os.Stat(path)
	if err != nil {
		return domain.StoredImage{}, fmt.Errorf("resolving image %q: %w", params.FileID, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return domain.StoredImage{}, fmt.Errorf("opening image %q: %w", params.FileID, err)
	}

	return domain.StoredImage{
		Name:        filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		SizeInBytes: info.Size(),
		Reader:      f,
	}, nil
}
