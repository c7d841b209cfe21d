package itemstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	apperrors "github.com/Adithya-Monish-Kumar-K/archive-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/proto"
)

// FileStore reads an archive from a JSON file. The file holds either an
// Archive object or a bare array of authored items.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load re-reads the file on every call. userID is checked only when the
// file names its owner.
func (f *FileStore) Load(ctx context.Context, userID string) (*Archive, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, 0, "archive file %s does not exist", f.path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading archive file %s: %w", f.path, err)
	}
	archive, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.path, err)
	}
	if userID != "" && archive.UserID != "" && archive.UserID != userID {
		return nil, apperrors.Newf(apperrors.ErrNotFound, 0, "archive file %s belongs to %q, not %q", f.path, archive.UserID, userID)
	}
	return archive, nil
}

// Decode parses archive JSON. A missing revision is derived from the
// content so unchanged files keep their revision.
func Decode(data []byte) (*Archive, error) {
	data = bytes.TrimSpace(data)
	archive := &Archive{}
	switch {
	case len(data) == 0:
		return nil, apperrors.New(apperrors.ErrInvalidInput, 0, "archive is empty")
	case data[0] == '[':
		if err := json.Unmarshal(data, &archive.Authored); err != nil {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, 0, "decoding item array: %v", err)
		}
	default:
		if err := json.Unmarshal(data, archive); err != nil {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, 0, "decoding archive: %v", err)
		}
	}
	if err := validate(archive.Authored, proto.SourceAuthored); err != nil {
		return nil, err
	}
	if err := validate(archive.Context, proto.SourceContext); err != nil {
		return nil, err
	}
	if archive.Revision == "" {
		archive.Revision = digest(data)
	}
	return archive, nil
}

func validate(items []proto.Item, source proto.Source) error {
	for i := range items {
		if items[i].ID == "" {
			return apperrors.Newf(apperrors.ErrInvalidInput, 0, "%s item %d has no _id", source, i)
		}
	}
	return nil
}
