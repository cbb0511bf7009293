// Package blob stores raw evidence files.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/zainulabideen041/storink/internal/apperr"
)

// Object identifies a stored blob.
type Object struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// FSStore keeps each blob as one file named by its id under root, next to an
// id.owner file holding the id of the identity that uploaded it.
type FSStore struct {
	root    string
	baseURL string
	maxSize int64
}

// NewFSStore creates root if needed. URLs of stored blobs are baseURL + "/" + id.
func NewFSStore(root, baseURL string, maxSize int64) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FSStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		maxSize: maxSize,
	}, nil
}

// path maps id to its file. Only canonical uuids are accepted, so ids can never
// address anything outside root.
func (s *FSStore) path(id string) (string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil || parsed.String() != id {
		return "", apperr.NotFound("blob %q not found", id)
	}
	return filepath.Join(s.root, id), nil
}

const ownerSuffix = ".owner"

// Upload copies r into a new blob held by ownerID. Content larger than the
// size limit is rejected.
func (s *FSStore) Upload(ctx context.Context, ownerID string, r io.Reader) (Object, error) {
	if strings.TrimSpace(ownerID) == "" {
		return Object{}, apperr.Validation("blob owner is required")
	}
	tmp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return Object{}, fmt.Errorf("create blob: %w: %w", apperr.ErrUpstream, err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(readerWithContext{ctx: ctx, r: r}, s.maxSize+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Object{}, err
		}
		return Object{}, fmt.Errorf("write blob: %w: %w", apperr.ErrUpstream, err)
	}
	if n == 0 {
		return Object{}, apperr.Validation("blob is empty")
	}
	if n > s.maxSize {
		return Object{}, apperr.Validation("blob exceeds %d bytes", s.maxSize)
	}

	id := uuid.NewString()
	p := filepath.Join(s.root, id)
	// The owner file lands first so a visible blob always has an owner.
	if err := writeFileAtomic(s.root, p+ownerSuffix, []byte(ownerID)); err != nil {
		return Object{}, fmt.Errorf("store blob owner: %w: %w", apperr.ErrUpstream, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		_ = os.Remove(p + ownerSuffix)
		return Object{}, fmt.Errorf("store blob: %w: %w", apperr.ErrUpstream, err)
	}
	return Object{ID: id, URL: s.baseURL + "/" + id}, nil
}

func writeFileAtomic(dir, name string, data []byte) error {
	f, err := os.CreateTemp(dir, ".meta-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	_, err = f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return os.Rename(f.Name(), name)
}

// Owner returns the id of the identity that uploaded blob id. Blobs stored
// without an owner file report an empty owner.
func (s *FSStore) Owner(_ context.Context, id string) (string, error) {
	p, err := s.path(id)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", apperr.NotFound("blob %q not found", id)
		}
		return "", fmt.Errorf("stat blob: %w: %w", apperr.ErrUpstream, err)
	}
	b, err := os.ReadFile(p + ownerSuffix)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read blob owner: %w: %w", apperr.ErrUpstream, err)
	}
	return strings.TrimSpace(string(b)), nil
}

// Open returns the content of blob id. The caller closes it.
func (s *FSStore) Open(_ context.Context, id string) (io.ReadCloser, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.NotFound("blob %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("open blob: %w: %w", apperr.ErrUpstream, err)
	}
	return f, nil
}

// Delete removes blob id and its owner file.
func (s *FSStore) Delete(_ context.Context, id string) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return apperr.NotFound("blob %q not found", id)
	}
	if err != nil {
		return fmt.Errorf("delete blob: %w: %w", apperr.ErrUpstream, err)
	}
	if err := os.Remove(p + ownerSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob owner: %w: %w", apperr.ErrUpstream, err)
	}
	return nil
}

type readerWithContext struct {
	ctx context.Context
	r   io.Reader
}

func (r readerWithContext) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
