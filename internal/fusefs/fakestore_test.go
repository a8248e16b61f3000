package fusefs

import (
	"context"
	"sync"

	"github.com/objectfs/zerofs/internal/objectstore"
)

// fakeStore is a minimal objectstore.Store double: it records every
// DeleteFile/UploadFile call so tests can assert on what the C5 layer
// decided to do, without a real bucket.
type fakeStore struct {
	mu sync.Mutex

	deleted  []string
	uploaded map[string][]byte

	uploadID  string
	uploadErr error
}

var _ objectstore.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{uploaded: make(map[string][]byte)}
}

func (s *fakeStore) ListBuckets(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (s *fakeStore) ListFiles(ctx context.Context) ([]objectstore.FileListing, error) {
	return nil, nil
}

func (s *fakeStore) DownloadFile(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploaded[key], nil
}

func (s *fakeStore) UploadFile(ctx context.Context, key string, body []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	s.uploaded[key] = append([]byte(nil), body...)
	return s.uploadID, nil
}

func (s *fakeStore) DeleteFile(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *fakeStore) deletedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}
