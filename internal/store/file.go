package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/conjurehq/conjure/pkg/types"
)

// FileStore keeps one JSON document per tenant under
// <basePath>/tenants/<tenant>.json. Writes go to a temp file and rename into
// place under a per-file flock.
type FileStore struct {
	basePath string
	mu       sync.Mutex
	locks    map[string]*fileLock
}

// NewFileStore creates a file-backed store rooted at basePath.
func NewFileStore(basePath string) *FileStore {
	return &FileStore{
		basePath: basePath,
		locks:    make(map[string]*fileLock),
	}
}

func (s *FileStore) tenantFile(tenant string) string {
	return filepath.Join(s.basePath, "tenants", tenant+".json")
}

func (s *FileStore) Get(ctx context.Context, tenant string) (*types.TenantDocument, error) {
	data, err := os.ReadFile(s.tenantFile(tenant))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var doc types.TenantDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document for %s: %w", tenant, err)
	}
	return &doc, nil
}

func (s *FileStore) Put(ctx context.Context, tenant string, doc *types.TenantDocument) error {
	filePath := s.tenantFile(tenant)

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	lock := s.getLock(filePath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	// Write to temp file first, then rename (atomic operation)
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return nil
}

func (s *FileStore) Tenants(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.basePath, "tenants"))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var tenants []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		tenants = append(tenants, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(tenants)
	return tenants, nil
}

func (s *FileStore) getLock(filePath string) *fileLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[filePath]
	if !ok {
		lock = newFileLock(filePath)
		s.locks[filePath] = lock
	}
	return lock
}
