package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/conjurehq/conjure/pkg/types"
)

// TenantProvisioner is implemented by stores that can bind a tenant to a
// backend location at run time.
type TenantProvisioner interface {
	ProvisionTenant(ctx context.Context, tenant, binID, masterKey string) error
}

// RemoteStore persists tenant documents in a JSONBin-style document service.
// A root bin maps tenants to their individual bins; each tenant bin holds
// that tenant's document.
type RemoteStore struct {
	baseURL   string
	rootBin   string
	masterKey string
	client    *http.Client

	mu   sync.Mutex
	bins map[string]binRef
}

type binRef struct {
	BinID     string `json:"bin_id"`
	MasterKey string `json:"master_key,omitempty"`
}

type rootDocument struct {
	TenantBins map[string]binRef `json:"tenant_bins"`
}

// recordEnvelope is the read-response wrapper the service puts around stored
// documents.
type recordEnvelope struct {
	Record json.RawMessage `json:"record"`
}

// NewRemoteStore creates a remote store client. rootBin is the bin holding
// the tenant directory; masterKey authenticates root-bin access and is the
// fallback key for tenant bins without their own.
func NewRemoteStore(baseURL, rootBin, masterKey string) *RemoteStore {
	return &RemoteStore{
		baseURL:   baseURL,
		rootBin:   rootBin,
		masterKey: masterKey,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *RemoteStore) Get(ctx context.Context, tenant string) (*types.TenantDocument, error) {
	ref, err := s.tenantBin(ctx, tenant)
	if err != nil {
		return nil, err
	}

	raw, err := s.read(ctx, ref.BinID, s.keyFor(ref))
	if err != nil {
		return nil, err
	}

	var doc types.TenantDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document for %s: %w", tenant, err)
	}
	return &doc, nil
}

func (s *RemoteStore) Put(ctx context.Context, tenant string, doc *types.TenantDocument) error {
	ref, err := s.tenantBin(ctx, tenant)
	if err != nil {
		return err
	}
	return s.write(ctx, ref.BinID, s.keyFor(ref), doc)
}

func (s *RemoteStore) Tenants(ctx context.Context) ([]string, error) {
	bins, err := s.loadRoot(ctx)
	if err != nil {
		return nil, err
	}
	tenants := make([]string, 0, len(bins))
	for tenant := range bins {
		tenants = append(tenants, tenant)
	}
	sort.Strings(tenants)
	return tenants, nil
}

// ProvisionTenant binds tenant to binID and writes the updated directory
// back to the root bin.
func (s *RemoteStore) ProvisionTenant(ctx context.Context, tenant, binID, masterKey string) error {
	bins, err := s.loadRoot(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	bins[tenant] = binRef{BinID: binID, MasterKey: masterKey}
	root := rootDocument{TenantBins: make(map[string]binRef, len(bins))}
	for t, ref := range bins {
		root.TenantBins[t] = ref
	}
	s.mu.Unlock()

	return s.write(ctx, s.rootBin, s.masterKey, root)
}

// tenantBin resolves the tenant's bin from the cached directory, refreshing
// from the root bin on a miss.
func (s *RemoteStore) tenantBin(ctx context.Context, tenant string) (binRef, error) {
	s.mu.Lock()
	ref, ok := s.bins[tenant]
	s.mu.Unlock()
	if ok {
		return ref, nil
	}

	bins, err := s.loadRoot(ctx)
	if err != nil {
		return binRef{}, err
	}
	ref, ok = bins[tenant]
	if !ok {
		return binRef{}, fmt.Errorf("tenant %s: %w", tenant, ErrNotFound)
	}
	return ref, nil
}

func (s *RemoteStore) loadRoot(ctx context.Context) (map[string]binRef, error) {
	raw, err := s.read(ctx, s.rootBin, s.masterKey)
	if err != nil {
		return nil, err
	}

	var root rootDocument
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal root document: %w", err)
	}
	if root.TenantBins == nil {
		root.TenantBins = make(map[string]binRef)
	}

	s.mu.Lock()
	s.bins = root.TenantBins
	s.mu.Unlock()
	return root.TenantBins, nil
}

func (s *RemoteStore) keyFor(ref binRef) string {
	if ref.MasterKey != "" {
		return ref.MasterKey
	}
	return s.masterKey
}

func (s *RemoteStore) read(ctx context.Context, binID, key string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/b/"+binID+"/latest", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Master-Key", key)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: read %s: status %d", ErrUnavailable, binID, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var envelope recordEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("malformed read response for %s: %w", binID, err)
	}
	return envelope.Record, nil
}

func (s *RemoteStore) write(ctx context.Context, binID, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.baseURL+"/b/"+binID, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Master-Key", key)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: write %s: status %d", ErrUnavailable, binID, resp.StatusCode)
	}
	return nil
}
