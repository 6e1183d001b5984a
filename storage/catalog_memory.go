package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/cloq-dev/cloq/interfaces"
)

// MemoryCatalog keeps artifact records in process memory.
type MemoryCatalog struct {
	mu      sync.RWMutex
	records map[interfaces.ArtifactID]interfaces.ArtifactRecord
}

// NewMemoryCatalog creates an empty in-memory catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{records: make(map[interfaces.ArtifactID]interfaces.ArtifactRecord)}
}

func (c *MemoryCatalog) Insert(ctx context.Context, rec *interfaces.ArtifactRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[rec.ID] = *rec
	return nil
}

func (c *MemoryCatalog) Get(ctx context.Context, id interfaces.ArtifactID) (*interfaces.ArtifactRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[id]
	if !ok {
		return nil, interfaces.ErrArtifactNotFound
	}
	return &rec, nil
}

func (c *MemoryCatalog) List(ctx context.Context, vendorID string) ([]interfaces.ArtifactRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	records := []interfaces.ArtifactRecord{}
	for _, rec := range c.records {
		if vendorID == "" || rec.VendorID == vendorID {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].UploadedAt.Equal(records[j].UploadedAt) {
			return records[i].UploadedAt.After(records[j].UploadedAt)
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

func (c *MemoryCatalog) Stats(ctx context.Context) (*interfaces.CatalogStats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := &interfaces.CatalogStats{}
	vendors := make(map[string]struct{})
	for _, rec := range c.records {
		stats.TotalArtifacts++
		stats.TotalBytes += rec.Size
		if rec.VendorID != "" {
			vendors[rec.VendorID] = struct{}{}
		}
	}
	stats.Vendors = int64(len(vendors))
	return stats, nil
}

func (c *MemoryCatalog) Close() error { return nil }
