package search

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/cauce-ai/cauce-hub/internal/domain"
)

// BleveManager manages partitioned Bleve indexes over dead-lettered
// deliveries. Operators query it to answer "why didn't subscription X get
// signal Y" without scanning the in-memory tracker. Partitioning (e.g. by
// month) keeps any single index from growing unbounded; callers pick the
// partition key.
type BleveManager struct {
	basePath string
	indexes  map[string]bleve.Index
	mu       sync.RWMutex
}

// NewBleveManager creates a new BleveManager with the given base directory for indexes.
func NewBleveManager(basePath string) (*BleveManager, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("bleve: create base path: %w", err)
	}
	return &BleveManager{
		basePath: basePath,
		indexes:  make(map[string]bleve.Index),
	}, nil
}

// GetOrCreateIndex returns the index for the given partition, creating it if needed.
func (bm *BleveManager) GetOrCreateIndex(partition string) (bleve.Index, error) {
	bm.mu.RLock()
	if idx, ok := bm.indexes[partition]; ok {
		bm.mu.RUnlock()
		return idx, nil
	}
	bm.mu.RUnlock()

	bm.mu.Lock()
	defer bm.mu.Unlock()

	if idx, ok := bm.indexes[partition]; ok {
		return idx, nil
	}

	indexPath := filepath.Join(bm.basePath, partition)
	idx, err := bleve.Open(indexPath)
	if err != nil {
		m := buildIndexMapping()
		idx, err = bleve.New(indexPath, m)
		if err != nil {
			return nil, fmt.Errorf("bleve: create index for partition %s: %w", partition, err)
		}
	}

	bm.indexes[partition] = idx
	return idx, nil
}

// buildIndexMapping creates the document mapping for dead-letter records.
func buildIndexMapping() mapping.IndexMapping {
	keywordField := bleve.NewKeywordFieldMapping()
	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = "standard"
	numericField := bleve.NewNumericFieldMapping()
	dateField := bleve.NewDateTimeFieldMapping()

	dlMapping := bleve.NewDocumentMapping()
	dlMapping.AddFieldMappingsAt("subscription_id", keywordField)
	dlMapping.AddFieldMappingsAt("signal_id", keywordField)
	dlMapping.AddFieldMappingsAt("topic", keywordField)
	dlMapping.AddFieldMappingsAt("reason", keywordField)
	dlMapping.AddFieldMappingsAt("summary", textField)
	dlMapping.AddFieldMappingsAt("attempt_count", numericField)
	dlMapping.AddFieldMappingsAt("dead_lettered_at", dateField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = dlMapping
	return indexMapping
}

// IndexDeadLetters batch-indexes dead-letter records into the given partition.
func (bm *BleveManager) IndexDeadLetters(ctx context.Context, partition string, records []*domain.DeadLetterRecord) error {
	idx, err := bm.GetOrCreateIndex(partition)
	if err != nil {
		return err
	}

	batch := idx.NewBatch()
	for _, r := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		doc := deadLetterToDoc(r)
		docID := r.SubscriptionID + ":" + r.Delivery.Signal.ID
		batch.Index(docID, doc)
	}

	return idx.Batch(batch)
}

// Index is an alias for IndexDeadLetters to satisfy the DeadLetterIndexer interface.
func (bm *BleveManager) Index(ctx context.Context, partition string, records []*domain.DeadLetterRecord) error {
	return bm.IndexDeadLetters(ctx, partition, records)
}

func deadLetterToDoc(r *domain.DeadLetterRecord) map[string]interface{} {
	return map[string]interface{}{
		"subscription_id":  r.SubscriptionID,
		"signal_id":        r.Delivery.Signal.ID,
		"topic":            r.Delivery.Topic,
		"reason":           string(r.Reason),
		"summary":          fmt.Sprintf("%s %s %s", r.Delivery.Topic, r.Reason, r.SubscriptionID),
		"attempt_count":    float64(r.AttemptCount),
		"dead_lettered_at": r.DeadLetteredAt,
	}
}

// Search executes a search query against the given partition's index.
func (bm *BleveManager) Search(ctx context.Context, partition string, req *bleve.SearchRequest) (*bleve.SearchResult, error) {
	idx, err := bm.GetOrCreateIndex(partition)
	if err != nil {
		return nil, err
	}
	return idx.Search(req)
}

// DeleteIndex removes a partition's index from memory and disk.
func (bm *BleveManager) DeleteIndex(partition string) error {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	if idx, ok := bm.indexes[partition]; ok {
		if err := idx.Close(); err != nil {
			return fmt.Errorf("bleve: close index for partition %s: %w", partition, err)
		}
		delete(bm.indexes, partition)
	}

	indexPath := filepath.Join(bm.basePath, partition)
	return os.RemoveAll(indexPath)
}

// Delete is an alias for DeleteIndex to satisfy the DeadLetterIndexer interface.
func (bm *BleveManager) Delete(partition string) error {
	return bm.DeleteIndex(partition)
}

// Close closes all open indexes.
func (bm *BleveManager) Close() error {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	var firstErr error
	for partition, idx := range bm.indexes {
		if err := idx.Close(); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("bleve: close index for partition %s: %w", partition, err)
			}
		}
		delete(bm.indexes, partition)
	}
	return firstErr
}
