package search

import (
	"context"

	"github.com/blevesearch/bleve/v2"

	"github.com/cauce-ai/cauce-hub/internal/domain"
)

// DeadLetterIndexer indexes and searches dead-lettered deliveries for
// operational diagnosis.
type DeadLetterIndexer interface {
	Index(ctx context.Context, partition string, records []*domain.DeadLetterRecord) error
	Search(ctx context.Context, partition string, req *bleve.SearchRequest) (*bleve.SearchResult, error)
	Delete(partition string) error
	Close() error
}
