package catalog

import (
	"context"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("catalog record not found")

// Processing states stored on the record.
const (
	StatePending    = "pending"
	StateQueued     = "queued"
	StateProcessing = "processing"
	StateCompleted  = "completed"
	StateFailed     = "failed"
)

// Asset is the streaming part of a catalog record.
type Asset struct {
	OwnerID         string
	SourceAssetID   string
	State           string
	Qualities       []string
	ManifestKey     string
	DurationSeconds int
}

// Update changes the processing state and, when set, the other fields.
type Update struct {
	State           string
	SourceAssetID   *string
	Qualities       []string
	ManifestKey     *string
	DurationSeconds *int
}

type Catalog interface {
	GetAsset(ctx context.Context, ownerID string) (*Asset, error)
	SetProcessingState(ctx context.Context, ownerID string, u Update) error
	// ClearAsset detaches any video from the record.
	ClearAsset(ctx context.Context, ownerID string) error
	// SourceAssetIDs lists every asset referenced by a record.
	SourceAssetIDs(ctx context.Context) ([]string, error)
	Close()
}

func String(s string) *string {
	return &s
}

func Int(i int) *int {
	return &i
}
