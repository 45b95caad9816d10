package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

type Memory struct {
	mu     sync.Mutex
	assets map[string]*Asset
}

func NewMemory() *Memory {
	return &Memory{assets: make(map[string]*Asset)}
}

// Add registers an empty record for ownerID.
func (m *Memory) Add(ownerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.assets[ownerID] = &Asset{OwnerID: ownerID, State: StatePending}
}

func (m *Memory) GetAsset(ctx context.Context, ownerID string) (*Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assets[ownerID]

	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "movie %s", ownerID)
	}

	out := *a
	out.Qualities = append([]string(nil), a.Qualities...)

	return &out, nil
}

func (m *Memory) SetProcessingState(ctx context.Context, ownerID string, u Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assets[ownerID]

	if !ok {
		return errors.Wrapf(ErrNotFound, "movie %s", ownerID)
	}

	a.State = u.State

	if u.SourceAssetID != nil {
		a.SourceAssetID = *u.SourceAssetID
	}

	if u.Qualities != nil {
		a.Qualities = append([]string(nil), u.Qualities...)
	}

	if u.ManifestKey != nil {
		a.ManifestKey = *u.ManifestKey
	}

	if u.DurationSeconds != nil {
		a.DurationSeconds = *u.DurationSeconds
	}

	return nil
}

func (m *Memory) ClearAsset(ctx context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.assets[ownerID]; !ok {
		return errors.Wrapf(ErrNotFound, "movie %s", ownerID)
	}

	m.assets[ownerID] = &Asset{OwnerID: ownerID, State: StatePending}

	return nil
}

func (m *Memory) SourceAssetIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string

	for _, a := range m.assets {
		if a.SourceAssetID != "" {
			ids = append(ids, a.SourceAssetID)
		}
	}

	sort.Strings(ids)

	return ids, nil
}

func (m *Memory) Close() {}
