package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/tracelock/tracelock/internal/kv"
	"github.com/tracelock/tracelock/pkg/types"
)

// DriftFilter narrows drift-event listings. The zero value matches
// everything.
type DriftFilter struct {
	FromSnapshotID string
	ToSnapshotID   string
	ObjectType     string
}

func (f DriftFilter) matches(e *types.DriftEvent) bool {
	if f.FromSnapshotID != "" && f.FromSnapshotID != e.FromSnapshotID {
		return false
	}
	if f.ToSnapshotID != "" && f.ToSnapshotID != e.ToSnapshotID {
		return false
	}
	if f.ObjectType != "" && f.ObjectType != e.ObjectType {
		return false
	}
	return true
}

// SaveDriftEvents persists a detector run's events. Event ids are
// deterministic over (snapshot pair, object, change), so re-running the
// detector for a pair it already covered produces the same ids; those
// are skipped rather than rejected, keeping the save idempotent.
func (l *Ledger) SaveDriftEvents(ctx context.Context, events []types.DriftEvent) error {
	for i := range events {
		event := &events[i]
		if err := l.checkTenant(kindDrift, event.ID, event.TenantID); err != nil {
			return err
		}
		if err := event.Validate(); err != nil {
			return fmt.Errorf("invalid drift event: %w", err)
		}

		key := l.recordKey(kindDrift, event.ID)
		if err := l.createRecord(ctx, key, event, nil); err != nil {
			if errors.Is(err, kv.ErrAlreadyExists) {
				continue
			}
			return err
		}
		if err := l.appendIndex(ctx, kindDrift, event.ID); err != nil {
			return err
		}
	}
	return nil
}

// GetDriftEventByID returns one drift event, or nil.
func (l *Ledger) GetDriftEventByID(ctx context.Context, id string) (*types.DriftEvent, error) {
	var event types.DriftEvent
	found, err := l.getRecord(ctx, l.recordKey(kindDrift, id), &event)
	if err != nil || !found {
		return nil, err
	}
	return &event, nil
}

// ListDriftEvents returns one page of drift events in append order plus
// the total matching count.
func (l *Ledger) ListDriftEvents(ctx context.Context, filter DriftFilter, page, pageSize int) ([]*types.DriftEvent, int, error) {
	ids, err := l.indexIDs(ctx, kindDrift)
	if err != nil {
		return nil, 0, err
	}

	var matched []string
	eventsByID := make(map[string]*types.DriftEvent)
	for _, id := range ids {
		event, err := l.GetDriftEventByID(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		if event == nil || !filter.matches(event) {
			continue
		}
		matched = append(matched, id)
		eventsByID[id] = event
	}

	var out []*types.DriftEvent
	for _, id := range pageSlice(matched, page, pageSize) {
		out = append(out, eventsByID[id])
	}
	return out, len(matched), nil
}

// ListPriorDriftEvents returns every stored event except those of the
// (fromID, toID) pair itself, in append order. The detector matches this
// history against fresh events to carry repeat counts forward; the
// current pair is excluded because its own deterministic ids would
// otherwise count a change against itself.
func (l *Ledger) ListPriorDriftEvents(ctx context.Context, fromID, toID string) ([]*types.DriftEvent, error) {
	ids, err := l.indexIDs(ctx, kindDrift)
	if err != nil {
		return nil, err
	}
	var out []*types.DriftEvent
	for _, id := range ids {
		event, err := l.GetDriftEventByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if event == nil {
			continue
		}
		if event.FromSnapshotID == fromID && event.ToSnapshotID == toID {
			continue
		}
		out = append(out, event)
	}
	return out, nil
}
