// Package memory provides an in-memory Store implementation for unit testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	herald "github.com/signalworks/herald"
	"github.com/signalworks/herald/catalog"
	"github.com/signalworks/herald/dlq"
	"github.com/signalworks/herald/id"
	"github.com/signalworks/herald/installation"
	"github.com/signalworks/herald/ledger"
	heraldstore "github.com/signalworks/herald/store"
	"github.com/signalworks/herald/subscription"
)

// compile-time interface check.
var _ heraldstore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store for testing.
type Store struct {
	mu sync.RWMutex

	eventTypes     map[string]*catalog.EventType          // keyed by name
	eventTypesByID map[string]*catalog.EventType          // keyed by ID string
	subscriptions  map[string]*subscription.Subscription  // keyed by ID string
	installations  map[string]*installation.Installation  // keyed by ID string
	records        map[string]*ledger.Record              // keyed by subID/eventID
	recordsByID    map[string]*ledger.Record              // keyed by ID string
	dlqEntries     map[string]*dlq.Entry                  // keyed by ID string

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		eventTypes:     make(map[string]*catalog.EventType),
		eventTypesByID: make(map[string]*catalog.EventType),
		subscriptions:  make(map[string]*subscription.Subscription),
		installations:  make(map[string]*installation.Installation),
		records:        make(map[string]*ledger.Record),
		recordsByID:    make(map[string]*ledger.Record),
		dlqEntries:     make(map[string]*dlq.Entry),
	}
}

func pairKey(subID, eventID id.ID) string {
	return subID.String() + "/" + eventID.String()
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping is a no-op for the in-memory store.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return herald.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// catalog.Store
// ──────────────────────────────────────────────────

// RegisterType creates or updates an event type definition (upsert by name).
func (s *Store) RegisterType(_ context.Context, et *catalog.EventType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.eventTypes[et.Definition.Name]; ok {
		existing.Definition = et.Definition
		existing.UpdatedAt = time.Now().UTC()
		existing.Metadata = et.Metadata
		et.ID = existing.ID
		return nil
	}

	s.eventTypes[et.Definition.Name] = et
	s.eventTypesByID[et.ID.String()] = et
	return nil
}

// GetType returns an event type by name.
func (s *Store) GetType(_ context.Context, name string) (*catalog.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	et, ok := s.eventTypes[name]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return et, nil
}

// GetTypeByID returns an event type by its TypeID.
func (s *Store) GetTypeByID(_ context.Context, etID id.ID) (*catalog.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	et, ok := s.eventTypesByID[etID.String()]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return et, nil
}

// ListTypes returns all registered event types, optionally filtered.
func (s *Store) ListTypes(_ context.Context, opts catalog.ListOpts) ([]*catalog.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*catalog.EventType, 0, len(s.eventTypes))
	for _, et := range s.eventTypes {
		if !opts.IncludeDeprecated && et.IsDeprecated {
			continue
		}
		if opts.Group != "" && et.Definition.Group != opts.Group {
			continue
		}
		result = append(result, et)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Definition.Name < result[j].Definition.Name
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// DeprecateType soft-deletes an event type.
func (s *Store) DeprecateType(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	et, ok := s.eventTypes[name]
	if !ok {
		return catalog.ErrNotFound
	}

	now := time.Now().UTC()
	et.IsDeprecated = true
	et.DeprecatedAt = &now
	et.UpdatedAt = now
	return nil
}

// ──────────────────────────────────────────────────
// subscription.Store
// ──────────────────────────────────────────────────

// CreateSubscription persists a new subscription.
func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions[sub.ID.String()] = sub
	return nil
}

// GetSubscription returns a subscription by ID.
func (s *Store) GetSubscription(_ context.Context, subID id.ID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return nil, subscription.ErrNotFound
	}
	return sub, nil
}

// UpdateSubscription modifies an existing subscription.
func (s *Store) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[sub.ID.String()]; !ok {
		return subscription.ErrNotFound
	}
	sub.UpdatedAt = time.Now().UTC()
	s.subscriptions[sub.ID.String()] = sub
	return nil
}

// DeleteSubscription removes a subscription.
func (s *Store) DeleteSubscription(_ context.Context, subID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[subID.String()]; !ok {
		return subscription.ErrNotFound
	}
	delete(s.subscriptions, subID.String())
	return nil
}

// ListSubscriptions returns subscriptions for a workspace, optionally filtered.
func (s *Store) ListSubscriptions(_ context.Context, workspaceID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		if sub.WorkspaceID != workspaceID {
			continue
		}
		if opts.Active != nil && sub.Active != *opts.Active {
			continue
		}
		result = append(result, sub)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ListByInstallation returns subscriptions provisioned under an installation.
func (s *Store) ListByInstallation(_ context.Context, instID id.ID) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*subscription.Subscription
	for _, sub := range s.subscriptions {
		if sub.InstallationID.String() == instID.String() {
			result = append(result, sub)
		}
	}
	return result, nil
}

// ResolveSubscriptions finds all active subscriptions matching an event type
// for a workspace.
func (s *Store) ResolveSubscriptions(_ context.Context, workspaceID, eventType string) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*subscription.Subscription
	for _, sub := range s.subscriptions {
		if sub.WorkspaceID != workspaceID || !sub.Active {
			continue
		}
		if catalog.MatchAny(sub.EventTypes, eventType) {
			result = append(result, sub)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// SetActive activates or deactivates a subscription.
func (s *Store) SetActive(_ context.Context, subID id.ID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return subscription.ErrNotFound
	}
	sub.Active = active
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

// ──────────────────────────────────────────────────
// installation.Store
// ──────────────────────────────────────────────────

// CreateInstallation persists a new installation.
func (s *Store) CreateInstallation(_ context.Context, inst *installation.Installation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.installations[inst.ID.String()] = inst
	return nil
}

// GetInstallation returns an installation by ID.
func (s *Store) GetInstallation(_ context.Context, instID id.ID) (*installation.Installation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.installations[instID.String()]
	if !ok {
		return nil, installation.ErrNotFound
	}
	return inst, nil
}

// FindInstallation returns the installation of an app in a workspace.
func (s *Store) FindInstallation(_ context.Context, appID, workspaceID string) (*installation.Installation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inst := range s.installations {
		if inst.AppID == appID && inst.WorkspaceID == workspaceID {
			return inst, nil
		}
	}
	return nil, installation.ErrNotFound
}

// UpdateInstallation modifies an existing installation.
func (s *Store) UpdateInstallation(_ context.Context, inst *installation.Installation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.installations[inst.ID.String()]; !ok {
		return installation.ErrNotFound
	}
	s.installations[inst.ID.String()] = inst
	return nil
}

// ListInstallations returns installations for a workspace.
func (s *Store) ListInstallations(_ context.Context, workspaceID string) ([]*installation.Installation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*installation.Installation
	for _, inst := range s.installations {
		if inst.WorkspaceID == workspaceID {
			result = append(result, inst)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// ──────────────────────────────────────────────────
// ledger.Store
// ──────────────────────────────────────────────────

// copyRecord returns a shallow copy of the record.
func copyRecord(rec *ledger.Record) *ledger.Record {
	cp := *rec
	return &cp
}

// InsertRecord persists a new record, enforcing (subscription, event) uniqueness.
func (s *Store) InsertRecord(_ context.Context, rec *ledger.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(rec.SubscriptionID, rec.EventID)
	if _, ok := s.records[key]; ok {
		return ledger.ErrDuplicateRecord
	}

	cp := copyRecord(rec)
	s.records[key] = cp
	s.recordsByID[rec.ID.String()] = cp
	return nil
}

// GetRecord returns a copy of the record for a (subscription, event) pair.
func (s *Store) GetRecord(_ context.Context, subID, eventID id.ID) (*ledger.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[pairKey(subID, eventID)]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return copyRecord(rec), nil
}

// GetRecordByID returns a copy of the record by its TypeID.
func (s *Store) GetRecordByID(_ context.Context, recID id.ID) (*ledger.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.recordsByID[recID.String()]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return copyRecord(rec), nil
}

// UpdateRecordIf applies rec only when the stored row still has
// expectedAttempts attempts and is not terminal.
func (s *Store) UpdateRecordIf(_ context.Context, rec *ledger.Record, expectedAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(rec.SubscriptionID, rec.EventID)
	stored, ok := s.records[key]
	if !ok {
		return ledger.ErrNotFound
	}
	if stored.Attempts != expectedAttempts || stored.Terminal() {
		return ledger.ErrStaleRecord
	}

	cp := copyRecord(rec)
	s.records[key] = cp
	s.recordsByID[rec.ID.String()] = cp
	return nil
}

// DueRecords returns copies of non-terminal records due for retry, oldest first.
func (s *Store) DueRecords(_ context.Context, now time.Time, limit int) ([]*ledger.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := make([]*ledger.Record, 0, len(s.records))
	for _, rec := range s.records {
		if rec.Terminal() || rec.NextAttemptAt == nil {
			continue
		}
		if rec.NextAttemptAt.After(now) {
			continue
		}
		candidates = append(candidates, rec)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].NextAttemptAt.Before(*candidates[j].NextAttemptAt)
	})

	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}

	result := make([]*ledger.Record, 0, len(candidates))
	for _, rec := range candidates {
		result = append(result, copyRecord(rec))
	}
	return result, nil
}

// ListRecordsBySubscription returns delivery history for a subscription.
func (s *Store) ListRecordsBySubscription(_ context.Context, subID id.ID, opts ledger.ListOpts) ([]*ledger.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*ledger.Record, 0, len(s.records))
	for _, rec := range s.records {
		if rec.SubscriptionID.String() != subID.String() {
			continue
		}
		if opts.State != nil && rec.State() != *opts.State {
			continue
		}
		result = append(result, copyRecord(rec))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ListRecordsByEvent returns all records for a specific event.
func (s *Store) ListRecordsByEvent(_ context.Context, eventID id.ID) ([]*ledger.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*ledger.Record
	for _, rec := range s.records {
		if rec.EventID.String() == eventID.String() {
			result = append(result, copyRecord(rec))
		}
	}
	return result, nil
}

// CountPendingRecords returns the number of records awaiting an outcome.
func (s *Store) CountPendingRecords(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	for _, rec := range s.records {
		if !rec.Terminal() {
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// dlq.Store
// ──────────────────────────────────────────────────

// Push moves a permanently failed delivery into the DLQ.
func (s *Store) Push(_ context.Context, entry *dlq.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dlqEntries[entry.ID.String()] = entry
	return nil
}

// ListDLQ returns DLQ entries, optionally filtered.
func (s *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(s.dlqEntries))
	for _, e := range s.dlqEntries {
		if opts.WorkspaceID != "" && e.WorkspaceID != opts.WorkspaceID {
			continue
		}
		if opts.SubscriptionID != nil && e.SubscriptionID.String() != opts.SubscriptionID.String() {
			continue
		}
		if opts.From != nil && e.FailedAt.Before(*opts.From) {
			continue
		}
		if opts.To != nil && e.FailedAt.After(*opts.To) {
			continue
		}
		result = append(result, e)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].FailedAt.After(result[j].FailedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// GetDLQ returns a DLQ entry by ID.
func (s *Store) GetDLQ(_ context.Context, dlqID id.ID) (*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.dlqEntries[dlqID.String()]
	if !ok {
		return nil, dlq.ErrNotFound
	}
	return e, nil
}

// MarkReplayed stamps ReplayedAt on a DLQ entry.
func (s *Store) MarkReplayed(_ context.Context, dlqID id.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.dlqEntries[dlqID.String()]
	if !ok {
		return dlq.ErrNotFound
	}
	e.ReplayedAt = &at
	e.UpdatedAt = at
	return nil
}

// Purge deletes DLQ entries older than a threshold.
func (s *Store) Purge(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for k, e := range s.dlqEntries {
		if e.CreatedAt.Before(before) {
			delete(s.dlqEntries, k)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the total number of DLQ entries.
func (s *Store) CountDLQ(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.dlqEntries)), nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset >= len(items) && offset > 0 {
		return nil
	}

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}
