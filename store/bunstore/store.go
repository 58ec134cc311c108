package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"github.com/signalworks/herald/catalog"
	"github.com/signalworks/herald/dlq"
	"github.com/signalworks/herald/id"
	"github.com/signalworks/herald/installation"
	"github.com/signalworks/herald/ledger"
	heraldstore "github.com/signalworks/herald/store"
	"github.com/signalworks/herald/subscription"
)

// compile-time interface check
var _ heraldstore.Store = (*Store)(nil)

// Store implements store.Store using the Bun ORM.
type Store struct {
	db *bun.DB
}

// New creates a new Bun-backed store.
func New(db *bun.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying Bun database for direct access.
func (s *Store) DB() *bun.DB { return s.db }

// Migrate creates the required tables using Bun's CreateTable.
func (s *Store) Migrate(ctx context.Context) error {
	models := []any{
		(*eventTypeModel)(nil),
		(*subscriptionModel)(nil),
		(*installationModel)(nil),
		(*recordModel)(nil),
		(*dlqEntryModel)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx); err != nil {
			return err
		}
	}

	// Create indexes.
	indexes := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_herald_records_pair ON herald_records (subscription_id, event_id)",
		"CREATE INDEX IF NOT EXISTS idx_herald_records_due ON herald_records (next_attempt_at) WHERE delivered_at IS NULL AND failed_at IS NULL",
		"CREATE INDEX IF NOT EXISTS idx_herald_records_subscription ON herald_records (subscription_id, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_herald_records_event ON herald_records (event_id)",
		"CREATE INDEX IF NOT EXISTS idx_herald_subscriptions_workspace ON herald_subscriptions (workspace_id)",
		"CREATE INDEX IF NOT EXISTS idx_herald_subscriptions_installation ON herald_subscriptions (installation_id)",
		"CREATE INDEX IF NOT EXISTS idx_herald_installations_workspace ON herald_installations (workspace_id)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_herald_installations_app_workspace ON herald_installations (app_id, workspace_id) WHERE state != 'uninstalled'",
		"CREATE INDEX IF NOT EXISTS idx_herald_dlq_workspace ON herald_dlq (workspace_id, failed_at)",
		"CREATE INDEX IF NOT EXISTS idx_herald_dlq_failed ON herald_dlq (failed_at)",
	}
	for _, ddl := range indexes {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Catalog Store ====================

func (s *Store) RegisterType(ctx context.Context, et *catalog.EventType) error {
	m := toEventTypeModel(et)
	_, err := s.db.NewInsert().
		Model(m).
		On("CONFLICT (name) DO UPDATE").
		Set("description = EXCLUDED.description").
		Set("group_name = EXCLUDED.group_name").
		Set("schema = EXCLUDED.schema").
		Set("schema_version = EXCLUDED.schema_version").
		Set("version = EXCLUDED.version").
		Set("example = EXCLUDED.example").
		Set("metadata = EXCLUDED.metadata").
		Set("is_deprecated = false").
		Set("deprecated_at = NULL").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) GetType(ctx context.Context, name string) (*catalog.EventType, error) {
	m := new(eventTypeModel)
	err := s.db.NewSelect().
		Model(m).
		Where("name = ?", name).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, err
	}
	return fromEventTypeModel(m)
}

func (s *Store) GetTypeByID(ctx context.Context, etID id.ID) (*catalog.EventType, error) {
	m := new(eventTypeModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", etID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, err
	}
	return fromEventTypeModel(m)
}

func (s *Store) ListTypes(ctx context.Context, opts catalog.ListOpts) ([]*catalog.EventType, error) {
	var models []eventTypeModel
	q := s.db.NewSelect().Model(&models)

	if opts.Group != "" {
		q = q.Where("group_name = ?", opts.Group)
	}
	if !opts.IncludeDeprecated {
		q = q.Where("is_deprecated = false")
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.Order("name ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*catalog.EventType, len(models))
	for i := range models {
		et, err := fromEventTypeModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = et
	}
	return result, nil
}

func (s *Store) DeprecateType(ctx context.Context, name string) error {
	now := time.Now().UTC()
	res, err := s.db.NewUpdate().
		Model((*eventTypeModel)(nil)).
		Set("is_deprecated = true").
		Set("deprecated_at = ?", now).
		Set("updated_at = ?", now).
		Where("name = ?", name).
		Where("is_deprecated = false").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", subID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, subscription.ErrNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().
		Model(m).
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return subscription.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	res, err := s.db.NewDelete().
		Model((*subscriptionModel)(nil)).
		Where("id = ?", subID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return subscription.ErrNotFound
	}
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context, workspaceID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.db.NewSelect().Model(&models).Where("workspace_id = ?", workspaceID)
	if opts.Active != nil {
		q = q.Where("active = ?", *opts.Active)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.Order("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

func (s *Store) ListByInstallation(ctx context.Context, instID id.ID) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	if err := s.db.NewSelect().
		Model(&models).
		Where("installation_id = ?", instID.String()).
		Order("created_at ASC").
		Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

func (s *Store) ResolveSubscriptions(ctx context.Context, workspaceID, eventType string) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	if err := s.db.NewSelect().
		Model(&models).
		Where("workspace_id = ?", workspaceID).
		Where("active = true").
		Order("created_at ASC").
		Scan(ctx); err != nil {
		return nil, err
	}

	// Glob matching happens in Go; patterns are too dynamic for an index.
	var result []*subscription.Subscription
	for i := range models {
		if catalog.MatchAny(models[i].EventTypes, eventType) {
			sub, err := fromSubscriptionModel(&models[i])
			if err != nil {
				return nil, err
			}
			result = append(result, sub)
		}
	}
	return result, nil
}

func (s *Store) SetActive(ctx context.Context, subID id.ID, active bool) error {
	now := time.Now().UTC()
	res, err := s.db.NewUpdate().
		Model((*subscriptionModel)(nil)).
		Set("active = ?", active).
		Set("updated_at = ?", now).
		Where("id = ?", subID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return subscription.ErrNotFound
	}
	return nil
}

// ==================== Installation Store ====================

func (s *Store) CreateInstallation(ctx context.Context, inst *installation.Installation) error {
	m := toInstallationModel(inst)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	return err
}

func (s *Store) GetInstallation(ctx context.Context, instID id.ID) (*installation.Installation, error) {
	m := new(installationModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", instID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, installation.ErrNotFound
		}
		return nil, err
	}
	return fromInstallationModel(m)
}

func (s *Store) FindInstallation(ctx context.Context, appID, workspaceID string) (*installation.Installation, error) {
	m := new(installationModel)
	err := s.db.NewSelect().
		Model(m).
		Where("app_id = ?", appID).
		Where("workspace_id = ?", workspaceID).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, installation.ErrNotFound
		}
		return nil, err
	}
	return fromInstallationModel(m)
}

func (s *Store) UpdateInstallation(ctx context.Context, inst *installation.Installation) error {
	m := toInstallationModel(inst)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().
		Model(m).
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return installation.ErrNotFound
	}
	return nil
}

func (s *Store) ListInstallations(ctx context.Context, workspaceID string) ([]*installation.Installation, error) {
	var models []installationModel
	if err := s.db.NewSelect().
		Model(&models).
		Where("workspace_id = ?", workspaceID).
		Order("created_at ASC").
		Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*installation.Installation, len(models))
	for i := range models {
		inst, err := fromInstallationModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = inst
	}
	return result, nil
}

// ==================== Ledger Store ====================

func (s *Store) InsertRecord(ctx context.Context, rec *ledger.Record) error {
	m := toRecordModel(rec)
	res, err := s.db.NewInsert().
		Model(m).
		On("CONFLICT (subscription_id, event_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ledger.ErrDuplicateRecord
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, subID, eventID id.ID) (*ledger.Record, error) {
	m := new(recordModel)
	err := s.db.NewSelect().
		Model(m).
		Where("subscription_id = ?", subID.String()).
		Where("event_id = ?", eventID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, err
	}
	return fromRecordModel(m)
}

func (s *Store) GetRecordByID(ctx context.Context, recID id.ID) (*ledger.Record, error) {
	m := new(recordModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", recID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, err
	}
	return fromRecordModel(m)
}

// UpdateRecordIf is the conditional write that guards against concurrent
// attempt recording. The WHERE clause is the compare-and-swap: it only hits
// rows still at the expected attempt count and not yet terminal.
func (s *Store) UpdateRecordIf(ctx context.Context, rec *ledger.Record, expectedAttempts int) error {
	m := toRecordModel(rec)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().
		Model(m).
		WherePK().
		Where("attempts = ?", expectedAttempts).
		Where("delivered_at IS NULL").
		Where("failed_at IS NULL").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ledger.ErrStaleRecord
	}
	return nil
}

func (s *Store) DueRecords(ctx context.Context, now time.Time, limit int) ([]*ledger.Record, error) {
	var models []recordModel
	if err := s.db.NewSelect().
		Model(&models).
		Where("delivered_at IS NULL").
		Where("failed_at IS NULL").
		Where("next_attempt_at IS NOT NULL").
		Where("next_attempt_at <= ?", now).
		Order("next_attempt_at ASC").
		Limit(limit).
		Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*ledger.Record, len(models))
	for i := range models {
		rec, err := fromRecordModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = rec
	}
	return result, nil
}

func (s *Store) ListRecordsBySubscription(ctx context.Context, subID id.ID, opts ledger.ListOpts) ([]*ledger.Record, error) {
	var models []recordModel
	q := s.db.NewSelect().Model(&models).Where("subscription_id = ?", subID.String())

	if opts.State != nil {
		switch *opts.State {
		case ledger.StateDelivered:
			q = q.Where("delivered_at IS NOT NULL")
		case ledger.StateFailed:
			q = q.Where("failed_at IS NOT NULL")
		case ledger.StatePending:
			q = q.Where("delivered_at IS NULL").Where("failed_at IS NULL")
		}
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.Order("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*ledger.Record, len(models))
	for i := range models {
		rec, err := fromRecordModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = rec
	}
	return result, nil
}

func (s *Store) ListRecordsByEvent(ctx context.Context, eventID id.ID) ([]*ledger.Record, error) {
	var models []recordModel
	if err := s.db.NewSelect().
		Model(&models).
		Where("event_id = ?", eventID.String()).
		Order("created_at DESC").
		Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*ledger.Record, len(models))
	for i := range models {
		rec, err := fromRecordModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = rec
	}
	return result, nil
}

func (s *Store) CountPendingRecords(ctx context.Context) (int, error) {
	return s.db.NewSelect().
		Model((*recordModel)(nil)).
		Where("delivered_at IS NULL").
		Where("failed_at IS NULL").
		Count(ctx)
}

// ==================== DLQ Store ====================

func (s *Store) Push(ctx context.Context, entry *dlq.Entry) error {
	m := toDLQEntryModel(entry)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	return err
}

func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var models []dlqEntryModel
	q := s.db.NewSelect().Model(&models)

	if opts.WorkspaceID != "" {
		q = q.Where("workspace_id = ?", opts.WorkspaceID)
	}
	if opts.SubscriptionID != nil {
		q = q.Where("subscription_id = ?", opts.SubscriptionID.String())
	}
	if opts.From != nil {
		q = q.Where("failed_at >= ?", *opts.From)
	}
	if opts.To != nil {
		q = q.Where("failed_at <= ?", *opts.To)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.Order("failed_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*dlq.Entry, len(models))
	for i := range models {
		entry, err := fromDLQEntryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = entry
	}
	return result, nil
}

func (s *Store) GetDLQ(ctx context.Context, dlqID id.ID) (*dlq.Entry, error) {
	m := new(dlqEntryModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", dlqID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dlq.ErrNotFound
		}
		return nil, err
	}
	return fromDLQEntryModel(m)
}

func (s *Store) MarkReplayed(ctx context.Context, dlqID id.ID, at time.Time) error {
	res, err := s.db.NewUpdate().
		Model((*dlqEntryModel)(nil)).
		Set("replayed_at = ?", at).
		Set("updated_at = ?", at).
		Where("id = ?", dlqID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return dlq.ErrNotFound
	}
	return nil
}

func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*dlqEntryModel)(nil)).
		Where("failed_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.db.NewSelect().
		Model((*dlqEntryModel)(nil)).
		Count(ctx)
	return int64(count), err
}
