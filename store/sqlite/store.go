package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

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

// Store implements store.Store using SQLite via Grove ORM. It is intended for
// development, tests, and small single-node deployments.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("herald/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("herald/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Catalog Store ====================

func (s *Store) RegisterType(ctx context.Context, et *catalog.EventType) error {
	m := toEventTypeModel(et)
	_, err := s.sdb.NewInsert(m).
		OnConflict("(name) DO UPDATE").
		Set("description = EXCLUDED.description").
		Set("group_name = EXCLUDED.group_name").
		Set("schema = EXCLUDED.schema").
		Set("schema_version = EXCLUDED.schema_version").
		Set("version = EXCLUDED.version").
		Set("example = EXCLUDED.example").
		Set("metadata = EXCLUDED.metadata").
		Set("is_deprecated = 0").
		Set("deprecated_at = NULL").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) GetType(ctx context.Context, name string) (*catalog.EventType, error) {
	m := new(eventTypeModel)
	err := s.sdb.NewSelect(m).
		Where("name = ?", name).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, catalog.ErrNotFound
		}
		return nil, err
	}
	return fromEventTypeModel(m)
}

func (s *Store) GetTypeByID(ctx context.Context, etID id.ID) (*catalog.EventType, error) {
	m := new(eventTypeModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", etID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, catalog.ErrNotFound
		}
		return nil, err
	}
	return fromEventTypeModel(m)
}

func (s *Store) ListTypes(ctx context.Context, opts catalog.ListOpts) ([]*catalog.EventType, error) {
	var models []eventTypeModel
	q := s.sdb.NewSelect(&models)

	if opts.Group != "" {
		q = q.Where("group_name = ?", opts.Group)
	}
	if !opts.IncludeDeprecated {
		q = q.Where("is_deprecated = 0")
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("name ASC")

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
	res, err := s.sdb.NewUpdate((*eventTypeModel)(nil)).
		Set("is_deprecated = ?", true).
		Set("deprecated_at = ?", now).
		Set("updated_at = ?", now).
		Where("name = ?", name).
		Where("is_deprecated = 0").
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
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", subID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, subscription.ErrNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.sdb.NewUpdate(m).
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
	res, err := s.sdb.NewDelete((*subscriptionModel)(nil)).
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
	q := s.sdb.NewSelect(&models).Where("workspace_id = ?", workspaceID)

	if opts.Active != nil {
		q = q.Where("active = ?", *opts.Active)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC")

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
	if err := s.sdb.NewSelect(&models).
		Where("installation_id = ?", instID.String()).
		OrderExpr("created_at ASC").
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
	if err := s.sdb.NewSelect(&models).
		Where("workspace_id = ?", workspaceID).
		Where("active = 1").
		OrderExpr("created_at ASC").
		Scan(ctx); err != nil {
		return nil, err
	}

	// Glob matching happens in Go; patterns are too dynamic for an index.
	var result []*subscription.Subscription
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		if catalog.MatchAny(sub.EventTypes, eventType) {
			result = append(result, sub)
		}
	}
	return result, nil
}

func (s *Store) SetActive(ctx context.Context, subID id.ID, active bool) error {
	now := time.Now().UTC()
	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
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
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetInstallation(ctx context.Context, instID id.ID) (*installation.Installation, error) {
	m := new(installationModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", instID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, installation.ErrNotFound
		}
		return nil, err
	}
	return fromInstallationModel(m)
}

func (s *Store) FindInstallation(ctx context.Context, appID, workspaceID string) (*installation.Installation, error) {
	m := new(installationModel)
	err := s.sdb.NewSelect(m).
		Where("app_id = ?", appID).
		Where("workspace_id = ?", workspaceID).
		OrderExpr("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, installation.ErrNotFound
		}
		return nil, err
	}
	return fromInstallationModel(m)
}

func (s *Store) UpdateInstallation(ctx context.Context, inst *installation.Installation) error {
	m := toInstallationModel(inst)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.sdb.NewUpdate(m).
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
	if err := s.sdb.NewSelect(&models).
		Where("workspace_id = ?", workspaceID).
		OrderExpr("created_at ASC").
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
	res, err := s.sdb.NewInsert(m).
		OnConflict("(subscription_id, event_id) DO NOTHING").
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
	err := s.sdb.NewSelect(m).
		Where("subscription_id = ?", subID.String()).
		Where("event_id = ?", eventID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, ledger.ErrNotFound
		}
		return nil, err
	}
	return fromRecordModel(m)
}

func (s *Store) GetRecordByID(ctx context.Context, recID id.ID) (*ledger.Record, error) {
	m := new(recordModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", recID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
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
	res, err := s.sdb.NewUpdate(m).
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
	err := s.sdb.NewRaw(`
		SELECT * FROM herald_records
		WHERE delivered_at IS NULL
		  AND failed_at IS NULL
		  AND next_attempt_at IS NOT NULL
		  AND next_attempt_at <= ?
		ORDER BY next_attempt_at ASC
		LIMIT ?
	`, now, limit).Scan(ctx, &models)
	if err != nil {
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
	q := s.sdb.NewSelect(&models).Where("subscription_id = ?", subID.String())

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
	q = q.OrderExpr("created_at DESC")

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
	if err := s.sdb.NewSelect(&models).
		Where("event_id = ?", eventID.String()).
		OrderExpr("created_at DESC").
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
	count, err := s.sdb.NewSelect((*recordModel)(nil)).
		Where("delivered_at IS NULL").
		Where("failed_at IS NULL").
		Count(ctx)
	return int(count), err
}

// ==================== DLQ Store ====================

func (s *Store) Push(ctx context.Context, entry *dlq.Entry) error {
	m := toDLQEntryModel(entry)
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var models []dlqEntryModel
	q := s.sdb.NewSelect(&models)

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
	q = q.OrderExpr("failed_at DESC")

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
	err := s.sdb.NewSelect(m).
		Where("id = ?", dlqID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, dlq.ErrNotFound
		}
		return nil, err
	}
	return fromDLQEntryModel(m)
}

func (s *Store) MarkReplayed(ctx context.Context, dlqID id.ID, at time.Time) error {
	res, err := s.sdb.NewUpdate((*dlqEntryModel)(nil)).
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
	res, err := s.sdb.NewDelete((*dlqEntryModel)(nil)).
		Where("failed_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return rows, nil
}

func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.sdb.NewSelect((*dlqEntryModel)(nil)).
		Count(ctx)
	return count, err
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
