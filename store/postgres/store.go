package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
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

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("herald/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("herald/postgres: migration failed: %w", err)
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
	_, err := s.pg.NewInsert(m).
		OnConflict("(name) DO UPDATE").
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
	err := s.pg.NewSelect(m).
		Where("name = $1", name).
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
	err := s.pg.NewSelect(m).
		Where("id = $1", etID.String()).
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
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.Group != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("group_name = $%d", argIdx), opts.Group)
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
	res, err := s.pg.NewUpdate((*eventTypeModel)(nil)).
		Set("is_deprecated = true").
		Set("deprecated_at = $1", now).
		Set("updated_at = $2", now).
		Where("name = $3", name).
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
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", subID.String()).
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
	res, err := s.pg.NewUpdate(m).
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
	res, err := s.pg.NewDelete((*subscriptionModel)(nil)).
		Where("id = $1", subID.String()).
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
	q := s.pg.NewSelect(&models).Where("workspace_id = $1", workspaceID)

	argIdx := 1
	if opts.Active != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("active = $%d", argIdx), *opts.Active)
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
	if err := s.pg.NewSelect(&models).
		Where("installation_id = $1", instID.String()).
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
	if err := s.pg.NewSelect(&models).
		Where("workspace_id = $1", workspaceID).
		Where("active = true").
		OrderExpr("created_at ASC").
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
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("active = $1", active).
		Set("updated_at = $2", now).
		Where("id = $3", subID.String()).
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
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetInstallation(ctx context.Context, instID id.ID) (*installation.Installation, error) {
	m := new(installationModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", instID.String()).
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
	err := s.pg.NewSelect(m).
		Where("app_id = $1", appID).
		Where("workspace_id = $2", workspaceID).
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
	res, err := s.pg.NewUpdate(m).
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
	if err := s.pg.NewSelect(&models).
		Where("workspace_id = $1", workspaceID).
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
	res, err := s.pg.NewInsert(m).
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
	err := s.pg.NewSelect(m).
		Where("subscription_id = $1", subID.String()).
		Where("event_id = $2", eventID.String()).
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
	err := s.pg.NewSelect(m).
		Where("id = $1", recID.String()).
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
	res, err := s.pg.NewUpdate(m).
		WherePK().
		Where("attempts = $1", expectedAttempts).
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
	err := s.pg.NewRaw(`
		SELECT * FROM herald_records
		WHERE delivered_at IS NULL
		  AND failed_at IS NULL
		  AND next_attempt_at IS NOT NULL
		  AND next_attempt_at <= $1
		ORDER BY next_attempt_at ASC
		LIMIT $2
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
	q := s.pg.NewSelect(&models).Where("subscription_id = $1", subID.String())

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
	if err := s.pg.NewSelect(&models).
		Where("event_id = $1", eventID.String()).
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
	count, err := s.pg.NewSelect((*recordModel)(nil)).
		Where("delivered_at IS NULL").
		Where("failed_at IS NULL").
		Count(ctx)
	return int(count), err
}

// ==================== DLQ Store ====================

func (s *Store) Push(ctx context.Context, entry *dlq.Entry) error {
	m := toDLQEntryModel(entry)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var models []dlqEntryModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.WorkspaceID != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("workspace_id = $%d", argIdx), opts.WorkspaceID)
	}
	if opts.SubscriptionID != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("subscription_id = $%d", argIdx), opts.SubscriptionID.String())
	}
	if opts.From != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("failed_at >= $%d", argIdx), *opts.From)
	}
	if opts.To != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("failed_at <= $%d", argIdx), *opts.To)
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
	err := s.pg.NewSelect(m).
		Where("id = $1", dlqID.String()).
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
	res, err := s.pg.NewUpdate((*dlqEntryModel)(nil)).
		Set("replayed_at = $1", at).
		Set("updated_at = $2", at).
		Where("id = $3", dlqID.String()).
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
	res, err := s.pg.NewDelete((*dlqEntryModel)(nil)).
		Where("failed_at < $1", before).
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
	count, err := s.pg.NewSelect((*dlqEntryModel)(nil)).
		Count(ctx)
	return count, err
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
