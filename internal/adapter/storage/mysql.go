package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/munivet/doseledger/internal/core/domain"
	"github.com/munivet/doseledger/internal/port"
)

// MySQL error numbers that mean the transaction lost a lock race and the
// caller should retry from scratch.
const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

type MySQLStore struct {
	db *sqlx.DB
}

func NewMySQLStore(db *sqlx.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// Migrate creates the ledger tables if they do not exist.
func (s *MySQLStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			unit VARCHAR(32) NOT NULL DEFAULT 'dose',
			quantity_on_hand BIGINT NOT NULL DEFAULT 0,
			reorder_threshold BIGINT NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS campaigns (
			id VARCHAR(36) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			product_id VARCHAR(64) NOT NULL,
			state VARCHAR(16) NOT NULL,
			allocated_total BIGINT NOT NULL DEFAULT 0,
			starts_at DATETIME NULL,
			ends_at DATETIME NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS worker_allocations (
			campaign_id VARCHAR(36) NOT NULL,
			worker_id VARCHAR(64) NOT NULL,
			initial_quantity BIGINT NOT NULL,
			remaining_quantity BIGINT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (campaign_id, worker_id)
		)`,
		`CREATE TABLE IF NOT EXISTS consumption_records (
			id VARCHAR(36) PRIMARY KEY,
			product_id VARCHAR(64) NOT NULL,
			campaign_id VARCHAR(36) NOT NULL DEFAULT '',
			worker_id VARCHAR(64) NOT NULL,
			subject_ref VARCHAR(128) NOT NULL,
			quantity BIGINT NOT NULL,
			recorded_at DATETIME NOT NULL,
			INDEX idx_consumption_campaign (campaign_id),
			INDEX idx_consumption_product (product_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *MySQLStore) WithinTx(ctx context.Context, fn func(tx port.LedgerTx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return mapMySQLError("begin tx", err)
	}
	if err := fn(&mysqlTx{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapMySQLError("commit tx", err)
	}
	return nil
}

func (s *MySQLStore) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.GetContext(ctx, &p, `
		SELECT id, name, unit, quantity_on_hand, reorder_threshold, created_at, updated_at
		FROM products WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapMySQLError("query product", err)
	}
	return &p, nil
}

func (s *MySQLStore) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	var c domain.Campaign
	err := s.db.GetContext(ctx, &c, `
		SELECT id, name, product_id, state, allocated_total, starts_at, ends_at, created_at, updated_at
		FROM campaigns WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapMySQLError("query campaign", err)
	}
	return &c, nil
}

func (s *MySQLStore) ListAllocations(ctx context.Context, campaignID string) ([]domain.WorkerAllocation, error) {
	var allocs []domain.WorkerAllocation
	err := s.db.SelectContext(ctx, &allocs, `
		SELECT campaign_id, worker_id, initial_quantity, remaining_quantity, created_at, updated_at
		FROM worker_allocations WHERE campaign_id = ? ORDER BY worker_id`, campaignID)
	if err != nil {
		return nil, mapMySQLError("query allocations", err)
	}
	return allocs, nil
}

func (s *MySQLStore) ListConsumptions(ctx context.Context, filter domain.ConsumptionFilter) ([]domain.ConsumptionRecord, error) {
	query := `
		SELECT id, product_id, campaign_id, worker_id, subject_ref, quantity, recorded_at
		FROM consumption_records WHERE 1=1`
	var args []interface{}
	if filter.ProductID != "" {
		query += ` AND product_id = ?`
		args = append(args, filter.ProductID)
	}
	if filter.CampaignID != "" {
		query += ` AND campaign_id = ?`
		args = append(args, filter.CampaignID)
	}
	if filter.WorkerID != "" {
		query += ` AND worker_id = ?`
		args = append(args, filter.WorkerID)
	}
	query += ` ORDER BY recorded_at, id`

	var recs []domain.ConsumptionRecord
	if err := s.db.SelectContext(ctx, &recs, query, args...); err != nil {
		return nil, mapMySQLError("query consumptions", err)
	}
	return recs, nil
}

type mysqlTx struct {
	tx *sqlx.Tx
}

func (t *mysqlTx) ProductForUpdate(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := t.tx.GetContext(ctx, &p, `
		SELECT id, name, unit, quantity_on_hand, reorder_threshold, created_at, updated_at
		FROM products WHERE id = ? FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapMySQLError("lock product", err)
	}
	return &p, nil
}

func (t *mysqlTx) AdjustProductStock(ctx context.Context, id string, delta int64) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET quantity_on_hand = quantity_on_hand + ?, updated_at = NOW()
		WHERE id = ? AND quantity_on_hand + ? >= 0`,
		delta, id, delta)
	if err != nil {
		return mapMySQLError("adjust product stock", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("product %s: %w", id, domain.ErrInsufficientStock)
	}
	return nil
}

func (t *mysqlTx) InsertCampaign(ctx context.Context, c *domain.Campaign) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, product_id, state, allocated_total, starts_at, ends_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.ProductID, c.State, c.AllocatedTotal, c.StartsAt, c.EndsAt, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return mapMySQLError("insert campaign", err)
	}
	return nil
}

func (t *mysqlTx) CampaignForUpdate(ctx context.Context, id string) (*domain.Campaign, error) {
	var c domain.Campaign
	err := t.tx.GetContext(ctx, &c, `
		SELECT id, name, product_id, state, allocated_total, starts_at, ends_at, created_at, updated_at
		FROM campaigns WHERE id = ? FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapMySQLError("lock campaign", err)
	}
	return &c, nil
}

func (t *mysqlTx) SetCampaignState(ctx context.Context, id string, state domain.CampaignState) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE campaigns SET state = ?, updated_at = NOW() WHERE id = ?`, state, id)
	if err != nil {
		return mapMySQLError("set campaign state", err)
	}
	return nil
}

func (t *mysqlTx) SetAllocatedTotal(ctx context.Context, id string, total int64) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE campaigns SET allocated_total = ?, updated_at = NOW() WHERE id = ?`, total, id)
	if err != nil {
		return mapMySQLError("set allocated total", err)
	}
	return nil
}

func (t *mysqlTx) InsertAllocation(ctx context.Context, a *domain.WorkerAllocation) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO worker_allocations (campaign_id, worker_id, initial_quantity, remaining_quantity, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.CampaignID, a.WorkerID, a.InitialQuantity, a.RemainingQuantity, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return mapMySQLError("insert allocation", err)
	}
	return nil
}

func (t *mysqlTx) AllocationForUpdate(ctx context.Context, campaignID, workerID string) (*domain.WorkerAllocation, error) {
	var a domain.WorkerAllocation
	err := t.tx.GetContext(ctx, &a, `
		SELECT campaign_id, worker_id, initial_quantity, remaining_quantity, created_at, updated_at
		FROM worker_allocations WHERE campaign_id = ? AND worker_id = ? FOR UPDATE`,
		campaignID, workerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapMySQLError("lock allocation", err)
	}
	return &a, nil
}

func (t *mysqlTx) AllocationsForUpdate(ctx context.Context, campaignID string) ([]domain.WorkerAllocation, error) {
	var allocs []domain.WorkerAllocation
	err := t.tx.SelectContext(ctx, &allocs, `
		SELECT campaign_id, worker_id, initial_quantity, remaining_quantity, created_at, updated_at
		FROM worker_allocations WHERE campaign_id = ? ORDER BY worker_id FOR UPDATE`,
		campaignID)
	if err != nil {
		return nil, mapMySQLError("lock allocations", err)
	}
	return allocs, nil
}

func (t *mysqlTx) AdjustAllocation(ctx context.Context, campaignID, workerID string, initialDelta, remainingDelta int64) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE worker_allocations
		SET initial_quantity = initial_quantity + ?,
		    remaining_quantity = remaining_quantity + ?,
		    updated_at = NOW()
		WHERE campaign_id = ? AND worker_id = ?
		  AND initial_quantity + ? >= 0
		  AND remaining_quantity + ? >= 0`,
		initialDelta, remainingDelta, campaignID, workerID, initialDelta, remainingDelta)
	if err != nil {
		return mapMySQLError("adjust allocation", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("allocation %s/%s: %w", campaignID, workerID, domain.ErrInsufficientStock)
	}
	return nil
}

func (t *mysqlTx) ZeroRemaining(ctx context.Context, campaignID string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE worker_allocations SET remaining_quantity = 0, updated_at = NOW()
		WHERE campaign_id = ?`, campaignID)
	if err != nil {
		return mapMySQLError("zero remaining", err)
	}
	return nil
}

func (t *mysqlTx) InsertConsumption(ctx context.Context, rec *domain.ConsumptionRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO consumption_records (id, product_id, campaign_id, worker_id, subject_ref, quantity, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ProductID, rec.CampaignID, rec.WorkerID, rec.SubjectRef, rec.Quantity, rec.RecordedAt)
	if err != nil {
		return mapMySQLError("insert consumption", err)
	}
	return nil
}

// mapMySQLError translates lock-wait and deadlock failures into the retryable
// contention error; everything else stays an internal error with context.
func mapMySQLError(op string, err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrLockWaitTimeout, mysqlErrDeadlock:
			return fmt.Errorf("%s: %w", op, domain.ErrContention)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
