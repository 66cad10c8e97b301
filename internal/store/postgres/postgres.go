package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"salestarget/backend/internal/domain"
	"salestarget/backend/internal/store"
	"salestarget/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

const maxTxAttempts = 4

type Store struct {
	db *sql.DB
}

var _ store.Repository = (*Store)(nil)

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the bundled schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

// withTx runs fn in a serializable transaction, retrying when postgres
// aborts it on a serialization conflict. fn must be safe to re-run.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !isSerializationFailure(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 15 * time.Millisecond):
		}
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) EnsurePeriod(ctx context.Context, period domain.Period) (*domain.Period, error) {
	if period.ID == "" {
		period.ID = xid.New("period")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO periods (id, label, kind, starts_on, ends_on, created_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (label) DO NOTHING
	`, period.ID, period.Label, string(period.Kind), period.StartsOn, period.EndsOn)
	if err != nil {
		return nil, err
	}
	return s.scanPeriod(s.db.QueryRowContext(ctx, `
		SELECT id, label, kind, starts_on, ends_on, created_at FROM periods WHERE label = $1
	`, period.Label))
}

func (s *Store) scanPeriod(row *sql.Row) (*domain.Period, error) {
	var p domain.Period
	var kind string
	if err := row.Scan(&p.ID, &p.Label, &kind, &p.StartsOn, &p.EndsOn, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: period", domain.ErrNotFound)
		}
		return nil, err
	}
	p.Kind = domain.PeriodKind(kind)
	return &p, nil
}

const batchColumns = `
	b.id, b.period_id, p.label, b.region_id, b.owner_user_id, b.status, b.revision,
	b.created_by, b.created_at, b.updated_at, b.submitted_at, b.decided_at, b.decided_by, b.reject_reason
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*domain.TargetBatch, error) {
	var b domain.TargetBatch
	var status string
	var submittedAt, decidedAt sql.NullTime
	err := row.Scan(&b.ID, &b.PeriodID, &b.PeriodLabel, &b.RegionID, &b.OwnerUserID, &status, &b.Revision,
		&b.CreatedBy, &b.CreatedAt, &b.UpdatedAt, &submittedAt, &decidedAt, &b.DecidedBy, &b.RejectReason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: batch", domain.ErrNotFound)
		}
		return nil, err
	}
	b.Status = domain.BatchStatus(status)
	if submittedAt.Valid {
		at := submittedAt.Time.UTC()
		b.SubmittedAt = &at
	}
	if decidedAt.Valid {
		at := decidedAt.Time.UTC()
		b.DecidedAt = &at
	}
	return &b, nil
}

func (s *Store) CreateBatch(ctx context.Context, batch domain.TargetBatch) (*domain.TargetBatch, error) {
	if batch.ID == "" {
		batch.ID = xid.New("batch")
	}
	if batch.Status == "" {
		batch.Status = domain.BatchDraft
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO target_batches (id, period_id, region_id, owner_user_id, status, revision, created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,0,$6,now(),now())
	`, batch.ID, batch.PeriodID, batch.RegionID, batch.OwnerUserID, string(batch.Status), batch.CreatedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: a batch already covers this period and region", domain.ErrConflict)
		}
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: period %s", domain.ErrNotFound, batch.PeriodID)
		}
		return nil, err
	}
	return s.GetBatch(ctx, batch.ID)
}

func (s *Store) GetBatch(ctx context.Context, id string) (*domain.TargetBatch, error) {
	return scanBatch(s.db.QueryRowContext(ctx, `
		SELECT `+batchColumns+`
		FROM target_batches b JOIN periods p ON p.id = b.period_id
		WHERE b.id = $1
	`, id))
}

func (s *Store) ListBatches(ctx context.Context, filter domain.BatchFilter) ([]domain.TargetBatch, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM target_batches b JOIN periods p ON p.id = b.period_id
		WHERE ($1 = '' OR b.period_id = $1)
		  AND ($2 = '' OR b.region_id = $2)
		  AND ($3 = '' OR b.status = $3)
		ORDER BY b.created_at DESC, b.id
		LIMIT $4
	`, filter.PeriodID, filter.RegionID, string(filter.Status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.TargetBatch, 0, 16)
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// lockBatch takes the row lock that serializes writes and transitions on
// one batch.
func lockBatch(ctx context.Context, tx *sql.Tx, id string) (*domain.TargetBatch, error) {
	return scanBatch(tx.QueryRowContext(ctx, `
		SELECT `+batchColumns+`
		FROM target_batches b JOIN periods p ON p.id = b.period_id
		WHERE b.id = $1
		FOR UPDATE OF b
	`, id))
}

func lockEditableBatch(ctx context.Context, tx *sql.Tx, id string) (*domain.TargetBatch, error) {
	batch, err := lockBatch(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !batch.Status.Editable() {
		return nil, fmt.Errorf("%w: batch is %s", domain.ErrBatchLocked, batch.Status)
	}
	return batch, nil
}

func bumpRevision(ctx context.Context, tx *sql.Tx, id string) (int64, error) {
	var rev int64
	err := tx.QueryRowContext(ctx, `
		UPDATE target_batches SET revision = revision + 1, updated_at = $2
		WHERE id = $1
		RETURNING revision
	`, id, time.Now().UTC()).Scan(&rev)
	return rev, err
}

func (s *Store) TransitionBatch(ctx context.Context, id string, tr domain.Transition) (*domain.TargetBatch, error) {
	var out *domain.TargetBatch
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		batch, err := lockBatch(ctx, tx, id)
		if err != nil {
			return err
		}
		allowed := false
		for _, from := range tr.From {
			if batch.Status == from {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: batch is %s", domain.ErrInvalidTransition, batch.Status)
		}
		if tr.RequireRows {
			var n int
			if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM target_rows WHERE batch_id = $1`, id).Scan(&n); err != nil {
				return err
			}
			if n == 0 {
				return domain.Invalid("rows", "batch has no target rows")
			}
		}
		if tr.RequireNoIssues {
			var n int
			if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM target_cell_issues WHERE batch_id = $1`, id).Scan(&n); err != nil {
				return err
			}
			if n > 0 {
				return domain.Invalid("cells", "%d cell(s) hold invalid input", n)
			}
		}

		store.ApplyTransition(batch, tr)
		_, err = tx.ExecContext(ctx, `
			UPDATE target_batches
			SET status = $2, revision = $3, updated_at = $4, submitted_at = $5,
			    decided_at = $6, decided_by = $7, reject_reason = $8
			WHERE id = $1
		`, id, string(batch.Status), batch.Revision, batch.UpdatedAt, nullTime(batch.SubmittedAt),
			nullTime(batch.DecidedAt), batch.DecidedBy, batch.RejectReason)
		out = batch
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpsertTargetRow(ctx context.Context, write domain.RowWrite) (domain.RowWriteResult, error) {
	var result domain.RowWriteResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result = domain.RowWriteResult{}
		batch, err := lockEditableBatch(ctx, tx, write.BatchID)
		if err != nil {
			return err
		}
		result.Revision = batch.Revision

		existing, err := scanTargetRow(tx.QueryRowContext(ctx, `
			SELECT `+targetRowColumns+` FROM target_rows
			WHERE batch_id = $1 AND customer_id = $2 AND sku_id = $3
		`, write.BatchID, write.CustomerID, write.SKUID))
		had := err == nil
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if had && write.At.Before(existing.UpdatedAt) {
			result.Row = existing
			return nil
		}
		if !had {
			var deletedAt time.Time
			err := tx.QueryRowContext(ctx, `
				SELECT deleted_at FROM target_row_deletions
				WHERE batch_id = $1 AND customer_id = $2 AND sku_id = $3
			`, write.BatchID, write.CustomerID, write.SKUID).Scan(&deletedAt)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			if err == nil && write.At.Before(deletedAt) {
				return nil
			}
		}

		cleared, err := tx.ExecContext(ctx, `
			DELETE FROM target_cell_issues WHERE batch_id = $1 AND customer_id = $2 AND sku_id = $3
		`, write.BatchID, write.CustomerID, write.SKUID)
		if err != nil {
			return err
		}
		n, _ := cleared.RowsAffected()
		changed := n > 0

		switch {
		case write.Qty.IsZero():
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO target_row_deletions (batch_id, customer_id, sku_id, deleted_at)
				VALUES ($1,$2,$3,$4)
				ON CONFLICT (batch_id, customer_id, sku_id)
				DO UPDATE SET deleted_at = GREATEST(target_row_deletions.deleted_at, EXCLUDED.deleted_at)
			`, write.BatchID, write.CustomerID, write.SKUID, write.At); err != nil {
				return err
			}
			if had {
				if _, err := tx.ExecContext(ctx, `DELETE FROM target_rows WHERE id = $1`, existing.ID); err != nil {
					return err
				}
				changed = true
			}
		case had && existing.TargetQty.Equal(write.Qty):
			result.Row = existing
		default:
			row := domain.TargetRow{
				ID:          xid.New("row"),
				BatchID:     write.BatchID,
				PeriodID:    write.PeriodID,
				CustomerID:  write.CustomerID,
				SKUID:       write.SKUID,
				UOM:         domain.UOMCases,
				TargetQty:   write.Qty,
				TargetValue: decimal.NewNullDecimal(write.Value),
				UpdatedAt:   write.At,
				UpdatedBy:   write.Actor,
			}
			if had {
				row.ID = existing.ID
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO target_rows (id, batch_id, period_id, customer_id, sku_id, uom, target_qty, target_value, updated_at, updated_by)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
				ON CONFLICT (batch_id, customer_id, sku_id)
				DO UPDATE SET target_qty = EXCLUDED.target_qty,
				              target_value = EXCLUDED.target_value,
				              updated_at = EXCLUDED.updated_at,
				              updated_by = EXCLUDED.updated_by
			`, row.ID, row.BatchID, row.PeriodID, row.CustomerID, row.SKUID, row.UOM, row.TargetQty, row.TargetValue, row.UpdatedAt, row.UpdatedBy)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM target_row_deletions WHERE batch_id = $1 AND customer_id = $2 AND sku_id = $3
			`, write.BatchID, write.CustomerID, write.SKUID); err != nil {
				return err
			}
			result.Row = &row
			changed = true
		}

		if changed {
			rev, err := bumpRevision(ctx, tx, write.BatchID)
			if err != nil {
				return err
			}
			result.Revision = rev
			result.Changed = true
		}
		return nil
	})
	if err != nil {
		return domain.RowWriteResult{}, err
	}
	return result, nil
}

func (s *Store) InsertTargetRows(ctx context.Context, batchID string, rows []domain.TargetRow) (int, int64, error) {
	var inserted int
	var rev int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		inserted = 0
		batch, err := lockEditableBatch(ctx, tx, batchID)
		if err != nil {
			return err
		}
		rev = batch.Revision

		now := time.Now().UTC()
		for _, row := range rows {
			if !row.TargetQty.IsPositive() {
				continue
			}
			if row.ID == "" {
				row.ID = xid.New("row")
			}
			if row.UOM == "" {
				row.UOM = domain.UOMCases
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO target_rows (id, batch_id, period_id, customer_id, sku_id, uom, target_qty, target_value, updated_at, updated_by)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
				ON CONFLICT (batch_id, customer_id, sku_id) DO NOTHING
			`, row.ID, batchID, batch.PeriodID, row.CustomerID, row.SKUID, row.UOM, row.TargetQty, row.TargetValue, now, row.UpdatedBy)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted++
			}
		}
		if inserted > 0 {
			rev, err = bumpRevision(ctx, tx, batchID)
			return err
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return inserted, rev, nil
}

const targetRowColumns = `id, batch_id, period_id, customer_id, sku_id, uom, target_qty, target_value, updated_at, updated_by`

func scanTargetRow(row rowScanner) (*domain.TargetRow, error) {
	var r domain.TargetRow
	err := row.Scan(&r.ID, &r.BatchID, &r.PeriodID, &r.CustomerID, &r.SKUID, &r.UOM, &r.TargetQty, &r.TargetValue, &r.UpdatedAt, &r.UpdatedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: target row", domain.ErrNotFound)
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListTargetRows(ctx context.Context, batchID string) ([]domain.TargetRow, error) {
	if _, err := s.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+targetRowColumns+` FROM target_rows
		WHERE batch_id = $1
		ORDER BY customer_id, sku_id
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.TargetRow, 0, 64)
	for rows.Next() {
		r, err := scanTargetRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) RecordCellIssue(ctx context.Context, issue domain.CellIssue) (int64, error) {
	if issue.RecordedAt.IsZero() {
		issue.RecordedAt = time.Now().UTC()
	}
	var rev int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := lockEditableBatch(ctx, tx, issue.BatchID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO target_cell_issues (batch_id, customer_id, sku_id, raw_input, message, recorded_at)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (batch_id, customer_id, sku_id)
			DO UPDATE SET raw_input = EXCLUDED.raw_input, message = EXCLUDED.message, recorded_at = EXCLUDED.recorded_at
		`, issue.BatchID, issue.CustomerID, issue.SKUID, issue.RawInput, issue.Message, issue.RecordedAt)
		if err != nil {
			return err
		}
		rev, err = bumpRevision(ctx, tx, issue.BatchID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return rev, nil
}

func (s *Store) ListCellIssues(ctx context.Context, batchID string) ([]domain.CellIssue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT batch_id, customer_id, sku_id, raw_input, message, recorded_at
		FROM target_cell_issues
		WHERE batch_id = $1
		ORDER BY customer_id, sku_id
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.CellIssue, 0, 4)
	for rows.Next() {
		var issue domain.CellIssue
		if err := rows.Scan(&issue.BatchID, &issue.CustomerID, &issue.SKUID, &issue.RawInput, &issue.Message, &issue.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, issue)
	}
	return out, rows.Err()
}

func (s *Store) CreateBatchEvent(ctx context.Context, event domain.BatchEvent) error {
	if event.ID == "" {
		event.ID = xid.New("event")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batch_events (id, batch_id, action, from_status, to_status, actor_id, actor_role, reason, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, event.ID, event.BatchID, event.Action, string(event.FromStatus), string(event.ToStatus),
		event.ActorID, string(event.ActorRole), event.Reason, event.Detail, event.CreatedAt)
	return err
}

func (s *Store) ListBatchEvents(ctx context.Context, batchID string, limit int) ([]domain.BatchEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, action, from_status, to_status, actor_id, actor_role, reason, detail, created_at
		FROM batch_events
		WHERE batch_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, batchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.BatchEvent, 0, 8)
	for rows.Next() {
		var e domain.BatchEvent
		var from, to, role string
		if err := rows.Scan(&e.ID, &e.BatchID, &e.Action, &from, &to, &e.ActorID, &role, &e.Reason, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.FromStatus = domain.BatchStatus(from)
		e.ToStatus = domain.BatchStatus(to)
		e.ActorRole = domain.Role(role)
		out = append(out, e)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
