package delivery

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"converzia_backend/platform/apperr"
)

// Delivery record statuses. A record is claimed by moving it from pending to
// processing; delivered and failed are terminal (failed only until a manual
// retry requeues it).
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusDelivered  = "delivered"
	StatusFailed     = "failed"
)

const deliveryNotFoundMessage = "delivery not found"

// Record is one lead handoff owed to a tenant's integrations.
type Record struct {
	ID                    uuid.UUID
	TenantID              uuid.UUID
	LeadID                uuid.UUID
	LeadOfferID           uuid.UUID
	Status                string
	RetryCount            int
	ErrorMessage          *string
	IntegrationsAttempted []uuid.UUID
	ClaimedAt             *time.Time
	DeliveredAt           *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// CreateParams inserts a pending delivery for a ready lead offer.
type CreateParams struct {
	TenantID    uuid.UUID
	LeadID      uuid.UUID
	LeadOfferID uuid.UUID
}

// ListParams filters and pages a tenant's delivery history.
type ListParams struct {
	TenantID uuid.UUID
	Status   string
	Offset   int
	Limit    int
}

// Repository persists delivery records.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (Record, error)
	ClaimDue(ctx context.Context, batch, maxRetries int) ([]Record, error)
	ReleaseStale(ctx context.Context, claimTTL time.Duration) (int64, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, attempted []uuid.UUID) error
	MarkRetry(ctx context.Context, id uuid.UUID, errMsg string, attempted []uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, attempted []uuid.UUID) error
	ReleasePending(ctx context.Context, id uuid.UUID, errMsg string) error
	GetByID(ctx context.Context, id uuid.UUID) (Record, error)
	GetForTenant(ctx context.Context, tenantID, id uuid.UUID) (Record, error)
	ListByTenant(ctx context.Context, params ListParams) ([]Record, int, error)
	RetryFailed(ctx context.Context, tenantID, id uuid.UUID) (Record, error)
}

// Repo implements the Repository interface with PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new delivery repository.
func NewRepository(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Compile-time check that Repo implements Repository.
var _ Repository = (*Repo)(nil)

const deliveryColumns = `id, tenant_id, lead_id, lead_offer_id, status, retry_count, error_message, integrations_attempted, claimed_at, delivered_at, created_at, updated_at`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.TenantID, &rec.LeadID, &rec.LeadOfferID, &rec.Status, &rec.RetryCount,
		&rec.ErrorMessage, &rec.IntegrationsAttempted, &rec.ClaimedAt, &rec.DeliveredAt, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, err
}

// Create inserts a pending record for a lead offer. The partial unique index
// on open records makes this idempotent per offer: a second insert while one
// is pending or processing returns conflict.
func (r *Repo) Create(ctx context.Context, params CreateParams) (Record, error) {
	query := `INSERT INTO deliveries (tenant_id, lead_id, lead_offer_id, status)
		VALUES ($1, $2, $3, 'pending')
		ON CONFLICT (lead_offer_id) WHERE status IN ('pending', 'processing') DO NOTHING
		RETURNING ` + deliveryColumns

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, params.TenantID, params.LeadID, params.LeadOfferID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, apperr.Conflict("delivery already open for lead offer")
		}
		return Record{}, err
	}
	return rec, nil
}

// ClaimDue atomically claims up to batch pending records below the retry
// ceiling, oldest first. The CTE locks the candidate rows with SKIP LOCKED
// before flipping them to processing in the same statement, so overlapping
// invocations never claim the same record.
func (r *Repo) ClaimDue(ctx context.Context, batch, maxRetries int) ([]Record, error) {
	if batch < 1 {
		return nil, nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `WITH due AS (
		SELECT id
		FROM deliveries
		WHERE status = 'pending' AND retry_count < $2
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	)
	UPDATE deliveries d
	SET status = 'processing', claimed_at = now(), updated_at = now()
	FROM due
	WHERE d.id = due.id
	RETURNING d.id, d.tenant_id, d.lead_id, d.lead_offer_id, d.status, d.retry_count,
		d.error_message, d.integrations_attempted, d.claimed_at, d.delivered_at, d.created_at, d.updated_at`,
		batch, maxRetries)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claimed []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	// UPDATE ... FROM does not promise row order; the processor needs
	// oldest-first.
	sort.Slice(claimed, func(i, j int) bool { return claimed[i].CreatedAt.Before(claimed[j].CreatedAt) })
	return claimed, nil
}

// ReleaseStale returns processing records whose claim expired to pending.
// Crash recovery: a processor that died mid-run leaves claims behind, and
// this sweep makes its records claimable again without burning a retry.
func (r *Repo) ReleaseStale(ctx context.Context, claimTTL time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE deliveries
		 SET status = 'pending', claimed_at = NULL, updated_at = now()
		 WHERE status = 'processing' AND claimed_at < now() - make_interval(secs => $1)`,
		claimTTL.Seconds(),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MarkDelivered finishes a record successfully.
func (r *Repo) MarkDelivered(ctx context.Context, id uuid.UUID, attempted []uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE deliveries
		 SET status = 'delivered', integrations_attempted = $2, error_message = NULL,
		     delivered_at = now(), claimed_at = NULL, updated_at = now()
		 WHERE id = $1`,
		id, attempted,
	)
	return err
}

// MarkRetry returns a failed attempt to pending with the retry counter
// incremented and the attempted-integration set preserved.
func (r *Repo) MarkRetry(ctx context.Context, id uuid.UUID, errMsg string, attempted []uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE deliveries
		 SET status = 'pending', retry_count = retry_count + 1, error_message = $2,
		     integrations_attempted = $3, claimed_at = NULL, updated_at = now()
		 WHERE id = $1`,
		id, errMsg, attempted,
	)
	return err
}

// MarkFailed parks a record in the terminal failed status after the retry
// ceiling is reached.
func (r *Repo) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, attempted []uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE deliveries
		 SET status = 'failed', retry_count = retry_count + 1, error_message = $2,
		     integrations_attempted = $3, claimed_at = NULL, updated_at = now()
		 WHERE id = $1`,
		id, errMsg, attempted,
	)
	return err
}

// ReleasePending returns a claim to pending without touching the retry
// counter. Used when a claimed record never got an attempt (run budget
// spent, or the dispatcher could not enqueue its task).
func (r *Repo) ReleasePending(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE deliveries
		 SET status = 'pending', error_message = $2, claimed_at = NULL, updated_at = now()
		 WHERE id = $1 AND status = 'processing'`,
		id, errMsg,
	)
	return err
}

// GetByID loads a record regardless of tenant. The worker path: the task
// payload only carries the delivery ID.
func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (Record, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries WHERE id = $1`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, apperr.NotFound(deliveryNotFoundMessage)
		}
		return Record{}, err
	}
	return rec, nil
}

// GetForTenant loads a record scoped to a tenant.
func (r *Repo) GetForTenant(ctx context.Context, tenantID, id uuid.UUID) (Record, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries WHERE tenant_id = $1 AND id = $2`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, apperr.NotFound(deliveryNotFoundMessage)
		}
		return Record{}, err
	}
	return rec, nil
}

// ListByTenant returns a page of a tenant's deliveries, newest first.
func (r *Repo) ListByTenant(ctx context.Context, params ListParams) ([]Record, int, error) {
	query := `SELECT ` + deliveryColumns + `, count(*) OVER() AS total
		FROM deliveries
		WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		OFFSET $3 LIMIT $4`

	rows, err := r.pool.Query(ctx, query, params.TenantID, params.Status, params.Offset, params.Limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []Record
	total := 0
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.LeadID, &rec.LeadOfferID, &rec.Status, &rec.RetryCount,
			&rec.ErrorMessage, &rec.IntegrationsAttempted, &rec.ClaimedAt, &rec.DeliveredAt,
			&rec.CreatedAt, &rec.UpdatedAt, &total); err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

// RetryFailed requeues a terminal failed record: back to pending with the
// retry counter reset. The attempted-integration set is kept so destinations
// that already received the lead are not sent it again. The status guard in
// the WHERE clause loses gracefully against concurrent writers.
func (r *Repo) RetryFailed(ctx context.Context, tenantID, id uuid.UUID) (Record, error) {
	query := `UPDATE deliveries
		SET status = 'pending', retry_count = 0, error_message = NULL, claimed_at = NULL, updated_at = now()
		WHERE tenant_id = $1 AND id = $2 AND status = 'failed'
		RETURNING ` + deliveryColumns

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, apperr.Conflict("only failed deliveries can be retried")
		}
		return Record{}, err
	}
	return rec, nil
}

