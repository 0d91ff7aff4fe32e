// Package repository implements lead, offer, and activity persistence on Postgres.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"converzia_backend/platform/apperr"
)

const (
	leadNotFoundMessage      = "lead not found"
	leadOfferNotFoundMessage = "lead offer not found"
	offerNotFoundMessage     = "offer not found"
)

// Repo implements the Repository interface with PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new leads repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Compile-time check that Repo implements Repository.
var _ Repository = (*Repo)(nil)

const leadColumns = `id, tenant_id, source, external_id, full_name, email, phone, campaign_id, form_id, raw_fields, created_at, updated_at`

const leadOfferColumns = `id, tenant_id, lead_id, offer_id, status, disqualify_reason, chatwoot_conversation_id, qualified_at, created_at, updated_at`

func scanLead(row pgx.Row) (Lead, error) {
	var l Lead
	err := row.Scan(&l.ID, &l.TenantID, &l.Source, &l.ExternalID, &l.FullName, &l.Email, &l.Phone,
		&l.CampaignID, &l.FormID, &l.RawFields, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

func scanLeadOffer(row pgx.Row) (LeadOffer, error) {
	var lo LeadOffer
	err := row.Scan(&lo.ID, &lo.TenantID, &lo.LeadID, &lo.OfferID, &lo.Status, &lo.DisqualifyReason,
		&lo.ChatwootConversationID, &lo.QualifiedAt, &lo.CreatedAt, &lo.UpdatedAt)
	return lo, err
}

// FindByExternalID looks up a lead by its provider-assigned ID. Ingestion
// uses this for dedupe before inserting.
func (r *Repo) FindByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE tenant_id = $1 AND external_id = $2`

	l, err := scanLead(r.pool.QueryRow(ctx, query, tenantID, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lead{}, apperr.NotFound(leadNotFoundMessage)
		}
		return Lead{}, fmt.Errorf("find lead by external id: %w", err)
	}
	return l, nil
}

// CreateWithOffer inserts the lead, its initial lead_offer row, and the
// capture activity in a single transaction.
func (r *Repo) CreateWithOffer(ctx context.Context, params CreateLeadParams) (Lead, LeadOffer, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Lead{}, LeadOffer{}, fmt.Errorf("begin create lead: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rawFields := params.RawFields
	if rawFields == nil {
		rawFields = map[string]any{}
	}

	lead, err := scanLead(tx.QueryRow(ctx, `
		INSERT INTO leads (tenant_id, source, external_id, full_name, email, phone, campaign_id, form_id, raw_fields)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+leadColumns,
		params.TenantID, params.Source, params.ExternalID, params.FullName, params.Email,
		params.Phone, params.CampaignID, params.FormID, rawFields,
	))
	if err != nil {
		return Lead{}, LeadOffer{}, fmt.Errorf("insert lead: %w", err)
	}

	offer, err := scanLeadOffer(tx.QueryRow(ctx, `
		INSERT INTO lead_offers (tenant_id, lead_id, offer_id)
		VALUES ($1, $2, $3)
		RETURNING `+leadOfferColumns,
		params.TenantID, lead.ID, params.OfferID,
	))
	if err != nil {
		return Lead{}, LeadOffer{}, fmt.Errorf("insert lead offer: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO lead_activities (tenant_id, lead_id, lead_offer_id, kind, detail, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		params.TenantID, lead.ID, offer.ID, ActivityLeadCaptured, "lead captured from "+params.Source,
		map[string]any{"source": params.Source},
	)
	if err != nil {
		return Lead{}, LeadOffer{}, fmt.Errorf("insert capture activity: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Lead{}, LeadOffer{}, fmt.Errorf("commit create lead: %w", err)
	}
	return lead, offer, nil
}

// GetLead retrieves a lead scoped to a tenant.
func (r *Repo) GetLead(ctx context.Context, tenantID, id uuid.UUID) (Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE tenant_id = $1 AND id = $2`

	l, err := scanLead(r.pool.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lead{}, apperr.NotFound(leadNotFoundMessage)
		}
		return Lead{}, fmt.Errorf("get lead: %w", err)
	}
	return l, nil
}

// ListLeads returns a page of leads, newest first, joined with the latest
// offer per lead, plus the total row count for paging.
func (r *Repo) ListLeads(ctx context.Context, params ListLeadsParams) ([]LeadListItem, int, error) {
	limit := params.Limit
	if limit < 1 {
		limit = 20
	}

	query := `
		SELECT l.id, l.tenant_id, l.source, l.external_id, l.full_name, l.email, l.phone,
		       l.campaign_id, l.form_id, l.raw_fields, l.created_at, l.updated_at,
		       lo.status, lo.id,
		       count(*) OVER ()
		FROM leads l
		LEFT JOIN LATERAL (
			SELECT id, status FROM lead_offers
			WHERE lead_id = l.id
			ORDER BY created_at DESC
			LIMIT 1
		) lo ON true
		WHERE l.tenant_id = $1
		  AND ($2 = '' OR lo.status = $2)
		ORDER BY l.created_at DESC
		OFFSET $3 LIMIT $4`

	rows, err := r.pool.Query(ctx, query, params.TenantID, params.Status, params.Offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	var items []LeadListItem
	var total int
	for rows.Next() {
		var item LeadListItem
		err := rows.Scan(&item.ID, &item.TenantID, &item.Source, &item.ExternalID, &item.FullName,
			&item.Email, &item.Phone, &item.CampaignID, &item.FormID, &item.RawFields,
			&item.CreatedAt, &item.UpdatedAt, &item.OfferStatus, &item.LeadOfferID, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("scan lead list item: %w", err)
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

// ListOffersByLead returns a lead's offers, oldest first.
func (r *Repo) ListOffersByLead(ctx context.Context, tenantID, leadID uuid.UUID) ([]LeadOffer, error) {
	query := `SELECT ` + leadOfferColumns + ` FROM lead_offers WHERE tenant_id = $1 AND lead_id = $2 ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, tenantID, leadID)
	if err != nil {
		return nil, fmt.Errorf("list lead offers: %w", err)
	}
	defer rows.Close()

	var offers []LeadOffer
	for rows.Next() {
		lo, err := scanLeadOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead offer: %w", err)
		}
		offers = append(offers, lo)
	}
	return offers, rows.Err()
}

// ListActivities returns a lead's activity log, newest first.
func (r *Repo) ListActivities(ctx context.Context, tenantID, leadID uuid.UUID) ([]Activity, error) {
	query := `
		SELECT id, tenant_id, lead_id, lead_offer_id, kind, detail, metadata, created_at
		FROM lead_activities
		WHERE tenant_id = $1 AND lead_id = $2
		ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, tenantID, leadID)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	var activities []Activity
	for rows.Next() {
		var a Activity
		err := rows.Scan(&a.ID, &a.TenantID, &a.LeadID, &a.LeadOfferID, &a.Kind, &a.Detail, &a.Metadata, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

// FunnelCounts returns the number of lead offers per status for a tenant.
func (r *Repo) FunnelCounts(ctx context.Context, tenantID uuid.UUID) ([]StatusCount, error) {
	query := `SELECT status, count(*) FROM lead_offers WHERE tenant_id = $1 GROUP BY status`

	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("funnel counts: %w", err)
	}
	defer rows.Close()

	var counts []StatusCount
	for rows.Next() {
		var sc StatusCount
		if err := rows.Scan(&sc.Status, &sc.Count); err != nil {
			return nil, fmt.Errorf("scan funnel count: %w", err)
		}
		counts = append(counts, sc)
	}
	return counts, rows.Err()
}

// GetLeadOffer retrieves a lead offer scoped to a tenant.
func (r *Repo) GetLeadOffer(ctx context.Context, tenantID, id uuid.UUID) (LeadOffer, error) {
	query := `SELECT ` + leadOfferColumns + ` FROM lead_offers WHERE tenant_id = $1 AND id = $2`

	lo, err := scanLeadOffer(r.pool.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LeadOffer{}, apperr.NotFound(leadOfferNotFoundMessage)
		}
		return LeadOffer{}, fmt.Errorf("get lead offer: %w", err)
	}
	return lo, nil
}

// OfferByConversationID finds the lead offer bound to a Chatwoot conversation.
func (r *Repo) OfferByConversationID(ctx context.Context, tenantID uuid.UUID, conversationID int64) (LeadOffer, error) {
	query := `SELECT ` + leadOfferColumns + ` FROM lead_offers WHERE tenant_id = $1 AND chatwoot_conversation_id = $2`

	lo, err := scanLeadOffer(r.pool.QueryRow(ctx, query, tenantID, conversationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LeadOffer{}, apperr.NotFound(leadOfferNotFoundMessage)
		}
		return LeadOffer{}, fmt.Errorf("get lead offer by conversation: %w", err)
	}
	return lo, nil
}

// OpenOfferByContact finds the most recent non-terminal, unbound lead offer
// whose lead matches the given email or phone. Chatwoot conversations are
// bound to offers through this lookup on first contact.
func (r *Repo) OpenOfferByContact(ctx context.Context, tenantID uuid.UUID, email, phone string) (LeadOffer, error) {
	query := `
		SELECT ` + prefixedLeadOfferColumns("lo") + `
		FROM lead_offers lo
		JOIN leads l ON l.id = lo.lead_id
		WHERE lo.tenant_id = $1
		  AND lo.chatwoot_conversation_id IS NULL
		  AND lo.status NOT IN ('delivered', 'disqualified', 'expired')
		  AND (($2 <> '' AND l.email = $2) OR ($3 <> '' AND l.phone = $3))
		ORDER BY lo.created_at DESC
		LIMIT 1`

	lo, err := scanLeadOffer(r.pool.QueryRow(ctx, query, tenantID, email, phone))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LeadOffer{}, apperr.NotFound(leadOfferNotFoundMessage)
		}
		return LeadOffer{}, fmt.Errorf("get open lead offer by contact: %w", err)
	}
	return lo, nil
}

// BindConversation attaches a Chatwoot conversation to a lead offer.
func (r *Repo) BindConversation(ctx context.Context, tenantID, leadOfferID uuid.UUID, conversationID int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE lead_offers
		SET chatwoot_conversation_id = $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2 AND chatwoot_conversation_id IS NULL`,
		tenantID, leadOfferID, conversationID,
	)
	if err != nil {
		return fmt.Errorf("bind conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("lead offer already bound to a conversation")
	}
	return nil
}

// Transition moves a lead offer to a new status and records the activity in
// the same transaction. The FromStatus guard makes the update conditional:
// when a concurrent writer got there first, RowsAffected is zero and the
// caller gets a conflict instead of a double transition.
func (r *Repo) Transition(ctx context.Context, params TransitionParams) (LeadOffer, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return LeadOffer{}, fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lo, err := scanLeadOffer(tx.QueryRow(ctx, `
		UPDATE lead_offers
		SET status = $4,
		    disqualify_reason = COALESCE($5, disqualify_reason),
		    qualified_at = CASE WHEN $6 THEN now() ELSE qualified_at END,
		    updated_at = now()
		WHERE tenant_id = $1 AND id = $2 AND status = $3
		RETURNING `+leadOfferColumns,
		params.TenantID, params.LeadOfferID, params.FromStatus, params.ToStatus,
		params.DisqualifyReason, params.SetQualifiedAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LeadOffer{}, apperr.Conflict("lead offer status changed concurrently")
		}
		return LeadOffer{}, fmt.Errorf("transition lead offer: %w", err)
	}

	metadata := params.ActivityMetadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["from"] = params.FromStatus
	metadata["to"] = params.ToStatus

	_, err = tx.Exec(ctx, `
		INSERT INTO lead_activities (tenant_id, lead_id, lead_offer_id, kind, detail, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		params.TenantID, lo.LeadID, lo.ID, ActivityStatusChanged, params.ActivityDetail, metadata,
	)
	if err != nil {
		return LeadOffer{}, fmt.Errorf("insert transition activity: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return LeadOffer{}, fmt.Errorf("commit transition: %w", err)
	}
	return lo, nil
}

// ExpireStale moves lead offers stuck in the given statuses to expired when
// they have not been touched since olderThan. Returns the number expired.
func (r *Repo) ExpireStale(ctx context.Context, statuses []string, olderThan time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE lead_offers
		SET status = 'expired', updated_at = now()
		WHERE status = ANY($1) AND updated_at < $2`,
		statuses, olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("expire stale lead offers: %w", err)
	}
	return tag.RowsAffected(), nil
}

// OfferByMetaFormID finds the active tenant offer bound to a Meta lead form.
func (r *Repo) OfferByMetaFormID(ctx context.Context, tenantID uuid.UUID, formID string) (Offer, error) {
	query := `
		SELECT id, tenant_id, name, meta_form_id, is_active, created_at, updated_at
		FROM offers
		WHERE tenant_id = $1 AND meta_form_id = $2 AND is_active`

	var o Offer
	err := r.pool.QueryRow(ctx, query, tenantID, formID).Scan(
		&o.ID, &o.TenantID, &o.Name, &o.MetaFormID, &o.IsActive, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, apperr.NotFound(offerNotFoundMessage)
		}
		return Offer{}, fmt.Errorf("get offer by form id: %w", err)
	}
	return o, nil
}

// ListOffers returns a tenant's offers ordered by name.
func (r *Repo) ListOffers(ctx context.Context, tenantID uuid.UUID) ([]Offer, error) {
	query := `
		SELECT id, tenant_id, name, meta_form_id, is_active, created_at, updated_at
		FROM offers
		WHERE tenant_id = $1
		ORDER BY name ASC`

	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	defer rows.Close()

	var offers []Offer
	for rows.Next() {
		var o Offer
		err := rows.Scan(&o.ID, &o.TenantID, &o.Name, &o.MetaFormID, &o.IsActive, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

// CreateOffer inserts a tenant offer.
func (r *Repo) CreateOffer(ctx context.Context, params CreateOfferParams) (Offer, error) {
	query := `
		INSERT INTO offers (tenant_id, name, meta_form_id)
		VALUES ($1, $2, $3)
		RETURNING id, tenant_id, name, meta_form_id, is_active, created_at, updated_at`

	var o Offer
	err := r.pool.QueryRow(ctx, query, params.TenantID, params.Name, params.MetaFormID).Scan(
		&o.ID, &o.TenantID, &o.Name, &o.MetaFormID, &o.IsActive, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Offer{}, fmt.Errorf("create offer: %w", err)
	}
	return o, nil
}

func prefixedLeadOfferColumns(alias string) string {
	return alias + ".id, " + alias + ".tenant_id, " + alias + ".lead_id, " + alias + ".offer_id, " +
		alias + ".status, " + alias + ".disqualify_reason, " + alias + ".chatwoot_conversation_id, " +
		alias + ".qualified_at, " + alias + ".created_at, " + alias + ".updated_at"
}
