package audit

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of pgx used by PGStore; both *pgxpool.Pool and pgx.Tx satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGStore persists discount applications in Postgres.
type PGStore struct {
	DB DBTX
}

const insertDiscountApplication = `
INSERT INTO discount_applications (
    id, bag_id, customer_id, promo_code, outcome, target_kind,
    target_line_item_ids, split_line_item_id, discount_total, occurred_at
) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, NULLIF($8::bigint, 0), $9, $10)
ON CONFLICT (id) DO NOTHING`

const listDiscountApplications = `
SELECT id, bag_id, customer_id, COALESCE(promo_code, ''), outcome, target_kind,
       target_line_item_ids, COALESCE(split_line_item_id, 0), discount_total, occurred_at
FROM discount_applications
WHERE bag_id = $1
ORDER BY occurred_at DESC
LIMIT $2 OFFSET $3`

// InsertDiscountApplication stores the entry. Re-delivered tasks are ignored.
func (s PGStore) InsertDiscountApplication(ctx context.Context, e Entry) error {
	if s.DB == nil {
		return errors.New("audit: database not configured")
	}
	targets, err := json.Marshal(nonNilIDs(e.TargetLineItemIDs))
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, insertDiscountApplication,
		e.ID, e.BagID, e.CustomerID, e.PromoCode, e.Outcome, e.TargetKind,
		targets, e.SplitLineItemID, e.DiscountTotal, e.OccurredAt,
	)
	return err
}

// ListDiscountApplications returns a page of entries for the bag.
func (s PGStore) ListDiscountApplications(ctx context.Context, bagID string, limit, offset int) ([]Entry, error) {
	if s.DB == nil {
		return nil, errors.New("audit: database not configured")
	}
	rows, err := s.DB.Query(ctx, listDiscountApplications, bagID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e       Entry
			targets []byte
		)
		if err := rows.Scan(&e.ID, &e.BagID, &e.CustomerID, &e.PromoCode, &e.Outcome, &e.TargetKind,
			&targets, &e.SplitLineItemID, &e.DiscountTotal, &e.OccurredAt); err != nil {
			return nil, err
		}
		if len(targets) > 0 {
			if err := json.Unmarshal(targets, &e.TargetLineItemIDs); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nonNilIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
