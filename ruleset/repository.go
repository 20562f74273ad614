package ruleset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrVersionNotFound is returned when no stored version matches.
var ErrVersionNotFound = errors.New("ruleset: version not found")

// Repository owns the SQL for rule-set versions. Methods take the caller's
// transaction; Publish relies on that for its lock-then-insert check.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const versionColumns = `id::text, org_id, jurisdiction, effective_from, effective_to, document, created_at`

func scanVersion(row pgx.Row) (Version, error) {
	var (
		v   Version
		doc []byte
	)
	err := row.Scan(
		&v.ID,
		&v.OrgID,
		&v.Jurisdiction,
		&v.EffectiveFrom,
		&v.EffectiveTo,
		&doc,
		&v.CreatedAt,
	)
	if err != nil {
		return Version{}, err
	}
	if err := json.Unmarshal(doc, &v.Document); err != nil {
		return Version{}, fmt.Errorf("ruleset: decode stored document: %w", err)
	}
	return v, nil
}

// Insert stores a new version row.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, v Version) (Version, error) {
	doc, err := json.Marshal(v.Document)
	if err != nil {
		return Version{}, fmt.Errorf("ruleset: encode document: %w", err)
	}

	const insertSQL = `
INSERT INTO rule_sets (org_id, jurisdiction, effective_from, effective_to, document)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + versionColumns

	stored, err := scanVersion(tx.QueryRow(ctx, insertSQL,
		v.OrgID, v.Jurisdiction, v.EffectiveFrom, v.EffectiveTo, doc))
	if err != nil {
		return Version{}, fmt.Errorf("ruleset: insert: %w", err)
	}
	return stored, nil
}

// ListForUpdate locks and returns every version for (org, jurisdiction).
// Publish uses the locks to serialize concurrent overlap checks.
func (r *Repository) ListForUpdate(ctx context.Context, tx pgx.Tx, orgID, jurisdiction string) ([]Version, error) {
	rows, err := tx.Query(ctx, `
SELECT `+versionColumns+`
FROM rule_sets
WHERE org_id = $1 AND jurisdiction = $2
ORDER BY effective_from
FOR UPDATE
`, orgID, jurisdiction)
	if err != nil {
		return nil, fmt.Errorf("ruleset: list for update: %w", err)
	}
	defer rows.Close()

	var versions []Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("ruleset: scan version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// ActiveForDate resolves the version whose effective range covers date.
func (r *Repository) ActiveForDate(ctx context.Context, tx pgx.Tx, orgID, jurisdiction string, date time.Time) (Version, error) {
	row := tx.QueryRow(ctx, `
SELECT `+versionColumns+`
FROM rule_sets
WHERE org_id = $1
  AND jurisdiction = $2
  AND effective_from <= $3
  AND (effective_to IS NULL OR effective_to > $3)
ORDER BY effective_from DESC
LIMIT 1
`, orgID, jurisdiction, date)

	v, err := scanVersion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Version{}, ErrVersionNotFound
	}
	if err != nil {
		return Version{}, fmt.Errorf("ruleset: active for date: %w", err)
	}
	return v, nil
}

// BoundEffectiveTo closes an open-ended version at the given date.
func (r *Repository) BoundEffectiveTo(ctx context.Context, tx pgx.Tx, versionID string, effectiveTo time.Time) error {
	tag, err := tx.Exec(ctx, `
UPDATE rule_sets
SET effective_to = $2
WHERE id = $1 AND effective_to IS NULL
`, versionID, effectiveTo)
	if err != nil {
		return fmt.Errorf("ruleset: bound effective_to: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionNotFound
	}
	return nil
}
