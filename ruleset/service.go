package ruleset

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"dealdesk/compliance"
)

var (
	// ErrInvalidDocument rejects a publish whose document fails schema
	// validation.
	ErrInvalidDocument = errors.New("ruleset: invalid document")
	// ErrRangeOverlap rejects a publish whose effective range collides with
	// an existing version for the same org and jurisdiction.
	ErrRangeOverlap = errors.New("ruleset: effective range overlaps an existing version")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// VersionRepository defines the data access required by the service.
type VersionRepository interface {
	Insert(ctx context.Context, tx pgx.Tx, v Version) (Version, error)
	ListForUpdate(ctx context.Context, tx pgx.Tx, orgID, jurisdiction string) ([]Version, error)
	ActiveForDate(ctx context.Context, tx pgx.Tx, orgID, jurisdiction string, date time.Time) (Version, error)
	BoundEffectiveTo(ctx context.Context, tx pgx.Tx, versionID string, effectiveTo time.Time) error
}

// Service publishes and resolves rule-set versions.
type Service struct {
	pool TxBeginner
	repo VersionRepository
}

func NewService(pool TxBeginner, repo VersionRepository) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{pool: pool, repo: repo}
}

const dateLayout = "2006-01-02"

// Publish validates and stores a new version. The document's own
// jurisdiction and effective dates define the version's range. Existing
// versions for the same org and jurisdiction are locked so two concurrent
// publishes cannot both pass the overlap check.
func (s *Service) Publish(ctx context.Context, orgID string, doc compliance.RuleSet) (Version, error) {
	if err := doc.ValidateSchema(); err != nil {
		return Version{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	from, err := time.Parse(dateLayout, doc.EffectiveFrom)
	if err != nil {
		return Version{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	var to *time.Time
	if doc.EffectiveTo != "" {
		parsed, err := time.Parse(dateLayout, doc.EffectiveTo)
		if err != nil {
			return Version{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		to = &parsed
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Version{}, fmt.Errorf("ruleset: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := s.repo.ListForUpdate(ctx, tx, orgID, doc.Jurisdiction)
	if err != nil {
		return Version{}, err
	}
	for _, v := range existing {
		if v.Overlaps(from, to) {
			return Version{}, fmt.Errorf("%w: version %s", ErrRangeOverlap, v.ID)
		}
	}

	stored, err := s.repo.Insert(ctx, tx, Version{
		OrgID:         orgID,
		Jurisdiction:  doc.Jurisdiction,
		EffectiveFrom: from,
		EffectiveTo:   to,
		Document:      doc,
	})
	if err != nil {
		return Version{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Version{}, fmt.Errorf("ruleset: commit publish: %w", err)
	}
	return stored, nil
}

// Supersede publishes a replacement version and closes the currently open
// version at the replacement's effective_from. The amendment path for a
// jurisdiction whose rules changed mid-stream.
func (s *Service) Supersede(ctx context.Context, orgID string, doc compliance.RuleSet) (Version, error) {
	if err := doc.ValidateSchema(); err != nil {
		return Version{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	from, err := time.Parse(dateLayout, doc.EffectiveFrom)
	if err != nil {
		return Version{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	var to *time.Time
	if doc.EffectiveTo != "" {
		parsed, err := time.Parse(dateLayout, doc.EffectiveTo)
		if err != nil {
			return Version{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		to = &parsed
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Version{}, fmt.Errorf("ruleset: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := s.repo.ListForUpdate(ctx, tx, orgID, doc.Jurisdiction)
	if err != nil {
		return Version{}, err
	}
	for _, v := range existing {
		if !v.Overlaps(from, to) {
			continue
		}
		// Only an open-ended current version may be amended; a bounded
		// overlap is a genuine conflict.
		if v.EffectiveTo != nil || !v.EffectiveFrom.Before(from) {
			return Version{}, fmt.Errorf("%w: version %s", ErrRangeOverlap, v.ID)
		}
		if err := s.repo.BoundEffectiveTo(ctx, tx, v.ID, from); err != nil {
			return Version{}, err
		}
	}

	stored, err := s.repo.Insert(ctx, tx, Version{
		OrgID:         orgID,
		Jurisdiction:  doc.Jurisdiction,
		EffectiveFrom: from,
		EffectiveTo:   to,
		Document:      doc,
	})
	if err != nil {
		return Version{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Version{}, fmt.Errorf("ruleset: commit supersede: %w", err)
	}
	return stored, nil
}

// ActiveForDate resolves the version effective on the given date.
func (s *Service) ActiveForDate(ctx context.Context, orgID, jurisdiction string, date time.Time) (Version, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Version{}, fmt.Errorf("ruleset: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	v, err := s.repo.ActiveForDate(ctx, tx, orgID, jurisdiction, date)
	if err != nil {
		return Version{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Version{}, fmt.Errorf("ruleset: commit read: %w", err)
	}
	return v, nil
}
