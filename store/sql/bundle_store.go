package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/Skyvell/signing-signicat/core"
)

// BundleStore persists bundle headers. All status mutation goes through
// UpdateBundleStatus, a compare-and-set on the status column, so concurrent
// orchestrator invocations cannot race past each other.
type BundleStore struct {
	db   *bun.DB
	repo repository.Repository[*bundleRecord]
}

func NewBundleStore(db *bun.DB) (*BundleStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*bundleRecord](db, bundleHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid bundle repository wiring: %w", err)
		}
	}
	return &BundleStore{
		db:   db,
		repo: repo,
	}, nil
}

// CreateBundleIfAbsent is the header dedup primitive: a replayed insert
// reports inserted=false and returns the existing record, never an error.
func (s *BundleStore) CreateBundleIfAbsent(ctx context.Context, bundleID string) (core.Bundle, bool, error) {
	if s == nil || s.db == nil {
		return core.Bundle{}, false, fmt.Errorf("sqlstore: bundle store is not configured")
	}
	bundleID = strings.TrimSpace(bundleID)
	if bundleID == "" {
		return core.Bundle{}, false, fmt.Errorf("sqlstore: bundle id is required")
	}

	now := time.Now().UTC()
	record := &bundleRecord{
		ID:        bundleID,
		Status:    string(core.BundleStatusNew),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			existing, getErr := s.GetBundle(ctx, bundleID)
			if getErr != nil {
				return core.Bundle{}, false, getErr
			}
			return existing, false, nil
		}
		return core.Bundle{}, false, err
	}
	return bundleToDomain(record), true, nil
}

func (s *BundleStore) GetBundle(ctx context.Context, bundleID string) (core.Bundle, error) {
	if s == nil || s.db == nil {
		return core.Bundle{}, fmt.Errorf("sqlstore: bundle store is not configured")
	}
	record := &bundleRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(bundleID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Bundle{}, fmt.Errorf("%w: id %q", core.ErrBundleNotFound, bundleID)
		}
		return core.Bundle{}, err
	}
	return bundleToDomain(record), nil
}

// TryLockStart wins at most once per bundle: an atomic check-and-set on
// started_at. Losers report locked=false with no side effects.
func (s *BundleStore) TryLockStart(ctx context.Context, bundleID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: bundle store is not configured")
	}
	bundleID = strings.TrimSpace(bundleID)
	if bundleID == "" {
		return false, fmt.Errorf("sqlstore: bundle id is required")
	}

	now := time.Now().UTC()
	result, err := s.db.NewUpdate().
		Model((*bundleRecord)(nil)).
		Set("started_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", bundleID).
		Where("started_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		// Either already started or unknown; distinguish for the caller.
		if _, getErr := s.GetBundle(ctx, bundleID); getErr != nil {
			return false, getErr
		}
		return false, nil
	}
	return true, nil
}

// UpdateBundleStatus applies one guarded transition. A mismatch between the
// stored status and in.From is reported as a conflict without touching the
// row; re-applying an already-applied transition is therefore a no-op for the
// loser. The transition audit row commits in the same transaction.
func (s *BundleStore) UpdateBundleStatus(ctx context.Context, in core.UpdateBundleStatusInput) (core.Bundle, error) {
	if s == nil || s.db == nil {
		return core.Bundle{}, fmt.Errorf("sqlstore: bundle store is not configured")
	}
	in.BundleID = strings.TrimSpace(in.BundleID)
	if in.BundleID == "" {
		return core.Bundle{}, fmt.Errorf("sqlstore: bundle id is required")
	}
	if err := core.ValidateBundleTransition(in.From, in.To); err != nil {
		return core.Bundle{}, err
	}

	now := time.Now().UTC()
	var updated core.Bundle
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := tx.NewUpdate().
			Model((*bundleRecord)(nil)).
			Set("status = ?", string(in.To)).
			Set("updated_at = ?", now).
			Where("id = ?", in.BundleID).
			Where("status = ?", string(in.From))

		if in.VehicleCount != nil {
			query = query.Set("vehicle_count = ?", *in.VehicleCount)
		}
		if in.UnsignedArtifactRef != nil {
			query = query.Set("unsigned_artifact_ref = ?", strings.TrimSpace(*in.UnsignedArtifactRef))
		}
		if in.SignedArtifactRef != nil {
			query = query.Set("signed_artifact_ref = ?", strings.TrimSpace(*in.SignedArtifactRef))
		}
		if in.SigningLogRef != nil {
			query = query.Set("signing_log_ref = ?", strings.TrimSpace(*in.SigningLogRef))
		}
		if in.SignRequestID != nil {
			query = query.Set("sign_request_id = ?", strings.TrimSpace(*in.SignRequestID))
		}
		if in.ClearResumeToken {
			query = query.Set("resume_token = NULL").
				Set("resume_expires_at = NULL")
		} else {
			if in.ResumeToken != nil {
				query = query.Set("resume_token = ?", strings.TrimSpace(*in.ResumeToken))
			}
			if in.ResumeExpiresAt != nil {
				query = query.Set("resume_expires_at = ?", in.ResumeExpiresAt.UTC())
			}
		}
		if in.LastError != nil {
			query = query.Set("last_error = ?", strings.TrimSpace(*in.LastError))
		}

		result, execErr := query.Exec(ctx)
		if execErr != nil {
			return execErr
		}
		affected, execErr := result.RowsAffected()
		if execErr != nil {
			return execErr
		}
		if affected == 0 {
			current, getErr := s.getBundleTx(ctx, tx, in.BundleID)
			if getErr != nil {
				return getErr
			}
			return core.NewConflictError(fmt.Sprintf(
				"sqlstore: bundle %s transition %s -> %s lost to current status %s",
				in.BundleID, in.From, in.To, current.Status,
			))
		}

		transition := &bundleTransitionRecord{
			ID:         uuid.NewString(),
			BundleID:   in.BundleID,
			FromStatus: string(in.From),
			ToStatus:   string(in.To),
			Reason:     strings.TrimSpace(in.Reason),
			CreatedAt:  now,
		}
		if _, execErr := tx.NewInsert().Model(transition).Exec(ctx); execErr != nil {
			return execErr
		}

		current, getErr := s.getBundleTx(ctx, tx, in.BundleID)
		if getErr != nil {
			return getErr
		}
		updated = current
		return nil
	})
	if err != nil {
		return core.Bundle{}, err
	}
	return updated, nil
}

func (s *BundleStore) getBundleTx(ctx context.Context, tx bun.Tx, bundleID string) (core.Bundle, error) {
	record := &bundleRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", bundleID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Bundle{}, fmt.Errorf("%w: id %q", core.ErrBundleNotFound, bundleID)
		}
		return core.Bundle{}, err
	}
	return bundleToDomain(record), nil
}

// FindBundleByResumeToken resolves a continuation token to its waiting
// bundle. Unknown tokens report ErrWaitNotFound; the caller must not fall
// back to the caller-supplied bundle id.
func (s *BundleStore) FindBundleByResumeToken(ctx context.Context, token string) (core.Bundle, error) {
	if s == nil || s.db == nil {
		return core.Bundle{}, fmt.Errorf("sqlstore: bundle store is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return core.Bundle{}, fmt.Errorf("%w: empty token", core.ErrWaitNotFound)
	}
	record := &bundleRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.resume_token = ?", token).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Bundle{}, core.ErrWaitNotFound
		}
		return core.Bundle{}, err
	}
	return bundleToDomain(record), nil
}

func (s *BundleStore) ListExpiredWaits(ctx context.Context, now time.Time, limit int) ([]core.Bundle, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: bundle store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	records := []*bundleRecord{}
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status = ?", string(core.BundleStatusSigning)).
		Where("?TableAlias.resume_expires_at IS NOT NULL").
		Where("?TableAlias.resume_expires_at < ?", now.UTC()).
		OrderExpr("?TableAlias.resume_expires_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	bundles := make([]core.Bundle, 0, len(records))
	for _, record := range records {
		bundles = append(bundles, bundleToDomain(record))
	}
	return bundles, nil
}

func (s *BundleStore) ListTransitions(ctx context.Context, bundleID string) ([]core.BundleTransition, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: bundle store is not configured")
	}
	records := []*bundleTransitionRecord{}
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.bundle_id = ?", strings.TrimSpace(bundleID)).
		OrderExpr("?TableAlias.created_at ASC, ?TableAlias.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	transitions := make([]core.BundleTransition, 0, len(records))
	for _, record := range records {
		transitions = append(transitions, transitionToDomain(record))
	}
	return transitions, nil
}

var _ core.BundleStore = (*BundleStore)(nil)
