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

	"github.com/Skyvell/signing-signicat/webhooks"
)

// CallbackLedgerStore is the durable dedupe ledger for signing callbacks.
// (sign_request_id, delivery_id) is unique; the claim lifecycle keeps a
// crashed worker from parking a delivery forever, the lease expiry frees it.
type CallbackLedgerStore struct {
	db   *bun.DB
	repo repository.Repository[*callbackDeliveryRecord]
	Now  func() time.Time
}

func NewCallbackLedgerStore(db *bun.DB) (*CallbackLedgerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*callbackDeliveryRecord](db, callbackDeliveryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid callback delivery repository wiring: %w", err)
		}
	}
	return &CallbackLedgerStore{
		db:   db,
		repo: repo,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *CallbackLedgerStore) Claim(
	ctx context.Context,
	signRequestID string,
	deliveryID string,
	payload []byte,
	lease time.Duration,
) (webhooks.DeliveryRecord, bool, error) {
	if s == nil || s.db == nil {
		return webhooks.DeliveryRecord{}, false, fmt.Errorf("sqlstore: callback ledger store is not configured")
	}
	signRequestID = strings.TrimSpace(signRequestID)
	deliveryID = strings.TrimSpace(deliveryID)
	if signRequestID == "" || deliveryID == "" {
		return webhooks.DeliveryRecord{}, false, fmt.Errorf("sqlstore: sign request id and delivery id are required")
	}
	if lease <= 0 {
		lease = 30 * time.Second
	}

	now := s.now()
	leaseExpiresAt := now.Add(lease)
	claimID := uuid.NewString()
	record := &callbackDeliveryRecord{
		ID:             uuid.NewString(),
		SignRequestID:  signRequestID,
		DeliveryID:     deliveryID,
		Status:         webhooks.DeliveryStatusProcessing,
		ClaimID:        claimID,
		Attempts:       1,
		LeaseExpiresAt: &leaseExpiresAt,
		Payload:        append([]byte(nil), payload...),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return s.reclaim(ctx, signRequestID, deliveryID, lease)
		}
		return webhooks.DeliveryRecord{}, false, err
	}
	return callbackDeliveryToDomain(record), true, nil
}

// reclaim handles the replayed-delivery path: a retry-ready delivery whose
// backoff elapsed, or a processing claim whose lease expired, may be claimed
// again. Anything else dedupes.
func (s *CallbackLedgerStore) reclaim(
	ctx context.Context,
	signRequestID string,
	deliveryID string,
	lease time.Duration,
) (webhooks.DeliveryRecord, bool, error) {
	existing, err := s.Get(ctx, signRequestID, deliveryID)
	if err != nil {
		return webhooks.DeliveryRecord{}, false, err
	}

	now := s.now()
	claimable := false
	switch existing.Status {
	case webhooks.DeliveryStatusPending:
		claimable = true
	case webhooks.DeliveryStatusRetryReady:
		claimable = existing.NextAttemptAt == nil || !existing.NextAttemptAt.After(now)
	case webhooks.DeliveryStatusProcessing:
		claimable = existing.LeaseExpiresAt != nil && existing.LeaseExpiresAt.Before(now)
	}
	if !claimable {
		return existing, false, nil
	}

	leaseExpiresAt := now.Add(lease)
	claimID := uuid.NewString()
	result, err := s.db.NewUpdate().
		Model((*callbackDeliveryRecord)(nil)).
		Set("status = ?", webhooks.DeliveryStatusProcessing).
		Set("claim_id = ?", claimID).
		Set("attempts = ?", existing.Attempts+1).
		Set("lease_expires_at = ?", leaseExpiresAt).
		Set("updated_at = ?", now).
		Where("id = ?", existing.ID).
		Where("status = ?", existing.Status).
		Where("claim_id = ?", existing.ClaimID).
		Exec(ctx)
	if err != nil {
		return webhooks.DeliveryRecord{}, false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return webhooks.DeliveryRecord{}, false, err
	}
	if affected == 0 {
		// Another worker won the reclaim race.
		latest, getErr := s.Get(ctx, signRequestID, deliveryID)
		if getErr != nil {
			return webhooks.DeliveryRecord{}, false, getErr
		}
		return latest, false, nil
	}

	existing.Status = webhooks.DeliveryStatusProcessing
	existing.ClaimID = claimID
	existing.Attempts++
	existing.LeaseExpiresAt = &leaseExpiresAt
	existing.UpdatedAt = now
	return existing, true, nil
}

func (s *CallbackLedgerStore) Get(
	ctx context.Context,
	signRequestID string,
	deliveryID string,
) (webhooks.DeliveryRecord, error) {
	if s == nil || s.db == nil {
		return webhooks.DeliveryRecord{}, fmt.Errorf("sqlstore: callback ledger store is not configured")
	}
	record := &callbackDeliveryRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.sign_request_id = ?", strings.TrimSpace(signRequestID)).
		Where("?TableAlias.delivery_id = ?", strings.TrimSpace(deliveryID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return webhooks.DeliveryRecord{}, fmt.Errorf(
				"sqlstore: callback delivery not found for sign request %q delivery %q",
				signRequestID,
				deliveryID,
			)
		}
		return webhooks.DeliveryRecord{}, err
	}
	return callbackDeliveryToDomain(record), nil
}

func (s *CallbackLedgerStore) Complete(ctx context.Context, claimID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: callback ledger store is not configured")
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return fmt.Errorf("sqlstore: claim id is required")
	}
	result, err := s.db.NewUpdate().
		Model((*callbackDeliveryRecord)(nil)).
		Set("status = ?", webhooks.DeliveryStatusProcessed).
		Set("next_attempt_at = NULL").
		Set("lease_expires_at = NULL").
		Set("updated_at = ?", s.now()).
		Where("claim_id = ?", claimID).
		Where("status = ?", webhooks.DeliveryStatusProcessing).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("sqlstore: callback claim %q is no longer held", claimID)
	}
	return nil
}

func (s *CallbackLedgerStore) Fail(
	ctx context.Context,
	claimID string,
	cause error,
	nextAttemptAt time.Time,
	maxAttempts int,
) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: callback ledger store is not configured")
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return fmt.Errorf("sqlstore: claim id is required")
	}
	if maxAttempts <= 0 {
		maxAttempts = 8
	}

	record := &callbackDeliveryRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.claim_id = ?", claimID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("sqlstore: callback claim %q not found", claimID)
		}
		return err
	}

	status := webhooks.DeliveryStatusRetryReady
	if record.Attempts >= maxAttempts {
		status = webhooks.DeliveryStatusDead
	}
	lastError := ""
	if cause != nil {
		lastError = strings.TrimSpace(cause.Error())
	}

	query := s.db.NewUpdate().
		Model((*callbackDeliveryRecord)(nil)).
		Set("status = ?", status).
		Set("lease_expires_at = NULL").
		Set("last_error = ?", lastError).
		Set("updated_at = ?", s.now()).
		Where("claim_id = ?", claimID).
		Where("status = ?", webhooks.DeliveryStatusProcessing)
	if status == webhooks.DeliveryStatusDead {
		query = query.Set("next_attempt_at = NULL")
	} else {
		query = query.Set("next_attempt_at = ?", nextAttemptAt.UTC())
	}

	result, err := query.Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("sqlstore: callback claim %q is no longer held", claimID)
	}
	return nil
}

func (s *CallbackLedgerStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func callbackDeliveryToDomain(record *callbackDeliveryRecord) webhooks.DeliveryRecord {
	if record == nil {
		return webhooks.DeliveryRecord{}
	}
	result := webhooks.DeliveryRecord{
		ID:            record.ID,
		ClaimID:       record.ClaimID,
		SignRequestID: record.SignRequestID,
		DeliveryID:    record.DeliveryID,
		Status:        record.Status,
		Attempts:      record.Attempts,
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
	}
	result.NextAttemptAt = cloneTimePointer(record.NextAttemptAt)
	result.LeaseExpiresAt = cloneTimePointer(record.LeaseExpiresAt)
	return result
}

var _ webhooks.DeliveryLedger = (*CallbackLedgerStore)(nil)
