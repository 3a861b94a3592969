package devkit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Skyvell/signing-signicat/webhooks"
)

// MemoryDeliveryLedger is an in-memory callback delivery ledger with the same
// claim lifecycle as the SQL store: a delivery is claimable when it is
// pending, retry-ready with an elapsed next attempt, or processing under an
// expired lease.
type MemoryDeliveryLedger struct {
	mu      sync.Mutex
	records map[string]webhooks.DeliveryRecord
	Now     func() time.Time
}

func NewMemoryDeliveryLedger() *MemoryDeliveryLedger {
	return &MemoryDeliveryLedger{
		records: map[string]webhooks.DeliveryRecord{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func ledgerKey(signRequestID, deliveryID string) string {
	return strings.TrimSpace(signRequestID) + "::" + strings.TrimSpace(deliveryID)
}

func (l *MemoryDeliveryLedger) Claim(
	_ context.Context,
	signRequestID string,
	deliveryID string,
	_ []byte,
	lease time.Duration,
) (webhooks.DeliveryRecord, bool, error) {
	signRequestID = strings.TrimSpace(signRequestID)
	deliveryID = strings.TrimSpace(deliveryID)
	if signRequestID == "" || deliveryID == "" {
		return webhooks.DeliveryRecord{}, false, fmt.Errorf("devkit: sign request id and delivery id are required")
	}
	if lease <= 0 {
		lease = 30 * time.Second
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := ledgerKey(signRequestID, deliveryID)
	now := l.now()
	record, ok := l.records[key]
	if !ok {
		leaseExpiry := now.Add(lease)
		record = webhooks.DeliveryRecord{
			ID:             key,
			ClaimID:        uuid.NewString(),
			SignRequestID:  signRequestID,
			DeliveryID:     deliveryID,
			Status:         webhooks.DeliveryStatusProcessing,
			Attempts:       1,
			LeaseExpiresAt: &leaseExpiry,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		l.records[key] = record
		return record, true, nil
	}

	if !l.claimable(record, now) {
		return record, false, nil
	}

	leaseExpiry := now.Add(lease)
	record.ClaimID = uuid.NewString()
	record.Status = webhooks.DeliveryStatusProcessing
	record.Attempts++
	record.NextAttemptAt = nil
	record.LeaseExpiresAt = &leaseExpiry
	record.UpdatedAt = now
	l.records[key] = record
	return record, true, nil
}

func (l *MemoryDeliveryLedger) claimable(record webhooks.DeliveryRecord, now time.Time) bool {
	switch record.Status {
	case webhooks.DeliveryStatusPending:
		return true
	case webhooks.DeliveryStatusRetryReady:
		return record.NextAttemptAt == nil || !record.NextAttemptAt.After(now)
	case webhooks.DeliveryStatusProcessing:
		return record.LeaseExpiresAt != nil && record.LeaseExpiresAt.Before(now)
	default:
		return false
	}
}

func (l *MemoryDeliveryLedger) Get(_ context.Context, signRequestID, deliveryID string) (webhooks.DeliveryRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.records[ledgerKey(signRequestID, deliveryID)]
	if !ok {
		return webhooks.DeliveryRecord{}, fmt.Errorf("devkit: delivery record not found")
	}
	return record, nil
}

func (l *MemoryDeliveryLedger) Complete(_ context.Context, claimID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key, record, err := l.findByClaim(claimID)
	if err != nil {
		return err
	}
	if record.Status != webhooks.DeliveryStatusProcessing {
		return fmt.Errorf("devkit: claim %s no longer held", claimID)
	}
	record.Status = webhooks.DeliveryStatusProcessed
	record.LeaseExpiresAt = nil
	record.UpdatedAt = l.now()
	l.records[key] = record
	return nil
}

func (l *MemoryDeliveryLedger) Fail(_ context.Context, claimID string, _ error, nextAttemptAt time.Time, maxAttempts int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key, record, err := l.findByClaim(claimID)
	if err != nil {
		return err
	}
	if maxAttempts > 0 && record.Attempts >= maxAttempts {
		record.Status = webhooks.DeliveryStatusDead
		record.NextAttemptAt = nil
	} else {
		record.Status = webhooks.DeliveryStatusRetryReady
		next := nextAttemptAt.UTC()
		record.NextAttemptAt = &next
	}
	record.LeaseExpiresAt = nil
	record.UpdatedAt = l.now()
	l.records[key] = record
	return nil
}

func (l *MemoryDeliveryLedger) findByClaim(claimID string) (string, webhooks.DeliveryRecord, error) {
	claimID = strings.TrimSpace(claimID)
	for key, record := range l.records {
		if record.ClaimID == claimID {
			return key, record, nil
		}
	}
	return "", webhooks.DeliveryRecord{}, fmt.Errorf("devkit: claim %s not found", claimID)
}

func (l *MemoryDeliveryLedger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

var _ webhooks.DeliveryLedger = (*MemoryDeliveryLedger)(nil)
