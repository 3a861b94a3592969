// Package continuation owns the suspend/resume boundary around the external
// signing step. A bundle suspends by persisting a capability token before the
// signing session is requested, and resumes exactly once when a callback
// presents that token.
package continuation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Skyvell/signing-signicat/core"
)

// Manager implements core.ContinuationManager on top of the bundle store's
// compare-and-set primitives. Possession of the token plus an unresolved wait
// is the entire authorization for resume; the caller-supplied bundle id is
// never trusted.
type Manager struct {
	Store    core.BundleStore
	Trigger  core.OrchestrationTrigger
	TTL      time.Duration
	Observer core.Observer
	// Now and GenerateToken are injectable for tests.
	Now           func() time.Time
	GenerateToken func() (string, error)
}

func NewManager(store core.BundleStore, cfg core.SigningWaitConfig) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("continuation: bundle store is required")
	}
	return &Manager{
		Store: store,
		TTL:   cfg.TTL,
		Now: func() time.Time {
			return time.Now().UTC()
		},
		GenerateToken: core.GenerateResumeToken,
	}, nil
}

// BeginWait suspends the bundle: it mints the resume token and persists it in
// the same compare-and-set that moves the bundle into the signing status, so
// the wait is durable before any external call carries the token out.
func (m *Manager) BeginWait(ctx context.Context, bundleID string) (core.WaitRecord, error) {
	if m == nil || m.Store == nil {
		return core.WaitRecord{}, fmt.Errorf("continuation: manager is not configured")
	}
	bundleID = strings.TrimSpace(bundleID)
	if bundleID == "" {
		return core.WaitRecord{}, fmt.Errorf("continuation: bundle id is required")
	}

	bundle, err := m.Store.GetBundle(ctx, bundleID)
	if err != nil {
		return core.WaitRecord{}, err
	}
	if bundle.Status == core.BundleStatusSigning && strings.TrimSpace(bundle.ResumeToken) != "" {
		// A crash between suspend and the signing request replays here.
		record := core.WaitRecord{
			BundleID: bundle.ID,
			Token:    bundle.ResumeToken,
		}
		if bundle.ResumeExpiresAt != nil {
			record.ExpiresAt = *bundle.ResumeExpiresAt
		}
		return record, nil
	}

	token, err := m.generateToken()
	if err != nil {
		return core.WaitRecord{}, err
	}
	expiresAt := m.now().Add(m.ttl())

	_, err = m.Store.UpdateBundleStatus(ctx, core.UpdateBundleStatusInput{
		BundleID:        bundle.ID,
		From:            bundle.Status,
		To:              core.BundleStatusSigning,
		Reason:          "suspended for external signing",
		ResumeToken:     &token,
		ResumeExpiresAt: &expiresAt,
	})
	if err != nil {
		return core.WaitRecord{}, err
	}
	return core.WaitRecord{
		BundleID:  bundle.ID,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// Resume settles the wait named by the callback token. The first caller wins
// the compare-and-set and advances the bundle; every later caller gets a
// Replayed result and causes no writes. Unknown tokens, including waits
// already swept by expiry, report ErrWaitNotFound.
func (m *Manager) Resume(ctx context.Context, msg core.CallbackMessage) (result core.ResumeResult, err error) {
	if m == nil || m.Store == nil {
		return core.ResumeResult{}, fmt.Errorf("continuation: manager is not configured")
	}
	startedAt := m.now()
	defer func() {
		m.Observer.ObserveOperation(ctx, startedAt, "continuation.resume", err, map[string]any{
			"bundle_id": result.BundleID,
			"outcome":   string(msg.Outcome),
			"replayed":  result.Replayed,
			"stage":     "signing",
		})
	}()

	if err := msg.Validate(); err != nil {
		return core.ResumeResult{}, err
	}

	bundle, err := m.Store.FindBundleByResumeToken(ctx, msg.Token)
	if err != nil {
		return core.ResumeResult{}, err
	}
	if bundle.Status != core.BundleStatusSigning {
		return core.ResumeResult{
			BundleID: bundle.ID,
			Outcome:  msg.Outcome,
			Replayed: true,
		}, nil
	}

	input := core.UpdateBundleStatusInput{
		BundleID: bundle.ID,
		From:     core.BundleStatusSigning,
	}
	switch msg.Outcome {
	case core.SignOutcomeSuccess:
		// Delivery needs the signed artifact. A success callback without it is
		// refused before the compare-and-set so the wait stays open for a
		// complete retry instead of consuming the one resume.
		ref := strings.TrimSpace(msg.ArtifactRef)
		if ref == "" {
			return core.ResumeResult{}, core.NewValidationError(fmt.Sprintf(
				"continuation: success callback for bundle %s carries no signed artifact ref", bundle.ID,
			))
		}
		input.To = core.BundleStatusSigned
		input.Reason = "signing callback reported success"
		input.SignedArtifactRef = &ref
		if logRef := strings.TrimSpace(msg.LogRef); logRef != "" {
			input.SigningLogRef = &logRef
		}
	case core.SignOutcomeFailure:
		input.To = core.BundleStatusFailed
		input.Reason = "signing callback reported failure"
		cause := "signing provider reported failure"
		input.LastError = &cause
	}

	if _, err := m.Store.UpdateBundleStatus(ctx, input); err != nil {
		if core.IsConflict(err) {
			// Lost the race to a concurrent resume; report it as a replay.
			return core.ResumeResult{
				BundleID: bundle.ID,
				Outcome:  msg.Outcome,
				Replayed: true,
			}, nil
		}
		return core.ResumeResult{}, err
	}

	if msg.Outcome == core.SignOutcomeSuccess && m.Trigger != nil {
		if err := m.Trigger.TriggerBundle(ctx, bundle.ID); err != nil {
			return core.ResumeResult{}, err
		}
	}
	return core.ResumeResult{
		BundleID: bundle.ID,
		Outcome:  msg.Outcome,
	}, nil
}

// Expire settles one overdue wait as terminally failed. Clearing the token in
// the same compare-and-set guarantees a late callback can no longer resume.
func (m *Manager) Expire(ctx context.Context, bundleID string) (bool, error) {
	if m == nil || m.Store == nil {
		return false, fmt.Errorf("continuation: manager is not configured")
	}
	bundle, err := m.Store.GetBundle(ctx, bundleID)
	if err != nil {
		return false, err
	}
	if bundle.Status != core.BundleStatusSigning {
		return false, nil
	}
	if bundle.ResumeExpiresAt == nil || bundle.ResumeExpiresAt.After(m.now()) {
		return false, nil
	}

	cause := "signing wait expired before a callback arrived"
	_, err = m.Store.UpdateBundleStatus(ctx, core.UpdateBundleStatusInput{
		BundleID:         bundle.ID,
		From:             core.BundleStatusSigning,
		To:               core.BundleStatusFailed,
		Reason:           "signing wait expired",
		ClearResumeToken: true,
		LastError:        &cause,
	})
	if err != nil {
		if core.IsConflict(err) {
			// A callback resumed the bundle between the read and the sweep.
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SweepExpired expires every overdue wait in one pass, up to limit, and
// returns the bundle ids it settled.
func (m *Manager) SweepExpired(ctx context.Context, limit int) (expired []string, err error) {
	if m == nil || m.Store == nil {
		return nil, fmt.Errorf("continuation: manager is not configured")
	}
	startedAt := m.now()
	defer func() {
		m.Observer.ObserveOperation(ctx, startedAt, "continuation.sweep", err, map[string]any{
			"expired": len(expired),
			"stage":   "signing",
		})
	}()

	overdue, err := m.Store.ListExpiredWaits(ctx, m.now(), limit)
	if err != nil {
		return nil, err
	}
	for _, bundle := range overdue {
		settled, expireErr := m.Expire(ctx, bundle.ID)
		if expireErr != nil {
			return expired, expireErr
		}
		if settled {
			expired = append(expired, bundle.ID)
		}
	}
	return expired, nil
}

// RecordSignRequest stores the provider's session id after the signing request
// succeeds. The wait is already durable, so this is a same-status update.
func (m *Manager) RecordSignRequest(ctx context.Context, bundleID, signRequestID string) error {
	if m == nil || m.Store == nil {
		return fmt.Errorf("continuation: manager is not configured")
	}
	signRequestID = strings.TrimSpace(signRequestID)
	if signRequestID == "" {
		return fmt.Errorf("continuation: sign request id is required")
	}
	_, err := m.Store.UpdateBundleStatus(ctx, core.UpdateBundleStatusInput{
		BundleID:      strings.TrimSpace(bundleID),
		From:          core.BundleStatusSigning,
		To:            core.BundleStatusSigning,
		Reason:        "signing session registered",
		SignRequestID: &signRequestID,
	})
	return err
}

func (m *Manager) now() time.Time {
	if m != nil && m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func (m *Manager) ttl() time.Duration {
	if m != nil && m.TTL > 0 {
		return m.TTL
	}
	return 72 * time.Hour
}

func (m *Manager) generateToken() (string, error) {
	if m != nil && m.GenerateToken != nil {
		return m.GenerateToken()
	}
	return core.GenerateResumeToken()
}

var _ core.ContinuationManager = (*Manager)(nil)
