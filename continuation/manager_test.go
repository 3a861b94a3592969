package continuation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Skyvell/signing-signicat/core"
)

type fakeBundleStore struct {
	mu      sync.Mutex
	bundles map[string]core.Bundle
}

func newFakeBundleStore() *fakeBundleStore {
	return &fakeBundleStore{bundles: map[string]core.Bundle{}}
}

func (s *fakeBundleStore) CreateBundleIfAbsent(_ context.Context, bundleID string) (core.Bundle, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.bundles[bundleID]; ok {
		return existing, false, nil
	}
	bundle := core.Bundle{ID: bundleID, Status: core.BundleStatusNew}
	s.bundles[bundleID] = bundle
	return bundle, true, nil
}

func (s *fakeBundleStore) GetBundle(_ context.Context, bundleID string) (core.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bundle, ok := s.bundles[bundleID]
	if !ok {
		return core.Bundle{}, core.ErrBundleNotFound
	}
	return bundle, nil
}

func (s *fakeBundleStore) TryLockStart(_ context.Context, bundleID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bundle, ok := s.bundles[bundleID]
	if !ok {
		return false, core.ErrBundleNotFound
	}
	if bundle.StartedAt != nil {
		return false, nil
	}
	now := time.Now().UTC()
	bundle.StartedAt = &now
	s.bundles[bundleID] = bundle
	return true, nil
}

func (s *fakeBundleStore) UpdateBundleStatus(_ context.Context, in core.UpdateBundleStatusInput) (core.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bundle, ok := s.bundles[in.BundleID]
	if !ok {
		return core.Bundle{}, core.ErrBundleNotFound
	}
	if bundle.Status != in.From {
		return core.Bundle{}, core.NewConflictError(fmt.Sprintf(
			"bundle %s is %s, expected %s", in.BundleID, bundle.Status, in.From,
		))
	}
	if err := core.ValidateBundleTransition(in.From, in.To); err != nil {
		return core.Bundle{}, err
	}
	bundle.Status = in.To
	if in.SignedArtifactRef != nil {
		bundle.SignedArtifactRef = *in.SignedArtifactRef
	}
	if in.SigningLogRef != nil {
		bundle.SigningLogRef = *in.SigningLogRef
	}
	if in.SignRequestID != nil {
		bundle.SignRequestID = *in.SignRequestID
	}
	if in.ClearResumeToken {
		bundle.ResumeToken = ""
		bundle.ResumeExpiresAt = nil
	} else {
		if in.ResumeToken != nil {
			bundle.ResumeToken = *in.ResumeToken
		}
		if in.ResumeExpiresAt != nil {
			expiresAt := in.ResumeExpiresAt.UTC()
			bundle.ResumeExpiresAt = &expiresAt
		}
	}
	if in.LastError != nil {
		bundle.LastError = *in.LastError
	}
	bundle.UpdatedAt = time.Now().UTC()
	s.bundles[in.BundleID] = bundle
	return bundle, nil
}

func (s *fakeBundleStore) FindBundleByResumeToken(_ context.Context, token string) (core.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token = strings.TrimSpace(token)
	if token == "" {
		return core.Bundle{}, core.ErrWaitNotFound
	}
	for _, bundle := range s.bundles {
		if bundle.ResumeToken == token {
			return bundle, nil
		}
	}
	return core.Bundle{}, core.ErrWaitNotFound
}

func (s *fakeBundleStore) ListExpiredWaits(_ context.Context, now time.Time, limit int) ([]core.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []core.Bundle
	for _, bundle := range s.bundles {
		if bundle.Status != core.BundleStatusSigning {
			continue
		}
		if bundle.ResumeExpiresAt == nil || !bundle.ResumeExpiresAt.Before(now) {
			continue
		}
		expired = append(expired, bundle)
		if limit > 0 && len(expired) == limit {
			break
		}
	}
	return expired, nil
}

func (s *fakeBundleStore) ListTransitions(context.Context, string) ([]core.BundleTransition, error) {
	return nil, nil
}

type recordingTrigger struct {
	mu      sync.Mutex
	bundles []string
}

func (t *recordingTrigger) TriggerBundle(_ context.Context, bundleID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bundles = append(t.bundles, bundleID)
	return nil
}

func newTestManager(t *testing.T, store core.BundleStore) *Manager {
	t.Helper()
	manager, err := NewManager(store, core.SigningWaitConfig{TTL: time.Hour})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return manager
}

func seedSuspendedBundle(t *testing.T, store *fakeBundleStore, manager *Manager, bundleID string) core.WaitRecord {
	t.Helper()
	ctx := context.Background()
	if _, _, err := store.CreateBundleIfAbsent(ctx, bundleID); err != nil {
		t.Fatalf("seed bundle: %v", err)
	}
	steps := [][2]core.BundleStatus{
		{core.BundleStatusNew, core.BundleStatusReady},
		{core.BundleStatusReady, core.BundleStatusAssembling},
	}
	for _, step := range steps {
		if _, err := store.UpdateBundleStatus(ctx, core.UpdateBundleStatusInput{
			BundleID: bundleID,
			From:     step[0],
			To:       step[1],
		}); err != nil {
			t.Fatalf("advance bundle to %s: %v", step[1], err)
		}
	}
	wait, err := manager.BeginWait(ctx, bundleID)
	if err != nil {
		t.Fatalf("begin wait: %v", err)
	}
	return wait
}

func TestBeginWait_PersistsTokenBeforeAnythingLeaves(t *testing.T) {
	store := newFakeBundleStore()
	manager := newTestManager(t, store)

	wait := seedSuspendedBundle(t, store, manager, "B-1")
	if wait.Token == "" {
		t.Fatalf("expected a resume token")
	}
	if wait.ExpiresAt.IsZero() {
		t.Fatalf("expected an expiry deadline")
	}

	bundle, err := store.GetBundle(context.Background(), "B-1")
	if err != nil {
		t.Fatalf("get bundle: %v", err)
	}
	if bundle.Status != core.BundleStatusSigning {
		t.Fatalf("expected signing status, got %s", bundle.Status)
	}
	if bundle.ResumeToken != wait.Token {
		t.Fatalf("expected persisted token to match the wait record")
	}
}

func TestBeginWait_ReplaysExistingWait(t *testing.T) {
	store := newFakeBundleStore()
	manager := newTestManager(t, store)

	first := seedSuspendedBundle(t, store, manager, "B-1")
	second, err := manager.BeginWait(context.Background(), "B-1")
	if err != nil {
		t.Fatalf("replay begin wait: %v", err)
	}
	if second.Token != first.Token {
		t.Fatalf("expected the replay to return the original token")
	}
}

func TestResume_SuccessAdvancesAndTriggersOnce(t *testing.T) {
	store := newFakeBundleStore()
	manager := newTestManager(t, store)
	trigger := &recordingTrigger{}
	manager.Trigger = trigger

	wait := seedSuspendedBundle(t, store, manager, "B-1")

	message := core.CallbackMessage{
		BundleID:    "B-1",
		Token:       wait.Token,
		Outcome:     core.SignOutcomeSuccess,
		ArtifactRef: "signed/B-1.pdf",
		LogRef:      "logs/B-1.json",
	}
	result, err := manager.Resume(context.Background(), message)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if result.Replayed {
		t.Fatalf("first resume must not report a replay")
	}

	bundle, _ := store.GetBundle(context.Background(), "B-1")
	if bundle.Status != core.BundleStatusSigned {
		t.Fatalf("expected signed status, got %s", bundle.Status)
	}
	if bundle.SignedArtifactRef != "signed/B-1.pdf" || bundle.SigningLogRef != "logs/B-1.json" {
		t.Fatalf("expected artifact refs to be recorded, got %+v", bundle)
	}

	replay, err := manager.Resume(context.Background(), message)
	if err != nil {
		t.Fatalf("replayed resume: %v", err)
	}
	if !replay.Replayed {
		t.Fatalf("expected the duplicate callback to be reported as a replay")
	}
	if len(trigger.bundles) != 1 {
		t.Fatalf("expected exactly one orchestration trigger, got %d", len(trigger.bundles))
	}
}

func TestResume_SuccessWithoutArtifactKeepsWaitOpen(t *testing.T) {
	store := newFakeBundleStore()
	manager := newTestManager(t, store)
	trigger := &recordingTrigger{}
	manager.Trigger = trigger

	wait := seedSuspendedBundle(t, store, manager, "B-1")

	_, err := manager.Resume(context.Background(), core.CallbackMessage{
		BundleID: "B-1",
		Token:    wait.Token,
		Outcome:  core.SignOutcomeSuccess,
	})
	if !core.IsValidation(err) {
		t.Fatalf("expected the incomplete callback to be rejected as invalid, got %v", err)
	}

	bundle, _ := store.GetBundle(context.Background(), "B-1")
	if bundle.Status != core.BundleStatusSigning {
		t.Fatalf("expected the bundle to stay suspended, got %s", bundle.Status)
	}
	if len(trigger.bundles) != 0 {
		t.Fatalf("expected no orchestration trigger for the rejected callback")
	}

	result, err := manager.Resume(context.Background(), core.CallbackMessage{
		BundleID:    "B-1",
		Token:       wait.Token,
		Outcome:     core.SignOutcomeSuccess,
		ArtifactRef: "signed/B-1.pdf",
	})
	if err != nil {
		t.Fatalf("complete retry after the incomplete callback: %v", err)
	}
	if result.Replayed {
		t.Fatalf("the complete retry must win the resume, not dedupe")
	}

	bundle, _ = store.GetBundle(context.Background(), "B-1")
	if bundle.Status != core.BundleStatusSigned || bundle.SignedArtifactRef != "signed/B-1.pdf" {
		t.Fatalf("expected signed with the artifact recorded, got %+v", bundle)
	}
}

func TestResume_FailureSettlesBundleAsFailed(t *testing.T) {
	store := newFakeBundleStore()
	manager := newTestManager(t, store)

	wait := seedSuspendedBundle(t, store, manager, "B-1")
	result, err := manager.Resume(context.Background(), core.CallbackMessage{
		Token:   wait.Token,
		Outcome: core.SignOutcomeFailure,
	})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if result.Replayed {
		t.Fatalf("first resume must not report a replay")
	}

	bundle, _ := store.GetBundle(context.Background(), "B-1")
	if bundle.Status != core.BundleStatusFailed {
		t.Fatalf("expected failed status, got %s", bundle.Status)
	}
	if bundle.LastError == "" {
		t.Fatalf("expected the failure cause to be recorded")
	}
}

func TestResume_UnknownTokenIsRejected(t *testing.T) {
	store := newFakeBundleStore()
	manager := newTestManager(t, store)
	seedSuspendedBundle(t, store, manager, "B-1")

	_, err := manager.Resume(context.Background(), core.CallbackMessage{
		Token:   "forged-token",
		Outcome: core.SignOutcomeSuccess,
	})
	if !errors.Is(err, core.ErrWaitNotFound) {
		t.Fatalf("expected ErrWaitNotFound, got %v", err)
	}
}

func TestExpire_SettlesOverdueWaitAndBlocksLateCallback(t *testing.T) {
	store := newFakeBundleStore()
	manager := newTestManager(t, store)
	wait := seedSuspendedBundle(t, store, manager, "B-1")

	manager.Now = func() time.Time {
		return time.Now().UTC().Add(2 * time.Hour)
	}

	settled, err := manager.Expire(context.Background(), "B-1")
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if !settled {
		t.Fatalf("expected the overdue wait to settle")
	}

	bundle, _ := store.GetBundle(context.Background(), "B-1")
	if bundle.Status != core.BundleStatusFailed {
		t.Fatalf("expected failed status, got %s", bundle.Status)
	}
	if bundle.ResumeToken != "" {
		t.Fatalf("expected the token to be cleared on expiry")
	}

	_, err = manager.Resume(context.Background(), core.CallbackMessage{
		Token:   wait.Token,
		Outcome: core.SignOutcomeSuccess,
	})
	if !errors.Is(err, core.ErrWaitNotFound) {
		t.Fatalf("expected the late callback to be rejected, got %v", err)
	}
}

func TestExpire_LeavesFreshWaitsAlone(t *testing.T) {
	store := newFakeBundleStore()
	manager := newTestManager(t, store)
	seedSuspendedBundle(t, store, manager, "B-1")

	settled, err := manager.Expire(context.Background(), "B-1")
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if settled {
		t.Fatalf("expected the unexpired wait to stay suspended")
	}
}

func TestSweepExpired_SettlesOnlyOverdueWaits(t *testing.T) {
	store := newFakeBundleStore()
	manager := newTestManager(t, store)

	seedSuspendedBundle(t, store, manager, "B-overdue")
	manager.TTL = 10 * time.Hour
	seedSuspendedBundle(t, store, manager, "B-fresh")
	manager.TTL = time.Hour

	manager.Now = func() time.Time {
		return time.Now().UTC().Add(2 * time.Hour)
	}

	expired, err := manager.SweepExpired(context.Background(), 10)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(expired) != 1 || expired[0] != "B-overdue" {
		t.Fatalf("expected only the overdue wait to settle, got %v", expired)
	}
}

func TestRecordSignRequest_StoresSessionID(t *testing.T) {
	store := newFakeBundleStore()
	manager := newTestManager(t, store)
	seedSuspendedBundle(t, store, manager, "B-1")

	if err := manager.RecordSignRequest(context.Background(), "B-1", "sr-42"); err != nil {
		t.Fatalf("record sign request: %v", err)
	}
	bundle, _ := store.GetBundle(context.Background(), "B-1")
	if bundle.SignRequestID != "sr-42" {
		t.Fatalf("expected sign request id to persist, got %q", bundle.SignRequestID)
	}
}
