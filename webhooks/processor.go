package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Skyvell/signing-signicat/core"
)

const (
	DeliveryStatusPending    = "pending"
	DeliveryStatusProcessing = "processing"
	DeliveryStatusProcessed  = "processed"
	DeliveryStatusRetryReady = "retry_ready"
	DeliveryStatusDead       = "dead"
)

// DeliveryRecord tracks one callback delivery through the claim lifecycle.
// (SignRequestID, DeliveryID) is the dedupe key; ClaimID names the claim a
// worker holds while processing.
type DeliveryRecord struct {
	ID             string
	ClaimID        string
	SignRequestID  string
	DeliveryID     string
	Status         string
	Attempts       int
	NextAttemptAt  *time.Time
	LeaseExpiresAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type DeliveryLedger interface {
	Claim(
		ctx context.Context,
		signRequestID string,
		deliveryID string,
		payload []byte,
		lease time.Duration,
	) (DeliveryRecord, bool, error)
	Get(ctx context.Context, signRequestID string, deliveryID string) (DeliveryRecord, error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error, nextAttemptAt time.Time, maxAttempts int) error
}

// CallbackRequest is the transport-neutral inbound callback: the signing
// provider's HTTP POST stripped down to what processing needs.
type CallbackRequest struct {
	SignRequestID string
	Headers       map[string]string
	Body          []byte
	Metadata      map[string]any
}

type CallbackResult struct {
	Accepted   bool
	StatusCode int
	Metadata   map[string]any
}

type Verifier interface {
	Verify(ctx context.Context, req CallbackRequest) error
}

type DeliveryIDExtractor func(req CallbackRequest) (string, error)

type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

type ExponentialRetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

func (p ExponentialRetryPolicy) NextDelay(attempt int) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		initial = time.Second
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = 30 * time.Second
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

// Processor drives one inbound callback end to end: verify, claim for dedupe,
// decode, resume the waiting bundle, settle the claim. Retries are the
// transport's job; the ledger only records when the next attempt is welcome.
type Processor struct {
	Verifier    Verifier
	Ledger      DeliveryLedger
	Resumer     core.ContinuationManager
	ExtractID   DeliveryIDExtractor
	RetryPolicy RetryPolicy
	ClaimLease  time.Duration
	MaxAttempts int
	Observer    core.Observer
	Now         func() time.Time
}

func NewProcessor(verifier Verifier, ledger DeliveryLedger, resumer core.ContinuationManager) *Processor {
	return &Processor{
		Verifier:    verifier,
		Ledger:      ledger,
		Resumer:     resumer,
		ExtractID:   DefaultDeliveryIDExtractor,
		RetryPolicy: ExponentialRetryPolicy{},
		ClaimLease:  30 * time.Second,
		MaxAttempts: 8,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (p *Processor) Process(ctx context.Context, req CallbackRequest) (result CallbackResult, err error) {
	if p == nil || p.Resumer == nil || p.Ledger == nil {
		return CallbackResult{}, fmt.Errorf("webhooks: processor requires resumer and ledger")
	}
	startedAt := p.now()
	defer func() {
		p.Observer.ObserveOperation(ctx, startedAt, "callback.process", err, map[string]any{
			"sign_request_id": strings.TrimSpace(req.SignRequestID),
			"stage":           "signing",
		})
	}()

	signRequestID := strings.TrimSpace(req.SignRequestID)
	if signRequestID == "" {
		return CallbackResult{}, fmt.Errorf("webhooks: sign request id is required")
	}
	req.SignRequestID = signRequestID

	if p.Verifier != nil {
		if err := p.Verifier.Verify(ctx, req); err != nil {
			return CallbackResult{
				Accepted:   false,
				StatusCode: http.StatusUnauthorized,
				Metadata: map[string]any{
					"sign_request_id": signRequestID,
					"rejected":        true,
				},
			}, err
		}
	}

	extractor := p.ExtractID
	if extractor == nil {
		extractor = DefaultDeliveryIDExtractor
	}
	deliveryID, err := extractor(req)
	if err != nil {
		return CallbackResult{}, err
	}

	delivery, claimed, err := p.Ledger.Claim(ctx, signRequestID, deliveryID, req.Body, p.claimLease())
	if err != nil {
		return CallbackResult{}, err
	}
	if !claimed {
		return CallbackResult{
			Accepted:   true,
			StatusCode: http.StatusOK,
			Metadata: map[string]any{
				"sign_request_id": signRequestID,
				"delivery_id":     delivery.DeliveryID,
				"status":          delivery.Status,
				"deduped":         true,
			},
		}, nil
	}

	message, err := DecodeCallbackMessage(req.Body)
	if err != nil {
		// Malformed payloads never become well formed; settle the claim so
		// replays dedupe instead of burning attempts.
		if markErr := p.Ledger.Complete(ctx, delivery.ClaimID); markErr != nil {
			return CallbackResult{}, markErr
		}
		return CallbackResult{
			Accepted:   false,
			StatusCode: http.StatusBadRequest,
			Metadata: map[string]any{
				"sign_request_id": signRequestID,
				"delivery_id":     deliveryID,
			},
		}, err
	}

	resume, err := p.Resumer.Resume(ctx, message)
	if err != nil {
		return p.settleResumeFailure(ctx, delivery, signRequestID, deliveryID, err)
	}

	if err := p.Ledger.Complete(ctx, delivery.ClaimID); err != nil {
		return CallbackResult{}, err
	}
	return CallbackResult{
		Accepted:   true,
		StatusCode: http.StatusOK,
		Metadata: map[string]any{
			"sign_request_id": signRequestID,
			"delivery_id":     deliveryID,
			"bundle_id":       resume.BundleID,
			"outcome":         string(resume.Outcome),
			"replayed":        resume.Replayed,
		},
	}, nil
}

// settleResumeFailure decides whether a resume failure is worth retrying.
// Unknown tokens and malformed messages are permanent; a replayed token is a
// benign duplicate; everything else gets scheduled for another attempt.
func (p *Processor) settleResumeFailure(
	ctx context.Context,
	delivery DeliveryRecord,
	signRequestID string,
	deliveryID string,
	cause error,
) (CallbackResult, error) {
	metadata := map[string]any{
		"sign_request_id": signRequestID,
		"delivery_id":     deliveryID,
	}

	switch {
	case errors.Is(cause, core.ErrWaitAlreadyResumed):
		if markErr := p.Ledger.Complete(ctx, delivery.ClaimID); markErr != nil {
			return CallbackResult{}, markErr
		}
		metadata["deduped"] = true
		return CallbackResult{
			Accepted:   true,
			StatusCode: http.StatusOK,
			Metadata:   metadata,
		}, nil
	case errors.Is(cause, core.ErrWaitNotFound):
		if markErr := p.Ledger.Complete(ctx, delivery.ClaimID); markErr != nil {
			return CallbackResult{}, markErr
		}
		metadata["rejected"] = true
		return CallbackResult{
			Accepted:   false,
			StatusCode: http.StatusNotFound,
			Metadata:   metadata,
		}, cause
	case core.IsValidation(cause):
		if markErr := p.Ledger.Complete(ctx, delivery.ClaimID); markErr != nil {
			return CallbackResult{}, markErr
		}
		metadata["rejected"] = true
		return CallbackResult{
			Accepted:   false,
			StatusCode: http.StatusBadRequest,
			Metadata:   metadata,
		}, cause
	default:
		nextAttemptAt := p.now().Add(p.retryPolicy().NextDelay(delivery.Attempts))
		_ = p.Ledger.Fail(ctx, delivery.ClaimID, cause, nextAttemptAt, p.maxAttempts())
		return CallbackResult{}, cause
	}
}

// callbackPayload is the provider's wire shape for the signed-outcome POST.
type callbackPayload struct {
	BundleID    string `json:"bundle_id"`
	Token       string `json:"token"`
	Outcome     string `json:"outcome"`
	ArtifactRef string `json:"artifact_ref"`
	LogRef      string `json:"log_ref"`
}

func DecodeCallbackMessage(body []byte) (core.CallbackMessage, error) {
	payload := callbackPayload{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return core.CallbackMessage{}, fmt.Errorf("webhooks: decode callback payload: %w", err)
	}
	message := core.CallbackMessage{
		BundleID:    strings.TrimSpace(payload.BundleID),
		Token:       strings.TrimSpace(payload.Token),
		Outcome:     core.SignOutcome(strings.TrimSpace(strings.ToLower(payload.Outcome))),
		ArtifactRef: strings.TrimSpace(payload.ArtifactRef),
		LogRef:      strings.TrimSpace(payload.LogRef),
	}
	if err := message.Validate(); err != nil {
		return core.CallbackMessage{}, err
	}
	return message, nil
}

func DefaultDeliveryIDExtractor(req CallbackRequest) (string, error) {
	if req.Metadata != nil {
		if value := strings.TrimSpace(fmt.Sprint(req.Metadata["delivery_id"])); value != "" && value != "<nil>" {
			return value, nil
		}
		if value := strings.TrimSpace(fmt.Sprint(req.Metadata["message_id"])); value != "" && value != "<nil>" {
			return value, nil
		}
	}
	if req.Headers != nil {
		if value := headerValue(req.Headers, "x-delivery-id"); value != "" {
			return value, nil
		}
		if value := headerValue(req.Headers, "x-signicat-delivery"); value != "" {
			return value, nil
		}
	}
	return "", fmt.Errorf("webhooks: delivery id is required for dedupe")
}

// HMACVerifier checks a base64 SHA-256 HMAC of the raw body against the
// signature header.
type HMACVerifier struct {
	Secret          string
	SignatureHeader string
}

func (v HMACVerifier) Verify(_ context.Context, req CallbackRequest) error {
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return fmt.Errorf("webhooks: hmac secret is required")
	}
	header := strings.TrimSpace(v.SignatureHeader)
	if header == "" {
		header = "x-signature"
	}
	provided := headerValue(req.Headers, header)
	if provided == "" {
		return fmt.Errorf("webhooks: callback signature is missing")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(req.Body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return fmt.Errorf("webhooks: callback signature mismatch")
	}
	return nil
}

func SignCallbackBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(strings.TrimSpace(secret)))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (p *Processor) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Processor) retryPolicy() RetryPolicy {
	if p != nil && p.RetryPolicy != nil {
		return p.RetryPolicy
	}
	return ExponentialRetryPolicy{}
}

func (p *Processor) claimLease() time.Duration {
	if p != nil && p.ClaimLease > 0 {
		return p.ClaimLease
	}
	return 30 * time.Second
}

func (p *Processor) maxAttempts() int {
	if p != nil && p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 8
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

var _ Verifier = (HMACVerifier{})
