package devkit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Skyvell/signing-signicat/core"
)

// Collaborators is a scripted stand-in for the four external collaborator
// contracts. Failures are keyed by contract or bundle id and consumed in
// order, so tests can script "fail once, then succeed".
type Collaborators struct {
	mu sync.Mutex

	renderFailures   map[string][]error
	deliverFailures  map[string][]error
	assembleFailures []error
	signFailures     []error

	renderRequests   []core.RenderRequest
	assembleRequests []core.AssembleRequest
	signRequests     []core.SignSessionRequest
	deliverRequests  []core.DeliverRequest

	signRequestSeq int
}

func NewCollaborators() *Collaborators {
	return &Collaborators{
		renderFailures:  map[string][]error{},
		deliverFailures: map[string][]error{},
	}
}

// FailRender scripts the next render attempts for a contract.
func (c *Collaborators) FailRender(contractID string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.renderFailures[contractID] = append(c.renderFailures[contractID], errs...)
}

// FailDelivery scripts the next delivery attempts for a contract.
func (c *Collaborators) FailDelivery(contractID string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deliverFailures[contractID] = append(c.deliverFailures[contractID], errs...)
}

func (c *Collaborators) FailAssemble(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assembleFailures = append(c.assembleFailures, errs...)
}

func (c *Collaborators) FailSignRequest(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signFailures = append(c.signFailures, errs...)
}

func (c *Collaborators) RenderContract(_ context.Context, req core.RenderRequest) (core.RenderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.renderRequests = append(c.renderRequests, req)
	if err := popScripted(c.renderFailures, req.ContractID); err != nil {
		return core.RenderResult{}, err
	}
	return core.RenderResult{
		ArtifactRef: fmt.Sprintf("rendered/%s/%s.pdf", req.BundleID, req.ContractID),
	}, nil
}

func (c *Collaborators) AssembleBundle(_ context.Context, req core.AssembleRequest) (core.AssembleResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assembleRequests = append(c.assembleRequests, req)
	if len(c.assembleFailures) > 0 {
		err := c.assembleFailures[0]
		c.assembleFailures = c.assembleFailures[1:]
		if err != nil {
			return core.AssembleResult{}, err
		}
	}
	return core.AssembleResult{
		UnsignedArtifactRef: fmt.Sprintf("unsigned/%s.pdf", req.BundleID),
	}, nil
}

func (c *Collaborators) RequestSigningSession(_ context.Context, req core.SignSessionRequest) (core.SignSessionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signRequests = append(c.signRequests, req)
	if len(c.signFailures) > 0 {
		err := c.signFailures[0]
		c.signFailures = c.signFailures[1:]
		if err != nil {
			return core.SignSessionResult{}, err
		}
	}
	c.signRequestSeq++
	return core.SignSessionResult{
		SignRequestID: fmt.Sprintf("sr-%s-%d", req.BundleID, c.signRequestSeq),
	}, nil
}

func (c *Collaborators) DeliverContract(_ context.Context, req core.DeliverRequest) (core.DeliverResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deliverRequests = append(c.deliverRequests, req)
	if err := popScripted(c.deliverFailures, req.ContractID); err != nil {
		return core.DeliverResult{}, err
	}
	return core.DeliverResult{
		DeliveryID: fmt.Sprintf("dlv-%s-%s", req.BundleID, req.ContractID),
		Receipt:    fmt.Sprintf("receipt-%s", req.ContractID),
	}, nil
}

func (c *Collaborators) RenderRequests() []core.RenderRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.RenderRequest(nil), c.renderRequests...)
}

func (c *Collaborators) AssembleRequests() []core.AssembleRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.AssembleRequest(nil), c.assembleRequests...)
}

func (c *Collaborators) SignRequests() []core.SignSessionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.SignSessionRequest(nil), c.signRequests...)
}

func (c *Collaborators) DeliverRequests() []core.DeliverRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.DeliverRequest(nil), c.deliverRequests...)
}

func popScripted(scripts map[string][]error, key string) error {
	key = strings.TrimSpace(key)
	queue := scripts[key]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	scripts[key] = queue[1:]
	return err
}

var (
	_ core.Renderer      = (*Collaborators)(nil)
	_ core.Assembler     = (*Collaborators)(nil)
	_ core.SignRequester = (*Collaborators)(nil)
	_ core.Deliverer     = (*Collaborators)(nil)
)
