package client

import (
	"context"
	"strings"
	"time"

	"marketplace-ledger/internal/money"

	"github.com/google/uuid"
)

type PaymentRequest struct {
	OrderID          string
	Amount           money.Cents
	Currency         string
	PaymentMethod    string
	PaymentReference string // nonce or token issued to the buyer's client
}

// PaymentResult is what the gateway reports for one authorization attempt.
type PaymentResult struct {
	Success          bool
	PaymentReference string
	Message          string
}

// PaymentGateway authorizes and captures a buyer's payment. A declined payment
// is a result with Success=false; an error means the outcome is unknown.
type PaymentGateway interface {
	Authorize(ctx context.Context, req PaymentRequest) (*PaymentResult, error)
}

// DeclinePrefix makes the simulated gateway decline a payment reference.
const DeclinePrefix = "decline"

type simulatedGateway struct {
	latency time.Duration
}

// NewSimulatedGateway approves every payment after latency, except references
// starting with DeclinePrefix.
func NewSimulatedGateway(latency time.Duration) PaymentGateway {
	return &simulatedGateway{latency: latency}
}

func (g *simulatedGateway) Authorize(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	if g.latency > 0 {
		t := time.NewTimer(g.latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	if strings.HasPrefix(req.PaymentReference, DeclinePrefix) {
		return &PaymentResult{Success: false, Message: "card declined"}, nil
	}

	ref := req.PaymentReference
	if ref == "" {
		ref = "sim_" + uuid.NewString()
	}
	return &PaymentResult{Success: true, PaymentReference: ref}, nil
}
