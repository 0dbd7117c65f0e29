package client

import (
	"context"
	"errors"
	"fmt"

	"marketplace-ledger/internal/config"

	"github.com/braintree-go/braintree-go"
)

type braintreeGatewayImpl struct {
	gateway *braintree.Braintree
}

// NewBraintreeGateway initializes the Braintree SDK gateway
func NewBraintreeGateway(cfg *config.Braintree) PaymentGateway {
	env := braintree.Sandbox
	if cfg.Environment == "production" {
		env = braintree.Production
	}

	gateway := braintree.New(
		env,
		cfg.MerchantID,
		cfg.PublicKey,
		cfg.PrivateKey,
	)

	return &braintreeGatewayImpl{
		gateway: gateway,
	}
}

// Authorize charges the nonce in req.PaymentReference and submits it for
// settlement in the same call.
func (c *braintreeGatewayImpl) Authorize(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	if req.PaymentReference == "" {
		return &PaymentResult{Success: false, Message: "missing payment method nonce"}, nil
	}

	// Braintree expects NewDecimal(unscaled, scale): 59.98 -> NewDecimal(5998, 2)
	btReq := &braintree.TransactionRequest{
		Type:               "sale",
		Amount:             braintree.NewDecimal(int64(req.Amount), 2),
		PaymentMethodNonce: req.PaymentReference,
		OrderId:            req.OrderID,
		Options: &braintree.TransactionOptions{
			SubmitForSettlement: true, // Captures the funds immediately
		},
	}

	tx, err := c.gateway.Transaction().Create(ctx, btReq)
	if err != nil {
		var btErr *braintree.BraintreeError
		if errors.As(err, &btErr) {
			// validation failures and declines come back as an error response
			return &PaymentResult{Success: false, Message: btErr.Error()}, nil
		}
		return nil, fmt.Errorf("braintree transaction create: %w", err)
	}

	switch tx.Status {
	case braintree.TransactionStatusProcessorDeclined,
		braintree.TransactionStatusGatewayRejected,
		braintree.TransactionStatusFailed:
		return &PaymentResult{Success: false, PaymentReference: tx.Id, Message: tx.ProcessorResponseText}, nil
	}

	return &PaymentResult{Success: true, PaymentReference: tx.Id}, nil
}
