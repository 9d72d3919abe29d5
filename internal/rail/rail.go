// Package rail defines the payment-rail collaborator surface. Concrete
// implementations wrap the external processor; the engine only sees
// references and failure reasons.
package rail

import "context"

// Rail executes money movement against the external payment processor.
// Implementations report outcomes asynchronously through the webhook layer,
// which calls the lifecycle success/failure handlers.
type Rail interface {
	// ChargeDeposit starts a deposit charge and returns the session reference.
	ChargeDeposit(ctx context.Context, customerRef string, amountCents int64) (string, error)
	// ChargeInstallment starts an installment charge and returns the intent reference.
	ChargeInstallment(ctx context.Context, customerRef string, amountCents int64) (string, error)
	// TransferToClinic wires a payout and returns the transfer reference.
	TransferToClinic(ctx context.Context, clinicAccountRef string, amountCents int64) (string, error)
}
