// Package payout derives the clinic transfer breakdown from a succeeded
// payment amount. Pure arithmetic; persistence happens in the lifecycle
// handlers.
package payout

import (
	"math"

	"github.com/pawplan/pawplan/internal/config"
)

// Breakdown is the split of one succeeded payment between the clinic
// transfer, the platform, and the risk pool.
type Breakdown struct {
	TransferCents         int64 // Net amount wired to the clinic.
	ClinicShareCents      int64 // Clinic revenue share portion of the transfer.
	PlatformRetainedCents int64 // Platform's retained half-fee.
	RiskContributionCents int64 // Risk-pool contribution deducted from the payment.
}

// Viable reports whether the breakdown yields a positive clinic transfer.
// A non-positive transfer means the rates are misconfigured; callers skip
// payout creation and log rather than erroring.
func (b Breakdown) Viable() bool {
	return b.TransferCents > 0
}

// Calculate splits a succeeded payment amount. The platform retains half the
// fee rate, the risk pool takes its contribution, and the remainder is the
// clinic transfer; the clinic share is informational within the transfer.
func Calculate(rates config.Rates, amountCents int64) Breakdown {
	risk := int64(math.Round(float64(amountCents) * rates.RiskPoolRate))
	retained := int64(math.Round(float64(amountCents) * rates.FeeRate / 2))
	share := int64(math.Round(float64(amountCents) * rates.ClinicShareRate))
	return Breakdown{
		TransferCents:         amountCents - retained - risk,
		ClinicShareCents:      share,
		PlatformRetainedCents: retained,
		RiskContributionCents: risk,
	}
}
