// Package report produces the structured till-close report that accompanies
// a closing till session: totals, payment breakdown, cash variance.
//
// The lifecycle controller supplies the closed session and forwards the
// resulting report unchanged to the remote till/close call and to the
// printer; it never computes totals itself.
package report

import (
	"context"
	"time"

	"github.com/tillbook/tillbook/internal/ledger"
)

// TillReport is the structured summary of a closed till session.
type TillReport struct {
	SessionID string `json:"sessionId"`
	BranchID  string `json:"branchId"`

	OpeningCash  float64 `json:"openingCash"`
	ClosingCash  float64 `json:"closingCash"`
	ExpectedCash float64 `json:"expectedCash"`
	CashVariance float64 `json:"cashVariance"`

	// Payments maps payment method to collected amount for the session
	// window. Empty when no transaction source is wired.
	Payments map[string]float64 `json:"payments,omitempty"`

	GeneratedAt time.Time `json:"generatedAt"`
}

// Generator builds a TillReport from a closed till session.
type Generator interface {
	Generate(ctx context.Context, session *ledger.TillSessionRecord) (*TillReport, error)
}

// CashCount is the baseline generator. It has no transaction feed, so the
// expected cash is the opening float and the variance is everything counted
// above or below it.
type CashCount struct{}

// Generate implements Generator.
func (CashCount) Generate(_ context.Context, session *ledger.TillSessionRecord) (*TillReport, error) {
	closing := session.OpeningCash
	if session.ClosingCash != nil {
		closing = *session.ClosingCash
	}

	return &TillReport{
		SessionID:    session.ID,
		BranchID:     session.BranchID,
		OpeningCash:  session.OpeningCash,
		ClosingCash:  closing,
		ExpectedCash: session.OpeningCash,
		CashVariance: closing - session.OpeningCash,
		GeneratedAt:  time.Now().UTC(),
	}, nil
}
