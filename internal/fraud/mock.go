package fraud

import (
	"context"

	"github.com/shopspring/decimal"
)

// MockScorer scores purely on amount thresholds. It backs tests and
// local development where no scorer is deployed.
type MockScorer struct {
	// BlockAbove blocks amounts strictly greater than it.
	BlockAbove decimal.Decimal

	// ReviewAbove flags amounts strictly greater than it for review.
	ReviewAbove decimal.Decimal
}

var _ Scorer = (*MockScorer)(nil)

// NewMockScorer blocks above 50 000 and reviews above 10 000.
func NewMockScorer() *MockScorer {
	return &MockScorer{
		BlockAbove:  decimal.NewFromInt(50_000),
		ReviewAbove: decimal.NewFromInt(10_000),
	}
}

// Score applies the thresholds.
func (m *MockScorer) Score(_ context.Context, req Request) Score {
	amt := req.Amount.Amount
	switch {
	case amt.GreaterThan(m.BlockAbove):
		return Score{
			Score:     0.95,
			Decision:  Block,
			RiskLevel: RiskCritical,
			Reasons:   []string{"amount above block threshold"},
		}
	case amt.GreaterThan(m.ReviewAbove):
		return Score{
			Score:     0.6,
			Decision:  Review,
			RiskLevel: RiskMedium,
			Reasons:   []string{"amount above review threshold"},
		}
	default:
		return Score{
			Score:     0.1,
			Decision:  Approve,
			RiskLevel: RiskLow,
		}
	}
}
