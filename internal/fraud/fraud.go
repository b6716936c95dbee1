// Package fraud is the synchronous client for the external fraud
// scorer. It sits on the transaction write path, so every call carries
// a hard timeout and an explicit fallback policy for outages.
package fraud

import (
	"context"
	"time"

	"nexum/pkg/money"
)

// Decision is the scorer's verdict.
type Decision string

// Decisions.
const (
	Approve Decision = "APPROVE"
	Review  Decision = "REVIEW"
	Block   Decision = "BLOCK"
)

// RiskLevel bands the score.
type RiskLevel string

// Risk levels. Unknown marks fallback results where no score was
// computed.
const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
	RiskUnknown  RiskLevel = "UNKNOWN"
)

// riskLevelFor bands a score in [0,1].
func riskLevelFor(score float64) RiskLevel {
	switch {
	case score >= 0.9:
		return RiskCritical
	case score >= 0.7:
		return RiskHigh
	case score >= 0.4:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Request carries the transaction fields the scorer sees.
type Request struct {
	TransactionID    string
	CustomerID       string
	Amount           money.Money
	MerchantID       string
	MerchantCategory string
	Channel          string
	Country          string
	Timestamp        time.Time
	Metadata         map[string]string
}

// Score is the scoring result.
type Score struct {
	// Score is the risk score in [0,1].
	Score float64

	Decision  Decision
	RiskLevel RiskLevel

	// Reasons lists the signals behind the decision. Fallback results
	// carry "unavailable"; a disabled scorer carries "disabled".
	Reasons []string

	// Latency is the wall time of the remote call; zero when no call
	// was made.
	Latency time.Duration
}

// Scorer scores a transaction.
type Scorer interface {
	Score(ctx context.Context, req Request) Score
}
