package security

import (
	"math"
	"time"
)

// Report summarizes the security posture of a login engine configuration.
type Report struct {
	ProductionMode      bool
	CodeDigits          int
	ChallengeTTL        time.Duration
	MaxAttempts         int
	GuessProbability    float64
	TokensSigned        bool
	DebugCodesEnabled   bool
	IssuanceThrottled   bool
	VerifyThrottled     bool
	IPThrottleEnabled   bool
	RedisBacked         bool
	AuditEnabled        bool
	RecordRetention     time.Duration
	ProvidersRegistered int
}

type ReportInput struct {
	ProductionMode   bool
	CodeDigits       int
	ChallengeTTL     time.Duration
	MaxAttempts      int
	TokenKeyLength   int
	DebugLogCodes    bool
	MaxIssuesPerUser int
	MaxIssuesPerIP   int
	MaxVerifiesPerIP int
	EnableIPThrottle bool
	RedisBacked      bool
	AuditEnabled     bool
	RecordRetention  time.Duration
	ProviderCount    int
}

// BuildReport derives the posture report from raw settings.
func BuildReport(input ReportInput) Report {
	return Report{
		ProductionMode:      input.ProductionMode,
		CodeDigits:          input.CodeDigits,
		ChallengeTTL:        input.ChallengeTTL,
		MaxAttempts:         input.MaxAttempts,
		GuessProbability:    GuessProbability(input.CodeDigits, input.MaxAttempts),
		TokensSigned:        input.TokenKeyLength > 0,
		DebugCodesEnabled:   input.DebugLogCodes,
		IssuanceThrottled:   input.MaxIssuesPerUser > 0 || (input.EnableIPThrottle && input.MaxIssuesPerIP > 0),
		VerifyThrottled:     input.EnableIPThrottle && input.MaxVerifiesPerIP > 0,
		IPThrottleEnabled:   input.EnableIPThrottle,
		RedisBacked:         input.RedisBacked,
		AuditEnabled:        input.AuditEnabled,
		RecordRetention:     input.RecordRetention,
		ProvidersRegistered: input.ProviderCount,
	}
}

// GuessProbability is the chance that an attacker holding a challenge
// token guesses the code before the attempt budget runs out.
func GuessProbability(digits, attempts int) float64 {
	if digits <= 0 || attempts <= 0 {
		return 0
	}
	p := float64(attempts) / math.Pow10(digits)
	if p > 1 {
		return 1
	}
	return p
}
