package handshake

import (
	"time"

	"github.com/MrEthical07/handshake/internal/security"
)

// SecurityReport summarizes the effective security posture of an engine.
type SecurityReport struct {
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

// SecurityReport returns the posture derived from the validated config.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	r := security.BuildReport(security.ReportInput{
		ProductionMode:   e.config.Security.ProductionMode,
		CodeDigits:       e.config.Challenge.CodeDigits,
		ChallengeTTL:     e.config.Challenge.TTL,
		MaxAttempts:      e.config.Challenge.MaxAttempts,
		TokenKeyLength:   len(e.config.Challenge.TokenSigningKey),
		DebugLogCodes:    e.config.Challenge.DebugLogCodes,
		MaxIssuesPerUser: e.config.RateLimit.MaxIssuesPerUser,
		MaxIssuesPerIP:   e.config.RateLimit.MaxIssuesPerIP,
		MaxVerifiesPerIP: e.config.RateLimit.MaxVerifiesPerIP,
		EnableIPThrottle: e.config.RateLimit.EnableIPThrottle,
		RedisBacked:      e.redis != nil,
		AuditEnabled:     e.config.Audit.Enabled,
		RecordRetention:  e.config.Challenge.RecordRetention,
		ProviderCount:    len(e.providers.Names()),
	})
	return SecurityReport(r)
}
