package handshake

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the complete policy of an [Engine]. It is validated once by
// [Builder.Build] and treated as immutable afterwards.
type Config struct {
	Challenge ChallengeConfig
	Handshake HandshakeConfig
	Redirect  RedirectConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Security  SecurityConfig
}

/*
====================================
CHALLENGE CONFIG
====================================
*/

// ChallengeConfig controls the emailed one-time code.
type ChallengeConfig struct {
	CodeDigits      int
	TTL             time.Duration
	MaxAttempts     int
	RecordRetention time.Duration
	DeliveryTimeout time.Duration
	RedisPrefix     string

	// SweepInterval is how often the in-memory fallback store drops records
	// past their retention. Zero disables the sweeper.
	SweepInterval time.Duration

	// TokenSigningKey, when set, appends a MAC to every challenge token so
	// forged tokens are rejected before the store is consulted.
	TokenSigningKey []byte

	// DebugLogCodes makes the log notifier print codes instead of mailing
	// them. Validate rejects it in production.
	DebugLogCodes bool

	EmailSubject string
}

/*
====================================
HANDSHAKE CONFIG
====================================
*/

// HandshakeConfig controls the OAuth leg of the login.
type HandshakeConfig struct {
	StateTTL        time.Duration
	ExchangeTimeout time.Duration
	RedisPrefix     string
}

/*
====================================
REDIRECT CONFIG
====================================
*/

// RedirectConfig controls where a user lands after login.
type RedirectConfig struct {
	FrontendURL        string
	DefaultPath        string
	AdminPath          string
	OnboardingPath     string
	MaxHintLength      int
	ChallengeEntryPath string
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig throttles challenge issuance and verification.
type RateLimitConfig struct {
	EnableIPThrottle bool
	IssueWindow      time.Duration
	MaxIssuesPerUser int
	MaxIssuesPerIP   int
	VerifyWindow     time.Duration
	MaxVerifiesPerIP int
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds deployment-wide hardening switches.
type SecurityConfig struct {
	ProductionMode bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the policy used when no config is supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Challenge: ChallengeConfig{
			CodeDigits:      6,
			TTL:             10 * time.Minute,
			MaxAttempts:     5,
			RecordRetention: 15 * time.Minute,
			DeliveryTimeout: 10 * time.Second,
			RedisPrefix:     "hsc",
			SweepInterval:   time.Minute,
			EmailSubject:    "Your sign-in code",
		},
		Handshake: HandshakeConfig{
			StateTTL:        5 * time.Minute,
			ExchangeTimeout: 10 * time.Second,
			RedisPrefix:     "hss",
		},
		Redirect: RedirectConfig{
			FrontendURL:        "http://localhost:3000",
			DefaultPath:        "/dashboard",
			AdminPath:          "/admin",
			OnboardingPath:     "/onboarding",
			MaxHintLength:      300,
			ChallengeEntryPath: "/verify",
		},
		RateLimit: RateLimitConfig{
			EnableIPThrottle: true,
			IssueWindow:      15 * time.Minute,
			MaxIssuesPerUser: 5,
			MaxIssuesPerIP:   20,
			VerifyWindow:     time.Minute,
			MaxVerifiesPerIP: 30,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Challenge.TokenSigningKey = cloneBytes(cfg.Challenge.TokenSigningKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first policy violation in c. ProductionMode adds
// hardening rules on top of the structural checks.
func (c *Config) Validate() error {
	// Challenge
	if c.Challenge.CodeDigits < 6 || c.Challenge.CodeDigits > 10 {
		return errors.New("Challenge CodeDigits must be between 6 and 10")
	}
	if c.Challenge.TTL <= 0 {
		return errors.New("Challenge TTL must be > 0")
	}
	if c.Challenge.MaxAttempts <= 0 || c.Challenge.MaxAttempts > 65535 {
		return errors.New("Challenge MaxAttempts must be between 1 and 65535")
	}
	if c.Challenge.RecordRetention < 0 {
		return errors.New("Challenge RecordRetention must be >= 0")
	}
	if c.Challenge.DeliveryTimeout <= 0 {
		return errors.New("Challenge DeliveryTimeout must be > 0")
	}
	if c.Challenge.SweepInterval < 0 {
		return errors.New("Challenge SweepInterval must be >= 0")
	}
	if len(c.Challenge.TokenSigningKey) > 0 && len(c.Challenge.TokenSigningKey) < 16 {
		return errors.New("Challenge TokenSigningKey must be at least 128 bits")
	}

	// Handshake
	if c.Handshake.StateTTL <= 0 {
		return errors.New("Handshake StateTTL must be > 0")
	}
	if c.Handshake.ExchangeTimeout <= 0 {
		return errors.New("Handshake ExchangeTimeout must be > 0")
	}

	// Redirect
	frontend, err := url.Parse(c.Redirect.FrontendURL)
	if err != nil || frontend.Scheme == "" || frontend.Host == "" {
		return errors.New("Redirect FrontendURL must be an absolute URL")
	}
	if c.Redirect.MaxHintLength <= 0 {
		return errors.New("Redirect MaxHintLength must be > 0")
	}
	for name, p := range map[string]string{
		"DefaultPath":        c.Redirect.DefaultPath,
		"AdminPath":          c.Redirect.AdminPath,
		"OnboardingPath":     c.Redirect.OnboardingPath,
		"ChallengeEntryPath": c.Redirect.ChallengeEntryPath,
	} {
		if _, ok := SanitizeReturnHint(p, c.Redirect.MaxHintLength); !ok {
			return fmt.Errorf("Redirect %s must be a same-origin path", name)
		}
	}

	// Rate limits
	if c.RateLimit.MaxIssuesPerUser < 0 || c.RateLimit.MaxIssuesPerIP < 0 || c.RateLimit.MaxVerifiesPerIP < 0 {
		return errors.New("RateLimit budgets must be >= 0")
	}
	if c.RateLimit.MaxIssuesPerUser > 0 && c.RateLimit.IssueWindow <= 0 {
		return errors.New("RateLimit IssueWindow must be > 0 when issuance is throttled")
	}
	if c.RateLimit.MaxVerifiesPerIP > 0 && c.RateLimit.VerifyWindow <= 0 {
		return errors.New("RateLimit VerifyWindow must be > 0 when verification is throttled")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	if c.Security.ProductionMode {
		if c.Challenge.DebugLogCodes {
			return errors.New("ProductionMode forbids Challenge DebugLogCodes")
		}
		if c.Challenge.TTL > 15*time.Minute {
			return errors.New("ProductionMode requires Challenge TTL <= 15m")
		}
		if c.Challenge.MaxAttempts > 5 {
			return errors.New("ProductionMode requires Challenge MaxAttempts <= 5")
		}
		if len(c.Challenge.TokenSigningKey) < 32 {
			return errors.New("ProductionMode requires a 256-bit Challenge TokenSigningKey")
		}
		if c.RateLimit.MaxIssuesPerUser == 0 {
			return errors.New("ProductionMode requires issuance throttling")
		}
		if !strings.EqualFold(frontend.Scheme, "https") {
			return errors.New("ProductionMode requires an https FrontendURL")
		}
	}

	return nil
}

/*
====================================
LINT
====================================
*/

// LintWarning is an advisory finding that does not block Build.
type LintWarning struct {
	Code    string
	Message string
}

// LintWarnings is the ordered result of [Config.Lint].
type LintWarnings []LintWarning

// Codes returns the warning codes in order.
func (ws LintWarnings) Codes() []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Code)
	}
	return out
}

// Lint reports settings that are valid but probably unintended.
func (c *Config) Lint() LintWarnings {
	var ws LintWarnings

	if c.Challenge.DebugLogCodes {
		ws = append(ws, LintWarning{"debug_codes_enabled", "one-time codes are written to logs instead of being mailed"})
	}
	if len(c.Challenge.TokenSigningKey) == 0 {
		ws = append(ws, LintWarning{"challenge_token_unsigned", "challenge tokens are not integrity protected"})
	}
	if c.RateLimit.MaxIssuesPerUser == 0 && c.RateLimit.MaxIssuesPerIP == 0 {
		ws = append(ws, LintWarning{"issuance_unthrottled", "challenge issuance has no rate limit"})
	}
	if !c.RateLimit.EnableIPThrottle {
		ws = append(ws, LintWarning{"ip_throttle_disabled", "per-IP throttles are disabled"})
	}
	if c.Challenge.RecordRetention == 0 {
		ws = append(ws, LintWarning{"no_record_retention", "expired and used challenges will report not found"})
	}
	if c.Challenge.DeliveryTimeout > 30*time.Second {
		ws = append(ws, LintWarning{"delivery_timeout_long", "email delivery may hold requests for a long time"})
	}

	return ws
}
