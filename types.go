package handshake

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/MrEthical07/handshake/internal/audit"
	"go.uber.org/zap"
)

// Role names understood by the landing-path policy.
const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

// ExternalIdentity is what an identity provider vouches for. It is never
// mutated after the handshake produced it.
type ExternalIdentity struct {
	Provider          string
	ProviderSubjectID string
	Email             string
	EmailVerified     bool
	DisplayName       string
}

// UserProfile is the local user as owned by the directory. The engine
// reads Role and OnboardingCompletedAt to pick a landing path.
type UserProfile struct {
	UserID                string
	Email                 string
	DisplayName           string
	Role                  string
	OnboardingCompletedAt *time.Time
}

// Onboarded reports whether the user finished onboarding.
func (p UserProfile) Onboarded() bool {
	return p.OnboardingCompletedAt != nil && !p.OnboardingCompletedAt.IsZero()
}

// SessionGrant is the outcome of a successful verification.
type SessionGrant struct {
	UserID       string
	TenantID     string
	SessionID    string
	AccessToken  string
	ExpiresAt    time.Time
	RedirectPath string
	RedirectURL  string
}

// IdentityDirectory is the capability the resource layer exposes to the
// login core.
type IdentityDirectory interface {
	// ResolveOrCreate returns the user bound to identity, provisioning one if
	// none exists. Concurrent calls for the same (provider, subject) must
	// resolve to the same user.
	ResolveOrCreate(ctx context.Context, identity ExternalIdentity) (UserProfile, error)
	GetUser(ctx context.Context, userID string) (UserProfile, error)
}

// SessionIssuer creates the durable session once a challenge is verified.
// The engine calls it at most once per verified challenge.
type SessionIssuer interface {
	IssueSession(ctx context.Context, profile UserProfile) (SessionGrant, error)
}

// Message is one rendered notification.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Notifier delivers messages through an external channel such as email.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// CodeRenderer renders the challenge email. The plaintext code only ever
// reaches the renderer and the notifier.
type CodeRenderer interface {
	Render(data CodeEmail) (Message, error)
}

// CodeEmail carries the values available to a [CodeRenderer].
type CodeEmail struct {
	To          string
	DisplayName string
	Code        string
	ExpiresIn   time.Duration
	Subject     string
}

// HandshakeStart is returned by [Engine.BeginHandshake].
type HandshakeStart struct {
	AuthURL   string
	State     string
	ExpiresAt time.Time
}

// CallbackParams are the query parameters of a provider callback plus the
// state bound to the browser when the handshake began.
type CallbackParams struct {
	Provider         string
	State            string
	BoundState       string
	Code             string
	Error            string
	ErrorDescription string
}

// HandshakeResult is returned by [Engine.CompleteHandshake].
type HandshakeResult struct {
	Identity   ExternalIdentity
	Profile    UserProfile
	TenantID   string
	ReturnHint string
}

// ChallengeTicket is the external handle of an issued challenge.
type ChallengeTicket struct {
	Token     string
	ExpiresAt time.Time
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer], one per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// ZapSink is an [AuditSink] that logs events through zap.
type ZapSink = internalaudit.ZapSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewZapSink creates a [ZapSink] on a named child of logger.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return internalaudit.NewZapSink(logger)
}
