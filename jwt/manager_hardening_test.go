package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func accessClaims(exp time.Time) AccessClaims {
	return AccessClaims{
		UID: "u1",
		SID: "s1",
		Typ: TokenTypeAccess,
		RegisteredClaims: gjwt.RegisteredClaims{
			ExpiresAt: gjwt.NewNumericDate(exp),
			IssuedAt:  gjwt.NewNumericDate(time.Now()),
		},
	}
}

func TestCreateAndParseAccessRoundTrip(t *testing.T) {
	m, err := NewManager(Config{
		AccessTTL:     15 * time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Issuer:        "handshake",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	token, exp, err := m.CreateAccess(AccessRequest{UserID: "u1", TenantID: "7", SessionID: "s1", Role: "USER"}, time.Time{})
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if time.Until(exp) > 15*time.Minute || time.Until(exp) < 14*time.Minute {
		t.Fatalf("unexpected expiry %v", exp)
	}

	claims, err := m.ParseAccess(token)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.UID != "u1" || claims.SID != "s1" || claims.TID != "7" || claims.Role != "USER" || claims.Typ != TokenTypeAccess {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestCreateAccessCapsAtSessionExpiry(t *testing.T) {
	m, err := NewManager(Config{
		AccessTTL:     time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	notAfter := time.Now().Add(5 * time.Minute).Truncate(time.Second)
	_, exp, err := m.CreateAccess(AccessRequest{UserID: "u1", SessionID: "s1"}, notAfter)
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if !exp.Equal(notAfter) {
		t.Fatalf("expected expiry capped at %v, got %v", notAfter, exp)
	}

	if _, _, err := m.CreateAccess(AccessRequest{UserID: "u1"}, time.Time{}); !errors.Is(err, ErrMissingSubject) {
		t.Fatalf("expected ErrMissingSubject, got %v", err)
	}
}

func TestNewManagerRejectsWeakHMACKey(t *testing.T) {
	if _, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("short")}); err == nil {
		t.Fatal("expected short hs256 key to be rejected")
	}
}

func TestParseAccessRejectsWrongAlgorithm(t *testing.T) {
	pub, _ := newEdKeys(t)
	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, accessClaims(time.Now().Add(time.Minute)))
	token, err := tok.SignedString([]byte("secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
}

func TestParseAccessRejectsWrongType(t *testing.T) {
	_, priv := newEdKeys(t)
	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: priv.Public().(ed25519.PublicKey)})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := accessClaims(time.Now().Add(time.Minute))
	claims.Typ = "refresh"
	token, _ := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims).SignedString(priv)
	if _, err := m.ParseAccess(token); !errors.Is(err, ErrWrongTokenType) {
		t.Fatalf("expected ErrWrongTokenType, got %v", err)
	}

	claims = accessClaims(time.Now().Add(time.Minute))
	claims.ExpiresAt = nil
	token, _ = gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims).SignedString(priv)
	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("expected token without exp to be rejected")
	}
}

func TestParseAccessIssuerAudienceAndLeeway(t *testing.T) {
	_, priv := newEdKeys(t)
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     priv.Public().(ed25519.PublicKey),
		Issuer:        "handshake",
		Audience:      "api",
		Leeway:        30 * time.Second,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	access, _, err := m.CreateAccess(AccessRequest{UserID: "u", SessionID: "s1"}, time.Time{})
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if _, err := m.ParseAccess(access); err != nil {
		t.Fatalf("expected valid token to parse: %v", err)
	}

	sign := func(mutate func(*AccessClaims)) string {
		c := accessClaims(time.Now().Add(time.Minute))
		c.Issuer = "handshake"
		c.Audience = gjwt.ClaimStrings{"api"}
		mutate(&c)
		s, _ := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, c).SignedString(priv)
		return s
	}

	if _, err := m.ParseAccess(sign(func(c *AccessClaims) { c.Issuer = "other" })); err == nil {
		t.Fatal("expected wrong issuer to fail")
	}
	if _, err := m.ParseAccess(sign(func(c *AccessClaims) { c.Audience = gjwt.ClaimStrings{"other-api"} })); err == nil {
		t.Fatal("expected wrong audience to fail")
	}
	if _, err := m.ParseAccess(sign(func(c *AccessClaims) {
		c.ExpiresAt = gjwt.NewNumericDate(time.Now().Add(-15 * time.Second))
	})); err != nil {
		t.Fatalf("expected token within leeway to pass: %v", err)
	}
	if _, err := m.ParseAccess(sign(func(c *AccessClaims) {
		c.ExpiresAt = gjwt.NewNumericDate(time.Now().Add(-2 * time.Minute))
	})); err == nil {
		t.Fatal("expected expired token to fail")
	}
}

func TestParseAccessUnknownKidFails(t *testing.T) {
	pub1, priv1 := newEdKeys(t)
	pub2, _ := newEdKeys(t)
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv1,
		PublicKey:     pub1,
		KeyID:         "k1",
		VerifyKeys: map[string][]byte{
			"k1": pub1,
		},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := accessClaims(time.Now().Add(time.Minute))
	tok := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = "k2"
	token, err := tok.SignedString(priv1)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("expected unknown kid failure")
	}

	tok2 := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims)
	tok2.Header["kid"] = "k1"
	good, _ := tok2.SignedString(priv1)
	if _, err := m.ParseAccess(good); err != nil {
		t.Fatalf("expected known kid token to pass: %v", err)
	}

	m2, _ := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub2, VerifyKeys: map[string][]byte{"k2": pub2}})
	if _, err := m2.ParseAccess(good); err == nil {
		t.Fatal("expected parse failure with mismatched key set")
	}
}
