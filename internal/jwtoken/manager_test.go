package jwtoken

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func hsManager(t *testing.T, ttl time.Duration) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		AccessTTL: ttl,
		Method:    MethodHS256,
		Secret:    testSecret,
		Issuer:    "eis-api",
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestMintAndParse(t *testing.T) {
	m := hsManager(t, time.Minute)

	token, err := m.Mint("acc-1", "admin", "sess-1")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	claims, err := m.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.AccountID != "acc-1" || claims.Role != "admin" || claims.SessionID != "sess-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseRejectsForeignAlgorithm(t *testing.T) {
	m := hsManager(t, time.Minute)

	// A token signed with a different algorithm must be rejected even when
	// the claim set is otherwise well formed.
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	_ = pub

	foreign := jwt.NewWithClaims(jwt.SigningMethodEdDSA, Claims{
		AccountID: "acc-1",
		Role:      "admin",
		SessionID: "sess-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "eis-api",
		},
	})
	signed, err := foreign.SignedString(priv)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	if _, err := m.Parse(signed); err == nil {
		t.Fatal("expected algorithm rejection")
	}
}

func TestParseRejectsNoneAlgorithm(t *testing.T) {
	m := hsManager(t, time.Minute)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{AccountID: "acc-1"})
	signed, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	if _, err := m.Parse(signed); err == nil {
		t.Fatal("expected rejection of alg=none token")
	}
}

func TestParseRejectsExpired(t *testing.T) {
	m := hsManager(t, time.Minute)

	// Sign a token whose lifetime already elapsed, far beyond any leeway.
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		AccountID: "acc-1",
		Role:      "viewer",
		SessionID: "sess-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			Issuer:    "eis-api",
		},
	})
	signed, err := expired.SignedString(testSecret)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	if _, err := m.Parse(signed); err == nil {
		t.Fatal("expected expiry rejection")
	}
}

func TestParseRejectsTamperedToken(t *testing.T) {
	m := hsManager(t, time.Minute)

	token, err := m.Mint("acc-1", "viewer", "sess-1")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	tampered := token[:len(token)-2] + "xx"
	if _, err := m.Parse(tampered); err == nil {
		t.Fatal("expected signature rejection")
	}
}

func TestEd25519RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	m, err := NewManager(Config{
		AccessTTL:  time.Minute,
		Method:     MethodEd25519,
		PrivateKey: priv,
		PublicKey:  pub,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	token, err := m.Mint("acc-2", "editor", "sess-2")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	claims, err := m.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Role != "editor" {
		t.Fatalf("unexpected role: %s", claims.Role)
	}
}
