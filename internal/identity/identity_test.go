package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/homefix/messenger/internal/apperr"
)

// signToken builds an HS256 token over claims. The key is irrelevant to
// Decode, which never verifies signatures.
func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestDecode_AllClaims(t *testing.T) {
	tok := signToken(t, jwt.MapClaims{
		"sub":     "jane@example.com",
		"role":    "homeowner",
		"user_id": "u-42",
	})

	id, err := Decode(tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Email != "jane@example.com" {
		t.Errorf("expected email from sub claim, got %q", id.Email)
	}
	if id.Role != "homeowner" {
		t.Errorf("expected role homeowner, got %q", id.Role)
	}
	if id.UserID != "u-42" {
		t.Errorf("expected user id u-42, got %q", id.UserID)
	}
	if id.Token != tok {
		t.Error("expected identity to carry the raw token")
	}
}

func TestDecode_MissingOptionalClaims(t *testing.T) {
	tok := signToken(t, jwt.MapClaims{"sub": "pro@example.com"})

	id, err := Decode(tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Role != "" || id.UserID != "" {
		t.Errorf("expected empty role and user id, got role=%q user_id=%q", id.Role, id.UserID)
	}
}

func TestDecode_UserIDFallbacks(t *testing.T) {
	cases := []struct {
		name   string
		claims jwt.MapClaims
		want   string
	}{
		{"camel case", jwt.MapClaims{"sub": "a@b.c", "userId": "camel"}, "camel"},
		{"plain id", jwt.MapClaims{"sub": "a@b.c", "id": "plain"}, "plain"},
		{"numeric id", jwt.MapClaims{"sub": "a@b.c", "user_id": 17}, "17"},
		{"precedence", jwt.MapClaims{"sub": "a@b.c", "user_id": "first", "id": "last"}, "first"},
		{"non string", jwt.MapClaims{"sub": "a@b.c", "user_id": true}, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := Decode(signToken(t, tc.claims))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id.UserID != tc.want {
				t.Errorf("expected user id %q, got %q", tc.want, id.UserID)
			}
		})
	}
}

func TestDecode_IgnoresExpiryAndSignature(t *testing.T) {
	tok := signToken(t, jwt.MapClaims{
		"sub": "old@example.com",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	// Corrupt the signature segment.
	tok = tok[:len(tok)-4] + "AAAA"

	id, err := Decode(tok)
	if err != nil {
		t.Fatalf("expired/mis-signed token should still decode: %v", err)
	}
	if id.Email != "old@example.com" {
		t.Errorf("unexpected email %q", id.Email)
	}
}

func TestDecode_BearerPrefix(t *testing.T) {
	tok := signToken(t, jwt.MapClaims{"sub": "x@y.z"})
	id, err := Decode("Bearer " + tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Token != tok {
		t.Error("expected prefix stripped from stored token")
	}
}

func TestDecode_Invalid(t *testing.T) {
	inputs := []string{
		"",
		"not-a-token",
		"a.b.c",
		"eyJhbGciOiJIUzI1NiJ9.bm90LWpzb24.sig",
	}
	for _, in := range inputs {
		id, err := Decode(in)
		if id != nil {
			t.Errorf("%q: expected nil identity", in)
		}
		if !apperr.Is(err, apperr.CodeInvalidToken) {
			t.Errorf("%q: expected INVALID_TOKEN, got %v", in, err)
		}
	}
}

func TestDecode_MissingSubject(t *testing.T) {
	tok := signToken(t, jwt.MapClaims{"role": "admin"})
	if _, err := Decode(tok); !apperr.Is(err, apperr.CodeInvalidToken) {
		t.Fatalf("expected INVALID_TOKEN for missing sub, got %v", err)
	}
}

func TestResolve_NeverPanics(t *testing.T) {
	for _, in := range []string{"", "...", "x.y", "\x00\xff"} {
		if id := Resolve(in); id != nil {
			t.Errorf("%q: expected nil, got %+v", in, id)
		}
	}

	tok := signToken(t, jwt.MapClaims{"sub": "ok@example.com"})
	if id := Resolve(tok); id == nil || id.Email != "ok@example.com" {
		t.Errorf("expected resolved identity, got %+v", id)
	}
}
