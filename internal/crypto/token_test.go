package crypto

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/eldtechnologies/deskchat/internal/models"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestTokenRoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer(testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	token, issued, err := issuer.Issue("u1", "alex", models.RoleAgent)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := issuer.Parse(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != "u1" || claims.Role != models.RoleAgent || claims.ID != issued.ID {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestTokenRejectsTampering(t *testing.T) {
	issuer, _ := NewTokenIssuer(testSecret, time.Hour)
	other, _ := NewTokenIssuer(strings.Repeat("x", 32), time.Hour)

	token, _, _ := other.Issue("u1", "alex", models.RoleSuperAgent)
	if _, err := issuer.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := issuer.Parse("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	issuer, _ := NewTokenIssuer(testSecret, -time.Minute)
	token, _, err := issuer.Issue("u1", "alex", models.RoleCustomer)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := issuer.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestWeakSecret(t *testing.T) {
	if _, err := NewTokenIssuer("short", time.Hour); !errors.Is(err, ErrWeakSecret) {
		t.Fatalf("expected ErrWeakSecret, got %v", err)
	}
}

func TestIDs(t *testing.T) {
	if !ValidID(NewID()) {
		t.Fatal("NewID should produce a UUID")
	}
	a, b := NewMessageID(), NewMessageID()
	if a >= b {
		t.Fatalf("message ids should increase: %s %s", a, b)
	}
}
