package authtoken

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pkt.systems/booksden/internal/clock"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newService(t *testing.T, secret string, clk clock.Clock) *Service {
	t.Helper()
	svc, err := New(Config{Secret: StaticSecret(secret), Clock: clk})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestIssueThenVerify(t *testing.T) {
	clk := clock.NewManual(epoch)
	svc := newService(t, "s3cret", clk)
	token, err := svc.Issue("a@x.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	id, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.Email != "a@x.com" {
		t.Fatalf("unexpected email %q", id.Email)
	}
	if !id.IssuedAt.Equal(epoch) {
		t.Fatalf("unexpected iat %v", id.IssuedAt)
	}
	if !id.ExpiresAt.Equal(epoch.Add(DefaultTTL)) {
		t.Fatalf("unexpected exp %v", id.ExpiresAt)
	}
}

func TestVerifyExpiry(t *testing.T) {
	clk := clock.NewManual(epoch)
	svc := newService(t, "s3cret", clk)
	token, err := svc.Issue("a@x.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	clk.Advance(23 * time.Hour)
	if _, err := svc.Verify(token); err != nil {
		t.Fatalf("expected token valid before exp, got %v", err)
	}
	clk.Advance(time.Hour + time.Second)
	_, err = svc.Verify(token)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if errors.Is(err, ErrInvalid) {
		t.Fatalf("expiry must be distinct from invalid: %v", err)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	clk := clock.NewManual(epoch)
	svc := newService(t, "s3cret", clk)
	token, err := svc.Issue("a@x.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape %q", token)
	}
	forged, err := newService(t, "s3cret", clk).Issue("b@x.com")
	if err != nil {
		t.Fatalf("issue forged: %v", err)
	}
	swapped := strings.Split(forged, ".")[1]
	cases := map[string]string{
		"payload swapped": parts[0] + "." + swapped + "." + parts[2],
		"signature cut":   parts[0] + "." + parts[1] + ".",
		"garbage":         "not-a-token",
		"empty":           "",
	}
	for name, tok := range cases {
		if _, err := svc.Verify(tok); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", name, err)
		}
	}
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	clk := clock.NewManual(epoch)
	foreign, err := newService(t, "other", clk).Issue("a@x.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := newService(t, "s3cret", clk).Verify(foreign); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestVerifyRejectsOtherAlgorithms(t *testing.T) {
	clk := clock.NewManual(epoch)
	claims := Claims{
		Email: "a@x.com",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(epoch),
			ExpiresAt: jwt.NewNumericDate(epoch.Add(time.Hour)),
		},
	}
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("s3cret"))
	if err != nil {
		t.Fatalf("sign hs512: %v", err)
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	svc := newService(t, "s3cret", clk)
	for _, tok := range []string{hs512, none} {
		if _, err := svc.Verify(tok); !errors.Is(err, ErrInvalid) {
			t.Fatalf("expected ErrInvalid, got %v", err)
		}
	}
}

func TestVerifyRequiresIdentityAndExpiry(t *testing.T) {
	clk := clock.NewManual(epoch)
	svc := newService(t, "s3cret", clk)
	noEmail, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(epoch.Add(time.Hour))},
	}).SignedString([]byte("s3cret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Email: "a@x.com"}).SignedString([]byte("s3cret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	for name, tok := range map[string]string{"no email": noEmail, "no exp": noExp} {
		if _, err := svc.Verify(tok); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", name, err)
		}
	}
}

func TestIssueRequiresEmail(t *testing.T) {
	svc := newService(t, "s3cret", clock.NewManual(epoch))
	if _, err := svc.Issue("  "); !errors.Is(err, ErrMissingIdentity) {
		t.Fatalf("expected ErrMissingIdentity, got %v", err)
	}
}

func TestNewRejectsEmptySecret(t *testing.T) {
	if _, err := New(Config{Secret: StaticSecret("")}); !errors.Is(err, ErrEmptySecret) {
		t.Fatalf("expected ErrEmptySecret, got %v", err)
	}
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without secret source")
	}
}

func TestCustomTTL(t *testing.T) {
	clk := clock.NewManual(epoch)
	svc, err := New(Config{Secret: StaticSecret("k"), Clock: clk, TTL: time.Minute})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	token, err := svc.Issue("a@x.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	clk.Advance(2 * time.Minute)
	if _, err := svc.Verify(token); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}
