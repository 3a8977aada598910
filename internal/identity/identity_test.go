package identity

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func sign(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server-only"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestResolveFromToken(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := sign(t, &Claims{
		UserID:           "u-42",
		Username:         "ana",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)},
	})

	u, err := Resolve(Config{Token: token})
	if err != nil {
		t.Fatal(err)
	}
	if u.ID != "u-42" || u.Username != "ana" {
		t.Errorf("user = %+v", u)
	}

	tok, err := ParseToken("Bearer " + token)
	if err != nil {
		t.Fatal(err)
	}
	if !tok.ExpiresAt.Equal(exp) || tok.Expired(time.Now()) {
		t.Errorf("token = %+v", tok)
	}
}

func TestAlternateClaimNames(t *testing.T) {
	for name, claims := range map[string]*Claims{
		"user_id": {UserIDAlt: "a"},
		"_id":     {ID: "a"},
		"sub":     {RegisteredClaims: jwt.RegisteredClaims{Subject: "a"}},
	} {
		tok, err := ParseToken(sign(t, claims))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if tok.UserID != "a" {
			t.Errorf("%s: user id = %q", name, tok.UserID)
		}
	}
}

func TestConfiguredIDWins(t *testing.T) {
	u, err := Resolve(Config{UserID: "cfg", Username: "Me", Token: "not-a-jwt"})
	if err != nil {
		t.Fatal(err)
	}
	if u.ID != "cfg" {
		t.Errorf("user = %+v", u)
	}
}

func TestResolveErrors(t *testing.T) {
	if _, err := Resolve(Config{}); !errors.Is(err, ErrNoIdentity) {
		t.Errorf("empty config = %v", err)
	}
	if _, err := Resolve(Config{Token: "garbage"}); err == nil {
		t.Error("garbage token accepted")
	}
	if _, err := Resolve(Config{Token: sign(t, &Claims{Username: "x"})}); !errors.Is(err, ErrNoIdentity) {
		t.Errorf("token without id = %v", err)
	}
}
