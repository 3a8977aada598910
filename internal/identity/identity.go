// Package identity resolves the local user.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/matheus3301/wpprtc/internal/model"
)

// ErrNoIdentity is returned when neither a user id nor a usable token is
// configured.
var ErrNoIdentity = errors.New("identity: no user id configured and none in token")

// Claims are the token claims the coordination service issues. Deployments
// disagree on the user id claim name, so several are accepted.
type Claims struct {
	UserID    string `json:"userId,omitempty"`
	UserIDAlt string `json:"user_id,omitempty"`
	ID        string `json:"_id,omitempty"`
	Username  string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) subject() string {
	for _, v := range []string{c.UserID, c.UserIDAlt, c.ID, c.Subject} {
		if v != "" {
			return v
		}
	}
	return ""
}

// Token is what can be read from a bearer token without its signing key.
type Token struct {
	UserID    string
	Username  string
	ExpiresAt time.Time
}

// Expired reports whether the token carries an expiry before now.
func (t Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// ParseToken reads the claims of a bearer token. The signature is not
// verified: the client never holds the key, the service checks it on every
// request.
func ParseToken(raw string) (Token, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if raw == "" {
		return Token{}, errors.New("identity: empty token")
	}
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return Token{}, fmt.Errorf("identity: parse token: %w", err)
	}
	t := Token{UserID: claims.subject(), Username: claims.Username}
	if claims.ExpiresAt != nil {
		t.ExpiresAt = claims.ExpiresAt.Time
	}
	return t, nil
}

// Config is the [identity] section of a profile.
type Config struct {
	UserID         string
	Username       string
	ProfilePicture string
	Token          string
}

// Resolve returns the local user. A configured user id wins over the token.
func Resolve(cfg Config) (model.User, error) {
	u := model.User{ID: cfg.UserID, Username: cfg.Username, ProfilePicture: cfg.ProfilePicture}
	if u.ID != "" {
		return u, nil
	}
	if cfg.Token == "" {
		return model.User{}, ErrNoIdentity
	}
	t, err := ParseToken(cfg.Token)
	if err != nil {
		return model.User{}, err
	}
	if t.UserID == "" {
		return model.User{}, ErrNoIdentity
	}
	u.ID = t.UserID
	if u.Username == "" {
		u.Username = t.Username
	}
	return u, nil
}
