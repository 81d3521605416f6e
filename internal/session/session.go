// Package session carries the client's own connection identity.
//
// The session token is supplied by the surrounding environment (flags,
// config, or the page that launched the client) and passed explicitly into
// the selectors and the mutation coordinator.
package session

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Session identifies this client within a retro.
type Session struct {
	// Token is this client's presence token.
	Token string

	// UserID is the signed-in user, when the token reveals it. Zero if unknown.
	UserID int64

	// RetroID is the retro this session belongs to.
	RetroID string
}

// New builds a session for token. When token is a JWT whose "sub" or
// "user_id" claim is an integer, UserID is filled from it.
//
// The claims are read without verifying the signature: the server verifies
// the token on join, the client only uses it to label its own presence.
func New(token, retroID string) Session {
	s := Session{Token: strings.TrimSpace(token), RetroID: strings.TrimSpace(retroID)}
	if id, err := UserIDFromToken(s.Token); err == nil {
		s.UserID = id
	}
	return s
}

// UserIDFromToken extracts the user id from an (unverified) JWT.
func UserIDFromToken(token string) (int64, error) {
	if strings.Count(token, ".") != 2 {
		return 0, fmt.Errorf("token is not a JWT")
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0, fmt.Errorf("parse token claims: %w", err)
	}

	for _, key := range []string{"user_id", "sub"} {
		switch v := claims[key].(type) {
		case float64:
			return int64(v), nil
		case string:
			if id, err := strconv.ParseInt(v, 10, 64); err == nil {
				return id, nil
			}
		}
	}
	return 0, fmt.Errorf("token carries no integer user_id or sub claim")
}

// Valid reports whether the session has a token.
func (s Session) Valid() bool {
	return s.Token != ""
}

// Topic returns the channel topic for the session's retro.
func (s Session) Topic() string {
	return "retro:" + s.RetroID
}
