// Package auth verifies bearer tokens presented by API and WebSocket clients.
//
// Tokens are issued elsewhere; this package only checks them. [JWTVerifier]
// accepts HS256 tokens signed with the shared secret.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken is returned when no token was presented.
	ErrMissingToken = errors.New("missing token")

	// ErrInvalidToken is returned when a token fails verification.
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is the authenticated principal behind a token.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Authenticator verifies a raw token and returns its identity.
type Authenticator interface {
	Verify(token string) (Identity, error)
}

// Claims is the token payload. UserID falls back to the subject claim.
type Claims struct {
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HS256 tokens.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTVerifier creates a verifier for tokens signed with secret.
func NewJWTVerifier(secret string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &JWTVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()),
	}, nil
}

// Verify parses token and checks its signature and expiry.
func (v *JWTVerifier) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	claims := &Claims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}

	id := Identity{UserID: claims.UserID, Username: claims.Username, Role: claims.Role}
	if id.UserID == "" {
		id.UserID = claims.Subject
	}
	if id.UserID == "" {
		return Identity{}, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	return id, nil
}

// TokenFromRequest extracts a bearer token from the Authorization header,
// falling back to the "token" query parameter that browser WebSocket
// clients have to use.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
