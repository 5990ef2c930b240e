package httputil

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/larder/larder-backend/pkg/actor"
	"github.com/larder/larder-backend/pkg/errors"
)

// Claims are the access token claims this service reads. Tokens are
// issued by the identity service.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

// TokenVerifier checks HS256 access tokens.
type TokenVerifier struct {
	secret []byte
	issuer string
}

// NewTokenVerifier returns nil when no secret is configured, which turns
// token verification off.
func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	if secret == "" {
		return nil
	}
	return &TokenVerifier{secret: []byte(secret), issuer: issuer}
}

// Verify validates a token and returns the actor it names.
func (v *TokenVerifier) Verify(tokenString string) (*actor.Actor, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.Unauthorized("token expired")
		}
		return nil, errors.TokenInvalid()
	}
	if !token.Valid {
		return nil, errors.TokenInvalid()
	}

	id := claims.UserID
	if id == "" {
		id = claims.Subject
	}
	if id == "" {
		return nil, errors.TokenInvalid()
	}

	return &actor.Actor{ID: id, Name: claims.Name, Role: claims.Role}, nil
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
