package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidSession is returned for any unparsable, unsigned, or expired
// session token.
var ErrInvalidSession = errors.New("auth: invalid session token")

// sessionClaims is the minimal claim set the external auth provider's
// session cookie is expected to carry: the subject is the catalog user ID.
type sessionClaims struct {
	jwt.RegisteredClaims
}

// SessionVerifier validates HMAC-signed session cookies issued by the
// external auth provider. The gateway never issues tokens, it only verifies.
type SessionVerifier struct {
	secret []byte
}

// NewSessionVerifier builds a verifier for HS256-signed session tokens.
func NewSessionVerifier(secret []byte) *SessionVerifier {
	return &SessionVerifier{secret: secret}
}

// Verify parses and validates tokenString, returning the embedded user ID.
func (v *SessionVerifier) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &sessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", ErrInvalidSession
	}

	claims, ok := token.Claims.(*sessionClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", ErrInvalidSession
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return "", ErrInvalidSession
	}

	return claims.Subject, nil
}
