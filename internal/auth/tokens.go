package auth

import (
	"fmt"
	"time"

	"github.com/caseledger/custody-server/internal/apperr"
	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "custody-server"

// Tokens issues and checks HS256 bearer tokens. The token id (jti) is the
// session id, so deleting the session revokes the token.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens creates a token issuer.
func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Claims is what a verified token asserts.
type Claims struct {
	UserID    string
	SessionID string
	ExpiresAt time.Time
}

// Issue signs a token for userID bound to sid.
func (t *Tokens) Issue(userID, sid string) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   userID,
		ID:        sid,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies signature, algorithm, issuer and expiry.
func (t *Tokens) Parse(raw string) (*Claims, error) {
	var rc jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(raw, &rc, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !token.Valid {
		return nil, apperr.ErrUnauthorized.WithMessage("invalid or expired token")
	}
	if rc.Subject == "" || rc.ID == "" {
		return nil, apperr.ErrUnauthorized.WithMessage("invalid or expired token")
	}
	return &Claims{UserID: rc.Subject, SessionID: rc.ID, ExpiresAt: rc.ExpiresAt.Time}, nil
}
