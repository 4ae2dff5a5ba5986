// Package auth issues and verifies the bearer tokens the API accepts.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RealtimeAudience is the audience of tokens accepted by the realtime channel.
const RealtimeAudience = "realtime"

var ErrInvalidToken = errors.New("invalid token")

// Tokens signs HS256 tokens. Access tokens and realtime tokens use separate
// secrets so neither can stand in for the other.
type Tokens struct {
	accessSecret   []byte
	realtimeSecret []byte
	issuer         string
	realtimeTTL    time.Duration
	now            func() time.Time
}

// NewTokens builds a token service.
func NewTokens(accessSecret, realtimeSecret, issuer string, realtimeTTL time.Duration) (*Tokens, error) {
	if accessSecret == "" || realtimeSecret == "" {
		return nil, errors.New("token secrets are required")
	}
	if accessSecret == realtimeSecret {
		return nil, errors.New("access and realtime secrets must differ")
	}
	if realtimeTTL <= 0 {
		realtimeTTL = 5 * time.Minute
	}
	return &Tokens{
		accessSecret:   []byte(accessSecret),
		realtimeSecret: []byte(realtimeSecret),
		issuer:         issuer,
		realtimeTTL:    realtimeTTL,
		now:            time.Now,
	}, nil
}

// IssueAccess signs an access token for uid.
func (t *Tokens) IssueAccess(uid string, ttl time.Duration) (string, error) {
	return t.sign(uid, nil, ttl, t.accessSecret)
}

// VerifyAccess returns the subject of a valid access token.
func (t *Tokens) VerifyAccess(token string) (string, error) {
	return t.verify(token, t.accessSecret, "")
}

// IssueRealtime signs a short-lived token for the realtime channel and returns
// it with its lifetime.
func (t *Tokens) IssueRealtime(uid string) (string, time.Duration, error) {
	token, err := t.sign(uid, jwt.ClaimStrings{RealtimeAudience}, t.realtimeTTL, t.realtimeSecret)
	return token, t.realtimeTTL, err
}

// VerifyRealtime returns the subject of a valid realtime token.
func (t *Tokens) VerifyRealtime(token string) (string, error) {
	return t.verify(token, t.realtimeSecret, RealtimeAudience)
}

func (t *Tokens) sign(uid string, audience jwt.ClaimStrings, ttl time.Duration, secret []byte) (string, error) {
	if uid == "" {
		return "", errors.New("subject is required")
	}
	now := t.now()
	claims := jwt.RegisteredClaims{
		Subject:   uid,
		Issuer:    t.issuer,
		Audience:  audience,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (t *Tokens) verify(token string, secret []byte, audience string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}
