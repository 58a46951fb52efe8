package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tenantgate/internal/types"
)

// SessionClaims are issued by the identity service. Subject is the user id.
type SessionClaims struct {
	TenantID string `json:"tid"`
	jwt.RegisteredClaims
}

// SessionVerifier validates HS256 session tokens.
type SessionVerifier struct {
	key    []byte
	issuer string
	now    func() time.Time
}

func NewSessionVerifier(key types.SecretString, issuer string) *SessionVerifier {
	return &SessionVerifier{
		key:    []byte(key.Unmask()),
		issuer: issuer,
		now:    time.Now,
	}
}

// Verify returns the user actor of a valid token. Every failure is the same
// auth_session_invalid error.
func (v *SessionVerifier) Verify(token string) (types.Actor, error) {
	token = strings.TrimSpace(token)
	if token == "" || len(v.key) == 0 {
		return types.Actor{}, errInvalidSession(nil)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	}, opts...)
	if err != nil {
		return types.Actor{}, errInvalidSession(err)
	}
	if !parsed.Valid {
		return types.Actor{}, errInvalidSession(nil)
	}
	if claims.Subject == "" || claims.TenantID == "" {
		return types.Actor{}, errInvalidSession(errors.New("session lacks subject or tenant"))
	}

	return types.Actor{
		ID:       claims.Subject,
		Type:     types.ActorTypeUser,
		TenantID: claims.TenantID,
	}, nil
}

// Sign mints a token the verifier accepts. The identity service owns
// issuance in production; operators use this through tenantctl.
func (v *SessionVerifier) Sign(userID, tenantID string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := SessionClaims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.key)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return s, nil
}

func errInvalidSession(err error) error {
	return types.NewAppError(types.ErrCodeAuthSessionInvalid, "invalid or expired session", err)
}
