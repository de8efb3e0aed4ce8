package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/authgate/apiserver/types"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the lifetime of a session token.
const DefaultTokenTTL = time.Hour

// Claims is the signed payload of a session token:
// {user_id, role, exp, iat}.
type Claims struct {
	UserID string     `json:"user_id"`
	Role   types.Role `json:"role"`
	jwt.RegisteredClaims
}

// Validate checks the application claims. jwt calls it after the
// registered-claim checks.
func (c Claims) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return errors.New("missing user_id")
	}
	if !c.Role.Valid() {
		return errors.New("unknown role")
	}
	if c.IssuedAt == nil {
		return errors.New("missing iat")
	}
	return nil
}

// IssuedAtInstant returns iat as an Instant.
func (c Claims) IssuedAtInstant() types.Instant {
	if c.IssuedAt == nil {
		return types.Instant{}
	}
	return types.At(c.IssuedAt.Time)
}

// ExpiresAtInstant returns exp as an Instant.
func (c Claims) ExpiresAtInstant() types.Instant {
	if c.ExpiresAt == nil {
		return types.Instant{}
	}
	return types.At(c.ExpiresAt.Time)
}

// Token is an issued session token with the claims it carries.
type Token struct {
	Value  string
	Claims Claims
}

// TokenService issues and verifies HS256 session tokens. The secret is
// fixed for the life of the service; replacing it invalidates every token
// issued before. Tokens cannot be revoked before they expire.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	clock  Clock
}

func NewTokenService(secret []byte, ttl time.Duration, clock Clock) (*TokenService, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{secret: secret, ttl: ttl, clock: clock}, nil
}

// TTL returns the lifetime given to issued tokens.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token for subjectID with the given role.
func (s *TokenService) Issue(subjectID string, role types.Role) (Token, error) {
	now := s.clock.now()
	claims := Claims{
		UserID: subjectID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now.Time()),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl).Time()),
		},
	}
	if err := claims.Validate(); err != nil {
		return Token{}, err
	}

	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, err
	}
	return Token{Value: value, Claims: claims}, nil
}

// Verify checks signature, expiry and claim structure of value.
// Failures are ErrTokenSignatureInvalid, ErrTokenExpired or
// ErrTokenMalformed.
func (s *TokenService) Verify(value string) (Claims, error) {
	claims := Claims{}
	token, err := jwt.ParseWithClaims(
		strings.TrimSpace(value),
		&claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return s.clock.now().Time() }),
	)
	if err != nil {
		return Claims{}, classifyTokenError(err)
	}
	if !token.Valid {
		return Claims{}, ErrTokenMalformed
	}
	return claims, nil
}

func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrTokenSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return ErrTokenMalformed
	}
}
