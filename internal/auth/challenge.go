package auth

import (
	"context"
	"crypto/hmac"
	crand "crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/authgate/apiserver/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultChallengeTTL bounds how long a sealed challenge can be answered.
const DefaultChallengeTTL = 5 * time.Minute

// Challenge is a human-verification prompt and the answer it expects.
type Challenge struct {
	Prompt string
	Answer string
}

// ChallengeGenerator produces addition challenges from a ChaCha8 stream
// seeded from crypto/rand. It is safe for concurrent use.
type ChallengeGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewChallengeGenerator() (*ChallengeGenerator, error) {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("seed challenge generator: %w", err)
	}
	return &ChallengeGenerator{rng: rand.New(rand.NewChaCha8(seed))}, nil
}

// Generate draws two operands in [1,9] and returns "a + b" with its sum.
func (g *ChallengeGenerator) Generate() Challenge {
	g.mu.Lock()
	a := g.rng.IntN(9) + 1
	b := g.rng.IntN(9) + 1
	g.mu.Unlock()

	return Challenge{
		Prompt: fmt.Sprintf("%d + %d", a, b),
		Answer: strconv.Itoa(a + b),
	}
}

// VerifyChallenge compares a submitted answer with the expected one issued
// alongside the prompt. An empty expected value never matches.
func VerifyChallenge(submitted, expected string) bool {
	submitted = strings.TrimSpace(submitted)
	expected = strings.TrimSpace(expected)
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(submitted), []byte(expected)) == 1
}

// ChallengeLedger records redeemed challenge nonces.
type ChallengeLedger interface {
	// Consume marks nonce as used until expiresAt. It reports false when
	// nonce was already used.
	Consume(ctx context.Context, nonce string, expiresAt types.Instant) (bool, error)
}

// ChallengeSealer round-trips a challenge through the client without
// revealing its answer. The sealed form is an HS256 JWT holding a nonce and
// an HMAC digest of nonce and answer. Signing and digest keys are derived
// from the secret separately.
type ChallengeSealer struct {
	signKey   []byte
	digestKey []byte
	ttl       time.Duration
	clock     Clock
	ledger    ChallengeLedger
}

type challengeClaims struct {
	Digest string `json:"digest"`
	jwt.RegisteredClaims
}

func NewChallengeSealer(secret []byte, ttl time.Duration, clock Clock) (*ChallengeSealer, error) {
	if len(secret) == 0 {
		return nil, errors.New("challenge secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	return &ChallengeSealer{
		signKey:   DeriveKey(secret, keyChallengeToken),
		digestKey: DeriveKey(secret, keyChallengeDigest),
		ttl:       ttl,
		clock:     clock,
	}, nil
}

// WithLedger makes Redeem accept each sealed challenge once.
func (s *ChallengeSealer) WithLedger(ledger ChallengeLedger) *ChallengeSealer {
	s.ledger = ledger
	return s
}

// Seal returns the token to hand to the client together with c.Prompt.
func (s *ChallengeSealer) Seal(c Challenge) (string, error) {
	now := s.clock.now().Time()
	nonce := uuid.NewString()
	claims := challengeClaims{
		Digest: s.digest(nonce, c.Answer),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        nonce,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signKey)
}

// Open returns the digest of the submitted answer and the digest sealed in
// token, ready for VerifyChallenge. A token that is expired, forged or
// malformed yields an empty expected value. Open does not consume the
// token; request handlers use Redeem.
func (s *ChallengeSealer) Open(token, answer string) (submitted string, expected string) {
	claims, ok := s.parse(token)
	if !ok {
		return "", ""
	}
	return s.digest(claims.ID, answer), claims.Digest
}

// Redeem is Open with single use. The nonce is consumed on the first
// submission whether or not the answer is right, and every later
// submission of the same token yields an empty expected value.
func (s *ChallengeSealer) Redeem(ctx context.Context, token, answer string) (submitted string, expected string, err error) {
	claims, ok := s.parse(token)
	if !ok {
		return "", "", nil
	}
	if s.ledger != nil {
		fresh, err := s.ledger.Consume(ctx, claims.ID, types.At(claims.ExpiresAt.Time))
		if err != nil {
			return "", "", fmt.Errorf("consume challenge: %w", err)
		}
		if !fresh {
			return "", "", nil
		}
	}
	return s.digest(claims.ID, answer), claims.Digest, nil
}

func (s *ChallengeSealer) parse(token string) (challengeClaims, bool) {
	claims := challengeClaims{}
	parsed, err := jwt.ParseWithClaims(
		strings.TrimSpace(token),
		&claims,
		func(*jwt.Token) (any, error) { return s.signKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return s.clock.now().Time() }),
	)
	if err != nil || !parsed.Valid || claims.ID == "" || claims.ExpiresAt == nil {
		return challengeClaims{}, false
	}
	return claims, true
}

func (s *ChallengeSealer) digest(nonce, answer string) string {
	mac := hmac.New(sha256.New, s.digestKey)
	mac.Write([]byte("challenge:" + nonce + ":" + strings.TrimSpace(answer)))
	return hex.EncodeToString(mac.Sum(nil))
}
