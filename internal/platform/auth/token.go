package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/healthlock/healthlock/internal/platform/apperr"
)

const (
	ScopeSession    = "auth"
	ScopeRecordRead = "record:read"

	DefaultSessionTTL     = 30 * 24 * time.Hour
	DefaultRecordTokenTTL = 10 * time.Minute
)

// TokenClaims is the payload of both session and record tokens. Role is empty
// on record tokens.
type TokenClaims struct {
	jwt.RegisteredClaims
	Role  Role   `json:"role,omitempty"`
	Scope string `json:"scope"`
}

// IssuedSession is a freshly signed session token. Persistent tells the
// transport whether the cookie should outlive the browser session; it never
// affects the token's own expiry.
type IssuedSession struct {
	Token      string
	ExpiresAt  time.Time
	Persistent bool
}

// Session is a verified session token.
type Session struct {
	AccountID string
	Role      Role
	ExpiresAt time.Time
}

// TokenService signs and verifies HS256 tokens with a single secret.
type TokenService struct {
	key        []byte
	sessionTTL time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

type TokenOption func(*TokenService)

// WithClock overrides the time source used for issuing and verifying.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) { s.now = now }
}

func WithSessionTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

func WithLogger(logger zerolog.Logger) TokenOption {
	return func(s *TokenService) { s.logger = logger }
}

// NewTokenService returns an error when key is empty so a missing secret is
// caught at startup.
func NewTokenService(key []byte, opts ...TokenOption) (*TokenService, error) {
	if len(key) == 0 {
		return nil, errors.New("token signing key is required")
	}
	s := &TokenService{
		key:        key,
		sessionTTL: DefaultSessionTTL,
		now:        time.Now,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IssueSession signs a session token for an account. The expiry claim is the
// same whether or not rememberMe is set.
func (s *TokenService) IssueSession(accountID string, role Role, rememberMe bool) (*IssuedSession, error) {
	if accountID == "" {
		return nil, errors.New("account id is required")
	}
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}

	now := s.now()
	exp := now.Add(s.sessionTTL)
	token, err := s.sign(TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Role:  role,
		Scope: ScopeSession,
	})
	if err != nil {
		return nil, err
	}
	return &IssuedSession{Token: token, ExpiresAt: exp, Persistent: rememberMe}, nil
}

// VerifySession returns the session carried by token, or false on any
// failure. Failures are logged, never returned.
func (s *TokenService) VerifySession(token string) (*Session, bool) {
	if token == "" {
		return nil, false
	}
	claims, err := s.parse(token)
	if err != nil {
		s.logger.Debug().Err(err).Msg("session token rejected")
		return nil, false
	}
	if claims.Scope != ScopeSession {
		s.logger.Debug().Str("scope", claims.Scope).Msg("session token has wrong scope")
		return nil, false
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		s.logger.Debug().Str("role", string(claims.Role)).Msg("session token has no usable identity")
		return nil, false
	}
	return &Session{
		AccountID: claims.Subject,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	}, true
}

// IssueRecordToken signs a record:read token whose subject is recordID.
func (s *TokenService) IssueRecordToken(recordID string, ttl time.Duration) (string, time.Time, error) {
	if recordID == "" {
		return "", time.Time{}, errors.New("record id is required")
	}
	if ttl <= 0 {
		ttl = DefaultRecordTokenTTL
	}

	now := s.now()
	exp := now.Add(ttl)
	token, err := s.sign(TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   recordID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Scope: ScopeRecordRead,
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// VerifyRecordToken checks, in order, signature and expiry, then scope, then
// that the subject equals expectedRecordID. Each failure has its own kind.
func (s *TokenService) VerifyRecordToken(token, expectedRecordID string) (*TokenClaims, error) {
	claims, err := s.parse(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.Wrap(apperr.KindTokenExpired, "Access token has expired", err)
		}
		return nil, apperr.Wrap(apperr.KindInvalidToken, "Invalid access token", err)
	}
	if claims.Scope != ScopeRecordRead {
		return nil, apperr.New(apperr.KindWrongScope, "Access token has the wrong scope")
	}
	if claims.Subject != expectedRecordID {
		return nil, apperr.New(apperr.KindRecordMismatch, "Access token does not match this record")
	}
	return claims, nil
}

func (s *TokenService) sign(claims TokenClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s *TokenService) parse(tokenStr string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token is not valid")
	}
	return claims, nil
}
