package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role identifies what kind of subject a token was issued to.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleDevice Role = "device"

	tokenIssuer = "device-relay"
)

// ErrInvalidToken covers every verification failure.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the payload carried by relay tokens.
type Claims struct {
	Role     Role   `json:"role"`
	DeviceID string `json:"device_id,omitempty"`
	jwt.RegisteredClaims
}

// SubjectID returns the subject the token was issued for.
func (c *Claims) SubjectID() string {
	return c.Subject
}

// TokenService issues and verifies HS256 tokens with a shared secret.
// There is no revocation list: a refreshed token leaves the old one valid
// until it expires.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService creates a token service. A non-positive ttl defaults to 24h.
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenService{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock replaces the time source, used in tests.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	s.now = now
	return s
}

// IssueToken signs a token for the subject. deviceID may be empty.
func (s *TokenService) IssueToken(subjectID string, role Role, deviceID string) (string, error) {
	if subjectID == "" {
		return "", errors.New("subject id is required")
	}
	if role != RoleAdmin && role != RoleDevice {
		return "", fmt.Errorf("unknown role %q", role)
	}

	issuedAt := s.now()
	claims := Claims{
		Role:     role,
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken returns the claims of a valid token. Any failure yields
// ErrInvalidToken and nil claims.
func (s *TokenService) VerifyToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || (claims.Role != RoleAdmin && claims.Role != RoleDevice) {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

// IsExpired reports whether the token is expired or otherwise unusable.
func (s *TokenService) IsExpired(tokenString string) bool {
	_, err := s.VerifyToken(tokenString)
	return err != nil
}

// RefreshIfNearExpiry issues a new token for the same subject when fewer
// than threshold remains. A token with more time left is returned unchanged;
// an invalid token yields ErrInvalidToken.
func (s *TokenService) RefreshIfNearExpiry(tokenString string, threshold time.Duration) (string, error) {
	claims, err := s.VerifyToken(tokenString)
	if err != nil {
		return "", err
	}
	if claims.ExpiresAt.Time.Sub(s.now()) > threshold {
		return tokenString, nil
	}
	return s.IssueToken(claims.Subject, claims.Role, claims.DeviceID)
}
