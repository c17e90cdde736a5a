package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mowesport/mowe/internal/roles"
	"github.com/mowesport/mowe/internal/session"
)

const accessType = "access"

var (
	// ErrInvalid covers malformed, expired and wrongly signed tokens.
	ErrInvalid = errors.New("token: invalid")
	// ErrWrongType indicates a token that is not an access token.
	ErrWrongType = errors.New("token: not an access token")
)

// Claims is the access-token payload.
type Claims struct {
	UserID      string       `json:"user_id"`
	Email       string       `json:"email"`
	PrimaryRole roles.Role   `json:"primary_role"`
	Status      roles.Status `json:"account_status"`
	Type        string       `json:"type"`
	jwt.RegisteredClaims
}

// Codec issues and verifies HMAC-signed access tokens.
type Codec struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewCodec constructs a Codec.
func NewCodec(secret string, ttl time.Duration, issuer string) *Codec {
	return &Codec{secret: []byte(secret), ttl: ttl, issuer: issuer, now: time.Now}
}

// Issue signs an access token for profile.
func (c *Codec) Issue(profile session.Profile) (string, error) {
	if err := profile.Validate(); err != nil {
		return "", err
	}
	now := c.now().UTC()
	claims := Claims{
		UserID:      profile.ID,
		Email:       profile.Email,
		PrimaryRole: profile.Role,
		Status:      profile.Status,
		Type:        accessType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   profile.ID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(c.secret)
}

// Parse verifies the signature, expiry and token type.
func (c *Codec) Parse(raw string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalid
	}
	if claims.Type != accessType {
		return nil, ErrWrongType
	}
	return claims, nil
}

// Validate implements session.TokenValidator.
func (c *Codec) Validate(raw string) error {
	_, err := c.Parse(raw)
	return err
}

// Profile rebuilds the identity carried by a token.
func (c *Claims) Profile() session.Profile {
	return session.Profile{
		ID:     c.UserID,
		Email:  c.Email,
		Role:   c.PrimaryRole,
		Status: c.Status,
	}
}

var _ session.TokenValidator = (*Codec)(nil)
