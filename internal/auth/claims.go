package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Role is the marketplace role carried in the access token
type Role string

const (
	RoleFarmer  Role = "FARMER"
	RoleBuyer   Role = "BUYER"
	RoleAdmin   Role = "ADMIN"
	RoleAuditor Role = "AUDITOR"
)

// Claims are the access token claims issued by the identity service
type Claims struct {
	UserID uuid.UUID `json:"uid"`
	Email  string    `json:"email,omitempty"`
	Role   Role      `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 access tokens
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier creates a verifier for tokens signed with secret
func NewVerifier(secret, issuer string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Verifier{secret: []byte(secret), issuer: issuer}, nil
}

// Verify parses and validates a raw token
func (v *Verifier) Verify(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if claims.UserID == uuid.Nil {
		return nil, errors.New("invalid token: missing user id")
	}
	return claims, nil
}

// Issue signs a token for userID. Used by tests and the local token tool.
func (v *Verifier) Issue(userID uuid.UUID, role Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
