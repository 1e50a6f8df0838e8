// Package auth verifies staff bearer tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrMissingToken = errors.New("missing bearer token")
)

// Staff is the identity carried by a verified token
type Staff struct {
	ID   string
	Name string
}

// Verifier checks a raw token and returns the staff member it names
type Verifier interface {
	Verify(token string) (*Staff, error)
}

// JWTVerifier verifies HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewJWTVerifier creates a verifier with the shared secret
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret, now: time.Now}
}

// Verify validates the token and reads the staff ID from the "sub" claim
func (v *JWTVerifier) Verify(tokenString string) (*Staff, error) {
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("%w: no secret configured", ErrInvalidToken)
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(v.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	name, _ := claims["name"].(string)

	return &Staff{ID: sub, Name: name}, nil
}

// Generate signs a token for a staff member. Used by operators and tests.
func (v *JWTVerifier) Generate(staff Staff, expiresIn time.Duration) (string, error) {
	now := v.now()
	claims := jwt.MapClaims{
		"sub": staff.ID,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}
	if staff.Name != "" {
		claims["name"] = staff.Name
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}

type staffContextKey struct{}

// WithStaff attaches a verified staff member to ctx
func WithStaff(ctx context.Context, staff *Staff) context.Context {
	return context.WithValue(ctx, staffContextKey{}, staff)
}

// StaffFromContext returns the staff member attached to ctx, or nil
func StaffFromContext(ctx context.Context) *Staff {
	staff, _ := ctx.Value(staffContextKey{}).(*Staff)
	return staff
}
