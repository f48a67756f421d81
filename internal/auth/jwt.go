package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Audience is the only audience access tokens are issued for.
const Audience = "authenticated"

var ErrInvalidToken = errors.New("invalid access token")

// Claims carried by an access token. Subject is the identity id.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// JWTManager issues and validates HS256 access tokens.
type JWTManager struct {
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
}

func NewJWTManager(secret string, accessTTL time.Duration) *JWTManager {
	return &JWTManager{secret: []byte(secret), accessTTL: accessTTL, now: time.Now}
}

// AccessTTL is the lifetime of issued tokens.
func (m *JWTManager) AccessTTL() time.Duration {
	return m.accessTTL
}

// Issue signs a token for subject. It returns the token and its expiry.
func (m *JWTManager) Issue(subject uuid.UUID, email string) (string, time.Time, error) {
	now := m.now().UTC()
	exp := now.Add(m.accessTTL)
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.String(),
			Audience:  jwt.ClaimStrings{Audience},
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Parse verifies signature, expiry and audience and returns the subject.
func (m *JWTManager) Parse(tokenString string) (uuid.UUID, *Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)

	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		return uuid.Nil, nil, errors.Join(ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return uuid.Nil, nil, ErrInvalidToken
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, nil, errors.Join(ErrInvalidToken, err)
	}
	return id, claims, nil
}
