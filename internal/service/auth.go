package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/aman-churiwal/chain-gateway/internal/clock"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

const adminSubject = "admin"

// AdminAuthService guards the operator endpoints. There is a single operator
// account whose bcrypt password hash comes from configuration.
type AdminAuthService struct {
	passwordHash []byte
	jwtSecret    []byte // Stored in env (JWT_SECRET)
	jwtExpiry    time.Duration
	clock        clock.Clock
}

func NewAdminAuthService(passwordHash, secret string, expiryHours int, clk clock.Clock) *AdminAuthService {
	if clk == nil {
		clk = clock.System()
	}
	return &AdminAuthService{
		passwordHash: []byte(passwordHash),
		jwtSecret:    []byte(secret),
		jwtExpiry:    time.Duration(expiryHours) * time.Hour,
		clock:        clk,
	}
}

// Login checks the operator password and returns a signed token.
func (s *AdminAuthService) Login(password string) (string, time.Time, error) {
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)); err != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}

	now := s.clock.Now()
	expiresAt := now.Add(s.jwtExpiry)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   adminSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})

	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// ValidateToken verifies signature, algorithm, expiry and subject.
func (s *AdminAuthService) ValidateToken(tokenString string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.clock.Now), jwt.WithSubject(adminSubject))

	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
