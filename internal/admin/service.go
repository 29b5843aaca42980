package admin

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/abduss/ciphare/internal/config"
)

const (
	issuer       = "ciphare"
	operatorRole = "operator"
)

// Service issues and validates operator tokens.
type Service struct {
	cfg     config.AdminConfig
	nowFunc func() time.Time
	parser  *jwt.Parser
}

// NewService creates a token service from the admin configuration.
func NewService(cfg config.AdminConfig) *Service {
	return &Service{
		cfg:     cfg,
		nowFunc: time.Now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
			jwt.WithIssuer(issuer),
		),
	}
}

// OperatorClaims describes the identity extracted from an operator token.
type OperatorClaims struct {
	Subject   string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IssueToken signs an operator token for subject. A non-positive ttl uses
// the configured default.
func (s *Service) IssueToken(subject string, ttl time.Duration) (string, time.Time, error) {
	if s.cfg.TokenSecret == "" {
		return "", time.Time{}, ErrSecretMissing
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, fmt.Errorf("subject is required")
	}
	if ttl <= 0 {
		ttl = s.cfg.TokenTTL
	}

	now := s.nowFunc()
	expiresAt := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":  subject,
		"iss":  issuer,
		"role": operatorRole,
		"iat":  now.Unix(),
		"exp":  expiresAt.Unix(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.TokenSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken verifies the signature and expiry and extracts the claims.
// Tokens without the operator role yield ErrForbidden.
func (s *Service) ValidateToken(tokenString string) (OperatorClaims, error) {
	if s.cfg.TokenSecret == "" || strings.TrimSpace(tokenString) == "" {
		return OperatorClaims{}, ErrUnauthorized
	}

	parsed, err := s.parser.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.TokenSecret), nil
	})
	if err != nil || !parsed.Valid {
		return OperatorClaims{}, ErrUnauthorized
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return OperatorClaims{}, ErrUnauthorized
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return OperatorClaims{}, ErrUnauthorized
	}

	expFloat, ok := claims["exp"].(float64)
	if !ok {
		return OperatorClaims{}, ErrUnauthorized
	}
	exp := time.Unix(int64(expFloat), 0)
	if !exp.After(s.nowFunc()) {
		return OperatorClaims{}, ErrUnauthorized
	}

	iat := time.Time{}
	if iatFloat, ok := claims["iat"].(float64); ok {
		iat = time.Unix(int64(iatFloat), 0)
	}

	role, _ := claims["role"].(string)
	result := OperatorClaims{Subject: sub, Role: role, IssuedAt: iat, ExpiresAt: exp}
	if role != operatorRole {
		return result, ErrForbidden
	}
	return result, nil
}
