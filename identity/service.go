package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials signals a wrong name or secret.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	// ErrWeakSecret signals the secret doesn't meet requirements.
	ErrWeakSecret = errors.New("identity: secret must be at least 8 characters")
)

// Service authenticates principals and issues bearer tokens. It is the
// identity substrate the custody engine trusts for caller attribution.
type Service struct {
	repo      Repository
	jwtSecret []byte
	now       func() time.Time
}

// TokenResult bundles the token and principal returned after a successful exchange.
type TokenResult struct {
	Token     string
	Principal Principal
}

// NewService creates a new identity service.
func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
		now:       time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Register creates a new principal with a bcrypt-hashed secret.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Principal, error) {
	if len(req.Secret) < 8 {
		return nil, ErrWeakSecret
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("identity: name is required")
	}

	secretHash, err := bcrypt.GenerateFromPassword([]byte(req.Secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("identity: hash secret: %w", err)
	}

	p, err := s.repo.CreatePrincipal(ctx, CreatePrincipalParams{
		Name:       name,
		SecretHash: string(secretHash),
	})
	if err != nil {
		return nil, err
	}

	return &p, nil
}

// Token authenticates a principal and returns a signed bearer token.
func (s *Service) Token(ctx context.Context, req TokenRequest) (TokenResult, error) {
	p, err := s.repo.GetPrincipalByName(ctx, req.Name)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return TokenResult{}, ErrInvalidCredentials
		}
		return TokenResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(p.SecretHash), []byte(req.Secret)); err != nil {
		return TokenResult{}, ErrInvalidCredentials
	}

	token, err := s.generateToken(p.ID)
	if err != nil {
		return TokenResult{}, fmt.Errorf("identity: generate token: %w", err)
	}

	return TokenResult{Token: token, Principal: p}, nil
}

// VerifyToken validates a bearer token and returns the principal ID it names.
func (s *Service) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		return "", fmt.Errorf("identity: parse token: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		principalID, ok := claims["principal_id"].(string)
		if !ok || principalID == "" {
			return "", fmt.Errorf("identity: invalid principal_id in token")
		}
		return principalID, nil
	}

	return "", fmt.Errorf("identity: invalid token")
}

func (s *Service) generateToken(principalID string) (string, error) {
	claims := jwt.MapClaims{
		"principal_id": principalID,
		"exp":          s.now().Add(24 * time.Hour).Unix(),
		"iat":          s.now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
