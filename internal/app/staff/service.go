package staff

import (
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nuid"
	"github.com/orderbus/project/internal/platform/auth"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthDisabled       = errors.New("cashier auth is disabled")
	ErrForbiddenRole      = errors.New("insufficient permissions for this action")
)

// Session is returned to a cashier desk after a successful PIN check.
type Session struct {
	Token     string    `json:"token"`
	Role      string    `json:"role"`
	Desk      string    `json:"desk"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service guards the cashier role. A single bcrypt PIN hash protects every
// desk; an empty hash disables the check entirely.
type Service struct {
	PINHash   []byte
	AuthToken auth.Manager
	NewID     func() string
	Now       func() time.Time
}

func NewService(pinHash string, tokenManager auth.Manager) *Service {
	return &Service{
		PINHash:   []byte(strings.TrimSpace(pinHash)),
		AuthToken: tokenManager,
		NewID:     nuid.Next,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// HashPIN is used by tooling to produce CASHIER_PIN_HASH values.
func HashPIN(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (s *Service) Enabled() bool {
	return s != nil && len(s.PINHash) > 0
}

func normalizeDesk(desk string) string {
	desk = strings.ToLower(strings.TrimSpace(desk))
	if desk == "" {
		return "desk"
	}
	return desk
}

func (s *Service) Login(pin, desk string) (Session, error) {
	if !s.Enabled() {
		return Session{}, ErrAuthDisabled
	}
	if strings.TrimSpace(pin) == "" {
		return Session{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(s.PINHash, []byte(pin)); err != nil {
		return Session{}, ErrInvalidCredentials
	}

	desk = normalizeDesk(desk)
	subject := desk + "-" + s.NewID()
	token, err := s.AuthToken.Sign(subject, auth.RoleCashier)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		Role:      auth.RoleCashier,
		Desk:      desk,
		ExpiresAt: s.Now().Add(s.AuthToken.TTL),
	}, nil
}

// Authorize parses a bearer token and requires the cashier role.
func (s *Service) Authorize(token string) (auth.Claims, error) {
	claims, err := s.AuthToken.Parse(strings.TrimSpace(token))
	if err != nil {
		return auth.Claims{}, err
	}
	if claims.Role != auth.RoleCashier {
		return auth.Claims{}, ErrForbiddenRole
	}
	return claims, nil
}
