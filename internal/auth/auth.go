// Package auth handles credentials and session tokens.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"kanban/internal/errs"
	"kanban/internal/models"
)

const minPasswordLength = 6

// UserStore is the persistence the auth service needs.
type UserStore interface {
	CreateUser(ctx context.Context, email, name, passwordHash string) (models.User, error)
	GetUser(ctx context.Context, id string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, string, error)
}

// Claims is the session token payload.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Service registers and logs in users and validates session tokens.
type Service struct {
	users  UserStore
	secret []byte
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds the auth service. An empty secret is replaced with a
// random one, which invalidates every token on restart.
func NewService(users UserStore, secret string, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	key := []byte(secret)
	if len(key) == 0 {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			panic(fmt.Sprintf("generate token secret: %v", err))
		}
		key = []byte(hex.EncodeToString(buf))
		logger.Warn("token secret not configured; using a random per-process secret")
	}
	return &Service{users: users, secret: key, ttl: ttl, logger: logger, now: time.Now}
}

// TTL is how long issued tokens stay valid.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Register creates an account and returns it with a fresh session token.
func (s *Service) Register(ctx context.Context, email, password, name string) (models.User, string, error) {
	email = strings.TrimSpace(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return models.User{}, "", errs.NewInvalidField("email", "not a valid address")
	}
	if strings.TrimSpace(name) == "" {
		return models.User{}, "", errs.NewMissingRequiredField("name")
	}
	if len(password) < minPasswordLength {
		return models.User{}, "", errs.NewInvalidField("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	user, err := s.users.CreateUser(ctx, email, name, string(hash))
	if err != nil {
		return models.User{}, "", err
	}
	token, err := s.Issue(user)
	if err != nil {
		return models.User{}, "", err
	}
	s.logger.Info("user registered", slog.String("user_id", user.ID))
	return user, token, nil
}

// Login checks credentials and returns a fresh session token.
func (s *Service) Login(ctx context.Context, email, password string) (models.User, string, error) {
	user, hash, err := s.users.GetUserByEmail(ctx, email)
	if errs.IsNotFound(err) {
		return models.User{}, "", errs.NewUnauthenticated("invalid credentials")
	}
	if err != nil {
		return models.User{}, "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return models.User{}, "", errs.NewUnauthenticated("invalid credentials")
	}
	token, err := s.Issue(user)
	if err != nil {
		return models.User{}, "", err
	}
	return user, token, nil
}

// Issue signs a session token for user.
func (s *Service) Issue(user models.User) (string, error) {
	now := s.now()
	claims := Claims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Authenticate validates a token and resolves the user it was issued to.
func (s *Service) Authenticate(ctx context.Context, token string) (models.User, error) {
	if token == "" {
		return models.User{}, errs.NewUnauthenticated("missing access token")
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if errors.Is(err, jwt.ErrTokenExpired) {
		return models.User{}, errs.NewUnauthenticated("access token expired")
	}
	if err != nil || !parsed.Valid {
		return models.User{}, errs.NewUnauthenticated("invalid access token")
	}

	user, err := s.users.GetUser(ctx, claims.Subject)
	if errs.IsNotFound(err) {
		return models.User{}, errs.NewUnauthenticated("unknown user")
	}
	if err != nil {
		return models.User{}, err
	}
	return user, nil
}
