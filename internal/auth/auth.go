package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zentrochat/zentro/internal/models"
	"github.com/zentrochat/zentro/pkg/apperr"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned by Login for an unknown user or a wrong
// password alike.
var ErrInvalidCredentials = errors.New("invalid username or password")

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string, now time.Time) (*models.User, error)
	Credentials(ctx context.Context, username string) (string, string, error)
}

type Service struct {
	users     UserStore
	jwtSecret string
	tokenTTL  time.Duration
}

type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func New(users UserStore, jwtSecret string) *Service {
	return NewWithTokenTTL(users, jwtSecret, 24*time.Hour)
}

func NewWithTokenTTL(users UserStore, jwtSecret string, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}

	return &Service{
		users:     users,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
	}
}

func (s *Service) Register(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if len(username) < 3 || len(username) > 32 {
		return nil, fmt.Errorf("%w: username must be between 3 and 32 characters", apperr.ErrValidation)
	}
	if !usernamePattern.MatchString(username) {
		return nil, fmt.Errorf("%w: username can only contain letters, numbers, and underscores", apperr.ErrValidation)
	}
	if len(password) < 6 {
		return nil, fmt.Errorf("%w: password must be at least 6 characters", apperr.ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return s.users.CreateUser(ctx, username, string(hash), time.Now().UTC())
}

// Login checks the password and returns a signed token with the user id.
func (s *Service) Login(ctx context.Context, username, password string) (string, string, error) {
	username = strings.TrimSpace(username)

	userID, passwordHash, err := s.users.Credentials(ctx, username)
	if errors.Is(err, apperr.ErrNotFound) {
		return "", "", ErrInvalidCredentials
	}
	if err != nil {
		return "", "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return "", "", ErrInvalidCredentials
	}

	token, err := s.GenerateToken(userID, username)
	if err != nil {
		return "", "", err
	}
	return token, userID, nil
}

func (s *Service) GenerateToken(userID, username string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
