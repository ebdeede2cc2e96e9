package services

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/camden-git/albumconverter/logger"
	"github.com/camden-git/albumconverter/models"
	"github.com/camden-git/albumconverter/repository"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	tokenIssuer       = "albumconverter"
	minPasswordLength = 8
	maxUsernameLength = 150
)

// RegisterInput is the account creation form.
type RegisterInput struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Password1 string `json:"password1"`
	Password2 string `json:"password2"`
}

// AuthService handles registration, password login and session tokens.
type AuthService struct {
	users  repository.UserRepository
	secret []byte
	ttl    time.Duration
}

// NewAuthService creates the service. An empty secret is replaced by a random
// one, which invalidates sessions on every restart.
func NewAuthService(users repository.UserRepository, secret string, ttl time.Duration) *AuthService {
	key := []byte(secret)
	if len(key) == 0 {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			panic(fmt.Sprintf("failed to generate session secret: %v", err))
		}
		key = []byte(hex.EncodeToString(buf))
		logger.Warn("JWT_SECRET is not set, using a random secret; sessions will not survive a restart")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthService{users: users, secret: key, ttl: ttl}
}

// Register validates the form and creates an unapproved user.
func (s *AuthService) Register(in RegisterInput) (*models.User, error) {
	verr := &ValidationError{}
	username := strings.TrimSpace(in.Username)
	switch {
	case username == "":
		verr.add("username", "this field is required")
	case len(username) > maxUsernameLength:
		verr.add("username", fmt.Sprintf("ensure this value has at most %d characters", maxUsernameLength))
	case strings.ContainsAny(username, " \t/\\"):
		verr.add("username", "enter a valid username")
	}

	email := strings.TrimSpace(in.Email)
	if email == "" {
		verr.add("email", "this field is required")
	} else if _, err := mail.ParseAddress(email); err != nil {
		verr.add("email", "enter a valid email address")
	}

	switch {
	case in.Password1 == "":
		verr.add("password1", "this field is required")
	case len(in.Password1) < minPasswordLength:
		verr.add("password1", fmt.Sprintf("this password is too short, it must contain at least %d characters", minPasswordLength))
	case in.Password1 != in.Password2:
		verr.add("password2", "the two password fields didn't match")
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	user := &models.User{
		Username:  username,
		Email:     email,
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
	}
	if err := user.SetPassword(in.Password1); err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.users.Create(user); err != nil {
		if errors.Is(err, repository.ErrUsernameTaken) {
			return nil, &ValidationError{Fields: map[string]string{"username": "a user with that username already exists"}}
		}
		return nil, err
	}

	logger.Info("user registered, awaiting approval", zap.String("username", user.Username))
	return user, nil
}

// Login checks the credentials and the approval flag and returns a signed
// session token.
func (s *AuthService) Login(username, password string) (*models.User, string, time.Time, error) {
	user, err := s.users.GetByUsername(strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", time.Time{}, ErrInvalidCredentials
		}
		return nil, "", time.Time{}, err
	}
	if !user.CheckPassword(password) {
		return nil, "", time.Time{}, ErrInvalidCredentials
	}
	if !user.Approved {
		return user, "", time.Time{}, ErrNotApproved
	}

	token, expiresAt, err := s.IssueToken(user)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	return user, token, expiresAt, nil
}

// IssueToken signs a session token for user.
func (s *AuthService) IssueToken(user *models.User) (string, time.Time, error) {
	now := time.Now()
	expirationTime := now.Add(s.ttl)
	claims := &jwt.RegisteredClaims{
		Subject:   fmt.Sprint(user.ID),
		ExpiresAt: jwt.NewNumericDate(expirationTime),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    tokenIssuer,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return tokenString, expirationTime, nil
}

// Authenticate resolves a session token to an approved user.
func (s *AuthService) Authenticate(tokenString string) (*models.User, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	var userID uint
	if _, err := fmt.Sscan(claims.Subject, &userID); err != nil {
		return nil, ErrInvalidToken
	}

	user, err := s.users.GetByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !user.Approved {
		return nil, ErrNotApproved
	}
	return user, nil
}

// SetApproval is used by the approve-user command.
func (s *AuthService) SetApproval(username string, approved bool, admin *bool) error {
	return s.users.SetApproval(username, approved, admin)
}
