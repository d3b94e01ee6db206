package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"eventcal/internal/models"
	"eventcal/internal/storage"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already taken")
)

type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

type Credentials struct {
	Username string `json:"username" validate:"required,alphanum,max=150"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// UserService registers and authenticates users with bcrypt password hashes.
type UserService struct {
	store    UserStore
	validate *validator.Validate
	cost     int
	now      func() time.Time
}

func NewUserService(store UserStore) *UserService {
	return &UserService{
		store:    store,
		validate: newValidator(),
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
	}
}

// WithCost sets the bcrypt cost for new hashes.
func (s *UserService) WithCost(cost int) *UserService {
	s.cost = cost
	return s
}

func (s *UserService) Register(ctx context.Context, creds Credentials) (*models.User, error) {
	creds.Username = strings.TrimSpace(creds.Username)
	if err := s.validate.Struct(&creds); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, fmt.Errorf("failed to validate credentials: %w", err)
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fieldMessage(fe)
		}
		return nil, &ValidationError{Fields: fields}
	}

	existing, err := s.store.GetUserByUsername(ctx, creds.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	user := &models.User{
		Username:     creds.Username,
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		// Lost a race with a concurrent registration.
		if errors.Is(err, storage.ErrDuplicateUsername) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Authenticate returns the user for valid credentials, ErrInvalidCredentials otherwise.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}
