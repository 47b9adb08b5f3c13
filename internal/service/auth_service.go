package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"hydra-fleet-server/internal/domain"
	"hydra-fleet-server/internal/repository"
	"hydra-fleet-server/pkg/hash"
	"hydra-fleet-server/pkg/jwt"

	"github.com/google/uuid"
)

// AuthService authenticates operator-console accounts. Device credentials
// are handled separately by DeviceAuthService.
type AuthService struct {
	userRepo      repository.UserRepository
	jwtSecret     string
	jwtExpiration time.Duration
}

func NewAuthService(userRepo repository.UserRepository, jwtSecret string, jwtExpiration time.Duration) *AuthService {
	return &AuthService{
		userRepo:      userRepo,
		jwtSecret:     jwtSecret,
		jwtExpiration: jwtExpiration,
	}
}

func (s *AuthService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error) {
	user, err := s.userRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if err := hash.Compare(user.Password, req.Password); err != nil {
		return nil, ErrInvalidCredentials
	}

	accessToken, err := jwt.GenerateUserToken(user.ID, string(user.Role), s.jwtExpiration, s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	user.Password = ""

	return &domain.LoginResponse{
		User:        user,
		AccessToken: accessToken,
		ExpiresIn:   int64(s.jwtExpiration.Seconds()),
	}, nil
}

// Bootstrap ensures an admin account exists so a fresh deployment has a way
// into the console. It is a no-op when the email is already registered.
func (s *AuthService) Bootstrap(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return nil
	}

	exists, err := s.userRepo.EmailExists(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to check admin account: %w", err)
	}
	if exists {
		return nil
	}

	hashedPassword, err := hash.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	user := &domain.User{
		ID:        uuid.New().String(),
		Email:     email,
		Password:  hashedPassword,
		Role:      domain.RoleAdmin,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return fmt.Errorf("failed to create admin account: %w", err)
	}

	log.Printf("[Auth] bootstrapped admin account: %s", email)
	return nil
}
