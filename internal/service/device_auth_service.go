package service

import (
	"context"
	"fmt"
	"log"

	"hydra-fleet-server/internal/domain"
	"hydra-fleet-server/pkg/jwt"
)

// DeviceAuthService validates the bearer credential a device presents at
// connection time and resolves it to a canonical registry record before the
// connection is admitted to any traffic. A previously unknown identity is
// enrolled on its first successful authentication.
type DeviceAuthService struct {
	registry  *DeviceRegistry
	jwtSecret string
}

func NewDeviceAuthService(registry *DeviceRegistry, jwtSecret string) *DeviceAuthService {
	return &DeviceAuthService{
		registry:  registry,
		jwtSecret: jwtSecret,
	}
}

func (s *DeviceAuthService) Authenticate(ctx context.Context, token string) (*domain.Device, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrAuthenticationFailed)
	}

	claims, err := jwt.ValidateToken(token, s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}

	if claims.DeviceID == "" {
		return nil, fmt.Errorf("%w: token carries no device identity", ErrAuthenticationFailed)
	}

	device, err := s.registry.Upsert(ctx, claims.DeviceID, domain.DeviceInfo{})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve device %s: %w", claims.DeviceID, err)
	}

	log.Printf("[Auth] device authenticated: %s", claims.DeviceID)
	return device, nil
}
