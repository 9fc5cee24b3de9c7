package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/EnZo1826/SmartPOS/internal/domain"
	"github.com/EnZo1826/SmartPOS/internal/store"
)

// AuthManager issues and verifies device access tokens. Devices are
// provisioned out of band with a shared secret; a token only proves the
// device knew its secret at issue time, so activation is re-checked on
// every request.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	devices  DeviceStore
}

type DeviceStore interface {
	GetDevice(ctx context.Context, deviceID string) (*domain.Device, error)
}

type deviceClaims struct {
	jwtlib.RegisteredClaims
	Label string `json:"label,omitempty"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, devices DeviceStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		devices:  devices,
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.DeviceLoginRequest) (domain.DeviceLoginResponse, error) {
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" || strings.TrimSpace(req.Secret) == "" {
		return domain.DeviceLoginResponse{}, errors.New("invalid credentials")
	}

	device, err := a.devices.GetDevice(ctx, deviceID)
	if err != nil {
		// Same answer for unknown device and store failure.
		return domain.DeviceLoginResponse{}, errors.New("invalid credentials")
	}
	if bcrypt.CompareHashAndPassword([]byte(device.SecretHash), []byte(req.Secret)) != nil {
		return domain.DeviceLoginResponse{}, errors.New("invalid credentials")
	}
	if !device.Active {
		return domain.DeviceLoginResponse{}, errors.New("device is deactivated")
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(device, expiresAt)
	if err != nil {
		return domain.DeviceLoginResponse{}, err
	}

	return domain.DeviceLoginResponse{
		AccessToken: token,
		DeviceID:    device.DeviceID,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// Authenticate verifies a bearer token and re-reads the device record so
// a deactivated device loses access as soon as its next request arrives.
func (a *AuthManager) Authenticate(ctx context.Context, tokenStr string) (domain.Device, error) {
	claims := &deviceClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Device{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Device{}, errors.New("invalid token subject")
	}

	device, err := a.devices.GetDevice(ctx, sub)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Device{}, errors.New("unknown device")
		}
		return domain.Device{}, err
	}
	if !device.Active {
		return domain.Device{}, errors.New("device is deactivated")
	}
	return *device, nil
}

func (a *AuthManager) sign(device *domain.Device, expiresAt time.Time) (string, error) {
	claims := deviceClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   device.DeviceID,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "smartpos",
		},
		Label: device.Label,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// HashDeviceSecret is used by provisioning and seeding code.
func HashDeviceSecret(secret string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}
