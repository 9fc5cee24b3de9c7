package httpapi

import (
	"context"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/EnZo1826/SmartPOS/internal/domain"
	"github.com/EnZo1826/SmartPOS/internal/store"
)

type stubDeviceStore struct {
	devices map[string]domain.Device
}

func (s *stubDeviceStore) GetDevice(_ context.Context, deviceID string) (*domain.Device, error) {
	device, ok := s.devices[deviceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := device
	return &found, nil
}

func newStubStore(t *testing.T, active bool) *stubDeviceStore {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return &stubDeviceStore{devices: map[string]domain.Device{
		"DEV-A": {
			DeviceID:   "DEV-A",
			Label:      "Front counter",
			SecretHash: string(hash),
			Active:     active,
			CreatedAt:  time.Now().UTC(),
		},
	}}
}

func TestLoginAndAuthenticateRoundTrip(t *testing.T) {
	devices := newStubStore(t, true)
	auth := NewAuthManager("unit-test-secret", time.Hour, devices)
	ctx := context.Background()

	resp, err := auth.Login(ctx, domain.DeviceLoginRequest{DeviceID: "DEV-A", Secret: "hunter2hunter2"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.DeviceID != "DEV-A" {
		t.Fatalf("expected device id echoed, got %q", resp.DeviceID)
	}

	device, err := auth.Authenticate(ctx, resp.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if device.DeviceID != "DEV-A" {
		t.Fatalf("expected DEV-A, got %q", device.DeviceID)
	}
}

func TestLoginRejectsWrongSecret(t *testing.T) {
	auth := NewAuthManager("unit-test-secret", time.Hour, newStubStore(t, true))

	if _, err := auth.Login(context.Background(), domain.DeviceLoginRequest{DeviceID: "DEV-A", Secret: "nope"}); err == nil {
		t.Fatalf("expected wrong secret to be rejected")
	}
	if _, err := auth.Login(context.Background(), domain.DeviceLoginRequest{DeviceID: "DEV-B", Secret: "hunter2hunter2"}); err == nil {
		t.Fatalf("expected unknown device to be rejected")
	}
}

func TestDeactivatedDeviceLosesAccess(t *testing.T) {
	devices := newStubStore(t, true)
	auth := NewAuthManager("unit-test-secret", time.Hour, devices)
	ctx := context.Background()

	resp, err := auth.Login(ctx, domain.DeviceLoginRequest{DeviceID: "DEV-A", Secret: "hunter2hunter2"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	// Deactivate after the token was issued; the token alone must not
	// be enough anymore.
	device := devices.devices["DEV-A"]
	device.Active = false
	devices.devices["DEV-A"] = device

	if _, err := auth.Authenticate(ctx, resp.AccessToken); err == nil {
		t.Fatalf("expected deactivated device to be rejected")
	}
}

func TestAuthenticateRejectsGarbageToken(t *testing.T) {
	auth := NewAuthManager("unit-test-secret", time.Hour, newStubStore(t, true))

	if _, err := auth.Authenticate(context.Background(), "not.a.jwt"); err == nil {
		t.Fatalf("expected garbage token to be rejected")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	devices := newStubStore(t, true)
	auth := NewAuthManager("unit-test-secret", time.Nanosecond, devices)
	ctx := context.Background()

	resp, err := auth.Login(ctx, domain.DeviceLoginRequest{DeviceID: "DEV-A", Secret: "hunter2hunter2"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	if _, err := auth.Authenticate(ctx, resp.AccessToken); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}
