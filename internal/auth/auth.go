package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
)

const configDirName = ".parity-sync"

// GetDeviceID returns the stable device identifier, minting and persisting
// one on first use. The ID never changes once assigned.
func GetDeviceID() (string, error) {
	path, err := deviceIDPath()
	if err != nil {
		return "", err
	}

	if data, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	}

	id := uuid.New().String()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to persist device ID: %w", err)
	}

	return id, nil
}

// CreateAuthToken signs a gateway auth token binding this device ID. The
// gateway verifies it with the shared device key handed out at
// registration.
func CreateAuthToken(deviceID, deviceKey string, ttl time.Duration) (string, error) {
	if deviceKey == "" {
		return "", fmt.Errorf("device key is required")
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"device_id": deviceID,
		"iat":       now.Unix(),
		"exp":       now.Add(ttl).Unix(),
	})

	signed, err := token.SignedString([]byte(deviceKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign auth token: %w", err)
	}
	return signed, nil
}

// SaveAuthToken persists the signed token for the gateway client to pick
// up via configuration.
func SaveAuthToken(token string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	path := filepath.Join(home, configDirName, "auth_token")

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to persist auth token: %w", err)
	}
	return path, nil
}

func deviceIDPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, configDirName, "device_id"), nil
}
