package utils

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
)

// GetEnv reads an environment variable, falling back to the provided default
// when it is unset or empty.
func GetEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// CreateFolder creates a directory (and parents) if it does not exist yet.
func CreateFolder(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("failed to create folder %s: %w", path, err)
		}
	}
	return nil
}

// GenerateUniqueID returns a random 32-bit identifier suitable for
// request-scoped resource names.
func GenerateUniqueID() uint32 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(buf[:])
}
