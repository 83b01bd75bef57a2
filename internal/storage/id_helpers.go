package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// generateID produces the 24-character lowercase hex identifier used for all
// entities.
func generateID() (string, error) {
	bytes := make([]byte, 12)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
