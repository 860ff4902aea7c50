package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const machineTokenPrefix = "osc_"

// MachineTokenGenerator issues long-lived tokens for ISP daemons. Only the
// sha256 of a token is ever configured on the server.
type MachineTokenGenerator struct{}

func NewMachineTokenGenerator() *MachineTokenGenerator {
	return &MachineTokenGenerator{}
}

// GenerateMachineToken returns a token of the form osc_<uuid>_<secret> and
// its hash.
func (m *MachineTokenGenerator) GenerateMachineToken() (string, string, error) {
	id := uuid.New()

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate secret: %w", err)
	}
	secret := hex.EncodeToString(secretBytes)

	token := fmt.Sprintf("%s%s_%s", machineTokenPrefix, id.String(), secret)
	return token, m.HashToken(token), nil
}

func (m *MachineTokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks prefix, id and secret shape without a lookup.
func (m *MachineTokenGenerator) ValidateTokenFormat(token string) bool {
	if !strings.HasPrefix(token, machineTokenPrefix) {
		return false
	}
	rest := strings.TrimPrefix(token, machineTokenPrefix)
	id, secret, ok := strings.Cut(rest, "_")
	if !ok || len(secret) != 64 {
		return false
	}
	if _, err := uuid.Parse(id); err != nil {
		return false
	}
	_, err := hex.DecodeString(secret)
	return err == nil
}
