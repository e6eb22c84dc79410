package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// AccountNumberPrefix starts every generated account number.
const AccountNumberPrefix = "01"

// GenerateAccountNumber generates an 8-digit account number starting with 01.
// Uniqueness is enforced by the store; callers retry on a collision.
func GenerateAccountNumber() (string, error) {
	num, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("failed to generate account number: %w", err)
	}
	return fmt.Sprintf("%s%06d", AccountNumberPrefix, num.Int64()), nil
}
