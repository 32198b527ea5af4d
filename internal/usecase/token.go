package usecase

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const TokenLength = 6

var tokenSpace = big.NewInt(1_000_000)

// SecureToken draws a uniformly distributed 6-digit token.
func SecureToken() (string, error) {
	n, err := rand.Int(rand.Reader, tokenSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func ValidToken(token string) bool {
	if len(token) != TokenLength {
		return false
	}
	for i := 0; i < len(token); i++ {
		if token[i] < '0' || token[i] > '9' {
			return false
		}
	}
	return true
}
