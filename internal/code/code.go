// Package code generates the short game codes players share to find a room.
package code

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	// Length of a game code
	Length = 6
	// Alphabet codes are drawn from
	Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var alphabetSize = big.NewInt(int64(len(Alphabet)))

// Generator produces candidate game codes. Codes are not guaranteed unique;
// callers must handle collisions reported by the store.
type Generator interface {
	Generate() (string, error)
}

// Random draws each character uniformly from Alphabet using crypto/rand.
type Random struct{}

func (Random) Generate() (string, error) {
	code := make([]byte, Length)
	for i := range code {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("generate game code: %w", err)
		}
		code[i] = Alphabet[n.Int64()]
	}
	return string(code), nil
}

// Normalize trims user input and upper-cases it so lookups are
// case-insensitive.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Valid reports whether code has the shape of a game code.
func Valid(code string) bool {
	if len(code) != Length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(Alphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
