package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// codeAlphabet is the URL-safe set random codes are drawn from.
const codeAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

var aliasPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,20}$`)

// reservedAliases are path segments the router owns.
var reservedAliases = map[string]bool{
	"api":    true,
	"admin":  true,
	"login":  true,
	"r":      true,
	"v1":     true,
	"health": true,
	"ping":   true,
	"static": true,
	"assets": true,
}

// RandomCode draws a fixed-length code from the base62 alphabet using
// crypto/rand.
func RandomCode(length int) (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("draw random code: %w", err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// ValidateAlias checks a custom alias against the allowed pattern and the
// reserved list. Reserved words are conflicts, not format errors.
func ValidateAlias(alias string) error {
	if !aliasPattern.MatchString(alias) {
		return fmt.Errorf("%w: must match [a-zA-Z0-9_-]{3,20}", ErrAliasFormat)
	}
	if reservedAliases[strings.ToLower(alias)] {
		return fmt.Errorf("%w: %q is reserved", ErrAliasConflict, alias)
	}
	return nil
}
