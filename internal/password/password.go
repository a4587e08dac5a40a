// Package password generates temporary account passwords.
package password

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

const (
	Length = 12

	Lower   = "abcdefghijklmnopqrstuvwxyz"
	Upper   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	Digits  = "0123456789"
	Symbols = "!@#$%"

	Alphabet = Lower + Upper + Digits + Symbols
)

// Generate returns a Length-character password holding at least one lower,
// upper, digit and symbol, with the rest drawn from Alphabet and the whole
// result shuffled.
func Generate() string {
	buf := make([]byte, 0, Length)
	for _, class := range []string{Lower, Upper, Digits, Symbols} {
		buf = append(buf, pick(class))
	}
	for len(buf) < Length {
		buf = append(buf, pick(Alphabet))
	}
	for i := len(buf) - 1; i > 0; i-- {
		j := randIntn(i + 1)
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}

// Validate reports whether p satisfies the generated-password policy.
func Validate(p string) error {
	if len(p) != Length {
		return errors.New("password must be 12 characters")
	}
	for _, class := range []string{Lower, Upper, Digits, Symbols} {
		if !strings.ContainsAny(p, class) {
			return errors.New("password is missing a required character class")
		}
	}
	for _, r := range p {
		if !strings.ContainsRune(Alphabet, r) {
			return errors.New("password contains a character outside the allowed set")
		}
	}
	return nil
}

func pick(set string) byte {
	return set[randIntn(len(set))]
}

func randIntn(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/rand does not fail on supported platforms
		panic(err)
	}
	return int(v.Int64())
}
