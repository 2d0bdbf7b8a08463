package services

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	lowerChars  = "abcdefghijklmnopqrstuvwxyz"
	upperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars  = "0123456789"
	symbolChars = "!#%*+-=?@^_"

	minPasswordLength = 16
)

// GeneratePassword returns a shuffled password of at least 16 characters
// containing an upper case letter, a lower case letter, a digit and a symbol.
func GeneratePassword(length int) (string, error) {
	if length < minPasswordLength {
		length = minPasswordLength
	}
	all := lowerChars + upperChars + digitChars + symbolChars
	buf := make([]byte, 0, length)
	for _, set := range []string{upperChars, lowerChars, digitChars, symbolChars} {
		c, err := pick(set)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}
	for len(buf) < length {
		c, err := pick(all)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}
	// Fisher-Yates
	for i := len(buf) - 1; i > 0; i-- {
		j, err := randInt(i + 1)
		if err != nil {
			return "", err
		}
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf), nil
}

// randomSuffix returns n lower case alphanumerics, used for database names.
func randomSuffix(n int) (string, error) {
	out := make([]byte, n)
	for i := range out {
		c, err := pick(lowerChars + digitChars)
		if err != nil {
			return "", err
		}
		out[i] = c
	}
	return string(out), nil
}

func pick(set string) (byte, error) {
	i, err := randInt(len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

func randInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("random source: %w", err)
	}
	return int(v.Int64()), nil
}
