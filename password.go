package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"math/big"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/crypto/bcrypt"
)

// DefaultVerifyTokenBytes is the entropy of verification tokens.
const DefaultVerifyTokenBytes = 32

// MaxPasswordBytes is the bcrypt input limit.
const MaxPasswordBytes = 72

const (
	upperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerChars  = "abcdefghijklmnopqrstuvwxyz"
	digitChars  = "0123456789"
	symbolChars = "!@#$%^&*()-_=+[]{}<>?"
	allChars    = upperChars + lowerChars + digitChars + symbolChars
)

// HashPassword will generate a salted bcrypt hash
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}
	if len(password) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), passwordHashCost())
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryValidation, "failed to hash password")
	}
	return string(h), nil
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidCredentials
		}
		return err
	}
	return nil
}

// VerifyPassword reports whether password matches hash. Malformed hashes
// simply do not match.
func VerifyPassword(password, hash string) bool {
	if hash == "" {
		return false
	}
	return ComparePasswordAndHash(password, hash) == nil
}

// GenerateRandomPassword returns a password of the given length holding at
// least one upper case letter, lower case letter, digit and symbol.
// length must be at least 4.
func GenerateRandomPassword(length int) (string, error) {
	if length < 4 {
		return "", ErrPasswordTooShort
	}

	out := make([]byte, 0, length)
	for _, set := range []string{upperChars, lowerChars, digitChars, symbolChars} {
		c, err := randomChar(set)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	for len(out) < length {
		c, err := randomChar(allChars)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	// Fisher-Yates so the four mandatory classes are not always up front
	for i := len(out) - 1; i > 0; i-- {
		j, err := randomInt(i + 1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}

	return string(out), nil
}

// GenerateVerifyToken returns lengthBytes random bytes, hex encoded.
// The default is DefaultVerifyTokenBytes.
func GenerateVerifyToken(lengthBytes ...int) (string, error) {
	n := DefaultVerifyTokenBytes
	if len(lengthBytes) > 0 && lengthBytes[0] > 0 {
		n = lengthBytes[0]
	}

	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read random bytes")
	}
	return hex.EncodeToString(b), nil
}

func randomChar(set string) (byte, error) {
	i, err := randomInt(len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

func randomInt(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read random number")
	}
	return int(n.Int64()), nil
}
