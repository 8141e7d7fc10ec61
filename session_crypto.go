package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const sessionBlobSeparator = ":"

// EncryptSessions seals plaintext with AES-256-GCM. The key is the SHA-256
// of secret and a fresh nonce is used on every call. The result is
// base64(nonce):base64(ciphertext).
func EncryptSessions(plaintext []byte, secret string) (string, error) {
	aead, err := sessionAEAD(secret)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate nonce").
			WithCode(goerrors.CodeInternal)
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(nonce) + sessionBlobSeparator +
		base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptSessions opens a blob produced by EncryptSessions. A tampered blob
// or a wrong secret returns ErrSessionDecryptFailed.
func DecryptSessions(blob, secret string) ([]byte, error) {
	aead, err := sessionAEAD(secret)
	if err != nil {
		return nil, err
	}

	noncePart, sealedPart, ok := strings.Cut(blob, sessionBlobSeparator)
	if !ok {
		return nil, ErrSessionDecryptFailed
	}

	nonce, err := base64.StdEncoding.DecodeString(noncePart)
	if err != nil || len(nonce) != aead.NonceSize() {
		return nil, ErrSessionDecryptFailed
	}
	sealed, err := base64.StdEncoding.DecodeString(sealedPart)
	if err != nil {
		return nil, ErrSessionDecryptFailed
	}

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrSessionDecryptFailed
	}
	return plaintext, nil
}

func sessionAEAD(secret string) (cipher.AEAD, error) {
	if secret == "" {
		return nil, goerrors.New("session secret must not be empty", goerrors.CategoryInternal).
			WithCode(goerrors.CodeInternal)
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create GCM")
	}
	return aead, nil
}
