package sessionauth

import (
	"crypto/rand"
	"crypto/sha256"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

const (
	hkdfSalt = "tangle-sandbox-blueprint-paseto-v4"
	hkdfInfo = "session-auth-symmetric-key-v1"
)

// deriveSymmetricKey stretches secret (the raw SESSION_AUTH_SECRET value,
// or fresh random bytes when unset) into the 32-byte key PASETO v4.local
// needs, via HKDF-SHA256 with a fixed salt and info string.
func deriveSymmetricKey(secret []byte) ([32]byte, error) {
	var key [32]byte
	reader := hkdf.New(sha256.New, secret, []byte(hkdfSalt), []byte(hkdfInfo))
	if _, err := io.ReadFull(reader, key[:]); err != nil {
		return key, err
	}
	return key, nil
}

var (
	processKeyOnce sync.Once
	processKey     [32]byte
	processKeyErr  error
)

// ProcessSymmetricKey derives the process-wide PASETO key exactly once.
// When envSecret is empty, a fresh random secret is used instead, matching
// the "derived once per process" design note — restarts without a fixed
// SESSION_AUTH_SECRET invalidate all outstanding session tokens.
func ProcessSymmetricKey(envSecret string) ([32]byte, error) {
	processKeyOnce.Do(func() {
		secret := []byte(envSecret)
		if len(secret) == 0 {
			secret = make([]byte, 32)
			if _, err := rand.Read(secret); err != nil {
				processKeyErr = err
				return
			}
		}
		processKey, processKeyErr = deriveSymmetricKey(secret)
	})
	return processKey, processKeyErr
}
