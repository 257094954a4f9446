package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// GenerateDeployToken produces a new opaque bearer token for a service's
// deploy_token. The caller is shown the returned plaintext exactly once;
// only HashDeployToken's output is persisted.
func GenerateDeployToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate deploy token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashDeployToken digests a plaintext deploy token with SHA-256. Unlike a
// bcrypt hash it is deterministic, so it doubles as the token's storage
// key: PUT /webhook/deploy/<token> hashes the path value and looks the
// service up by that digest directly, instead of scanning every stored
// hash. The digest is still one-way — a leaked services table doesn't
// hand back usable deploy tokens.
func HashDeployToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// VerifyDeployToken reports whether a plaintext candidate hashes to the
// stored digest, in constant time with respect to the digest length.
func VerifyDeployToken(storedHash, candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(HashDeployToken(candidate))) == 1
}
