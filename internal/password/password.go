// Package password implements Argon2id password hashing with PHC string
// encoding ($argon2id$v=19$m=...,t=...,p=...$salt$hash).
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrInvalidHash is returned for malformed or unsupported encoded hashes.
var ErrInvalidHash = errors.New("invalid password hash")

// Params are the Argon2id cost parameters.
type Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams: 64 MiB, 3 iterations, 4 lanes. Verification takes tens of
// milliseconds on commodity hardware, which is the point.
var DefaultParams = Params{
	MemoryKiB:   64 * 1024,
	Iterations:  3,
	Parallelism: 4,
	SaltLength:  16,
	KeyLength:   32,
}

// Hash hashes a password with a fresh random salt and returns the encoded hash.
func Hash(password string) (string, error) {
	return hashWithParams(password, DefaultParams)
}

func hashWithParams(password string, p Params) (string, error) {
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.MemoryKiB, p.Iterations, p.Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(key),
	), nil
}

// Verify reports whether password matches the encoded hash. It returns
// (false, ErrInvalidHash) for malformed hashes and (false, nil) for a plain
// mismatch.
func Verify(encodedHash, password string) (bool, error) {
	p, salt, expected, err := decode(encodedHash)
	if err != nil {
		return false, err
	}

	// Refuse attacker-controlled hashes with pathological cost parameters.
	if !withinBounds(p) {
		return false, ErrInvalidHash
	}

	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.MemoryKiB, p.Parallelism, uint32(len(expected)))

	if subtle.ConstantTimeCompare(key, expected) == 1 {
		return true, nil
	}
	return false, nil
}

// dummyHash is a fixed hash of an unguessable throwaway value, generated with
// DefaultParams at init. Used to equalize the work done on unknown-email logins.
var dummyHash = func() string {
	h, err := hashWithParams("dummy-comparison-password", DefaultParams)
	if err != nil {
		panic(err)
	}
	return h
}()

// VerifyDummy burns the same Argon2id work as a real verification and always
// mismatches. Called on the unknown-email path so that login timing does not
// reveal whether an account exists.
func VerifyDummy(password string) {
	_, _ = Verify(dummyHash, password)
}

func withinBounds(p Params) bool {
	if p.MemoryKiB > DefaultParams.MemoryKiB*2 || p.Iterations > DefaultParams.Iterations*2 {
		return false
	}
	if p.Parallelism > DefaultParams.Parallelism*2 {
		return false
	}
	if p.SaltLength < 8 || p.SaltLength > 64 {
		return false
	}
	if p.KeyLength < 16 || p.KeyLength > 128 {
		return false
	}
	return true
}

func decode(encoded string) (Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Params{}, nil, nil, ErrInvalidHash
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return Params{}, nil, nil, ErrInvalidHash
	}

	var mem, iter uint32
	var par uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iter, &par); err != nil {
		return Params{}, nil, nil, ErrInvalidHash
	}
	if mem == 0 || iter == 0 || par == 0 {
		return Params{}, nil, nil, ErrInvalidHash
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return Params{}, nil, nil, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil {
		return Params{}, nil, nil, ErrInvalidHash
	}

	p := Params{
		MemoryKiB:   mem,
		Iterations:  iter,
		Parallelism: par,
		SaltLength:  uint32(len(salt)),
		KeyLength:   uint32(len(key)),
	}
	return p, salt, key, nil
}
