package server

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// passwordVerifier checks candidate room passwords against either a bcrypt
// hash or a plaintext secret.
type passwordVerifier struct {
	hash  []byte
	plain []byte
}

func newPasswordVerifier(cfg Config) (passwordVerifier, error) {
	if cfg.PasswordHash != "" {
		hash := []byte(cfg.PasswordHash)
		if _, err := bcrypt.Cost(hash); err != nil {
			return passwordVerifier{}, fmt.Errorf("invalid password hash: %w", err)
		}
		return passwordVerifier{hash: hash}, nil
	}
	if cfg.Password == "" {
		return passwordVerifier{}, fmt.Errorf("empty room password")
	}
	return passwordVerifier{plain: []byte(cfg.Password)}, nil
}

func (v passwordVerifier) verify(candidate string) bool {
	if v.hash != nil {
		return bcrypt.CompareHashAndPassword(v.hash, []byte(candidate)) == nil
	}
	return subtle.ConstantTimeCompare(v.plain, []byte(candidate)) == 1
}

// HashPassword returns a bcrypt hash suitable for Config.PasswordHash.
// A cost of zero selects bcrypt.DefaultCost.
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", fmt.Errorf("empty password")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
