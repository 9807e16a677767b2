package auth

import (
	"crypto/subtle"
	"errors"
)

// ErrInvalidCredentials is returned for any username/password mismatch.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Identity is the single configured admin account.
type Identity struct {
	AdminID  string
	Username string
	Password string
}

// Credentials validates logins against one configured admin identity.
type Credentials struct {
	identity Identity
}

// NewCredentials creates a validator for the given identity.
func NewCredentials(identity Identity) *Credentials {
	return &Credentials{identity: identity}
}

// Identity returns the configured admin identity.
func (c *Credentials) Identity() Identity {
	return c.identity
}

// ValidateCredentials returns the admin id when both fields match exactly.
func (c *Credentials) ValidateCredentials(username, password string) (string, error) {
	if username == "" || password == "" {
		return "", ErrInvalidCredentials
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(c.identity.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(c.identity.Password)) == 1
	if !userOK || !passOK {
		return "", ErrInvalidCredentials
	}
	return c.identity.AdminID, nil
}
