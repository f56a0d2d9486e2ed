// Package keystore stores per-host bearer tokens in the system keychain.
package keystore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

const keystoreService = "devtool-desktop"

// ErrEmptyHost is returned when no host is given
var ErrEmptyHost = errors.New("host is required")

// Keystore reads and writes tokens under one keychain service name
type Keystore struct {
	service string
}

// New returns a keystore using the application's service name
func New() *Keystore {
	return &Keystore{service: keystoreService}
}

// SaveToken stores token for host, replacing any previous one
func (k *Keystore) SaveToken(host, token string) error {
	user, err := userFor(host)
	if err != nil {
		return err
	}
	if token == "" {
		return errors.New("token is required")
	}
	if err := keyring.Set(k.service, user, token); err != nil {
		return fmt.Errorf("failed to store token in keychain: %w", err)
	}
	return nil
}

// LoadToken returns the token for host, or "" when none is stored
func (k *Keystore) LoadToken(host string) (string, error) {
	user, err := userFor(host)
	if err != nil {
		return "", err
	}
	token, err := keyring.Get(k.service, user)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read token from keychain: %w", err)
	}
	return token, nil
}

// DeleteToken removes the token for host. Deleting a missing token is not an error.
func (k *Keystore) DeleteToken(host string) error {
	user, err := userFor(host)
	if err != nil {
		return err
	}
	if err := keyring.Delete(k.service, user); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete token from keychain: %w", err)
	}
	return nil
}

// HasToken checks if a token exists for host
func (k *Keystore) HasToken(host string) bool {
	token, err := k.LoadToken(host)
	return err == nil && token != ""
}

func userFor(host string) (string, error) {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return "", ErrEmptyHost
	}
	return "token:" + host, nil
}
