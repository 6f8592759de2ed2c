// Package credentials keeps Bugzilla passwords in the operating system
// keyring, keyed by endpoint host and user name.
package credentials

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/zalando/go-keyring"
)

// ErrNotFound is returned when no password is stored for an account.
var ErrNotFound = errors.New("no stored password")

// DefaultService is the keyring service name.
const DefaultService = "bzrpc"

var (
	keyringSet    = keyring.Set
	keyringGet    = keyring.Get
	keyringDelete = keyring.Delete
)

// Keyring stores one password per (host, user).
type Keyring struct {
	Service string
}

// NewKeyring creates a keyring using DefaultService.
func NewKeyring() *Keyring {
	return &Keyring{Service: DefaultService}
}

// Account returns the keyring account name for user on endpoint.
func Account(endpoint, user string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid endpoint %q: missing host", endpoint)
	}
	if user == "" {
		return "", errors.New("user must not be empty")
	}
	return user + "@" + strings.ToLower(u.Host), nil
}

// Get returns the stored password.
func (k *Keyring) Get(endpoint, user string) (string, error) {
	account, err := Account(endpoint, user)
	if err != nil {
		return "", err
	}
	password, err := keyringGet(k.Service, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("%w for %s", ErrNotFound, account)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read keyring: %w", err)
	}
	return password, nil
}

// Set stores password, replacing any previous one.
func (k *Keyring) Set(endpoint, user, password string) error {
	account, err := Account(endpoint, user)
	if err != nil {
		return err
	}
	if err := keyringSet(k.Service, account, password); err != nil {
		return fmt.Errorf("failed to write keyring: %w", err)
	}
	return nil
}

// Delete removes the stored password. Deleting a missing entry is not an error.
func (k *Keyring) Delete(endpoint, user string) error {
	account, err := Account(endpoint, user)
	if err != nil {
		return err
	}
	if err := keyringDelete(k.Service, account); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return nil
}
