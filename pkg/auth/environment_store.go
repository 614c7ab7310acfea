package auth

import (
	"os"
	"time"
)

// EnvironmentStore reads credentials from the conventional environment
// variables listed in KnownNames. It is read-only.
type EnvironmentStore struct {
	vars map[string]string
}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{vars: KnownNames}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(cred *Credential) error {
	return ErrStoreUnavailable
}

// Retrieve gets a credential from its environment variable
func (e *EnvironmentStore) Retrieve(name string) (*Credential, error) {
	key, ok := e.vars[name]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	secret := os.Getenv(key)
	if secret == "" {
		return nil, ErrCredentialsNotFound
	}
	return &Credential{Name: name, Secret: secret, LastModified: time.Now()}, nil
}

// List returns every well-known credential present in the environment
func (e *EnvironmentStore) List() ([]*Credential, error) {
	var creds []*Credential
	for name := range e.vars {
		if cred, err := e.Retrieve(name); err == nil {
			creds = append(creds, cred)
		}
	}
	return creds, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(name string) error {
	return ErrStoreUnavailable
}

// Exists checks if the environment carries the credential
func (e *EnvironmentStore) Exists(name string) bool {
	_, err := e.Retrieve(name)
	return err == nil
}
