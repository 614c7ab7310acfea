package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/theoren0108/TweetDigest/pkg/checkpoint"
)

const (
	vaultVersion = 2
	saltSize     = 32
	keySize      = 32
	iterations   = 100000
)

// ErrDecrypt means the vault exists but the passphrase does not open it
var ErrDecrypt = errors.New("cannot decrypt credential vault")

// vaultFile is the on-disk layout. Each secret is sealed on its own with its
// name as additional data, so an entry cannot be moved to another name.
type vaultFile struct {
	Version int                    `json:"version"`
	Salt    []byte                 `json:"salt"`
	Entries map[string]sealedEntry `json:"entries"`
}

type sealedEntry struct {
	Nonce    []byte    `json:"nonce"`
	Data     []byte    `json:"data"`
	Modified time.Time `json:"modified"`
}

// EncryptedFileStore keeps secrets in an AES-GCM sealed file, keyed by a
// PBKDF2 derivation of TWEETDIGEST_PASSPHRASE or a generated passphrase
// stored next to the file.
type EncryptedFileStore struct {
	path       string
	passphrase string

	mu      sync.Mutex
	keySalt []byte
	key     []byte
}

// NewEncryptedFileStore opens (or prepares) the vault at path
func NewEncryptedFileStore(path string) (*EncryptedFileStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	pass, err := loadPassphrase(filepath.Join(dir, ".passphrase"))
	if err != nil {
		return nil, fmt.Errorf("failed to get passphrase: %w", err)
	}
	return &EncryptedFileStore{path: path, passphrase: pass}, nil
}

func (e *EncryptedFileStore) Store(cred *Credential) error {
	if cred == nil || cred.Name == "" {
		return ErrInvalidCredentials
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := e.read()
	if errors.Is(err, os.ErrNotExist) {
		v, err = newVault()
	}
	if err != nil {
		return err
	}

	modified := cred.LastModified
	if modified.IsZero() {
		modified = time.Now()
	}
	entry, err := e.seal(v.Salt, cred.Name, []byte(cred.Secret))
	if err != nil {
		return err
	}
	entry.Modified = modified
	v.Entries[cred.Name] = entry
	return e.write(v)
}

func (e *EncryptedFileStore) Retrieve(name string) (*Credential, error) {
	if name == "" {
		return nil, ErrInvalidCredentials
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := e.read()
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrCredentialsNotFound
	}
	if err != nil {
		return nil, err
	}
	entry, ok := v.Entries[name]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return e.open(v.Salt, name, entry)
}

// List decrypts every entry. One bad entry fails the whole listing.
func (e *EncryptedFileStore) List() ([]*Credential, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := e.read()
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]*Credential, 0, len(v.Entries))
	for name, entry := range v.Entries {
		cred, err := e.open(v.Salt, name, entry)
		if err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	return out, nil
}

// Delete removes name; the file goes with its last entry
func (e *EncryptedFileStore) Delete(name string) error {
	if name == "" {
		return ErrInvalidCredentials
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := e.read()
	if errors.Is(err, os.ErrNotExist) {
		return ErrCredentialsNotFound
	}
	if err != nil {
		return err
	}
	if _, ok := v.Entries[name]; !ok {
		return ErrCredentialsNotFound
	}
	delete(v.Entries, name)
	if len(v.Entries) == 0 {
		return os.Remove(e.path)
	}
	return e.write(v)
}

func (e *EncryptedFileStore) Exists(name string) bool {
	_, err := e.Retrieve(name)
	return err == nil
}

func newVault() (*vaultFile, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return &vaultFile{Version: vaultVersion, Salt: salt, Entries: make(map[string]sealedEntry)}, nil
}

func (e *EncryptedFileStore) read() (*vaultFile, error) {
	content, err := os.ReadFile(e.path)
	if err != nil {
		return nil, err
	}
	var v vaultFile
	if err := json.Unmarshal(content, &v); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", e.path, err)
	}
	if v.Version != vaultVersion || len(v.Salt) == 0 {
		return nil, fmt.Errorf("unsupported vault format in %s", e.path)
	}
	if v.Entries == nil {
		v.Entries = make(map[string]sealedEntry)
	}
	return &v, nil
}

func (e *EncryptedFileStore) write(v *vaultFile) error {
	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal vault: %w", err)
	}
	return checkpoint.WriteFileAtomic(e.path, content, 0600)
}

// aead derives the key for salt, reusing the last derivation
func (e *EncryptedFileStore) aead(salt []byte) (cipher.AEAD, error) {
	if e.key == nil || string(e.keySalt) != string(salt) {
		e.key = pbkdf2.Key([]byte(e.passphrase), salt, iterations, keySize, sha256.New)
		e.keySalt = append([]byte(nil), salt...)
	}
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (e *EncryptedFileStore) seal(salt []byte, name string, secret []byte) (sealedEntry, error) {
	gcm, err := e.aead(salt)
	if err != nil {
		return sealedEntry{}, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return sealedEntry{}, err
	}
	return sealedEntry{Nonce: nonce, Data: gcm.Seal(nil, nonce, secret, []byte(name))}, nil
}

func (e *EncryptedFileStore) open(salt []byte, name string, entry sealedEntry) (*Credential, error) {
	gcm, err := e.aead(salt)
	if err != nil {
		return nil, err
	}
	if len(entry.Nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce for %s", ErrDecrypt, name)
	}
	plain, err := gcm.Open(nil, entry.Nonce, entry.Data, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecrypt, name)
	}
	return &Credential{Name: name, Secret: string(plain), LastModified: entry.Modified}, nil
}

// loadPassphrase prefers TWEETDIGEST_PASSPHRASE, then the passphrase file,
// generating one on first use
func loadPassphrase(path string) (string, error) {
	if pass := os.Getenv("TWEETDIGEST_PASSPHRASE"); pass != "" {
		return pass, nil
	}
	if content, err := os.ReadFile(path); err == nil && len(content) > 0 {
		return string(content), nil
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	pass := base64.RawURLEncoding.EncodeToString(b)
	if err := checkpoint.WriteFileAtomic(path, []byte(pass), 0600); err != nil {
		return "", fmt.Errorf("failed to save passphrase: %w", err)
	}
	return pass, nil
}
