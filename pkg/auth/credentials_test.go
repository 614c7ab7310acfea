package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialManager(t *testing.T) {
	manager, mockStore := NewMockManager()

	require.NoError(t, manager.Store(&Credential{Name: "apify", Secret: "apify_api_1234567890"}))

	cred, err := manager.Retrieve("apify")
	require.NoError(t, err)
	assert.Equal(t, "apify_api_1234567890", cred.Secret)
	assert.False(t, cred.LastModified.IsZero())

	secret, err := manager.Lookup("apify")
	require.NoError(t, err)
	assert.Equal(t, "apify_api_1234567890", secret)

	_, err = manager.Lookup("openai")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)

	creds, err := manager.List()
	require.NoError(t, err)
	require.Len(t, creds, 1)

	require.NoError(t, manager.Delete("apify"))
	assert.Zero(t, mockStore.Count())
	assert.Error(t, manager.Delete("apify"))
}

func TestManagerStoreValidates(t *testing.T) {
	manager, _ := NewMockManager()
	assert.Error(t, manager.Store(&Credential{Secret: "x"}))
	assert.Error(t, manager.Store(&Credential{Name: "apify"}))
	assert.Error(t, manager.Store(nil))
}

func TestManagerFallsThroughStores(t *testing.T) {
	broken := NewMockStore()
	broken.StoreError = errors.New("locked")
	broken.RetrieveError = errors.New("locked")
	backup := NewMockStore()
	manager := NewManagerWithStores(broken, backup)

	require.NoError(t, manager.Store(&Credential{Name: "openai", Secret: "sk-123"}))
	assert.True(t, backup.Exists("openai"))

	secret, err := manager.Lookup("openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-123", secret)
}

func TestSanitize(t *testing.T) {
	cred := &Credential{Name: "openai", Secret: "sk-abcdefghijkl"}
	masked := Sanitize(cred)
	assert.Equal(t, "sk-a...ijkl", masked.Secret)
	assert.Equal(t, "openai", masked.Name)
	assert.Equal(t, "********", Sanitize(&Credential{Secret: "short"}).Secret)
	assert.Nil(t, Sanitize(nil))
}

func TestEncryptedFileStore(t *testing.T) {
	t.Setenv("TWEETDIGEST_PASSPHRASE", "test_passphrase_123")
	path := filepath.Join(t.TempDir(), "credentials.enc")

	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)

	require.NoError(t, store.Store(&Credential{Name: "feishu", Secret: "feishu-app-secret"}))
	require.NoError(t, store.Store(&Credential{Name: "apify", Secret: "apify-token"}))

	cred, err := store.Retrieve("feishu")
	require.NoError(t, err)
	assert.Equal(t, "feishu-app-secret", cred.Secret)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(content), "feishu-app-secret")

	reopened, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	creds, err := reopened.List()
	require.NoError(t, err)
	assert.Len(t, creds, 2)

	require.NoError(t, reopened.Delete("feishu"))
	require.NoError(t, reopened.Delete("apify"))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "the file is removed with its last secret")

	_, err = reopened.Retrieve("apify")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
}

func TestEncryptedFileStoreWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.enc")

	t.Setenv("TWEETDIGEST_PASSPHRASE", "right")
	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Store(&Credential{Name: "apify", Secret: "token"}))

	t.Setenv("TWEETDIGEST_PASSPHRASE", "wrong")
	other, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	_, err = other.Retrieve("apify")
	assert.ErrorIs(t, err, ErrDecrypt)
	assert.NotErrorIs(t, err, ErrCredentialsNotFound)
}

func TestEncryptedFileStoreBindsEntriesToNames(t *testing.T) {
	t.Setenv("TWEETDIGEST_PASSPHRASE", "pw")
	path := filepath.Join(t.TempDir(), "credentials.enc")
	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Store(&Credential{Name: "apify", Secret: "token"}))
	require.NoError(t, store.Store(&Credential{Name: "openai", Secret: "key"}))

	var v vaultFile
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(content, &v))
	v.Entries["openai"] = v.Entries["apify"]
	content, err = json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, content, 0600))

	_, err = store.Retrieve("openai")
	assert.ErrorIs(t, err, ErrDecrypt)
	cred, err := store.Retrieve("apify")
	require.NoError(t, err)
	assert.Equal(t, "token", cred.Secret)
}

func TestEncryptedFileStoreGeneratesPassphrase(t *testing.T) {
	t.Setenv("TWEETDIGEST_PASSPHRASE", "")
	dir := t.TempDir()

	store, err := NewEncryptedFileStore(filepath.Join(dir, "credentials.enc"))
	require.NoError(t, err)
	require.NoError(t, store.Store(&Credential{Name: "feishu", Secret: "s"}))
	assert.FileExists(t, filepath.Join(dir, ".passphrase"))

	again, err := NewEncryptedFileStore(filepath.Join(dir, "credentials.enc"))
	require.NoError(t, err)
	cred, err := again.Retrieve("feishu")
	require.NoError(t, err)
	assert.Equal(t, "s", cred.Secret)
}

func TestEnvironmentStore(t *testing.T) {
	t.Setenv("APIFY_TOKEN", "env-token")
	t.Setenv("OPENAI_API_KEY", "")

	store := NewEnvironmentStore()

	cred, err := store.Retrieve("apify")
	require.NoError(t, err)
	assert.Equal(t, "env-token", cred.Secret)

	_, err = store.Retrieve("openai")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
	_, err = store.Retrieve("unknown")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)

	assert.True(t, store.Exists("apify"))
	assert.ErrorIs(t, store.Store(&Credential{Name: "apify", Secret: "x"}), ErrStoreUnavailable)
	assert.ErrorIs(t, store.Delete("apify"), ErrStoreUnavailable)
}

func TestWriteGuide(t *testing.T) {
	var buf bytes.Buffer
	WriteGuide(&buf, "apify")
	assert.Contains(t, buf.String(), "console.apify.com")
	assert.Contains(t, buf.String(), "APIFY_TOKEN")

	buf.Reset()
	WriteGuide(&buf, "twitter")
	assert.Contains(t, buf.String(), "Unknown credential")
	assert.Contains(t, buf.String(), "FEISHU_APP_SECRET")
}
