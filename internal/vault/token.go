package vault

import (
	"encoding/base64"
	"fmt"

	"github.com/dukerupert/cohabit/internal/store"
)

const (
	tokenKey = "auth:token"
	saltKey  = "vault:salt"
)

// TokenStore keeps the bearer token in the local store, sealed when a
// storage secret is configured.
type TokenStore struct {
	kv     *store.KVStore
	sealer *Sealer
}

// NewTokenStore loads or creates the per-install salt and derives the
// sealing key from secret.
func NewTokenStore(kv *store.KVStore, secret string) (*TokenStore, error) {
	salt, err := loadSalt(kv)
	if err != nil {
		return nil, err
	}
	sealer, err := NewSealer(secret, salt)
	if err != nil {
		return nil, err
	}
	return &TokenStore{kv: kv, sealer: sealer}, nil
}

func loadSalt(kv *store.KVStore) ([]byte, error) {
	raw, ok, err := kv.Get(saltKey)
	if err != nil {
		return nil, fmt.Errorf("load salt: %w", err)
	}
	if ok {
		salt, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode salt: %w", err)
		}
		return salt, nil
	}

	salt, err := GenerateSalt()
	if err != nil {
		return nil, err
	}
	if err := kv.Set(saltKey, base64.StdEncoding.EncodeToString(salt)); err != nil {
		return nil, fmt.Errorf("save salt: %w", err)
	}
	return salt, nil
}

// Token returns the stored token, or "" when none is stored. A token that
// can no longer be opened is treated as absent.
func (t *TokenStore) Token() (string, error) {
	raw, ok, err := t.kv.Get(tokenKey)
	if err != nil || !ok {
		return "", err
	}
	token, err := t.sealer.Open(raw)
	if err != nil {
		return "", nil
	}
	return token, nil
}

func (t *TokenStore) SetToken(token string) error {
	sealed, err := t.sealer.Seal(token)
	if err != nil {
		return fmt.Errorf("seal token: %w", err)
	}
	return t.kv.Set(tokenKey, sealed)
}

func (t *TokenStore) ClearToken() error {
	return t.kv.Delete(tokenKey)
}
