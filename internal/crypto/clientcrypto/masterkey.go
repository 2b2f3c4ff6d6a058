package clientcrypto

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/and161185/keycache/internal/errs"
	"github.com/and161185/keycache/internal/model"
)

// MasterKey is the symmetric key that encrypts all cards. It lives in memory
// only; Destroy wipes it.
type MasterKey struct {
	k []byte
}

// GenerateMasterKey returns a fresh random 256-bit master key.
func GenerateMasterKey() (*MasterKey, error) {
	k, err := Rand(KeyLen)
	if err != nil {
		return nil, err
	}
	return &MasterKey{k: k}, nil
}

// Destroy zeroes the key material. The key is unusable afterwards.
func (m *MasterKey) Destroy() {
	if m == nil {
		return
	}
	Zero(m.k)
	m.k = nil
}

// Destroyed reports whether Destroy was called.
func (m *MasterKey) Destroyed() bool { return m == nil || len(m.k) == 0 }

func (m *MasterKey) bytes() ([]byte, error) {
	if m.Destroyed() {
		return nil, errs.ErrNotAuthenticated
	}
	return m.k, nil
}

// jwk is the exported form of the master key that gets wrapped. It matches
// what the browser extension produced, so profiles are portable.
type jwk struct {
	Alg    string   `json:"alg"`
	Ext    bool     `json:"ext"`
	K      string   `json:"k"`
	KeyOps []string `json:"key_ops"`
	Kty    string   `json:"kty"`
}

// WrapKey encrypts key under a key derived from passphrase. A fresh salt and
// IV are drawn on every call.
func WrapKey(passphrase string, key *MasterKey) (model.WrappedKeyData, error) {
	raw, err := key.bytes()
	if err != nil {
		return model.WrappedKeyData{}, err
	}
	salt, err := Rand(WrapSaltLen)
	if err != nil {
		return model.WrappedKeyData{}, err
	}
	iv, err := Rand(IVLen)
	if err != nil {
		return model.WrappedKeyData{}, err
	}

	doc, err := json.Marshal(jwk{
		Alg:    "A256CBC",
		Ext:    true,
		K:      base64.RawURLEncoding.EncodeToString(raw),
		KeyOps: []string{"encrypt", "decrypt"},
		Kty:    "oct",
	})
	if err != nil {
		return model.WrappedKeyData{}, err
	}
	defer Zero(doc)

	wk := DeriveWrappingKey(passphrase, salt)
	defer Zero(wk)

	wrapped, err := cbcEncrypt(wk, iv, doc)
	if err != nil {
		return model.WrappedKeyData{}, err
	}
	return model.WrappedKeyData{
		Wrapped: base64.StdEncoding.EncodeToString(wrapped),
		IV:      base64.StdEncoding.EncodeToString(iv),
		Salt:    base64.StdEncoding.EncodeToString(salt),
	}, nil
}

// UnwrapKey recovers the master key. Any failure after decoding the stored
// fields (padding, JWK parsing, key size) means the passphrase is wrong and is
// reported as errs.ErrAuthentication without further detail.
func UnwrapKey(passphrase string, data model.WrappedKeyData) (*MasterKey, error) {
	salt, err := base64.StdEncoding.DecodeString(data.Salt)
	if err != nil {
		return nil, fmt.Errorf("%w: salt: %v", errs.ErrValidation, err)
	}
	iv, err := base64.StdEncoding.DecodeString(data.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: iv: %v", errs.ErrValidation, err)
	}
	wrapped, err := base64.StdEncoding.DecodeString(data.Wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: wrapped: %v", errs.ErrValidation, err)
	}

	wk := DeriveWrappingKey(passphrase, salt)
	defer Zero(wk)

	doc, err := cbcDecrypt(wk, iv, wrapped)
	if err != nil {
		return nil, errs.ErrAuthentication
	}
	defer Zero(doc)

	var j jwk
	if err := json.Unmarshal(doc, &j); err != nil || j.Kty != "oct" {
		return nil, errs.ErrAuthentication
	}
	k, err := base64.RawURLEncoding.DecodeString(j.K)
	if err != nil || len(k) != KeyLen {
		return nil, errs.ErrAuthentication
	}
	return &MasterKey{k: k}, nil
}
