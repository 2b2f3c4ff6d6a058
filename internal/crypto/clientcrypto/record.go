package clientcrypto

import (
	"encoding/base64"
	"fmt"

	"github.com/and161185/keycache/internal/errs"
	"github.com/and161185/keycache/internal/model"
)

// EncryptString encrypts plaintext under key with a fresh random IV.
func EncryptString(key *MasterKey, plaintext string) (model.EncryptedCardData, error) {
	raw, err := key.bytes()
	if err != nil {
		return model.EncryptedCardData{}, err
	}
	iv, err := Rand(IVLen)
	if err != nil {
		return model.EncryptedCardData{}, err
	}
	ct, err := cbcEncrypt(raw, iv, []byte(plaintext))
	if err != nil {
		return model.EncryptedCardData{}, err
	}
	return model.EncryptedCardData{
		IV64:         base64.StdEncoding.EncodeToString(iv),
		CipherText64: base64.StdEncoding.EncodeToString(ct),
	}, nil
}

// DecryptString reverses EncryptString. Malformed input and padding failures
// are reported as errs.ErrDecryption.
func DecryptString(key *MasterKey, data model.EncryptedCardData) (string, error) {
	raw, err := key.bytes()
	if err != nil {
		return "", err
	}
	iv, err := base64.StdEncoding.DecodeString(data.IV64)
	if err != nil {
		return "", fmt.Errorf("%w: iv: %v", errs.ErrDecryption, err)
	}
	ct, err := base64.StdEncoding.DecodeString(data.CipherText64)
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext: %v", errs.ErrDecryption, err)
	}
	pt, err := cbcDecrypt(raw, iv, ct)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrDecryption, err)
	}
	return string(pt), nil
}
