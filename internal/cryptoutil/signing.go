package cryptoutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/youmark/pkcs8"
)

// InstallationPassphraseEnv supplies the passphrase used to encrypt an
// installation's Ed25519 private key at rest, when one isn't passed
// explicitly.
const InstallationPassphraseEnv = "CONVOMLS_INSTALLATION_PASSPHRASE"

// GenerateInstallationKey generates the Ed25519 keypair backing one device
// installation.
func GenerateInstallationKey() (ed25519.PrivateKey, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("ed25519 keygen: %w", err)
	}
	return priv, pub, nil
}

// PrivateKeyToPEM serializes an installation private key to PKCS8 PEM,
// encrypting it when a passphrase is supplied.
func PrivateKeyToPEM(key ed25519.PrivateKey, passphrase []byte) (string, error) {
	if len(passphrase) > 0 {
		block, err := pkcs8.MarshalPrivateKey(key, passphrase, nil)
		if err != nil {
			return "", fmt.Errorf("marshal encrypted installation key: %w", err)
		}
		return string(pem.EncodeToMemory(&pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: block})), nil
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("marshal installation key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}

// LoadPrivateKey loads an installation private key from PEM. If passphrase
// is nil, falls back to CONVOMLS_INSTALLATION_PASSPHRASE, then to no
// passphrase for unencrypted keys.
func LoadPrivateKey(pemStr string, passphrase []byte) (ed25519.PrivateKey, error) {
	if passphrase == nil {
		passphrase = passphraseFromEnv()
	}
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("decode installation key PEM: no block found")
	}
	if block.Type == "ENCRYPTED PRIVATE KEY" {
		key, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, passphrase)
		if err != nil {
			return nil, fmt.Errorf("decrypt installation key: %w", err)
		}
		edKey, ok := key.(ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("installation key is not Ed25519")
		}
		return edKey, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse installation key: %w", err)
	}
	edKey, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("installation key is not Ed25519")
	}
	return edKey, nil
}

// SignEd25519 signs data with an installation's Ed25519 key.
func SignEd25519(priv ed25519.PrivateKey, data []byte) []byte {
	return ed25519.Sign(priv, data)
}

// VerifyEd25519 verifies an Ed25519 signature.
func VerifyEd25519(pub ed25519.PublicKey, data, sig []byte) bool {
	return ed25519.Verify(pub, data, sig)
}

func passphraseFromEnv() []byte {
	if v := os.Getenv(InstallationPassphraseEnv); v != "" {
		return []byte(v)
	}
	return nil
}
