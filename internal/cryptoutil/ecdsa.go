package cryptoutil

import (
	"fmt"
	"strconv"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ethPersonalSignHash reproduces the "personal_sign" digest wallets sign
// over: keccak256("\x19Ethereum Signed Message:\n" || len(text) || text).
func ethPersonalSignHash(text []byte) []byte {
	prefixed := append([]byte("\x19Ethereum Signed Message:\n"+strconv.Itoa(len(text))), text...)
	return ethcrypto.Keccak256(prefixed)
}

// RecoverWalletAddress recovers the 20-byte Ethereum-style address that
// produced a 65-byte recoverable ECDSA signature over canonicalText, using
// the personal_sign convention (the "recoverable ECDSA (wallet)" signature
// variant in the data model).
func RecoverWalletAddress(canonicalText, sig []byte) (string, error) {
	if len(sig) != 65 {
		return "", fmt.Errorf("wallet signature must be 65 bytes, got %d", len(sig))
	}
	digest := ethPersonalSignHash(canonicalText)
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return "", fmt.Errorf("recover wallet signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub).Hex(), nil
}

// RecoverLegacyDelegatedAddress recovers the signer of a "legacy delegated
// ECDSA" signature, which commits directly over the raw canonical text
// digest (no personal_sign prefix) — the convention used by mlsgit's
// predecessor wallets before personal_sign-style delegation was adopted.
func RecoverLegacyDelegatedAddress(canonicalText, sig []byte) (string, error) {
	if len(sig) != 65 {
		return "", fmt.Errorf("legacy delegated signature must be 65 bytes, got %d", len(sig))
	}
	digest := ethcrypto.Keccak256(canonicalText)
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return "", fmt.Errorf("recover legacy delegated signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub).Hex(), nil
}

// SignWallet signs canonicalText the way a wallet's personal_sign would,
// for use in tests that need a full round trip without an external wallet.
func SignWallet(priv []byte, canonicalText []byte) ([]byte, error) {
	key, err := ethcrypto.ToECDSA(priv)
	if err != nil {
		return nil, fmt.Errorf("load ecdsa key: %w", err)
	}
	digest := ethPersonalSignHash(canonicalText)
	sig, err := ethcrypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}

// SignLegacyDelegated signs canonicalText directly (no personal_sign
// prefix), for use in tests of the legacy delegated ECDSA variant.
func SignLegacyDelegated(priv []byte, canonicalText []byte) ([]byte, error) {
	key, err := ethcrypto.ToECDSA(priv)
	if err != nil {
		return nil, fmt.Errorf("load ecdsa key: %w", err)
	}
	digest := ethcrypto.Keccak256(canonicalText)
	sig, err := ethcrypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}

// GenerateWalletKey generates a new secp256k1 key and returns its raw
// private key bytes alongside the wallet address it corresponds to, in the
// lowercase form the identity layer stores recovered signers under, for
// test fixtures.
func GenerateWalletKey() (priv []byte, address string, err error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, "", fmt.Errorf("generate secp256k1 key: %w", err)
	}
	return ethcrypto.FromECDSA(key), strings.ToLower(ethcrypto.PubkeyToAddress(key.PublicKey).Hex()), nil
}
