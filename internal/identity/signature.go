package identity

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/convomls/core/internal/cryptoutil"
)

// SignatureKind tags the four signature variants the data model allows.
type SignatureKind int

const (
	SigWalletECDSA SignatureKind = iota
	SigInstallationEd25519
	SigSmartContractWallet
	SigLegacyDelegatedECDSA
)

// Signature is a tagged variant over the supported signature kinds. Every
// signature commits over the canonical text derived from the complete
// unsigned update it accompanies.
type Signature struct {
	Kind SignatureKind
	// Bytes is the raw signature: 65-byte recoverable ECDSA for wallet and
	// legacy-delegated, 64-byte Ed25519 for installation, opaque for SCW.
	Bytes []byte

	// InstallationPub is set (and required) for SigInstallationEd25519.
	InstallationPub []byte

	// AccountId and BlockNumber are set for SigSmartContractWallet. A nil
	// BlockNumber means the block is not yet resolved.
	AccountId   string
	BlockNumber *uint64
}

// ScwVerifier is the external ERC-1271 collaborator used to verify
// smart-contract-wallet signatures at a pinned block number.
type ScwVerifier interface {
	VerifySmartContractWallet(ctx context.Context, accountId string, blockNumber uint64, text, sig []byte) (bool, error)
}

// recoveredSigner verifies sig against canonicalText and returns the
// MemberIdentifier it recovers to.
func recoveredSigner(ctx context.Context, canonicalText []byte, sig Signature, scw ScwVerifier) (MemberIdentifier, error) {
	switch sig.Kind {
	case SigWalletECDSA:
		addr, err := cryptoutil.RecoverWalletAddress(canonicalText, sig.Bytes)
		if err != nil {
			return MemberIdentifier{}, fmt.Errorf("%w: %v", ErrSignatureVerificationFailed, err)
		}
		return MemberIdentifier{Kind: KindWallet, Value: strings.ToLower(addr)}, nil

	case SigLegacyDelegatedECDSA:
		addr, err := cryptoutil.RecoverLegacyDelegatedAddress(canonicalText, sig.Bytes)
		if err != nil {
			return MemberIdentifier{}, fmt.Errorf("%w: %v", ErrSignatureVerificationFailed, err)
		}
		return MemberIdentifier{Kind: KindWallet, Value: strings.ToLower(addr)}, nil

	case SigInstallationEd25519:
		if len(sig.InstallationPub) == 0 {
			return MemberIdentifier{}, fmt.Errorf("%w: missing installation public key", ErrSignatureVerificationFailed)
		}
		if !cryptoutil.VerifyEd25519(sig.InstallationPub, canonicalText, sig.Bytes) {
			return MemberIdentifier{}, fmt.Errorf("%w: ed25519 verify failed", ErrSignatureVerificationFailed)
		}
		return MemberIdentifier{Kind: KindInstallation, Value: cryptoutil.B64Encode(sig.InstallationPub, true)}, nil

	case SigSmartContractWallet:
		if sig.BlockNumber == nil {
			return MemberIdentifier{}, ErrBlockNumberUnresolved
		}
		if scw == nil {
			return MemberIdentifier{}, fmt.Errorf("%w: no SCW verifier configured", ErrSignatureVerificationFailed)
		}
		ok, err := scw.VerifySmartContractWallet(ctx, sig.AccountId, *sig.BlockNumber, canonicalText, sig.Bytes)
		if err != nil {
			return MemberIdentifier{}, fmt.Errorf("%w: %v", ErrSignatureVerificationFailed, err)
		}
		if !ok {
			return MemberIdentifier{}, fmt.Errorf("%w: scw rejected", ErrSignatureVerificationFailed)
		}
		return MemberIdentifier{Kind: KindWallet, Value: strings.ToLower(sig.AccountId)}, nil

	default:
		return MemberIdentifier{}, fmt.Errorf("%w: unknown signature kind %d", ErrSignatureVerificationFailed, sig.Kind)
	}
}

// CanonicalText derives the byte-reproducible signing text for an
// IdentityUpdate's unsigned contents: a fixed prefix, a text
// encoding of each action in order, the inbox id, and the client
// timestamp.
func CanonicalText(inbox InboxId, ts int64, actions []Action) []byte {
	var b strings.Builder
	b.WriteString("convomls-identity-update-v1\n")
	b.WriteString("inbox:")
	b.WriteString(string(inbox))
	b.WriteString("\n")
	b.WriteString("ts:")
	b.WriteString(strconv.FormatInt(ts, 10))
	b.WriteString("\n")
	for _, a := range actions {
		b.WriteString(encodeAction(a))
		b.WriteString("\n")
	}
	return []byte(b.String())
}

func encodeAction(a Action) string {
	switch a.Kind {
	case ActionCreateInbox:
		return fmt.Sprintf("create_inbox:%s:%s:%d", a.InitialIdentifier.Kind, a.InitialIdentifier.Value, a.Nonce)
	case ActionAddAssociation:
		return fmt.Sprintf("add_association:%s:%s", a.NewMember.Kind, a.NewMember.Value)
	case ActionRevokeAssociation:
		return fmt.Sprintf("revoke_association:%s:%s", a.Target.Kind, a.Target.Value)
	case ActionChangeRecoveryAddress:
		return fmt.Sprintf("change_recovery_address:%s:%s", a.NewRecovery.Kind, a.NewRecovery.Value)
	default:
		return fmt.Sprintf("unknown_action:%d", a.Kind)
	}
}
