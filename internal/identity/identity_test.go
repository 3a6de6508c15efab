package identity

import (
	"context"
	"testing"

	"github.com/convomls/core/internal/cryptoutil"
)

func TestCreateThenAddInstallation(t *testing.T) {
	walletPriv, walletAddr, err := cryptoutil.GenerateWalletKey()
	if err != nil {
		t.Fatal(err)
	}
	w := MemberIdentifier{Kind: KindWallet, Value: walletAddr}
	inbox := InboxId(cryptoutil.DeriveInboxId([]byte(walletAddr), 0))

	// --- CreateInbox ---
	createReq, err := NewSignatureRequest(inbox, 1, []Action{
		{Kind: ActionCreateInbox, InitialIdentifier: w, Nonce: 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	sig, err := cryptoutil.SignWallet(walletPriv, createReq.CanonicalText())
	if err != nil {
		t.Fatal(err)
	}
	if err := createReq.AddSignature(context.Background(), Signature{Kind: SigWalletECDSA, Bytes: sig}, nil, NewEmptyState(inbox)); err != nil {
		t.Fatalf("add signature: %v", err)
	}
	if missing := createReq.MissingSignatures(); len(missing) != 0 {
		t.Fatalf("expected no missing signatures, got %v", missing)
	}
	createUpdate, err := createReq.BuildIdentityUpdate()
	if err != nil {
		t.Fatal(err)
	}

	ev := NewEvaluator(nil, nil)
	state, _, err := ev.Apply(context.Background(), NewEmptyState(inbox), createUpdate)
	if err != nil {
		t.Fatalf("apply create: %v", err)
	}
	if len(state.Members) != 1 || !state.Members[0].Identifier.Equal(w) {
		t.Fatalf("expected single wallet member, got %+v", state.Members)
	}

	// --- AddAssociation(installation K1) ---
	installPriv, installPub, err := cryptoutil.GenerateInstallationKey()
	if err != nil {
		t.Fatal(err)
	}
	k1 := MemberIdentifier{Kind: KindInstallation, Value: cryptoutil.B64Encode(installPub, true)}

	addReq, err := NewSignatureRequest(inbox, 2, []Action{
		{Kind: ActionAddAssociation, NewMember: k1},
	})
	if err != nil {
		t.Fatal(err)
	}
	authSig, err := cryptoutil.SignWallet(walletPriv, addReq.CanonicalText())
	if err != nil {
		t.Fatal(err)
	}
	if err := addReq.AddSignature(context.Background(), Signature{Kind: SigWalletECDSA, Bytes: authSig}, nil, state); err != nil {
		t.Fatalf("add authorizer signature: %v", err)
	}
	newMemberSig := cryptoutil.SignEd25519(installPriv, addReq.CanonicalText())
	if err := addReq.AddSignature(context.Background(), Signature{Kind: SigInstallationEd25519, Bytes: newMemberSig, InstallationPub: installPub}, nil, state); err != nil {
		t.Fatalf("add new member signature: %v", err)
	}
	addUpdate, err := addReq.BuildIdentityUpdate()
	if err != nil {
		t.Fatal(err)
	}

	state2, diff, err := ev.Apply(context.Background(), state, addUpdate)
	if err != nil {
		t.Fatalf("apply add: %v", err)
	}
	if len(state2.Members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(state2.Members))
	}
	if len(diff.AddedMembers) != 1 || !diff.AddedMembers[0].Identifier.Equal(k1) {
		t.Fatalf("expected k1 in diff.AddedMembers, got %+v", diff.AddedMembers)
	}
	for _, m := range state2.Members {
		if !m.AddedByEntity.Equal(w) {
			t.Fatalf("expected added_by_entity=%s for %s, got %s", w, m.Identifier, m.AddedByEntity)
		}
	}
}

func TestUnknownSignerRejected(t *testing.T) {
	_, walletAddr, err := cryptoutil.GenerateWalletKey()
	if err != nil {
		t.Fatal(err)
	}
	otherPriv, _, err := cryptoutil.GenerateWalletKey()
	if err != nil {
		t.Fatal(err)
	}
	w := MemberIdentifier{Kind: KindWallet, Value: walletAddr}
	inbox := InboxId("inbox-1")

	req, err := NewSignatureRequest(inbox, 1, []Action{
		{Kind: ActionCreateInbox, InitialIdentifier: w, Nonce: 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	badSig, err := cryptoutil.SignWallet(otherPriv, req.CanonicalText())
	if err != nil {
		t.Fatal(err)
	}
	err = req.AddSignature(context.Background(), Signature{Kind: SigWalletECDSA, Bytes: badSig}, nil, NewEmptyState(inbox))
	if err == nil {
		t.Fatal("expected UnknownSigner error")
	}
	if missing := req.MissingSignatures(); len(missing) == 0 {
		t.Fatal("expected the request to remain unfulfilled")
	}
}

func TestReplayedSignatureRejected(t *testing.T) {
	walletPriv, walletAddr, err := cryptoutil.GenerateWalletKey()
	if err != nil {
		t.Fatal(err)
	}
	w := MemberIdentifier{Kind: KindWallet, Value: walletAddr}
	inbox := InboxId("inbox-replay")

	req, _ := NewSignatureRequest(inbox, 1, []Action{{Kind: ActionCreateInbox, InitialIdentifier: w, Nonce: 0}})
	sig, err := cryptoutil.SignWallet(walletPriv, req.CanonicalText())
	if err != nil {
		t.Fatal(err)
	}
	if err := req.AddSignature(context.Background(), Signature{Kind: SigWalletECDSA, Bytes: sig}, nil, NewEmptyState(inbox)); err != nil {
		t.Fatal(err)
	}
	update, err := req.BuildIdentityUpdate()
	if err != nil {
		t.Fatal(err)
	}

	ev := NewEvaluator(nil, nil)
	state, _, err := ev.Apply(context.Background(), NewEmptyState(inbox), update)
	if err != nil {
		t.Fatal(err)
	}

	// Reuse the exact same signature bytes in a second (otherwise valid)
	// update — must be rejected as a replay.
	replay := IdentityUpdate{
		InboxId:           inbox,
		ClientTimestampNs: 2,
		Actions:           []Action{{Kind: ActionChangeRecoveryAddress, NewRecovery: w}},
		Signatures:        []Signature{{Kind: SigWalletECDSA, Bytes: sig}},
	}
	if _, _, err := ev.Apply(context.Background(), state, replay); err == nil {
		t.Fatal("expected replay rejection")
	}
}
