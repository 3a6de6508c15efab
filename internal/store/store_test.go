package store

import (
	"context"
	"testing"

	"github.com/convomls/core/internal/cryptoutil"
	"github.com/convomls/core/internal/identity"
)

func TestCursorAdvanceRejectsBackwardMove(t *testing.T) {
	cs := NewCursorStore()
	if err := cs.Advance("group-1", 5); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if got := cs.Get("group-1"); got != 5 {
		t.Fatalf("expected cursor 5, got %d", got)
	}
	if err := cs.Advance("group-1", 3); err == nil {
		t.Fatal("expected backward move to be rejected")
	}
	if got := cs.Get("group-1"); got != 5 {
		t.Fatalf("expected cursor to remain 5 after rejected move, got %d", got)
	}
}

func TestCursorAdvanceAllowsEqualOrForwardMove(t *testing.T) {
	cs := NewCursorStore()
	if err := cs.Advance("group-1", 5); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := cs.Advance("group-1", 5); err != nil {
		t.Fatalf("expected equal move to be allowed, got %v", err)
	}
	if err := cs.Advance("group-1", 9); err != nil {
		t.Fatalf("expected forward move to be allowed, got %v", err)
	}
}

// fixture bundles the key material and signed updates produced by
// buildFixture, so later stages (e.g. a revocation) can sign further
// updates against the same wallet.
type fixture struct {
	inbox         identity.InboxId
	walletPriv    []byte
	w             identity.MemberIdentifier
	createUpdate  identity.IdentityUpdate
	addUpdate     identity.IdentityUpdate
	installId     string
	stateAfterAdd *identity.AssociationState
}

// buildFixture produces a valid two-update identity log: CreateInbox
// authorized by the wallet, then AddAssociation of an installation
// authorized by the same wallet and counter-signed by the new installation.
func buildFixture(t *testing.T) fixture {
	t.Helper()

	walletPriv, walletAddr, err := cryptoutil.GenerateWalletKey()
	if err != nil {
		t.Fatal(err)
	}
	w := identity.MemberIdentifier{Kind: identity.KindWallet, Value: walletAddr}
	inbox := identity.InboxId(cryptoutil.DeriveInboxId([]byte(walletAddr), 0))

	createReq, err := identity.NewSignatureRequest(inbox, 1, []identity.Action{
		{Kind: identity.ActionCreateInbox, InitialIdentifier: w, Nonce: 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	sig, err := cryptoutil.SignWallet(walletPriv, createReq.CanonicalText())
	if err != nil {
		t.Fatal(err)
	}
	if err := createReq.AddSignature(context.Background(), identity.Signature{Kind: identity.SigWalletECDSA, Bytes: sig}, nil, identity.NewEmptyState(inbox)); err != nil {
		t.Fatal(err)
	}
	createUpdate, err := createReq.BuildIdentityUpdate()
	if err != nil {
		t.Fatal(err)
	}

	ev := identity.NewEvaluator(nil, nil)
	state, _, err := ev.Apply(context.Background(), identity.NewEmptyState(inbox), createUpdate)
	if err != nil {
		t.Fatal(err)
	}

	installPriv, installPub, err := cryptoutil.GenerateInstallationKey()
	if err != nil {
		t.Fatal(err)
	}
	installId := cryptoutil.B64Encode(installPub, true)
	k1 := identity.MemberIdentifier{Kind: identity.KindInstallation, Value: installId}

	addReq, err := identity.NewSignatureRequest(inbox, 2, []identity.Action{
		{Kind: identity.ActionAddAssociation, NewMember: k1},
	})
	if err != nil {
		t.Fatal(err)
	}
	authSig, err := cryptoutil.SignWallet(walletPriv, addReq.CanonicalText())
	if err != nil {
		t.Fatal(err)
	}
	if err := addReq.AddSignature(context.Background(), identity.Signature{Kind: identity.SigWalletECDSA, Bytes: authSig}, nil, state); err != nil {
		t.Fatal(err)
	}
	newMemberSig := cryptoutil.SignEd25519(installPriv, addReq.CanonicalText())
	if err := addReq.AddSignature(context.Background(), identity.Signature{Kind: identity.SigInstallationEd25519, Bytes: newMemberSig, InstallationPub: installPub}, nil, state); err != nil {
		t.Fatal(err)
	}
	addUpdate, err := addReq.BuildIdentityUpdate()
	if err != nil {
		t.Fatal(err)
	}

	stateAfterAdd, _, err := ev.Apply(context.Background(), state, addUpdate)
	if err != nil {
		t.Fatal(err)
	}

	return fixture{
		inbox:         inbox,
		walletPriv:    walletPriv,
		w:             w,
		createUpdate:  createUpdate,
		addUpdate:     addUpdate,
		installId:     installId,
		stateAfterAdd: stateAfterAdd,
	}
}

func TestIdentityLogAppendThenAuthorizesInstallations(t *testing.T) {
	fx := buildFixture(t)

	log := NewIdentityLogStore(identity.NewEvaluator(nil, nil))
	if _, err := log.Append(context.Background(), fx.createUpdate); err != nil {
		t.Fatalf("append create: %v", err)
	}
	if _, err := log.Append(context.Background(), fx.addUpdate); err != nil {
		t.Fatalf("append add: %v", err)
	}

	ok, err := log.AuthorizesInstallations(context.Background(), string(fx.inbox), log.LatestSequenceId(fx.inbox), []string{fx.installId})
	if err != nil {
		t.Fatalf("authorizes: %v", err)
	}
	if !ok {
		t.Fatal("expected installation to be authorized after AddAssociation")
	}

	ok, err = log.AuthorizesInstallations(context.Background(), string(fx.inbox), 1, []string{fx.installId})
	if err != nil {
		t.Fatalf("authorizes at seq 1: %v", err)
	}
	if ok {
		t.Fatal("expected installation to not yet be authorized before its AddAssociation was applied")
	}
}

func TestInstallationsSinceDiffsAcrossRevoke(t *testing.T) {
	fx := buildFixture(t)

	log := NewIdentityLogStore(identity.NewEvaluator(nil, nil))
	if _, err := log.Append(context.Background(), fx.createUpdate); err != nil {
		t.Fatalf("append create: %v", err)
	}
	afterCreateSeq := log.LatestSequenceId(fx.inbox)
	if _, err := log.Append(context.Background(), fx.addUpdate); err != nil {
		t.Fatalf("append add: %v", err)
	}

	added, removed, latest, err := log.InstallationsSince(context.Background(), string(fx.inbox), afterCreateSeq)
	if err != nil {
		t.Fatalf("installations since: %v", err)
	}
	if len(added) != 1 || added[0] != fx.installId {
		t.Fatalf("expected %q added, got %v", fx.installId, added)
	}
	if len(removed) != 0 {
		t.Fatalf("expected no removals, got %v", removed)
	}
	afterAddSeq := latest

	revokeReq, err := identity.NewSignatureRequest(fx.inbox, 3, []identity.Action{
		{Kind: identity.ActionRevokeAssociation, Target: identity.MemberIdentifier{Kind: identity.KindInstallation, Value: fx.installId}},
	})
	if err != nil {
		t.Fatal(err)
	}
	revokeSig, err := cryptoutil.SignWallet(fx.walletPriv, revokeReq.CanonicalText())
	if err != nil {
		t.Fatal(err)
	}
	if err := revokeReq.AddSignature(context.Background(), identity.Signature{Kind: identity.SigWalletECDSA, Bytes: revokeSig}, nil, fx.stateAfterAdd); err != nil {
		t.Fatalf("add revoke signature: %v", err)
	}
	revokeUpdate, err := revokeReq.BuildIdentityUpdate()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := log.Append(context.Background(), revokeUpdate); err != nil {
		t.Fatalf("append revoke: %v", err)
	}

	added, removed, latest, err = log.InstallationsSince(context.Background(), string(fx.inbox), afterAddSeq)
	if err != nil {
		t.Fatalf("installations since revoke: %v", err)
	}
	if len(added) != 0 {
		t.Fatalf("expected no additions since the add, got %v", added)
	}
	if len(removed) != 1 || removed[0] != fx.installId {
		t.Fatalf("expected %q removed, got %v", fx.installId, removed)
	}
	if latest != log.LatestSequenceId(fx.inbox) {
		t.Fatalf("expected latest=%d, got %d", log.LatestSequenceId(fx.inbox), latest)
	}
}
