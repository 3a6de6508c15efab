package client

import (
	"context"
	"testing"

	"github.com/convomls/core/internal/cryptoutil"
	"github.com/convomls/core/internal/identity"
	"github.com/convomls/core/internal/messages"
	"github.com/convomls/core/internal/mlsiface"
	"github.com/convomls/core/internal/mlsiface/memmls"
	"github.com/convomls/core/internal/policy"
	"github.com/convomls/core/internal/transport/memtransport"
)

type testSigner struct {
	inboxId        string
	installationId string
}

func (s testSigner) InboxId() string        { return s.inboxId }
func (s testSigner) InstallationId() string { return s.installationId }

// bootstrapInbox derives an inbox id for a fresh Ed25519 installation key,
// self-signs the CreateInbox action, appends it to the given client's own
// identity log, and publishes it to tp so other clients can pull it via
// SyncIdentity.
func bootstrapInbox(ctx context.Context, t *testing.T, c *Client, pub, priv []byte, tp *memtransport.Transport, nonce uint64) identity.InboxId {
	t.Helper()
	initial := identity.MemberIdentifier{Kind: identity.KindInstallation, Value: cryptoutil.B64Encode(pub, true)}
	inboxId, req, err := c.BeginCreateInbox(initial, nonce, 1)
	if err != nil {
		t.Fatalf("begin create inbox: %v", err)
	}
	sig := identity.Signature{Kind: identity.SigInstallationEd25519, Bytes: cryptoutil.SignEd25519(priv, req.CanonicalText()), InstallationPub: pub}
	if err := req.AddSignature(ctx, sig, nil, nil); err != nil {
		t.Fatalf("add signature: %v", err)
	}
	if _, err := c.FinalizeIdentityUpdate(ctx, req); err != nil {
		t.Fatalf("finalize identity update: %v", err)
	}
	update, err := req.BuildIdentityUpdate()
	if err != nil {
		t.Fatalf("rebuild identity update for publication: %v", err)
	}
	tp.RecordIdentityUpdate(string(inboxId), update)
	return inboxId
}

func TestClient_CreateJoinSendRoundTrip(t *testing.T) {
	ctx := context.Background()
	net := memmls.NewNetwork()
	tp := memtransport.New()

	alicePriv, alicePub, err := cryptoutil.GenerateInstallationKey()
	if err != nil {
		t.Fatalf("generate alice key: %v", err)
	}
	bobPriv, bobPub, err := cryptoutil.GenerateInstallationKey()
	if err != nil {
		t.Fatalf("generate bob key: %v", err)
	}

	aliceIdentifier := identity.MemberIdentifier{Kind: identity.KindInstallation, Value: cryptoutil.B64Encode(alicePub, true)}
	bobIdentifier := identity.MemberIdentifier{Kind: identity.KindInstallation, Value: cryptoutil.B64Encode(bobPub, true)}
	aliceInboxId := string(identity.InboxId(cryptoutil.DeriveInboxId([]byte(aliceIdentifier.Value), 0)))
	bobInboxId := string(identity.InboxId(cryptoutil.DeriveInboxId([]byte(bobIdentifier.Value), 0)))

	aliceSigner := testSigner{inboxId: aliceInboxId, installationId: aliceIdentifier.Value}
	bobSigner := testSigner{inboxId: bobInboxId, installationId: bobIdentifier.Value}

	alice, err := New(Config{
		Signer:               aliceSigner,
		MlsLibrary:           memmls.NewLibrary(aliceSigner, net),
		Transport:            tp,
		EditableContentTypes: []string{"convomls/text"},
	})
	if err != nil {
		t.Fatalf("new alice client: %v", err)
	}
	bob, err := New(Config{Signer: bobSigner, MlsLibrary: memmls.NewLibrary(bobSigner, net), Transport: tp})
	if err != nil {
		t.Fatalf("new bob client: %v", err)
	}

	if got := bootstrapInbox(ctx, t, alice, alicePub, alicePriv, tp, 0); got != identity.InboxId(aliceInboxId) {
		t.Fatalf("alice inbox id mismatch: got %s want %s", got, aliceInboxId)
	}
	if got := bootstrapInbox(ctx, t, bob, bobPub, bobPriv, tp, 0); got != identity.InboxId(bobInboxId) {
		t.Fatalf("bob inbox id mismatch: got %s want %s", got, bobInboxId)
	}

	// Alice needs to know Bob's inbox is real before she can add him; Bob
	// must also see Alice's identity log before his first sync pass, since
	// maybe_update_installations checks every current member's
	// association log, not only the inbox named by a pending change.
	if err := alice.SyncIdentity(ctx, []string{bobInboxId}); err != nil {
		t.Fatalf("alice sync identity: %v", err)
	}

	tp.UploadKeyPackage(bobSigner.installationId, mlsiface.KeyPackage{InstallationId: bobSigner.installationId})

	const groupId = "group-convo"
	const originatorId = uint32(1)

	if _, err := alice.CreateGroup(ctx, groupId, policy.PresetDefault, map[string]string{"group_name": "Alice & Bob"}, originatorId); err != nil {
		t.Fatalf("create group: %v", err)
	}

	if err := alice.AddMembers(ctx, groupId, []string{bobInboxId}); err != nil {
		t.Fatalf("add members: %v", err)
	}

	joined, err := bob.PollWelcomes(ctx, originatorId)
	if err != nil {
		t.Fatalf("poll welcomes: %v", err)
	}
	if len(joined) != 1 {
		t.Fatalf("expected bob to join exactly 1 group, got %d", len(joined))
	}

	if err := bob.SyncIdentity(ctx, []string{aliceInboxId}); err != nil {
		t.Fatalf("bob sync identity: %v", err)
	}

	aliceView, err := alice.GroupView(groupId)
	if err != nil {
		t.Fatalf("alice group view: %v", err)
	}
	if len(aliceView.Membership) != 2 {
		t.Fatalf("expected 2 members, got %d", len(aliceView.Membership))
	}

	msgId, err := alice.SendMessage(ctx, groupId, "convomls/text", []byte("hello bob"), "")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if msgId == "" {
		t.Fatalf("expected a non-empty message id")
	}

	if err := bob.SyncGroupIdentities(ctx, groupId); err != nil {
		t.Fatalf("bob sync group identities: %v", err)
	}
	if err := bob.Sync(ctx, groupId); err != nil {
		t.Fatalf("bob sync: %v", err)
	}

	bobMsgs, err := bob.ListMessages(groupId)
	if err != nil {
		t.Fatalf("bob list messages: %v", err)
	}
	var found *string
	for _, m := range bobMsgs {
		if m.Kind == messages.KindApplication && string(m.Content) == "hello bob" {
			id := m.Id
			found = &id
		}
	}
	if found == nil {
		t.Fatalf("expected bob to see alice's message, got %+v", bobMsgs)
	}

	aliceMsgs, err := alice.ListMessages(groupId)
	if err != nil {
		t.Fatalf("alice list messages: %v", err)
	}
	var originalId string
	for _, m := range aliceMsgs {
		if string(m.Content) == "hello bob" {
			originalId = m.Id
		}
	}
	if originalId == "" {
		t.Fatalf("expected to find alice's own sent message in her own store")
	}

	if err := alice.EditMessage(groupId, originalId, []byte("hello bob, edited"), "convomls/text", 2); err != nil {
		t.Fatalf("edit message: %v", err)
	}
	edited, err := alice.GetMessage(groupId, originalId)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if !edited.Edited || string(edited.Content) != "hello bob, edited" {
		t.Fatalf("expected edited content, got %+v", edited)
	}

	if err := alice.DeleteMessage(groupId, originalId, 3); err != nil {
		t.Fatalf("delete message: %v", err)
	}
	deleted, err := alice.GetMessage(groupId, originalId)
	if err != nil {
		t.Fatalf("get message after delete: %v", err)
	}
	if !deleted.Deleted {
		t.Fatalf("expected message marked deleted, got %+v", deleted)
	}
}

func TestClient_New_RequiresCollaborators(t *testing.T) {
	signer := testSigner{inboxId: "inbox-a", installationId: "install-a"}
	net := memmls.NewNetwork()
	tp := memtransport.New()
	lib := memmls.NewLibrary(signer, net)

	if _, err := New(Config{MlsLibrary: lib, Transport: tp}); err != ErrMissingSigner {
		t.Fatalf("expected ErrMissingSigner, got %v", err)
	}
	if _, err := New(Config{Signer: signer, Transport: tp}); err != ErrMissingMlsLibrary {
		t.Fatalf("expected ErrMissingMlsLibrary, got %v", err)
	}
	if _, err := New(Config{Signer: signer, MlsLibrary: lib}); err != ErrMissingTransport {
		t.Fatalf("expected ErrMissingTransport, got %v", err)
	}
}
