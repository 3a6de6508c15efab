package messages

import "testing"

func TestInsertIsIdempotent(t *testing.T) {
	p := NewProjector("text")
	id := ComputeId("group-1", []byte("hello"), "idem-1")
	msg := Message{Id: id, GroupId: "group-1", SenderInboxId: "alix", ContentTypeId: "text", Content: []byte("hello"), Kind: KindApplication, SentAtNs: 100}

	if err := p.Insert(msg); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := p.Insert(msg); err != nil {
		t.Fatalf("second insert: %v", err)
	}

	got, ok := p.Get(id)
	if !ok {
		t.Fatal("expected message to exist")
	}
	if string(got.Content) != "hello" {
		t.Fatalf("unexpected content: %s", got.Content)
	}
}

func TestEditChainWithDelete(t *testing.T) {
	p := NewProjector("text")
	id := ComputeId("group-1", []byte("x"), "idem-1")
	_ = p.Insert(Message{Id: id, GroupId: "group-1", SenderInboxId: "alix", ContentTypeId: "text", Content: []byte("x"), Kind: KindApplication, SentAtNs: 100})

	if err := p.Edit(id, "alix", []byte("y"), "text", 200, 1); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if err := p.Delete(id, "alix", 300); err != nil {
		t.Fatalf("delete: %v", err)
	}

	enriched, err := p.Enrich(id)
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if !enriched.Deleted {
		t.Fatal("expected message to show as deleted")
	}
	if enriched.Edited {
		t.Fatal("deletion must supersede edit metadata")
	}
}

func TestUnauthorizedEditFilteredAtQueryTime(t *testing.T) {
	p := NewProjector("text")
	id := ComputeId("group-1", []byte("x"), "idem-1")
	_ = p.Insert(Message{Id: id, GroupId: "group-1", SenderInboxId: "alix", ContentTypeId: "text", Content: []byte("x"), Kind: KindApplication, SentAtNs: 100})

	// Bo injects an edit record directly (bypassing the Edit() authorization
	// gate), simulating a malformed/malicious remote edit.
	p.ProjectEdit(EditRecord{OriginalMessageId: id, EditedByInboxId: "bo", NewContent: []byte("hacked"), NewContentTypeId: "text", EditedAtNs: 150})

	enriched, err := p.Enrich(id)
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if enriched.Edited {
		t.Fatal("unauthorized edit must not surface at query time")
	}
	if string(enriched.Content) != "x" {
		t.Fatalf("expected original content, got %s", enriched.Content)
	}
}

func TestOutOfOrderEditArrivesBeforeTarget(t *testing.T) {
	p := NewProjector("text")
	id := ComputeId("group-1", []byte("x"), "idem-1")

	// Edit arrives before the original message.
	p.ProjectEdit(EditRecord{OriginalMessageId: id, EditedByInboxId: "alix", NewContent: []byte("y"), NewContentTypeId: "text", EditedAtNs: 150})

	if _, err := p.Enrich(id); err == nil {
		t.Fatal("expected enrich to fail before the target arrives")
	}

	_ = p.Insert(Message{Id: id, GroupId: "group-1", SenderInboxId: "alix", ContentTypeId: "text", Content: []byte("x"), Kind: KindApplication, SentAtNs: 100})

	enriched, err := p.Enrich(id)
	if err != nil {
		t.Fatalf("enrich after target arrives: %v", err)
	}
	if !enriched.Edited || string(enriched.Content) != "y" {
		t.Fatalf("expected edit to be picked up once target arrives: %+v", enriched)
	}
}

func TestEditRejectionRules(t *testing.T) {
	p := NewProjector("text")
	id := ComputeId("group-1", []byte("x"), "idem-1")
	_ = p.Insert(Message{Id: id, GroupId: "group-1", SenderInboxId: "alix", ContentTypeId: "text", Content: []byte("x"), Kind: KindApplication, SentAtNs: 100})

	if err := p.Edit(id, "bo", []byte("y"), "text", 200, 1); err == nil {
		t.Fatal("expected NotAuthorized for non-sender edit")
	}
	if err := p.Edit(id, "alix", []byte("y"), "image", 200, 1); err == nil {
		t.Fatal("expected ContentTypeMismatch")
	}
	if err := p.Edit(id, "alix", nil, "text", 200, 1); err == nil {
		t.Fatal("expected EmptyContent")
	}
	if err := p.Edit("missing-id", "alix", []byte("y"), "text", 200, 1); err == nil {
		t.Fatal("expected MessageNotFound")
	}
}
