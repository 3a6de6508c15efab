package memmls

import (
	"context"
	"testing"

	"github.com/convomls/core/internal/groups"
	"github.com/convomls/core/internal/mlsiface"
)

type fakeSigner struct {
	inbox        string
	installation string
}

func (s fakeSigner) InboxId() string        { return s.inbox }
func (s fakeSigner) InstallationId() string  { return s.installation }

func TestSelfUpdateAdvancesEpochOnMerge(t *testing.T) {
	net := NewNetwork()
	alix := fakeSigner{inbox: "alix", installation: "alix-1"}
	lib := NewLibrary(alix, net)

	initial := groups.GroupView{
		Installations: []groups.Installation{{InboxId: "alix", InstallationId: "alix-1"}},
		Membership:    groups.GroupMembership{"alix": 1},
		Metadata:      groups.GroupMutableMetadata{Fields: map[string]string{}},
	}
	g, err := lib.CreateGroup(context.Background(), "group-1", alix, initial)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if g.Epoch() != 0 {
		t.Fatalf("expected epoch 0, got %d", g.Epoch())
	}

	commit, err := g.SelfUpdate(context.Background(), alix)
	if err != nil {
		t.Fatalf("self update: %v", err)
	}
	processed, err := g.ProcessMessage(context.Background(), commit.Payload)
	if err != nil {
		t.Fatalf("process message: %v", err)
	}
	if processed.Kind != mlsiface.ProcessedStagedCommit {
		t.Fatalf("expected staged commit, got %v", processed.Kind)
	}
	if err := g.MergeStagedCommit(processed.StagedCommit); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if g.Epoch() != 1 {
		t.Fatalf("expected epoch 1 after merge, got %d", g.Epoch())
	}
}

func TestAddMemberProducesWelcomeAndJoin(t *testing.T) {
	net := NewNetwork()
	alix := fakeSigner{inbox: "alix", installation: "alix-1"}
	bo := fakeSigner{inbox: "bo", installation: "bo-1"}

	alixLib := NewLibrary(alix, net)
	initial := groups.GroupView{
		Installations: []groups.Installation{{InboxId: "alix", InstallationId: "alix-1"}},
		Membership:    groups.GroupMembership{"alix": 1},
		Metadata:      groups.GroupMutableMetadata{Fields: map[string]string{}},
	}
	g, err := alixLib.CreateGroup(context.Background(), "group-1", alix, initial)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	next := g.Extensions()
	next.Installations = append(next.Installations, groups.Installation{InboxId: "bo", InstallationId: "bo-1"})
	next.Membership["bo"] = 1

	_, welcome, err := g.UpdateGroupMembership(context.Background(), alix, []mlsiface.KeyPackage{{InstallationId: "bo-1"}}, nil, next)
	if err != nil {
		t.Fatalf("update group membership: %v", err)
	}
	if welcome == nil {
		t.Fatal("expected a welcome for the new installation")
	}

	boLib := NewLibrary(bo, net)
	boGroup, err := boLib.Join(context.Background(), welcome)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if len(boGroup.Members()) != 2 {
		t.Fatalf("expected 2 members in bo's view, got %d", len(boGroup.Members()))
	}
}

func TestApplicationMessageRoundTrip(t *testing.T) {
	net := NewNetwork()
	alix := fakeSigner{inbox: "alix", installation: "alix-1"}
	lib := NewLibrary(alix, net)
	initial := groups.GroupView{
		Installations: []groups.Installation{{InboxId: "alix", InstallationId: "alix-1"}},
		Membership:    groups.GroupMembership{"alix": 1},
		Metadata:      groups.GroupMutableMetadata{Fields: map[string]string{}},
	}
	g, err := lib.CreateGroup(context.Background(), "group-1", alix, initial)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	msg, err := g.CreateMessage(context.Background(), alix, []byte("hello"))
	if err != nil {
		t.Fatalf("create message: %v", err)
	}
	processed, err := g.ProcessMessage(context.Background(), msg.Payload)
	if err != nil {
		t.Fatalf("process message: %v", err)
	}
	if processed.Kind != mlsiface.ProcessedApplication || string(processed.ApplicationData) != "hello" {
		t.Fatalf("unexpected processed message: %+v", processed)
	}
}
