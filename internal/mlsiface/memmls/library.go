package memmls

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/convomls/core/internal/cryptoutil"
	"github.com/convomls/core/internal/groups"
	"github.com/convomls/core/internal/mlsiface"
)

// Library is one member's view of the MLS groups it belongs to. Multiple
// Library instances sharing the same Network simulate separate clients
// exchanging commits over a transport.
type Library struct {
	self mlsiface.Signer
	net  *Network

	mu     sync.Mutex
	groups map[string]*group
}

// NewLibrary constructs a Library for self, backed by net.
func NewLibrary(self mlsiface.Signer, net *Network) *Library {
	return &Library{self: self, net: net, groups: map[string]*group{}}
}

// CreateGroup implements Library.CreateGroup: seeds a brand-new group at
// epoch 0 with initial as its extension state.
func (l *Library) CreateGroup(ctx context.Context, groupId string, creator mlsiface.Signer, initial groups.GroupView) (mlsiface.MlsGroup, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("memmls: create group: %w", err)
	}
	if _, err := l.net.seedFor(groupId, true, seed); err != nil {
		return nil, err
	}

	initial.Epoch = 0
	g := &group{groupId: groupId, net: l.net, epoch: 0, view: initial}

	l.mu.Lock()
	l.groups[groupId] = g
	l.mu.Unlock()
	return g, nil
}

// LoadGroup returns this Library's local replica of groupId. A Library
// only knows about groups it created or joined via Join.
func (l *Library) LoadGroup(ctx context.Context, groupId string) (mlsiface.MlsGroup, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.groups[groupId]
	if !ok {
		return nil, fmt.Errorf("memmls: load group %s: %w", groupId, errNotLoaded)
	}
	return g, nil
}

// Join installs a local replica of groupId from a Welcome message produced
// by another member's UpdateGroupMembership call.
func (l *Library) Join(ctx context.Context, welcome *mlsiface.Welcome) (mlsiface.MlsGroup, error) {
	var payload welcomePayload
	if err := json.Unmarshal(welcome.Payload, &payload); err != nil {
		return nil, fmt.Errorf("memmls: join: %w", err)
	}
	if _, err := l.net.seedFor(payload.GroupId, false, nil); err != nil {
		return nil, err
	}
	g := &group{groupId: payload.GroupId, net: l.net, epoch: payload.Epoch, view: payload.View}

	l.mu.Lock()
	l.groups[payload.GroupId] = g
	l.mu.Unlock()
	return g, nil
}

var errNotLoaded = fmt.Errorf("group not created or joined by this library instance")

type welcomePayload struct {
	GroupId string           `json:"group_id"`
	Epoch   uint64           `json:"epoch"`
	View    groups.GroupView `json:"view"`
}

// group is one member's local MLS replica.
type group struct {
	mu      sync.Mutex
	groupId string
	net     *Network
	epoch   uint64
	view    groups.GroupView
	pending *mlsiface.StagedCommit
}

func (g *group) GroupId() string { return g.groupId }

func (g *group) Epoch() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.epoch
}

func (g *group) Extensions() groups.GroupView {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.view
}

func (g *group) Members() []mlsiface.MemberLeaf {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]mlsiface.MemberLeaf, len(g.view.Installations))
	for i, inst := range g.view.Installations {
		out[i] = mlsiface.MemberLeaf{LeafIndex: i, InboxId: inst.InboxId, InstallationId: inst.InstallationId}
	}
	return out
}

func (g *group) MemberAt(leaf int) (mlsiface.MemberLeaf, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if leaf < 0 || leaf >= len(g.view.Installations) {
		return mlsiface.MemberLeaf{}, fmt.Errorf("memmls: leaf %d out of range", leaf)
	}
	inst := g.view.Installations[leaf]
	return mlsiface.MemberLeaf{LeafIndex: leaf, InboxId: inst.InboxId, InstallationId: inst.InstallationId}, nil
}

type wireEnvelope struct {
	Kind                 string           `json:"kind"`
	Epoch                uint64           `json:"epoch"`
	Nonce                []byte           `json:"nonce,omitempty"`
	Ciphertext           []byte           `json:"ciphertext,omitempty"`
	View                 groups.GroupView `json:"view,omitempty"`
	SenderInstallationId string           `json:"sender_installation_id,omitempty"`
}

func (g *group) CreateMessage(ctx context.Context, signer mlsiface.Signer, payload []byte) (mlsiface.Commit, error) {
	g.mu.Lock()
	epoch := g.epoch
	g.mu.Unlock()

	key := messageKey(g.net.mustSeed(g.groupId), epoch)
	nonce, ct, err := cryptoutil.AESGCMEncrypt(key, payload)
	if err != nil {
		return mlsiface.Commit{}, fmt.Errorf("memmls: create message: %w", err)
	}
	data, err := json.Marshal(wireEnvelope{Kind: "application", Epoch: epoch, Nonce: nonce, Ciphertext: ct, SenderInstallationId: signer.InstallationId()})
	if err != nil {
		return mlsiface.Commit{}, fmt.Errorf("memmls: marshal message: %w", err)
	}
	return mlsiface.Commit{Payload: data}, nil
}

func (g *group) SelfUpdate(ctx context.Context, signer mlsiface.Signer) (mlsiface.Commit, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	next := g.view
	next.Epoch = g.epoch + 1
	return g.stageAndWireCommit(signer, next)
}

func (g *group) UpdateGroupMembership(ctx context.Context, signer mlsiface.Signer, newKeyPackages []mlsiface.KeyPackage, leavesToRemove []int, newExtensions groups.GroupView) (mlsiface.Commit, *mlsiface.Welcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	next := newExtensions
	next.Epoch = g.epoch + 1

	commit, err := g.stageAndWireCommit(signer, next)
	if err != nil {
		return mlsiface.Commit{}, nil, err
	}

	var recipients []string
	for _, kp := range newKeyPackages {
		recipients = append(recipients, kp.InstallationId)
	}
	var welcome *mlsiface.Welcome
	if len(recipients) > 0 {
		wp, err := json.Marshal(welcomePayload{GroupId: g.groupId, Epoch: next.Epoch, View: next})
		if err != nil {
			return mlsiface.Commit{}, nil, fmt.Errorf("memmls: marshal welcome: %w", err)
		}
		welcome = &mlsiface.Welcome{Payload: wp, Recipients: recipients}
	}
	return commit, welcome, nil
}

func (g *group) UpdateGroupContextExtensions(ctx context.Context, signer mlsiface.Signer, newExtensions groups.GroupView) (mlsiface.Commit, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	next := newExtensions
	next.Epoch = g.epoch + 1
	return g.stageAndWireCommit(signer, next)
}

// stageAndWireCommit must be called with g.mu held.
func (g *group) stageAndWireCommit(signer mlsiface.Signer, next groups.GroupView) (mlsiface.Commit, error) {
	sc := mlsiface.StagedCommit{SenderInstallationId: signer.InstallationId(), Resulting: next}
	g.pending = &sc

	data, err := json.Marshal(wireEnvelope{Kind: "commit", Epoch: next.Epoch, View: next, SenderInstallationId: signer.InstallationId()})
	if err != nil {
		return mlsiface.Commit{}, fmt.Errorf("memmls: marshal commit: %w", err)
	}
	return mlsiface.Commit{Payload: data}, nil
}

func (g *group) ProcessMessage(ctx context.Context, envelope []byte) (mlsiface.ProcessedMessage, error) {
	var w wireEnvelope
	if err := json.Unmarshal(envelope, &w); err != nil {
		return mlsiface.ProcessedMessage{}, fmt.Errorf("memmls: process message: %w", err)
	}

	switch w.Kind {
	case "application":
		key := messageKey(g.net.mustSeed(g.groupId), w.Epoch)
		plaintext, err := cryptoutil.AESGCMDecrypt(key, w.Nonce, w.Ciphertext)
		if err != nil {
			return mlsiface.ProcessedMessage{}, fmt.Errorf("memmls: decrypt application message: %w", err)
		}
		return mlsiface.ProcessedMessage{Kind: mlsiface.ProcessedApplication, ApplicationData: plaintext}, nil
	case "commit":
		return mlsiface.ProcessedMessage{
			Kind: mlsiface.ProcessedStagedCommit,
			StagedCommit: mlsiface.StagedCommit{
				SenderInstallationId: w.SenderInstallationId,
				Resulting:            w.View,
			},
		}, nil
	default:
		return mlsiface.ProcessedMessage{}, fmt.Errorf("memmls: unexpected wire kind %q", w.Kind)
	}
}

func (g *group) MergeStagedCommit(sc mlsiface.StagedCommit) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.view = sc.Resulting
	g.epoch = sc.Resulting.Epoch
	if g.pending != nil && g.pending.SenderInstallationId == sc.SenderInstallationId {
		g.pending = nil
	}
	return nil
}

func (g *group) PendingCommit() (mlsiface.StagedCommit, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return mlsiface.StagedCommit{}, false
	}
	return *g.pending, true
}

func (g *group) ClearPendingCommit() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = nil
}

func (n *Network) mustSeed(groupId string) []byte {
	s, err := n.seedFor(groupId, false, nil)
	if err != nil {
		panic(err)
	}
	return s
}
