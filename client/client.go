// Package client is the top-level orchestration surface: it wires the
// association log, group state machine, permission policy engine, intent
// queue, and group sync loop into the API a caller actually uses —
// bootstrap an inbox, create or join a group, send/edit/delete a message,
// and drive sync passes.
package client

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/convomls/core/internal/config"
	"github.com/convomls/core/internal/groups"
	"github.com/convomls/core/internal/identity"
	"github.com/convomls/core/internal/mlsiface"
	"github.com/convomls/core/internal/store"
	"github.com/convomls/core/internal/syncloop"
	"github.com/convomls/core/internal/transport"
)

// Config bundles a Client's collaborators and tunables.
type Config struct {
	Signer     mlsiface.Signer
	MlsLibrary mlsiface.Library
	Transport  transport.Transport

	// ScwVerifier resolves ERC-1271 smart-contract-wallet signatures; nil
	// if this client never expects to verify one.
	ScwVerifier identity.ScwVerifier

	// EditableContentTypes names the content-type ids the message store
	// accepts edits for; content codecs are otherwise out of scope here.
	EditableContentTypes []string

	ClientConfig        config.ClientConfig
	DefaultOriginatorId uint32
	Log                 *zap.Logger
}

// groupEntry is one loaded group's MLS handle plus the sync loop driving
// it.
type groupEntry struct {
	mlsGroup mlsiface.MlsGroup
	sync     *syncloop.GroupSync
}

// Client is one installation's handle onto the library: its own signer,
// its MLS library and transport, its durable store, and the set of groups
// it currently has loaded.
type Client struct {
	signer     mlsiface.Signer
	mlsLibrary mlsiface.Library
	transport  transport.Transport
	store      *store.Store
	cfg        config.ClientConfig
	log        *zap.Logger

	defaultOriginatorId uint32

	groupsMu sync.Mutex
	groups   map[string]*groupEntry
}

// New constructs a Client. ClientConfig defaults to config.Default() when
// left at its zero value.
func New(cfg Config) (*Client, error) {
	if cfg.Signer == nil {
		return nil, ErrMissingSigner
	}
	if cfg.MlsLibrary == nil {
		return nil, ErrMissingMlsLibrary
	}
	if cfg.Transport == nil {
		return nil, ErrMissingTransport
	}

	clientCfg := cfg.ClientConfig
	if clientCfg == (config.ClientConfig{}) {
		clientCfg = config.Default()
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}

	st := store.New(store.Config{
		ScwVerifier:          cfg.ScwVerifier,
		MaxPublishAttempts:   clientCfg.MaxPublishAttempts,
		EditableContentTypes: cfg.EditableContentTypes,
		Log:                  log,
	})

	return &Client{
		signer:              cfg.Signer,
		mlsLibrary:          cfg.MlsLibrary,
		transport:           cfg.Transport,
		store:               st,
		cfg:                 clientCfg,
		log:                 log,
		defaultOriginatorId: cfg.DefaultOriginatorId,
		groups:              map[string]*groupEntry{},
	}, nil
}

// Store exposes the client's durable repositories (identity log, intent
// queue, message projection, cursors) for callers that want direct read
// access alongside the higher-level methods below.
func (c *Client) Store() *store.Store { return c.store }

// InboxId returns this installation's owning inbox id.
func (c *Client) InboxId() string { return c.signer.InboxId() }

// InstallationId returns this client's own installation id.
func (c *Client) InstallationId() string { return c.signer.InstallationId() }

func (c *Client) registerGroup(mlsGroup mlsiface.MlsGroup, originatorId uint32) *syncloop.GroupSync {
	gs := syncloop.New(syncloop.Deps{
		MlsGroup:     mlsGroup,
		Transport:    c.transport,
		Store:        c.store,
		Signer:       c.signer,
		OriginatorId: originatorId,
	}, c.cfg, c.log)

	c.groupsMu.Lock()
	c.groups[mlsGroup.GroupId()] = &groupEntry{mlsGroup: mlsGroup, sync: gs}
	c.groupsMu.Unlock()
	return gs
}

func (c *Client) entry(groupId string) (*groupEntry, error) {
	c.groupsMu.Lock()
	defer c.groupsMu.Unlock()
	e, ok := c.groups[groupId]
	if !ok {
		return nil, fmt.Errorf("group %s: %w", groupId, ErrGroupNotRegistered)
	}
	return e, nil
}

func (c *Client) groupSync(groupId string) (*syncloop.GroupSync, error) {
	e, err := c.entry(groupId)
	if err != nil {
		return nil, err
	}
	return e.sync, nil
}

// GroupView returns a loaded group's current MLS extension state.
func (c *Client) GroupView(groupId string) (groups.GroupView, error) {
	e, err := c.entry(groupId)
	if err != nil {
		return groups.GroupView{}, err
	}
	return e.mlsGroup.Extensions(), nil
}

// LoadedGroupIds lists the groups currently registered with this client.
func (c *Client) LoadedGroupIds() []string {
	c.groupsMu.Lock()
	defer c.groupsMu.Unlock()
	out := make([]string, 0, len(c.groups))
	for id := range c.groups {
		out = append(out, id)
	}
	return out
}

// Sync runs one sync pass (maybe_update_installations, publish_intents,
// receive, post_commit) for groupId.
func (c *Client) Sync(ctx context.Context, groupId string) error {
	gs, err := c.groupSync(groupId)
	if err != nil {
		return err
	}
	return gs.Pass(ctx)
}

// SyncAll runs one sync pass for every loaded group concurrently. Each
// group's result lands at its own slot, so a failure in one group's pass
// never blocks or is masked by another's.
func (c *Client) SyncAll(ctx context.Context) []error {
	ids := c.LoadedGroupIds()
	errs := make([]error, len(ids))

	var wg sync.WaitGroup
	wg.Add(len(ids))
	for i, id := range ids {
		i, id := i, id
		go func() {
			defer wg.Done()
			errs[i] = c.Sync(ctx, id)
		}()
	}
	wg.Wait()
	return errs
}
