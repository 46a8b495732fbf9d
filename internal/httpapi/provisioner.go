package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ankisyncd/ankisyncd-go/internal/collstore"
	"github.com/ankisyncd/ankisyncd-go/internal/collsync"
	"github.com/ankisyncd/ankisyncd-go/internal/media"
	"github.com/ankisyncd/ankisyncd-go/internal/sessions"
)

// provisioner lazily opens and caches the per-user collection machine and
// media engine a session needs, keyed by host-key. The cache's shape —
// mutex-guarded map, O(1) lookups — follows the same pattern as
// sessions.Store.
type provisioner struct {
	logger *slog.Logger

	mu          sync.Mutex
	collections map[string]*collectionBundle
	mediaStores map[string]*mediaBundle
}

type collectionBundle struct {
	store   *collstore.Store
	machine *collsync.Machine
}

type mediaBundle struct {
	index  *media.SQLiteIndex
	engine *media.Engine
}

func newProvisioner(logger *slog.Logger) *provisioner {
	return &provisioner{
		logger:      logger,
		collections: make(map[string]*collectionBundle),
		mediaStores: make(map[string]*mediaBundle),
	}
}

func (p *provisioner) collection(ctx context.Context, session *sessions.Session) (*collsync.Machine, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if b, ok := p.collections[session.HostKey]; ok {
		return b.machine, nil
	}

	store, err := collstore.Open(ctx, session.CollectionPath(), p.logger)
	if err != nil {
		return nil, fmt.Errorf("httpapi: opening collection for %s: %w", session.Username, err)
	}

	m := collsync.New(store, session)
	p.collections[session.HostKey] = &collectionBundle{store: store, machine: m}

	return m, nil
}

func (p *provisioner) media(ctx context.Context, session *sessions.Session) (*media.Engine, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if b, ok := p.mediaStores[session.HostKey]; ok {
		return b.engine, nil
	}

	idx, err := media.OpenIndex(ctx, session.MediaIndexPath(), p.logger)
	if err != nil {
		return nil, fmt.Errorf("httpapi: opening media index for %s: %w", session.Username, err)
	}

	engine := media.NewEngine(idx, session.MediaDir())
	p.mediaStores[session.HostKey] = &mediaBundle{index: idx, engine: engine}

	return engine, nil
}

// forget drops a session's cached collection/media handles, closing the
// underlying databases. Called by the idle-session reaper.
func (p *provisioner) forget(hostKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if b, ok := p.collections[hostKey]; ok {
		b.store.Close()
		delete(p.collections, hostKey)
	}

	if b, ok := p.mediaStores[hostKey]; ok {
		b.index.Close()
		delete(p.mediaStores, hostKey)
	}
}
