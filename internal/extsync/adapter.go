// Package extsync defines the contract between the sync core and the
// external-system adapters, and the entry points that record sync actions and
// run their background jobs.
package extsync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/BTreeMap/CanvassSync/internal/models"
	"github.com/BTreeMap/CanvassSync/internal/secrets"
	"github.com/BTreeMap/CanvassSync/internal/store"
)

// Job kinds executed by the job runner.
const (
	KindSyncOptOut           = "sync-contact-opt-out"
	KindSyncQuestionResponse = "sync-contact-question-response"
)

// ErrUnknownSystemType is returned when no adapter is registered for an
// external system type.
var ErrUnknownSystemType = errors.New("unknown external system type")

// Payload identifies one sync action and where it must be written. It is the
// JSON payload of every sync job.
type Payload struct {
	ExternalSystemType models.ExternalSystemType `json:"externalSystemType"`
	SyncID             string                    `json:"syncId"`
	CampaignContactID  int64                     `json:"campaignContactId"`
	ExternalSystemID   string                    `json:"externalSystemId"`
}

// JobContext is the store capability set handed to an adapter. It may be
// bound to a transaction.
type JobContext struct {
	Syncs    store.SyncRepo
	Jobs     store.JobRepo
	Contacts store.ContactRepo
	Secrets  secrets.Source
}

// NewJobContext exposes s through the adapter capability set.
func NewJobContext(s store.Store) JobContext {
	return JobContext{Syncs: s, Jobs: s, Contacts: s, Secrets: s}
}

// Adapter is implemented by every external-system integration.
//
// The Queue methods decide whether a freshly inserted SYNC_QUEUED action has
// anything to sync and either enqueue a job or mark it SKIPPED. The Sync
// methods run inside jobs and write the action to the external system. The
// only error a Sync method should return is one that warrants a retry.
type Adapter interface {
	QueueOptOut(ctx context.Context, p Payload, jc JobContext) error
	QueueQuestionResponse(ctx context.Context, p Payload, jc JobContext) error
	SyncQuestionResponse(ctx context.Context, p Payload, jc JobContext) error
	SyncOptOut(ctx context.Context, p Payload, jc JobContext) error
}

// Registry maps external system types to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.ExternalSystemType]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.ExternalSystemType]Adapter)}
}

// Register installs a for systemType, replacing any previous adapter.
func (r *Registry) Register(systemType models.ExternalSystemType, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[systemType] = a
}

// Get returns the adapter for systemType.
func (r *Registry) Get(systemType models.ExternalSystemType) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[systemType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSystemType, systemType)
	}
	return a, nil
}
