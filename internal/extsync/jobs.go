package extsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/CanvassSync/internal/models"
	"github.com/BTreeMap/CanvassSync/internal/store"
)

// HandlerRegistrar is the part of the job runner that accepts handlers.
type HandlerRegistrar interface {
	RegisterHandler(kind string, handler store.JobHandler)
}

// RegisterJobHandlers installs the handlers for the sync job kinds. Each
// handler decodes the payload and dispatches on its external system type.
func RegisterJobHandlers(runner HandlerRegistrar, registry *Registry, jc JobContext) {
	runner.RegisterHandler(KindSyncQuestionResponse, func(ctx context.Context, payload string) error {
		p, adapter, err := decode(registry, payload)
		if err != nil {
			return err
		}
		return adapter.SyncQuestionResponse(ctx, p, jc)
	})
	runner.RegisterHandler(KindSyncOptOut, func(ctx context.Context, payload string) error {
		p, adapter, err := decode(registry, payload)
		if err != nil {
			return err
		}
		return adapter.SyncOptOut(ctx, p, jc)
	})
}

func decode(registry *Registry, payload string) (Payload, Adapter, error) {
	var p Payload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return p, nil, fmt.Errorf("decode sync payload: %w", err)
	}
	adapter, err := registry.Get(p.ExternalSystemType)
	if err != nil {
		return p, nil, err
	}
	return p, adapter, nil
}

// HealthSource is the store capability read by ReportSyncHealth.
type HealthSource interface {
	ListExternalSystems(ctx context.Context) ([]models.ExternalSystem, error)
	CountSyncActionsByStatus(ctx context.Context, systemID string) (map[models.SyncStatus]int, error)
	CountJobsByStatus(ctx context.Context) (map[store.JobStatus]int, error)
}

// ReportSyncHealth logs the job queue counts and the sync action counts of
// every external system, and warns about systems with failed actions.
func ReportSyncHealth(ctx context.Context, src HealthSource) error {
	jobs, err := src.CountJobsByStatus(ctx)
	if err != nil {
		return err
	}
	slog.Info("ReportSyncHealth: job queue",
		"queued", jobs[store.JobStatusQueued],
		"running", jobs[store.JobStatusRunning],
		"failed", jobs[store.JobStatusFailed],
	)

	systems, err := src.ListExternalSystems(ctx)
	if err != nil {
		return err
	}
	for _, system := range systems {
		counts, err := src.CountSyncActionsByStatus(ctx, system.ID)
		if err != nil {
			return err
		}
		slog.Info("ReportSyncHealth: sync status",
			"systemID", system.ID,
			"name", system.Name,
			"queued", counts[models.SyncStatusQueued],
			"synced", counts[models.SyncStatusSynced],
			"failed", counts[models.SyncStatusFailed],
			"skipped", counts[models.SyncStatusSkipped],
		)
		if counts[models.SyncStatusFailed] > 0 {
			slog.Warn("ReportSyncHealth: system has failed sync actions", "systemID", system.ID, "name", system.Name, "failed", counts[models.SyncStatusFailed])
		}
	}
	return nil
}
