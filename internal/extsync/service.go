package extsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/CanvassSync/internal/models"
	"github.com/BTreeMap/CanvassSync/internal/store"
)

// Service records sync actions for internal events and hands them to the
// adapter of the target system.
type Service struct {
	store    store.Store
	registry *Registry
}

// NewService creates a Service.
func NewService(s store.Store, registry *Registry) *Service {
	return &Service{store: s, registry: registry}
}

// RecordQuestionResponse creates a sync action for a question response and
// lets the system's adapter queue or skip it. The insert and the queue
// decision commit together.
func (s *Service) RecordQuestionResponse(ctx context.Context, questionResponseID int64, systemID string) (*models.SyncAction, error) {
	var action *models.SyncAction
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		qr, err := tx.GetQuestionResponse(ctx, questionResponseID)
		if err != nil {
			return err
		}
		action, err = s.record(ctx, tx, models.ActionTypeQuestionResponse, qr.ID, qr.CampaignContactID, systemID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return action, nil
}

// RecordOptOut creates a sync action for an existing opt-out belonging to
// contactID.
func (s *Service) RecordOptOut(ctx context.Context, optOutID, contactID int64, systemID string) (*models.SyncAction, error) {
	var action *models.SyncAction
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		o, err := tx.GetOptOut(ctx, optOutID)
		if err != nil {
			return err
		}
		if o.CampaignContactID != contactID {
			return fmt.Errorf("opt out %d of contact %d: %w", optOutID, contactID, models.ErrOptOutNotFound)
		}
		action, err = s.record(ctx, tx, models.ActionTypeOptOut, o.ID, contactID, systemID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return action, nil
}

// RecordOptOutForContact stores a new opt-out for the contact and records an
// opt-out sync action for every external system of the contact's
// organization. Systems without a registered adapter are skipped.
func (s *Service) RecordOptOutForContact(ctx context.Context, contactID int64, cell, reason string) ([]models.SyncAction, error) {
	var actions []models.SyncAction
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		if _, err := tx.GetContact(ctx, contactID); err != nil {
			return err
		}
		optOutID, err := tx.InsertOptOut(ctx, models.OptOut{CampaignContactID: contactID, Cell: cell, Reason: reason})
		if err != nil {
			return err
		}
		systems, err := tx.ListExternalSystemsForContact(ctx, contactID)
		if err != nil {
			return err
		}
		for _, system := range systems {
			action, err := s.record(ctx, tx, models.ActionTypeOptOut, optOutID, contactID, system.ID)
			if errors.Is(err, ErrUnknownSystemType) {
				slog.Warn("Service.RecordOptOutForContact: no adapter for system", "systemID", system.ID, "type", system.Type)
				continue
			}
			if err != nil {
				return err
			}
			actions = append(actions, *action)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return actions, nil
}

func (s *Service) record(ctx context.Context, tx store.Store, actionType models.ActionType, actionID, contactID int64, systemID string) (*models.SyncAction, error) {
	system, err := tx.GetExternalSystem(ctx, systemID)
	if err != nil {
		return nil, err
	}
	adapter, err := s.registry.Get(system.Type)
	if err != nil {
		return nil, err
	}

	action, err := tx.CreateSyncAction(ctx, system.ID, actionType, actionID)
	if err != nil {
		return nil, err
	}
	p := Payload{
		ExternalSystemType: system.Type,
		SyncID:             action.ID,
		CampaignContactID:  contactID,
		ExternalSystemID:   system.ID,
	}

	jc := NewJobContext(tx)
	switch actionType {
	case models.ActionTypeQuestionResponse:
		err = adapter.QueueQuestionResponse(ctx, p, jc)
	case models.ActionTypeOptOut:
		err = adapter.QueueOptOut(ctx, p, jc)
	}
	if err != nil {
		return nil, fmt.Errorf("queue %s sync: %w", actionType, err)
	}

	slog.Info("Service.record: sync action recorded", "syncID", action.ID, "actionType", actionType, "actionID", actionID, "systemID", system.ID)
	return tx.GetSyncAction(ctx, action.ID)
}
