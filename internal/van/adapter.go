// Package van implements the external-system adapter for VAN.
//
// Queue methods decide, in the caller's transaction, whether a sync action
// has a mapping and enqueue a keyed job for it. Sync methods run in jobs:
// they resolve the contact's queued actions into canvass responses, post them
// to VAN and record the outcome on each action.
package van

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/CanvassSync/internal/extsync"
	"github.com/BTreeMap/CanvassSync/internal/models"
	"github.com/BTreeMap/CanvassSync/internal/secrets"
	"github.com/BTreeMap/CanvassSync/internal/store"
)

// Compile-time check that Adapter implements extsync.Adapter.
var _ extsync.Adapter = (*Adapter)(nil)

// Opts holds configuration options for the VAN adapter.
type Opts struct {
	BaseURL       string
	ContactTypeID int
	Location      *time.Location
	HTTPClient    *http.Client
	Dispatcher    *extsync.Dispatcher
	Now           func() time.Time

	// QuestionResponseResultCodes sends the lowest mapped result code as
	// resultCodeId on question-response canvass responses. Off by default.
	QuestionResponseResultCodes bool
}

// Option is a functional option for configuring the VAN adapter.
type Option func(*Opts)

// WithBaseURL sets the VAN API root.
func WithBaseURL(u string) Option {
	return func(o *Opts) {
		o.BaseURL = u
	}
}

// WithContactTypeID sets the contactTypeId of every canvass context.
func WithContactTypeID(id int) Option {
	return func(o *Opts) {
		o.ContactTypeID = id
	}
}

// WithLocation sets the time zone canvass dates are bucketed in.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) {
		o.Location = loc
	}
}

// WithHTTPClient sets the HTTP client used to reach VAN.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// WithDispatcher sets the dispatcher used by the queue methods.
func WithDispatcher(d *extsync.Dispatcher) Option {
	return func(o *Opts) {
		o.Dispatcher = d
	}
}

// WithQuestionResponseResultCodes toggles sending result codes on question
// responses.
func WithQuestionResponseResultCodes(enabled bool) Option {
	return func(o *Opts) {
		o.QuestionResponseResultCodes = enabled
	}
}

// WithNow replaces the clock used for synced_at.
func WithNow(now func() time.Time) Option {
	return func(o *Opts) {
		o.Now = now
	}
}

// Adapter is the VAN implementation of extsync.Adapter.
type Adapter struct {
	client      *Client
	credentials *secrets.Resolver
	resolver    *Resolver
	dispatcher  *extsync.Dispatcher

	contactTypeID   int
	resultCodesOnQR bool
	now             func() time.Time
}

// NewAdapter creates the VAN adapter. credentials resolves the username and
// API key of a system on every sync.
func NewAdapter(credentials *secrets.Resolver, opts ...Option) *Adapter {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ContactTypeID <= 0 {
		cfg.ContactTypeID = DefaultContactTypeID
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = extsync.NewDispatcher()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	slog.Debug("van.NewAdapter: configured", "baseURL", cfg.BaseURL, "contactTypeID", cfg.ContactTypeID, "resultCodesOnQuestionResponses", cfg.QuestionResponseResultCodes)
	return &Adapter{
		client:          NewClient(cfg.BaseURL, cfg.HTTPClient),
		credentials:     credentials,
		resolver:        NewResolver(cfg.Location),
		dispatcher:      cfg.Dispatcher,
		contactTypeID:   cfg.ContactTypeID,
		resultCodesOnQR: cfg.QuestionResponseResultCodes,
		now:             cfg.Now,
	}
}

// QueueOptOut enqueues an opt-out sync when the system has an opt-out result
// code configured and skips the action otherwise.
func (a *Adapter) QueueOptOut(ctx context.Context, p extsync.Payload, jc extsync.JobContext) error {
	cfg, err := jc.Syncs.GetOptOutConfig(ctx, p.ExternalSystemID)
	if err != nil {
		return err
	}
	if cfg == nil {
		return a.skip(ctx, jc, []string{p.SyncID})
	}
	_, err = a.dispatcher.Enqueue(ctx, jc.Jobs, extsync.KindSyncOptOut, p)
	return err
}

// QueueQuestionResponse enqueues a question-response sync when the answer
// matches a mapping configuration and skips the action otherwise.
func (a *Adapter) QueueQuestionResponse(ctx context.Context, p extsync.Payload, jc extsync.JobContext) error {
	cfg, err := jc.Syncs.FindQuestionResponseConfig(ctx, p.SyncID)
	if err != nil {
		return err
	}
	if cfg == nil {
		return a.skip(ctx, jc, []string{p.SyncID})
	}
	_, err = a.dispatcher.Enqueue(ctx, jc.Jobs, extsync.KindSyncQuestionResponse, p)
	return err
}

// SyncQuestionResponse posts one canvass response per canvass day for every
// queued question-response action of the payload's contact and system.
func (a *Adapter) SyncQuestionResponse(ctx context.Context, p extsync.Payload, jc extsync.JobContext) error {
	queued, err := jc.Syncs.ListQueuedSyncActions(ctx, models.ActionTypeQuestionResponse, p.CampaignContactID, p.ExternalSystemID)
	if err != nil {
		return err
	}
	if len(queued) == 0 {
		slog.Debug("Adapter.SyncQuestionResponse: nothing queued", "contactID", p.CampaignContactID, "systemID", p.ExternalSystemID)
		return nil
	}
	ids := syncIDs(queued)

	contact, ok, err := a.loadContact(ctx, jc, p.CampaignContactID, ids)
	if err != nil || !ok {
		return err
	}

	res, err := a.resolver.Resolve(ctx, jc.Syncs, contact.ID, p.ExternalSystemID, ids)
	if err != nil {
		return fmt.Errorf("resolve canvass responses: %w", err)
	}
	if err := a.skip(ctx, jc, res.Unmapped); err != nil {
		return err
	}
	if err := a.fail(ctx, jc, res.Undated, models.SyncReasonNoCanvassDate); err != nil {
		return err
	}
	if len(res.Buckets) == 0 {
		return nil
	}

	cred, err := a.credentials.GetCredential(ctx, jc.Secrets, p.ExternalSystemID)
	if err != nil {
		return err
	}

	var errs []error
	for _, b := range res.Buckets {
		var resultCodeID *int64
		if a.resultCodesOnQR && len(b.ResultCodes) > 0 {
			resultCodeID = &b.ResultCodes[0]
		}
		cr := formatCanvassResponse(contact.Cell, contact.PhoneID, a.contactTypeID, b, resultCodeID)
		if err := a.submit(ctx, jc, cred, contact, cr, b.SyncIDs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SyncOptOut posts the configured opt-out result code for every queued
// opt-out action of the payload's contact and system.
func (a *Adapter) SyncOptOut(ctx context.Context, p extsync.Payload, jc extsync.JobContext) error {
	queued, err := jc.Syncs.ListQueuedSyncActions(ctx, models.ActionTypeOptOut, p.CampaignContactID, p.ExternalSystemID)
	if err != nil {
		return err
	}
	if len(queued) == 0 {
		slog.Debug("Adapter.SyncOptOut: nothing queued", "contactID", p.CampaignContactID, "systemID", p.ExternalSystemID)
		return nil
	}
	ids := syncIDs(queued)

	cfg, err := jc.Syncs.GetOptOutConfig(ctx, p.ExternalSystemID)
	if err != nil {
		return err
	}
	if cfg == nil {
		return a.skip(ctx, jc, ids)
	}

	contact, ok, err := a.loadContact(ctx, jc, p.CampaignContactID, ids)
	if err != nil || !ok {
		return err
	}

	cred, err := a.credentials.GetCredential(ctx, jc.Secrets, p.ExternalSystemID)
	if err != nil {
		return err
	}

	var errs []error
	for _, action := range queued {
		resultCode := cfg.ExternalResultCode
		cr := formatCanvassResponse(contact.Cell, contact.PhoneID, a.contactTypeID, Bucket{CanvassedAt: action.CreatedAt}, &resultCode)
		if err := a.submit(ctx, jc, cred, contact, cr, []string{action.ID}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// loadContact returns the contact when it can be synced. Otherwise the
// candidate actions are failed and ok is false.
func (a *Adapter) loadContact(ctx context.Context, jc extsync.JobContext, contactID int64, ids []string) (*models.Contact, bool, error) {
	contact, err := jc.Contacts.GetContact(ctx, contactID)
	if errors.Is(err, models.ErrContactNotFound) {
		return nil, false, a.fail(ctx, jc, ids, models.SyncReasonContactNotFound)
	}
	if err != nil {
		return nil, false, err
	}
	if contact.ExternalID == "" {
		slog.Warn("Adapter.loadContact: contact has no external id", "contactID", contactID, "syncIds", ids)
		return nil, false, a.fail(ctx, jc, ids, models.SyncReasonContactMissingExternal)
	}
	return contact, true, nil
}

// submit posts one canvass response and records its outcome on ids. The
// returned error is a transport failure; rejections are recorded, not returned.
func (a *Adapter) submit(ctx context.Context, jc extsync.JobContext, cred secrets.Credential, contact *models.Contact, cr CanvassResponse, ids []string) error {
	status, body, err := a.client.PostCanvassResponses(ctx, cred, contact.ExternalID, []CanvassResponse{cr})
	if err != nil {
		slog.Warn("Adapter.submit: request failed", "contactID", contact.ID, "syncIds", ids, "error", err)
		return err
	}
	if status == http.StatusNoContent {
		now := a.now()
		_, err := jc.Syncs.UpdateSyncStatus(ctx, ids, store.SyncStatusUpdate{Status: models.SyncStatusSynced, SyncedAt: &now})
		if err != nil {
			return err
		}
		slog.Info("Adapter.submit: canvass response synced", "contactID", contact.ID, "syncIds", ids, "dateCanvassed", cr.CanvassContext.DateCanvassed)
		return nil
	}

	slog.Error("Adapter.submit: unexpected VAN response", "status", status, "body", body, "syncIds", ids, "contactID", contact.ID)
	if body == "" {
		body = http.StatusText(status)
	}
	return a.fail(ctx, jc, ids, body)
}

func (a *Adapter) skip(ctx context.Context, jc extsync.JobContext, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := jc.Syncs.UpdateSyncStatus(ctx, ids, store.SyncStatusUpdate{Status: models.SyncStatusSkipped, Error: models.SyncReasonNoMappingFound})
	return err
}

func (a *Adapter) fail(ctx context.Context, jc extsync.JobContext, ids []string, reason string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := jc.Syncs.UpdateSyncStatus(ctx, ids, store.SyncStatusUpdate{Status: models.SyncStatusFailed, Error: reason})
	return err
}

func syncIDs(actions []models.SyncAction) []string {
	ids := make([]string, 0, len(actions))
	for _, a := range actions {
		ids = append(ids, a.ID)
	}
	return ids
}
