package models

import (
	"errors"
	"time"
)

// SyncStatus is the lifecycle state of an action_external_system_sync row.
type SyncStatus string

const (
	// SyncStatusSkipped means no mapping was configured when the action was queued.
	SyncStatusSkipped SyncStatus = "SKIPPED"
	// SyncStatusQueued means a sync job has been enqueued for the action.
	SyncStatusQueued SyncStatus = "SYNC_QUEUED"
	// SyncStatusSynced means the external system accepted the write.
	SyncStatusSynced SyncStatus = "SYNCED"
	// SyncStatusFailed means the external system rejected the write.
	SyncStatusFailed SyncStatus = "SYNC_FAILED"
)

// AllSyncStatuses lists every sync status in display order.
var AllSyncStatuses = []SyncStatus{SyncStatusQueued, SyncStatusSynced, SyncStatusFailed, SyncStatusSkipped}

// IsTerminal reports whether no further transition is allowed from s.
func (s SyncStatus) IsTerminal() bool {
	return s == SyncStatusSkipped || s == SyncStatusSynced || s == SyncStatusFailed
}

// IsValidSyncStatus checks if the given status is one of the known values.
func IsValidSyncStatus(s SyncStatus) bool {
	switch s {
	case SyncStatusSkipped, SyncStatusQueued, SyncStatusSynced, SyncStatusFailed:
		return true
	default:
		return false
	}
}

// ActionType names the table a sync action's action_id points into.
type ActionType string

const (
	ActionTypeQuestionResponse ActionType = "question_response"
	ActionTypeOptOut           ActionType = "opt_out"
)

// ExternalSystemType discriminates which adapter handles an external system.
type ExternalSystemType string

const (
	// ExternalSystemTypeVAN is the VAN canvassing system.
	ExternalSystemTypeVAN ExternalSystemType = "van"
)

// Sync error strings recorded on sync actions.
const (
	SyncReasonNoMappingFound         = "No Mapping Found"
	SyncReasonNoCanvassDate          = "No Canvass Date"
	SyncReasonContactNotFound        = "Contact Not Found"
	SyncReasonContactMissingExternal = "Contact Missing External ID"
)

var (
	ErrSyncActionNotFound       = errors.New("sync action not found")
	ErrExternalSystemNotFound   = errors.New("external system not found")
	ErrContactNotFound          = errors.New("campaign contact not found")
	ErrQuestionResponseNotFound = errors.New("question response not found")
	ErrOptOutNotFound           = errors.New("opt out not found")
)

// SyncAction is one unit of work propagating an internal event to an external system.
type SyncAction struct {
	ID         string     `json:"id"`
	SystemID   string     `json:"system_id"`
	ActionType ActionType `json:"action_type"`
	ActionID   int64      `json:"action_id"`
	SyncStatus SyncStatus `json:"sync_status"`
	SyncError  *string    `json:"sync_error,omitempty"`
	SyncedAt   *time.Time `json:"synced_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// ExternalSystem is a configured CRM integration for an organization.
// APIKeyRef points into the secret store; the key itself is never stored here.
type ExternalSystem struct {
	ID             string             `json:"id"`
	OrganizationID int64              `json:"organization_id"`
	Name           string             `json:"name"`
	Type           ExternalSystemType `json:"type"`
	Username       string             `json:"username"`
	APIKeyRef      string             `json:"-"`
	SyncedAt       *time.Time         `json:"synced_at,omitempty"`
}

// Contact is the subset of a campaign contact the sync core reads.
type Contact struct {
	ID         int64  `json:"id"`
	CampaignID int64  `json:"campaign_id"`
	ExternalID string `json:"external_id"`
	Cell       string `json:"cell"`
	PhoneID    *int64 `json:"phone_id,omitempty"`
}

// QuestionResponse is an answer recorded on an interaction step.
type QuestionResponse struct {
	ID                int64     `json:"id"`
	CampaignContactID int64     `json:"campaign_contact_id"`
	InteractionStepID int64     `json:"interaction_step_id"`
	Value             string    `json:"value"`
	IsDeleted         bool      `json:"is_deleted"`
	CreatedAt         time.Time `json:"created_at"`
}

// OptOut records a contact asking not to be texted again.
type OptOut struct {
	ID                int64     `json:"id"`
	CampaignContactID int64     `json:"campaign_contact_id"`
	Cell              string    `json:"cell"`
	Reason            string    `json:"reason"`
	CreatedAt         time.Time `json:"created_at"`
}

// Message is a single SMS on a contact's conversation.
type Message struct {
	ID                int64     `json:"id"`
	CampaignContactID int64     `json:"campaign_contact_id"`
	IsFromContact     bool      `json:"is_from_contact"`
	Text              string    `json:"text"`
	ServiceID         string    `json:"service_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// SealedSecret is an encrypted secret value as persisted in the secret store.
type SealedSecret struct {
	Ciphertext []byte
	Nonce      []byte
}
