package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/BTreeMap/CanvassSync/internal/models"
	"github.com/google/uuid"
)

// SyncStatusUpdate is the new state written to a batch of sync actions.
type SyncStatusUpdate struct {
	Status   models.SyncStatus
	Error    string // stored as NULL when empty
	SyncedAt *time.Time
}

// QuestionResponseConfig is a question-response mapping row for one system.
type QuestionResponseConfig struct {
	ID                    int64
	SystemID              string
	InteractionStepID     int64
	QuestionResponseValue string
}

// OptOutConfig is the opt-out mapping of a system. ExternalResultCode is the
// result code id as known by the external system.
type OptOutConfig struct {
	ID                 int64
	SystemID           string
	ResultCodeID       int64
	ExternalResultCode int64
}

// ConfiguredResponse is a queued question-response sync action whose answer
// matches a mapping configuration.
type ConfiguredResponse struct {
	SyncID             string
	QuestionResponseID int64
	CanvassedAt        time.Time
	ConfigID           int64
}

// TargetKind names the external target table a mapping edge points into.
type TargetKind string

const (
	TargetResultCode     TargetKind = "result_code"
	TargetActivistCode   TargetKind = "activist_code"
	TargetResponseOption TargetKind = "response_option"
)

// MappingTarget is one external target of a mapping configuration. For
// response options SurveyQuestionID is the external survey question id.
type MappingTarget struct {
	ConfigID         int64
	Kind             TargetKind
	ExternalID       int64
	SurveyQuestionID int64
}

// SyncRepo persists sync actions and reads the mapping configuration they
// are resolved against.
type SyncRepo interface {
	// CreateSyncAction inserts a SYNC_QUEUED row.
	CreateSyncAction(ctx context.Context, systemID string, actionType models.ActionType, actionID int64) (*models.SyncAction, error)

	// GetSyncAction returns models.ErrSyncActionNotFound when no row exists.
	GetSyncAction(ctx context.Context, id string) (*models.SyncAction, error)

	// UpdateSyncStatus writes upd to every row in ids that is still
	// SYNC_QUEUED and returns the number of rows changed.
	UpdateSyncStatus(ctx context.Context, ids []string, upd SyncStatusUpdate) (int, error)

	// CountSyncActionsByStatus returns the number of rows per status for a system.
	CountSyncActionsByStatus(ctx context.Context, systemID string) (map[models.SyncStatus]int, error)

	// ListQueuedSyncActions returns the SYNC_QUEUED rows of one action type
	// for a contact and system, oldest first.
	ListQueuedSyncActions(ctx context.Context, actionType models.ActionType, contactID int64, systemID string) ([]models.SyncAction, error)

	// FindQuestionResponseConfig returns the mapping configuration matched by
	// a question-response sync action, or nil when none matches.
	FindQuestionResponseConfig(ctx context.Context, syncID string) (*QuestionResponseConfig, error)

	// GetOptOutConfig returns the opt-out configuration of a system, or nil.
	GetOptOutConfig(ctx context.Context, systemID string) (*OptOutConfig, error)

	// ListConfiguredResponses returns the candidate sync actions whose
	// question response belongs to the contact, is not deleted and matches a
	// configuration of the system.
	ListConfiguredResponses(ctx context.Context, contactID int64, systemID string, syncIDs []string) ([]ConfiguredResponse, error)

	// ListMappingTargets returns the targets of the given configurations.
	// Inactive activist codes and options of inactive survey questions are
	// excluded.
	ListMappingTargets(ctx context.Context, configIDs []int64) ([]MappingTarget, error)

	// FirstOutboundMessageAt returns the time of the first message sent to
	// the contact, or nil if none was sent.
	FirstOutboundMessageAt(ctx context.Context, contactID int64) (*time.Time, error)
}

const syncActionColumns = `s.id, s.system_id, s.action_type, s.action_id, s.sync_status, s.sync_error, s.synced_at, s.created_at, s.updated_at`

func scanSyncAction(row rowScanner) (models.SyncAction, error) {
	var a models.SyncAction
	var syncError sql.NullString
	var syncedAt sql.NullTime
	err := row.Scan(&a.ID, &a.SystemID, &a.ActionType, &a.ActionID, &a.SyncStatus, &syncError, &syncedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return a, err
	}
	if syncError.Valid {
		a.SyncError = &syncError.String
	}
	if syncedAt.Valid {
		a.SyncedAt = &syncedAt.Time
	}
	return a, nil
}

func (r sqlRepo) CreateSyncAction(ctx context.Context, systemID string, actionType models.ActionType, actionID int64) (*models.SyncAction, error) {
	now := dbTime(time.Now())
	a := models.SyncAction{
		ID:         uuid.NewString(),
		SystemID:   systemID,
		ActionType: actionType,
		ActionID:   actionID,
		SyncStatus: models.SyncStatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err := r.q.ExecContext(ctx,
		r.rebind(`INSERT INTO action_external_system_sync (id, system_id, action_type, action_id, sync_status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.SystemID, string(a.ActionType), a.ActionID, string(a.SyncStatus), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create sync action failed: %w", err)
	}
	return &a, nil
}

func (r sqlRepo) GetSyncAction(ctx context.Context, id string) (*models.SyncAction, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("sync action %q: %w", id, models.ErrSyncActionNotFound)
	}
	row := r.q.QueryRowContext(ctx, r.rebind(`SELECT `+syncActionColumns+` FROM action_external_system_sync s WHERE s.id = ?`), id)
	a, err := scanSyncAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sync action %s: %w", id, models.ErrSyncActionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get sync action failed: %w", err)
	}
	return &a, nil
}

func (r sqlRepo) UpdateSyncStatus(ctx context.Context, ids []string, upd SyncStatusUpdate) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if !models.IsValidSyncStatus(upd.Status) {
		return 0, fmt.Errorf("invalid sync status %q", upd.Status)
	}
	in, inArgs := r.inStrings("id", ids, "uuid[]")
	args := []any{string(upd.Status), nilIfEmpty(upd.Error), dbTimePtr(upd.SyncedAt), dbTime(time.Now()), string(models.SyncStatusQueued)}
	args = append(args, inArgs...)
	result, err := r.q.ExecContext(ctx,
		r.rebind(`UPDATE action_external_system_sync SET sync_status = ?, sync_error = ?, synced_at = ?, updated_at = ?
		 WHERE sync_status = ? AND `+in),
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("update sync status failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update sync status rows affected failed: %w", err)
	}
	return int(n), nil
}

func (r sqlRepo) CountSyncActionsByStatus(ctx context.Context, systemID string) (map[models.SyncStatus]int, error) {
	rows, err := r.q.QueryContext(ctx,
		r.rebind(`SELECT sync_status, COUNT(*) FROM action_external_system_sync WHERE system_id = ? GROUP BY sync_status`),
		systemID,
	)
	if err != nil {
		return nil, fmt.Errorf("count sync actions failed: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.SyncStatus]int, len(models.AllSyncStatuses))
	for _, status := range models.AllSyncStatuses {
		counts[status] = 0
	}
	for rows.Next() {
		var status models.SyncStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan sync count failed: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count sync actions iteration failed: %w", err)
	}
	return counts, nil
}

func (r sqlRepo) ListQueuedSyncActions(ctx context.Context, actionType models.ActionType, contactID int64, systemID string) ([]models.SyncAction, error) {
	var table string
	switch actionType {
	case models.ActionTypeQuestionResponse:
		table = "question_response"
	case models.ActionTypeOptOut:
		table = "opt_out"
	default:
		return nil, fmt.Errorf("unknown action type %q", actionType)
	}
	rows, err := r.q.QueryContext(ctx,
		r.rebind(`SELECT `+syncActionColumns+`
		 FROM action_external_system_sync s
		 JOIN `+table+` a ON a.id = s.action_id
		 WHERE s.action_type = ? AND s.system_id = ? AND s.sync_status = ? AND a.campaign_contact_id = ?
		 ORDER BY s.created_at ASC, s.id ASC`),
		string(actionType), systemID, string(models.SyncStatusQueued), contactID,
	)
	if err != nil {
		return nil, fmt.Errorf("list queued sync actions failed: %w", err)
	}
	defer rows.Close()

	var actions []models.SyncAction
	for rows.Next() {
		a, err := scanSyncAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync action failed: %w", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list queued sync actions iteration failed: %w", err)
	}
	return actions, nil
}

func (r sqlRepo) FindQuestionResponseConfig(ctx context.Context, syncID string) (*QuestionResponseConfig, error) {
	var c QuestionResponseConfig
	err := r.q.QueryRowContext(ctx,
		r.rebind(`SELECT c.id, c.system_id, c.interaction_step_id, c.question_response_value
		 FROM action_external_system_sync s
		 JOIN question_response qr ON qr.id = s.action_id
		 JOIN external_sync_question_response_configuration c
		   ON c.system_id = s.system_id
		  AND c.interaction_step_id = qr.interaction_step_id
		  AND c.question_response_value = qr.value
		 WHERE s.id = ? AND s.action_type = ? AND qr.is_deleted = ?`),
		syncID, string(models.ActionTypeQuestionResponse), false,
	).Scan(&c.ID, &c.SystemID, &c.InteractionStepID, &c.QuestionResponseValue)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find question response config failed: %w", err)
	}
	return &c, nil
}

func (r sqlRepo) GetOptOutConfig(ctx context.Context, systemID string) (*OptOutConfig, error) {
	var c OptOutConfig
	err := r.q.QueryRowContext(ctx,
		r.rebind(`SELECT oc.id, oc.system_id, oc.external_result_code_id, rc.external_id
		 FROM external_sync_opt_out_configuration oc
		 JOIN external_result_code rc ON rc.id = oc.external_result_code_id
		 WHERE oc.system_id = ?`),
		systemID,
	).Scan(&c.ID, &c.SystemID, &c.ResultCodeID, &c.ExternalResultCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get opt out config failed: %w", err)
	}
	return &c, nil
}

func (r sqlRepo) ListConfiguredResponses(ctx context.Context, contactID int64, systemID string, syncIDs []string) ([]ConfiguredResponse, error) {
	if len(syncIDs) == 0 {
		return nil, nil
	}
	in, inArgs := r.inStrings("s.id", syncIDs, "uuid[]")
	args := append([]any{string(models.ActionTypeQuestionResponse), systemID, contactID, false}, inArgs...)
	rows, err := r.q.QueryContext(ctx,
		r.rebind(`SELECT s.id, qr.id, qr.created_at, c.id
		 FROM action_external_system_sync s
		 JOIN question_response qr ON qr.id = s.action_id
		 JOIN external_sync_question_response_configuration c
		   ON c.system_id = s.system_id
		  AND c.interaction_step_id = qr.interaction_step_id
		  AND c.question_response_value = qr.value
		 WHERE s.action_type = ? AND s.system_id = ? AND qr.campaign_contact_id = ? AND qr.is_deleted = ? AND `+in+`
		 ORDER BY qr.created_at ASC, s.id ASC`),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list configured responses failed: %w", err)
	}
	defer rows.Close()

	var out []ConfiguredResponse
	for rows.Next() {
		var cr ConfiguredResponse
		if err := rows.Scan(&cr.SyncID, &cr.QuestionResponseID, &cr.CanvassedAt, &cr.ConfigID); err != nil {
			return nil, fmt.Errorf("scan configured response failed: %w", err)
		}
		out = append(out, cr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list configured responses iteration failed: %w", err)
	}
	return out, nil
}

func (r sqlRepo) ListMappingTargets(ctx context.Context, configIDs []int64) ([]MappingTarget, error) {
	if len(configIDs) == 0 {
		return nil, nil
	}
	inRC, rcArgs := r.inInt64s("e.question_response_config_id", configIDs)
	inAC, acArgs := r.inInt64s("e.question_response_config_id", configIDs)
	inRO, roArgs := r.inInt64s("e.question_response_config_id", configIDs)

	args := make([]any, 0, len(rcArgs)+len(acArgs)+len(roArgs)+4)
	args = append(args, string(TargetResultCode))
	args = append(args, rcArgs...)
	args = append(args, string(TargetActivistCode), "active")
	args = append(args, acArgs...)
	args = append(args, string(TargetResponseOption), "active")
	args = append(args, roArgs...)

	rows, err := r.q.QueryContext(ctx,
		r.rebind(`SELECT e.question_response_config_id, CAST(? AS TEXT), rc.external_id, 0
		 FROM external_sync_config_question_response_result_code e
		 JOIN external_result_code rc ON rc.id = e.external_result_code_id
		 WHERE `+inRC+`
		 UNION ALL
		 SELECT e.question_response_config_id, CAST(? AS TEXT), ac.external_id, 0
		 FROM external_sync_config_question_response_activist_code e
		 JOIN external_activist_code ac ON ac.id = e.external_activist_code_id
		 WHERE ac.status = ? AND `+inAC+`
		 UNION ALL
		 SELECT e.question_response_config_id, CAST(? AS TEXT), ro.external_id, sq.external_id
		 FROM external_sync_config_question_response_response_option e
		 JOIN external_survey_question_response_option ro ON ro.id = e.external_response_option_id
		 JOIN external_survey_question sq ON sq.id = ro.external_survey_question_id
		 WHERE sq.status = ? AND `+inRO+`
		 ORDER BY 1, 2, 3, 4`),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list mapping targets failed: %w", err)
	}
	defer rows.Close()

	var out []MappingTarget
	for rows.Next() {
		var t MappingTarget
		var kind string
		if err := rows.Scan(&t.ConfigID, &kind, &t.ExternalID, &t.SurveyQuestionID); err != nil {
			return nil, fmt.Errorf("scan mapping target failed: %w", err)
		}
		t.Kind = TargetKind(kind)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list mapping targets iteration failed: %w", err)
	}
	return out, nil
}

func (r sqlRepo) FirstOutboundMessageAt(ctx context.Context, contactID int64) (*time.Time, error) {
	var at time.Time
	err := r.q.QueryRowContext(ctx,
		r.rebind(`SELECT created_at FROM message WHERE campaign_contact_id = ? AND is_from_contact = ? ORDER BY created_at ASC, id ASC LIMIT 1`),
		contactID, false,
	).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("first outbound message lookup failed: %w", err)
	}
	return &at, nil
}
