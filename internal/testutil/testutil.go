// Package testutil provides common test utilities and helpers for CanvassSync tests.
package testutil

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/BTreeMap/CanvassSync/internal/store"
	"github.com/google/uuid"
)

// NewTestStore opens a migrated SQLite store in a temp dir that is closed
// when the test ends.
func NewTestStore(t testing.TB) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(t.TempDir(), "canvasssync.db")))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	return s
}

// Fixture inserts rows into the tables the sync core only reads.
type Fixture struct {
	t  testing.TB
	db *sql.DB
}

// NewFixture returns a Fixture writing through db.
func NewFixture(t testing.TB, db *sql.DB) *Fixture {
	return &Fixture{t: t, db: db}
}

func (f *Fixture) insert(query string, args ...any) int64 {
	f.t.Helper()
	var id int64
	if err := f.db.QueryRow(query+" RETURNING id", args...).Scan(&id); err != nil {
		f.t.Fatalf("fixture insert failed: %v\n%s", err, query)
	}
	return id
}

func (f *Fixture) exec(query string, args ...any) {
	f.t.Helper()
	if _, err := f.db.Exec(query, args...); err != nil {
		f.t.Fatalf("fixture exec failed: %v\n%s", err, query)
	}
}

// Organization inserts an organization.
func (f *Fixture) Organization() int64 {
	f.t.Helper()
	return f.insert(`INSERT INTO organization (name) VALUES ('Test Org')`)
}

// Campaign inserts a campaign for orgID.
func (f *Fixture) Campaign(orgID int64) int64 {
	f.t.Helper()
	return f.insert(`INSERT INTO campaign (organization_id, title) VALUES (?, 'Test Campaign')`, orgID)
}

// Contact inserts a campaign contact. A zero phoneID is stored as NULL.
func (f *Fixture) Contact(campaignID int64, externalID, cell string, phoneID int64) int64 {
	f.t.Helper()
	var pid any
	if phoneID != 0 {
		pid = phoneID
	}
	return f.insert(`INSERT INTO campaign_contact (campaign_id, external_id, cell, phone_id) VALUES (?, ?, ?, ?)`,
		campaignID, externalID, cell, pid)
}

// Message inserts a message on a contact's conversation.
func (f *Fixture) Message(contactID int64, fromContact bool, at time.Time) int64 {
	f.t.Helper()
	return f.insert(`INSERT INTO message (campaign_contact_id, is_from_contact, text, created_at) VALUES (?, ?, 'hi', ?)`,
		contactID, fromContact, at.UTC())
}

// InteractionStep inserts an interaction step.
func (f *Fixture) InteractionStep(campaignID int64) int64 {
	f.t.Helper()
	return f.insert(`INSERT INTO interaction_step (campaign_id, question) VALUES (?, 'Will you vote?')`, campaignID)
}

// QuestionResponse inserts an answer given at the given time.
func (f *Fixture) QuestionResponse(contactID, stepID int64, value string, at time.Time) int64 {
	f.t.Helper()
	return f.insert(`INSERT INTO question_response (campaign_contact_id, interaction_step_id, value, is_deleted, created_at) VALUES (?, ?, ?, ?, ?)`,
		contactID, stepID, value, false, at.UTC())
}

// DeleteQuestionResponse soft-deletes a question response.
func (f *Fixture) DeleteQuestionResponse(id int64) {
	f.t.Helper()
	f.exec(`UPDATE question_response SET is_deleted = ? WHERE id = ?`, true, id)
}

// OptOut inserts an opt-out.
func (f *Fixture) OptOut(contactID int64, cell string, at time.Time) int64 {
	f.t.Helper()
	return f.insert(`INSERT INTO opt_out (campaign_contact_id, cell, reason, created_at) VALUES (?, ?, 'STOP', ?)`,
		contactID, cell, at.UTC())
}

// ExternalSystem inserts a VAN system and returns its id.
func (f *Fixture) ExternalSystem(orgID int64, username, apiKeyRef string) string {
	f.t.Helper()
	id := uuid.NewString()
	f.exec(`INSERT INTO external_system (id, organization_id, name, type, username, api_key_ref) VALUES (?, ?, 'VAN', 'van', ?, ?)`,
		id, orgID, username, apiKeyRef)
	return id
}

// ResultCode inserts a result code with the given external id.
func (f *Fixture) ResultCode(systemID string, externalID int64) int64 {
	f.t.Helper()
	return f.insert(`INSERT INTO external_result_code (system_id, external_id, name) VALUES (?, ?, 'Result')`, systemID, externalID)
}

// ActivistCode inserts an activist code with the given status.
func (f *Fixture) ActivistCode(systemID string, externalID int64, status string) int64 {
	f.t.Helper()
	return f.insert(`INSERT INTO external_activist_code (system_id, external_id, name, status) VALUES (?, ?, 'Activist', ?)`,
		systemID, externalID, status)
}

// SurveyQuestion inserts a survey question with the given status.
func (f *Fixture) SurveyQuestion(systemID string, externalID int64, status string) int64 {
	f.t.Helper()
	return f.insert(`INSERT INTO external_survey_question (system_id, external_id, name, status) VALUES (?, ?, 'Question', ?)`,
		systemID, externalID, status)
}

// ResponseOption inserts a response option of a survey question.
func (f *Fixture) ResponseOption(questionID, externalID int64) int64 {
	f.t.Helper()
	return f.insert(`INSERT INTO external_survey_question_response_option (external_survey_question_id, external_id, name) VALUES (?, ?, 'Option')`,
		questionID, externalID)
}

// QuestionResponseConfig inserts a mapping configuration for (stepID, value).
func (f *Fixture) QuestionResponseConfig(systemID string, stepID int64, value string) int64 {
	f.t.Helper()
	return f.insert(`INSERT INTO external_sync_question_response_configuration (system_id, interaction_step_id, question_response_value) VALUES (?, ?, ?)`,
		systemID, stepID, value)
}

// MapResultCode links a configuration to a result code.
func (f *Fixture) MapResultCode(configID, resultCodeID int64) {
	f.t.Helper()
	f.insert(`INSERT INTO external_sync_config_question_response_result_code (question_response_config_id, external_result_code_id) VALUES (?, ?)`,
		configID, resultCodeID)
}

// MapActivistCode links a configuration to an activist code.
func (f *Fixture) MapActivistCode(configID, activistCodeID int64) {
	f.t.Helper()
	f.insert(`INSERT INTO external_sync_config_question_response_activist_code (question_response_config_id, external_activist_code_id) VALUES (?, ?)`,
		configID, activistCodeID)
}

// MapResponseOption links a configuration to a survey response option.
func (f *Fixture) MapResponseOption(configID, optionID int64) {
	f.t.Helper()
	f.insert(`INSERT INTO external_sync_config_question_response_response_option (question_response_config_id, external_response_option_id) VALUES (?, ?)`,
		configID, optionID)
}

// OptOutConfig sets the opt-out result code of a system.
func (f *Fixture) OptOutConfig(systemID string, resultCodeID int64) {
	f.t.Helper()
	f.insert(`INSERT INTO external_sync_opt_out_configuration (system_id, external_result_code_id) VALUES (?, ?)`,
		systemID, resultCodeID)
}

// DeleteQuestionResponseConfig removes a configuration and its edges.
func (f *Fixture) DeleteQuestionResponseConfig(configID int64) {
	f.t.Helper()
	for _, table := range []string{
		"external_sync_config_question_response_result_code",
		"external_sync_config_question_response_activist_code",
		"external_sync_config_question_response_response_option",
	} {
		f.exec(`DELETE FROM `+table+` WHERE question_response_config_id = ?`, configID)
	}
	f.exec(`DELETE FROM external_sync_question_response_configuration WHERE id = ?`, configID)
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t testing.TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t testing.TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// MustMarshalJSON marshals v or fails the test.
func MustMarshalJSON(t testing.TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals data into target or fails the test.
func MustUnmarshalJSON(t testing.TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
