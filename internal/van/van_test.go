package van_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/CanvassSync/internal/extsync"
	"github.com/BTreeMap/CanvassSync/internal/models"
	"github.com/BTreeMap/CanvassSync/internal/secrets"
	"github.com/BTreeMap/CanvassSync/internal/store"
	"github.com/BTreeMap/CanvassSync/internal/testutil"
	"github.com/BTreeMap/CanvassSync/internal/van"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Method   string
	Path     string
	Username string
	Password string
	Body     []byte
}

type cannedResponse struct {
	status int
	body   string
}

// fakeVAN records canvass-response posts. Queued responses are served first,
// then it answers with a fixed status.
type fakeVAN struct {
	server *httptest.Server

	mu       sync.Mutex
	status   int
	body     string
	queued   []cannedResponse
	requests []capturedRequest
}

func newFakeVAN(t *testing.T) *fakeVAN {
	t.Helper()
	f := &fakeVAN{status: http.StatusNoContent}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		user, pass, _ := r.BasicAuth()
		f.mu.Lock()
		f.requests = append(f.requests, capturedRequest{Method: r.Method, Path: r.URL.Path, Username: user, Password: pass, Body: body})
		status, respBody := f.status, f.body
		if len(f.queued) > 0 {
			status, respBody = f.queued[0].status, f.queued[0].body
			f.queued = f.queued[1:]
		}
		f.mu.Unlock()
		w.WriteHeader(status)
		if respBody != "" {
			_, _ = w.Write([]byte(respBody))
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeVAN) respond(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.body = status, body
}

// respondInOrder queues one response per upcoming request.
func (f *fakeVAN) respondInOrder(responses ...cannedResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued = append(f.queued, responses...)
}

func (f *fakeVAN) captured() []capturedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capturedRequest(nil), f.requests...)
}

type vanEnv struct {
	store    *store.SQLiteStore
	fixture  *testutil.Fixture
	server   *fakeVAN
	adapter  *van.Adapter
	registry *extsync.Registry
	service  *extsync.Service
	jc       extsync.JobContext

	orgID      int64
	campaignID int64
	contactID  int64
	stepID     int64
	systemID   string
}

const (
	testUsername = "canvass-user"
	testAPIKey   = "secret-key"
)

func newVANEnv(t *testing.T, opts ...van.Option) *vanEnv {
	t.Helper()
	s := testutil.NewTestStore(t)
	f := testutil.NewFixture(t, s.DB())
	server := newFakeVAN(t)

	sealer, err := secrets.NewSealer("test-passphrase")
	require.NoError(t, err)
	require.NoError(t, secrets.Put(context.Background(), s, sealer, "van-key", testAPIKey))

	opts = append([]van.Option{van.WithBaseURL(server.server.URL)}, opts...)
	adapter := van.NewAdapter(secrets.NewResolver(sealer), opts...)
	registry := extsync.NewRegistry()
	registry.Register(models.ExternalSystemTypeVAN, adapter)

	e := &vanEnv{
		store:    s,
		fixture:  f,
		server:   server,
		adapter:  adapter,
		registry: registry,
		service:  extsync.NewService(s, registry),
		jc:       extsync.NewJobContext(s),
	}
	e.orgID = f.Organization()
	e.campaignID = f.Campaign(e.orgID)
	e.contactID = f.Contact(e.campaignID, "VAN-42", "+1 (555) 555-0100", 77)
	e.stepID = f.InteractionStep(e.campaignID)
	e.systemID = f.ExternalSystem(e.orgID, testUsername, "van-key")
	return e
}

func (e *vanEnv) payload(syncID string) extsync.Payload {
	return extsync.Payload{
		ExternalSystemType: models.ExternalSystemTypeVAN,
		SyncID:             syncID,
		CampaignContactID:  e.contactID,
		ExternalSystemID:   e.systemID,
	}
}

func (e *vanEnv) recordAnswer(t *testing.T, stepID int64, value string, at time.Time) *models.SyncAction {
	t.Helper()
	qrID := e.fixture.QuestionResponse(e.contactID, stepID, value, at)
	action, err := e.service.RecordQuestionResponse(context.Background(), qrID, e.systemID)
	require.NoError(t, err)
	return action
}

func (e *vanEnv) syncAction(t *testing.T, id string) *models.SyncAction {
	t.Helper()
	a, err := e.store.GetSyncAction(context.Background(), id)
	require.NoError(t, err)
	return a
}

func TestScenario_YesMappedToActivistCode(t *testing.T) {
	e := newVANEnv(t)
	ctx := context.Background()

	cfg := e.fixture.QuestionResponseConfig(e.systemID, e.stepID, "Yes")
	e.fixture.MapActivistCode(cfg, e.fixture.ActivistCode(e.systemID, 123, "active"))
	e.fixture.MapResultCode(cfg, e.fixture.ResultCode(e.systemID, 456))

	action := e.recordAnswer(t, e.stepID, "Yes", time.Date(2024, 3, 1, 15, 4, 5, 0, time.UTC))
	assert.Equal(t, models.SyncStatusQueued, action.SyncStatus)

	job, err := e.store.GetActiveJobByKey(ctx, extsync.JobKey(extsync.KindSyncQuestionResponse, e.payload(action.ID)))
	require.NoError(t, err)
	require.NotNil(t, job)
	var p extsync.Payload
	require.NoError(t, json.Unmarshal([]byte(job.PayloadJSON), &p))
	assert.Equal(t, e.contactID, p.CampaignContactID)

	runner := store.NewJobRunner(e.store, time.Second)
	extsync.RegisterJobHandlers(runner, e.registry, e.jc)
	assert.Equal(t, 1, runner.RunDue(ctx, time.Now().Add(2*time.Minute)))

	reqs := e.server.captured()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, "/people/VAN-42/canvassResponses", reqs[0].Path)
	assert.Equal(t, testUsername, reqs[0].Username)
	assert.Equal(t, testAPIKey+"|0", reqs[0].Password)
	assert.JSONEq(t, `[{
		"canvassContext": {
			"phoneId": 77,
			"phone": {"dialingPrefix": "1", "phoneNumber": "5555550100"},
			"contactTypeId": 37,
			"dateCanvassed": "2024-03-01T00:00:00Z"
		},
		"resultCodeId": null,
		"responses": [{"type": "ActivistCode", "activistCodeId": 123, "action": "Apply"}]
	}]`, string(reqs[0].Body))

	got := e.syncAction(t, action.ID)
	assert.Equal(t, models.SyncStatusSynced, got.SyncStatus)
	assert.NotNil(t, got.SyncedAt)
	assert.Nil(t, got.SyncError)

	done, err := e.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobStatusDone, done.Status)
}

func TestQueue_NoMappingSkips(t *testing.T) {
	e := newVANEnv(t)
	ctx := context.Background()

	qr := e.recordAnswer(t, e.stepID, "Maybe", time.Now())
	assert.Equal(t, models.SyncStatusSkipped, qr.SyncStatus)
	require.NotNil(t, qr.SyncError)
	assert.Equal(t, models.SyncReasonNoMappingFound, *qr.SyncError)

	optOutID := e.fixture.OptOut(e.contactID, "+15555550100", time.Now())
	oo, err := e.service.RecordOptOut(ctx, optOutID, e.contactID, e.systemID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSkipped, oo.SyncStatus)
	require.NotNil(t, oo.SyncError)
	assert.Equal(t, models.SyncReasonNoMappingFound, *oo.SyncError)

	counts, err := e.store.CountJobsByStatus(ctx)
	require.NoError(t, err)
	for status, n := range counts {
		assert.Zero(t, n, "jobs with status %s", status)
	}
}

func TestQueue_RepeatedAnswersShareOneJob(t *testing.T) {
	e := newVANEnv(t)
	ctx := context.Background()

	cfg := e.fixture.QuestionResponseConfig(e.systemID, e.stepID, "Yes")
	e.fixture.MapActivistCode(cfg, e.fixture.ActivistCode(e.systemID, 123, "active"))

	var last *models.SyncAction
	for i := 0; i < 3; i++ {
		last = e.recordAnswer(t, e.stepID, "Yes", time.Now())
	}

	counts, err := e.store.CountJobsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[store.JobStatusQueued])

	job, err := e.store.GetActiveJobByKey(ctx, extsync.JobKey(extsync.KindSyncQuestionResponse, e.payload(last.ID)))
	require.NoError(t, err)
	require.NotNil(t, job)
	var p extsync.Payload
	require.NoError(t, json.Unmarshal([]byte(job.PayloadJSON), &p))
	assert.Equal(t, last.ID, p.SyncID)
	assert.Equal(t, extsync.DefaultJobMaxAttempts, job.MaxAttempts)

	// One job still syncs every queued answer of the contact.
	require.NoError(t, e.adapter.SyncQuestionResponse(ctx, p, e.jc))
	require.Len(t, e.server.captured(), 1)
	syncCounts, err := e.store.CountSyncActionsByStatus(ctx, e.systemID)
	require.NoError(t, err)
	assert.Equal(t, 3, syncCounts[models.SyncStatusSynced])
	assert.Equal(t, 0, syncCounts[models.SyncStatusQueued])
}

func TestSyncQuestionResponse_GoldenPayload(t *testing.T) {
	e := newVANEnv(t)
	ctx := context.Background()

	stepA := e.stepID
	stepB := e.fixture.InteractionStep(e.campaignID)

	cfgA := e.fixture.QuestionResponseConfig(e.systemID, stepA, "Yes")
	e.fixture.MapResultCode(cfgA, e.fixture.ResultCode(e.systemID, 456))
	e.fixture.MapActivistCode(cfgA, e.fixture.ActivistCode(e.systemID, 123, "active"))
	e.fixture.MapResponseOption(cfgA, e.fixture.ResponseOption(e.fixture.SurveyQuestion(e.systemID, 900, "active"), 901))

	cfgB := e.fixture.QuestionResponseConfig(e.systemID, stepB, "No")
	e.fixture.MapActivistCode(cfgB, e.fixture.ActivistCode(e.systemID, 200, "active"))
	e.fixture.MapActivistCode(cfgB, e.fixture.ActivistCode(e.systemID, 300, "archived"))
	e.fixture.MapResponseOption(cfgB, e.fixture.ResponseOption(e.fixture.SurveyQuestion(e.systemID, 910, "inactive"), 911))

	second := e.recordAnswer(t, stepB, "No", time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC))
	first := e.recordAnswer(t, stepA, "Yes", time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC))

	require.NoError(t, e.adapter.SyncQuestionResponse(ctx, e.payload(first.ID), e.jc))

	reqs := e.server.captured()
	require.Len(t, reqs, 2)
	bodies := make([]json.RawMessage, 0, len(reqs))
	for _, r := range reqs {
		bodies = append(bodies, json.RawMessage(r.Body))
	}
	out, err := json.MarshalIndent(bodies, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "question_response_buckets", append(out, '\n'))

	assert.Equal(t, models.SyncStatusSynced, e.syncAction(t, first.ID).SyncStatus)
	assert.Equal(t, models.SyncStatusSynced, e.syncAction(t, second.ID).SyncStatus)
}

func TestSyncQuestionResponse_ResultCodeOption(t *testing.T) {
	e := newVANEnv(t, van.WithQuestionResponseResultCodes(true), van.WithContactTypeID(1))
	ctx := context.Background()

	cfg := e.fixture.QuestionResponseConfig(e.systemID, e.stepID, "Yes")
	e.fixture.MapResultCode(cfg, e.fixture.ResultCode(e.systemID, 456))
	e.fixture.MapResultCode(cfg, e.fixture.ResultCode(e.systemID, 455))

	action := e.recordAnswer(t, e.stepID, "Yes", time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC))
	require.NoError(t, e.adapter.SyncQuestionResponse(ctx, e.payload(action.ID), e.jc))

	reqs := e.server.captured()
	require.Len(t, reqs, 1)
	var body []van.CanvassResponse
	require.NoError(t, json.Unmarshal(reqs[0].Body, &body))
	require.Len(t, body, 1)
	require.NotNil(t, body[0].ResultCodeID)
	assert.Equal(t, int64(455), *body[0].ResultCodeID)
	assert.Equal(t, 1, body[0].CanvassContext.ContactTypeID)
	assert.Empty(t, body[0].Responses)
}

func TestSyncQuestionResponse_RejectionMarksFailed(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantError string
	}{
		{"bad request with body", http.StatusBadRequest, `{"errors":[{"code":"INVALID_PARAMETER"}]}`, `{"errors":[{"code":"INVALID_PARAMETER"}]}`},
		{"server error without body", http.StatusInternalServerError, "", "Internal Server Error"},
		{"ok is not success", http.StatusOK, "", "OK"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newVANEnv(t)
			e.server.respond(tt.status, tt.body)

			cfg := e.fixture.QuestionResponseConfig(e.systemID, e.stepID, "Yes")
			e.fixture.MapActivistCode(cfg, e.fixture.ActivistCode(e.systemID, 123, "active"))
			action := e.recordAnswer(t, e.stepID, "Yes", time.Now())

			require.NoError(t, e.adapter.SyncQuestionResponse(context.Background(), e.payload(action.ID), e.jc))

			got := e.syncAction(t, action.ID)
			assert.Equal(t, models.SyncStatusFailed, got.SyncStatus)
			require.NotNil(t, got.SyncError)
			assert.Equal(t, tt.wantError, *got.SyncError)
			assert.Nil(t, got.SyncedAt)
		})
	}
}

func TestSyncQuestionResponse_MixedBucketOutcomes(t *testing.T) {
	e := newVANEnv(t)
	ctx := context.Background()
	e.server.respondInOrder(
		cannedResponse{status: http.StatusBadRequest, body: "bad day one"},
		cannedResponse{status: http.StatusNoContent},
	)

	stepB := e.fixture.InteractionStep(e.campaignID)
	cfgA := e.fixture.QuestionResponseConfig(e.systemID, e.stepID, "Yes")
	e.fixture.MapActivistCode(cfgA, e.fixture.ActivistCode(e.systemID, 123, "active"))
	cfgB := e.fixture.QuestionResponseConfig(e.systemID, stepB, "No")
	e.fixture.MapActivistCode(cfgB, e.fixture.ActivistCode(e.systemID, 200, "active"))

	a1 := e.recordAnswer(t, e.stepID, "Yes", time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC))
	a2 := e.recordAnswer(t, stepB, "No", time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC))

	err := e.adapter.SyncQuestionResponse(ctx, e.payload(a2.ID), e.jc)
	require.NoError(t, err)

	reqs := e.server.captured()
	require.Len(t, reqs, 2)
	assert.Contains(t, string(reqs[0].Body), `"dateCanvassed":"2024-03-01T00:00:00Z"`)
	assert.Contains(t, string(reqs[1].Body), `"dateCanvassed":"2024-03-02T00:00:00Z"`)

	failed := e.syncAction(t, a1.ID)
	assert.Equal(t, models.SyncStatusFailed, failed.SyncStatus)
	require.NotNil(t, failed.SyncError)
	assert.Equal(t, "bad day one", *failed.SyncError)
	assert.Nil(t, failed.SyncedAt)

	synced := e.syncAction(t, a2.ID)
	assert.Equal(t, models.SyncStatusSynced, synced.SyncStatus)
	assert.NotNil(t, synced.SyncedAt)
	assert.Nil(t, synced.SyncError)
}

func TestSyncQuestionResponse_FallbackToFirstOutboundMessage(t *testing.T) {
	e := newVANEnv(t)
	ctx := context.Background()
	firstText := time.Date(2024, 2, 28, 9, 30, 0, 0, time.UTC)
	e.fixture.Message(e.contactID, true, firstText.Add(-time.Hour))
	e.fixture.Message(e.contactID, false, firstText)
	e.fixture.Message(e.contactID, false, firstText.Add(time.Hour))

	cfg := e.fixture.QuestionResponseConfig(e.systemID, e.stepID, "Yes")
	e.fixture.MapActivistCode(cfg, e.fixture.ActivistCode(e.systemID, 123, "active"))
	action := e.recordAnswer(t, e.stepID, "Yes", time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC))
	require.Equal(t, models.SyncStatusQueued, action.SyncStatus)

	// The mapping is removed after the job was queued.
	e.fixture.DeleteQuestionResponseConfig(cfg)

	require.NoError(t, e.adapter.SyncQuestionResponse(ctx, e.payload(action.ID), e.jc))

	reqs := e.server.captured()
	require.Len(t, reqs, 1)
	assert.JSONEq(t, `[{
		"canvassContext": {
			"phoneId": 77,
			"phone": {"dialingPrefix": "1", "phoneNumber": "5555550100"},
			"contactTypeId": 37,
			"dateCanvassed": "2024-02-28T09:30:00Z"
		},
		"resultCodeId": null,
		"responses": []
	}]`, string(reqs[0].Body))
	assert.Equal(t, models.SyncStatusSynced, e.syncAction(t, action.ID).SyncStatus)
}

func TestSyncQuestionResponse_NoCanvassDate(t *testing.T) {
	e := newVANEnv(t)
	cfg := e.fixture.QuestionResponseConfig(e.systemID, e.stepID, "Yes")
	action := e.recordAnswer(t, e.stepID, "Yes", time.Now())
	e.fixture.DeleteQuestionResponseConfig(cfg)

	require.NoError(t, e.adapter.SyncQuestionResponse(context.Background(), e.payload(action.ID), e.jc))

	assert.Empty(t, e.server.captured())
	got := e.syncAction(t, action.ID)
	assert.Equal(t, models.SyncStatusFailed, got.SyncStatus)
	require.NotNil(t, got.SyncError)
	assert.Equal(t, models.SyncReasonNoCanvassDate, *got.SyncError)
}

func TestSyncQuestionResponse_UnmappedCandidateSkipped(t *testing.T) {
	e := newVANEnv(t)
	stepB := e.fixture.InteractionStep(e.campaignID)

	kept := e.fixture.QuestionResponseConfig(e.systemID, e.stepID, "Yes")
	e.fixture.MapActivistCode(kept, e.fixture.ActivistCode(e.systemID, 123, "active"))
	removed := e.fixture.QuestionResponseConfig(e.systemID, stepB, "No")

	mapped := e.recordAnswer(t, e.stepID, "Yes", time.Now())
	unmapped := e.recordAnswer(t, stepB, "No", time.Now())
	e.fixture.DeleteQuestionResponseConfig(removed)

	require.NoError(t, e.adapter.SyncQuestionResponse(context.Background(), e.payload(unmapped.ID), e.jc))

	require.Len(t, e.server.captured(), 1)
	assert.Equal(t, models.SyncStatusSynced, e.syncAction(t, mapped.ID).SyncStatus)
	got := e.syncAction(t, unmapped.ID)
	assert.Equal(t, models.SyncStatusSkipped, got.SyncStatus)
	require.NotNil(t, got.SyncError)
	assert.Equal(t, models.SyncReasonNoMappingFound, *got.SyncError)
}

func TestSyncQuestionResponse_ContactMissingExternalID(t *testing.T) {
	e := newVANEnv(t)
	e.contactID = e.fixture.Contact(e.campaignID, "", "+15555550111", 0)

	e.fixture.QuestionResponseConfig(e.systemID, e.stepID, "Yes")
	action := e.recordAnswer(t, e.stepID, "Yes", time.Now())

	require.NoError(t, e.adapter.SyncQuestionResponse(context.Background(), e.payload(action.ID), e.jc))

	assert.Empty(t, e.server.captured())
	got := e.syncAction(t, action.ID)
	assert.Equal(t, models.SyncStatusFailed, got.SyncStatus)
	require.NotNil(t, got.SyncError)
	assert.Equal(t, models.SyncReasonContactMissingExternal, *got.SyncError)
}

func TestSyncQuestionResponse_MissingCredentialRetries(t *testing.T) {
	e := newVANEnv(t)
	ctx := context.Background()
	_, err := e.store.DB().Exec(`DELETE FROM secrets`)
	require.NoError(t, err)

	e.fixture.QuestionResponseConfig(e.systemID, e.stepID, "Yes")
	action := e.recordAnswer(t, e.stepID, "Yes", time.Now())

	err = e.adapter.SyncQuestionResponse(ctx, e.payload(action.ID), e.jc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, secrets.ErrCredentialNotFound))
	assert.Empty(t, e.server.captured())
	assert.Equal(t, models.SyncStatusQueued, e.syncAction(t, action.ID).SyncStatus)
}

func TestSyncQuestionResponse_TransportErrorKeepsQueued(t *testing.T) {
	e := newVANEnv(t)
	stepB := e.fixture.InteractionStep(e.campaignID)
	e.fixture.QuestionResponseConfig(e.systemID, e.stepID, "Yes")
	e.fixture.QuestionResponseConfig(e.systemID, stepB, "No")
	a := e.recordAnswer(t, e.stepID, "Yes", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	b := e.recordAnswer(t, stepB, "No", time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC))

	e.server.server.Close()

	err := e.adapter.SyncQuestionResponse(context.Background(), e.payload(a.ID), e.jc)
	require.Error(t, err)
	assert.Equal(t, models.SyncStatusQueued, e.syncAction(t, a.ID).SyncStatus)
	assert.Equal(t, models.SyncStatusQueued, e.syncAction(t, b.ID).SyncStatus)
}

func TestSyncOptOut_SubmitsEveryQueuedOptOut(t *testing.T) {
	e := newVANEnv(t)
	ctx := context.Background()
	e.fixture.OptOutConfig(e.systemID, e.fixture.ResultCode(e.systemID, 789))

	var actions []*models.SyncAction
	for i := 0; i < 2; i++ {
		optOutID := e.fixture.OptOut(e.contactID, "+15555550100", time.Now())
		a, err := e.service.RecordOptOut(ctx, optOutID, e.contactID, e.systemID)
		require.NoError(t, err)
		require.Equal(t, models.SyncStatusQueued, a.SyncStatus)
		actions = append(actions, a)
	}

	require.NoError(t, e.adapter.SyncOptOut(ctx, e.payload(actions[1].ID), e.jc))

	reqs := e.server.captured()
	require.Len(t, reqs, 2)
	for i, r := range reqs {
		var body []van.CanvassResponse
		require.NoError(t, json.Unmarshal(r.Body, &body))
		require.Len(t, body, 1)
		require.NotNil(t, body[0].ResultCodeID)
		assert.Equal(t, int64(789), *body[0].ResultCodeID)
		assert.Empty(t, body[0].Responses)

		canvassed, err := time.Parse(time.RFC3339, body[0].CanvassContext.DateCanvassed)
		require.NoError(t, err)
		assert.True(t, canvassed.Equal(actions[i].CreatedAt.Truncate(time.Second)), "dateCanvassed %v, created %v", canvassed, actions[i].CreatedAt)
	}
	for _, a := range actions {
		got := e.syncAction(t, a.ID)
		assert.Equal(t, models.SyncStatusSynced, got.SyncStatus)
		assert.NotNil(t, got.SyncedAt)
	}
}

func TestSyncOptOut_ModeFromSecret(t *testing.T) {
	e := newVANEnv(t)
	ctx := context.Background()
	sealer, err := secrets.NewSealer("test-passphrase")
	require.NoError(t, err)
	require.NoError(t, secrets.Put(ctx, e.store, sealer, "van-key", "other-key|1"))
	e.fixture.OptOutConfig(e.systemID, e.fixture.ResultCode(e.systemID, 789))

	optOutID := e.fixture.OptOut(e.contactID, "+15555550100", time.Now())
	a, err := e.service.RecordOptOut(ctx, optOutID, e.contactID, e.systemID)
	require.NoError(t, err)
	require.NoError(t, e.adapter.SyncOptOut(ctx, e.payload(a.ID), e.jc))

	reqs := e.server.captured()
	require.Len(t, reqs, 1)
	assert.Equal(t, "other-key|1", reqs[0].Password)
}

func TestNormalizePhone(t *testing.T) {
	tests := map[string]string{
		"+15555550100":      "5555550100",
		"+1 (555) 555-0100": "5555550100",
		"5555550100":        "5555550100",
		"555.555.0100":      "5555550100",
		"+445555550100":     "445555550100",
		"":                  "",
	}
	for in, want := range tests {
		assert.Equal(t, want, van.NormalizePhone(in), "NormalizePhone(%q)", in)
	}
}

func TestPassword(t *testing.T) {
	assert.Equal(t, "abc|0", van.Password("abc"))
	assert.Equal(t, "abc|1", van.Password("abc|1"))
}
