package van_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/BTreeMap/CanvassSync/internal/models"
	"github.com/BTreeMap/CanvassSync/internal/store"
	"github.com/BTreeMap/CanvassSync/internal/testutil"
	"github.com/BTreeMap/CanvassSync/internal/van"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resolverEnv struct {
	store      *store.SQLiteStore
	fixture    *testutil.Fixture
	campaignID int64
	contactID  int64
	systemID   string
}

func newResolverEnv(t *testing.T) *resolverEnv {
	t.Helper()
	s := testutil.NewTestStore(t)
	f := testutil.NewFixture(t, s.DB())
	org := f.Organization()
	campaign := f.Campaign(org)
	return &resolverEnv{
		store:      s,
		fixture:    f,
		campaignID: campaign,
		contactID:  f.Contact(campaign, "VAN-1", "+15555550100", 0),
		systemID:   f.ExternalSystem(org, "user", "ref"),
	}
}

func (e *resolverEnv) queue(t *testing.T, stepID int64, value string, at time.Time) string {
	t.Helper()
	qrID := e.fixture.QuestionResponse(e.contactID, stepID, value, at)
	a, err := e.store.CreateSyncAction(context.Background(), e.systemID, models.ActionTypeQuestionResponse, qrID)
	require.NoError(t, err)
	return a.ID
}

func TestResolver_BucketsByDay(t *testing.T) {
	e := newResolverEnv(t)
	ctx := context.Background()
	step := e.fixture.InteractionStep(e.campaignID)
	cfg := e.fixture.QuestionResponseConfig(e.systemID, step, "Yes")
	e.fixture.MapActivistCode(cfg, e.fixture.ActivistCode(e.systemID, 20, "active"))
	e.fixture.MapActivistCode(cfg, e.fixture.ActivistCode(e.systemID, 10, "active"))
	q := e.fixture.SurveyQuestion(e.systemID, 5, "active")
	e.fixture.MapResponseOption(cfg, e.fixture.ResponseOption(q, 7))
	e.fixture.MapResponseOption(cfg, e.fixture.ResponseOption(q, 6))

	morning := e.queue(t, step, "Yes", time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	evening := e.queue(t, step, "Yes", time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC))
	nextDay := e.queue(t, step, "Yes", time.Date(2024, 3, 2, 1, 0, 0, 0, time.UTC))

	res, err := van.NewResolver(nil).Resolve(ctx, e.store, e.contactID, e.systemID, []string{nextDay, evening, morning, morning})
	require.NoError(t, err)
	require.Len(t, res.Buckets, 2)
	assert.Empty(t, res.Unmapped)
	assert.Empty(t, res.Undated)

	day1 := res.Buckets[0]
	assert.True(t, day1.CanvassedAt.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.ElementsMatch(t, []string{morning, evening}, day1.SyncIDs)
	assert.Equal(t, []int64{10, 20}, day1.ActivistCodes)
	assert.Equal(t, []van.SurveyResponse{{QuestionID: 5, ResponseID: 6}, {QuestionID: 5, ResponseID: 7}}, day1.SurveyResponses)

	day2 := res.Buckets[1]
	assert.True(t, day2.CanvassedAt.Equal(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, []string{nextDay}, day2.SyncIDs)
}

func TestResolver_Location(t *testing.T) {
	e := newResolverEnv(t)
	step := e.fixture.InteractionStep(e.campaignID)
	e.fixture.QuestionResponseConfig(e.systemID, step, "Yes")
	id := e.queue(t, step, "Yes", time.Date(2024, 3, 2, 3, 0, 0, 0, time.UTC))

	est := time.FixedZone("EST", -5*3600)
	res, err := van.NewResolver(est).Resolve(context.Background(), e.store, e.contactID, e.systemID, []string{id})
	require.NoError(t, err)
	require.Len(t, res.Buckets, 1)
	assert.Equal(t, "2024-03-01T00:00:00-05:00", res.Buckets[0].CanvassedAt.Format(time.RFC3339))
}

func TestResolver_ExcludesInactiveTargets(t *testing.T) {
	e := newResolverEnv(t)
	step := e.fixture.InteractionStep(e.campaignID)
	cfg := e.fixture.QuestionResponseConfig(e.systemID, step, "Yes")
	e.fixture.MapActivistCode(cfg, e.fixture.ActivistCode(e.systemID, 1, "inactive"))
	e.fixture.MapResponseOption(cfg, e.fixture.ResponseOption(e.fixture.SurveyQuestion(e.systemID, 2, "inactive"), 3))
	id := e.queue(t, step, "Yes", time.Now())

	res, err := van.NewResolver(nil).Resolve(context.Background(), e.store, e.contactID, e.systemID, []string{id})
	require.NoError(t, err)
	require.Len(t, res.Buckets, 1)
	assert.Empty(t, res.Buckets[0].ActivistCodes)
	assert.Empty(t, res.Buckets[0].SurveyResponses)
	assert.Equal(t, []string{id}, res.Buckets[0].SyncIDs)
}

func TestResolver_Fallback(t *testing.T) {
	e := newResolverEnv(t)
	ctx := context.Background()
	step := e.fixture.InteractionStep(e.campaignID)
	unconfigured := e.queue(t, step, "Maybe", time.Now())

	res, err := van.NewResolver(nil).Resolve(ctx, e.store, e.contactID, e.systemID, []string{unconfigured})
	require.NoError(t, err)
	assert.Empty(t, res.Buckets)
	assert.Equal(t, []string{unconfigured}, res.Undated)

	first := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	e.fixture.Message(e.contactID, false, first)
	res, err = van.NewResolver(nil).Resolve(ctx, e.store, e.contactID, e.systemID, []string{unconfigured})
	require.NoError(t, err)
	require.Len(t, res.Buckets, 1)
	b := res.Buckets[0]
	assert.True(t, b.CanvassedAt.Equal(first))
	assert.Equal(t, []string{unconfigured}, b.SyncIDs)
	assert.Empty(t, b.ResultCodes)
	assert.Empty(t, b.ActivistCodes)
	assert.Empty(t, b.SurveyResponses)
	assert.Empty(t, res.Undated)
}

func TestResolver_FallbackKeepsMessageTime(t *testing.T) {
	e := newResolverEnv(t)
	ctx := context.Background()
	step := e.fixture.InteractionStep(e.campaignID)
	unconfigured := e.queue(t, step, "Maybe", time.Now())

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	first := time.Date(2024, 2, 2, 4, 30, 0, 0, time.UTC)
	e.fixture.Message(e.contactID, false, first)

	res, err := van.NewResolver(loc).Resolve(ctx, e.store, e.contactID, e.systemID, []string{unconfigured})
	require.NoError(t, err)
	require.Len(t, res.Buckets, 1)
	got := res.Buckets[0].CanvassedAt
	assert.True(t, got.Equal(first), "fallback date %v, want %v", got, first)
	assert.Equal(t, loc, got.Location())
	assert.Equal(t, 23, got.Hour())
}

func TestResolver_Deterministic(t *testing.T) {
	e := newResolverEnv(t)
	ctx := context.Background()
	stepA := e.fixture.InteractionStep(e.campaignID)
	stepB := e.fixture.InteractionStep(e.campaignID)
	cfgA := e.fixture.QuestionResponseConfig(e.systemID, stepA, "Yes")
	cfgB := e.fixture.QuestionResponseConfig(e.systemID, stepB, "Yes")
	for _, cfg := range []int64{cfgA, cfgB} {
		e.fixture.MapResultCode(cfg, e.fixture.ResultCode(e.systemID, 40+cfg))
		e.fixture.MapActivistCode(cfg, e.fixture.ActivistCode(e.systemID, 50+cfg, "active"))
	}
	ids := []string{
		e.queue(t, stepA, "Yes", time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)),
		e.queue(t, stepB, "Yes", time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)),
		e.queue(t, stepB, "Yes", time.Date(2024, 3, 3, 9, 0, 0, 0, time.UTC)),
	}

	r := van.NewResolver(nil)
	first, err := r.Resolve(ctx, e.store, e.contactID, e.systemID, ids)
	require.NoError(t, err)
	second, err := r.Resolve(ctx, e.store, e.contactID, e.systemID, []string{ids[2], ids[0], ids[1]})
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestResolver_EmptyCandidates(t *testing.T) {
	e := newResolverEnv(t)
	res, err := van.NewResolver(nil).Resolve(context.Background(), e.store, e.contactID, e.systemID, nil)
	require.NoError(t, err)
	assert.Equal(t, van.Resolution{}, res)
}
