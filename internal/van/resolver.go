package van

import (
	"cmp"
	"context"
	"slices"
	"sort"
	"time"

	"github.com/BTreeMap/CanvassSync/internal/store"
)

// ResolverSource is the store capability the canvass-response resolver reads.
type ResolverSource interface {
	ListConfiguredResponses(ctx context.Context, contactID int64, systemID string, syncIDs []string) ([]store.ConfiguredResponse, error)
	ListMappingTargets(ctx context.Context, configIDs []int64) ([]store.MappingTarget, error)
	FirstOutboundMessageAt(ctx context.Context, contactID int64) (*time.Time, error)
}

// Resolution is the outcome of resolving a contact's queued question
// responses against the mapping configuration.
type Resolution struct {
	// Buckets are ordered by canvass date.
	Buckets []Bucket
	// Unmapped holds candidate ids whose response no longer matches any
	// configuration.
	Unmapped []string
	// Undated holds candidate ids that fell back to the first outbound
	// message of a contact that was never texted.
	Undated []string
}

// Resolver groups configured question responses into per-day canvass
// buckets.
type Resolver struct {
	loc *time.Location
}

// NewResolver creates a Resolver that truncates canvass times to days in loc.
// A nil loc means UTC.
func NewResolver(loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{loc: loc}
}

// Resolve builds the canvass buckets for the candidate sync ids of a contact.
func (r *Resolver) Resolve(ctx context.Context, src ResolverSource, contactID int64, systemID string, syncIDs []string) (Resolution, error) {
	candidates := dedupStrings(syncIDs)
	if len(candidates) == 0 {
		return Resolution{}, nil
	}

	rows, err := src.ListConfiguredResponses(ctx, contactID, systemID, candidates)
	if err != nil {
		return Resolution{}, err
	}
	if len(rows) == 0 {
		return r.fallback(ctx, src, contactID, candidates)
	}

	configIDs := make([]int64, 0, len(rows))
	for _, row := range rows {
		configIDs = append(configIDs, row.ConfigID)
	}
	targets, err := src.ListMappingTargets(ctx, dedupInt64s(configIDs))
	if err != nil {
		return Resolution{}, err
	}
	byConfig := make(map[int64][]store.MappingTarget)
	for _, t := range targets {
		byConfig[t.ConfigID] = append(byConfig[t.ConfigID], t)
	}

	buckets := make(map[int64]*Bucket)
	matched := make(map[string]bool, len(rows))
	for _, row := range rows {
		day := r.truncateDay(row.CanvassedAt)
		b, ok := buckets[day.Unix()]
		if !ok {
			b = &Bucket{CanvassedAt: day}
			buckets[day.Unix()] = b
		}
		b.SyncIDs = append(b.SyncIDs, row.SyncID)
		matched[row.SyncID] = true
		for _, t := range byConfig[row.ConfigID] {
			switch t.Kind {
			case store.TargetResultCode:
				b.ResultCodes = append(b.ResultCodes, t.ExternalID)
			case store.TargetActivistCode:
				b.ActivistCodes = append(b.ActivistCodes, t.ExternalID)
			case store.TargetResponseOption:
				b.SurveyResponses = append(b.SurveyResponses, SurveyResponse{QuestionID: t.SurveyQuestionID, ResponseID: t.ExternalID})
			}
		}
	}

	var res Resolution
	for _, b := range buckets {
		b.SyncIDs = dedupStrings(b.SyncIDs)
		b.ResultCodes = dedupInt64s(b.ResultCodes)
		b.ActivistCodes = dedupInt64s(b.ActivistCodes)
		b.SurveyResponses = dedupSurveyResponses(b.SurveyResponses)
		res.Buckets = append(res.Buckets, *b)
	}
	sort.Slice(res.Buckets, func(i, j int) bool {
		return res.Buckets[i].CanvassedAt.Before(res.Buckets[j].CanvassedAt)
	})
	for _, id := range candidates {
		if !matched[id] {
			res.Unmapped = append(res.Unmapped, id)
		}
	}
	return res, nil
}

// fallback dates a single empty bucket at the contact's first outbound
// message so the contact attempt is still recorded. The message time is kept
// as is, only moved into the resolver's location.
func (r *Resolver) fallback(ctx context.Context, src ResolverSource, contactID int64, candidates []string) (Resolution, error) {
	first, err := src.FirstOutboundMessageAt(ctx, contactID)
	if err != nil {
		return Resolution{}, err
	}
	if first == nil {
		return Resolution{Undated: candidates}, nil
	}
	return Resolution{Buckets: []Bucket{{CanvassedAt: first.In(r.loc), SyncIDs: candidates}}}, nil
}

func (r *Resolver) truncateDay(t time.Time) time.Time {
	t = t.In(r.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, r.loc)
}

func dedupStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}

func dedupInt64s(in []int64) []int64 {
	if len(in) == 0 {
		return nil
	}
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}

func dedupSurveyResponses(in []SurveyResponse) []SurveyResponse {
	if len(in) == 0 {
		return nil
	}
	out := slices.Clone(in)
	slices.SortFunc(out, func(a, b SurveyResponse) int {
		if c := cmp.Compare(a.QuestionID, b.QuestionID); c != 0 {
			return c
		}
		return cmp.Compare(a.ResponseID, b.ResponseID)
	})
	return slices.Compact(out)
}
