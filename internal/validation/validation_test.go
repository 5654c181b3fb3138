package validation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/xaenox/callscope/internal/crm"
	"github.com/xaenox/callscope/internal/models"
	"github.com/xaenox/callscope/internal/storage"
)

var T = time.Date(2025, 5, 12, 14, 0, 0, 0, time.UTC)

const caller = "+1 (555) 123-4567"

func seedCall(t *testing.T, s storage.Storage, id string, dir models.Direction, intent models.Intent, at time.Time) {
	t.Helper()
	ctx := context.Background()
	if err := s.SaveCall(ctx, models.CallRecord{CallID: id, CallerNumber: caller, Direction: dir, OccurredAt: at}); err != nil {
		t.Fatalf("SaveCall failed: %v", err)
	}
	res := models.ClassificationResult{CallID: id, Category: models.CategoryPlumbing, Intent: intent, Sentiment: models.SentimentNeutral}
	res.SetConfidence(0.9)
	if err := s.SaveClassification(ctx, res); err != nil {
		t.Fatalf("SaveClassification failed: %v", err)
	}
}

func fixedClock() time.Time { return T.Add(72 * time.Hour) }

func TestRunConfirmsWithinWindowOnly(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	seedCall(t, store, "near", models.DirectionInbound, models.IntentBooking, T)
	seedCall(t, store, "far", models.DirectionInbound, models.IntentBooking, T.Add(-5*24*time.Hour))

	jobs := &crm.StaticJobSource{Jobs: []crm.Job{
		{ID: "job-10h", ClientName: "Pat Smith 4567", CreatedAt: T.Add(10 * time.Hour)},
		{ID: "job-far-50h", ClientName: "Pat Smith 4567", CreatedAt: T.Add(-5*24*time.Hour + 50*time.Hour)},
	}}
	loop := NewLoop(store, jobs, zaptest.NewLogger(t), WithClock(fixedClock))

	summary, err := loop.Run(ctx, T.Add(-7*24*time.Hour), T.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Candidates != 2 || summary.Validated != 2 || summary.Confirmed != 1 || summary.FalsePositives != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.AccuracyRate != 0.5 {
		t.Fatalf("accuracy = %v", summary.AccuracyRate)
	}
	if summary.RunID == "" {
		t.Fatal("expected a run id")
	}

	near, err := store.GetValidation(ctx, "near")
	if err != nil {
		t.Fatalf("GetValidation(near) failed: %v", err)
	}
	if !near.Confirmed() || near.MatchedExternalID != "job-10h" || near.RunID != summary.RunID {
		t.Fatalf("near outcome = %+v", near)
	}
	if !near.CheckedAt.Equal(fixedClock()) {
		t.Fatalf("checked_at = %v", near.CheckedAt)
	}
	far, _ := store.GetValidation(ctx, "far")
	if far.Confirmed() || !far.Checked() || far.MatchedExternalID != "" {
		t.Fatalf("far outcome = %+v", far)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	seedCall(t, store, "c1", models.DirectionInbound, models.IntentBooking, T)
	seedCall(t, store, "c2", models.DirectionInbound, models.IntentBooking, T.Add(time.Hour))
	jobs := &crm.StaticJobSource{Jobs: []crm.Job{{ID: "j1", ClientName: "4567", CreatedAt: T.Add(2 * time.Hour)}}}
	loop := NewLoop(store, jobs, zaptest.NewLogger(t))

	first, err := loop.Run(ctx, T, T.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	before, _ := store.CallsInRange(ctx, T, T.Add(24*time.Hour))

	second, err := loop.Run(ctx, T, T.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if first.Validated != 2 {
		t.Fatalf("first run validated %d", first.Validated)
	}
	if second.Candidates != 0 || second.Validated != 0 || second.AccuracyRate != 0 {
		t.Fatalf("second run should do nothing, got %+v", second)
	}

	after, _ := store.CallsInRange(ctx, T, T.Add(24*time.Hour))
	for i := range before {
		b, a := before[i].Outcome, after[i].Outcome
		if b.Confirmed() != a.Confirmed() || b.RunID != a.RunID || b.MatchedExternalID != a.MatchedExternalID {
			t.Fatalf("outcome for %s changed: %+v -> %+v", before[i].Call.CallID, b, a)
		}
	}
}

func TestRunSkipsIneligibleCalls(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	seedCall(t, store, "outbound", models.DirectionOutbound, models.IntentBooking, T)
	seedCall(t, store, "unknown", models.DirectionUnknown, models.IntentBooking, T)
	seedCall(t, store, "inquiry", models.DirectionInbound, models.IntentInquiry, T)
	seedCall(t, store, "test-1", models.DirectionInbound, models.IntentBooking, T)
	if err := store.SaveCall(ctx, models.CallRecord{CallID: "unclassified", Direction: models.DirectionInbound, OccurredAt: T}); err != nil {
		t.Fatalf("SaveCall failed: %v", err)
	}

	summary, err := NewLoop(store, &crm.StaticJobSource{}, zaptest.NewLogger(t)).Run(ctx, T, T.Add(time.Hour))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Candidates != 0 {
		t.Fatalf("expected no candidates, got %+v", summary)
	}
}

func TestRunLeavesCallUncheckedOnCRMError(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	seedCall(t, store, "c1", models.DirectionInbound, models.IntentBooking, T)

	summary, err := NewLoop(store, &crm.StaticJobSource{Err: errors.New("crm down")}, zaptest.NewLogger(t)).
		Run(ctx, T, T.Add(time.Hour))
	if err != nil {
		t.Fatalf("Run should not fail the batch: %v", err)
	}
	if summary.Failed != 1 || summary.Validated != 0 || summary.AccuracyRate != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if _, err := store.GetValidation(ctx, "c1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected call to remain unchecked, got %v", err)
	}
}

func TestFirstMatchPrefersEarliestJob(t *testing.T) {
	jobs := []crm.Job{
		{ID: "later", ClientName: "Client 4567", CreatedAt: T.Add(5 * time.Hour)},
		{ID: "unrelated", ClientName: "Client 9999", CreatedAt: T.Add(time.Hour)},
		{ID: "earlier-b", ClientName: "4567 Main St", CreatedAt: T.Add(2 * time.Hour)},
		{ID: "earlier-a", ClientID: caller, CreatedAt: T.Add(2 * time.Hour)},
	}
	job, ok := FirstMatch(jobs, caller)
	if !ok || job.ID != "earlier-a" {
		t.Fatalf("FirstMatch = %+v, %v", job, ok)
	}
	if jobs[0].ID != "later" {
		t.Fatal("FirstMatch must not reorder its input")
	}
}

func TestMatches(t *testing.T) {
	cases := []struct {
		job    crm.Job
		caller string
		want   bool
	}{
		{crm.Job{ClientName: "Dana (555) 123-4567"}, "+15551234567", true},
		{crm.Job{ClientName: "Dana 4576"}, "+15551234567", false},
		{crm.Job{ClientName: "Dana 4567"}, "+15551234567", true},
		{crm.Job{ClientID: "+15551234567"}, "+15551234567", true},
		{crm.Job{ClientID: "15551234567"}, "+15551234567", false},
		{crm.Job{ClientName: "123"}, "123", false},
		{crm.Job{ClientName: ""}, "", false},
	}
	for _, tc := range cases {
		if got := Matches(tc.job, tc.caller); got != tc.want {
			t.Errorf("Matches(%+v, %q) = %v, want %v", tc.job, tc.caller, got, tc.want)
		}
	}
}

func TestConcurrentRunsDoNotDoubleCount(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	const n = 20
	for i := 0; i < n; i++ {
		seedCall(t, store, "call-"+string(rune('a'+i)), models.DirectionInbound, models.IntentBooking, T.Add(time.Duration(i)*time.Minute))
	}
	jobs := &crm.StaticJobSource{Jobs: []crm.Job{{ID: "j", ClientName: "x4567", CreatedAt: T.Add(3 * time.Hour)}}}

	var (
		wg        sync.WaitGroup
		summaries [3]models.ValidationSummary
	)
	for i := range summaries {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := NewLoop(store, jobs, zaptest.NewLogger(t), WithConcurrency(3)).Run(ctx, T, T.Add(time.Hour))
			if err != nil {
				t.Errorf("Run failed: %v", err)
			}
			summaries[i] = s
		}(i)
	}
	wg.Wait()

	validated := 0
	for _, s := range summaries {
		validated += s.Validated
		if s.Validated+s.Skipped+s.Failed != s.Candidates {
			t.Fatalf("summary does not add up: %+v", s)
		}
	}
	if validated != n {
		t.Fatalf("validated %d calls across runs, want %d", validated, n)
	}
}

func TestRunWithoutJobSourceRecordsNothing(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	seedCall(t, store, "c1", models.DirectionInbound, models.IntentBooking, T)

	_, err := NewLoop(store, nil, zaptest.NewLogger(t), WithClock(fixedClock)).Run(ctx, T, T.Add(time.Hour))
	if !errors.Is(err, ErrNoJobSource) {
		t.Fatalf("expected ErrNoJobSource, got %v", err)
	}
	if _, err := store.GetValidation(ctx, "c1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected call to remain unchecked, got %v", err)
	}

	// Once a source exists the booking is confirmed rather than stuck as a false positive.
	jobs := &crm.StaticJobSource{Jobs: []crm.Job{{ID: "j1", ClientName: "Pat 4567", CreatedAt: T.Add(time.Hour)}}}
	summary, err := NewLoop(store, jobs, zaptest.NewLogger(t), WithClock(fixedClock)).Run(ctx, T, T.Add(time.Hour))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Candidates != 1 || summary.Confirmed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestRunWaitsForMatchWindowToClose(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	seedCall(t, store, "c1", models.DirectionInbound, models.IntentBooking, T)

	jobs := &crm.StaticJobSource{}
	clock := T.Add(5 * time.Hour)
	loop := NewLoop(store, jobs, zaptest.NewLogger(t), WithClock(func() time.Time { return clock }))

	early, err := loop.Run(ctx, T, T.Add(time.Hour))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if early.Candidates != 0 || early.Validated != 0 || early.Pending != 1 {
		t.Fatalf("call inside its window should be pending, got %+v", early)
	}
	if _, err := store.GetValidation(ctx, "c1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected call to remain unchecked, got %v", err)
	}

	jobs.Jobs = []crm.Job{{ID: "job-10h", ClientName: "Pat 4567", CreatedAt: T.Add(10 * time.Hour)}}
	clock = T.Add(49 * time.Hour)

	late, err := loop.Run(ctx, T, T.Add(time.Hour))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if late.Pending != 0 || late.Confirmed != 1 {
		t.Fatalf("expected confirmation after the window closed, got %+v", late)
	}
	out, err := store.GetValidation(ctx, "c1")
	if err != nil || !out.Confirmed() || out.MatchedExternalID != "job-10h" {
		t.Fatalf("outcome = %+v, err = %v", out, err)
	}
}

func TestWindowClosedBoundary(t *testing.T) {
	loop := NewLoop(storage.NewMemoryStorage(), &crm.StaticJobSource{}, nil)
	call := models.CallRecord{OccurredAt: T}
	if loop.WindowClosed(call, T.Add(DefaultWindow-time.Second)) {
		t.Fatal("window must still be open one second before it ends")
	}
	if !loop.WindowClosed(call, T.Add(DefaultWindow)) {
		t.Fatal("window must be closed at exactly T+48h")
	}
}
