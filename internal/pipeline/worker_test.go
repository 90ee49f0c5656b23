package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgallion1/filingsum/internal/analysis"
	"github.com/dgallion1/filingsum/internal/config"
	"github.com/dgallion1/filingsum/internal/forms"
	"github.com/dgallion1/filingsum/internal/llm"
	"github.com/dgallion1/filingsum/internal/parser"
	"github.com/dgallion1/filingsum/internal/ratelimit"
	"github.com/dgallion1/filingsum/internal/store"
	"github.com/dgallion1/filingsum/internal/tokenizer"
)

const tenK = `UNITED STATES SECURITIES AND EXCHANGE COMMISSION

Item 1. Business

We make widgets.

Item 1A. Risk Factors

Competition is intense.

Item 7. Management's Discussion

Revenue rose.`

// fakeCompleter fails the calls listed in fail, by call index.
type fakeCompleter struct {
	mu    sync.Mutex
	users []string
	fail  map[int]error
}

func (f *fakeCompleter) Complete(_ context.Context, _, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.users)
	f.users = append(f.users, user)
	if err := f.fail[idx]; err != nil {
		return "", err
	}
	return "summary: " + user, nil
}

func (f *fakeCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(fc *fakeCompleter) *analysis.Dispatcher {
	lim := ratelimit.New(ratelimit.Config{TokensPerMinute: 100000, MaxTokensPerRequest: 10000}, tokenizer.Estimator{})
	return analysis.NewDispatcher(forms.Default(), lim, tokenizer.Estimator{}, fc, discardLogger())
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestWorker(t *testing.T, fc *fakeCompleter) (*Worker, *store.Store) {
	t.Helper()
	st := newTestStore(t)
	w := NewWorker(newTestDispatcher(fc), st, discardLogger(), parser.Options{})
	w.retryDelay = func(error, int) time.Duration { return 0 }
	return w, st
}

func headers(res Result) []string {
	var out []string
	for _, e := range res.Entries {
		if e.Kind == analysis.KindHeader {
			out = append(out, e.Text)
		}
	}
	return out
}

func TestWorker_AnalyzesTenK(t *testing.T) {
	fc := &fakeCompleter{}
	w, st := newTestWorker(t, fc)

	job := NewJob("filing.txt", "10-k", "", []byte(tenK), false)
	w.Process(context.Background(), job)

	res := job.Result()
	if res.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q (errors %v)", res.Status, res.Errors)
	}
	if res.FormType != "10-K" {
		t.Errorf("expected resolved form type 10-K, got %q", res.FormType)
	}

	want := []string{
		"BUSINESS_OVERVIEW ANALYSIS:",
		"FINANCIAL_METRICS ANALYSIS:",
		"RISK_FACTORS ANALYSIS:",
		"MANAGEMENT_DISCUSSION ANALYSIS:",
	}
	got := headers(res)
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("expected headers %v, got %v", want, got)
	}
	if fc.calls() != 4 {
		t.Errorf("expected 4 completion calls, got %d", fc.calls())
	}
	if strings.Join(res.Labels, ",") != "Item 1.,Item 1A.,Item 7." {
		t.Errorf("unexpected labels found: %v", res.Labels)
	}

	snap := job.Snapshot()
	if snap.Progress.TotalGroups != 4 || snap.Progress.GroupsCompleted != 4 || snap.Progress.ChunksAnalyzed != 4 {
		t.Errorf("unexpected progress: %+v", snap.Progress)
	}
	if job.FileData() != nil {
		t.Error("expected upload to be released after parsing")
	}

	saved, err := st.GetAnalysis(context.Background(), res.ContentHash, "10-K")
	if err != nil {
		t.Fatalf("get analysis: %v", err)
	}
	if saved == nil {
		t.Fatal("expected completed analysis to be cached")
	}
	if saved.Results != 4 || saved.Title != "filing" {
		t.Errorf("unexpected stored analysis: %+v", saved)
	}
}

func TestWorker_ServesCachedAnalysis(t *testing.T) {
	fc := &fakeCompleter{}
	w, _ := newTestWorker(t, fc)

	first := NewJob("filing.txt", "10-K", "", []byte(tenK), false)
	w.Process(context.Background(), first)
	if first.Result().Status != StatusCompleted {
		t.Fatalf("first run: %+v", first.Result())
	}
	calls := fc.calls()

	second := NewJob("copy.txt", "10-K", "", []byte(tenK), false)
	w.Process(context.Background(), second)
	res := second.Result()
	if res.Status != StatusCached {
		t.Fatalf("expected cached, got %q", res.Status)
	}
	if fc.calls() != calls {
		t.Errorf("expected no new completion calls, got %d", fc.calls()-calls)
	}
	if len(res.Entries) != len(first.Result().Entries) {
		t.Errorf("expected cached entries to match, got %d", len(res.Entries))
	}

	forced := NewJob("copy.txt", "10-K", "", []byte(tenK), true)
	w.Process(context.Background(), forced)
	if forced.Result().Status != StatusCompleted {
		t.Errorf("expected forced run to complete, got %q", forced.Result().Status)
	}
	if fc.calls() != calls*2 {
		t.Errorf("expected forced run to call the service again, got %d calls", fc.calls())
	}

	other := NewJob("filing.txt", "10-Q", "", []byte(tenK), false)
	w.Process(context.Background(), other)
	if other.Result().Status == StatusCached {
		t.Error("expected a different form type not to hit the cache")
	}
}

func TestWorker_PartialWhenGroupFails(t *testing.T) {
	fc := &fakeCompleter{fail: map[int]error{2: errors.New("bad request")}}
	w, st := newTestWorker(t, fc)

	job := NewJob("filing.txt", "10-K", "", []byte(tenK), false)
	w.Process(context.Background(), job)

	res := job.Result()
	if res.Status != StatusPartial {
		t.Fatalf("expected partial, got %q", res.Status)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "risk_factors") {
		t.Errorf("expected one risk_factors error, got %v", res.Errors)
	}
	if len(headers(res)) != 3 {
		t.Errorf("expected 3 analyzed groups, got %v", headers(res))
	}
	if snap := job.Snapshot(); snap.Progress.GroupsFailed != 1 {
		t.Errorf("expected 1 failed group, got %d", snap.Progress.GroupsFailed)
	}

	saved, err := st.GetAnalysis(context.Background(), res.ContentHash, "10-K")
	if err != nil {
		t.Fatalf("get analysis: %v", err)
	}
	if saved != nil {
		t.Error("expected partial analysis not to be cached")
	}
}

func TestWorker_RetriesTransientErrors(t *testing.T) {
	fc := &fakeCompleter{fail: map[int]error{0: &llm.RetryableError{StatusCode: 429}}}
	w, _ := newTestWorker(t, fc)

	job := NewJob("filing.txt", "10-K", "", []byte(tenK), false)
	w.Process(context.Background(), job)

	res := job.Result()
	if res.Status != StatusCompleted {
		t.Fatalf("expected completed after retry, got %q (errors %v)", res.Status, res.Errors)
	}
	if fc.calls() != 5 {
		t.Errorf("expected 5 completion calls, got %d", fc.calls())
	}
}

func TestWorker_GivesUpAfterMaxRetries(t *testing.T) {
	fail := map[int]error{}
	for i := range MaxRetries {
		fail[i] = &llm.RetryableError{StatusCode: 503}
	}
	fc := &fakeCompleter{fail: fail}
	w, _ := newTestWorker(t, fc)

	job := NewJob("notes.txt", "8-K", "", []byte("Material event occurred."), false)
	w.Process(context.Background(), job)

	if got := job.Result().Status; got != StatusFailed {
		t.Fatalf("expected failed, got %q", got)
	}
	if fc.calls() != MaxRetries {
		t.Errorf("expected %d attempts, got %d", MaxRetries, fc.calls())
	}
}

func TestWorker_ContentPathForUnstructuredForm(t *testing.T) {
	fc := &fakeCompleter{}
	w, _ := newTestWorker(t, fc)

	job := NewJob("8k.txt", "8-K", "", []byte("Item 1. Ignored label.\n\nThe company appointed a new CFO."), false)
	w.Process(context.Background(), job)

	res := job.Result()
	if res.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q", res.Status)
	}
	if got := headers(res); len(got) != 1 || got[0] != "CONTENT ANALYSIS:" {
		t.Errorf("expected a single content group, got %v", got)
	}
	if len(res.Labels) != 1 || res.Labels[0] != "content" {
		t.Errorf("expected content label, got %v", res.Labels)
	}
}

func TestWorker_FallsBackWhenNoLabelsFound(t *testing.T) {
	fc := &fakeCompleter{}
	w, _ := newTestWorker(t, fc)

	job := NewJob("letter.txt", "10-K", "", []byte("Dear shareholders, it was a good year."), false)
	w.Process(context.Background(), job)

	res := job.Result()
	if res.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q", res.Status)
	}
	if got := headers(res); len(got) != 1 || got[0] != "CONTENT ANALYSIS:" {
		t.Errorf("expected content fallback, got %v", got)
	}
}

func TestWorker_FailsOnUnsupportedFormat(t *testing.T) {
	fc := &fakeCompleter{}
	w, _ := newTestWorker(t, fc)

	job := NewJob("data.csv", "10-K", "", []byte("a,b"), false)
	w.Process(context.Background(), job)

	snap := job.Snapshot()
	if snap.Status != StatusFailed || snap.Phase != "parsing" {
		t.Errorf("expected failure while parsing, got %q/%q", snap.Status, snap.Phase)
	}
	if fc.calls() != 0 {
		t.Error("expected no completion calls")
	}
}

func TestWorker_FailsOnEmptyDocument(t *testing.T) {
	fc := &fakeCompleter{}
	w, _ := newTestWorker(t, fc)

	job := NewJob("empty.txt", "10-K", "", []byte("   \n\n  "), false)
	w.Process(context.Background(), job)

	if got := job.Result().Status; got != StatusFailed {
		t.Errorf("expected failed, got %q", got)
	}
}

func TestWorker_TitleOverride(t *testing.T) {
	fc := &fakeCompleter{}
	w, st := newTestWorker(t, fc)

	job := NewJob("filing.txt", "10-K", "Acme 2024 Annual Report", []byte(tenK), false)
	w.Process(context.Background(), job)

	saved, err := st.GetAnalysis(context.Background(), job.Result().ContentHash, "10-K")
	if err != nil || saved == nil {
		t.Fatalf("expected stored analysis, got %v / %v", saved, err)
	}
	if saved.Title != "Acme 2024 Annual Report" {
		t.Errorf("expected title override, got %q", saved.Title)
	}
}

func TestOrchestrator_ProcessesSubmittedJobs(t *testing.T) {
	fc := &fakeCompleter{}
	cfg := config.Config{WorkerCount: 2, MaxQueueSize: 10, JobTTL: time.Hour, AnalysisTimeout: time.Minute}
	o := NewOrchestrator(cfg, newTestDispatcher(fc), newTestStore(t), discardLogger())
	o.Start(context.Background())
	defer o.Stop()

	jobs := []*Job{
		NewJob("a.txt", "10-K", "", []byte(tenK), false),
		NewJob("b.txt", "8-K", "", []byte("A director resigned."), false),
	}
	for _, j := range jobs {
		if err := o.Submit(j); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for _, j := range jobs {
		for !o.GetJob(j.ID).Snapshot().Status.Done() {
			if time.Now().After(deadline) {
				t.Fatalf("job %s did not finish: %+v", j.ID, j.Snapshot())
			}
			time.Sleep(10 * time.Millisecond)
		}
		if got := j.Snapshot().Status; got != StatusCompleted {
			t.Errorf("job %s: expected completed, got %q", j.Filename, got)
		}
	}
}

func TestOrchestrator_QueueFull(t *testing.T) {
	cfg := config.Config{WorkerCount: 1, MaxQueueSize: 1, JobTTL: time.Hour}
	o := NewOrchestrator(cfg, newTestDispatcher(&fakeCompleter{}), nil, discardLogger())

	if err := o.Submit(NewJob("a.txt", "", "", []byte("a"), false)); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	overflow := NewJob("b.txt", "", "", []byte("b"), false)
	if err := o.Submit(overflow); err == nil {
		t.Fatal("expected queue full error")
	}
	if got := overflow.Snapshot().Status; got != StatusFailed {
		t.Errorf("expected overflow job to fail, got %q", got)
	}
	if o.QueueDepth() != 1 {
		t.Errorf("expected queue depth 1, got %d", o.QueueDepth())
	}
}

func TestOrchestrator_SubmitAfterStop(t *testing.T) {
	cfg := config.Config{WorkerCount: 1, MaxQueueSize: 4, JobTTL: time.Hour}
	o := NewOrchestrator(cfg, newTestDispatcher(&fakeCompleter{}), nil, discardLogger())
	o.Start(context.Background())
	o.Stop()
	o.Stop()

	job := NewJob("late.txt", "8-K", "", []byte("A late upload."), false)
	if err := o.Submit(job); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if got := job.Snapshot().Status; got != StatusFailed {
		t.Errorf("expected late job to fail, got %q", got)
	}
}
