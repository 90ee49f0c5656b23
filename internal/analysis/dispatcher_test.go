package analysis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/filingsum/internal/doctree"
	"github.com/dgallion1/filingsum/internal/forms"
	"github.com/dgallion1/filingsum/internal/ratelimit"
	"github.com/dgallion1/filingsum/internal/sections"
)

// wordTokenizer counts whitespace-separated words; any word starting with
// HUGE counts as 1000.
type wordTokenizer struct{}

func (wordTokenizer) CountTokens(text string) int {
	n := 0
	for _, w := range strings.Fields(text) {
		if strings.HasPrefix(w, "HUGE") {
			n += 1000
			continue
		}
		n++
	}
	return n
}

type call struct{ system, user string }

type fakeCompleter struct {
	mu    sync.Mutex
	calls []call
	fail  map[int]error // call index -> error
}

func (f *fakeCompleter) Complete(_ context.Context, system, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.calls)
	f.calls = append(f.calls, call{system, user})
	if err := f.fail[idx]; err != nil {
		return "", err
	}
	return "summary of: " + user, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(t *testing.T, table *forms.Table, cfg ratelimit.Config) (*Dispatcher, *fakeCompleter, *ratelimit.Limiter) {
	t.Helper()
	if table == nil {
		table = forms.Default()
	}
	lim := ratelimit.New(cfg, wordTokenizer{})
	fc := &fakeCompleter{}
	return NewDispatcher(table, lim, wordTokenizer{}, fc, discardLogger()), fc, lim
}

func roomyConfig() ratelimit.Config {
	return ratelimit.Config{TokensPerMinute: 100000, MaxTokensPerRequest: 1000, ReservedTokens: 100}
}

func extract(labels []string, paras ...string) sections.Sections {
	tree := doctree.New("doc")
	for _, p := range paras {
		tree.Root.Append(doctree.Element("p", doctree.Text(p)))
	}
	return sections.NewExtractor(labels).Extract(tree)
}

const twoItemForms = `
forms:
  - type: default
    system_prompt: Summarize.
  - type: T
    system_prompt: T prompt.
    labels: [Item 1., Item 9.]
    groups:
      - name: first
        labels: [Item 1.]
        prompt: First prompt.
      - name: ninth
        labels: [Item 9.]
`

func TestAnalyze_SkipsGroupWithMissingSection(t *testing.T) {
	table, err := forms.Parse([]byte(twoItemForms))
	require.NoError(t, err)
	d, fc, _ := newTestDispatcher(t, table, roomyConfig())

	secs := extract([]string{"Item 1.", "Item 9."}, "Item 1. Found text.")
	s9, _ := secs.Get("Item 9.")
	require.False(t, s9.Found)

	entries, err := d.Analyze(context.Background(), "T", secs)
	require.NoError(t, err)

	assert.Equal(t, []string{"FIRST ANALYSIS:", "summary of: Found text.", ""}, Lines(entries))
	require.Len(t, fc.calls, 1, "the Item 9. group must not reach the completer")
	assert.Equal(t, "First prompt.", fc.calls[0].system)
}

func TestAnalyze_TenKGroupsInDeclaredOrder(t *testing.T) {
	d, fc, _ := newTestDispatcher(t, nil, roomyConfig())
	tenK := forms.Default().Lookup("10-K")

	secs := extract(tenK.Labels,
		"Item 1A. Risks abound.",
		"Item 7. Sales grew.",
	)
	entries, err := d.Analyze(context.Background(), "10-K", secs)
	require.NoError(t, err)

	var headers []string
	for _, e := range entries {
		if e.Kind == KindHeader {
			headers = append(headers, e.Text)
		}
	}
	assert.Equal(t, []string{
		"BUSINESS_OVERVIEW ANALYSIS:",
		"FINANCIAL_METRICS ANALYSIS:",
		"RISK_FACTORS ANALYSIS:",
		"MANAGEMENT_DISCUSSION ANALYSIS:",
	}, headers)

	require.Len(t, fc.calls, 4)
	assert.Equal(t, "Risks abound.", fc.calls[0].user)
	assert.Contains(t, fc.calls[0].system, "business overview")
	assert.Equal(t, "Sales grew.", fc.calls[1].user)
	assert.Contains(t, fc.calls[2].system, "risk factors")
	assert.Contains(t, fc.calls[3].system, "management discussion")
}

func TestAnalyze_GroupJoinsSectionsInLabelOrder(t *testing.T) {
	d, fc, _ := newTestDispatcher(t, nil, roomyConfig())
	tenQ := forms.Default().Lookup("10-Q")

	secs := extract(tenQ.Labels, "Item 2. Second.", "Item 1. First.")
	_, err := d.Analyze(context.Background(), "10-Q", secs)
	require.NoError(t, err)

	require.NotEmpty(t, fc.calls)
	assert.Equal(t, "First. Second.", fc.calls[0].user, "Item 1. text comes before Item 2. regardless of document order")
}

func TestAnalyze_ContentPath(t *testing.T) {
	d, fc, _ := newTestDispatcher(t, nil, roomyConfig())

	secs := d.ContentSections("The board approved a buyback. Shares rose.")
	require.True(t, secs.IsContent())

	entries, err := d.Analyze(context.Background(), "8-K", secs)
	require.NoError(t, err)

	require.Len(t, fc.calls, 1)
	assert.Equal(t, forms.Default().Lookup("8-K").SystemPrompt, fc.calls[0].system)
	assert.Equal(t, "The board approved a buyback. Shares rose.", fc.calls[0].user)
	assert.Equal(t, "CONTENT ANALYSIS:", entries[0].Text)
	assert.Equal(t, KindSeparator, entries[len(entries)-1].Kind)
}

func TestAnalyze_StructuredSectionsForUngroupedForm(t *testing.T) {
	d, fc, _ := newTestDispatcher(t, nil, roomyConfig())

	secs := extract([]string{"Item 1.", "Item 2.", "Item 3."}, "Item 1. One.", "Item 3. Three.")
	_, err := d.Analyze(context.Background(), "unknown-form", secs)
	require.NoError(t, err)

	require.Len(t, fc.calls, 1)
	assert.Equal(t, "One. Three.", fc.calls[0].user, "found sections only")
}

func TestAnalyze_NothingFound(t *testing.T) {
	d, fc, _ := newTestDispatcher(t, nil, roomyConfig())

	entries, err := d.Analyze(context.Background(), "10-K", extract([]string{"Item 1."}))
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, fc.calls)

	entries, err = d.Analyze(context.Background(), "8-K", d.ContentSections("   "))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAnalyzeGroup_ChunksAndRecordsUsage(t *testing.T) {
	cfg := ratelimit.Config{TokensPerMinute: 100000, MaxTokensPerRequest: 12, ReservedTokens: 2}
	d, fc, lim := newTestDispatcher(t, nil, cfg)

	text := "one two three four. five six seven eight. nine ten eleven twelve. thirteen"
	in := GroupInput{Group: forms.Group{Name: "g"}, Prompt: "two words", Text: text}

	var progress []int
	entries, err := d.AnalyzeGroup(context.Background(), in, func(_ string, done, total int) {
		progress = append(progress, done*10+total)
	})
	require.NoError(t, err)

	// Budget 10: two four-word sentences fit, the third starts a new chunk.
	require.Len(t, fc.calls, 2)
	assert.Equal(t, "one two three four. five six seven eight.", fc.calls[0].user)
	assert.Equal(t, "nine ten eleven twelve. thirteen.", fc.calls[1].user)
	assert.Equal(t, []int{12, 22}, progress)
	assert.Len(t, entries, 4)

	// Recorded usage is chunk tokens plus prompt tokens.
	assert.Equal(t, (8+2)+(5+2), lim.Snapshot().Used)
}

func TestAnalyzeGroup_EveryChunkFitsCeiling(t *testing.T) {
	cfg := ratelimit.Config{TokensPerMinute: 100000, MaxTokensPerRequest: 7, ReservedTokens: 2}
	d, fc, _ := newTestDispatcher(t, nil, cfg)

	text := strings.Repeat("alpha beta gamma delta epsilon zeta eta theta. ", 5) + strings.Repeat("w ", 23)
	_, err := d.AnalyzeGroup(context.Background(), GroupInput{Group: forms.Group{Name: "g"}, Prompt: "p", Text: text}, nil)
	require.NoError(t, err)

	var words []string
	for _, c := range fc.calls {
		assert.LessOrEqual(t, wordTokenizer{}.CountTokens(c.user), 5)
		words = append(words, strings.Fields(strings.ReplaceAll(c.user, ".", ""))...)
	}
	assert.Equal(t, strings.Fields(strings.ReplaceAll(text, ".", "")), words, "no words dropped or duplicated")
}

func TestAnalyzeGroup_ChunkTooLarge(t *testing.T) {
	d, fc, lim := newTestDispatcher(t, nil, roomyConfig())

	_, err := d.AnalyzeGroup(context.Background(), GroupInput{Group: forms.Group{Name: "g"}, Prompt: "p", Text: "small words HUGEWORD more"}, nil)
	require.ErrorIs(t, err, ErrChunkTooLarge)
	assert.Len(t, fc.calls, 1, "chunks before the oversized word are still sent")
	assert.Equal(t, 3, lim.Snapshot().Used)
}

func TestAnalyzeGroup_PropagatesCompletionError(t *testing.T) {
	d, fc, _ := newTestDispatcher(t, nil, roomyConfig())
	boom := errors.New("upstream 400")
	fc.fail = map[int]error{0: boom}

	entries, err := d.AnalyzeGroup(context.Background(), GroupInput{Group: forms.Group{Name: "risk"}, Prompt: "p", Text: "a b c."}, nil)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "group risk chunk 1/1")
	assert.Nil(t, entries)
}

func TestAnalyze_StopsAtFirstFailingGroup(t *testing.T) {
	d, fc, _ := newTestDispatcher(t, nil, roomyConfig())
	fc.fail = map[int]error{1: errors.New("down")}
	tenK := forms.Default().Lookup("10-K")

	entries, err := d.Analyze(context.Background(), "10-K", extract(tenK.Labels, "Item 1. Biz.", "Item 7. Mda."))
	require.Error(t, err)
	assert.Equal(t, []string{"BUSINESS_OVERVIEW ANALYSIS:", "summary of: Biz.", ""}, Lines(entries))
}

func TestAnalyzeGroup_CancelledWhileWaiting(t *testing.T) {
	cfg := ratelimit.Config{TokensPerMinute: 10, MaxTokensPerRequest: 10}
	d, fc, lim := newTestDispatcher(t, nil, cfg)
	lim.RecordTokenUsage(10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.AnalyzeGroup(ctx, GroupInput{Group: forms.Group{Name: "g"}, Prompt: "p", Text: "a b."}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fc.calls)
}

func TestAnalyze_ConcurrentJobsShareBudget(t *testing.T) {
	cfg := ratelimit.Config{TokensPerMinute: 1000, MaxTokensPerRequest: 20, ReservedTokens: 0}
	d, fc, lim := newTestDispatcher(t, nil, cfg)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Analyze(context.Background(), "8-K", d.ContentSections("alpha beta gamma. delta epsilon."))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, fc.calls, 8)
	assert.LessOrEqual(t, lim.Snapshot().Used, 1000)
}

func TestMarkdown(t *testing.T) {
	entries := []Entry{
		{Kind: KindHeader, Group: "g", Text: "G ANALYSIS:"},
		{Kind: KindResult, Group: "g", Text: "## Point\n- a\n"},
		{Kind: KindSeparator, Group: "g"},
	}
	assert.Equal(t, "# G ANALYSIS:\n\n## Point\n- a\n", Markdown(entries))
}
