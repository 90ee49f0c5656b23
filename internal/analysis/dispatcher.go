// Package analysis turns extracted filing sections into rate-limited
// completion calls, group by group.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgallion1/filingsum/internal/chunker"
	"github.com/dgallion1/filingsum/internal/forms"
	"github.com/dgallion1/filingsum/internal/ratelimit"
	"github.com/dgallion1/filingsum/internal/sections"
	"github.com/dgallion1/filingsum/internal/tokenizer"
)

// ErrChunkTooLarge is returned for a chunk the limiter could never admit,
// e.g. a single word larger than the per-request ceiling.
var ErrChunkTooLarge = errors.New("chunk exceeds request token ceiling")

// Completer is the completion service.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// GroupInput is one group ready for analysis.
type GroupInput struct {
	Group  forms.Group
	Prompt string
	Text   string
}

// ProgressFunc is told about each completed chunk of a group.
type ProgressFunc func(group string, done, total int)

// Dispatcher analyzes sections of a filing. One Dispatcher may serve many
// concurrent analyses; the shared limiter keeps them inside one budget.
type Dispatcher struct {
	forms   *forms.Table
	limiter *ratelimit.Limiter
	tok     tokenizer.Tokenizer
	chunker *chunker.Chunker
	llm     Completer
	log     *slog.Logger
}

func NewDispatcher(table *forms.Table, limiter *ratelimit.Limiter, tok tokenizer.Tokenizer, llm Completer, log *slog.Logger) *Dispatcher {
	if tok == nil {
		tok = tokenizer.Estimator{}
	}
	return &Dispatcher{
		forms:   table,
		limiter: limiter,
		tok:     tok,
		chunker: chunker.New(tok, limiter.MaxRequestTokens()),
		llm:     llm,
		log:     log,
	}
}

// Forms returns the dispatcher's form table.
func (d *Dispatcher) Forms() *forms.Table { return d.forms }

// Limiter returns the shared token limiter.
func (d *Dispatcher) Limiter() *ratelimit.Limiter { return d.limiter }

// Chunker returns the chunker sized to the limiter's request ceiling.
func (d *Dispatcher) Chunker() *chunker.Chunker { return d.chunker }

// ContentSections chunks unstructured text into the single "content" section.
func (d *Dispatcher) ContentSections(text string) sections.Sections {
	return sections.Content(d.chunker.Split(text))
}

// Plan resolves formType and lists the groups that have text, in declared
// order. Groups whose sections were all absent are left out. A form without
// groups, or content-path sections, yields a single "content" group.
func (d *Dispatcher) Plan(formType string, secs sections.Sections) (*forms.Form, []GroupInput) {
	form := d.forms.Lookup(formType)

	if len(form.Groups) == 0 || secs.IsContent() {
		g := forms.Group{Name: sections.ContentLabel}
		var parts []string
		for _, s := range secs {
			if s.Found {
				parts = append(parts, s.Text())
			}
		}
		text := strings.Join(parts, " ")
		if strings.TrimSpace(text) == "" {
			return form, nil
		}
		return form, []GroupInput{{Group: g, Prompt: d.forms.Prompt(form, g), Text: text}}
	}

	var out []GroupInput
	for _, g := range form.Groups {
		var parts []string
		for _, label := range g.Labels {
			if s, ok := secs.Get(label); ok && s.Found {
				parts = append(parts, s.Text())
			}
		}
		text := strings.Join(parts, " ")
		if strings.TrimSpace(text) == "" {
			d.log.Debug("skipping empty group", "form_type", form.Type, "group", g.Name)
			continue
		}
		out = append(out, GroupInput{Group: g, Prompt: d.forms.Prompt(form, g), Text: text})
	}
	return form, out
}

// Analyze runs every planned group in order. The first failing group stops
// the run; entries of the groups that finished are returned with the error.
func (d *Dispatcher) Analyze(ctx context.Context, formType string, secs sections.Sections) ([]Entry, error) {
	form, groups := d.Plan(formType, secs)
	d.log.Info("analysis planned", "form_type", form.Type, "groups", len(groups))

	var entries []Entry
	for _, in := range groups {
		out, err := d.AnalyzeGroup(ctx, in, nil)
		if err != nil {
			return entries, err
		}
		entries = append(entries, out...)
	}
	return entries, nil
}

// AnalyzeGroup chunks the group's text and completes each chunk in order,
// waiting on the limiter before every call. Completion errors are returned
// as-is, wrapped with the group and chunk position; retrying is the caller's
// decision.
func (d *Dispatcher) AnalyzeGroup(ctx context.Context, in GroupInput, progress ProgressFunc) ([]Entry, error) {
	chunks := d.Chunks(in.Text)
	promptCost := d.tok.CountTokens(in.Prompt)
	ceiling := d.limiter.MaxRequestTokens()

	entries := make([]Entry, 0, len(chunks)+2)
	entries = append(entries, Entry{Kind: KindHeader, Group: in.Group.Name, Text: Header(in.Group.Name)})

	for i, chunk := range chunks {
		cost := d.tok.CountTokens(chunk)
		if cost > ceiling || cost+promptCost > d.limiter.Budget() {
			return nil, fmt.Errorf("group %s chunk %d/%d (%d tokens, ceiling %d): %w",
				in.Group.Name, i+1, len(chunks), cost, ceiling, ErrChunkTooLarge)
		}
		if err := d.limiter.Acquire(ctx, cost, cost+promptCost); err != nil {
			return nil, fmt.Errorf("group %s chunk %d/%d: wait for budget: %w", in.Group.Name, i+1, len(chunks), err)
		}

		result, err := d.llm.Complete(ctx, in.Prompt, chunk)
		if err != nil {
			return nil, fmt.Errorf("group %s chunk %d/%d: %w", in.Group.Name, i+1, len(chunks), err)
		}
		d.log.Debug("chunk analyzed", "group", in.Group.Name, "chunk", i+1, "of", len(chunks), "tokens", cost+promptCost)

		entries = append(entries, Entry{Kind: KindResult, Group: in.Group.Name, Text: result})
		if progress != nil {
			progress(in.Group.Name, i+1, len(chunks))
		}
	}

	entries = append(entries, Entry{Kind: KindSeparator, Group: in.Group.Name})
	return entries, nil
}

// Chunks splits text to the request ceiling, re-splitting any chunk whose
// joined token count came out above it. Counts are not always additive
// across sentence joins.
func (d *Dispatcher) Chunks(text string) []string {
	ceiling := d.limiter.MaxRequestTokens()
	var out []string
	for c := range d.chunker.Chunks(text) {
		out = append(out, d.refit(c, ceiling, ceiling)...)
	}
	return out
}

func (d *Dispatcher) refit(chunk string, ceiling, budget int) []string {
	cost := d.tok.CountTokens(chunk)
	if cost <= ceiling {
		return []string{chunk}
	}
	next := min(budget-1, budget*ceiling/cost)
	if next < 1 {
		return []string{chunk}
	}
	var out []string
	for part := range chunker.New(d.tok, next).Chunks(chunk) {
		out = append(out, d.refit(part, ceiling, next)...)
	}
	return out
}
