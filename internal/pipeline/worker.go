package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/filingsum/internal/analysis"
	"github.com/dgallion1/filingsum/internal/doctree"
	"github.com/dgallion1/filingsum/internal/forms"
	"github.com/dgallion1/filingsum/internal/parser"
	"github.com/dgallion1/filingsum/internal/sections"
	"github.com/dgallion1/filingsum/internal/store"
)

// Worker processes a single analysis job.
type Worker struct {
	dispatcher *analysis.Dispatcher
	store      *store.Store
	log        *slog.Logger
	parserOpts parser.Options

	retryDelay func(err error, attempt int) time.Duration
}

// NewWorker returns a worker. st may be nil, which disables the result cache.
func NewWorker(d *analysis.Dispatcher, st *store.Store, log *slog.Logger, opts parser.Options) *Worker {
	return &Worker{
		dispatcher: d,
		store:      st,
		log:        log,
		parserOpts: opts,
		retryDelay: RetryDelay,
	}
}

// Process runs the full analysis pipeline for a job.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "filename", job.Filename)

	// Phase 1: Parse
	job.SetStatus(StatusParsing, "parsing")
	tree, err := ParseDocument(job.Filename, job.FileData(), w.parserOpts)
	if err != nil {
		log.Error("parse failed", "error", err)
		job.AddError(err.Error())
		job.SetStatus(StatusFailed, "parsing")
		return
	}
	job.releaseFileData()
	if job.Title != "" {
		tree.Title = job.Title
	}

	form := w.dispatcher.Forms().Lookup(job.FormType)
	job.SetFormType(form.Type)
	job.SetContentHash(ContentHashHex([]byte(tree.Text())))
	log = log.With("form_type", form.Type)

	// Phase 1.5: Cached result for the same text and form type.
	if !job.Force && w.store != nil {
		cached, err := w.store.GetAnalysis(ctx, job.ContentHash, form.Type)
		if err != nil {
			log.Warn("cache lookup failed, proceeding", "error", err)
		} else if cached != nil {
			log.Info("serving cached analysis", "created_at", cached.CreatedAt)
			job.SetLabels(cached.Labels)
			job.SetEntries(cached.Entries)
			job.SetStatus(StatusCached, "done")
			return
		}
	}

	// Phase 2: Extract sections
	job.SetStatus(StatusExtracting, "extracting")
	secs := ExtractSections(w.dispatcher, tree, form, log)
	job.SetLabels(FoundLabels(secs))

	_, groups := w.dispatcher.Plan(form.Type, secs)
	if len(groups) == 0 {
		log.Warn("nothing to analyze")
		job.AddError("no analyzable content")
		job.SetStatus(StatusFailed, "extracting")
		return
	}
	job.SetTotalGroups(len(groups))
	log.Info("sections extracted", "groups", len(groups))

	// Phase 3: Analyze groups in declared order.
	job.SetStatus(StatusAnalyzing, "analyzing")
	succeeded := 0
	for _, in := range groups {
		if ctx.Err() != nil {
			job.AddError(fmt.Sprintf("group %s: %s", in.Group.Name, ctx.Err()))
			job.GroupDone(false)
			continue
		}
		entries, err := w.analyzeGroup(ctx, job, in, log)
		if err != nil {
			log.Error("group failed", "group", in.Group.Name, "error", err)
			job.AddError(err.Error())
			job.GroupDone(false)
			continue
		}
		job.AppendEntries(entries)
		job.GroupDone(true)
		succeeded++
	}

	switch {
	case succeeded == 0:
		job.SetStatus(StatusFailed, "analyzing")
		return
	case succeeded < len(groups):
		job.SetStatus(StatusPartial, "done")
		return
	}

	if w.store != nil {
		res := job.Result()
		err := w.store.SaveAnalysis(ctx, &store.Analysis{
			ContentHash: res.ContentHash,
			FormType:    res.FormType,
			Filename:    job.Filename,
			Title:       tree.Title,
			Labels:      res.Labels,
			Entries:     res.Entries,
		})
		if err != nil {
			log.Error("saving analysis failed", "error", err)
			job.AddError(fmt.Sprintf("store: %s", err))
		}
	}
	log.Info("analysis complete", "groups", succeeded)
	job.SetStatus(StatusCompleted, "done")
}

// analyzeGroup runs one group, retrying transient completion failures.
func (w *Worker) analyzeGroup(ctx context.Context, job *Job, in analysis.GroupInput, log *slog.Logger) ([]analysis.Entry, error) {
	progress := func(string, int, int) { job.IncrChunksAnalyzed() }
	for attempt := 0; ; attempt++ {
		entries, err := w.dispatcher.AnalyzeGroup(ctx, in, progress)
		if err == nil {
			return entries, nil
		}
		if attempt+1 >= MaxRetries || !IsRetryable(err) {
			return nil, err
		}
		delay := w.retryDelay(err, attempt)
		log.Warn("retryable completion error", "group", in.Group.Name, "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// ParseDocument parses an uploaded file with the parser for its extension.
func ParseDocument(filename string, data []byte, opts parser.Options) (*doctree.DocTree, error) {
	p, err := parser.ForFile(filename, opts)
	if err != nil {
		return nil, err
	}
	tree, err := p.Parse(bytes.NewReader(data), filename)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return tree, nil
}

// ExtractSections slices tree by the form's labels. Forms without labels, and
// structured documents where no label was found, go through the content path.
func ExtractSections(d *analysis.Dispatcher, tree *doctree.DocTree, form *forms.Form, log *slog.Logger) sections.Sections {
	if !form.Structured() {
		return d.ContentSections(tree.Text())
	}
	secs := sections.NewExtractor(form.Labels).Extract(tree)
	if !secs.AnyFound() {
		log.Warn("no section labels found, analyzing whole document", "form_type", form.Type)
		return d.ContentSections(tree.Text())
	}
	return secs
}

// FoundLabels lists the labels that matched text.
func FoundLabels(secs sections.Sections) []string {
	var out []string
	for _, s := range secs {
		if s.Found {
			out = append(out, s.Label)
		}
	}
	return out
}
