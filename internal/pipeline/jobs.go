package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/filingsum/internal/analysis"
)

// JobStatus represents the state of an analysis job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusParsing    JobStatus = "parsing"
	StatusExtracting JobStatus = "extracting"
	StatusAnalyzing  JobStatus = "analyzing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusPartial    JobStatus = "partial"
	StatusCached     JobStatus = "cached"
)

// Done reports whether the status is terminal.
func (s JobStatus) Done() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusPartial, StatusCached:
		return true
	}
	return false
}

// Job tracks the state of a single filing analysis.
type Job struct {
	mu sync.Mutex

	ID       string `json:"job_id"`
	FormType string `json:"form_type"`
	Force    bool   `json:"force"`

	Status   JobStatus `json:"status"`
	Phase    string    `json:"phase"`
	Filename string    `json:"filename"`
	Title    string    `json:"title"`

	Progress Progress `json:"progress"`

	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Internal: not serialized.
	fileData []byte
	labels   []string
	entries  []analysis.Entry
	errors   []string
}

// Progress tracks processing progress.
type Progress struct {
	TotalGroups     int      `json:"total_groups"`
	GroupsCompleted int      `json:"groups_completed"`
	GroupsFailed    int      `json:"groups_failed"`
	ChunksAnalyzed  int      `json:"chunks_analyzed"`
	Errors          []string `json:"errors"`
}

// NewJob returns a queued job for an uploaded file.
func NewJob(filename, formType, title string, data []byte, force bool) *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.NewString(),
		FormType:  formType,
		Force:     force,
		Status:    StatusQueued,
		Phase:     "queued",
		Filename:  filename,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		fileData:  data,
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Len returns the number of tracked jobs.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Cleanup removes expired jobs.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		job.mu.Lock()
		updated := job.UpdatedAt
		job.mu.Unlock()
		if now.Sub(updated) > s.ttl {
			delete(s.jobs, id)
		}
	}
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// SetTotalGroups records how many groups will be analyzed.
func (j *Job) SetTotalGroups(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.TotalGroups = n
	j.UpdatedAt = time.Now()
}

// GroupDone counts a finished group.
func (j *Job) GroupDone(ok bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if ok {
		j.Progress.GroupsCompleted++
	} else {
		j.Progress.GroupsFailed++
	}
	j.UpdatedAt = time.Now()
}

// IncrChunksAnalyzed atomically increments the analyzed chunk count.
func (j *Job) IncrChunksAnalyzed() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.ChunksAnalyzed++
	j.UpdatedAt = time.Now()
}

// SetFileData sets the raw file bytes for processing.
func (j *Job) SetFileData(data []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fileData = data
}

// FileData returns the raw file bytes.
func (j *Job) FileData() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fileData
}

// releaseFileData drops the upload once it has been parsed.
func (j *Job) releaseFileData() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fileData = nil
}

// SetContentHash records the hash of the parsed text.
func (j *Job) SetContentHash(hash string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ContentHash = hash
}

// SetFormType records the resolved form type.
func (j *Job) SetFormType(formType string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.FormType = formType
}

// SetLabels records which section labels were found.
func (j *Job) SetLabels(labels []string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.labels = labels
}

// AppendEntries adds the output of one group.
func (j *Job) AppendEntries(entries []analysis.Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entries...)
	j.UpdatedAt = time.Now()
}

// SetEntries replaces the output, e.g. from a cached analysis.
func (j *Job) SetEntries(entries []analysis.Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = entries
	j.UpdatedAt = time.Now()
}

// Result is the output of a job.
type Result struct {
	JobID       string           `json:"job_id"`
	Status      JobStatus        `json:"status"`
	FormType    string           `json:"form_type"`
	ContentHash string           `json:"content_hash"`
	Labels      []string         `json:"labels_found"`
	Entries     []analysis.Entry `json:"entries"`
	Lines       []string         `json:"lines"`
	Errors      []string         `json:"errors"`
}

// Result returns a copy of the job's output.
func (j *Job) Result() Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	entries := append([]analysis.Entry{}, j.entries...)
	return Result{
		JobID:       j.ID,
		Status:      j.Status,
		FormType:    j.FormType,
		ContentHash: j.ContentHash,
		Labels:      append([]string{}, j.labels...),
		Entries:     entries,
		Lines:       analysis.Lines(entries),
		Errors:      append([]string{}, j.errors...),
	}
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID          string    `json:"job_id"`
	FormType    string    `json:"form_type"`
	Status      JobStatus `json:"status"`
	Phase       string    `json:"phase"`
	Filename    string    `json:"filename"`
	Title       string    `json:"title"`
	ContentHash string    `json:"content_hash,omitempty"`
	Progress    Progress  `json:"progress"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := append([]string{}, j.Progress.Errors...)
	return JobSnapshot{
		ID:          j.ID,
		FormType:    j.FormType,
		Status:      j.Status,
		Phase:       j.Phase,
		Filename:    j.Filename,
		Title:       j.Title,
		ContentHash: j.ContentHash,
		Progress: Progress{
			TotalGroups:     j.Progress.TotalGroups,
			GroupsCompleted: j.Progress.GroupsCompleted,
			GroupsFailed:    j.Progress.GroupsFailed,
			ChunksAnalyzed:  j.Progress.ChunksAnalyzed,
			Errors:          errs,
		},
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
