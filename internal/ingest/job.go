package ingest

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

type State string

const (
	StatePending     State = "pending"
	StateResolving   State = "resolving"
	StateDownloading State = "downloading"
	StateUploading   State = "uploading"
	StateSaving      State = "saving"
	StateDone        State = "done"
	StateError       State = "error"
)

// transitions lists the legal next states. The path is forward-only and
// error is reachable from every non-terminal state.
var transitions = map[State][]State{
	StatePending:     {StateResolving, StateError},
	StateResolving:   {StateDownloading, StateError},
	StateDownloading: {StateUploading, StateError},
	StateUploading:   {StateSaving, StateError},
	StateSaving:      {StateDone, StateError},
}

func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Snapshot is the read-only view of a job returned to status polls.
type Snapshot struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"user_id"`
	State           State      `json:"state"`
	History         []State    `json:"history"`
	SourceURL       string     `json:"source_url"`
	ResolvedURL     string     `json:"resolved_url,omitempty"`
	FinalURL        string     `json:"final_url,omitempty"`
	MediaType       string     `json:"media_type,omitempty"`
	TotalBytes      int64      `json:"total_bytes"`
	DownloadedBytes int64      `json:"downloaded_bytes"`
	UploadedBytes   int64      `json:"uploaded_bytes"`
	Size            string     `json:"size,omitempty"`
	AssetID         *uuid.UUID `json:"asset_id,omitempty"`
	ExistingAssetID *uuid.UUID `json:"existing_asset_id,omitempty"`
	Error           string     `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// job is mutated only by the goroutine driving it; readers take snapshots.
type job struct {
	mu   sync.Mutex
	snap Snapshot
	now  func() time.Time
}

func newJob(userID uuid.UUID, sourceURL string, now func() time.Time) *job {
	t := now()
	return &job{
		now: now,
		snap: Snapshot{
			ID:        uuid.New(),
			UserID:    userID,
			State:     StatePending,
			History:   []State{StatePending},
			SourceURL: sourceURL,
			CreatedAt: t,
			UpdatedAt: t,
		},
	}
}

func (j *job) snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	s := j.snap
	s.History = append([]State(nil), j.snap.History...)
	if s.TotalBytes > 0 {
		s.Size = humanize.Bytes(uint64(s.TotalBytes))
	}
	return s
}

func (j *job) advance(to State) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !CanTransition(j.snap.State, to) {
		return fmt.Errorf("illegal job transition %s -> %s", j.snap.State, to)
	}
	j.snap.State = to
	j.snap.History = append(j.snap.History, to)
	j.snap.UpdatedAt = j.now()
	return nil
}

// fail moves the job to error unless it already finished.
func (j *job) fail(err error) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.snap.State.Terminal() {
		return false
	}
	j.snap.State = StateError
	j.snap.History = append(j.snap.History, StateError)
	j.snap.Error = err.Error()
	j.snap.UpdatedAt = j.now()
	return true
}

func (j *job) update(fn func(s *Snapshot)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn(&j.snap)
	j.snap.UpdatedAt = j.now()
}

// Counters only move forward.

func (j *job) setTotal(n int64) {
	j.update(func(s *Snapshot) { s.TotalBytes = max(s.TotalBytes, n) })
}

func (j *job) setDownloaded(n int64) {
	j.update(func(s *Snapshot) { s.DownloadedBytes = max(s.DownloadedBytes, n) })
}

func (j *job) setUploaded(n int64) {
	j.update(func(s *Snapshot) { s.UploadedBytes = max(s.UploadedBytes, n) })
}

// finishedBefore reports a terminal job last touched before t.
func (j *job) finishedBefore(t time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snap.State.Terminal() && j.snap.UpdatedAt.Before(t)
}
