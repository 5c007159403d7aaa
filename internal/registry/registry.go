package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"genomevault/internal/models"
)

// Registry error kinds. Illegal transitions indicate a programming
// fault in the caller, not a runtime condition.
var (
	ErrExists            = errors.New("job already exists")
	ErrNotFound          = errors.New("job not found")
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrNotRunning        = errors.New("job is not running")
)

var legalTransitions = map[string][]string{
	models.StateQueued:    {models.StateRunning, models.StateCancelled},
	models.StateRunning:   {models.StateCompleted, models.StateFailed, models.StateCancelled},
	models.StateCompleted: {models.StateRetainedDeleted},
	models.StateFailed:    {models.StateRetainedDeleted},
	models.StateCancelled: {models.StateRetainedDeleted},
}

func transitionLegal(from, to string) bool {
	for _, t := range legalTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// job is the registry-owned record. All fields are guarded by the
// registry mutex; snapshots copy out under the lock so readers never
// observe a half-transitioned record.
type job struct {
	id          string
	filename    string
	size        int64
	state       string
	stageCursor int
	stages      []models.StageRecord
	receivedAt  time.Time
	completedAt *time.Time
	deletionAt  *time.Time
	verdict     *models.Verdict
	artifactRef *models.ArtifactRef

	cancel      context.CancelFunc
	ctx         context.Context
	subscribers []*subscriber
}

type subscriber struct {
	ch chan models.JobView
}

// Registry is the process-wide job map: one writer per job (its
// executor), many concurrent readers.
type Registry struct {
	mu         sync.RWMutex
	jobs       map[string]*job
	bufferSize int
}

// New creates an empty registry. bufferSize bounds each subscriber's
// update queue; overflow drops the oldest pending view.
func New(bufferSize int) *Registry {
	if bufferSize <= 0 {
		bufferSize = 8
	}
	return &Registry{jobs: make(map[string]*job), bufferSize: bufferSize}
}

// Create inserts a job in queued state. The returned context is the
// job's cancellation signal, cancelled exactly once.
func (r *Registry) Create(id, filename string, size int64) (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, id)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.jobs[id] = &job{
		id:         id,
		filename:   filename,
		size:       size,
		state:      models.StateQueued,
		receivedAt: time.Now().UTC(),
		ctx:        ctx,
		cancel:     cancel,
	}
	return ctx, nil
}

// Context returns the job's cancellation context.
func (r *Registry) Context(id string) (context.Context, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j.ctx, nil
}

// Transition performs a compare-and-swap on the job state. Terminal
// states set completed_at; every successful transition fans out to
// subscribers.
func (r *Registry) Transition(id, from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if j.state != from {
		return fmt.Errorf("%w: %s is %s, not %s", ErrIllegalTransition, id, j.state, from)
	}
	if !transitionLegal(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	j.state = to
	if to == models.StateCompleted || to == models.StateFailed || to == models.StateCancelled {
		now := time.Now().UTC()
		j.completedAt = &now
	}
	r.publishLocked(j)
	return nil
}

// State returns the job's current state.
func (r *Registry) State(id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j.state, nil
}

// SetCursor advances the stage cursor. The cursor never moves back.
func (r *Registry) SetCursor(id string, cursor int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if cursor > j.stageCursor {
		j.stageCursor = cursor
		r.publishLocked(j)
	}
	return nil
}

// AppendStage records a finished stage. Only legal while running.
func (r *Registry) AppendStage(id string, rec models.StageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if j.state != models.StateRunning {
		return fmt.Errorf("%w: %s is %s", ErrNotRunning, id, j.state)
	}
	j.stages = append(j.stages, rec)
	r.publishLocked(j)
	return nil
}

// SetArtifactRef attaches the persisted artifact reference.
func (r *Registry) SetArtifactRef(id string, ref models.ArtifactRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	j.artifactRef = &ref
	return nil
}

// ClearArtifactRef detaches the artifact reference after deletion.
func (r *Registry) ClearArtifactRef(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	j.artifactRef = nil
	return nil
}

// SetVerdict stores the terminal outcome summary.
func (r *Registry) SetVerdict(id string, v models.Verdict) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	j.verdict = &v
	r.publishLocked(j)
	return nil
}

// SetDeletionAt marks when the deletion proof was issued.
func (r *Registry) SetDeletionAt(id string, ts time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t := ts.UTC()
	j.deletionAt = &t
	return nil
}

// Snapshot returns a consistent read-only copy of the job.
func (r *Registry) Snapshot(id string) (models.JobView, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return models.JobView{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return snapshotLocked(j), nil
}

func snapshotLocked(j *job) models.JobView {
	view := models.JobView{
		ID:          j.id,
		Filename:    j.filename,
		Size:        j.size,
		State:       j.state,
		StageCursor: j.stageCursor,
		ReceivedAt:  j.receivedAt,
	}
	view.Stages = make([]models.StageRecord, len(j.stages))
	copy(view.Stages, j.stages)
	if j.completedAt != nil {
		t := *j.completedAt
		view.CompletedAt = &t
	}
	if j.deletionAt != nil {
		t := *j.deletionAt
		view.DeletionAt = &t
	}
	if j.verdict != nil {
		v := *j.verdict
		v.Stages = make([]models.StageRecord, len(j.verdict.Stages))
		copy(v.Stages, j.verdict.Stages)
		view.Verdict = &v
	}
	if j.artifactRef != nil {
		ref := *j.artifactRef
		view.ArtifactRef = &ref
	}
	return view
}

// Subscribe returns a channel of job views: the current snapshot
// immediately, then every change. Slow consumers lose the oldest
// pending view, never the terminal one. The returned func detaches
// the subscriber and closes the channel.
func (r *Registry) Subscribe(id string) (<-chan models.JobView, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	sub := &subscriber{ch: make(chan models.JobView, r.bufferSize)}
	sub.ch <- snapshotLocked(j)
	j.subscribers = append(j.subscribers, sub)

	unsubscribe := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		jj, ok := r.jobs[id]
		if !ok {
			return
		}
		for i, s := range jj.subscribers {
			if s == sub {
				jj.subscribers = append(jj.subscribers[:i], jj.subscribers[i+1:]...)
				close(sub.ch)
				return
			}
		}
	}
	return sub.ch, unsubscribe, nil
}

// publishLocked fans the current snapshot out to subscribers with a
// drop-oldest overflow policy.
func (r *Registry) publishLocked(j *job) {
	if len(j.subscribers) == 0 {
		return
	}
	view := snapshotLocked(j)
	for _, sub := range j.subscribers {
		for {
			select {
			case sub.ch <- view:
			default:
				// Buffer full: discard the oldest pending view
				// and retry so the newest always lands.
				select {
				case <-sub.ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Cancel triggers the job's cancel signal. Idempotent; cancelling a
// terminal or unknown job is reported but not an error for terminal.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	j.cancel()
	// A queued job has no worker to observe the signal; move it
	// straight to cancelled.
	if j.state == models.StateQueued {
		j.state = models.StateCancelled
		now := time.Now().UTC()
		j.completedAt = &now
		r.publishLocked(j)
	}
	return nil
}

// Remove drops a job outright. Only for unwinding a failed admission;
// running jobs are never removed this way.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return
	}
	for _, sub := range j.subscribers {
		close(sub.ch)
	}
	j.cancel()
	delete(r.jobs, id)
}

// TerminalBefore lists jobs whose terminal timestamp is older than the
// cutoff and that have not yet been retired. Janitor feed.
func (r *Registry) TerminalBefore(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, j := range r.jobs {
		if j.state == models.StateRetainedDeleted {
			continue
		}
		if j.completedAt != nil && j.completedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Prune removes retained_deleted jobs older than the cutoff. Returns
// how many were removed.
func (r *Registry) Prune(before time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, j := range r.jobs {
		if j.state != models.StateRetainedDeleted {
			continue
		}
		ts := j.completedAt
		if j.deletionAt != nil {
			ts = j.deletionAt
		}
		if ts != nil && ts.Before(before) {
			for _, sub := range j.subscribers {
				close(sub.ch)
			}
			j.cancel()
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}

// Len reports how many jobs the registry holds.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
