package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/processor"
)

// memRepo is an in-memory JobRepository enforcing the same transition
// legality as the SQL store, including its compare-and-set semantics.
type memRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func newMemRepo() *memRepo {
	return &memRepo{jobs: make(map[string]*domain.Job)}
}

func (m *memRepo) Create(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("duplicate id %s", job.ID)
	}
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memRepo) GetByID(_ context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memRepo) ListByOwner(_ context.Context, ownerID string, limit, offset int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Job
	for _, j := range m.jobs {
		if j.OwnerID == ownerID {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.After(out[k].CreatedAt)
		}
		return out[i].ID > out[k].ID
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) Transition(_ context.Context, jobID string, to domain.JobStatus, fields domain.TransitionFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if !domain.CanTransition(job.Status, to) {
		return domain.ErrInvalidTransition
	}
	job.Status = to
	job.ResultAssetKey = fields.ResultAssetKey
	job.ErrorMessage = fields.ErrorMessage
	job.UpdatedAt = time.Now()
	return nil
}

func (m *memRepo) SetProcessorRef(_ context.Context, jobID, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.ProcessorRef = ref
	return nil
}

func (m *memRepo) ListPollable(_ context.Context, _ int, limit int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Job
	for _, j := range m.jobs {
		if !j.Status.Terminal() && j.ProcessorRef != "" {
			out = append(out, *j)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeStore struct {
	objects map[string]bool
}

func (f *fakeStore) PresignUpload(_ context.Context, _, _ string, purpose domain.Purpose) (*domain.UploadCredential, error) {
	key := domain.SourceKeyFor(purpose, "deadbeef")
	return &domain.UploadCredential{UploadURL: "https://storage.test/" + key, ObjectKey: key}, nil
}

func (f *fakeStore) PresignDownload(_ context.Context, key string) (string, error) {
	if !f.objects[key] {
		return "", domain.ErrNotFound
	}
	return "https://storage.test/" + key + "?sig=abc", nil
}

func (f *fakeStore) Exists(_ context.Context, key string) (bool, error) {
	return f.objects[key], nil
}

type fakeDispatcher struct {
	ref       string
	err       error
	pollEvent *processor.Event
	pollErr   error
	calls     int
	callbacks []string
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _ *domain.Job, callbackURL string) (string, error) {
	f.calls++
	f.callbacks = append(f.callbacks, callbackURL)
	return f.ref, f.err
}

func (f *fakeDispatcher) Poll(context.Context, string) (*processor.Event, error) {
	return f.pollEvent, f.pollErr
}

func newTestJobs(repo *memRepo, store *fakeStore, d processor.Dispatcher) *Jobs {
	registry := processor.Registry{}
	for _, k := range domain.Kinds {
		registry[k] = d
	}
	return NewJobs(repo, store, registry, "https://api.test", "cb-token", zerolog.Nop())
}

func validSourceKey(kind domain.JobKind) string {
	return domain.SourceKeyFor(domain.PurposeForKind(kind), "cafe.png")
}

func TestCreateJobHappyPathThroughSucceededCallback(t *testing.T) {
	repo := newMemRepo()
	store := &fakeStore{objects: map[string]bool{"out/123.mp4": true}}
	d := &fakeDispatcher{ref: "req-1"}
	s := newTestJobs(repo, store, d)

	job, err := s.CreateJob(context.Background(), "user-1", domain.KindPhotoToVideo, validSourceKey(domain.KindPhotoToVideo), json.RawMessage(`{"prompt":"slow zoom"}`))
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.Status != domain.JobStatusQueued {
		t.Fatalf("status after submit = %s, want queued", job.Status)
	}
	if job.ProcessorRef != "req-1" {
		t.Fatalf("processor ref = %q, want req-1", job.ProcessorRef)
	}
	if d.calls != 1 {
		t.Fatalf("dispatch calls = %d, want 1", d.calls)
	}
	if want := "https://api.test/v1/internal/callbacks/" + job.ID + "?token=cb-token"; d.callbacks[0] != want {
		t.Fatalf("callback url = %q, want %q", d.callbacks[0], want)
	}

	if err := s.ApplyEvent(context.Background(), job.ID, processor.Event{Outcome: processor.OutcomeSucceeded, ResultKey: "out/123.mp4"}); err != nil {
		t.Fatalf("ApplyEvent: %v", err)
	}

	got, err := s.GetJobForOwner(context.Background(), job.ID, "user-1")
	if err != nil {
		t.Fatalf("GetJobForOwner: %v", err)
	}
	if got.Status != domain.JobStatusSucceeded {
		t.Fatalf("status = %s, want succeeded", got.Status)
	}
	if got.ResultAssetKey != "out/123.mp4" {
		t.Fatalf("result key = %q, want out/123.mp4", got.ResultAssetKey)
	}
	if got.ErrorMessage != "" {
		t.Fatalf("terminal job has both result and error: %q", got.ErrorMessage)
	}
}

func TestCreateJobRejectsOutOfRangeParamsBeforePersistence(t *testing.T) {
	repo := newMemRepo()
	d := &fakeDispatcher{}
	s := newTestJobs(repo, &fakeStore{}, d)

	_, err := s.CreateJob(context.Background(), "user-1", domain.KindEmotionControl, validSourceKey(domain.KindEmotionControl), json.RawMessage(`{"smile_intensity":150}`))
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if len(repo.jobs) != 0 {
		t.Fatal("no job may be persisted for invalid parameters")
	}
	if d.calls != 0 {
		t.Fatal("nothing may be dispatched for invalid parameters")
	}
}

func TestCreateJobRejectsCrossKindSourceKey(t *testing.T) {
	repo := newMemRepo()
	s := newTestJobs(repo, &fakeStore{}, &fakeDispatcher{})

	_, err := s.CreateJob(context.Background(), "user-1", domain.KindVideoTranslation, validSourceKey(domain.KindPhotoToVideo), json.RawMessage(`{"target_language":"fr"}`))
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if len(repo.jobs) != 0 {
		t.Fatal("no job may be persisted for a cross-kind source key")
	}
}

func TestCreateJobDispatchFailureEndsFailedNotQueued(t *testing.T) {
	repo := newMemRepo()
	d := &fakeDispatcher{err: errors.New("processor unreachable")}
	s := newTestJobs(repo, &fakeStore{}, d)

	job, err := s.CreateJob(context.Background(), "user-1", domain.KindVideoTranslation, validSourceKey(domain.KindVideoTranslation), json.RawMessage(`{"target_language":"de"}`))
	if err != nil {
		t.Fatalf("CreateJob must not surface dispatch failures: %v", err)
	}
	if len(repo.jobs) != 1 {
		t.Fatalf("job persisted %d times, want exactly once", len(repo.jobs))
	}
	stored, _ := repo.GetByID(context.Background(), job.ID)
	if stored.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", stored.Status)
	}
	if stored.ErrorMessage == "" {
		t.Fatal("failed job must carry a non-empty error reason")
	}
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("returned job status = %s, want failed", job.Status)
	}
}

func TestApplyEventDuplicateTerminalDeliveryIsIdempotent(t *testing.T) {
	repo := newMemRepo()
	s := newTestJobs(repo, &fakeStore{}, &fakeDispatcher{ref: "r"})

	job, err := s.CreateJob(context.Background(), "user-1", domain.KindEmotionControl, validSourceKey(domain.KindEmotionControl), json.RawMessage(`{"smile_intensity":40}`))
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	ev := processor.Event{Outcome: processor.OutcomeFailed, Reason: "x"}
	if err := s.ApplyEvent(context.Background(), job.ID, ev); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := s.ApplyEvent(context.Background(), job.ID, ev); err != nil {
		t.Fatalf("duplicate delivery must be a no-op, got %v", err)
	}

	stored, _ := repo.GetByID(context.Background(), job.ID)
	if stored.Status != domain.JobStatusFailed || stored.ErrorMessage != "x" {
		t.Fatalf("job = %s/%q, want failed/%q", stored.Status, stored.ErrorMessage, "x")
	}
	if stored.ResultAssetKey != "" {
		t.Fatal("failed job must not carry a result key")
	}
}

func TestApplyEventOutOfOrderStartAfterTerminalIsNoOp(t *testing.T) {
	repo := newMemRepo()
	s := newTestJobs(repo, &fakeStore{objects: map[string]bool{"results/emotion_control/v.mp4": true}}, &fakeDispatcher{ref: "r"})

	job, _ := s.CreateJob(context.Background(), "u", domain.KindEmotionControl, validSourceKey(domain.KindEmotionControl), json.RawMessage(`{}`))
	if err := s.ApplyEvent(context.Background(), job.ID, processor.Event{Outcome: processor.OutcomeSucceeded, ResultKey: "results/emotion_control/v.mp4"}); err != nil {
		t.Fatalf("succeeded delivery: %v", err)
	}
	// The start ack raced the completion and arrives late.
	if err := s.ApplyEvent(context.Background(), job.ID, processor.Event{Outcome: processor.OutcomeStarted}); err != nil {
		t.Fatalf("late start ack must be swallowed, got %v", err)
	}

	stored, _ := repo.GetByID(context.Background(), job.ID)
	if stored.Status != domain.JobStatusSucceeded {
		t.Fatalf("status = %s, want succeeded untouched", stored.Status)
	}
}

func TestApplyEventUnknownJob(t *testing.T) {
	s := newTestJobs(newMemRepo(), &fakeStore{}, &fakeDispatcher{})
	err := s.ApplyEvent(context.Background(), "ghost", processor.Event{Outcome: processor.OutcomeStarted})
	if !errors.Is(err, domain.ErrUnknownJob) {
		t.Fatalf("err = %v, want ErrUnknownJob", err)
	}
}

func TestApplyEventSucceededWithMissingResultFailsTheJob(t *testing.T) {
	repo := newMemRepo()
	s := newTestJobs(repo, &fakeStore{objects: map[string]bool{}}, &fakeDispatcher{ref: "r"})

	job, _ := s.CreateJob(context.Background(), "u", domain.KindPhotoToVideo, validSourceKey(domain.KindPhotoToVideo), json.RawMessage(`{"prompt":"p"}`))
	if err := s.ApplyEvent(context.Background(), job.ID, processor.Event{Outcome: processor.OutcomeSucceeded, ResultKey: "results/photo_to_video/missing.mp4"}); err != nil {
		t.Fatalf("ApplyEvent: %v", err)
	}

	stored, _ := repo.GetByID(context.Background(), job.ID)
	if stored.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed when the result does not resolve", stored.Status)
	}
	if stored.ResultAssetKey != "" {
		t.Fatal("unverifiable result key must not be committed")
	}
	if stored.ErrorMessage == "" {
		t.Fatal("verification failure must carry a reason")
	}
}

func TestGetJobForOwnerHidesForeignJobs(t *testing.T) {
	repo := newMemRepo()
	s := newTestJobs(repo, &fakeStore{}, &fakeDispatcher{})

	job, _ := s.CreateJob(context.Background(), "alice", domain.KindPhotoToVideo, validSourceKey(domain.KindPhotoToVideo), json.RawMessage(`{"prompt":"p"}`))
	if _, err := s.GetJobForOwner(context.Background(), job.ID, "bob"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound for foreign owner", err)
	}
}

func TestResultURLOnlyForSucceededJobs(t *testing.T) {
	store := &fakeStore{objects: map[string]bool{"results/x.mp4": true}}
	s := newTestJobs(newMemRepo(), store, &fakeDispatcher{})

	queued := &domain.Job{Status: domain.JobStatusQueued}
	if _, err := s.ResultURL(context.Background(), queued); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound for non-terminal job", err)
	}

	done := &domain.Job{Status: domain.JobStatusSucceeded, ResultAssetKey: "results/x.mp4"}
	u, err := s.ResultURL(context.Background(), done)
	if err != nil {
		t.Fatalf("ResultURL: %v", err)
	}
	if u == "" {
		t.Fatal("expected a presigned url")
	}
}

func TestPollAppliesProcessorEvent(t *testing.T) {
	repo := newMemRepo()
	d := &fakeDispatcher{ref: "r", pollEvent: &processor.Event{Outcome: processor.OutcomeFailed, Reason: "gpu oom"}}
	s := newTestJobs(repo, &fakeStore{}, d)

	job, _ := s.CreateJob(context.Background(), "u", domain.KindVideoTranslation, validSourceKey(domain.KindVideoTranslation), json.RawMessage(`{"target_language":"ja"}`))
	stored, _ := repo.GetByID(context.Background(), job.ID)

	applied, err := s.Poll(context.Background(), stored)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !applied {
		t.Fatal("expected the poll event to be applied")
	}
	stored, _ = repo.GetByID(context.Background(), job.ID)
	if stored.Status != domain.JobStatusFailed || stored.ErrorMessage != "gpu oom" {
		t.Fatalf("job = %s/%q after poll", stored.Status, stored.ErrorMessage)
	}
}

func TestPollSkipsBackendsWithoutStatusAPI(t *testing.T) {
	d := &fakeDispatcher{pollErr: processor.ErrPollNotSupported}
	s := newTestJobs(newMemRepo(), &fakeStore{}, d)

	applied, err := s.Poll(context.Background(), &domain.Job{Kind: domain.KindEmotionControl, ProcessorRef: "r"})
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if applied {
		t.Fatal("nothing should be applied when polling is unsupported")
	}
}
