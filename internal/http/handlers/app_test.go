package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/middleware"
	"server/internal/processor"
	"server/internal/service"
)

// testRepo is an in-memory JobRepository with the store's transition rules.
type testRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func newTestRepo() *testRepo {
	return &testRepo{jobs: make(map[string]*domain.Job)}
}

func (m *testRepo) Create(_ context.Context, job *domain.Job) error {
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

func (m *testRepo) GetByID(_ context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *testRepo) ListByOwner(_ context.Context, ownerID string, limit, offset int) ([]domain.Job, error) {
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

func (m *testRepo) Transition(_ context.Context, jobID string, to domain.JobStatus, fields domain.TransitionFields) error {
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

func (m *testRepo) SetProcessorRef(_ context.Context, jobID, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.ProcessorRef = ref
	return nil
}

func (m *testRepo) ListPollable(_ context.Context, _ int, limit int) ([]domain.Job, error) {
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

type testStore struct {
	objects    map[string]bool
	presignErr error
}

func (f *testStore) PresignUpload(_ context.Context, _, _ string, purpose domain.Purpose) (*domain.UploadCredential, error) {
	if f.presignErr != nil {
		return nil, f.presignErr
	}
	key := domain.SourceKeyFor(purpose, "deadbeef")
	return &domain.UploadCredential{UploadURL: "https://storage.test/" + key, ObjectKey: key}, nil
}

func (f *testStore) PresignDownload(_ context.Context, key string) (string, error) {
	if !f.objects[key] {
		return "", domain.ErrNotFound
	}
	return "https://storage.test/" + key + "?sig=abc", nil
}

func (f *testStore) Exists(_ context.Context, key string) (bool, error) {
	return f.objects[key], nil
}

type testDispatcher struct {
	ref string
	err error
}

func (f *testDispatcher) Dispatch(context.Context, *domain.Job, string) (string, error) {
	return f.ref, f.err
}

func (f *testDispatcher) Poll(context.Context, string) (*processor.Event, error) {
	return nil, processor.ErrPollNotSupported
}

type testStats struct {
	stats *domain.JobStats
	err   error
}

func (f *testStats) StatsSummary(context.Context) (*domain.JobStats, error) {
	return f.stats, f.err
}

func newTestApp(repo *testRepo, store *testStore) *App {
	registry := processor.Registry{}
	for _, k := range domain.Kinds {
		registry[k] = &testDispatcher{ref: "req-1"}
	}
	jobs := service.NewJobs(repo, store, registry, "https://api.test", "cb-token", zerolog.Nop())
	return NewApp(jobs, store, &testStats{stats: &domain.JobStats{}}, zerolog.Nop(), "cb-token")
}

func asUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), middleware.UserIDKey, userID))
}

func withJobID(r *http.Request, jobID string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("job_id", jobID)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
