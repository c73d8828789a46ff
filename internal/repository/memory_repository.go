package repository

import (
	"context"
	"sort"
	"sync"

	"go-repub/pkg/models"
)

// MemoryJobRepository keeps jobs in process memory
type MemoryJobRepository struct {
	mu    sync.RWMutex
	jobs  map[string]*models.Job
	pages map[string]map[int]*models.Page
}

// NewMemoryJobRepository creates an empty in-memory repository
func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{
		jobs:  make(map[string]*models.Job),
		pages: make(map[string]map[int]*models.Page),
	}
}

func (r *MemoryJobRepository) CreateJob(ctx context.Context, job *models.Job, pages []*models.Page) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return ErrJobExists
	}
	r.jobs[job.ID] = job.Clone()
	byNumber := make(map[int]*models.Page, len(pages))
	for _, p := range pages {
		byNumber[p.Number] = p.Clone()
	}
	r.pages[job.ID] = byNumber
	return nil
}

func (r *MemoryJobRepository) GetJob(ctx context.Context, id string) (*models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

func (r *MemoryJobRepository) SaveJob(ctx context.Context, job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; !ok {
		return ErrJobNotFound
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *MemoryJobRepository) ListJobs(ctx context.Context, filter ListFilter) ([]*models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Job
	for _, job := range r.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryJobRepository) DeleteJob(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(r.jobs, id)
	delete(r.pages, id)
	return nil
}

func (r *MemoryJobRepository) GetPages(ctx context.Context, jobID string) ([]*models.Page, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byNumber, ok := r.pages[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	out := make([]*models.Page, 0, len(byNumber))
	for _, p := range byNumber {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (r *MemoryJobRepository) GetPage(ctx context.Context, jobID string, number int) (*models.Page, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byNumber, ok := r.pages[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	p, ok := byNumber[number]
	if !ok {
		return nil, ErrPageNotFound
	}
	return p.Clone(), nil
}

func (r *MemoryJobRepository) SavePages(ctx context.Context, pages []*models.Page) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range pages {
		byNumber, ok := r.pages[p.JobID]
		if !ok {
			return ErrJobNotFound
		}
		if _, ok := byNumber[p.Number]; !ok {
			return ErrPageNotFound
		}
	}
	for _, p := range pages {
		r.pages[p.JobID][p.Number] = p.Clone()
	}
	return nil
}
