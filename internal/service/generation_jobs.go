package service

import (
	"sync"
	"time"

	"github.com/noah-isme/sma-timetable/internal/dto"
)

// jobStore keeps asynchronous generation records in memory. Finished jobs expire after ttl.
type jobStore struct {
	ttl   time.Duration
	now   func() time.Time
	mu    sync.RWMutex
	items map[string]dto.GenerationJob
}

func newJobStore(ttl time.Duration, now func() time.Time) *jobStore {
	return &jobStore{
		ttl:   ttl,
		now:   now,
		items: make(map[string]dto.GenerationJob),
	}
}

func (s *jobStore) Save(job dto.GenerationJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	s.items[job.ID] = job
}

func (s *jobStore) Get(id string) (dto.GenerationJob, bool) {
	s.mu.RLock()
	job, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return dto.GenerationJob{}, false
	}
	if s.expired(job) {
		s.Delete(id)
		return dto.GenerationJob{}, false
	}
	return job, true
}

// Update applies fn to the stored job and stamps UpdatedAt. Missing jobs are ignored.
func (s *jobStore) Update(id string, fn func(*dto.GenerationJob)) (dto.GenerationJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.items[id]
	if !ok {
		return dto.GenerationJob{}, false
	}
	fn(&job)
	job.UpdatedAt = s.now().UTC()
	s.items[id] = job
	return job, true
}

func (s *jobStore) Delete(id string) {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
}

func (s *jobStore) expired(job dto.GenerationJob) bool {
	finished := job.Status == dto.JobStatusDone || job.Status == dto.JobStatusFailed
	return finished && s.now().Sub(job.UpdatedAt) > s.ttl
}

// sweep drops expired jobs. Callers hold the write lock.
func (s *jobStore) sweep() {
	for id, job := range s.items {
		if s.expired(job) {
			delete(s.items, id)
		}
	}
}
