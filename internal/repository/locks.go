package repository

import "sync"

// Locks serializes access to jobs and pages. State transitions take the job
// lock exclusively; page edits share the job lock and take the page lock.
type Locks struct {
	mu    sync.Mutex
	jobs  map[string]*sync.RWMutex
	pages map[pageKey]*sync.Mutex
}

type pageKey struct {
	job  string
	page int
}

// NewLocks creates an empty lock table
func NewLocks() *Locks {
	return &Locks{
		jobs:  make(map[string]*sync.RWMutex),
		pages: make(map[pageKey]*sync.Mutex),
	}
}

func (l *Locks) job(id string) *sync.RWMutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.jobs[id]
	if !ok {
		m = &sync.RWMutex{}
		l.jobs[id] = m
	}
	return m
}

// LockJob takes the job lock exclusively and returns its release function.
func (l *Locks) LockJob(id string) func() {
	m := l.job(id)
	m.Lock()
	return m.Unlock
}

// LockPage shares the job lock and takes the page lock.
func (l *Locks) LockPage(id string, page int) func() {
	jm := l.job(id)
	jm.RLock()

	l.mu.Lock()
	k := pageKey{id, page}
	pm, ok := l.pages[k]
	if !ok {
		pm = &sync.Mutex{}
		l.pages[k] = pm
	}
	l.mu.Unlock()

	pm.Lock()
	return func() {
		pm.Unlock()
		jm.RUnlock()
	}
}

// Forget drops the locks of a deleted job.
func (l *Locks) Forget(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.jobs, id)
	for k := range l.pages {
		if k.job == id {
			delete(l.pages, k)
		}
	}
}
