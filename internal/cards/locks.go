package cards

import "sync"

// projectLocks hands out one mutex per project, freeing entries nobody holds.
type projectLocks struct {
	mu    sync.Mutex
	locks map[string]*projectLock
}

type projectLock struct {
	mu      sync.Mutex
	waiters int
}

func newProjectLocks() *projectLocks {
	return &projectLocks{locks: make(map[string]*projectLock)}
}

// lock blocks until the project's mutex is held and returns its release func.
func (p *projectLocks) lock(projectID string) func() {
	p.mu.Lock()
	l := p.locks[projectID]
	if l == nil {
		l = &projectLock{}
		p.locks[projectID] = l
	}
	l.waiters++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.waiters--
		if l.waiters == 0 {
			delete(p.locks, projectID)
		}
		p.mu.Unlock()
	}
}
