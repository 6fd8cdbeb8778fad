package automation

import (
	"log"
	"sync"
)

// Tracker supervises detached background tasks. Run execution is started
// fire-and-forget at the request boundary, but its failure must still be
// observable: every task goes through Go, which recovers panics and logs
// returned errors, and Wait lets shutdown drain in-flight work.
type Tracker struct {
	wg     sync.WaitGroup
	mu     sync.Mutex
	active int
}

// NewTracker creates an empty task tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Go runs fn on its own goroutine under supervision.
func (t *Tracker) Go(name string, fn func() error) {
	t.wg.Add(1)
	t.mu.Lock()
	t.active++
	t.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[task] %s panicked: %v", name, r)
			}
			t.mu.Lock()
			t.active--
			t.mu.Unlock()
			t.wg.Done()
		}()
		if err := fn(); err != nil {
			log.Printf("[task] %s failed: %v", name, err)
		}
	}()
}

// Active returns the number of tasks currently running.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Wait blocks until all tracked tasks have finished.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// NonCritical executes a best-effort side effect such as a reward signal or
// the retention sweep. Failures are logged and discarded, never propagated.
func NonCritical(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[effect] %s panicked: %v", name, r)
		}
	}()
	if err := fn(); err != nil {
		log.Printf("[effect] %s failed: %v", name, err)
	}
}
