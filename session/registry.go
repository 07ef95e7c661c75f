package session

import "sync"

var registry = struct {
	sync.Mutex
	live map[*Session]struct{}
}{live: make(map[*Session]struct{})}

func register(s *Session) {
	registry.Lock()
	registry.live[s] = struct{}{}
	registry.Unlock()
}

func unregister(s *Session) {
	registry.Lock()
	delete(registry.live, s)
	registry.Unlock()
}

// TeardownAll tears down every session that still owns a process. Commands
// call it on exit and from their signal handler.
func TeardownAll() {
	registry.Lock()
	live := make([]*Session, 0, len(registry.live))
	for s := range registry.live {
		live = append(live, s)
	}
	registry.Unlock()

	var wg sync.WaitGroup
	for _, s := range live {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Teardown()
		}(s)
	}
	wg.Wait()
}

// Live returns the number of registered sessions.
func Live() int {
	registry.Lock()
	defer registry.Unlock()
	return len(registry.live)
}
