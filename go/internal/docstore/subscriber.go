package docstore

import (
	"sync"
	"time"
)

// subscriber delivers documents to a callback on its own goroutine, in push order.
// Pushing never blocks the writer, so a slow callback cannot stall the store.
type subscriber struct {
	path string
	fn   func(*Document)

	mu      sync.Mutex
	pending []*Document
	latest  time.Time

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newSubscriber(path string, fn func(*Document)) *subscriber {
	s := &subscriber{
		path: path,
		fn:   fn,
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

// push queues doc for delivery. A document older than one already queued is
// dropped so a replay racing a live change cannot move a subscriber backwards.
func (s *subscriber) push(doc *Document) {
	s.mu.Lock()
	if doc.UpdateTime.Before(s.latest) {
		s.mu.Unlock()
		return
	}
	s.latest = doc.UpdateTime
	s.pending = append(s.pending, doc.Clone())
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) close() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

func (s *subscriber) run() {
	defer close(s.done)

	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if len(s.pending) == 0 {
				s.mu.Unlock()
				break
			}
			doc := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()

			select {
			case <-s.stop:
				return
			default:
			}
			s.fn(doc)
		}
	}
}

// subscriberSet tracks the subscribers of each document path
type subscriberSet struct {
	mu     sync.RWMutex
	byPath map[string]map[*subscriber]struct{}
}

func newSubscriberSet() *subscriberSet {
	return &subscriberSet{byPath: make(map[string]map[*subscriber]struct{})}
}

// add registers s and reports whether it is the first subscriber for its path
func (ss *subscriberSet) add(s *subscriber) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	subs, ok := ss.byPath[s.path]
	if !ok {
		subs = make(map[*subscriber]struct{})
		ss.byPath[s.path] = subs
	}
	subs[s] = struct{}{}
	return !ok
}

// remove unregisters s and reports whether its path has no subscribers left
func (ss *subscriberSet) remove(s *subscriber) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	subs, ok := ss.byPath[s.path]
	if !ok {
		return false
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(ss.byPath, s.path)
		return true
	}
	return false
}

func (ss *subscriberSet) publish(doc *Document) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	for s := range ss.byPath[doc.Path] {
		s.push(doc)
	}
}

func (ss *subscriberSet) paths() []string {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	paths := make([]string, 0, len(ss.byPath))
	for p := range ss.byPath {
		paths = append(paths, p)
	}
	return paths
}

func (ss *subscriberSet) closeAll() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	for path, subs := range ss.byPath {
		for s := range subs {
			s.close()
		}
		delete(ss.byPath, path)
	}
}
