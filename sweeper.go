package cache

import (
	"sync"
	"time"
)

// sweeper runs fn on a fixed period until stopped. Manual triggers are coalesced.
type sweeper struct {
	interval  time.Duration
	fn        func()
	triggerCh chan struct{}
	closeCh   chan struct{}
	doneCh    chan struct{}
	stopOnce  sync.Once
}

func startSweeper(interval time.Duration, fn func()) *sweeper {
	s := &sweeper{
		interval:  interval,
		fn:        fn,
		triggerCh: make(chan struct{}, 1),
		closeCh:   make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *sweeper) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.fn()
		case <-s.triggerCh:
			s.fn()
		case <-s.closeCh:
			return
		}
	}
}

// trigger requests an extra pass; a pending request absorbs this one.
func (s *sweeper) trigger() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

// stop cancels the schedule and waits for an in-flight pass to finish. Idempotent.
func (s *sweeper) stop() {
	s.stopOnce.Do(func() {
		close(s.closeCh)
	})
	<-s.doneCh
}
