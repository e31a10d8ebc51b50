package assets

import (
	"sync"

	"go.uber.org/zap"
)

// Update is one result of a change-triggered re-fetch.
// Exactly one of Asset and Err is set.
type Update struct {
	Asset *Asset
	Err   error
}

// Subscription receives a fresh Asset after every throttled change of the
// asset directory. Fetch failures arrive as updates with Err set and do not
// end the subscription.
type Subscription struct {
	asset   string
	updates chan Update
	log     *zap.Logger

	mu      sync.Mutex
	closed  bool
	dropped int
	onClose func(*Subscription)
}

func newSubscription(asset string, buffer int, log *zap.Logger, onClose func(*Subscription)) *Subscription {
	return &Subscription{
		asset:   asset,
		updates: make(chan Update, buffer),
		log:     log,
		onClose: onClose,
	}
}

// Asset returns the subscribed asset name.
func (s *Subscription) Asset() string {
	return s.asset
}

// Updates returns the update channel. It is closed by Close.
func (s *Subscription) Updates() <-chan Update {
	return s.updates
}

// Dropped returns how many queued updates were discarded for newer ones.
func (s *Subscription) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close stops delivery and closes the update channel. Safe to call twice.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.updates)
	onClose := s.onClose
	s.mu.Unlock()

	if onClose != nil {
		onClose(s)
	}
}

// deliver queues u without blocking. When the queue is full the oldest
// entry is discarded so the newest state always gets through.
func (s *Subscription) deliver(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	for {
		select {
		case s.updates <- u:
			return
		default:
		}
		select {
		case <-s.updates:
			s.dropped++
			s.log.Warn("subscriber queue full, dropped oldest update", zap.String("asset", s.asset))
		default:
		}
	}
}
