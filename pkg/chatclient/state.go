package chatclient

import "sync"

// State tracks per-counterpart unread counters, typing indicators and the
// connection status of one chat channel. Counters drift-correct against the
// server's conversation list via Reconcile; in between, events adjust them
// incrementally.
type State struct {
	mu        sync.RWMutex
	connected bool
	active    string
	unread    map[string]int
	typing    map[string]bool
}

// NewState creates an empty tracker.
func NewState() *State {
	return &State{
		unread: make(map[string]int),
		typing: make(map[string]bool),
	}
}

// Reconcile replaces all counters with the server-reported values, keyed by
// counterpart id. The active conversation stays pinned at zero: the server
// snapshot may predate the markAsRead issued when it was opened.
func (s *State) Reconcile(counts map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unread = make(map[string]int, len(counts))
	for counterpart, count := range counts {
		if counterpart == s.active {
			continue
		}
		if count > 0 {
			s.unread[counterpart] = count
		}
	}
}

// SetActive marks a conversation as the open one; its counter is cleared and
// incoming messages from it no longer count as unread.
func (s *State) SetActive(counterpartID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = counterpartID
	delete(s.unread, counterpartID)
}

// Active returns the currently open conversation, if any.
func (s *State) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Unread returns the counter for one counterpart.
func (s *State) Unread(counterpartID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread[counterpartID]
}

// TotalUnread sums every counter, for badge-style indicators.
func (s *State) TotalUnread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, count := range s.unread {
		total += count
	}
	return total
}

// Typing reports whether a counterpart is currently typing.
func (s *State) Typing(counterpartID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.typing[counterpartID]
}

// Connected reports whether the channel is up.
func (s *State) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *State) noteIncoming(from string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if from == s.active {
		return
	}
	s.unread[from]++
}

func (s *State) clearUnread(counterpartID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.unread, counterpartID)
}

func (s *State) setTyping(counterpartID string, typing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if typing {
		s.typing[counterpartID] = true
		return
	}
	delete(s.typing, counterpartID)
}

func (s *State) setConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}
