package chat

import "sync"

type EventKind int

const (
	EventAppended EventKind = iota + 1
	EventPatched
	EventRemoved
	EventReset
)

func (k EventKind) String() string {
	switch k {
	case EventAppended:
		return "appended"
	case EventPatched:
		return "patched"
	case EventRemoved:
		return "removed"
	case EventReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Event describes one store mutation. Turn is the affected turn after the
// mutation (before it, for removals); it is zero for resets.
type Event struct {
	Kind EventKind
	Turn Turn
}

// Store is the ordered turn sequence rendered to the user.
//
// Turns are only appended, patched in place by id, or removed by id. Observers
// run synchronously on the mutating goroutine after the mutation is visible
// and must not call back into the owner of the store.
type Store struct {
	mu        sync.RWMutex
	turns     []Turn
	observers map[int]func(Event)
	nextObs   int
}

func NewStore() *Store {
	return &Store{observers: make(map[int]func(Event))}
}

func (s *Store) Append(t Turn) {
	if t.Images == nil {
		t.Images = []string{}
	}
	s.mu.Lock()
	s.turns = append(s.turns, t.clone())
	s.mu.Unlock()
	s.notify(Event{Kind: EventAppended, Turn: t.clone()})
}

// PatchText replaces the text of turn id, keeping its position. It is a no-op
// when id is absent.
func (s *Store) PatchText(id, text string) bool {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	s.turns[i].Text = text
	t := s.turns[i].clone()
	s.mu.Unlock()
	s.notify(Event{Kind: EventPatched, Turn: t})
	return true
}

func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	t := s.turns[i]
	s.turns = append(s.turns[:i:i], s.turns[i+1:]...)
	s.mu.Unlock()
	s.notify(Event{Kind: EventRemoved, Turn: t})
	return true
}

// Reset replaces the whole sequence with a freshly bootstrapped history.
func (s *Store) Reset(turns []Turn) {
	next := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if t.Images == nil {
			t.Images = []string{}
		}
		next = append(next, t.clone())
	}
	s.mu.Lock()
	s.turns = next
	s.mu.Unlock()
	s.notify(Event{Kind: EventReset})
}

func (s *Store) Snapshot() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.turns))
	for i, t := range s.turns {
		out[i] = t.clone()
	}
	return out
}

func (s *Store) Get(id string) (Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexLocked(id)
	if i < 0 {
		return Turn{}, false
	}
	return s.turns[i].clone(), true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Subscribe registers fn for every later mutation and returns its cancel func.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) indexLocked(id string) int {
	// the open turn is almost always last
	for i := len(s.turns) - 1; i >= 0; i-- {
		if s.turns[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) notify(ev Event) {
	s.mu.RLock()
	fns := make([]func(Event), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}
