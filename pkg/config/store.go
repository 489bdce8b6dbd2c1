package config

import "sync"

// ChangeFunc is called after every successful update with the variable that
// changed and the resulting configuration.
type ChangeFunc func(name string, cfg Config)

// Store holds the live configuration. The host pushes changes through Update
// or SetVar; consumers either poll Get or Subscribe.
type Store struct {
	mu     sync.RWMutex
	cfg    Config
	subs   map[int]ChangeFunc
	nextID int
}

func NewStore(cfg *Config) *Store {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Store{cfg: *cfg, subs: make(map[int]ChangeFunc)}
}

// Get returns a copy of the current configuration.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Update applies fn to the configuration and notifies subscribers. The lock
// is released before any subscriber runs.
func (s *Store) Update(name string, fn func(*Config)) {
	s.mu.Lock()
	fn(&s.cfg)
	cfg := s.cfg
	subs := s.subscribers()
	s.mu.Unlock()

	for _, sub := range subs {
		sub(name, cfg)
	}
}

// SetVar is Update for a single host variable in string form.
func (s *Store) SetVar(name, value string) error {
	s.mu.Lock()
	if err := s.cfg.Set(name, value); err != nil {
		s.mu.Unlock()
		return err
	}
	cfg := s.cfg
	subs := s.subscribers()
	s.mu.Unlock()

	for _, sub := range subs {
		sub(name, cfg)
	}
	return nil
}

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (s *Store) Subscribe(fn ChangeFunc) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) subscribers() []ChangeFunc {
	subs := make([]ChangeFunc, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	return subs
}
