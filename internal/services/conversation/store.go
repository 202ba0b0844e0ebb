package conversation

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LeonardoBeccarini/irrigation_session/internal/model"
	"github.com/LeonardoBeccarini/irrigation_session/internal/volume"
)

// Store is the in-memory registry of live sessions. It is safe across
// distinct keys; mutation of a single key is serialized by the engine.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]Session)}
}

// GetOrCreate returns the live session for key or seeds a new Idle one
// from pc. The required volume is computed once here.
func (s *Store) GetOrCreate(key Key, date time.Time, pc model.PlotContext, now time.Time) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.sessions[key.String()]; ok {
		return cur.Clone(), false
	}
	sess := Session{
		ID:           uuid.NewString(),
		Key:          key,
		Date:         date,
		Plot:         pc,
		DeviceClass:  pc.DeviceClass,
		State:        Idle,
		RequiredM3:   volume.RequiredVolume(pc.RequiredMM, pc.Area, pc.WA, pc.IE),
		CreatedAt:    now,
		LastUpdateAt: now,
	}
	s.sessions[key.String()] = sess
	return sess.Clone(), true
}

func (s *Store) Get(key string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur, ok := s.sessions[key]
	if !ok {
		return Session{}, false
	}
	return cur.Clone(), true
}

// Put replaces the stored copy of sess.
func (s *Store) Put(sess Session) {
	s.mu.Lock()
	s.sessions[sess.Key.String()] = sess.Clone()
	s.mu.Unlock()
}

func (s *Store) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[key]
	delete(s.sessions, key)
	return ok
}

// ByOperator returns the operator's sessions ordered by plot.
func (s *Store) ByOperator(operatorID string) []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Session
	for _, sess := range s.sessions {
		if sess.Key.OperatorID == operatorID {
			out = append(out, sess.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// List returns a snapshot of every session ordered by key.
func (s *Store) List() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
