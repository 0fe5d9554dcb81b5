// Package stream implements spec.md §4.5: a trivial namespace façade
// holding a map of topics, whose delete cascades to every topic's delete.
package stream

import (
	"sync"
	"time"

	"github.com/driftline/driftline/internal/ierr"
	"github.com/driftline/driftline/pkg/topic"
)

// Stream is a top-level namespace grouping topics (spec.md §3).
type Stream struct {
	ID        uint32
	Name      string
	CreatedAt time.Time

	mu          sync.RWMutex
	topics      map[uint32]*topic.Topic
	nextTopicID uint32
}

// New creates an empty Stream.
func New(id uint32, name string) *Stream {
	return &Stream{
		ID:          id,
		Name:        name,
		CreatedAt:   time.Now(),
		topics:      make(map[uint32]*topic.Topic),
		nextTopicID: 1,
	}
}

// AddTopic registers an already-constructed topic under this stream.
func (s *Stream) AddTopic(t *topic.Topic) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.topics[t.ID]; exists {
		return ierr.Conflict(ierr.CodeTopicExists, "topic already exists")
	}
	s.topics[t.ID] = t
	if t.ID >= s.nextTopicID {
		s.nextTopicID = t.ID + 1
	}
	return nil
}

// Topic looks up a topic by ID.
func (s *Stream) Topic(id uint32) (*topic.Topic, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.topics[id]
	return t, ok
}

// Topics returns every topic of this stream.
func (s *Stream) Topics() []*topic.Topic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*topic.Topic, 0, len(s.topics))
	for _, t := range s.topics {
		out = append(out, t)
	}
	return out
}

// DeleteTopic purges and removes a topic.
func (s *Stream) DeleteTopic(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topics[id]
	if !ok {
		return ierr.NotFound(ierr.CodeTopicNotFound, "topic not found")
	}
	if err := t.Purge(); err != nil {
		return err
	}
	delete(s.topics, id)
	return nil
}

// Delete cascades to every topic's delete, as spec.md §4.5 requires.
func (s *Stream) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.topics {
		if err := t.Purge(); err != nil {
			return err
		}
		delete(s.topics, id)
	}
	return nil
}

// NextTopicID returns the next available topic ID for this stream.
func (s *Stream) NextTopicID() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextTopicID
}
