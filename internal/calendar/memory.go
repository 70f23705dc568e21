package calendar

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps events in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	events   map[string]Event
	linkBase string
}

func NewMemoryStore(linkBase string) *MemoryStore {
	return &MemoryStore{
		events:   make(map[string]Event),
		linkBase: strings.TrimRight(linkBase, "/"),
	}
}

func (s *MemoryStore) List(ctx context.Context) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, cloneEvent(ev))
	}
	sortEvents(out)
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return Event{}, ErrNotFound
	}
	return cloneEvent(ev), nil
}

func (s *MemoryStore) Insert(ctx context.Context, in ResolvedEvent) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	id := uuid.NewString()
	ev := Event{
		ID:          id,
		Summary:     in.Summary,
		Start:       in.Start,
		End:         in.End,
		AllDay:      in.AllDay,
		Location:    in.Location,
		Description: in.Description,
		Recurrence:  append([]string(nil), in.Recurrence...),
		Link:        linkFor(s.linkBase, id),
	}
	if err := validate(ev); err != nil {
		return Event{}, fmt.Errorf("insert event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[id] = ev
	return cloneEvent(ev), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, patch Patch) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return Event{}, ErrNotFound
	}
	next := patch.apply(ev)
	if err := validate(next); err != nil {
		return Event{}, fmt.Errorf("update event %s: %w", id, err)
	}
	s.events[id] = next
	return cloneEvent(next), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; !ok {
		return ErrNotFound
	}
	delete(s.events, id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneEvent(ev Event) Event {
	ev.Recurrence = append([]string(nil), ev.Recurrence...)
	return ev
}

func sortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Start.Equal(events[j].Start) {
			return events[i].ID < events[j].ID
		}
		return events[i].Start.Before(events[j].Start)
	})
}
