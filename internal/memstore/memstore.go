// Package memstore is a mutex-protected in-memory implementation of the
// storage contracts. It backs the unit tests and the local development
// profile; production uses internal/postgres.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/domain"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/errval"
)

type Store struct {
	mu         sync.Mutex
	tasks      map[string]*domain.ScheduledTask
	campaigns  map[string]*domain.DMCampaign
	messages   map[string]*domain.DMMessage
	platforms  map[string]*domain.Platform
	engagement map[string]int
}

func New() *Store {
	return &Store{
		tasks:      make(map[string]*domain.ScheduledTask),
		campaigns:  make(map[string]*domain.DMCampaign),
		messages:   make(map[string]*domain.DMMessage),
		platforms:  make(map[string]*domain.Platform),
		engagement: make(map[string]int),
	}
}

func (s *Store) Ping(_ context.Context) error { return nil }

func cloneTask(t *domain.ScheduledTask) *domain.ScheduledTask {
	c := *t
	return &c
}

func (s *Store) CreateTask(_ context.Context, task *domain.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

func (s *Store) GetTaskByID(_ context.Context, id string) (*domain.ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, errval.ErrNotFound
	}
	return cloneTask(t), nil
}

func (s *Store) UpdateTask(_ context.Context, task *domain.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; !ok {
		return errval.ErrNotFound
	}
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

func (s *Store) ListDueTasks(_ context.Context, now time.Time, n int) ([]*domain.ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := []*domain.ScheduledTask{}
	for _, t := range s.tasks {
		if t.Status == domain.TaskPending && !t.ScheduledAt.After(now) {
			due = append(due, cloneTask(t))
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	if n > 0 && len(due) > n {
		due = due[:n]
	}
	return due, nil
}

func (s *Store) ListTasks(_ context.Context, filter domain.TaskListFilter) ([]*domain.ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*domain.ScheduledTask{}
	for _, t := range s.tasks {
		if filter.ClientID != "" && t.ClientID != filter.ClientID {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.After(out[j].ScheduledAt) })

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []*domain.ScheduledTask{}, nil
		}
		out = out[filter.Offset:]
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = domain.DefaultListLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ResetStaleInProgress(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	touched := 0
	for _, t := range s.tasks {
		if t.Status != domain.TaskInProgress || t.UpdatedAt.After(cutoff) {
			continue
		}
		if cutoff.After(t.WindowEnd()) {
			t.Status = domain.TaskFailed
			t.ErrorMessage = "Reset by recovery sweep: execution abandoned past window"
		} else {
			t.Status = domain.TaskPending
		}
		t.UpdatedAt = cutoff
		touched++
	}
	return touched, nil
}

func cloneCampaign(c *domain.DMCampaign) *domain.DMCampaign {
	cp := *c
	return &cp
}

func cloneMessage(m *domain.DMMessage) *domain.DMMessage {
	cp := *m
	return &cp
}

func (s *Store) PutCampaign(c *domain.DMCampaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.ID] = cloneCampaign(c)
}

func (s *Store) GetCampaignByID(_ context.Context, id string) (*domain.DMCampaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, errval.ErrNotFound
	}
	return cloneCampaign(c), nil
}

func (s *Store) CreateMessage(_ context.Context, msg *domain.DMMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ID] = cloneMessage(msg)
	return nil
}

func (s *Store) GetMessageByID(_ context.Context, id string) (*domain.DMMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, errval.ErrNotFound
	}
	return cloneMessage(m), nil
}

func (s *Store) UpdateMessage(_ context.Context, msg *domain.DMMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[msg.ID]; !ok {
		return errval.ErrNotFound
	}
	s.messages[msg.ID] = cloneMessage(msg)
	return nil
}

func (s *Store) IncrementSentMessages(_ context.Context, campaignID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[campaignID]
	if !ok {
		return errval.ErrNotFound
	}
	c.SentMessages++
	return nil
}

func (s *Store) IncrementEngagement(_ context.Context, campaignID, platformID string, kind domain.EngagementKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engagement[campaignID+":"+platformID+":"+string(kind)]++
	return nil
}

// EngagementCount is a test helper exposing the metric counters.
func (s *Store) EngagementCount(campaignID, platformID string, kind domain.EngagementKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engagement[campaignID+":"+platformID+":"+string(kind)]
}

func (s *Store) PutPlatform(p *domain.Platform) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.platforms[p.ID] = &cp
}

func (s *Store) GetPlatformByID(_ context.Context, id string) (*domain.Platform, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.platforms[id]
	if !ok {
		return nil, errval.ErrNotFound
	}
	cp := *p
	return &cp, nil
}
