package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/and161185/grouptalk/internal/cache"
	"github.com/and161185/grouptalk/internal/errs"
	"github.com/and161185/grouptalk/internal/model"
	"github.com/and161185/grouptalk/internal/repository"
	"github.com/gofrs/uuid/v5"
	"github.com/samber/lo"
)

// History and recent-message limits.
const (
	HistoryLimit        = 200
	JoinHistoryLimit    = 100
	DefaultHistoryHours = 3
	RecentLimit         = 50
)

// MessageService persists chat messages and answers history queries.
type MessageService interface {
	Post(ctx context.Context, groupID uuid.UUID, sender *model.Account, content string) (*model.Message, error)
	PostSystem(ctx context.Context, groupID uuid.UUID, actor *model.Account, kind model.MessageKind, content string) (*model.Message, error)
	History(ctx context.Context, groupID uuid.UUID, window time.Duration, limit int) ([]model.Message, error)
	Recent(ctx context.Context, groupID uuid.UUID, n int) ([]model.Message, error)
}

type MessageServiceImpl struct {
	messages repository.MessageRepository
	cache    *cache.Cache
	now      func() time.Time
}

// NewMessageService constructs MessageService. c may be nil.
func NewMessageService(messages repository.MessageRepository, c *cache.Cache) *MessageServiceImpl {
	return &MessageServiceImpl{messages: messages, cache: c, now: time.Now}
}

// Post stores a TEXT message from sender.
func (s *MessageServiceImpl) Post(ctx context.Context, groupID uuid.UUID, sender *model.Account, content string) (*model.Message, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: empty message", errs.ErrInvalidInput)
	}
	return s.store(ctx, groupID, sender, model.KindText, content)
}

// PostSystem stores a JOIN, LEAVE or SYSTEM message. actor may be nil.
func (s *MessageServiceImpl) PostSystem(ctx context.Context, groupID uuid.UUID, actor *model.Account, kind model.MessageKind, content string) (*model.Message, error) {
	return s.store(ctx, groupID, actor, kind, content)
}

func (s *MessageServiceImpl) store(ctx context.Context, groupID uuid.UUID, sender *model.Account, kind model.MessageKind, content string) (*model.Message, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	m := &model.Message{
		ExternalID: id,
		GroupID:    groupID,
		Content:    content,
		Kind:       kind,
		CreatedAt:  s.now().UTC(),
	}
	if sender != nil {
		m.SenderID = lo.ToPtr(sender.ExternalID)
		m.SenderName = sender.DisplayName
	}
	if err := s.messages.Create(ctx, m); err != nil {
		return nil, err
	}
	s.cache.AppendMessage(*m)
	return m, nil
}

// History returns messages of the last window merged from store and cache, oldest first.
func (s *MessageServiceImpl) History(ctx context.Context, groupID uuid.UUID, window time.Duration, limit int) ([]model.Message, error) {
	now := s.now()
	from := now.Add(-window)

	stored, err := s.messages.ListRange(ctx, groupID, from, now, limit)
	if err != nil {
		return nil, err
	}
	cached := lo.Filter(s.cache.Messages(groupID, 0), func(m model.Message, _ int) bool {
		return !m.CreatedAt.Before(from)
	})
	return mergeHistory(stored, cached), nil
}

// Recent returns the newest n messages, oldest first.
func (s *MessageServiceImpl) Recent(ctx context.Context, groupID uuid.UUID, n int) ([]model.Message, error) {
	if n <= 0 {
		n = RecentLimit
	}
	cached := s.cache.Messages(groupID, n)
	if len(cached) >= n {
		// insertion order can trail creation order under concurrent posts
		slices.SortStableFunc(cached, byCreated)
		return cached, nil
	}
	stored, err := s.messages.ListRecent(ctx, groupID, n)
	if err != nil {
		return nil, err
	}
	merged := mergeHistory(stored, cached)
	if len(merged) > n {
		merged = merged[len(merged)-n:]
	}
	return merged, nil
}

// mergeHistory unions both lists by external id, preferring the cached copy,
// and orders the result by creation time.
func mergeHistory(stored, cached []model.Message) []model.Message {
	all := make([]model.Message, 0, len(stored)+len(cached))
	all = append(all, cached...)
	all = append(all, stored...)
	out := lo.UniqBy(all, func(m model.Message) uuid.UUID { return m.ExternalID })
	slices.SortStableFunc(out, byCreated)
	return out
}

func byCreated(a, b model.Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}
