package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mmeshcher/barber-loyalty/internal/model"
)

// collection хранит документы под мьютексом и сохраняет порядок вставки.
type collection[T any] struct {
	mu    sync.RWMutex
	items map[string]T
	order []string
}

func newCollection[T any]() *collection[T] {
	return &collection[T]{items: make(map[string]T)}
}

// add возвращает false, если документ с таким ключом уже есть.
func (c *collection[T]) add(id string, item T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[id]; exists {
		return false
	}
	c.items[id] = item
	c.order = append(c.order, id)
	return true
}

func (c *collection[T]) get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[id]
	return item, ok
}

func (c *collection[T]) update(id string, fn func(T) (T, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[id]
	if !ok {
		return ErrNotFound
	}
	next, err := fn(item)
	if err != nil {
		return err
	}
	c.items[id] = next
	return nil
}

func (c *collection[T]) delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[id]; !ok {
		return
	}
	delete(c.items, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// list возвращает документы в порядке вставки.
func (c *collection[T]) list() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res := make([]T, 0, len(c.order))
	for _, id := range c.order {
		res = append(res, c.items[id])
	}
	return res
}

// newestFirst возвращает документы от последнего вставленного к первому.
func (c *collection[T]) newestFirst() []T {
	res := c.list()
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	return res
}

// MemoryRepository хранит документы в памяти процесса. Используется без БД и в тестах.
type MemoryRepository struct {
	identities    *collection[model.Identity]
	users         *collection[model.User]
	notifications *collection[model.Notification]
	announcements *collection[model.Announcement]
	testimonials  *collection[model.Testimonial]
	requests      *collection[model.ApprovalRequest]
	referrals     *collection[model.Referral]
	conversations *collection[model.Conversation]
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		identities:    newCollection[model.Identity](),
		users:         newCollection[model.User](),
		notifications: newCollection[model.Notification](),
		announcements: newCollection[model.Announcement](),
		testimonials:  newCollection[model.Testimonial](),
		requests:      newCollection[model.ApprovalRequest](),
		referrals:     newCollection[model.Referral](),
		conversations: newCollection[model.Conversation](),
	}
}

// Close ничего не делает.
func (m *MemoryRepository) Close() error { return nil }

// CreateIdentity сохраняет учётные данные. Ключом служит email.
func (m *MemoryRepository) CreateIdentity(ctx context.Context, id model.Identity) error {
	id.PasswordHash = append([]byte(nil), id.PasswordHash...)
	if !m.identities.add(id.Email, id) {
		return fmt.Errorf("%w: %s", ErrUserExists, id.Email)
	}
	return nil
}

// GetIdentityByEmail возвращает учётные данные по email.
func (m *MemoryRepository) GetIdentityByEmail(ctx context.Context, email string) (*model.Identity, error) {
	id, ok := m.identities.get(email)
	if !ok {
		return nil, ErrNotFound
	}
	return &id, nil
}

// DeleteIdentity удаляет учётные данные по идентификатору.
func (m *MemoryRepository) DeleteIdentity(ctx context.Context, id string) error {
	for _, ident := range m.identities.list() {
		if ident.ID == id {
			m.identities.delete(ident.Email)
		}
	}
	return nil
}

// CreateUser создаёт профиль пользователя.
func (m *MemoryRepository) CreateUser(ctx context.Context, u model.User) error {
	if !m.users.add(u.ID, cloneUser(u)) {
		return fmt.Errorf("%w: %s", ErrUserExists, u.ID)
	}
	return nil
}

// GetUser возвращает профиль пользователя.
func (m *MemoryRepository) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, ok := m.users.get(id)
	if !ok {
		return nil, ErrNotFound
	}
	u = cloneUser(u)
	return &u, nil
}

// ListUsers возвращает пользователей в порядке регистрации.
func (m *MemoryRepository) ListUsers(ctx context.Context) ([]model.User, error) {
	users := m.users.list()
	for i := range users {
		users[i] = cloneUser(users[i])
	}
	return users, nil
}

// UpdateUser применяет частичное обновление к профилю.
func (m *MemoryRepository) UpdateUser(ctx context.Context, id string, p model.UserPatch) error {
	return m.users.update(id, func(u model.User) (model.User, error) {
		return p.Apply(u), nil
	})
}

// AddNotification сохраняет уведомление.
func (m *MemoryRepository) AddNotification(ctx context.Context, n model.Notification) error {
	m.notifications.add(n.ID, n)
	return nil
}

// ListNotifications возвращает уведомления, начиная с самых свежих.
func (m *MemoryRepository) ListNotifications(ctx context.Context) ([]model.Notification, error) {
	return m.notifications.newestFirst(), nil
}

// AddAnnouncement сохраняет объявление.
func (m *MemoryRepository) AddAnnouncement(ctx context.Context, a model.Announcement) error {
	a.LikedBy = cloneSlice(a.LikedBy)
	a.Comments = cloneSlice(a.Comments)
	m.announcements.add(a.ID, a)
	return nil
}

// ListAnnouncements возвращает объявления, начиная с самых свежих.
func (m *MemoryRepository) ListAnnouncements(ctx context.Context) ([]model.Announcement, error) {
	res := m.announcements.newestFirst()
	for i := range res {
		res[i].LikedBy = cloneSlice(res[i].LikedBy)
		res[i].Comments = cloneSlice(res[i].Comments)
	}
	return res, nil
}

// UpdateAnnouncement обновляет лайки и добавляет комментарий к объявлению.
func (m *MemoryRepository) UpdateAnnouncement(ctx context.Context, id string, p model.EngagementPatch) error {
	return m.announcements.update(id, func(a model.Announcement) (model.Announcement, error) {
		a.LikedBy, a.Comments = applyEngagement(a.LikedBy, a.Comments, p)
		return a, nil
	})
}

// AddTestimonial сохраняет отзыв.
func (m *MemoryRepository) AddTestimonial(ctx context.Context, t model.Testimonial) error {
	t.LikedBy = cloneSlice(t.LikedBy)
	t.Comments = cloneSlice(t.Comments)
	m.testimonials.add(t.ID, t)
	return nil
}

// ListTestimonials возвращает отзывы, начиная с самых свежих.
func (m *MemoryRepository) ListTestimonials(ctx context.Context) ([]model.Testimonial, error) {
	res := m.testimonials.newestFirst()
	for i := range res {
		res[i].LikedBy = cloneSlice(res[i].LikedBy)
		res[i].Comments = cloneSlice(res[i].Comments)
	}
	return res, nil
}

// UpdateTestimonial обновляет лайки и добавляет комментарий к отзыву.
func (m *MemoryRepository) UpdateTestimonial(ctx context.Context, id string, p model.EngagementPatch) error {
	return m.testimonials.update(id, func(t model.Testimonial) (model.Testimonial, error) {
		t.LikedBy, t.Comments = applyEngagement(t.LikedBy, t.Comments, p)
		return t, nil
	})
}

// AddApprovalRequest сохраняет заявку.
func (m *MemoryRepository) AddApprovalRequest(ctx context.Context, req model.ApprovalRequest) error {
	m.requests.add(req.ID, req)
	return nil
}

// ListApprovalRequests возвращает заявки, начиная с самых свежих.
func (m *MemoryRepository) ListApprovalRequests(ctx context.Context) ([]model.ApprovalRequest, error) {
	return m.requests.newestFirst(), nil
}

// UpdateApprovalStatus переводит заявку из pending в итоговый статус.
func (m *MemoryRepository) UpdateApprovalStatus(ctx context.Context, id string, status model.RequestStatus) error {
	return m.requests.update(id, func(req model.ApprovalRequest) (model.ApprovalRequest, error) {
		if req.Status == status {
			return req, nil
		}
		if req.Status != model.RequestStatusPending {
			return req, fmt.Errorf("%w: %s is %s", ErrStatusTransition, id, req.Status)
		}
		req.Status = status
		return req, nil
	})
}

// AddReferral сохраняет приглашение.
func (m *MemoryRepository) AddReferral(ctx context.Context, ref model.Referral) error {
	m.referrals.add(ref.ID, ref)
	return nil
}

// ListReferrals возвращает приглашения, начиная с самых свежих.
func (m *MemoryRepository) ListReferrals(ctx context.Context) ([]model.Referral, error) {
	return m.referrals.newestFirst(), nil
}

// UpdateReferralStatus переводит приглашение из pending в итоговый статус.
func (m *MemoryRepository) UpdateReferralStatus(ctx context.Context, id string, status model.ReferralStatus) error {
	return m.referrals.update(id, func(ref model.Referral) (model.Referral, error) {
		if ref.Status == status {
			return ref, nil
		}
		if ref.Status != model.ReferralStatusPending {
			return ref, fmt.Errorf("%w: %s is %s", ErrStatusTransition, id, ref.Status)
		}
		ref.Status = status
		return ref, nil
	})
}

// AddConversation создаёт переписку. Повторное создание игнорируется.
func (m *MemoryRepository) AddConversation(ctx context.Context, c model.Conversation) error {
	c.Messages = cloneSlice(c.Messages)
	m.conversations.add(c.UserID, c)
	return nil
}

// UpdateConversation обновляет заголовок переписки и дописывает новые сообщения.
func (m *MemoryRepository) UpdateConversation(ctx context.Context, userID string, p model.ConversationPatch) error {
	return m.conversations.update(userID, func(c model.Conversation) (model.Conversation, error) {
		c.LastMessage = p.LastMessage
		c.Timestamp = p.Timestamp
		c.UnreadCount = p.UnreadCount

		seen := make(map[string]struct{}, len(c.Messages))
		for _, msg := range c.Messages {
			seen[msg.ID] = struct{}{}
		}
		msgs := cloneSlice(c.Messages)
		for _, msg := range p.Appended {
			if _, dup := seen[msg.ID]; !dup {
				msgs = append(msgs, msg)
			}
		}
		c.Messages = msgs
		return c, nil
	})
}

// ListConversations возвращает переписки, начиная с последней активной.
func (m *MemoryRepository) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	res := m.conversations.list()
	for i := range res {
		res[i].Messages = cloneSlice(res[i].Messages)
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].Timestamp.After(res[j].Timestamp)
	})
	return res, nil
}

func applyEngagement(likedBy []string, comments []model.Comment, p model.EngagementPatch) ([]string, []model.Comment) {
	if p.LikedBy != nil {
		likedBy = cloneSlice(p.LikedBy)
	}
	if p.NewComment != nil {
		for _, c := range comments {
			if c.ID == p.NewComment.ID {
				return likedBy, comments
			}
		}
		next := cloneSlice(comments)
		comments = append(next, *p.NewComment)
	}
	return likedBy, comments
}

func cloneUser(u model.User) model.User {
	if u.VIPExpiry != nil {
		t := *u.VIPExpiry
		u.VIPExpiry = &t
	}
	return u
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}
