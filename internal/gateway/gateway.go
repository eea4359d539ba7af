// Package gateway реализует доступ к учётным данным и документному хранилищу
// с повторными попытками чтения и реестром сессий.
package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/barber-loyalty/internal/model"
	"github.com/mmeshcher/barber-loyalty/internal/repository"
	"github.com/mmeshcher/barber-loyalty/internal/validation"
)

// ErrInvalidCredentials возвращается при неверной паре email/пароль.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Роли сессий.
const (
	RoleClient = "client"
	RoleAdmin  = "admin"
)

const (
	defaultRetryBase = 500 * time.Millisecond
	readRetries      = 2
	defaultAdminName = "Manager"
)

// Store описывает документное хранилище, с которым работает шлюз.
type Store interface {
	Close() error

	CreateIdentity(ctx context.Context, id model.Identity) error
	GetIdentityByEmail(ctx context.Context, email string) (*model.Identity, error)
	DeleteIdentity(ctx context.Context, id string) error

	CreateUser(ctx context.Context, u model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateUser(ctx context.Context, id string, p model.UserPatch) error

	AddNotification(ctx context.Context, n model.Notification) error
	ListNotifications(ctx context.Context) ([]model.Notification, error)

	AddAnnouncement(ctx context.Context, a model.Announcement) error
	ListAnnouncements(ctx context.Context) ([]model.Announcement, error)
	UpdateAnnouncement(ctx context.Context, id string, p model.EngagementPatch) error

	AddTestimonial(ctx context.Context, t model.Testimonial) error
	ListTestimonials(ctx context.Context) ([]model.Testimonial, error)
	UpdateTestimonial(ctx context.Context, id string, p model.EngagementPatch) error

	AddApprovalRequest(ctx context.Context, req model.ApprovalRequest) error
	ListApprovalRequests(ctx context.Context) ([]model.ApprovalRequest, error)
	UpdateApprovalStatus(ctx context.Context, id string, status model.RequestStatus) error

	AddReferral(ctx context.Context, ref model.Referral) error
	ListReferrals(ctx context.Context) ([]model.Referral, error)
	UpdateReferralStatus(ctx context.Context, id string, status model.ReferralStatus) error

	AddConversation(ctx context.Context, c model.Conversation) error
	UpdateConversation(ctx context.Context, userID string, p model.ConversationPatch) error
	ListConversations(ctx context.Context) ([]model.Conversation, error)
}

// Session описывает открытую сессию пользователя или администратора.
type Session struct {
	ID   string
	Role string
	User model.User
}

// Gateway предоставляет единую точку доступа к учётным данным и документам.
type Gateway struct {
	store     Store
	logger    *zap.Logger
	sessions  *sessionRegistry
	retryBase time.Duration

	adminEmail    string
	adminPassword string
}

// Option настраивает Gateway.
type Option func(*Gateway)

// WithAdmin задаёт учётные данные администратора. Без них вход администратора невозможен.
func WithAdmin(email, password string) Option {
	return func(g *Gateway) {
		g.adminEmail = validation.NormalizeEmail(email)
		g.adminPassword = password
	}
}

// WithRetryBase задаёт начальную задержку повторного чтения.
func WithRetryBase(d time.Duration) Option {
	return func(g *Gateway) {
		g.retryBase = d
	}
}

// WithSessionTTL задаёт срок жизни сессии.
func WithSessionTTL(ttl time.Duration) Option {
	return func(g *Gateway) {
		g.sessions.ttl = ttl
	}
}

// New создаёт шлюз поверх хранилища.
func New(store Store, logger *zap.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		store:     store,
		logger:    logger,
		sessions:  newSessionRegistry(defaultSessionTTL),
		retryBase: defaultRetryBase,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Close закрывает хранилище.
func (g *Gateway) Close() error {
	return g.store.Close()
}

// Register создаёт учётную запись и профиль с нулевыми счётчиками.
func (g *Gateway) Register(ctx context.Context, email, password, name string) (*Session, error) {
	email = validation.NormalizeEmail(email)
	if !validation.IsValidEmail(email) || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", validation.ErrInvalid)
	}

	id := uuid.NewString()
	name = strings.TrimSpace(name)
	if name == "" {
		name = nameFromEmail(email)
	}
	user := model.NewUser(id, name, email)
	if err := validation.Struct(user); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	if err := g.store.CreateIdentity(ctx, model.Identity{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	if err := g.store.CreateUser(ctx, user); err != nil {
		if derr := g.store.DeleteIdentity(context.WithoutCancel(ctx), id); derr != nil {
			g.logger.Error("failed to roll back identity", zap.String("user_id", id), zap.Error(derr))
		}
		return nil, fmt.Errorf("create profile: %w", err)
	}

	return g.openSession(RoleClient, user), nil
}

// Authenticate проверяет учётные данные и открывает сессию клиента.
// Если профиль недоступен, используется минимальный профиль с нулевыми счётчиками.
func (g *Gateway) Authenticate(ctx context.Context, email, password string) (*Session, error) {
	email = validation.NormalizeEmail(email)

	var ident *model.Identity
	err := g.read(ctx, "get identity", func(ctx context.Context) error {
		var err error
		ident, err = g.store.GetIdentityByEmail(ctx, email)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if bcrypt.CompareHashAndPassword(ident.PasswordHash, []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	user := g.FetchProfile(ctx, ident.ID)
	if user == nil {
		g.logger.Warn("profile unavailable, using minimal profile", zap.String("user_id", ident.ID))
		u := model.NewUser(ident.ID, nameFromEmail(email), email)
		user = &u
	}

	return g.openSession(RoleClient, *user), nil
}

// AuthenticateAdmin проверяет учётные данные администратора.
func (g *Gateway) AuthenticateAdmin(email, password string) (*Session, error) {
	if g.adminEmail == "" || g.adminPassword == "" {
		return nil, ErrInvalidCredentials
	}

	emailOK := subtle.ConstantTimeCompare([]byte(validation.NormalizeEmail(email)), []byte(g.adminEmail)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(g.adminPassword)) == 1
	if !emailOK || !passOK {
		return nil, ErrInvalidCredentials
	}

	admin := model.NewUser(model.SenderAdmin, defaultAdminName, g.adminEmail)
	return g.openSession(RoleAdmin, admin), nil
}

// Logout закрывает сессию. Повторный вызов не считается ошибкой.
func (g *Gateway) Logout(sessionID string) {
	g.sessions.close(sessionID)
}

// SessionActive сообщает, открыта ли сессия.
func (g *Gateway) SessionActive(sessionID string) bool {
	return g.sessions.active(sessionID)
}

func (g *Gateway) openSession(role string, u model.User) *Session {
	return &Session{
		ID:   g.sessions.open(u.ID, role),
		Role: role,
		User: u,
	}
}

// FetchProfile возвращает профиль или nil, если он не найден или хранилище недоступно.
func (g *Gateway) FetchProfile(ctx context.Context, userID string) *model.User {
	var u *model.User
	err := g.read(ctx, "get user", func(ctx context.Context) error {
		var err error
		u, err = g.store.GetUser(ctx, userID)
		return err
	})
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			g.logger.Warn("fetch profile failed", zap.String("user_id", userID), zap.Error(err))
		}
		return nil
	}
	return u
}

// UpdateProfile применяет частичное обновление профиля.
func (g *Gateway) UpdateProfile(ctx context.Context, userID string, p model.UserPatch) error {
	if err := g.store.UpdateUser(ctx, userID, p); err != nil {
		return fmt.Errorf("update profile %s: %w", userID, err)
	}
	return nil
}

// ListUsers возвращает все профили.
func (g *Gateway) ListUsers(ctx context.Context) ([]model.User, error) {
	return listValid(ctx, g, "users", g.store.ListUsers)
}

// ListNotifications возвращает уведомления, начиная с самых свежих.
func (g *Gateway) ListNotifications(ctx context.Context) ([]model.Notification, error) {
	return listValid(ctx, g, "notifications", g.store.ListNotifications)
}

// AddNotification сохраняет уведомление.
func (g *Gateway) AddNotification(ctx context.Context, n model.Notification) error {
	return wrap("add notification", g.store.AddNotification(ctx, n))
}

// ListAnnouncements возвращает объявления, начиная с самых свежих.
func (g *Gateway) ListAnnouncements(ctx context.Context) ([]model.Announcement, error) {
	return listValid(ctx, g, "announcements", g.store.ListAnnouncements)
}

// AddAnnouncement сохраняет объявление.
func (g *Gateway) AddAnnouncement(ctx context.Context, a model.Announcement) error {
	return wrap("add announcement", g.store.AddAnnouncement(ctx, a))
}

// UpdateAnnouncement обновляет лайки и комментарии объявления.
func (g *Gateway) UpdateAnnouncement(ctx context.Context, id string, p model.EngagementPatch) error {
	return wrap("update announcement", g.store.UpdateAnnouncement(ctx, id, p))
}

// ListTestimonials возвращает отзывы, начиная с самых свежих.
func (g *Gateway) ListTestimonials(ctx context.Context) ([]model.Testimonial, error) {
	return listValid(ctx, g, "testimonials", g.store.ListTestimonials)
}

// AddTestimonial сохраняет отзыв.
func (g *Gateway) AddTestimonial(ctx context.Context, t model.Testimonial) error {
	return wrap("add testimonial", g.store.AddTestimonial(ctx, t))
}

// UpdateTestimonial обновляет лайки и комментарии отзыва.
func (g *Gateway) UpdateTestimonial(ctx context.Context, id string, p model.EngagementPatch) error {
	return wrap("update testimonial", g.store.UpdateTestimonial(ctx, id, p))
}

// ListApprovalRequests возвращает заявки, начиная с самых свежих.
func (g *Gateway) ListApprovalRequests(ctx context.Context) ([]model.ApprovalRequest, error) {
	return listValid(ctx, g, "approval requests", g.store.ListApprovalRequests)
}

// AddApprovalRequest сохраняет заявку.
func (g *Gateway) AddApprovalRequest(ctx context.Context, req model.ApprovalRequest) error {
	return wrap("add approval request", g.store.AddApprovalRequest(ctx, req))
}

// UpdateApprovalStatus сохраняет решение по заявке.
func (g *Gateway) UpdateApprovalStatus(ctx context.Context, id string, status model.RequestStatus) error {
	return wrap("update approval status", g.store.UpdateApprovalStatus(ctx, id, status))
}

// ListReferrals возвращает приглашения, начиная с самых свежих.
func (g *Gateway) ListReferrals(ctx context.Context) ([]model.Referral, error) {
	return listValid(ctx, g, "referrals", g.store.ListReferrals)
}

// AddReferral сохраняет приглашение.
func (g *Gateway) AddReferral(ctx context.Context, ref model.Referral) error {
	return wrap("add referral", g.store.AddReferral(ctx, ref))
}

// UpdateReferralStatus сохраняет решение по приглашению.
func (g *Gateway) UpdateReferralStatus(ctx context.Context, id string, status model.ReferralStatus) error {
	return wrap("update referral status", g.store.UpdateReferralStatus(ctx, id, status))
}

// ListConversations возвращает переписки, начиная с последней активной.
func (g *Gateway) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	return listValid(ctx, g, "conversations", g.store.ListConversations)
}

// AddConversation создаёт переписку.
func (g *Gateway) AddConversation(ctx context.Context, c model.Conversation) error {
	return wrap("add conversation", g.store.AddConversation(ctx, c))
}

// UpdateConversation сохраняет изменения переписки.
func (g *Gateway) UpdateConversation(ctx context.Context, userID string, p model.ConversationPatch) error {
	return wrap("update conversation", g.store.UpdateConversation(ctx, userID, p))
}

// read повторяет операцию чтения только при временной недоступности хранилища.
func (g *Gateway) read(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(readRetries, retry.NewExponential(g.retryBase))

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err != nil && repository.IsTransient(err) {
			g.logger.Warn("store read failed, retrying",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return retry.RetryableError(err)
		}
		return err
	})
}

// listValid читает коллекцию и отбрасывает документы, не прошедшие проверку схемы.
func listValid[T any](ctx context.Context, g *Gateway, name string, list func(context.Context) ([]T, error)) ([]T, error) {
	var items []T
	err := g.read(ctx, "list "+name, func(ctx context.Context) error {
		var err error
		items, err = list(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", name, err)
	}

	valid := items[:0]
	for _, it := range items {
		if err := validation.Struct(it); err != nil {
			g.logger.Warn("dropping invalid document", zap.String("collection", name), zap.Error(err))
			continue
		}
		valid = append(valid, it)
	}
	return valid, nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	if local == "" {
		return email
	}
	return local
}
