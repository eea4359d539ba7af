// Package service хранит состояние программы лояльности в памяти процесса
// и синхронизирует изменения с хранилищем в фоне.
package service

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/barber-loyalty/internal/conversation"
	"github.com/mmeshcher/barber-loyalty/internal/gateway"
	"github.com/mmeshcher/barber-loyalty/internal/model"
	"github.com/mmeshcher/barber-loyalty/internal/seed"
)

var (
	// ErrNotFound возвращается, если сущность не найдена.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyDecided возвращается при повторном решении по заявке или приглашению.
	ErrAlreadyDecided = errors.New("already decided")
)

const (
	defaultBacklogLimit = 256
	defaultReplyTimeout = 15 * time.Second
	syncJobTimeout      = 10 * time.Second
	adminName           = "Manager"
)

// Gateway описывает шлюз хранилища, используемый сервисом.
type Gateway interface {
	Close() error

	Register(ctx context.Context, email, password, name string) (*gateway.Session, error)
	Authenticate(ctx context.Context, email, password string) (*gateway.Session, error)
	AuthenticateAdmin(email, password string) (*gateway.Session, error)
	Logout(sessionID string)
	SessionActive(sessionID string) bool

	FetchProfile(ctx context.Context, userID string) *model.User
	UpdateProfile(ctx context.Context, userID string, p model.UserPatch) error
	ListUsers(ctx context.Context) ([]model.User, error)

	ListNotifications(ctx context.Context) ([]model.Notification, error)
	AddNotification(ctx context.Context, n model.Notification) error

	ListAnnouncements(ctx context.Context) ([]model.Announcement, error)
	AddAnnouncement(ctx context.Context, a model.Announcement) error
	UpdateAnnouncement(ctx context.Context, id string, p model.EngagementPatch) error

	ListTestimonials(ctx context.Context) ([]model.Testimonial, error)
	AddTestimonial(ctx context.Context, t model.Testimonial) error
	UpdateTestimonial(ctx context.Context, id string, p model.EngagementPatch) error

	ListApprovalRequests(ctx context.Context) ([]model.ApprovalRequest, error)
	AddApprovalRequest(ctx context.Context, req model.ApprovalRequest) error
	UpdateApprovalStatus(ctx context.Context, id string, status model.RequestStatus) error

	ListReferrals(ctx context.Context) ([]model.Referral, error)
	AddReferral(ctx context.Context, ref model.Referral) error
	UpdateReferralStatus(ctx context.Context, id string, status model.ReferralStatus) error

	ListConversations(ctx context.Context) ([]model.Conversation, error)
	AddConversation(ctx context.Context, c model.Conversation) error
	UpdateConversation(ctx context.Context, userID string, p model.ConversationPatch) error
}

type syncJob struct {
	name string
	run  func(ctx context.Context) error
}

// Service содержит состояние программы лояльности. Все изменения применяются
// к памяти синхронно, а запись в хранилище выполняет фоновый обработчик в порядке изменений.
type Service struct {
	gw      Gateway
	gen     conversation.Generator
	catalog *seed.Defaults
	logger  *zap.Logger

	now          func() time.Time
	newID        func() string
	replyTimeout time.Duration

	mu            sync.Mutex
	users         map[string]model.User
	notifications []model.Notification
	announcements []model.Announcement
	testimonials  []model.Testimonial
	requests      []model.ApprovalRequest
	referrals     []model.Referral
	conversations []model.Conversation

	outbox       []syncJob
	backlogLimit int
	wake         chan struct{}
	syncClosed   bool
	closing      bool
	syncStarted  bool
	syncDone     chan struct{}
	replies      sync.WaitGroup
}

// Option настраивает Service.
type Option func(*Service)

// WithClock задаёт источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator задаёт генератор идентификаторов.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// WithReplyTimeout ограничивает время ожидания автоответа.
func WithReplyTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.replyTimeout = d
		}
	}
}

// WithBacklogLimit задаёт длину очереди синхронизации, при достижении которой
// пишется предупреждение. Очередь не ограничена и не блокирует изменения.
func WithBacklogLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.backlogLimit = n
		}
	}
}

// NewService создаёт сервис поверх шлюза хранилища. gen может быть nil:
// тогда автоответы используют заготовленные фразы.
func NewService(gw Gateway, gen conversation.Generator, catalog *seed.Defaults, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		gw:           gw,
		gen:          gen,
		catalog:      catalog,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        uuid.NewString,
		replyTimeout: defaultReplyTimeout,
		users:        make(map[string]model.User),
		backlogLimit: defaultBacklogLimit,
		wake:         make(chan struct{}, 1),
		syncDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load заполняет состояние из хранилища. Ошибки чтения приводят к пустым коллекциям.
// Если уведомлений или объявлений нет, устанавливаются данные первого запуска.
func (s *Service) Load(ctx context.Context) {
	users := loadOrEmpty(ctx, s, "users", s.gw.ListUsers)
	notifications := loadOrEmpty(ctx, s, "notifications", s.gw.ListNotifications)
	announcements := loadOrEmpty(ctx, s, "announcements", s.gw.ListAnnouncements)
	testimonials := loadOrEmpty(ctx, s, "testimonials", s.gw.ListTestimonials)
	requests := loadOrEmpty(ctx, s, "approval requests", s.gw.ListApprovalRequests)
	referrals := loadOrEmpty(ctx, s, "referrals", s.gw.ListReferrals)
	conversations := loadOrEmpty(ctx, s, "conversations", s.gw.ListConversations)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = make(map[string]model.User, len(users))
	for _, u := range users {
		s.users[u.ID] = u
	}
	s.notifications = notifications
	s.announcements = announcements
	s.testimonials = testimonials
	s.requests = requests
	s.referrals = referrals
	s.conversations = conversations

	if s.catalog != nil {
		s.seedDefaultsLocked()
	}

	s.logger.Info("state loaded",
		zap.Int("users", len(s.users)),
		zap.Int("requests", len(s.requests)),
		zap.Int("conversations", len(s.conversations)),
	)
}

// seedDefaultsLocked добавляет приветствие и объявление первого запуска в пустые коллекции.
func (s *Service) seedDefaultsLocked() {
	now := s.now()

	if len(s.notifications) == 0 {
		n := model.Notification{
			ID:        s.newID(),
			Title:     s.catalog.Welcome.Title,
			Message:   s.catalog.Welcome.Message,
			Timestamp: now,
			Kind:      model.NotificationWelcome,
			Audience:  model.AudienceAll,
		}
		s.addNotificationLocked(n)
	}

	if len(s.announcements) == 0 {
		a := model.Announcement{
			ID:          s.newID(),
			Title:       s.catalog.Announcement.Title,
			Description: s.catalog.Announcement.Description,
			Date:        s.catalog.Announcement.Date,
			Type:        s.catalog.Announcement.Type,
			LikedBy:     []string{},
			CreatedAt:   now,
		}
		s.announcements = append([]model.Announcement{a}, s.announcements...)
		s.enqueue("add announcement", func(ctx context.Context) error {
			return s.gw.AddAnnouncement(ctx, a)
		})
	}
}

func loadOrEmpty[T any](ctx context.Context, s *Service, name string, list func(context.Context) ([]T, error)) []T {
	items, err := list(ctx)
	if err != nil {
		s.logger.Warn("load failed, starting empty", zap.String("collection", name), zap.Error(err))
		return nil
	}
	return items
}

// StartSync запускает фоновую запись изменений в хранилище.
// Обработчик работает до вызова Close и дописывает очередь даже после отмены ctx.
func (s *Service) StartSync(ctx context.Context) {
	s.mu.Lock()
	if s.syncStarted {
		s.mu.Unlock()
		return
	}
	s.syncStarted = true
	s.mu.Unlock()

	go s.runSync(ctx)
}

func (s *Service) runSync(ctx context.Context) {
	defer close(s.syncDone)

	base := context.WithoutCancel(ctx)
	for {
		s.mu.Lock()
		batch := s.outbox
		s.outbox = nil
		closed := s.syncClosed
		s.mu.Unlock()

		if len(batch) == 0 {
			if closed {
				return
			}
			<-s.wake
			continue
		}

		for _, job := range batch {
			jctx, cancel := context.WithTimeout(base, syncJobTimeout)
			if err := job.run(jctx); err != nil {
				s.logger.Error("sync job failed", zap.String("job", job.name), zap.Error(err))
			}
			cancel()
		}
	}
}

// Close дожидается автоответов, дописывает очередь синхронизации и закрывает шлюз.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.mu.Unlock()

	s.replies.Wait()

	s.mu.Lock()
	s.syncClosed = true
	started := s.syncStarted
	s.syncStarted = true
	s.mu.Unlock()
	s.signalSync()

	if !started {
		go s.runSync(context.Background())
	}
	<-s.syncDone

	if s.gw != nil {
		return s.gw.Close()
	}
	return nil
}

// enqueue добавляет запись в очередь синхронизации и будит обработчик. Вызывается под s.mu
// и никогда не ждёт хранилище.
func (s *Service) enqueue(name string, run func(ctx context.Context) error) {
	if s.syncClosed {
		s.logger.Warn("sync queue closed, dropping job", zap.String("job", name))
		return
	}
	s.outbox = append(s.outbox, syncJob{name: name, run: run})
	if len(s.outbox) == s.backlogLimit {
		s.logger.Warn("sync backlog growing, store is slow or unreachable", zap.Int("pending", len(s.outbox)))
	}
	s.signalSync()
}

func (s *Service) signalSync() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// addNotificationLocked добавляет уведомление в начало ленты и ставит его на запись.
func (s *Service) addNotificationLocked(n model.Notification) {
	s.notifications = append([]model.Notification{n}, s.notifications...)
	s.enqueue("add notification", func(ctx context.Context) error {
		return s.gw.AddNotification(ctx, n)
	})
}

// Register регистрирует клиента.
func (s *Service) Register(ctx context.Context, email, password, name string) (*gateway.Session, error) {
	sess, err := s.gw.Register(ctx, email, password, name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.users[sess.User.ID] = sess.User
	s.mu.Unlock()

	return sess, nil
}

// Login выполняет вход клиента. Профиль из памяти процесса имеет приоритет над хранилищем.
func (s *Service) Login(ctx context.Context, email, password string) (*gateway.Session, error) {
	sess, err := s.gw.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[sess.User.ID]; ok {
		sess.User = u
	} else {
		s.users[sess.User.ID] = sess.User
	}
	return sess, nil
}

// AdminLogin выполняет вход администратора.
func (s *Service) AdminLogin(email, password string) (*gateway.Session, error) {
	return s.gw.AuthenticateAdmin(email, password)
}

// Logout закрывает сессию.
func (s *Service) Logout(sessionID string) {
	s.gw.Logout(sessionID)
}

// SessionActive сообщает, открыта ли сессия.
func (s *Service) SessionActive(sessionID string) bool {
	return s.gw.SessionActive(sessionID)
}

// Services возвращает каталог услуг.
func (s *Service) Services() []model.Service {
	if s.catalog == nil {
		return nil
	}
	return slices.Clone(s.catalog.Services)
}

func (s *Service) userLocked(userID string) (model.User, error) {
	u, ok := s.users[userID]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}
