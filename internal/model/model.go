// Package model содержит доменные сущности программы лояльности барбершопа.
package model

import "time"

// User представляет клиента и его счётчики программы лояльности.
type User struct {
	ID             string     `json:"id" validate:"required"`
	Name           string     `json:"name" validate:"required,max=100"`
	Email          string     `json:"email" validate:"required,email"`
	TotalSpent     int64      `json:"totalSpent" validate:"gte=0"`
	LifetimeSpent  int64      `json:"lifetimeSpent" validate:"gte=0"`
	ReferralCount  int        `json:"referralCount" validate:"gte=0"`
	IsVIP          bool       `json:"isVip"`
	VIPExpiry      *time.Time `json:"vipExpiry,omitempty"`
	ProfilePicture string     `json:"profilePicture,omitempty"`
}

// NewUser создаёт профиль с нулевыми счётчиками.
func NewUser(id, name, email string) User {
	return User{
		ID:    id,
		Name:  name,
		Email: email,
	}
}

// VIPActive сообщает, действует ли VIP-доступ на момент now.
func (u User) VIPActive(now time.Time) bool {
	return u.IsVIP && u.VIPExpiry != nil && !u.VIPExpiry.Before(now)
}

// UserPatch описывает частичное обновление профиля. Nil-поля не изменяются.
type UserPatch struct {
	Name           *string
	TotalSpent     *int64
	LifetimeSpent  *int64
	ReferralCount  *int
	IsVIP          *bool
	VIPExpiry      *time.Time
	ProfilePicture *string
}

// Apply возвращает копию пользователя с применёнными полями патча.
func (p UserPatch) Apply(u User) User {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.TotalSpent != nil {
		u.TotalSpent = *p.TotalSpent
	}
	if p.LifetimeSpent != nil {
		u.LifetimeSpent = *p.LifetimeSpent
	}
	if p.ReferralCount != nil {
		u.ReferralCount = *p.ReferralCount
	}
	if p.IsVIP != nil {
		u.IsVIP = *p.IsVIP
	}
	if p.VIPExpiry != nil {
		t := *p.VIPExpiry
		u.VIPExpiry = &t
	}
	if p.ProfilePicture != nil {
		u.ProfilePicture = *p.ProfilePicture
	}
	return u
}

// LedgerPatch возвращает патч со всеми счётчиками лояльности пользователя.
func LedgerPatch(u User) UserPatch {
	p := UserPatch{
		TotalSpent:    &u.TotalSpent,
		LifetimeSpent: &u.LifetimeSpent,
		ReferralCount: &u.ReferralCount,
		IsVIP:         &u.IsVIP,
	}
	if u.VIPExpiry != nil {
		t := *u.VIPExpiry
		p.VIPExpiry = &t
	}
	return p
}

// Identity хранит учётные данные пользователя.
type Identity struct {
	ID           string
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// RequestType описывает вид заявки на подтверждение.
type RequestType string

const (
	RequestTypeSpending RequestType = "spending"
	RequestTypeVIP      RequestType = "vip"
)

// RequestStatus описывает состояние заявки.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusRejected RequestStatus = "rejected"
)

// ApprovalRequest описывает заявку клиента об оплате или VIP-подписке, ожидающую решения менеджера.
type ApprovalRequest struct {
	ID             string        `json:"id" validate:"required"`
	UserID         string        `json:"userId" validate:"required"`
	UserName       string        `json:"userName"`
	Amount         int64         `json:"amount" validate:"gt=0,lte=10000000"`
	Type           RequestType   `json:"type" validate:"oneof=spending vip"`
	ServiceName    string        `json:"serviceName,omitempty"`
	Comment        string        `json:"comment,omitempty" validate:"max=500"`
	ProofOfPayment string        `json:"proofOfPayment,omitempty"`
	ProofImage     string        `json:"proofImage,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
	Status         RequestStatus `json:"status" validate:"oneof=pending approved rejected"`
}

// ReferralStatus описывает состояние приглашения.
type ReferralStatus string

const (
	ReferralStatusPending   ReferralStatus = "pending"
	ReferralStatusCompleted ReferralStatus = "completed"
	ReferralStatusRejected  ReferralStatus = "rejected"
)

// Referral описывает заявленное приглашение друга.
type Referral struct {
	ID           string         `json:"id" validate:"required"`
	ReferrerID   string         `json:"referrerId" validate:"required"`
	ReferredName string         `json:"referredName" validate:"required,max=100"`
	Status       ReferralStatus `json:"status" validate:"oneof=pending completed rejected"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// NotificationKind описывает источник уведомления.
type NotificationKind string

const (
	NotificationBonus     NotificationKind = "bonus"
	NotificationVIP       NotificationKind = "vip"
	NotificationReferral  NotificationKind = "referral"
	NotificationBroadcast NotificationKind = "broadcast"
	NotificationMessage   NotificationKind = "message"
	NotificationWelcome   NotificationKind = "welcome"
)

// Адресаты уведомлений, кроме конкретного пользователя.
const (
	AudienceAll   = "all"
	AudienceAdmin = "admin"
)

// Notification описывает неизменяемое системное сообщение.
type Notification struct {
	ID        string           `json:"id" validate:"required"`
	Title     string           `json:"title" validate:"required,max=200"`
	Message   string           `json:"message" validate:"required"`
	Timestamp time.Time        `json:"timestamp"`
	Kind      NotificationKind `json:"kind"`
	Amount    int64            `json:"amount,omitempty"`
	Audience  string           `json:"audience" validate:"required"`
}

// VisibleTo сообщает, должен ли пользователь userID видеть уведомление.
func (n Notification) VisibleTo(userID string) bool {
	return n.Audience == AudienceAll || n.Audience == userID
}

// Comment описывает комментарий к отзыву или объявлению.
type Comment struct {
	ID        string    `json:"id" validate:"required"`
	UserID    string    `json:"userId" validate:"required"`
	UserName  string    `json:"userName"`
	UserImage string    `json:"userImage,omitempty"`
	Text      string    `json:"text" validate:"required,max=1000"`
	Timestamp time.Time `json:"timestamp"`
}

// AnnouncementType описывает вид объявления.
type AnnouncementType string

const (
	AnnouncementEvent AnnouncementType = "event"
	AnnouncementDeal  AnnouncementType = "deal"
	AnnouncementNews  AnnouncementType = "news"
)

// Announcement описывает публикацию барбершопа для всех клиентов.
type Announcement struct {
	ID          string           `json:"id" validate:"required"`
	Title       string           `json:"title" validate:"required,max=200"`
	Description string           `json:"description"`
	Date        string           `json:"date"`
	Type        AnnouncementType `json:"type" validate:"oneof=event deal news"`
	LikedBy     []string         `json:"likedBy"`
	Comments    []Comment        `json:"comments" validate:"dive"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// Likes возвращает число лайков.
func (a Announcement) Likes() int { return len(a.LikedBy) }

// Testimonial описывает отзыв клиента.
type Testimonial struct {
	ID        string    `json:"id" validate:"required"`
	UserID    string    `json:"userId" validate:"required"`
	UserName  string    `json:"userName"`
	UserImage string    `json:"userImage,omitempty"`
	Content   string    `json:"content" validate:"required,max=2000"`
	Rating    int       `json:"rating" validate:"min=1,max=5"`
	Date      time.Time `json:"date"`
	Image     string    `json:"image,omitempty"`
	LikedBy   []string  `json:"likedBy"`
	Comments  []Comment `json:"comments" validate:"dive"`
}

// Likes возвращает число лайков.
func (t Testimonial) Likes() int { return len(t.LikedBy) }

// EngagementPatch описывает изменение лайков и комментариев публикации.
type EngagementPatch struct {
	LikedBy    []string
	NewComment *Comment
}

// Отправители сообщений, не являющиеся клиентами.
const (
	SenderAdmin     = "admin"
	SenderConcierge = "concierge"
)

// ChatMessage описывает сообщение переписки.
type ChatMessage struct {
	ID         string    `json:"id" validate:"required"`
	SenderID   string    `json:"senderId" validate:"required"`
	SenderName string    `json:"senderName"`
	Text       string    `json:"text" validate:"required,max=2000"`
	Timestamp  time.Time `json:"timestamp"`
	IsAI       bool      `json:"isAi,omitempty"`
}

// Conversation описывает переписку клиента с менеджером, одну на пользователя.
type Conversation struct {
	UserID      string        `json:"userId" validate:"required"`
	UserName    string        `json:"userName"`
	LastMessage string        `json:"lastMessage"`
	Timestamp   time.Time     `json:"timestamp"`
	UnreadCount int           `json:"unreadCount" validate:"gte=0"`
	Messages    []ChatMessage `json:"messages" validate:"dive"`
}

// ConversationPatch описывает изменение заголовка переписки и новые сообщения.
type ConversationPatch struct {
	LastMessage string
	Timestamp   time.Time
	UnreadCount int
	Appended    []ChatMessage
}

// Service описывает позицию каталога услуг.
type Service struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Price int64  `json:"price" yaml:"price"`
}
