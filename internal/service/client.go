package service

import (
	"context"
	"fmt"
	"math/rand"
	"slices"
	"strings"

	"github.com/mmeshcher/barber-loyalty/internal/model"
	"github.com/mmeshcher/barber-loyalty/internal/reward"
	"github.com/mmeshcher/barber-loyalty/internal/validation"
)

// Dashboard содержит сводку клиента.
type Dashboard struct {
	User             model.User `json:"user"`
	Progress         float64    `json:"progress"`
	RemainingToBonus int64      `json:"remainingToBonus"`
	VIPActive        bool       `json:"vipActive"`
	VIPExpired       bool       `json:"vipExpired"`
	PendingRequests  int        `json:"pendingRequests"`
	PendingReferrals int        `json:"pendingReferrals"`
}

// PaymentClaim описывает заявленную клиентом оплату.
// Если указан ServiceID, сумма берётся из каталога.
type PaymentClaim struct {
	Amount      int64
	ServiceID   string
	ServiceName string
	RoomService bool
	Comment     string
	ProofImage  string
}

// ProfileUpdate описывает изменения профиля, доступные клиенту.
type ProfileUpdate struct {
	Name           *string
	ProfilePicture *string
}

// Profile возвращает профиль клиента.
func (s *Service) Profile(userID string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userLocked(userID)
}

// Dashboard возвращает прогресс цикла и состояние VIP-доступа клиента.
func (s *Service) Dashboard(userID string) (Dashboard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.userLocked(userID)
	if err != nil {
		return Dashboard{}, err
	}

	now := s.now()
	d := Dashboard{
		User:             u,
		Progress:         reward.Progress(u),
		RemainingToBonus: reward.SpendingThreshold - u.TotalSpent,
		VIPActive:        u.VIPActive(now),
		VIPExpired:       u.IsVIP && u.VIPExpiry != nil && u.VIPExpiry.Before(now),
	}
	for _, r := range s.requests {
		if r.UserID == userID && r.Status == model.RequestStatusPending {
			d.PendingRequests++
		}
	}
	for _, r := range s.referrals {
		if r.ReferrerID == userID && r.Status == model.ReferralStatusPending {
			d.PendingReferrals++
		}
	}
	return d, nil
}

// UpdateProfile меняет имя и фотографию клиента. Счётчики лояльности не затрагиваются.
func (s *Service) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (model.User, error) {
	var patch model.UserPatch
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" || len([]rune(name)) > 100 {
			return model.User{}, fmt.Errorf("%w: name must be 1-100 characters", validation.ErrInvalid)
		}
		patch.Name = &name
	}
	if upd.ProfilePicture != nil {
		pic := *upd.ProfilePicture
		patch.ProfilePicture = &pic
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.userLocked(userID)
	if err != nil {
		return model.User{}, err
	}
	u = patch.Apply(u)
	s.users[userID] = u

	s.enqueue("update profile", func(ctx context.Context) error {
		return s.gw.UpdateProfile(ctx, userID, patch)
	})
	return u, nil
}

// Notifications возвращает ленту уведомлений, видимых клиенту.
func (s *Service) Notifications(userID string) []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]model.Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		if n.VisibleTo(userID) {
			res = append(res, n)
		}
	}
	return res
}

// Announcements возвращает объявления, начиная с самых свежих.
func (s *Service) Announcements() []model.Announcement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.announcements)
}

// Testimonials возвращает отзывы, начиная с самых свежих.
func (s *Service) Testimonials() []model.Testimonial {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.testimonials)
}

// ReportPayment создаёт заявку на подтверждение оплаты.
func (s *Service) ReportPayment(ctx context.Context, userID string, claim PaymentClaim) (model.ApprovalRequest, error) {
	amount := claim.Amount
	serviceName := strings.TrimSpace(claim.ServiceName)

	if claim.ServiceID != "" {
		if s.catalog == nil {
			return model.ApprovalRequest{}, fmt.Errorf("%w: service catalog unavailable", validation.ErrInvalid)
		}
		svc, ok := s.catalog.Service(claim.ServiceID)
		if !ok {
			return model.ApprovalRequest{}, fmt.Errorf("%w: unknown service %q", validation.ErrInvalid, claim.ServiceID)
		}
		amount = svc.Price
		serviceName = svc.Name
	}
	if amount > reward.MaxClaimAmount {
		return model.ApprovalRequest{}, fmt.Errorf("%w: amount exceeds %d", validation.ErrInvalid, reward.MaxClaimAmount)
	}
	if claim.RoomService {
		amount += reward.RoomServiceFee
		if serviceName == "" {
			serviceName = "Session"
		}
		serviceName += " (with Room Service)"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.userLocked(userID)
	if err != nil {
		return model.ApprovalRequest{}, err
	}

	req := model.ApprovalRequest{
		ID:             s.newID(),
		UserID:         u.ID,
		UserName:       u.Name,
		Amount:         amount,
		Type:           model.RequestTypeSpending,
		ServiceName:    serviceName,
		Comment:        strings.TrimSpace(claim.Comment),
		ProofOfPayment: fmt.Sprintf("REF-%d", rand.Intn(1000000)),
		ProofImage:     claim.ProofImage,
		Timestamp:      s.now(),
		Status:         model.RequestStatusPending,
	}
	if err := validation.Struct(req); err != nil {
		return model.ApprovalRequest{}, err
	}

	s.addRequestLocked(req)
	return req, nil
}

// RequestVIP создаёт заявку на VIP-подписку. Сумма всегда равна взносу подписки.
func (s *Service) RequestVIP(ctx context.Context, userID, proofRef, proofImage string) (model.ApprovalRequest, error) {
	proofRef = strings.TrimSpace(proofRef)
	if proofRef == "" {
		proofRef = fmt.Sprintf("VIP-TRF-%d", rand.Intn(999999))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.userLocked(userID)
	if err != nil {
		return model.ApprovalRequest{}, err
	}

	req := model.ApprovalRequest{
		ID:             s.newID(),
		UserID:         u.ID,
		UserName:       u.Name,
		Amount:         reward.VIPSubscriptionFee,
		Type:           model.RequestTypeVIP,
		ProofOfPayment: proofRef,
		ProofImage:     proofImage,
		Timestamp:      s.now(),
		Status:         model.RequestStatusPending,
	}

	s.addRequestLocked(req)
	return req, nil
}

func (s *Service) addRequestLocked(req model.ApprovalRequest) {
	s.requests = append([]model.ApprovalRequest{req}, s.requests...)
	s.enqueue("add approval request", func(ctx context.Context) error {
		return s.gw.AddApprovalRequest(ctx, req)
	})
}

// AddReferral регистрирует приглашение друга.
func (s *Service) AddReferral(ctx context.Context, userID, referredName string) (model.Referral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.userLocked(userID); err != nil {
		return model.Referral{}, err
	}

	ref := model.Referral{
		ID:           s.newID(),
		ReferrerID:   userID,
		ReferredName: strings.TrimSpace(referredName),
		Status:       model.ReferralStatusPending,
		CreatedAt:    s.now(),
	}
	if err := validation.Struct(ref); err != nil {
		return model.Referral{}, err
	}

	s.referrals = append([]model.Referral{ref}, s.referrals...)
	s.enqueue("add referral", func(ctx context.Context) error {
		return s.gw.AddReferral(ctx, ref)
	})
	return ref, nil
}

// SubmitTestimonial публикует отзыв клиента.
func (s *Service) SubmitTestimonial(ctx context.Context, userID, content string, rating int, image string) (model.Testimonial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.userLocked(userID)
	if err != nil {
		return model.Testimonial{}, err
	}

	t := model.Testimonial{
		ID:        s.newID(),
		UserID:    u.ID,
		UserName:  u.Name,
		UserImage: u.ProfilePicture,
		Content:   strings.TrimSpace(content),
		Rating:    rating,
		Date:      s.now(),
		Image:     image,
		LikedBy:   []string{},
		Comments:  []model.Comment{},
	}
	if err := validation.Struct(t); err != nil {
		return model.Testimonial{}, err
	}

	s.testimonials = append([]model.Testimonial{t}, s.testimonials...)
	s.enqueue("add testimonial", func(ctx context.Context) error {
		return s.gw.AddTestimonial(ctx, t)
	})
	return t, nil
}

// ToggleTestimonialLike ставит или снимает лайк пользователя.
func (s *Service) ToggleTestimonialLike(ctx context.Context, userID, id string) (model.Testimonial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.testimonials, func(t model.Testimonial) bool { return t.ID == id })
	if i < 0 {
		return model.Testimonial{}, ErrNotFound
	}

	t := s.testimonials[i]
	t.LikedBy = toggle(t.LikedBy, userID)
	s.testimonials[i] = t

	likedBy := t.LikedBy
	s.enqueue("update testimonial likes", func(ctx context.Context) error {
		return s.gw.UpdateTestimonial(ctx, id, model.EngagementPatch{LikedBy: likedBy})
	})
	return t, nil
}

// CommentTestimonial добавляет комментарий к отзыву.
func (s *Service) CommentTestimonial(ctx context.Context, userID, id, text string) (model.Testimonial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.testimonials, func(t model.Testimonial) bool { return t.ID == id })
	if i < 0 {
		return model.Testimonial{}, ErrNotFound
	}
	c, err := s.newCommentLocked(userID, text)
	if err != nil {
		return model.Testimonial{}, err
	}

	t := s.testimonials[i]
	t.Comments = append(slices.Clone(t.Comments), c)
	s.testimonials[i] = t

	s.enqueue("add testimonial comment", func(ctx context.Context) error {
		return s.gw.UpdateTestimonial(ctx, id, model.EngagementPatch{NewComment: &c})
	})
	return t, nil
}

// ToggleAnnouncementLike ставит или снимает лайк пользователя.
func (s *Service) ToggleAnnouncementLike(ctx context.Context, userID, id string) (model.Announcement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.announcements, func(a model.Announcement) bool { return a.ID == id })
	if i < 0 {
		return model.Announcement{}, ErrNotFound
	}

	a := s.announcements[i]
	a.LikedBy = toggle(a.LikedBy, userID)
	s.announcements[i] = a

	likedBy := a.LikedBy
	s.enqueue("update announcement likes", func(ctx context.Context) error {
		return s.gw.UpdateAnnouncement(ctx, id, model.EngagementPatch{LikedBy: likedBy})
	})
	return a, nil
}

// CommentAnnouncement добавляет комментарий к объявлению.
func (s *Service) CommentAnnouncement(ctx context.Context, userID, id, text string) (model.Announcement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.announcements, func(a model.Announcement) bool { return a.ID == id })
	if i < 0 {
		return model.Announcement{}, ErrNotFound
	}
	c, err := s.newCommentLocked(userID, text)
	if err != nil {
		return model.Announcement{}, err
	}

	a := s.announcements[i]
	a.Comments = append(slices.Clone(a.Comments), c)
	s.announcements[i] = a

	s.enqueue("add announcement comment", func(ctx context.Context) error {
		return s.gw.UpdateAnnouncement(ctx, id, model.EngagementPatch{NewComment: &c})
	})
	return a, nil
}

func (s *Service) newCommentLocked(userID, text string) (model.Comment, error) {
	u, err := s.userLocked(userID)
	if err != nil {
		return model.Comment{}, err
	}

	c := model.Comment{
		ID:        s.newID(),
		UserID:    u.ID,
		UserName:  u.Name,
		UserImage: u.ProfilePicture,
		Text:      strings.TrimSpace(text),
		Timestamp: s.now(),
	}
	if err := validation.Struct(c); err != nil {
		return model.Comment{}, err
	}
	return c, nil
}

// toggle возвращает новый срез: userID удаляется, если он есть, иначе добавляется в конец.
func toggle(likedBy []string, userID string) []string {
	if i := slices.Index(likedBy, userID); i >= 0 {
		return slices.Delete(slices.Clone(likedBy), i, i+1)
	}
	return append(slices.Clone(likedBy), userID)
}
