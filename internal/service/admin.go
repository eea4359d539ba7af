package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/barber-loyalty/internal/model"
	"github.com/mmeshcher/barber-loyalty/internal/reward"
	"github.com/mmeshcher/barber-loyalty/internal/validation"
)

const broadcastDate = "Latest Update"

// Stats содержит сводку для администратора.
type Stats struct {
	TotalUsers       int   `json:"totalUsers"`
	PendingRequests  int   `json:"pendingRequests"`
	ApprovedRequests int   `json:"approvedRequests"`
	PendingReferrals int   `json:"pendingReferrals"`
	Revenue          int64 `json:"revenue"`
	ActiveVIPs       int   `json:"activeVips"`
	ExpiredVIPs      int   `json:"expiredVips"`
	UnreadMessages   int   `json:"unreadMessages"`
}

// Requests возвращает заявки с указанным статусом; пустой статус означает все заявки.
func (s *Service) Requests(status model.RequestStatus) []model.ApprovalRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]model.ApprovalRequest, 0, len(s.requests))
	for _, r := range s.requests {
		if status == "" || r.Status == status {
			res = append(res, r)
		}
	}
	return res
}

// ApproveRequest подтверждает заявку и применяет её к счётчикам клиента.
func (s *Service) ApproveRequest(ctx context.Context, id string) (model.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, err := s.pendingRequestLocked(id)
	if err != nil {
		return model.ApprovalRequest{}, err
	}
	req := s.requests[i]

	u, err := s.userLocked(req.UserID)
	if err != nil {
		return model.ApprovalRequest{}, fmt.Errorf("request %s user %s: %w", id, req.UserID, err)
	}

	var out reward.Outcome
	switch req.Type {
	case model.RequestTypeVIP:
		out = reward.ApplyVIP(u, req.Amount, s.now())
	default:
		out = reward.ApplySpending(u, req.Amount)
	}

	req.Status = model.RequestStatusApproved
	s.requests[i] = req
	s.enqueue("approve request", func(ctx context.Context) error {
		return s.gw.UpdateApprovalStatus(ctx, id, model.RequestStatusApproved)
	})

	s.applyOutcomeLocked(out)

	s.logger.Info("request approved",
		zap.String("request_id", id),
		zap.String("user_id", req.UserID),
		zap.String("type", string(req.Type)),
		zap.Int64("amount", req.Amount),
	)
	return req, nil
}

// RejectRequest отклоняет заявку без изменения счётчиков.
func (s *Service) RejectRequest(ctx context.Context, id string) (model.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, err := s.pendingRequestLocked(id)
	if err != nil {
		return model.ApprovalRequest{}, err
	}

	req := s.requests[i]
	req.Status = model.RequestStatusRejected
	s.requests[i] = req
	s.enqueue("reject request", func(ctx context.Context) error {
		return s.gw.UpdateApprovalStatus(ctx, id, model.RequestStatusRejected)
	})
	return req, nil
}

func (s *Service) pendingRequestLocked(id string) (int, error) {
	i := slices.IndexFunc(s.requests, func(r model.ApprovalRequest) bool { return r.ID == id })
	if i < 0 {
		return -1, ErrNotFound
	}
	if s.requests[i].Status != model.RequestStatusPending {
		return -1, fmt.Errorf("%w: request %s is %s", ErrAlreadyDecided, id, s.requests[i].Status)
	}
	return i, nil
}

// Referrals возвращает приглашения с указанным статусом; пустой статус означает все.
func (s *Service) Referrals(status model.ReferralStatus) []model.Referral {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]model.Referral, 0, len(s.referrals))
	for _, r := range s.referrals {
		if status == "" || r.Status == status {
			res = append(res, r)
		}
	}
	return res
}

// ConfirmReferral засчитывает приглашение пригласившему клиенту.
func (s *Service) ConfirmReferral(ctx context.Context, id string) (model.Referral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, err := s.pendingReferralLocked(id)
	if err != nil {
		return model.Referral{}, err
	}
	ref := s.referrals[i]

	u, err := s.userLocked(ref.ReferrerID)
	if err != nil {
		return model.Referral{}, fmt.Errorf("referral %s user %s: %w", id, ref.ReferrerID, err)
	}

	ref.Status = model.ReferralStatusCompleted
	s.referrals[i] = ref
	s.enqueue("confirm referral", func(ctx context.Context) error {
		return s.gw.UpdateReferralStatus(ctx, id, model.ReferralStatusCompleted)
	})

	s.applyOutcomeLocked(reward.ApplyReferral(u))
	return ref, nil
}

// RejectReferral отклоняет приглашение.
func (s *Service) RejectReferral(ctx context.Context, id string) (model.Referral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, err := s.pendingReferralLocked(id)
	if err != nil {
		return model.Referral{}, err
	}

	ref := s.referrals[i]
	ref.Status = model.ReferralStatusRejected
	s.referrals[i] = ref
	s.enqueue("reject referral", func(ctx context.Context) error {
		return s.gw.UpdateReferralStatus(ctx, id, model.ReferralStatusRejected)
	})
	return ref, nil
}

func (s *Service) pendingReferralLocked(id string) (int, error) {
	i := slices.IndexFunc(s.referrals, func(r model.Referral) bool { return r.ID == id })
	if i < 0 {
		return -1, ErrNotFound
	}
	if s.referrals[i].Status != model.ReferralStatusPending {
		return -1, fmt.Errorf("%w: referral %s is %s", ErrAlreadyDecided, id, s.referrals[i].Status)
	}
	return i, nil
}

// applyOutcomeLocked сохраняет новое состояние клиента и выпускает уведомление.
func (s *Service) applyOutcomeLocked(out reward.Outcome) {
	u := out.User
	s.users[u.ID] = u

	patch := model.LedgerPatch(u)
	s.enqueue("update ledger", func(ctx context.Context) error {
		return s.gw.UpdateProfile(ctx, u.ID, patch)
	})

	if out.Notification != nil {
		n := *out.Notification
		n.ID = s.newID()
		n.Timestamp = s.now()
		s.addNotificationLocked(n)
	}
}

// Users возвращает клиентов, чьё имя или email содержит query, по убыванию общей суммы трат.
func (s *Service) Users(query string) []model.User {
	q := strings.ToLower(strings.TrimSpace(query))

	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		if q == "" || strings.Contains(strings.ToLower(u.Name), q) || strings.Contains(strings.ToLower(u.Email), q) {
			res = append(res, u)
		}
	}
	slices.SortFunc(res, func(a, b model.User) int {
		if a.LifetimeSpent != b.LifetimeSpent {
			if a.LifetimeSpent > b.LifetimeSpent {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Name, b.Name)
	})
	return res
}

// Stats возвращает сводку для администратора.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	st := Stats{TotalUsers: len(s.users)}
	for _, u := range s.users {
		st.Revenue += u.LifetimeSpent
		if u.IsVIP {
			if u.VIPActive(now) {
				st.ActiveVIPs++
			} else {
				st.ExpiredVIPs++
			}
		}
	}
	for _, r := range s.requests {
		switch r.Status {
		case model.RequestStatusPending:
			st.PendingRequests++
		case model.RequestStatusApproved:
			st.ApprovedRequests++
		}
	}
	for _, r := range s.referrals {
		if r.Status == model.ReferralStatusPending {
			st.PendingReferrals++
		}
	}
	for _, c := range s.conversations {
		st.UnreadMessages += c.UnreadCount
	}
	return st
}

// AdminNotifications возвращает уведомления для администратора и общие объявления.
func (s *Service) AdminNotifications() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]model.Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		if n.Audience == model.AudienceAdmin || n.Audience == model.AudienceAll {
			res = append(res, n)
		}
	}
	return res
}

// Broadcast рассылает уведомление всем клиентам и публикует его как новость.
func (s *Service) Broadcast(ctx context.Context, title, message string) (model.Announcement, error) {
	title = strings.TrimSpace(title)
	message = strings.TrimSpace(message)
	if title == "" || message == "" {
		return model.Announcement{}, fmt.Errorf("%w: title and message are required", validation.ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := model.Notification{
		ID:        s.newID(),
		Title:     title,
		Message:   message,
		Timestamp: now,
		Kind:      model.NotificationBroadcast,
		Audience:  model.AudienceAll,
	}
	if err := validation.Struct(n); err != nil {
		return model.Announcement{}, err
	}

	a := model.Announcement{
		ID:          s.newID(),
		Title:       title,
		Description: message,
		Date:        broadcastDate,
		Type:        model.AnnouncementNews,
		LikedBy:     []string{},
		Comments:    []model.Comment{},
		CreatedAt:   now,
	}

	s.addNotificationLocked(n)
	s.announcements = append([]model.Announcement{a}, s.announcements...)
	s.enqueue("add announcement", func(ctx context.Context) error {
		return s.gw.AddAnnouncement(ctx, a)
	})
	return a, nil
}
