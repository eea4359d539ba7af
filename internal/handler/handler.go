// Package handler содержит HTTP-обработчики API сервиса лояльности.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/barber-loyalty/internal/gateway"
	"github.com/mmeshcher/barber-loyalty/internal/middleware"
	"github.com/mmeshcher/barber-loyalty/internal/model"
	"github.com/mmeshcher/barber-loyalty/internal/repository"
	"github.com/mmeshcher/barber-loyalty/internal/service"
	"github.com/mmeshcher/barber-loyalty/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Register(ctx context.Context, email, password, name string) (*gateway.Session, error)
	Login(ctx context.Context, email, password string) (*gateway.Session, error)
	AdminLogin(email, password string) (*gateway.Session, error)
	Logout(sessionID string)

	Services() []model.Service
	Announcements() []model.Announcement
	Testimonials() []model.Testimonial

	Profile(userID string) (model.User, error)
	Dashboard(userID string) (service.Dashboard, error)
	UpdateProfile(ctx context.Context, userID string, upd service.ProfileUpdate) (model.User, error)
	Notifications(userID string) []model.Notification
	ReportPayment(ctx context.Context, userID string, claim service.PaymentClaim) (model.ApprovalRequest, error)
	RequestVIP(ctx context.Context, userID, proofRef, proofImage string) (model.ApprovalRequest, error)
	AddReferral(ctx context.Context, userID, referredName string) (model.Referral, error)
	SubmitTestimonial(ctx context.Context, userID, content string, rating int, image string) (model.Testimonial, error)
	ToggleTestimonialLike(ctx context.Context, userID, id string) (model.Testimonial, error)
	CommentTestimonial(ctx context.Context, userID, id, text string) (model.Testimonial, error)
	ToggleAnnouncementLike(ctx context.Context, userID, id string) (model.Announcement, error)
	CommentAnnouncement(ctx context.Context, userID, id, text string) (model.Announcement, error)
	Chat(userID string) model.Conversation
	SendClientMessage(ctx context.Context, userID, text string) (model.Conversation, error)

	Requests(status model.RequestStatus) []model.ApprovalRequest
	ApproveRequest(ctx context.Context, id string) (model.ApprovalRequest, error)
	RejectRequest(ctx context.Context, id string) (model.ApprovalRequest, error)
	Referrals(status model.ReferralStatus) []model.Referral
	ConfirmReferral(ctx context.Context, id string) (model.Referral, error)
	RejectReferral(ctx context.Context, id string) (model.Referral, error)
	Users(query string) []model.User
	Stats() service.Stats
	Broadcast(ctx context.Context, title, message string) (model.Announcement, error)
	AdminNotifications() []model.Notification
	Conversations() []model.Conversation
	SendAdminMessage(ctx context.Context, userID, text string) (model.Conversation, error)
	MarkConversationRead(ctx context.Context, userID string)
}

// Handler реализует HTTP-обработчики API сервиса лояльности.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

type sessionResponse struct {
	Role string     `json:"role"`
	User model.User `json:"user"`
}

// Register регистрирует клиента и открывает сессию.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	sess, err := h.service.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		h.writeError(w, err, "register user error")
		return
	}

	h.startSession(w, sess, http.StatusCreated)
}

// Login выполняет вход клиента и устанавливает cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	sess, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, err, "login user error")
		return
	}

	h.startSession(w, sess, http.StatusOK)
}

// AdminLogin выполняет вход администратора.
func (h *Handler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	sess, err := h.service.AdminLogin(req.Email, req.Password)
	if err != nil {
		h.writeError(w, err, "admin login error")
		return
	}

	h.startSession(w, sess, http.StatusOK)
}

// Logout закрывает сессию из cookie и удаляет cookie. Без сессии ничего не делает.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if id, ok := h.authMiddleware.SessionID(r); ok {
		h.service.Logout(id)
	}
	h.authMiddleware.ClearAuthCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) startSession(w http.ResponseWriter, sess *gateway.Session, status int) {
	err := h.authMiddleware.SetAuthCookie(w, middleware.Principal{
		UserID:    sess.User.ID,
		Role:      sess.Role,
		SessionID: sess.ID,
	})
	if err != nil {
		h.logger.Error("set auth cookie error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, status, sessionResponse{Role: sess.Role, User: sess.User})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

// writeError переводит ошибку сервиса в HTTP-статус.
func (h *Handler) writeError(w http.ResponseWriter, err error, msg string, fields ...zap.Field) {
	var status int
	switch {
	case errors.Is(err, validation.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, gateway.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, repository.ErrUserExists), errors.Is(err, service.ErrAlreadyDecided):
		status = http.StatusConflict
	default:
		h.logger.Error(msg, append(fields, zap.Error(err))...)
		status = http.StatusInternalServerError
	}
	http.Error(w, http.StatusText(status), status)
}

// currentUser возвращает идентификатор пользователя из контекста или отвечает 401.
func currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return "", false
	}
	return id, true
}
