package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/barber-loyalty/internal/model"
	"github.com/mmeshcher/barber-loyalty/internal/service"
)

type announcementResponse struct {
	model.Announcement
	Likes int `json:"likes"`
}

type testimonialResponse struct {
	model.Testimonial
	Likes int `json:"likes"`
}

func toAnnouncementResponses(items []model.Announcement) []announcementResponse {
	resp := make([]announcementResponse, 0, len(items))
	for _, a := range items {
		resp = append(resp, announcementResponse{Announcement: a, Likes: a.Likes()})
	}
	return resp
}

func toTestimonialResponses(items []model.Testimonial) []testimonialResponse {
	resp := make([]testimonialResponse, 0, len(items))
	for _, t := range items {
		resp = append(resp, testimonialResponse{Testimonial: t, Likes: t.Likes()})
	}
	return resp
}

// GetServices возвращает каталог услуг.
func (h *Handler) GetServices(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.service.Services())
}

// GetAnnouncements возвращает объявления.
func (h *Handler) GetAnnouncements(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, toAnnouncementResponses(h.service.Announcements()))
}

// GetTestimonials возвращает отзывы.
func (h *Handler) GetTestimonials(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, toTestimonialResponses(h.service.Testimonials()))
}

// GetProfile возвращает профиль текущего клиента.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	u, err := h.service.Profile(userID)
	if err != nil {
		h.writeError(w, err, "get profile error", zap.String("userID", userID))
		return
	}
	h.writeJSON(w, http.StatusOK, u)
}

type profileRequest struct {
	Name           *string `json:"name"`
	ProfilePicture *string `json:"profilePicture"`
}

// UpdateProfile меняет имя и фотографию текущего клиента.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.UpdateProfile(r.Context(), userID, service.ProfileUpdate{
		Name:           req.Name,
		ProfilePicture: req.ProfilePicture,
	})
	if err != nil {
		h.writeError(w, err, "update profile error", zap.String("userID", userID))
		return
	}
	h.writeJSON(w, http.StatusOK, u)
}

// GetDashboard возвращает прогресс цикла и статус VIP текущего клиента.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	d, err := h.service.Dashboard(userID)
	if err != nil {
		h.writeError(w, err, "get dashboard error", zap.String("userID", userID))
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

// GetNotifications возвращает уведомления текущего клиента.
func (h *Handler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, h.service.Notifications(userID))
}

type paymentRequest struct {
	Amount      int64  `json:"amount"`
	ServiceID   string `json:"serviceId"`
	ServiceName string `json:"serviceName"`
	RoomService bool   `json:"roomService"`
	Comment     string `json:"comment"`
	ProofImage  string `json:"proofImage"`
}

// ReportPayment принимает заявку об оплате на подтверждение.
func (h *Handler) ReportPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.ReportPayment(r.Context(), userID, service.PaymentClaim{
		Amount:      req.Amount,
		ServiceID:   req.ServiceID,
		ServiceName: req.ServiceName,
		RoomService: req.RoomService,
		Comment:     req.Comment,
		ProofImage:  req.ProofImage,
	})
	if err != nil {
		h.writeError(w, err, "report payment error", zap.String("userID", userID))
		return
	}
	h.writeJSON(w, http.StatusAccepted, res)
}

type vipRequest struct {
	ProofRef   string `json:"proofRef"`
	ProofImage string `json:"proofImage"`
}

// RequestVIP принимает заявку на VIP-подписку.
func (h *Handler) RequestVIP(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req vipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.RequestVIP(r.Context(), userID, req.ProofRef, req.ProofImage)
	if err != nil {
		h.writeError(w, err, "request vip error", zap.String("userID", userID))
		return
	}
	h.writeJSON(w, http.StatusAccepted, res)
}

type referralRequest struct {
	Name string `json:"name"`
}

// AddReferral регистрирует приглашение друга.
func (h *Handler) AddReferral(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req referralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	ref, err := h.service.AddReferral(r.Context(), userID, req.Name)
	if err != nil {
		h.writeError(w, err, "add referral error", zap.String("userID", userID))
		return
	}
	h.writeJSON(w, http.StatusCreated, ref)
}

type testimonialRequest struct {
	Content string `json:"content"`
	Rating  int    `json:"rating"`
	Image   string `json:"image"`
}

// SubmitTestimonial публикует отзыв.
func (h *Handler) SubmitTestimonial(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req testimonialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	t, err := h.service.SubmitTestimonial(r.Context(), userID, req.Content, req.Rating, req.Image)
	if err != nil {
		h.writeError(w, err, "submit testimonial error", zap.String("userID", userID))
		return
	}
	h.writeJSON(w, http.StatusCreated, testimonialResponse{Testimonial: t, Likes: t.Likes()})
}

type commentRequest struct {
	Text string `json:"text"`
}

// LikeTestimonial ставит или снимает лайк отзыва.
func (h *Handler) LikeTestimonial(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	t, err := h.service.ToggleTestimonialLike(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err, "like testimonial error", zap.String("userID", userID))
		return
	}
	h.writeJSON(w, http.StatusOK, testimonialResponse{Testimonial: t, Likes: t.Likes()})
}

// CommentTestimonial добавляет комментарий к отзыву.
func (h *Handler) CommentTestimonial(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	t, err := h.service.CommentTestimonial(r.Context(), userID, chi.URLParam(r, "id"), req.Text)
	if err != nil {
		h.writeError(w, err, "comment testimonial error", zap.String("userID", userID))
		return
	}
	h.writeJSON(w, http.StatusCreated, testimonialResponse{Testimonial: t, Likes: t.Likes()})
}

// LikeAnnouncement ставит или снимает лайк объявления.
func (h *Handler) LikeAnnouncement(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	a, err := h.service.ToggleAnnouncementLike(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err, "like announcement error", zap.String("userID", userID))
		return
	}
	h.writeJSON(w, http.StatusOK, announcementResponse{Announcement: a, Likes: a.Likes()})
}

// CommentAnnouncement добавляет комментарий к объявлению.
func (h *Handler) CommentAnnouncement(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	a, err := h.service.CommentAnnouncement(r.Context(), userID, chi.URLParam(r, "id"), req.Text)
	if err != nil {
		h.writeError(w, err, "comment announcement error", zap.String("userID", userID))
		return
	}
	h.writeJSON(w, http.StatusCreated, announcementResponse{Announcement: a, Likes: a.Likes()})
}

// GetChat возвращает переписку текущего клиента.
func (h *Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, h.service.Chat(userID))
}

type messageRequest struct {
	Text string `json:"text"`
}

// SendMessage отправляет сообщение менеджеру.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	c, err := h.service.SendClientMessage(r.Context(), userID, req.Text)
	if err != nil {
		h.writeError(w, err, "send message error", zap.String("userID", userID))
		return
	}
	h.writeJSON(w, http.StatusCreated, c)
}
