package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/barber-loyalty/internal/model"
)

// GetRequests возвращает заявки, опционально отфильтрованные по ?status=.
func (h *Handler) GetRequests(w http.ResponseWriter, r *http.Request) {
	status := model.RequestStatus(r.URL.Query().Get("status"))
	switch status {
	case "", model.RequestStatusPending, model.RequestStatusApproved, model.RequestStatusRejected:
	default:
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	h.writeJSON(w, http.StatusOK, h.service.Requests(status))
}

// ApproveRequest подтверждает заявку.
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.service.ApproveRequest(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "approve request error", zap.String("requestID", id))
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// RejectRequest отклоняет заявку.
func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.service.RejectRequest(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "reject request error", zap.String("requestID", id))
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// GetReferrals возвращает приглашения, опционально отфильтрованные по ?status=.
func (h *Handler) GetReferrals(w http.ResponseWriter, r *http.Request) {
	status := model.ReferralStatus(r.URL.Query().Get("status"))
	switch status {
	case "", model.ReferralStatusPending, model.ReferralStatusCompleted, model.ReferralStatusRejected:
	default:
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	h.writeJSON(w, http.StatusOK, h.service.Referrals(status))
}

// ConfirmReferral засчитывает приглашение.
func (h *Handler) ConfirmReferral(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.service.ConfirmReferral(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "confirm referral error", zap.String("referralID", id))
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// RejectReferral отклоняет приглашение.
func (h *Handler) RejectReferral(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.service.RejectReferral(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "reject referral error", zap.String("referralID", id))
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// GetUsers ищет клиентов по ?q= в имени или email.
func (h *Handler) GetUsers(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.service.Users(r.URL.Query().Get("q")))
}

// GetStats возвращает сводку для администратора.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.service.Stats())
}

type broadcastRequest struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Broadcast рассылает уведомление и публикует новость.
func (h *Handler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	a, err := h.service.Broadcast(r.Context(), req.Title, req.Message)
	if err != nil {
		h.writeError(w, err, "broadcast error")
		return
	}
	h.writeJSON(w, http.StatusCreated, announcementResponse{Announcement: a, Likes: a.Likes()})
}

// GetAdminNotifications возвращает уведомления для администратора.
func (h *Handler) GetAdminNotifications(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.service.AdminNotifications())
}

// GetConversations возвращает все переписки.
func (h *Handler) GetConversations(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.service.Conversations())
}

// SendAdminMessage отправляет сообщение клиенту от имени менеджера.
func (h *Handler) SendAdminMessage(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	c, err := h.service.SendAdminMessage(r.Context(), userID, req.Text)
	if err != nil {
		h.writeError(w, err, "send admin message error", zap.String("userID", userID))
		return
	}
	h.writeJSON(w, http.StatusCreated, c)
}

// MarkConversationRead обнуляет счётчик непрочитанных сообщений.
func (h *Handler) MarkConversationRead(w http.ResponseWriter, r *http.Request) {
	h.service.MarkConversationRead(r.Context(), chi.URLParam(r, "userID"))
	w.WriteHeader(http.StatusNoContent)
}
