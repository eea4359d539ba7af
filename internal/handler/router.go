package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mmeshcher/barber-loyalty/internal/gateway"
	custommiddleware "github.com/mmeshcher/barber-loyalty/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса лояльности.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Post("/admin/login", h.AdminLogin)
			r.Post("/logout", h.Logout)
		})

		r.Get("/services", h.GetServices)
		r.Get("/announcements", h.GetAnnouncements)
		r.Get("/testimonials", h.GetTestimonials)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)
			r.Use(custommiddleware.RequireRole(gateway.RoleClient))

			r.Get("/me", h.GetProfile)
			r.Patch("/me", h.UpdateProfile)
			r.Get("/me/dashboard", h.GetDashboard)
			r.Get("/notifications", h.GetNotifications)

			r.Post("/payments", h.ReportPayment)
			r.Post("/vip", h.RequestVIP)
			r.Post("/referrals", h.AddReferral)

			r.Post("/testimonials", h.SubmitTestimonial)
			r.Post("/testimonials/{id}/like", h.LikeTestimonial)
			r.Post("/testimonials/{id}/comments", h.CommentTestimonial)
			r.Post("/announcements/{id}/like", h.LikeAnnouncement)
			r.Post("/announcements/{id}/comments", h.CommentAnnouncement)

			r.Get("/chat", h.GetChat)
			r.Post("/chat", h.SendMessage)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)
			r.Use(custommiddleware.RequireRole(gateway.RoleAdmin))

			r.Get("/requests", h.GetRequests)
			r.Post("/requests/{id}/approve", h.ApproveRequest)
			r.Post("/requests/{id}/reject", h.RejectRequest)

			r.Get("/referrals", h.GetReferrals)
			r.Post("/referrals/{id}/confirm", h.ConfirmReferral)
			r.Post("/referrals/{id}/reject", h.RejectReferral)

			r.Get("/users", h.GetUsers)
			r.Get("/stats", h.GetStats)
			r.Post("/broadcast", h.Broadcast)
			r.Get("/notifications", h.GetAdminNotifications)

			r.Get("/conversations", h.GetConversations)
			r.Post("/conversations/{userID}/messages", h.SendAdminMessage)
			r.Post("/conversations/{userID}/read", h.MarkConversationRead)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
