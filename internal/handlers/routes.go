package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes registers all API routes. The post-creation route takes an
// optional wrapper so main can attach the quota middleware without this
// package importing it.
func RegisterRoutes(h *Handler, r *mux.Router, createPostWrapper func(http.Handler) http.Handler) {
	r.HandleFunc("/health", h.Health).Methods("GET")

	r.HandleFunc("/api/clients", h.CreateClient).Methods("POST")
	r.HandleFunc("/api/clients/{id}", h.GetClient).Methods("GET")

	r.HandleFunc("/api/ai/prefs", h.UpdatePrefs).Methods("POST")
	r.HandleFunc("/api/ai/generate-once", h.GenerateOnce).Methods("POST")

	r.HandleFunc("/api/posts/client/{clientId}", h.ListPostsForClient).Methods("GET")
	createPost := http.Handler(http.HandlerFunc(h.CreatePostForClient))
	if createPostWrapper != nil {
		createPost = createPostWrapper(createPost)
	}
	r.Handle("/api/posts/client/{clientId}", createPost).Methods("POST")

	r.HandleFunc("/api/facebook/login-url", h.FacebookLoginURL).Methods("GET")
	r.HandleFunc("/api/facebook/callback", h.FacebookCallback).Methods("GET")
	r.HandleFunc("/api/facebook/pages/{clientId}", h.ListFacebookPages).Methods("GET")
	r.HandleFunc("/api/facebook/select-page", h.SelectFacebookPage).Methods("POST")

	r.HandleFunc("/api/billing/plans", h.ListPlans).Methods("GET")
	r.HandleFunc("/api/billing/subscription/client/{clientId}", h.GetClientSubscription).Methods("GET")
	r.HandleFunc("/webhook/stripe", h.StripeWebhook).Methods("POST")
}
