package handlers

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/glowpost/backend/internal/models"
)

// Billing glue: plan changes arrive from Stripe and land in
// client_subscriptions, which the quota ledger reads on every decision pass.
// The core never writes these rows.

func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.Query(`
		SELECT id, name, weekly_post_limit
		  FROM public.subscription_plans
		 ORDER BY weekly_post_limit ASC
	`)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer rows.Close()

	plans := []models.SubscriptionPlan{}
	for rows.Next() {
		var p models.SubscriptionPlan
		if err := rows.Scan(&p.ID, &p.Name, &p.WeeklyPostLimit); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, plans)
}

func (h *Handler) GetClientSubscription(w http.ResponseWriter, r *http.Request) {
	clientID := pathVar(r, "clientId")

	var planID, planName string
	var limit int
	err := h.db.QueryRow(`
		SELECT p.id, p.name, p.weekly_post_limit
		  FROM public.client_subscriptions s
		  JOIN public.subscription_plans p ON p.id = s.plan_id
		 WHERE s.client_id = $1
	`, clientID).Scan(&planID, &planName, &limit)
	if err == sql.ErrNoRows {
		// No subscription means the free plan.
		writeJSON(w, http.StatusOK, map[string]any{"clientId": clientID, "plan": "free"})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"clientId":        clientID,
		"plan":            planName,
		"planId":          planID,
		"weeklyPostLimit": limit,
	})
}

// StripeWebhook verifies and applies subscription lifecycle events. Stripe
// subscriptions carry client_id and plan_name in their metadata (set at
// checkout time by the storefront).
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	const maxBodyBytes = int64(65536)
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("[Billing][Webhook] read error: %v", err)
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if h.cfg.StripeWebhookSecret == "" {
		log.Printf("[Billing][Webhook] STRIPE_WEBHOOK_SECRET not set, rejecting")
		writeError(w, http.StatusServiceUnavailable, "billing not configured")
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		writeError(w, http.StatusBadRequest, "missing signature")
		return
	}
	event, err := webhook.ConstructEvent(payload, sig, h.cfg.StripeWebhookSecret)
	if err != nil {
		log.Printf("[Billing][Webhook] signature verification error: %v", err)
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		h.applySubscriptionEvent(event)
	case "customer.subscription.deleted":
		h.removeSubscription(event)
	default:
		log.Printf("[Billing][Webhook] ignored event type: %s", event.Type)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *Handler) applySubscriptionEvent(event stripe.Event) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		log.Printf("[Billing][Webhook] subscription unmarshal error: %v", err)
		return
	}

	clientID := sub.Metadata["client_id"]
	planName := sub.Metadata["plan_name"]
	if clientID == "" || planName == "" {
		log.Printf("[Billing][Webhook] subscription %s missing client_id/plan_name metadata", sub.ID)
		return
	}
	if sub.Status != stripe.SubscriptionStatusActive && sub.Status != stripe.SubscriptionStatusTrialing {
		log.Printf("[Billing][Webhook] subscription %s status=%s, leaving plan untouched", sub.ID, sub.Status)
		return
	}

	var planID string
	err := h.db.QueryRow(`
		SELECT id FROM public.subscription_plans WHERE name = $1
	`, planName).Scan(&planID)
	if err != nil {
		log.Printf("[Billing][Webhook] unknown plan %q for client %s: %v", planName, clientID, err)
		return
	}

	_, err = h.db.Exec(`
		INSERT INTO public.client_subscriptions (id, client_id, plan_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (client_id) DO UPDATE SET plan_id = EXCLUDED.plan_id
	`, fmt.Sprintf("sub_%s", randHex(12)), clientID, planID)
	if err != nil {
		log.Printf("[Billing][Webhook] subscription upsert error clientId=%s: %v", clientID, err)
		return
	}
	log.Printf("[Billing][Webhook] plan set clientId=%s plan=%s", clientID, planName)
}

func (h *Handler) removeSubscription(event stripe.Event) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		log.Printf("[Billing][Webhook] subscription unmarshal error: %v", err)
		return
	}
	clientID := sub.Metadata["client_id"]
	if clientID == "" {
		return
	}
	// Back to the implicit free plan.
	if _, err := h.db.Exec(`
		DELETE FROM public.client_subscriptions WHERE client_id = $1
	`, clientID); err != nil {
		log.Printf("[Billing][Webhook] subscription delete error clientId=%s: %v", clientID, err)
		return
	}
	log.Printf("[Billing][Webhook] plan cleared clientId=%s", clientID)
}
