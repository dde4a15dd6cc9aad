package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/jsherman999/watercooler/internal/config"
	"github.com/jsherman999/watercooler/internal/hub"
	"github.com/jsherman999/watercooler/internal/signing"
	"github.com/jsherman999/watercooler/internal/telemetry"
)

// maxWebhookBody bounds the request body read for signature verification.
const maxWebhookBody = 1 << 20

type API struct {
	cfg    *config.Config
	signer *signing.Signer
	hub    *hub.Hub
	log    zerolog.Logger
}

func New(cfg *config.Config, signer *signing.Signer, h *hub.Hub, log zerolog.Logger) *API {
	return &API{cfg: cfg, signer: signer, hub: h, log: log.With().Str("component", "api").Logger()}
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", telemetry.Handler())

	// Live updates. The "channel" query parameter carries the signed
	// connection token minted by the board API.
	r.Get("/socket", a.hub.ServeWS)

	// Webhook ingestion from the write-side API. Method maps to action:
	// POST=add, PUT=update, DELETE=remove.
	pattern := "/{model:task|sprint|user}/{id:[0-9]+}"
	r.Post(pattern, a.update)
	r.Put(pattern, a.update)
	r.Delete(pattern, a.update)

	return r
}

var actions = map[string]string{
	http.MethodPost:   "add",
	http.MethodPut:    "update",
	http.MethodDelete: "remove",
}

// Envelope describes one entity change, broadcast to every subscriber.
type Envelope struct {
	Model  string `json:"model"`
	ID     string `json:"id"`
	Action string `json:"action"`
	Body   any    `json:"body"`
}

func (a *API) update(w http.ResponseWriter, r *http.Request) {
	signature := r.Header.Get("X-Signature")
	if signature == "" {
		telemetry.WebhookRejected.WithLabelValues("missing_signature").Inc()
		http.Error(w, "missing signature", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	if err := a.signer.VerifyRequest(signature, r.Method, requestURL(r), body, a.cfg.Token.WebhookTTL); err != nil {
		reason := "bad_signature"
		if errors.Is(err, signing.ErrExpired) {
			reason = "expired"
		}
		telemetry.WebhookRejected.WithLabelValues(reason).Inc()
		a.log.Debug().Err(err).Str("path", r.URL.Path).Msg("webhook rejected")
		http.Error(w, "bad signature", http.StatusBadRequest)
		return
	}

	env := Envelope{
		Model:  chi.URLParam(r, "model"),
		ID:     chi.URLParam(r, "id"),
		Action: actions[r.Method],
	}
	// The notification is best-effort: a malformed body rides along as an
	// opaque string instead of failing the request.
	if len(body) > 0 {
		var decoded any
		if err := json.Unmarshal(body, &decoded); err == nil {
			env.Body = decoded
		} else {
			env.Body = string(body)
		}
	}

	payload, err := json.Marshal(env)
	if err != nil {
		http.Error(w, "encode", http.StatusInternalServerError)
		return
	}
	a.hub.PublishWebhook(payload)

	// Success regardless of whether anyone was subscribed.
	_, _ = w.Write([]byte("Ok"))
}

// requestURL reconstructs the full URL the client signed. The canonical
// string includes scheme and host, so a hub behind TLS termination must be
// signed against the scheme it actually sees.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
