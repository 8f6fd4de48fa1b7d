package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/relaymask/golang_services/internal/relay_service/adapters/twilio"
	"github.com/relaymask/golang_services/internal/relay_service/app"
	"github.com/relaymask/golang_services/internal/relay_service/domain"
)

const signatureHeader = "X-Twilio-Signature"

const notAvailableSay = "Sorry, that number is not available."

// SessionEngine is the slice of the relay session engine the webhook
// handlers need. Interface-typed so handler tests can mock it.
type SessionEngine interface {
	HandleInboundSms(ctx context.Context, from, to, body string) (*app.InboundSmsOutcome, error)
	HandleInboundCall(ctx context.Context, caller, called string) (*app.InboundCallOutcome, error)
	HandleCallStatus(ctx context.Context, callSID, called, callStatus string, durationSeconds int) error
	HandleSmsStatus(ctx context.Context, messageSID, smsStatus string) error
}

// SignatureValidator authenticates a provider webhook over the externally
// visible URL and the posted parameters.
type SignatureValidator interface {
	Validate(url string, params map[string]string, signature string) bool
}

type WebhookHandler struct {
	engine    SessionEngine
	validator SignatureValidator
	validate  *validator.Validate
	logger    *slog.Logger
}

func NewWebhookHandler(engine SessionEngine, sigValidator SignatureValidator, validate *validator.Validate, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		engine:    engine,
		validator: sigValidator,
		validate:  validate,
		logger:    logger.With("component", "webhook_handler"),
	}
}

func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/inbound_sms", h.HandleInboundSms)
	r.Post("/inbound_call", h.HandleInboundCall)
	r.Post("/voice_status", h.HandleVoiceStatus)
	r.Post("/sms_status", h.HandleSmsStatus)
}

type inboundSmsPayload struct {
	From string `validate:"required"`
	To   string `validate:"required"`
	Body string `validate:"required"`
}

type inboundCallPayload struct {
	Caller string `validate:"required"`
	Called string `validate:"required"`
}

type voiceStatusPayload struct {
	CallSid    string `validate:"required"`
	Called     string `validate:"required"`
	CallStatus string `validate:"required"`
}

type smsStatusPayload struct {
	SmsStatus  string `validate:"required"`
	MessageSid string `validate:"required"`
}

// authenticate verifies the provider signature. It must run before any
// state-mutating logic; an unauthenticated request never touches the store.
func (h *WebhookHandler) authenticate(w http.ResponseWriter, r *http.Request) bool {
	ctx := r.Context()
	logger := h.logger.With("request_id", chimiddleware.GetReqID(ctx))

	if err := r.ParseForm(); err != nil {
		logger.WarnContext(ctx, "Failed to parse webhook form", "error", err)
		http.Error(w, "Invalid request: malformed form body.", http.StatusBadRequest)
		return false
	}

	signature := r.Header.Get(signatureHeader)
	if signature == "" {
		app.IncInvalidSignature()
		logger.WarnContext(ctx, "Webhook missing signature header",
			"error", domain.ErrAuthentication, "path", r.URL.Path)
		http.Error(w, "Invalid request: missing "+signatureHeader+" header.", http.StatusBadRequest)
		return false
	}

	params := make(map[string]string, len(r.PostForm))
	for key := range r.PostForm {
		params[key] = r.PostForm.Get(key)
	}

	if !h.validator.Validate(externalURL(r), params, signature) {
		app.IncInvalidSignature()
		logger.WarnContext(ctx, "Webhook signature mismatch",
			"error", domain.ErrAuthentication, "path", r.URL.Path)
		http.Error(w, "Invalid request: invalid signature.", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *WebhookHandler) HandleInboundSms(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chimiddleware.GetReqID(ctx))

	if !h.authenticate(w, r) {
		return
	}

	payload := inboundSmsPayload{
		From: r.PostForm.Get("From"),
		To:   r.PostForm.Get("To"),
		Body: r.PostForm.Get("Body"),
	}
	if err := h.validate.Struct(payload); err != nil {
		http.Error(w, "Request missing From, To, or Body.", http.StatusBadRequest)
		return
	}

	outcome, err := h.engine.HandleInboundSms(ctx, payload.From, payload.To, payload.Body)
	if err != nil {
		h.writeEngineError(ctx, w, logger, err)
		return
	}

	status := http.StatusOK
	if outcome.Forwarded {
		status = http.StatusCreated
	}
	writeTwiML(w, status, twilio.EmptyResponse())
}

func (h *WebhookHandler) HandleInboundCall(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chimiddleware.GetReqID(ctx))

	if !h.authenticate(w, r) {
		return
	}

	payload := inboundCallPayload{
		Caller: r.PostForm.Get("Caller"),
		Called: r.PostForm.Get("Called"),
	}
	if err := h.validate.Struct(payload); err != nil {
		http.Error(w, "Call data missing Caller or Called.", http.StatusBadRequest)
		return
	}

	outcome, err := h.engine.HandleInboundCall(ctx, payload.Caller, payload.Called)
	if err != nil {
		h.writeEngineError(ctx, w, logger, err)
		return
	}

	if outcome.Blocked {
		writeTwiML(w, http.StatusOK, twilio.Reject(notAvailableSay))
		return
	}
	writeTwiML(w, http.StatusCreated, twilio.Dial(outcome.CallerID, outcome.DialNumber))
}

func (h *WebhookHandler) HandleVoiceStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chimiddleware.GetReqID(ctx))

	if !h.authenticate(w, r) {
		return
	}

	payload := voiceStatusPayload{
		CallSid:    r.PostForm.Get("CallSid"),
		Called:     r.PostForm.Get("Called"),
		CallStatus: r.PostForm.Get("CallStatus"),
	}
	if err := h.validate.Struct(payload); err != nil {
		http.Error(w, "Call data missing CallSid, Called, or CallStatus.", http.StatusBadRequest)
		return
	}

	var durationSeconds int
	if payload.CallStatus == app.CallStatusCompleted {
		rawDuration := r.PostForm.Get("CallDuration")
		if rawDuration == "" {
			http.Error(w, "Completed call data missing CallDuration.", http.StatusBadRequest)
			return
		}
		var err error
		durationSeconds, err = strconv.Atoi(rawDuration)
		if err != nil {
			http.Error(w, "Completed call data has invalid CallDuration.", http.StatusBadRequest)
			return
		}
	}

	if err := h.engine.HandleCallStatus(ctx, payload.CallSid, payload.Called, payload.CallStatus, durationSeconds); err != nil {
		h.writeEngineError(ctx, w, logger, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) HandleSmsStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chimiddleware.GetReqID(ctx))

	if !h.authenticate(w, r) {
		return
	}

	payload := smsStatusPayload{
		SmsStatus:  r.PostForm.Get("SmsStatus"),
		MessageSid: r.PostForm.Get("MessageSid"),
	}
	if err := h.validate.Struct(payload); err != nil {
		http.Error(w, "Text status data missing SmsStatus or MessageSid.", http.StatusBadRequest)
		return
	}

	if err := h.engine.HandleSmsStatus(ctx, payload.MessageSid, payload.SmsStatus); err != nil {
		h.writeEngineError(ctx, w, logger, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// writeEngineError maps engine errors to responses. Resolution, quota and
// policy failures are client errors: the provider is relaying on behalf of
// untrusted third parties and must never see a 5xx for a probe.
func (h *WebhookHandler) writeEngineError(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "Could not find relay number.", http.StatusBadRequest)
	case errors.Is(err, domain.ErrQuotaExceeded):
		http.Error(w, "Number is out of quota.", http.StatusBadRequest)
	case errors.Is(err, domain.ErrReplyPolicy):
		http.Error(w, "Replies require a stored caller and text log.", http.StatusBadRequest)
	default:
		logger.ErrorContext(ctx, "Webhook processing failed", "error", err)
		http.Error(w, "Internal server error.", http.StatusInternalServerError)
	}
}

func writeTwiML(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// externalURL reconstructs the URL the provider signed: the public scheme
// and host (honoring the reverse proxy's X-Forwarded-Proto and
// X-Forwarded-Host) plus the request path and query.
func externalURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	host := r.Host
	if forwarded := r.Header.Get("X-Forwarded-Host"); forwarded != "" {
		host = forwarded
	}
	return scheme + "://" + host + r.URL.RequestURI()
}
