package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/recargaspacuba/topup/internal/auth"
	"github.com/recargaspacuba/topup/internal/catalog"
	"github.com/recargaspacuba/topup/internal/destino"
	"github.com/recargaspacuba/topup/internal/handler/config"
	"github.com/recargaspacuba/topup/internal/logger"
	"github.com/recargaspacuba/topup/internal/service"
	"github.com/recargaspacuba/topup/internal/service/attestclient"
)

// Header carrying the opaque bot-attestation token.
const AttestationHeader = "X-Attestation-Token"

func Serve(ctx context.Context, cfg config.Config, auth auth.Resolver, service service.Service, attest attestclient.Verifier, zaplog *zap.Logger) error {
	h := NewHandler(cfg, auth, service, attest, zaplog)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h.NewRouter(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type Handler struct {
	auth    auth.Resolver
	service service.Service
	attest  attestclient.Verifier
	origins map[string]bool
	relaxed bool
	zaplog  *zap.Logger
}

func NewHandler(cfg config.Config, auth auth.Resolver, service service.Service, attest attestclient.Verifier, zaplog *zap.Logger) *Handler {
	origins := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		origins[origin] = true
	}
	return &Handler{
		auth:    auth,
		service: service,
		attest:  attest,
		origins: origins,
		relaxed: cfg.Relaxed,
		zaplog:  zaplog,
	}
}

func (h *Handler) NewRouter() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/createOrder", h.entry(http.MethodPost, h.CreateOrder))
	mux.HandleFunc("/api/markOrderPaid", h.entry(http.MethodPost, h.MarkOrderPaid))
	mux.HandleFunc("/api/markOrderFailed", h.entry(http.MethodPost, h.MarkOrderFailed))
	mux.HandleFunc("/api/markOrderCancelled", h.entry(http.MethodPost, h.MarkOrderCancelled))
	mux.HandleFunc("/api/markOrderRefunded", h.entry(http.MethodPost, h.MarkOrderRefunded))
	mux.HandleFunc("/api/orders", h.entry(http.MethodGet, h.GetOrders))
	return mux
}

// entry chains the cross-cutting checks every endpoint carries: CORS and
// preflight, method check, request logging, bot attestation. Attestation
// runs before any business logic.
func (h *Handler) entry(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.setCors(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != method {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
			return
		}
		logger.RequestLogMdlw(h.attestMdlw(next), h.zaplog)(w, r)
	}
}

func (h *Handler) setCors(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin != "" && h.origins[origin] {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}
	w.Header().Set("Vary", "Origin")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+AttestationHeader)
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// attestMdlw fails closed: only relaxed mode may serve without a configured
// verifier.
func (h *Handler) attestMdlw(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.attest == nil {
			if h.relaxed {
				next(w, r)
				return
			}
			writeError(w, http.StatusUnauthorized, "ATTESTATION_FAILED")
			return
		}
		if err := h.attest.Verify(r.Context(), r.Header.Get(AttestationHeader)); err != nil {
			writeError(w, http.StatusUnauthorized, "ATTESTATION_FAILED")
			return
		}
		next(w, r)
	}
}

type errorJSONResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorJSONResponse{OK: false, Error: code})
}

// decodeBody rejects malformed JSON and unknown fields before any business
// logic runs.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func (h *Handler) resolveIdentity(w http.ResponseWriter, r *http.Request, fallbackUID string) (auth.Identity, bool) {
	identity, err := h.auth.ResolveIdentity(r, fallbackUID)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingAuth):
			writeError(w, http.StatusUnauthorized, "MISSING_AUTH")
		default:
			writeError(w, http.StatusUnauthorized, "INVALID_ID_TOKEN")
		}
		return auth.Identity{}, false
	}
	return identity, true
}

type createOrderJSONRequest struct {
	UID       string `json:"uid"`
	ProductID string `json:"productId"`
	Destino   string `json:"destino"`
}

type createOrderJSONResponse struct {
	OK       bool    `json:"ok"`
	OrderID  string  `json:"orderId"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Status   string  `json:"status"`
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderJSONRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON_BODY")
		return
	}

	identity, ok := h.resolveIdentity(w, r, req.UID)
	if !ok {
		return
	}
	if err := h.auth.RequireVerifiedEmail(identity); err != nil {
		writeError(w, http.StatusForbidden, "EMAIL_NOT_VERIFIED")
		return
	}

	result, err := h.service.CreateOrder(r.Context(), identity, req.ProductID, req.Destino)
	if err != nil {
		h.writeCreateError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, createOrderJSONResponse{
		OK:       true,
		OrderID:  result.OrderID,
		Amount:   result.Amount.InexactFloat64(),
		Currency: result.Currency,
		Status:   result.Status,
	})
}

func (h *Handler) writeCreateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidUID):
		writeError(w, http.StatusBadRequest, "INVALID_UID")
	case errors.Is(err, service.ErrInvalidProductID):
		writeError(w, http.StatusBadRequest, "INVALID_PRODUCT_ID")
	case errors.Is(err, catalog.ErrUnknownProduct):
		writeError(w, http.StatusBadRequest, "UNKNOWN_PRODUCT_ID")
	case errors.Is(err, catalog.ErrNotPublished):
		writeError(w, http.StatusBadRequest, "PRODUCT_NOT_PUBLISHED")
	case errors.Is(err, destino.ErrInvalidDestino):
		writeError(w, http.StatusBadRequest, "INVALID_DESTINO")
	case errors.Is(err, destino.ErrInvalidCubacelNumber):
		writeError(w, http.StatusBadRequest, "INVALID_CUBACEL_NUMBER")
	case errors.Is(err, destino.ErrInvalidNautaEmail):
		writeError(w, http.StatusBadRequest, "INVALID_NAUTA_EMAIL")
	case errors.Is(err, service.ErrInvalidProductAmount):
		writeError(w, http.StatusInternalServerError, "INVALID_PRODUCT_AMOUNT")
	default:
		h.zaplog.Error("createOrder error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
	}
}

type markOrderJSONRequest struct {
	UID     string `json:"uid"`
	OrderID string `json:"orderId"`
}

type markOrderJSONResponse struct {
	OK            bool   `json:"ok"`
	OrderID       string `json:"orderId"`
	Status        string `json:"status"`
	AlreadyPaid   bool   `json:"alreadyPaid,omitempty"`
	AlreadyFailed bool   `json:"alreadyFailed,omitempty"`
	AlreadyCancel bool   `json:"alreadyCancelled,omitempty"`
	AlreadyRefund bool   `json:"alreadyRefunded,omitempty"`
	TerminalState bool   `json:"terminalState,omitempty"`
	RecargaSynced bool   `json:"recargaSynced,omitempty"`
}

type markOp func(ctx context.Context, identity auth.Identity, orderID string) (service.MarkResult, error)

func (h *Handler) markOrder(w http.ResponseWriter, r *http.Request, op markOp, shape func(service.MarkResult) markOrderJSONResponse) {
	var req markOrderJSONRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON_BODY")
		return
	}

	identity, ok := h.resolveIdentity(w, r, req.UID)
	if !ok {
		return
	}

	result, err := op(r.Context(), identity, req.OrderID)
	if err != nil {
		h.writeMarkError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, shape(result))
}

func (h *Handler) writeMarkError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidUID):
		writeError(w, http.StatusBadRequest, "INVALID_UID")
	case errors.Is(err, service.ErrInvalidOrderID):
		writeError(w, http.StatusBadRequest, "INVALID_ORDER_ID")
	case errors.Is(err, service.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "ORDER_NOT_FOUND")
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "FORBIDDEN")
	case errors.Is(err, service.ErrChannelNotAllowed):
		writeError(w, http.StatusForbidden, "NOT_ALLOWED_CHANNEL")
	case errors.Is(err, service.ErrInvalidStatus):
		writeError(w, http.StatusConflict, "INVALID_STATUS")
	default:
		h.zaplog.Error("markOrder error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
	}
}

func (h *Handler) MarkOrderPaid(w http.ResponseWriter, r *http.Request) {
	h.markOrder(w, r, h.service.MarkPaid, func(res service.MarkResult) markOrderJSONResponse {
		return markOrderJSONResponse{
			OK:          true,
			OrderID:     res.OrderID,
			Status:      res.Status,
			AlreadyPaid: res.Already,
		}
	})
}

func (h *Handler) MarkOrderFailed(w http.ResponseWriter, r *http.Request) {
	h.markOrder(w, r, h.service.MarkFailed, func(res service.MarkResult) markOrderJSONResponse {
		return markOrderJSONResponse{
			OK:            true,
			OrderID:       res.OrderID,
			Status:        res.Status,
			AlreadyFailed: res.Already,
			TerminalState: res.Terminal,
		}
	})
}

func (h *Handler) MarkOrderCancelled(w http.ResponseWriter, r *http.Request) {
	h.markOrder(w, r, h.service.MarkCancelled, func(res service.MarkResult) markOrderJSONResponse {
		return markOrderJSONResponse{
			OK:            true,
			OrderID:       res.OrderID,
			Status:        res.Status,
			AlreadyCancel: res.Already,
			TerminalState: res.Terminal,
		}
	})
}

func (h *Handler) MarkOrderRefunded(w http.ResponseWriter, r *http.Request) {
	h.markOrder(w, r, h.service.MarkRefunded, func(res service.MarkResult) markOrderJSONResponse {
		return markOrderJSONResponse{
			OK:            true,
			OrderID:       res.OrderID,
			Status:        res.Status,
			AlreadyRefund: res.Already,
			TerminalState: res.Terminal,
			RecargaSynced: res.RecargaSynced,
		}
	})
}

type orderJSONResponse struct {
	OrderID   string    `json:"orderId"`
	ProductID string    `json:"productId"`
	Destino   string    `json:"destino"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.resolveIdentity(w, r, r.URL.Query().Get("uid"))
	if !ok {
		return
	}

	orders, err := h.service.ListOrders(r.Context(), identity)
	if err != nil {
		if errors.Is(err, service.ErrInvalidUID) {
			writeError(w, http.StatusBadRequest, "INVALID_UID")
			return
		}
		h.zaplog.Error("getOrders error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}
	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	ordersJSON := make([]orderJSONResponse, 0, len(orders))
	for _, order := range orders {
		ordersJSON = append(ordersJSON, orderJSONResponse{
			OrderID:   order.ID,
			ProductID: order.ProductID,
			Destino:   order.Destino,
			Amount:    order.Amount.InexactFloat64(),
			Currency:  order.Currency,
			Status:    order.Status,
			CreatedAt: order.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, ordersJSON)
}
