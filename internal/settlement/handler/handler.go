package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"escrow/internal/settlement/models"
	treasury "escrow/internal/treasury/models"
	id "escrow/pkg/domain"
	dErrors "escrow/pkg/domain-errors"
	"escrow/pkg/funds"
	"escrow/pkg/platform/httputil"
	"escrow/pkg/platform/middleware/admin"
	"escrow/pkg/platform/middleware/auth"
	request "escrow/pkg/platform/middleware/request"
	platformstrings "escrow/pkg/platform/strings"
)

// Service defines the settlement operations exposed over HTTP.
type Service interface {
	Mint(ctx context.Context, proof string, req models.MintRequest) (*models.MintResult, error)
	Purchase(ctx context.Context, proof string, itemID id.ItemID, payment funds.Bucket) (*models.PurchaseResult, error)
	Redeem(ctx context.Context, cert models.CertificateHandle) (*models.RedeemResult, error)
	GetItem(ctx context.Context, itemID id.ItemID) (*models.ItemView, error)
	GetItems(ctx context.Context, itemIDs []id.ItemID) ([]*models.ItemView, error)
	Balances(ctx context.Context) (treasury.Balance, error)
}

type Handler struct {
	logger     *slog.Logger
	service    Service
	adminToken string
}

type Option func(*Handler)

// WithAdminToken requires X-Admin-Token on treasury reads.
func WithAdminToken(token string) Option {
	return func(h *Handler) {
		h.adminToken = token
	}
}

func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{logger: logger, service: service}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts item, claim and treasury routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(request.Timeout(10 * time.Second))
		r.Use(request.ContentTypeJSON)

		r.Route("/v1/items", func(r chi.Router) {
			r.With(auth.RequireProof(h.logger)).Post("/", h.handleMint)
			r.Get("/", h.handleListItems)
			r.Get("/{id}", h.handleGetItem)
			r.With(auth.RequireProof(h.logger)).Post("/{id}/purchase", h.handlePurchase)
		})
		r.Post("/v1/claims/{id}/redeem", h.handleRedeem)
		r.Group(func(r chi.Router) {
			if h.adminToken != "" {
				r.Use(admin.RequireAdminToken(h.adminToken, h.logger))
			}
			r.Get("/v1/treasury", h.handleBalances)
		})
	})
}

type mintRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	ImageRef    string          `json:"image_ref"`
	Price       json.RawMessage `json:"price"`
}

// parsePrice accepts a JSON number or numeric string. A missing or malformed
// price is an invalid price rather than a malformed body.
func parsePrice(raw json.RawMessage) (decimal.Decimal, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Decimal{}, dErrors.New(dErrors.CodeInvalidPrice, "price is required")
	}
	var price decimal.Decimal
	if err := price.UnmarshalJSON(raw); err != nil {
		return decimal.Decimal{}, dErrors.New(dErrors.CodeInvalidPrice, "price must be a decimal number")
	}
	return price, nil
}

type mintResponse struct {
	ItemID        string `json:"item_id"`
	CertificateID string `json:"certificate_id"`
}

type purchaseRequest struct {
	Payment decimal.Decimal `json:"payment"`
}

type purchaseResponse struct {
	ItemID string          `json:"item_id"`
	Status string          `json:"status"`
	Change decimal.Decimal `json:"change"`
	Fee    decimal.Decimal `json:"fee"`
}

type redeemResponse struct {
	Status        string           `json:"status"`
	Funds         *decimal.Decimal `json:"funds,omitempty"`
	CertificateID string           `json:"certificate_id,omitempty"`
}

type itemResponse struct {
	Item          any     `json:"item"`
	CertificateID *string `json:"certificate_id"`
}

type balancesResponse struct {
	CollectedFees decimal.Decimal `json:"collected_fees"`
	ClaimablePool decimal.Decimal `json:"claimable_pool"`
}

func (h *Handler) handleMint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid mint request",
			"request_id", request.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	price, err := parsePrice(req.Price)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := h.service.Mint(ctx, auth.GetProof(ctx), models.MintRequest{
		Name:        req.Name,
		Description: req.Description,
		ImageRef:    req.ImageRef,
		Price:       price,
	})
	if err != nil {
		h.logFailure(ctx, "mint failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, mintResponse{
		ItemID:        res.Item.ID.String(),
		CertificateID: res.Certificate.ID.String(),
	})
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	itemID, err := id.ParseItemID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	view, err := h.service.GetItem(ctx, itemID)
	if err != nil {
		h.logFailure(ctx, "get item failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toItemResponse(view))
}

// handleListItems serves GET /v1/items?ids=a,b,c.
func (h *Handler) handleListItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw := platformstrings.SplitList(r.URL.Query().Get("ids"), ",")
	if len(raw) == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "ids query parameter is required"))
		return
	}
	itemIDs := make([]id.ItemID, 0, len(raw))
	for _, part := range raw {
		itemID, err := id.ParseItemID(part)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		itemIDs = append(itemIDs, itemID)
	}
	views, err := h.service.GetItems(ctx, itemIDs)
	if err != nil {
		h.logFailure(ctx, "list items failed", err)
		httputil.WriteError(w, err)
		return
	}
	resp := make([]itemResponse, 0, len(views))
	for _, view := range views {
		resp = append(resp, toItemResponse(view))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"items": resp})
}

func toItemResponse(view *models.ItemView) itemResponse {
	resp := itemResponse{Item: view.Item}
	if view.CertificateID != nil {
		certID := view.CertificateID.String()
		resp.CertificateID = &certID
	}
	return resp
}

func (h *Handler) handlePurchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	itemID, err := id.ParseItemID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	payment, err := funds.NewBucket(req.Payment)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "payment must be non-negative"))
		return
	}

	res, err := h.service.Purchase(ctx, auth.GetProof(ctx), itemID, payment)
	if err != nil {
		h.logFailure(ctx, "purchase failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, purchaseResponse{
		ItemID: res.Item.ID.String(),
		Status: "sold",
		Change: res.Change.Amount(),
		Fee:    res.Split.Fee,
	})
}

func (h *Handler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	certID, err := id.ParseCertificateID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.service.Redeem(ctx, models.CertificateHandle{ID: certID})
	if err != nil {
		h.logFailure(ctx, "redeem failed", err)
		httputil.WriteError(w, err)
		return
	}
	if !res.Redeemed() {
		httputil.WriteJSON(w, http.StatusOK, redeemResponse{
			Status:        "pending",
			CertificateID: res.Certificate.ID.String(),
		})
		return
	}
	amount := res.Funds.Amount()
	httputil.WriteJSON(w, http.StatusOK, redeemResponse{Status: "redeemed", Funds: &amount})
}

func (h *Handler) handleBalances(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	b, err := h.service.Balances(ctx)
	if err != nil {
		h.logFailure(ctx, "read treasury failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, balancesResponse{
		CollectedFees: b.CollectedFees,
		ClaimablePool: b.ClaimablePool,
	})
}

func (h *Handler) logFailure(ctx context.Context, msg string, err error) {
	level := slog.LevelWarn
	if dErrors.ToHTTPStatus(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", request.GetRequestID(ctx),
		"error", err.Error(),
	)
}
