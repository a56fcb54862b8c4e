package stock

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eljoodia/eljoodia-erp/internal/platform/httpx"
	"github.com/eljoodia/eljoodia-erp/internal/shared"
)

// Handler exposes branch stock levels and the movement ledger.
type Handler struct {
	logger *slog.Logger
	repo   *Repository
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, repo *Repository) *Handler {
	return &Handler{logger: logger, repo: repo}
}

// MountRoutes registers the stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/stock", func(r chi.Router) {
		r.Get("/levels", h.getLevel)
		r.Get("/ledger", h.listLedger)
	})
}

// branchScope resolves and authorizes the branch a stock query targets.
func branchScope(r *http.Request, actor shared.Actor) (int64, error) {
	branchID, _ := strconv.ParseInt(r.URL.Query().Get("branchId"), 10, 64)
	if actor.Role == shared.RoleBranch {
		if branchID != 0 && branchID != actor.BranchID {
			return 0, shared.E(shared.KindAuthorization,
				"غير مخول لهذا الفرع", "Unauthorized for this branch")
		}
		return actor.BranchID, nil
	}
	if !actor.HasRole(shared.RoleAdmin, shared.RoleProduction) {
		return 0, shared.E(shared.KindAuthorization,
			"غير مخول بعرض المخزون", "Not authorized to view stock")
	}
	if branchID == 0 {
		return 0, shared.E(shared.KindValidation,
			"معرف الفرع مطلوب", "branchId is required")
	}
	return branchID, nil
}

func (h *Handler) getLevel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, lang := shared.MustActor(ctx), shared.LangFromContext(ctx)

	branchID, err := branchScope(r, actor)
	if err != nil {
		httpx.RespondError(w, err, lang)
		return
	}
	productID, _ := strconv.ParseInt(r.URL.Query().Get("productId"), 10, 64)
	if productID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "productId is required")
		return
	}
	level, err := h.repo.GetLevel(ctx, branchID, productID)
	if err != nil {
		httpx.RespondError(w, err, lang)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"branchId":  level.BranchID,
		"productId": level.ProductID,
		"quantity":  level.Quantity,
		"updatedAt": level.UpdatedAt,
	})
}

// ledgerEntryJSON is the localized API shape of one ledger row.
type ledgerEntryJSON struct {
	ID        int64     `json:"id"`
	BranchID  int64     `json:"branchId"`
	ProductID int64     `json:"productId"`
	Action    Action    `json:"action"`
	Quantity  float64   `json:"quantity"`
	Reference string    `json:"reference,omitempty"`
	OrderID   int64     `json:"orderId,omitempty"`
	Note      string    `json:"note,omitempty"`
	CreatedBy int64     `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *Handler) listLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, lang := shared.MustActor(ctx), shared.LangFromContext(ctx)

	branchID, err := branchScope(r, actor)
	if err != nil {
		httpx.RespondError(w, err, lang)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.repo.ListLedger(ctx, branchID, limit)
	if err != nil {
		httpx.RespondError(w, err, lang)
		return
	}
	views := make([]ledgerEntryJSON, 0, len(entries))
	for _, e := range entries {
		views = append(views, ledgerEntryJSON{
			ID:        e.ID,
			BranchID:  e.BranchID,
			ProductID: e.ProductID,
			Action:    e.Action,
			Quantity:  e.Quantity,
			Reference: e.Reference,
			OrderID:   e.OrderID,
			Note:      e.Note.In(lang),
			CreatedBy: e.CreatedBy,
			CreatedAt: e.CreatedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, views)
}
