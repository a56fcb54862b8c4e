package production

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eljoodia/eljoodia-erp/internal/platform/httpx"
	"github.com/eljoodia/eljoodia-erp/internal/shared"
)

// Handler exposes the chef task list over HTTP.
type Handler struct {
	logger *slog.Logger
	repo   *Repository
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, repo *Repository) *Handler {
	return &Handler{logger: logger, repo: repo}
}

// MountRoutes registers the production routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/production/tasks", h.listTasks)
}

// taskViewJSON is the localized API shape of one open task.
type taskViewJSON struct {
	ID          int64      `json:"id"`
	OrderID     int64      `json:"orderId"`
	OrderNumber string     `json:"orderNumber"`
	ItemID      int64      `json:"itemId"`
	ProductID   int64      `json:"productId"`
	ProductName string     `json:"productName"`
	Quantity    float64    `json:"quantity"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// listTasks returns the open tasks of a chef. Chefs see their own queue;
// admins and production pick the chef explicitly.
func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, lang := shared.MustActor(ctx), shared.LangFromContext(ctx)

	chefID := actor.ID
	if actor.HasRole(shared.RoleAdmin, shared.RoleProduction) {
		if v := r.URL.Query().Get("chefId"); v != "" {
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid chef id")
				return
			}
			chefID = parsed
		}
	} else if !actor.HasRole(shared.RoleChef) {
		httpx.RespondError(w, shared.E(shared.KindAuthorization,
			"غير مخول بعرض مهام الإنتاج", "Not authorized to view production tasks"), lang)
		return
	}

	tasks, err := h.repo.ListForChef(ctx, chefID)
	if err != nil {
		h.logger.Warn("list chef tasks failed", "chef_id", chefID, "error", err)
		httpx.RespondError(w, err, lang)
		return
	}
	views := make([]taskViewJSON, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, taskViewJSON{
			ID:          t.ID,
			OrderID:     t.OrderID,
			OrderNumber: t.OrderNumber,
			ItemID:      t.ItemID,
			ProductID:   t.ProductID,
			ProductName: t.ProductName.In(lang),
			Quantity:    t.Quantity,
			Status:      t.Status,
			CreatedAt:   t.CreatedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, views)
}
