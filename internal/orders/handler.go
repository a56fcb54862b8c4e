package orders

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/eljoodia/eljoodia-erp/internal/platform/httpx"
	"github.com/eljoodia/eljoodia-erp/internal/shared"
)

// Handler exposes the order lifecycle as a JSON API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	renderer *Renderer
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, renderer *Renderer) *Handler {
	return &Handler{logger: logger, service: service, renderer: renderer}
}

// MountRoutes registers the order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/", h.list)
		r.Get("/check-exists", h.checkExists)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Post("/approve", h.approve)
			r.Post("/assign-chefs", h.assignChefs)
			r.Post("/start-transit", h.startTransit)
			r.Post("/confirm-delivery", h.confirmDelivery)
			r.Patch("/status", h.updateStatus)
			r.Patch("/items/{itemID}/status", h.updateItemProgress)
		})
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, lang := shared.MustActor(ctx), shared.LangFromContext(ctx)

	var in CreateOrderInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	order, err := h.service.Create(ctx, actor, in)
	if err != nil {
		h.logger.Warn("create order failed", "actor_id", actor.ID, "error", err)
		httpx.RespondError(w, err, lang)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.renderer.Render(ctx, order, lang))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, lang := shared.MustActor(ctx), shared.LangFromContext(ctx)

	q := r.URL.Query()
	filter := ListFilter{
		Status:   Status(q.Get("status")),
		Priority: Priority(q.Get("priority")),
	}
	filter.BranchID, _ = strconv.ParseInt(q.Get("branchId"), 10, 64)
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	list, err := h.service.List(ctx, actor, filter)
	if err != nil {
		httpx.RespondError(w, err, lang)
		return
	}
	httpx.JSON(w, http.StatusOK, h.renderer.RenderList(ctx, list, lang))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, lang := shared.MustActor(ctx), shared.LangFromContext(ctx)

	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	order, err := h.service.Get(ctx, actor, id)
	if err != nil {
		httpx.RespondError(w, err, lang)
		return
	}
	httpx.JSON(w, http.StatusOK, h.renderer.Render(ctx, order, lang))
}

func (h *Handler) checkExists(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, lang := shared.MustActor(ctx), shared.LangFromContext(ctx)

	number := r.URL.Query().Get("number")
	if number == "" {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "number is required")
		return
	}
	branchID, _ := strconv.ParseInt(r.URL.Query().Get("branchId"), 10, 64)
	exists, err := h.service.Exists(ctx, actor, branchID, number)
	if err != nil {
		httpx.RespondError(w, err, lang)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx_ reqCtx, id int64) (Order, error) {
		var in ApproveInput
		if err := httpx.DecodeJSON(r, &in); err != nil && !errors.Is(err, io.EOF) {
			return Order{}, shared.Wrap(shared.KindValidation, err,
				"تعذر قراءة الطلب", "Malformed request body")
		}
		return h.service.Approve(ctx_.ctx, ctx_.actor, id, in)
	})
}

func (h *Handler) assignChefs(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx_ reqCtx, id int64) (Order, error) {
		var in AssignInput
		if err := httpx.DecodeJSON(r, &in); err != nil {
			return Order{}, shared.Wrap(shared.KindValidation, err,
				"تعذر قراءة الطلب", "Malformed request body")
		}
		return h.service.AssignChefs(ctx_.ctx, ctx_.actor, id, in)
	})
}

func (h *Handler) startTransit(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx_ reqCtx, id int64) (Order, error) {
		return h.service.StartTransit(ctx_.ctx, ctx_.actor, id)
	})
}

func (h *Handler) confirmDelivery(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx_ reqCtx, id int64) (Order, error) {
		var in ConfirmDeliveryInput
		if err := httpx.DecodeJSON(r, &in); err != nil && !errors.Is(err, io.EOF) {
			return Order{}, shared.Wrap(shared.KindValidation, err,
				"تعذر قراءة الطلب", "Malformed request body")
		}
		return h.service.ConfirmDelivery(ctx_.ctx, ctx_.actor, id, in)
	})
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx_ reqCtx, id int64) (Order, error) {
		var in UpdateStatusInput
		if err := httpx.DecodeJSON(r, &in); err != nil {
			return Order{}, shared.Wrap(shared.KindValidation, err,
				"تعذر قراءة الطلب", "Malformed request body")
		}
		return h.service.UpdateStatus(ctx_.ctx, ctx_.actor, id, in)
	})
}

func (h *Handler) updateItemProgress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, lang := shared.MustActor(ctx), shared.LangFromContext(ctx)

	orderID, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	itemID, err := pathID(r, "itemID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid item id")
		return
	}
	var in ProgressInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	order, err := h.service.UpdateItemProgress(ctx, actor, orderID, itemID, in)
	if err != nil {
		h.logger.Warn("item progress failed",
			"order_id", orderID, "item_id", itemID, "actor_id", actor.ID, "error", err)
		httpx.RespondError(w, err, lang)
		return
	}
	httpx.JSON(w, http.StatusOK, h.renderer.Render(ctx, order, lang))
}

type reqCtx struct {
	ctx   context.Context
	actor shared.Actor
}

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, fn func(reqCtx, int64) (Order, error)) {
	ctx := r.Context()
	actor, lang := shared.MustActor(ctx), shared.LangFromContext(ctx)

	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	order, err := fn(reqCtx{ctx: ctx, actor: actor}, id)
	if err != nil {
		h.logger.Warn("order mutation failed",
			"order_id", id, "actor_id", actor.ID, "error", err)
		httpx.RespondError(w, err, lang)
		return
	}
	httpx.JSON(w, http.StatusOK, h.renderer.Render(ctx, order, lang))
}

func pathID(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, key), 10, 64)
}
