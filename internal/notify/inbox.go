package notify

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eljoodia/eljoodia-erp/internal/platform/httpx"
	"github.com/eljoodia/eljoodia-erp/internal/shared"
)

// Notification is one durable per-user notification row.
type Notification struct {
	ID          int64
	UserID      int64
	EventID     string
	Kind        string
	OrderID     int64
	OrderNumber string
	Message     shared.Text
	Read        bool
	CreatedAt   time.Time
}

// ErrNotificationNotFound covers reads and updates of missing rows.
var ErrNotificationNotFound = shared.E(shared.KindNotFound,
	"الإشعار غير موجود", "Notification not found")

// Inbox reads and updates the durable notifications of one user.
type Inbox struct {
	pool *pgxpool.Pool
}

// NewInbox constructs the inbox store.
func NewInbox(pool *pgxpool.Pool) *Inbox {
	return &Inbox{pool: pool}
}

// List returns the user's notifications newest first.
func (i *Inbox) List(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `
		SELECT id, user_id, event_id, kind, order_id, order_number, message, message_en, read, created_at
		FROM notifications WHERE user_id = $1`
	args := []any{userID}
	if unreadOnly {
		query += ` AND NOT read`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT $2`
	args = append(args, limit)

	rows, err := i.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.EventID, &n.Kind, &n.OrderID,
			&n.OrderNumber, &n.Message.Ar, &n.Message.En, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// UnreadCount returns how many notifications the user has not read.
func (i *Inbox) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := i.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT read`, userID).Scan(&count)
	return count, err
}

// MarkRead flags one notification of the user as read.
func (i *Inbox) MarkRead(ctx context.Context, userID, id int64) error {
	tag, err := i.pool.Exec(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// MarkAllRead flags every unread notification of the user as read.
func (i *Inbox) MarkAllRead(ctx context.Context, userID int64) error {
	_, err := i.pool.Exec(ctx,
		`UPDATE notifications SET read = TRUE WHERE user_id = $1 AND NOT read`, userID)
	return err
}

// NotificationView is the localized API shape of one notification.
type NotificationView struct {
	ID          int64     `json:"id"`
	EventID     string    `json:"eventId"`
	Kind        string    `json:"kind"`
	OrderID     int64     `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	Message     string    `json:"message"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Handler exposes the notification inbox over HTTP.
type Handler struct {
	logger *slog.Logger
	inbox  *Inbox
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, inbox *Inbox) *Handler {
	return &Handler{logger: logger, inbox: inbox}
}

// MountRoutes registers the notification routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", h.list)
		r.Get("/unread-count", h.unreadCount)
		r.Patch("/{id}/read", h.markRead)
		r.Post("/read-all", h.markAllRead)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, lang := shared.MustActor(ctx), shared.LangFromContext(ctx)

	unreadOnly := r.URL.Query().Get("unread") == "true"
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.inbox.List(ctx, actor.ID, unreadOnly, limit)
	if err != nil {
		httpx.RespondError(w, err, lang)
		return
	}
	views := make([]NotificationView, 0, len(list))
	for _, n := range list {
		views = append(views, NotificationView{
			ID:          n.ID,
			EventID:     n.EventID,
			Kind:        n.Kind,
			OrderID:     n.OrderID,
			OrderNumber: n.OrderNumber,
			Message:     n.Message.In(lang),
			Read:        n.Read,
			CreatedAt:   n.CreatedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, views)
}

func (h *Handler) unreadCount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, lang := shared.MustActor(ctx), shared.LangFromContext(ctx)

	count, err := h.inbox.UnreadCount(ctx, actor.ID)
	if err != nil {
		httpx.RespondError(w, err, lang)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"unread": count})
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, lang := shared.MustActor(ctx), shared.LangFromContext(ctx)

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid notification id")
		return
	}
	if err := h.inbox.MarkRead(ctx, actor.ID, id); err != nil {
		httpx.RespondError(w, err, lang)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) markAllRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, lang := shared.MustActor(ctx), shared.LangFromContext(ctx)

	if err := h.inbox.MarkAllRead(ctx, actor.ID); err != nil {
		httpx.RespondError(w, err, lang)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
