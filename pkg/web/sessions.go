package web

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-cprcoach/pkg/store"
)

// SessionStore is the persistence the session routes need. *store.Store
// implements it.
type SessionStore interface {
	Save(ctx context.Context, r store.Record) error
	Get(ctx context.Context, sessionID string) (*store.Record, error)
	List(ctx context.Context) ([]store.Record, error)
	Delete(ctx context.Context, sessionID string) (*store.Record, error)
}

var _ SessionStore = (*store.Store)(nil)

// SessionHandler serves saved session summaries.
type SessionHandler struct {
	store SessionStore
	now   func() time.Time
}

// NewSessionHandler creates a handler over s.
func NewSessionHandler(s SessionStore) *SessionHandler {
	return &SessionHandler{store: s, now: time.Now}
}

// Register mounts the routes on r, typically /api/sessions.
func (h *SessionHandler) Register(r fiber.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/:id", h.get)
	r.Delete("/:id", h.delete)
}

// create saves a session. Missing ids and timestamps are filled in.
func (h *SessionHandler) create(c *fiber.Ctx) error {
	var rec store.Record
	if err := c.BodyParser(&rec); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	now := h.now()
	if rec.SessionID == "" {
		rec.SessionID = uuid.NewString()
	}
	if rec.Date == "" {
		rec.Date = now.Format(time.DateOnly)
	}
	if rec.Time == "" {
		rec.Time = now.Format(time.TimeOnly)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	if err := h.store.Save(c.UserContext(), rec); err != nil {
		return storeError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(rec)
}

func (h *SessionHandler) list(c *fiber.Ctx) error {
	recs, err := h.store.List(c.UserContext())
	if err != nil {
		return storeError(err)
	}
	return c.JSON(recs)
}

func (h *SessionHandler) get(c *fiber.Ctx) error {
	rec, err := h.store.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return storeError(err)
	}
	return c.JSON(rec)
}

func (h *SessionHandler) delete(c *fiber.Ctx) error {
	rec, err := h.store.Delete(c.UserContext(), c.Params("id"))
	if err != nil {
		return storeError(err)
	}
	return c.JSON(fiber.Map{
		"message": "Session deleted successfully",
		"session": rec,
	})
}

// storeError maps store sentinels to HTTP errors.
func storeError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "Session not found")
	case errors.Is(err, store.ErrInvalid):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrDuplicate):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
