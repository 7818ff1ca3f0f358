package transactions

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/fraudwatch/internal/logging"
	"github.com/mbd888/fraudwatch/internal/pagination"
	"github.com/mbd888/fraudwatch/internal/risk"
	"github.com/mbd888/fraudwatch/internal/validation"
)

// Handler provides HTTP endpoints for the transaction workflow.
type Handler struct {
	service *Service
}

// NewHandler creates a new transactions handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the transaction routes on r.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/transactions")
	g.POST("/submit", h.Submit)
	g.GET("", h.List)
	g.GET("/queue", h.Queue)
	g.GET("/queue/next", h.NextForReview)
	g.GET("/:id", h.Get)
	g.PATCH("/:id/review", h.Review)
}

// Submit handles POST /transactions/submit
func (h *Handler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	result, err := h.service.Submit(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// List handles GET /transactions
func (h *Handler) List(c *gin.Context) {
	q := ListQuery{
		UserID:    c.Query("userId"),
		Limit:     pagination.ParseLimit(c.Query("limit")),
		Cursor:    c.Query("cursor"),
		Ascending: strings.EqualFold(c.Query("order"), "asc"),
	}
	if status := strings.ToUpper(c.Query("status")); status != "" {
		q.Status = risk.Status(status)
		if !q.Status.IsReviewable() && q.Status != risk.StatusNew {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": "status must be one of: NEW, SAFE, UNDER_REVIEW, FRAUD",
			})
			return
		}
	}

	result, err := h.service.List(c.Request.Context(), q)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Get handles GET /transactions/:id
func (h *Handler) Get(c *gin.Context) {
	rec, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": rec})
}

// Review handles PATCH /transactions/:id/review
func (h *Handler) Review(c *gin.Context) {
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	req.Status = strings.ToUpper(strings.TrimSpace(req.Status))

	rec, err := h.service.Review(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": rec})
}

// NextForReview handles GET /transactions/queue/next. An empty queue is
// not an error: the transaction is null.
func (h *Handler) NextForReview(c *gin.Context) {
	next, found, err := h.service.NextForReview(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	remaining := len(h.service.PendingReviews())
	if !found {
		c.JSON(http.StatusOK, gin.H{
			"transaction": nil,
			"message":     "Review queue is empty",
			"remaining":   remaining,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transaction": next.Transaction,
		"queueEntry":  next.Entry,
		"remaining":   remaining,
	})
}

// Queue handles GET /transactions/queue
func (h *Handler) Queue(c *gin.Context) {
	entries := h.service.PendingReviews()
	c.JSON(http.StatusOK, gin.H{
		"queue": entries,
		"size":  len(entries),
	})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var verrs validation.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": verrs.Error(),
			"details": verrs,
		})
	case errors.Is(err, pagination.ErrInvalidCursor):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "Cursor is invalid or expired",
		})
	case errors.Is(err, risk.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
	case errors.Is(err, risk.ErrDuplicateTransaction):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "duplicate_transaction",
			"message": "Transaction ID already exists",
		})
	case errors.Is(err, risk.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Transaction not found",
		})
	case errors.Is(err, risk.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_status",
			"message": "Status must be SAFE, UNDER_REVIEW or FRAUD",
		})
	default:
		logging.L(c.Request.Context()).Error("transaction request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Internal server error",
		})
	}
}
