package router

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gosimple/slug"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"codehunt/internal/db"
	"codehunt/internal/domain/hunt"
	"codehunt/internal/observability/metrics"
	redispkg "codehunt/internal/redis"
)

// Dependencies enumerates services required by API handlers.
type Dependencies struct {
	ClaimService *hunt.Service
	Store        *db.Store
	Redis        *redispkg.Client
	// ReclaimOnRemoval mirrors the config flag of the same name.
	ReclaimOnRemoval bool
}

// New builds a gin.Engine with all routes registered.
func New(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), metrics.GinMiddleware())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	h := &handler{
		svc:              deps.ClaimService,
		store:            deps.Store,
		redis:            deps.Redis,
		reclaimOnRemoval: deps.ReclaimOnRemoval,
	}

	router.POST("/claims", h.claim)
	router.GET("/users/:id", h.getUser)
	router.POST("/items", h.createItem)
	router.POST("/collectibles", h.createCollectible)
	router.POST("/admin/users/:id/attempts/clear", h.clearAttempts)
	router.POST("/admin/users/:id/claims/:itemID/remove", h.removeClaim)

	return router
}

type handler struct {
	svc              *hunt.Service
	store            *db.Store
	redis            *redispkg.Client
	reclaimOnRemoval bool
}

type claimRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Email  string `json:"email"`
	Code   string `json:"code" binding:"required"`
}

type skippedCollectible struct {
	Slug   string `json:"slug"`
	Reason string `json:"reason"`
}

type claimResponse struct {
	Status              string               `json:"status"`
	Message             string               `json:"message"`
	PointsAwarded       *int                 `json:"points_awarded,omitempty"`
	NewTotalPoints      *int                 `json:"new_total_points,omitempty"`
	GrantedCollectibles []string             `json:"granted_collectibles,omitempty"`
	SkippedCollectibles []skippedCollectible `json:"skipped_collectibles,omitempty"`
	RemainingAttempts   *int                 `json:"remaining_attempts,omitempty"`
	RateLimitResetAt    *time.Time           `json:"rate_limit_reset_at,omitempty"`
}

func (h *handler) claim(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.svc.Claim(c.Request.Context(), req.UserID, req.Email, req.Code, time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "claim could not be processed"})
		return
	}
	if result.Accepted {
		m := result.Manifest
		granted := make([]string, 0, len(m.Granted))
		for _, g := range m.Granted {
			granted = append(granted, g.Slug)
		}
		skipped := make([]skippedCollectible, 0, len(m.Skipped))
		for _, s := range m.Skipped {
			skipped = append(skipped, skippedCollectible{Slug: s.Slug, Reason: string(s.Reason)})
		}
		c.JSON(http.StatusOK, claimResponse{
			Status:              "SUCCESS",
			Message:             result.Message,
			PointsAwarded:       &m.PointsAwarded,
			NewTotalPoints:      &m.NewTotalPoints,
			GrantedCollectibles: granted,
			SkippedCollectibles: skipped,
		})
		return
	}
	c.JSON(rejectionStatusCode(result.Reason), claimResponse{
		Status:            string(result.Reason),
		Message:           result.Message,
		RemainingAttempts: result.RemainingAttempts,
		RateLimitResetAt:  result.RateLimitResetAt,
	})
}

func rejectionStatusCode(reason hunt.Reason) int {
	switch reason {
	case hunt.ReasonItemNotFound:
		return http.StatusNotFound
	case hunt.ReasonAlreadyClaimed:
		return http.StatusConflict
	case hunt.ReasonClaimLimitReached:
		return http.StatusGone
	case hunt.ReasonRateLimited:
		return http.StatusTooManyRequests
	case hunt.ReasonItemDisabled, hunt.ReasonItemNotYetActive, hunt.ReasonItemExpired:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func (h *handler) getUser(c *gin.Context) {
	user, err := h.store.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": user.ID, "email": user.Email, "points": user.Points})
}

type createItemRequest struct {
	Code            string     `json:"code" binding:"required"`
	Points          int        `json:"points"`
	MaxClaims       *int       `json:"max_claims"`
	Active          *bool      `json:"active"`
	ActivationStart *time.Time `json:"activation_start"`
	ActivationEnd   *time.Time `json:"activation_end"`
	CollectibleIDs  []int64    `json:"collectible_ids"`
}

func (h *handler) createItem(c *gin.Context) {
	var req createItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.MaxClaims != nil && *req.MaxClaims < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_claims must be non-negative"})
		return
	}
	if req.ActivationStart != nil && req.ActivationEnd != nil && !req.ActivationEnd.After(*req.ActivationStart) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "activation_end must be after activation_start"})
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	id, err := h.store.CreateItem(c.Request.Context(), hunt.HuntItem{
		Code:            req.Code,
		Points:          req.Points,
		MaxClaims:       req.MaxClaims,
		Active:          active,
		ActivationStart: req.ActivationStart,
		ActivationEnd:   req.ActivationEnd,
		CollectibleIDs:  req.CollectibleIDs,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// Prime the authoritative counter before the code is claimable.
	if err := h.redis.SeedClaimCounter(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to seed claim counter"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

type createCollectibleRequest struct {
	Name            string     `json:"name"`
	Slug            string     `json:"slug"`
	Points          int        `json:"points"`
	Active          *bool      `json:"active"`
	ActivationStart *time.Time `json:"activation_start"`
	ActivationEnd   *time.Time `json:"activation_end"`
	Limited         bool       `json:"limited"`
	Remaining       int        `json:"remaining"`
}

func (h *handler) createCollectible(c *gin.Context) {
	var req createCollectibleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	collSlug := req.Slug
	if collSlug == "" {
		collSlug = slug.Make(req.Name)
	}
	if collSlug == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slug or name is required"})
		return
	}
	if req.Limited && req.Remaining < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "remaining must be non-negative"})
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	id, err := h.store.CreateCollectible(c.Request.Context(), hunt.Collectible{
		Slug:            collSlug,
		Points:          req.Points,
		Active:          active,
		ActivationStart: req.ActivationStart,
		ActivationEnd:   req.ActivationEnd,
		Limited:         req.Limited,
		Remaining:       req.Remaining,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Limited {
		if err := h.redis.SeedStock(c.Request.Context(), id, req.Remaining); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to seed stock"})
			return
		}
	}
	c.JSON(http.StatusCreated, gin.H{"id": id, "slug": collSlug})
}

// clearAttempts drops a user's hot failure window; the durable attempt log
// is untouched.
func (h *handler) clearAttempts(c *gin.Context) {
	userID := c.Param("id")
	if err := h.redis.ClearFailures(c.Request.Context(), userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// removeClaim is the admin correction: deletes the durable claim row and
// releases the hot-side counter. The (user, item) slot reopens only when the
// service is configured to allow it. Points are not restored.
func (h *handler) removeClaim(c *gin.Context) {
	userID := c.Param("id")
	itemID, err := strconv.ParseInt(c.Param("itemID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item id"})
		return
	}
	removed, err := h.svc.RemoveClaim(c.Request.Context(), userID, itemID, h.reclaimOnRemoval)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "no claim to remove"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true, "slot_reopened": h.reclaimOnRemoval})
}
