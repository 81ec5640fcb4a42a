package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"copytrade-engine/internal/copytrade"
	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/ranking"
	"copytrade-engine/internal/storage"
)

const (
	requestTimeout    = 10 * time.Second
	readHeaderTimeout = 5 * time.Second

	maxLeaderboardLimit = 500
)

// configRequest is the editable part of a CopyConfiguration.
type configRequest struct {
	SizingMode     domain.SizingMode  `json:"sizing_mode"`
	SizingValue    decimal.Decimal    `json:"sizing_value"`
	MaxSlippageBps int                `json:"max_slippage_bps"`
	MaxLeverage    decimal.Decimal    `json:"max_leverage"`
	NotionalCap    *decimal.Decimal   `json:"notional_cap"`
	PairFilters    domain.PairFilters `json:"pair_filters"`
	Enabled        *bool              `json:"enabled"` // defaults to true
}

func (r configRequest) toDomain(copytraderID string) domain.CopyConfiguration {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return domain.CopyConfiguration{
		CopytraderID:   copytraderID,
		SizingMode:     r.SizingMode,
		SizingValue:    r.SizingValue,
		MaxSlippageBps: r.MaxSlippageBps,
		MaxLeverage:    r.MaxLeverage,
		NotionalCap:    r.NotionalCap,
		PairFilters:    r.PairFilters,
		Enabled:        enabled,
	}
}

type followRequest struct {
	FollowerID    string        `json:"follower_id"`
	LeaderAddress string        `json:"leader_address"`
	Config        configRequest `json:"config"`
}

type updateConfigRequest struct {
	FollowerID string        `json:"follower_id"`
	Config     configRequest `json:"config"`
}

type modeRequest struct {
	Mode domain.ExecutionMode `json:"mode"`
}

// Controller serves the copy trading routes.
type Controller struct {
	svc *copytrade.Service
	log *zap.Logger
}

// NewController creates a Controller.
func NewController(svc *copytrade.Service, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{svc: svc, log: log}
}

// RegisterRoutes registers the public routes on rg.
func (c *Controller) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/follows", c.handleFollow)
	rg.DELETE("/follows/:follower/:leader", c.handleUnfollow)
	rg.PUT("/configs/:copytrader", c.handleUpdateConfig)
	rg.GET("/status/:follower", c.handleStatus)
	rg.GET("/leaderboard", c.handleLeaderboard)
	rg.GET("/traders/:address", c.handleTraderCard)
}

// RegisterAdminRoutes registers the operator routes on rg.
func (c *Controller) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.GET("/mode", c.handleGetMode)
	rg.PUT("/mode", c.handleSetMode)
}

func (c *Controller) handleFollow(ctx *gin.Context) {
	var req followRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()
	res, err := c.svc.FollowLeader(reqCtx, req.FollowerID, req.LeaderAddress, req.Config.toDomain(""))
	if err != nil {
		c.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, res)
}

func (c *Controller) handleUnfollow(ctx *gin.Context) {
	reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()
	res, err := c.svc.UnfollowLeader(reqCtx, ctx.Param("follower"), ctx.Param("leader"))
	if err != nil {
		c.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, res)
}

func (c *Controller) handleUpdateConfig(ctx *gin.Context) {
	var req updateConfigRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.FollowerID == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "follower_id is required"})
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()
	cfg, err := c.svc.UpdateConfig(reqCtx, req.FollowerID, req.Config.toDomain(ctx.Param("copytrader")))
	if err != nil {
		c.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, cfg)
}

func (c *Controller) handleStatus(ctx *gin.Context) {
	reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()
	status, err := c.svc.GetCopyStatus(reqCtx, ctx.Param("follower"))
	if err != nil {
		c.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, status)
}

func (c *Controller) handleLeaderboard(ctx *gin.Context) {
	limit := 0
	if s := ctx.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxLeaderboardLimit {
			ctx.JSON(http.StatusBadRequest, gin.H{
				"error": "invalid limit: must be an integer between 1 and " + strconv.Itoa(maxLeaderboardLimit),
			})
			return
		}
		limit = n
	}

	reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()
	scores, err := c.svc.GetLeaderboard(reqCtx, limit, ctx.Query("category"))
	if err != nil {
		c.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"leaders": scores})
}

func (c *Controller) handleTraderCard(ctx *gin.Context) {
	reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()
	card, err := c.svc.GetTraderCard(reqCtx, ctx.Param("address"))
	if err != nil {
		c.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, card)
}

func (c *Controller) handleGetMode(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"mode": c.svc.ExecutionMode()})
}

func (c *Controller) handleSetMode(ctx *gin.Context) {
	var req modeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := c.svc.SetExecutionMode(req.Mode); err != nil {
		c.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"mode": c.svc.ExecutionMode()})
}

// writeError maps service errors to status codes.
func (c *Controller) writeError(ctx *gin.Context, err error) {
	var verr *domain.ConfigValidationError
	switch {
	case errors.As(err, &verr):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "fields": verr.Fields})
	case errors.Is(err, ranking.ErrUnknownCategory):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		c.log.Error("request failed",
			zap.String("method", ctx.Request.Method),
			zap.String("route", ctx.FullPath()),
			zap.Error(err),
		)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
