package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"rewardplane/pkg/errutil"
	"rewardplane/services/authority"
	"rewardplane/services/balance"
	"rewardplane/services/engine"
	"rewardplane/services/event"
	"rewardplane/services/ledger"
	"rewardplane/services/staking"
)

type Handler struct {
	engine    *engine.Service
	balance   *balance.Service
	ledger    *ledger.Service
	staking   *staking.Service
	authority *authority.Service
}

type HandlerParams struct {
	fx.In
	Engine    *engine.Service
	Balance   *balance.Service
	Ledger    *ledger.Service
	Staking   *staking.Service
	Authority *authority.Service
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		engine:    p.Engine,
		balance:   p.Balance,
		ledger:    p.Ledger,
		staking:   p.Staking,
		authority: p.Authority,
	}
}

// SubmitEvent accepts one raw behavior event and returns the resulting reward
// breakdown. Duplicates return the originally applied breakdown with 200.
func (h *Handler) SubmitEvent(c *gin.Context) {
	var sub event.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	breakdown, err := h.engine.SubmitEvent(c.Request.Context(), sub)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"breakdown": breakdown})
}

func (h *Handler) GetBalance(c *gin.Context) {
	row, err := h.balance.GetBalance(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (h *Handler) ListLedger(c *gin.Context) {
	var filter ledger.Filter
	if err := c.ShouldBindQuery(&filter.Pagination); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}
	filter.EventType = c.Query("event_type")

	entries, pageInfo, err := h.ledger.ListForUser(c.Request.Context(), c.Param("user_id"), filter)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries, "page_info": pageInfo})
}

func (h *Handler) GetSettlement(c *gin.Context) {
	userID := c.Param("user_id")
	eligible, err := h.balance.IsSettlementEligible(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":   userID,
		"eligible":  eligible,
		"threshold": h.balance.Threshold(),
	})
}

type stakeRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Tier   int    `json:"tier" binding:"required"`
}

func (h *Handler) CreateStake(c *gin.Context) {
	var req stakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	stake, err := h.staking.Stake(c.Request.Context(), req.UserID, req.Tier)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, stake)
}

func (h *Handler) RequestUnstake(c *gin.Context) {
	stake, err := h.staking.RequestUnstake(c.Request.Context(), c.Param("stake_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, stake)
}

func (h *Handler) CompleteUnstake(c *gin.Context) {
	stake, err := h.staking.CompleteUnstake(c.Request.Context(), c.Param("stake_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, stake)
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) RevokeStake(c *gin.Context) {
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	stake, err := h.staking.Revoke(c.Request.Context(), c.Param("stake_id"), req.Reason)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, stake)
}

func (h *Handler) ListStakes(c *gin.Context) {
	stakes, err := h.staking.ListStakes(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stakes": stakes})
}

type checkActionRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	ActionID string `json:"action_id" binding:"required"`
}

func (h *Handler) CheckAction(c *gin.Context) {
	var req checkActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	decision, err := h.authority.CheckAction(c.Request.Context(), req.UserID, req.ActionID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, decision)
}
