package handler

import (
	"rewardsys/internal/service"
	"rewardsys/pkg/response"

	"github.com/gin-gonic/gin"
)

// ============================================================
// 奖品与兑换接口
// ============================================================

// CreateReward 上架奖品
// POST /api/v1/reward/create
func (h *Handler) CreateReward(c *gin.Context) {
	var req service.CreateRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	item, err := h.rewardService.CreateReward(c.Request.Context(), &req)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, item)
}

// ListRewards 可兑换奖品目录
// GET /api/v1/reward/list
func (h *Handler) ListRewards(c *gin.Context) {
	items, err := h.rewardService.ListRewards(c.Request.Context())
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, items)
}

// DeactivateReward 下架奖品
// POST /api/v1/reward/deactivate
func (h *Handler) DeactivateReward(c *gin.Context) {
	var req struct {
		SKU string `json:"sku" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.rewardService.DeactivateReward(c.Request.Context(), req.SKU); err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, nil)
}

// Redeem 发起兑换（钱包预扣，履约异步）
// POST /api/v1/redemption/redeem
func (h *Handler) Redeem(c *gin.Context) {
	var req service.RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	resp, err := h.redemptionService.Redeem(c.Request.Context(), &req)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, resp)
}

// GetRedemption 查询兑换单
// GET /api/v1/redemption/detail?redemption_no=xxx
func (h *Handler) GetRedemption(c *gin.Context) {
	redemptionNo := c.Query("redemption_no")
	if redemptionNo == "" {
		response.ParamError(c, "redemption_no 不能为空")
		return
	}

	redemption, err := h.redemptionService.GetRedemption(c.Request.Context(), redemptionNo)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, redemption)
}

// GetRedemptionByRequestID 按幂等ID查询兑换单
// GET /api/v1/redemption/by-request?request_id=xxx
func (h *Handler) GetRedemptionByRequestID(c *gin.Context) {
	requestID := c.Query("request_id")
	if requestID == "" {
		response.ParamError(c, "request_id 不能为空")
		return
	}

	redemption, err := h.redemptionService.GetRedemptionByRequestID(c.Request.Context(), requestID)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, redemption)
}

// ListRedemptions 员工兑换记录
// GET /api/v1/redemption/list?user_id=xxx&page=1&page_size=10
func (h *Handler) ListRedemptions(c *gin.Context) {
	userID, ok := parseInt64Query(c, "user_id")
	if !ok {
		return
	}
	page, pageSize := parsePageQuery(c)

	redemptions, total, err := h.redemptionService.ListUserRedemptions(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      redemptions,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetRedemptionLedger 兑换单流水（对账用）
// GET /api/v1/redemption/ledger?redemption_no=xxx
func (h *Handler) GetRedemptionLedger(c *gin.Context) {
	redemptionNo := c.Query("redemption_no")
	if redemptionNo == "" {
		response.ParamError(c, "redemption_no 不能为空")
		return
	}

	entries, err := h.redemptionService.GetRedemptionLedger(c.Request.Context(), redemptionNo)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, entries)
}
