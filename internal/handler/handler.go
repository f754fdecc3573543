package handler

import (
	"errors"
	"strconv"

	"rewardsys/internal/config"
	"rewardsys/internal/infrastructure/lock"
	"rewardsys/internal/repository"
	"rewardsys/internal/service"
	"rewardsys/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	tenantService     *service.TenantService
	pointsService     *service.PointsService
	budgetService     *service.BudgetService
	walletService     *service.WalletService
	rewardService     *service.RewardService
	redemptionService *service.RedemptionService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *Handler {
	return &Handler{
		tenantService:     service.NewTenantService(db),
		pointsService:     service.NewPointsService(db, rdb, cfg),
		budgetService:     service.NewBudgetService(db),
		walletService:     service.NewWalletService(db),
		rewardService:     service.NewRewardService(db),
		redemptionService: service.NewRedemptionService(db, rdb, cfg),
	}
}

// businessError 把仓储层哨兵错误映射为业务码返回
func businessError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrTenantNotFound):
		response.BusinessError(c, response.CodeTenantNotFound, err.Error())
	case errors.Is(err, repository.ErrBudgetNotFound):
		response.BusinessError(c, response.CodeBudgetNotFound, err.Error())
	case errors.Is(err, repository.ErrWalletNotFound):
		response.BusinessError(c, response.CodeWalletNotFound, err.Error())
	case errors.Is(err, repository.ErrRewardNotFound):
		response.BusinessError(c, response.CodeRewardNotFound, err.Error())
	case errors.Is(err, repository.ErrRedemptionNotFound):
		response.BusinessError(c, response.CodeRedemptionNotFound, err.Error())
	case errors.Is(err, repository.ErrDepartmentBudgetNotFound),
		errors.Is(err, repository.ErrLeadAllocationNotFound):
		response.BusinessError(c, response.CodeAllocationNotFound, err.Error())
	case errors.Is(err, repository.ErrWalletBalanceNotEnough),
		errors.Is(err, repository.ErrTenantBalanceNotEnough),
		errors.Is(err, repository.ErrDepartmentBudgetNotEnough),
		errors.Is(err, repository.ErrLeadAllocationNotEnough):
		response.BusinessError(c, response.CodeBalanceNotEnough, err.Error())
	case errors.Is(err, repository.ErrBudgetExceeded):
		response.BusinessError(c, response.CodeBudgetExceeded, err.Error())
	case errors.Is(err, repository.ErrRedemptionStatusInvalid):
		response.BusinessError(c, response.CodeStatusInvalid, err.Error())
	case errors.Is(err, repository.ErrOptimisticLock),
		errors.Is(err, lock.ErrLockFailed):
		response.BusinessError(c, response.CodeConcurrencyConflict, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

func parseInt64Query(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Query(name), 10, 64)
	if err != nil {
		response.ParamError(c, name+" 参数错误")
		return 0, false
	}
	return v, true
}

func parsePageQuery(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	return page, pageSize
}

// ============================================================
// 租户相关接口
// ============================================================

// CreateTenantRequest 创建租户请求
type CreateTenantRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateTenant 创建租户
// POST /api/v1/tenant/create
func (h *Handler) CreateTenant(c *gin.Context) {
	var req CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	tenant, err := h.tenantService.CreateTenant(c.Request.Context(), req.Name)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, tenant)
}

// GetTenant 查询租户（含三个池字段）
// GET /api/v1/tenant/detail?tenant_id=xxx
func (h *Handler) GetTenant(c *gin.Context) {
	tenantID, ok := parseInt64Query(c, "tenant_id")
	if !ok {
		return
	}

	tenant, err := h.tenantService.GetTenant(c.Request.Context(), tenantID)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, tenant)
}

// ListTenantLedger 租户主预算流水
// GET /api/v1/tenant/ledger?tenant_id=xxx&page=1&page_size=10
func (h *Handler) ListTenantLedger(c *gin.Context) {
	tenantID, ok := parseInt64Query(c, "tenant_id")
	if !ok {
		return
	}
	page, pageSize := parsePageQuery(c)

	entries, total, err := h.tenantService.ListMasterLedger(c.Request.Context(), tenantID, page, pageSize)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      entries,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 转账协议接口
// ============================================================

// AllocateToTenantRequest 平台授予请求
type AllocateToTenantRequest struct {
	TenantID int64  `json:"tenant_id" binding:"required"`
	Points   int64  `json:"points" binding:"required,gt=0"`
	Remark   string `json:"remark"`
}

// AllocateToTenant 平台向租户授予积分
// POST /api/v1/points/allocate-tenant
func (h *Handler) AllocateToTenant(c *gin.Context) {
	var req AllocateToTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	allocationNo, err := h.pointsService.AllocateToTenant(c.Request.Context(), &service.AllocateToTenantRequest{
		TenantID: req.TenantID,
		Points:   req.Points,
		Remark:   req.Remark,
	})
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, gin.H{"allocation_no": allocationNo})
}

// CreateBudgetRequest 创建预算请求
type CreateBudgetRequest struct {
	TenantID      int64  `json:"tenant_id" binding:"required"`
	Name          string `json:"name" binding:"required"`
	FiscalYear    int    `json:"fiscal_year" binding:"required"`
	FiscalQuarter int    `json:"fiscal_quarter"`
	TotalPoints   int64  `json:"total_points" binding:"required,gt=0"`
}

// CreateBudget 从租户池划出预算信封
// POST /api/v1/budget/create
func (h *Handler) CreateBudget(c *gin.Context) {
	var req CreateBudgetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	budget, err := h.pointsService.CreateBudget(c.Request.Context(), &service.CreateBudgetRequest{
		TenantID:      req.TenantID,
		Name:          req.Name,
		FiscalYear:    req.FiscalYear,
		FiscalQuarter: req.FiscalQuarter,
		TotalPoints:   req.TotalPoints,
	})
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, budget)
}

// AllocateToDepartmentRequest 部门分配请求
type AllocateToDepartmentRequest struct {
	BudgetID     int64 `json:"budget_id" binding:"required"`
	DepartmentID int64 `json:"department_id" binding:"required"`
	Points       int64 `json:"points" binding:"required,gt=0"`
}

// AllocateToDepartment 预算额度下放部门
// POST /api/v1/points/allocate-department
func (h *Handler) AllocateToDepartment(c *gin.Context) {
	var req AllocateToDepartmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	allocationNo, err := h.pointsService.AllocateToDepartment(c.Request.Context(), &service.AllocateToDepartmentRequest{
		BudgetID:     req.BudgetID,
		DepartmentID: req.DepartmentID,
		Points:       req.Points,
	})
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, gin.H{"allocation_no": allocationNo})
}

// DelegateToLeadRequest 负责人下放请求
type DelegateToLeadRequest struct {
	BudgetID     int64 `json:"budget_id" binding:"required"`
	DepartmentID int64 `json:"department_id" binding:"required"`
	LeadUserID   int64 `json:"lead_user_id" binding:"required"`
	Points       int64 `json:"points" binding:"required,gt=0"`
}

// DelegateToLead 部门额度下放负责人
// POST /api/v1/points/delegate-lead
func (h *Handler) DelegateToLead(c *gin.Context) {
	var req DelegateToLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	allocationNo, err := h.pointsService.DelegateToLead(c.Request.Context(), &service.DelegateToLeadRequest{
		BudgetID:     req.BudgetID,
		DepartmentID: req.DepartmentID,
		LeadUserID:   req.LeadUserID,
		Points:       req.Points,
	})
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, gin.H{"allocation_no": allocationNo})
}

// AwardRequest 管理员奖励请求
type AwardRequest struct {
	BudgetID     int64  `json:"budget_id" binding:"required"`
	SourceType   string `json:"source_type" binding:"required"`
	DepartmentID int64  `json:"department_id"`
	LeadUserID   int64  `json:"lead_user_id"`
	UserID       int64  `json:"user_id" binding:"required"`
	Points       int64  `json:"points" binding:"required,gt=0"`
	Reason       string `json:"reason"`
}

// Award 管理员奖励员工
// POST /api/v1/points/award
func (h *Handler) Award(c *gin.Context) {
	var req AwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	awardNo, err := h.pointsService.AwardToUser(c.Request.Context(), &service.AwardToUserRequest{
		BudgetID:     req.BudgetID,
		SourceType:   req.SourceType,
		DepartmentID: req.DepartmentID,
		LeadUserID:   req.LeadUserID,
		UserID:       req.UserID,
		Points:       req.Points,
		Reason:       req.Reason,
	})
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, gin.H{"award_no": awardNo})
}

// RecognizeRequest 同事认可请求
type RecognizeRequest struct {
	BudgetID   int64  `json:"budget_id" binding:"required"`
	FromUserID int64  `json:"from_user_id" binding:"required"`
	ToUserID   int64  `json:"to_user_id" binding:"required"`
	Points     int64  `json:"points" binding:"required,gt=0"`
	Message    string `json:"message"`
}

// Recognize 同事认可
// POST /api/v1/points/recognize
func (h *Handler) Recognize(c *gin.Context) {
	var req RecognizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	awardNo, err := h.pointsService.Recognize(c.Request.Context(), &service.RecognizeRequest{
		BudgetID:   req.BudgetID,
		FromUserID: req.FromUserID,
		ToUserID:   req.ToUserID,
		Points:     req.Points,
		Message:    req.Message,
	})
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, gin.H{"award_no": awardNo})
}

// ClawbackRequest 回收请求
type ClawbackRequest struct {
	UserID int64  `json:"user_id" binding:"required"`
	Points int64  `json:"points" binding:"required,gt=0"`
	Reason string `json:"reason" binding:"required"`
}

// Clawback 管理员回收员工积分
// POST /api/v1/points/clawback
func (h *Handler) Clawback(c *gin.Context) {
	var req ClawbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	clawbackNo, err := h.pointsService.Clawback(c.Request.Context(), &service.ClawbackRequest{
		UserID: req.UserID,
		Points: req.Points,
		Reason: req.Reason,
	})
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, gin.H{"clawback_no": clawbackNo})
}

// ============================================================
// 预算查询接口
// ============================================================

// GetBudget 预算总览（信封 + 部门/负责人切片）
// GET /api/v1/budget/detail?budget_id=xxx
func (h *Handler) GetBudget(c *gin.Context) {
	budgetID, ok := parseInt64Query(c, "budget_id")
	if !ok {
		return
	}

	summary, err := h.budgetService.GetBudgetSummary(c.Request.Context(), budgetID)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, summary)
}

// ListBudgets 租户预算列表
// GET /api/v1/budget/list?tenant_id=xxx&page=1&page_size=10
func (h *Handler) ListBudgets(c *gin.Context) {
	tenantID, ok := parseInt64Query(c, "tenant_id")
	if !ok {
		return
	}
	page, pageSize := parsePageQuery(c)

	budgets, total, err := h.budgetService.ListBudgets(c.Request.Context(), tenantID, page, pageSize)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      budgets,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ListAllocationLog 预算分配流水
// GET /api/v1/budget/allocation-log?budget_id=xxx&page=1&page_size=10
func (h *Handler) ListAllocationLog(c *gin.Context) {
	budgetID, ok := parseInt64Query(c, "budget_id")
	if !ok {
		return
	}
	page, pageSize := parsePageQuery(c)

	entries, total, err := h.budgetService.ListAllocationLog(c.Request.Context(), budgetID, page, pageSize)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      entries,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 钱包接口
// ============================================================

// GetWalletBalance 查询员工钱包
// GET /api/v1/wallet/balance?tenant_id=xxx&user_id=xxx
func (h *Handler) GetWalletBalance(c *gin.Context) {
	tenantID, ok := parseInt64Query(c, "tenant_id")
	if !ok {
		return
	}
	userID, ok := parseInt64Query(c, "user_id")
	if !ok {
		return
	}

	wallet, err := h.walletService.GetWallet(c.Request.Context(), tenantID, userID)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id":         wallet.UserID,
		"balance":         wallet.Balance,
		"lifetime_earned": wallet.LifetimeEarned,
		"lifetime_spent":  wallet.LifetimeSpent,
	})
}

// ListWalletLedger 员工钱包流水
// GET /api/v1/wallet/ledger?user_id=xxx&page=1&page_size=10
func (h *Handler) ListWalletLedger(c *gin.Context) {
	userID, ok := parseInt64Query(c, "user_id")
	if !ok {
		return
	}
	page, pageSize := parsePageQuery(c)

	entries, total, err := h.walletService.ListLedger(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      entries,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}
