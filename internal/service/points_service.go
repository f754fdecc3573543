package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"rewardsys/internal/config"
	"rewardsys/internal/infrastructure/lock"
	"rewardsys/internal/metrics"
	"rewardsys/internal/model"
	"rewardsys/internal/repository"
	"rewardsys/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ============================================================================
// 转账协议
// ============================================================================
//
// 积分在层级间流动：平台 -> 租户 -> 预算 -> 部门 -> 负责人 -> 员工钱包
//
// 【关键点】每一跳转账必须保证：
// 1. 校验源池余额充足（余额不足是业务错误，返回给调用方，不是崩溃）
// 2. 扣减源池、增加目标池、写配对流水，在同一个数据库事务内完成
// 3. 任一步失败整体回滚，不允许出现只扣不加或有账无流水的中间态
// ============================================================================

type PointsService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         *config.Config
	tenantRepo  *repository.TenantRepository
	budgetRepo  *repository.BudgetRepository
	deptRepo    *repository.DepartmentBudgetRepository
	leadRepo    *repository.LeadAllocationRepository
	walletRepo  *repository.WalletRepository
	ledgerRepo  *repository.LedgerRepository
	outboxRepo  *repository.OutboxRepository
}

func NewPointsService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *PointsService {
	return &PointsService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		tenantRepo:  repository.NewTenantRepository(db),
		budgetRepo:  repository.NewBudgetRepository(db),
		deptRepo:    repository.NewDepartmentBudgetRepository(db),
		leadRepo:    repository.NewLeadAllocationRepository(db),
		walletRepo:  repository.NewWalletRepository(db),
		ledgerRepo:  repository.NewLedgerRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
	}
}

// ============================================================
// 平台 -> 租户
// ============================================================

type AllocateToTenantRequest struct {
	TenantID int64  `json:"tenant_id"`
	Points   int64  `json:"points"`
	Remark   string `json:"remark"`
}

// AllocateToTenant 平台向租户授予积分
// 同步增加租户三个池字段，写平台计费流水和主预算流水各一行
func (s *PointsService) AllocateToTenant(ctx context.Context, req *AllocateToTenantRequest) (string, error) {
	if req.Points <= 0 {
		return "", errors.New("授予积分必须大于0")
	}

	tenantLock := lock.NewTenantLock(s.redisClient, req.TenantID, uuid.NewString())
	if err := tenantLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return "", fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer tenantLock.Unlock(ctx)

	tenant, err := s.tenantRepo.GetByID(ctx, req.TenantID)
	if err != nil {
		return "", err
	}

	allocationNo := idgen.GenerateAllocationNo()
	balanceAfter := tenant.MasterBudgetBalance + req.Points

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.tenantRepo.CreditPools(ctx, tx, req.TenantID, req.Points); err != nil {
			return fmt.Errorf("租户池入账失败: %w", err)
		}

		billingLog := &model.PlatformBillingLog{
			LedgerNo:     idgen.GenerateLedgerNo(),
			TenantID:     req.TenantID,
			Points:       req.Points,
			Type:         model.LedgerTypeCredit,
			BalanceAfter: balanceAfter,
			ReferenceNo:  allocationNo,
			Remark:       req.Remark,
		}
		if err := s.ledgerRepo.CreatePlatformBillingLog(ctx, tx, billingLog); err != nil {
			return fmt.Errorf("记录计费流水失败: %w", err)
		}

		masterLedger := &model.MasterBudgetLedger{
			LedgerNo:     idgen.GenerateLedgerNo(),
			TenantID:     req.TenantID,
			Points:       req.Points,
			Type:         model.LedgerTypeCredit,
			BalanceAfter: balanceAfter,
			ReferenceNo:  allocationNo,
			Remark:       fmt.Sprintf("平台授予-%s", req.Remark),
		}
		if err := s.ledgerRepo.CreateMasterBudgetLedger(ctx, tx, masterLedger); err != nil {
			return fmt.Errorf("记录主预算流水失败: %w", err)
		}

		return s.writePointsEvent(ctx, tx, allocationNo, map[string]interface{}{
			"event":         "tenant_allocated",
			"allocation_no": allocationNo,
			"tenant_id":     req.TenantID,
			"points":        req.Points,
		})
	})

	if err != nil {
		metrics.TransferTotal.WithLabelValues("allocate_to_tenant", metrics.OutcomeFailed).Inc()
		return "", err
	}

	metrics.TransferTotal.WithLabelValues("allocate_to_tenant", metrics.OutcomeSuccess).Inc()
	log.Printf("平台授予成功: allocationNo=%s, tenantID=%d, points=%d", allocationNo, req.TenantID, req.Points)
	return allocationNo, nil
}

// ============================================================
// 租户 -> 预算信封
// ============================================================

type CreateBudgetRequest struct {
	TenantID      int64  `json:"tenant_id"`
	Name          string `json:"name"`
	FiscalYear    int    `json:"fiscal_year"`
	FiscalQuarter int    `json:"fiscal_quarter"`
	TotalPoints   int64  `json:"total_points"`
}

// CreateBudget 从租户可分配余额中划出一个预算信封
func (s *PointsService) CreateBudget(ctx context.Context, req *CreateBudgetRequest) (*model.Budget, error) {
	if req.TotalPoints <= 0 {
		return nil, errors.New("预算总额必须大于0")
	}

	tenantLock := lock.NewTenantLock(s.redisClient, req.TenantID, uuid.NewString())
	if err := tenantLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer tenantLock.Unlock(ctx)

	tenant, err := s.tenantRepo.GetByID(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	if tenant.BudgetAllocationBalance < req.TotalPoints {
		return nil, repository.ErrTenantBalanceNotEnough
	}

	allocationNo := idgen.GenerateAllocationNo()
	budget := &model.Budget{
		TenantID:      req.TenantID,
		Name:          req.Name,
		FiscalYear:    req.FiscalYear,
		FiscalQuarter: req.FiscalQuarter,
		TotalPoints:   req.TotalPoints,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.tenantRepo.DebitPools(ctx, tx, req.TenantID, req.TotalPoints, tenant.Version); err != nil {
			return fmt.Errorf("扣减租户可分配余额失败: %w", err)
		}

		if err := s.budgetRepo.Create(ctx, tx, budget); err != nil {
			return fmt.Errorf("创建预算失败: %w", err)
		}

		masterLedger := &model.MasterBudgetLedger{
			LedgerNo:     idgen.GenerateLedgerNo(),
			TenantID:     req.TenantID,
			Points:       -req.TotalPoints,
			Type:         model.LedgerTypeDebit,
			BalanceAfter: tenant.MasterBudgetBalance - req.TotalPoints,
			ReferenceNo:  allocationNo,
			Remark:       fmt.Sprintf("创建预算-%s", req.Name),
		}
		if err := s.ledgerRepo.CreateMasterBudgetLedger(ctx, tx, masterLedger); err != nil {
			return fmt.Errorf("记录主预算流水失败: %w", err)
		}

		allocationLog := &model.AllocationLog{
			LedgerNo:     idgen.GenerateLedgerNo(),
			TenantID:     req.TenantID,
			BudgetID:     budget.ID,
			SourceLevel:  model.AllocationLevelTenant,
			SourceID:     req.TenantID,
			TargetLevel:  model.AllocationLevelBudget,
			TargetID:     budget.ID,
			Points:       req.TotalPoints,
			Type:         model.LedgerTypeCredit,
			BalanceAfter: req.TotalPoints,
			ReferenceNo:  allocationNo,
			Remark:       fmt.Sprintf("创建预算-%s", req.Name),
		}
		if err := s.ledgerRepo.CreateAllocationLog(ctx, tx, allocationLog); err != nil {
			return fmt.Errorf("记录分配流水失败: %w", err)
		}

		return s.writePointsEvent(ctx, tx, allocationNo, map[string]interface{}{
			"event":         "budget_created",
			"allocation_no": allocationNo,
			"tenant_id":     req.TenantID,
			"budget_id":     budget.ID,
			"total_points":  req.TotalPoints,
		})
	})

	if err != nil {
		metrics.TransferTotal.WithLabelValues("create_budget", metrics.OutcomeFailed).Inc()
		return nil, err
	}

	metrics.TransferTotal.WithLabelValues("create_budget", metrics.OutcomeSuccess).Inc()
	log.Printf("预算创建成功: allocationNo=%s, budgetID=%d, totalPoints=%d", allocationNo, budget.ID, req.TotalPoints)
	return budget, nil
}

// ============================================================
// 预算 -> 部门
// ============================================================

type AllocateToDepartmentRequest struct {
	BudgetID     int64 `json:"budget_id"`
	DepartmentID int64 `json:"department_id"`
	Points       int64 `json:"points"`
}

// AllocateToDepartment 把信封额度下放给部门
//
// 【关键点】allocated <= total 在这里被校验两次：
// 1. IncreaseAllocated 的条件 UPDATE（行级）
// 2. 事务内 SumDepartmentAllocated 聚合复核（跨行）
// 聚合复核兜住并发下多部门同时分配挤爆信封的情况
func (s *PointsService) AllocateToDepartment(ctx context.Context, req *AllocateToDepartmentRequest) (string, error) {
	if req.Points <= 0 {
		return "", errors.New("分配积分必须大于0")
	}

	budget, err := s.budgetRepo.GetByID(ctx, req.BudgetID)
	if err != nil {
		return "", err
	}

	allocationNo := idgen.GenerateAllocationNo()

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.budgetRepo.IncreaseAllocated(ctx, tx, req.BudgetID, req.Points); err != nil {
			return err
		}

		dept, err := s.deptRepo.GetOrCreate(ctx, tx, budget.TenantID, req.BudgetID, req.DepartmentID)
		if err != nil {
			return fmt.Errorf("获取部门份额失败: %w", err)
		}

		if err := s.deptRepo.IncreaseAllocated(ctx, tx, dept.ID, req.Points); err != nil {
			return fmt.Errorf("部门份额入账失败: %w", err)
		}

		// 聚合复核：所有部门份额之和不能超过信封总额
		sum, err := s.budgetRepo.SumDepartmentAllocated(ctx, tx, req.BudgetID)
		if err != nil {
			return fmt.Errorf("聚合复核失败: %w", err)
		}
		if sum > budget.TotalPoints {
			return repository.ErrBudgetExceeded
		}

		allocationLog := &model.AllocationLog{
			LedgerNo:     idgen.GenerateLedgerNo(),
			TenantID:     budget.TenantID,
			BudgetID:     req.BudgetID,
			SourceLevel:  model.AllocationLevelBudget,
			SourceID:     req.BudgetID,
			TargetLevel:  model.AllocationLevelDepartment,
			TargetID:     req.DepartmentID,
			Points:       req.Points,
			Type:         model.LedgerTypeCredit,
			BalanceAfter: dept.AllocatedPoints + req.Points,
			ReferenceNo:  allocationNo,
		}
		if err := s.ledgerRepo.CreateAllocationLog(ctx, tx, allocationLog); err != nil {
			return fmt.Errorf("记录分配流水失败: %w", err)
		}

		return s.writePointsEvent(ctx, tx, allocationNo, map[string]interface{}{
			"event":         "department_allocated",
			"allocation_no": allocationNo,
			"budget_id":     req.BudgetID,
			"department_id": req.DepartmentID,
			"points":        req.Points,
		})
	})

	if err != nil {
		metrics.TransferTotal.WithLabelValues("allocate_to_department", metrics.OutcomeFailed).Inc()
		return "", err
	}

	metrics.TransferTotal.WithLabelValues("allocate_to_department", metrics.OutcomeSuccess).Inc()
	log.Printf("部门分配成功: allocationNo=%s, budgetID=%d, deptID=%d, points=%d",
		allocationNo, req.BudgetID, req.DepartmentID, req.Points)
	return allocationNo, nil
}

// ============================================================
// 部门 -> 负责人
// ============================================================

type DelegateToLeadRequest struct {
	BudgetID     int64 `json:"budget_id"`
	DepartmentID int64 `json:"department_id"`
	LeadUserID   int64 `json:"lead_user_id"`
	Points       int64 `json:"points"`
}

// DelegateToLead 部门把额度下放给负责人
// 部门侧计入 spent（份额被消耗），负责人侧计入 allocated
func (s *PointsService) DelegateToLead(ctx context.Context, req *DelegateToLeadRequest) (string, error) {
	if req.Points <= 0 {
		return "", errors.New("下放积分必须大于0")
	}

	dept, err := s.deptRepo.GetByBudgetAndDepartment(ctx, nil, req.BudgetID, req.DepartmentID)
	if err != nil {
		return "", err
	}

	allocationNo := idgen.GenerateAllocationNo()

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.deptRepo.IncreaseSpent(ctx, tx, dept.ID, req.Points); err != nil {
			return err
		}

		leadAlloc, err := s.leadRepo.GetOrCreate(ctx, tx, dept.TenantID, req.BudgetID, req.DepartmentID, req.LeadUserID)
		if err != nil {
			return fmt.Errorf("获取负责人额度失败: %w", err)
		}

		if err := s.leadRepo.IncreaseAllocated(ctx, tx, leadAlloc.ID, req.Points); err != nil {
			return fmt.Errorf("负责人额度入账失败: %w", err)
		}

		allocationLog := &model.AllocationLog{
			LedgerNo:     idgen.GenerateLedgerNo(),
			TenantID:     dept.TenantID,
			BudgetID:     req.BudgetID,
			SourceLevel:  model.AllocationLevelDepartment,
			SourceID:     req.DepartmentID,
			TargetLevel:  model.AllocationLevelLead,
			TargetID:     req.LeadUserID,
			Points:       req.Points,
			Type:         model.LedgerTypeCredit,
			BalanceAfter: leadAlloc.AllocatedPoints + req.Points,
			ReferenceNo:  allocationNo,
		}
		if err := s.ledgerRepo.CreateAllocationLog(ctx, tx, allocationLog); err != nil {
			return fmt.Errorf("记录分配流水失败: %w", err)
		}

		return s.writePointsEvent(ctx, tx, allocationNo, map[string]interface{}{
			"event":         "lead_delegated",
			"allocation_no": allocationNo,
			"budget_id":     req.BudgetID,
			"department_id": req.DepartmentID,
			"lead_user_id":  req.LeadUserID,
			"points":        req.Points,
		})
	})

	if err != nil {
		metrics.TransferTotal.WithLabelValues("delegate_to_lead", metrics.OutcomeFailed).Inc()
		return "", err
	}

	metrics.TransferTotal.WithLabelValues("delegate_to_lead", metrics.OutcomeSuccess).Inc()
	log.Printf("负责人下放成功: allocationNo=%s, budgetID=%d, leadUserID=%d, points=%d",
		allocationNo, req.BudgetID, req.LeadUserID, req.Points)
	return allocationNo, nil
}

// ============================================================
// 奖励入账（管理员奖励 / 同事认可）
// ============================================================

const (
	AwardSourceDepartment = "DEPARTMENT"
	AwardSourceLead       = "LEAD"
)

type AwardToUserRequest struct {
	BudgetID     int64  `json:"budget_id"`
	SourceType   string `json:"source_type"`   // DEPARTMENT 或 LEAD
	DepartmentID int64  `json:"department_id"` // SourceType=DEPARTMENT 时必填
	LeadUserID   int64  `json:"lead_user_id"`  // SourceType=LEAD 时必填
	UserID       int64  `json:"user_id"`
	Points       int64  `json:"points"`
	Reason       string `json:"reason"`
}

// AwardToUser 管理员奖励：从部门份额或负责人额度给员工钱包入账
func (s *PointsService) AwardToUser(ctx context.Context, req *AwardToUserRequest) (string, error) {
	if req.Points <= 0 {
		return "", errors.New("奖励积分必须大于0")
	}

	var tenantID int64
	var debitSource func(tx *gorm.DB) error
	var sourceLevel string
	var sourceID int64

	switch req.SourceType {
	case AwardSourceDepartment:
		dept, err := s.deptRepo.GetByBudgetAndDepartment(ctx, nil, req.BudgetID, req.DepartmentID)
		if err != nil {
			return "", err
		}
		tenantID = dept.TenantID
		sourceLevel = model.AllocationLevelDepartment
		sourceID = req.DepartmentID
		debitSource = func(tx *gorm.DB) error {
			return s.deptRepo.IncreaseSpent(ctx, tx, dept.ID, req.Points)
		}
	case AwardSourceLead:
		leadAlloc, err := s.leadRepo.GetByBudgetAndLead(ctx, nil, req.BudgetID, req.LeadUserID)
		if err != nil {
			return "", err
		}
		tenantID = leadAlloc.TenantID
		sourceLevel = model.AllocationLevelLead
		sourceID = req.LeadUserID
		debitSource = func(tx *gorm.DB) error {
			return s.leadRepo.IncreaseSpent(ctx, tx, leadAlloc.ID, req.Points)
		}
	default:
		return "", errors.New("奖励来源类型不合法")
	}

	return s.creditWallet(ctx, creditWalletParams{
		tenantID:    tenantID,
		budgetID:    req.BudgetID,
		sourceLevel: sourceLevel,
		sourceID:    sourceID,
		userID:      req.UserID,
		points:      req.Points,
		remark:      fmt.Sprintf("奖励-%s", req.Reason),
		event:       "user_awarded",
		operation:   "award_to_user",
		debitSource: debitSource,
	})
}

type RecognizeRequest struct {
	BudgetID   int64  `json:"budget_id"`
	FromUserID int64  `json:"from_user_id"` // 认可发起人（须持有负责人额度）
	ToUserID   int64  `json:"to_user_id"`
	Points     int64  `json:"points"`
	Message    string `json:"message"`
}

// Recognize 同事认可：发起人从自己的额度里拿积分认可同事
func (s *PointsService) Recognize(ctx context.Context, req *RecognizeRequest) (string, error) {
	if req.Points <= 0 {
		return "", errors.New("认可积分必须大于0")
	}
	if max := int64(s.cfg.Business.RecognitionMaxPoints); max > 0 && req.Points > max {
		return "", fmt.Errorf("单次认可积分不能超过%d", max)
	}
	if req.FromUserID == req.ToUserID {
		return "", errors.New("不能认可自己")
	}

	leadAlloc, err := s.leadRepo.GetByBudgetAndLead(ctx, nil, req.BudgetID, req.FromUserID)
	if err != nil {
		if errors.Is(err, repository.ErrLeadAllocationNotFound) {
			return "", errors.New("发起人没有可用的认可额度")
		}
		return "", err
	}

	// 每日认可次数上限：Redis 按天计数，次数用完当天不能再发起
	var counterKey string
	if dailyMax := int64(s.cfg.Business.RecognitionDailyMax); dailyMax > 0 {
		counterKey = fmt.Sprintf("recognize:daily:%d:%s", req.FromUserID, time.Now().Format("20060102"))
		n, err := s.redisClient.Incr(ctx, counterKey).Result()
		if err != nil {
			return "", fmt.Errorf("认可次数校验失败: %w", err)
		}
		if n == 1 {
			s.redisClient.Expire(ctx, counterKey, 24*time.Hour)
		}
		if n > dailyMax {
			s.redisClient.Decr(ctx, counterKey)
			return "", fmt.Errorf("今日认可次数已达上限%d", dailyMax)
		}
	}

	awardNo, err := s.creditWallet(ctx, creditWalletParams{
		tenantID:    leadAlloc.TenantID,
		budgetID:    req.BudgetID,
		sourceLevel: model.AllocationLevelLead,
		sourceID:    req.FromUserID,
		userID:      req.ToUserID,
		points:      req.Points,
		remark:      fmt.Sprintf("同事认可-%s", req.Message),
		event:       "user_recognized",
		operation:   "recognize",
		debitSource: func(tx *gorm.DB) error {
			return s.leadRepo.IncreaseSpent(ctx, tx, leadAlloc.ID, req.Points)
		},
	})

	// 入账失败不占当日次数
	if err != nil && counterKey != "" {
		s.redisClient.Decr(ctx, counterKey)
	}
	return awardNo, err
}

type creditWalletParams struct {
	tenantID    int64
	budgetID    int64
	sourceLevel string
	sourceID    int64
	userID      int64
	points      int64
	remark      string
	event       string
	operation   string
	debitSource func(tx *gorm.DB) error
}

// creditWallet 奖励入账的公共路径：扣源池 -> 钱包入账 -> 配对流水
func (s *PointsService) creditWallet(ctx context.Context, p creditWalletParams) (string, error) {
	walletLock := lock.NewWalletLock(s.redisClient, p.userID, uuid.NewString())
	if err := walletLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return "", fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer walletLock.Unlock(ctx)

	wallet, err := s.walletRepo.GetOrCreate(ctx, p.tenantID, p.userID)
	if err != nil {
		return "", fmt.Errorf("获取钱包失败: %w", err)
	}

	awardNo := idgen.GenerateAwardNo()

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := p.debitSource(tx); err != nil {
			return err
		}

		if err := s.walletRepo.Credit(ctx, tx, p.userID, p.points); err != nil {
			return fmt.Errorf("钱包入账失败: %w", err)
		}

		walletLedger := &model.WalletLedger{
			LedgerNo:      idgen.GenerateLedgerNo(),
			TenantID:      p.tenantID,
			UserID:        p.userID,
			Points:        p.points,
			Type:          model.LedgerTypeCredit,
			BalanceBefore: wallet.Balance,
			BalanceAfter:  wallet.Balance + p.points,
			ReferenceNo:   awardNo,
			Remark:        p.remark,
		}
		if err := s.ledgerRepo.CreateWalletLedger(ctx, tx, walletLedger); err != nil {
			return fmt.Errorf("记录钱包流水失败: %w", err)
		}

		allocationLog := &model.AllocationLog{
			LedgerNo:     idgen.GenerateLedgerNo(),
			TenantID:     p.tenantID,
			BudgetID:     p.budgetID,
			SourceLevel:  p.sourceLevel,
			SourceID:     p.sourceID,
			TargetLevel:  model.AllocationLevelWallet,
			TargetID:     p.userID,
			Points:       p.points,
			Type:         model.LedgerTypeCredit,
			BalanceAfter: wallet.Balance + p.points,
			ReferenceNo:  awardNo,
			Remark:       p.remark,
		}
		if err := s.ledgerRepo.CreateAllocationLog(ctx, tx, allocationLog); err != nil {
			return fmt.Errorf("记录分配流水失败: %w", err)
		}

		return s.writePointsEvent(ctx, tx, awardNo, map[string]interface{}{
			"event":    p.event,
			"award_no": awardNo,
			"user_id":  p.userID,
			"points":   p.points,
		})
	})

	if err != nil {
		metrics.TransferTotal.WithLabelValues(p.operation, metrics.OutcomeFailed).Inc()
		return "", err
	}

	metrics.TransferTotal.WithLabelValues(p.operation, metrics.OutcomeSuccess).Inc()
	log.Printf("奖励入账成功: awardNo=%s, userID=%d, points=%d", awardNo, p.userID, p.points)
	return awardNo, nil
}

// ============================================================
// 回收（员工钱包 -> 租户池）
// ============================================================

type ClawbackRequest struct {
	UserID int64  `json:"user_id"`
	Points int64  `json:"points"`
	Reason string `json:"reason"`
}

// Clawback 管理员回收员工积分，返还到租户的三个池
// 钱包余额不足时整单失败，不做部分回收
func (s *PointsService) Clawback(ctx context.Context, req *ClawbackRequest) (string, error) {
	if req.Points <= 0 {
		return "", errors.New("回收积分必须大于0")
	}

	walletLock := lock.NewWalletLock(s.redisClient, req.UserID, uuid.NewString())
	if err := walletLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return "", fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer walletLock.Unlock(ctx)

	wallet, err := s.walletRepo.GetByUserID(ctx, req.UserID)
	if err != nil {
		return "", err
	}
	if wallet.Balance < req.Points {
		return "", repository.ErrWalletBalanceNotEnough
	}

	tenant, err := s.tenantRepo.GetByID(ctx, wallet.TenantID)
	if err != nil {
		return "", err
	}

	clawbackNo := idgen.GenerateClawbackNo()

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.walletRepo.Clawback(ctx, tx, req.UserID, req.Points, wallet.Version); err != nil {
			return err
		}

		if err := s.tenantRepo.CreditPools(ctx, tx, wallet.TenantID, req.Points); err != nil {
			return fmt.Errorf("租户池入账失败: %w", err)
		}

		walletLedger := &model.WalletLedger{
			LedgerNo:      idgen.GenerateLedgerNo(),
			TenantID:      wallet.TenantID,
			UserID:        req.UserID,
			Points:        -req.Points,
			Type:          model.LedgerTypeDebit,
			BalanceBefore: wallet.Balance,
			BalanceAfter:  wallet.Balance - req.Points,
			ReferenceNo:   clawbackNo,
			Remark:        fmt.Sprintf("回收-%s", req.Reason),
		}
		if err := s.ledgerRepo.CreateWalletLedger(ctx, tx, walletLedger); err != nil {
			return fmt.Errorf("记录钱包流水失败: %w", err)
		}

		masterLedger := &model.MasterBudgetLedger{
			LedgerNo:     idgen.GenerateLedgerNo(),
			TenantID:     wallet.TenantID,
			Points:       req.Points,
			Type:         model.LedgerTypeCredit,
			BalanceAfter: tenant.MasterBudgetBalance + req.Points,
			ReferenceNo:  clawbackNo,
			Remark:       fmt.Sprintf("回收-%s", req.Reason),
		}
		if err := s.ledgerRepo.CreateMasterBudgetLedger(ctx, tx, masterLedger); err != nil {
			return fmt.Errorf("记录主预算流水失败: %w", err)
		}

		return s.writePointsEvent(ctx, tx, clawbackNo, map[string]interface{}{
			"event":       "points_clawed_back",
			"clawback_no": clawbackNo,
			"user_id":     req.UserID,
			"tenant_id":   wallet.TenantID,
			"points":      req.Points,
			"reason":      req.Reason,
		})
	})

	if err != nil {
		metrics.TransferTotal.WithLabelValues("clawback", metrics.OutcomeFailed).Inc()
		return "", err
	}

	metrics.TransferTotal.WithLabelValues("clawback", metrics.OutcomeSuccess).Inc()
	log.Printf("回收成功: clawbackNo=%s, userID=%d, points=%d", clawbackNo, req.UserID, req.Points)
	return clawbackNo, nil
}

// writePointsEvent 在当前事务内写积分事件到发件箱
func (s *PointsService) writePointsEvent(ctx context.Context, tx *gorm.DB, key string, payload map[string]interface{}) error {
	payload["occurred_at"] = time.Now().Format(time.RFC3339)
	payloadBytes, _ := json.Marshal(payload)

	outboxMsg := &model.OutboxMessage{
		MessageKey: key,
		Topic:      s.cfg.Kafka.Topic.PointsEvent,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, tx, outboxMsg); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}
