package service

import (
	"context"
	"encoding/json"
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
	"gorm.io/gorm"
)

// ============================================================================
// 兑换状态机
// ============================================================================
//
// PENDING -> PROCESSING -> COMPLETED | FAILED
//
// 【关键点】预扣模式：下单即扣钱包，履约异步执行
// 1. Redeem 在一个事务内完成：扣钱包 + 建兑换单(PENDING) + 写两张流水 + 发件箱
// 2. 履约任务认领(PROCESSING)后调用供应商
// 3. 成功 -> COMPLETED，写入兑换码
// 4. 失败 -> FAILED，等额冲正返还钱包，恰好一次（条件 UPDATE + refunded 标记双保险）
//
// "已扣款但未履约"的窗口是设计内状态，由流水表对账兜底
// ============================================================================

type RedemptionService struct {
	db             *gorm.DB
	redisClient    *redis.Client
	cfg            *config.Config
	walletRepo     *repository.WalletRepository
	rewardRepo     *repository.RewardRepository
	redemptionRepo *repository.RedemptionRepository
	ledgerRepo     *repository.LedgerRepository
	outboxRepo     *repository.OutboxRepository
}

func NewRedemptionService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *RedemptionService {
	return &RedemptionService{
		db:             db,
		redisClient:    redisClient,
		cfg:            cfg,
		walletRepo:     repository.NewWalletRepository(db),
		rewardRepo:     repository.NewRewardRepository(db),
		redemptionRepo: repository.NewRedemptionRepository(db),
		ledgerRepo:     repository.NewLedgerRepository(db),
		outboxRepo:     repository.NewOutboxRepository(db),
	}
}

type RedeemRequest struct {
	RequestID string `json:"request_id" binding:"required"` // 幂等ID，客户端生成
	UserID    int64  `json:"user_id" binding:"required"`
	RewardSKU string `json:"reward_sku" binding:"required"`
}

type RedeemResponse struct {
	RedemptionNo string `json:"redemption_no"`
	Status       string `json:"status"`
	PointCost    int64  `json:"point_cost"`
	VoucherCode  string `json:"voucher_code,omitempty"`
	Message      string `json:"message,omitempty"`
}

// Redeem 发起兑换（钱包预扣）
func (s *RedemptionService) Redeem(ctx context.Context, req *RedeemRequest) (*RedeemResponse, error) {
	// 幂等校验
	existing, err := s.redemptionRepo.GetByRequestID(ctx, req.RequestID)
	if err != nil {
		return nil, fmt.Errorf("查询兑换单失败: %w", err)
	}
	if existing != nil {
		return redeemResponseFrom(existing, "兑换单已存在"), nil
	}

	// 获取分布式锁（按用户维度）
	redeemLock := lock.NewRedeemLock(s.redisClient, req.UserID, req.RequestID)
	if err := redeemLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer redeemLock.Unlock(ctx)

	// 获取锁后再次检查幂等
	existing, err = s.redemptionRepo.GetByRequestID(ctx, req.RequestID)
	if err != nil {
		return nil, fmt.Errorf("查询兑换单失败: %w", err)
	}
	if existing != nil {
		return redeemResponseFrom(existing, "兑换单已存在"), nil
	}

	reward, err := s.rewardRepo.GetActiveBySKU(ctx, req.RewardSKU)
	if err != nil {
		return nil, err
	}

	wallet, err := s.walletRepo.GetByUserID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if wallet.Balance < reward.PointCost {
		return nil, repository.ErrWalletBalanceNotEnough
	}

	redemptionNo := idgen.GenerateRedemptionNo()
	redemption := &model.Redemption{
		RedemptionNo: redemptionNo,
		RequestID:    req.RequestID,
		TenantID:     wallet.TenantID,
		UserID:       req.UserID,
		RewardSKU:    reward.SKU,
		RewardName:   reward.Name,
		ProviderCode: reward.ProviderCode,
		PointCost:    reward.PointCost,
		Status:       model.RedemptionStatusPending,
	}

	// 执行预扣事务
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.walletRepo.Spend(ctx, tx, req.UserID, reward.PointCost, wallet.Version); err != nil {
			return err
		}

		if err := s.redemptionRepo.Create(ctx, tx, redemption); err != nil {
			return fmt.Errorf("创建兑换单失败: %w", err)
		}

		walletLedger := &model.WalletLedger{
			LedgerNo:      idgen.GenerateLedgerNo(),
			TenantID:      wallet.TenantID,
			UserID:        req.UserID,
			Points:        -reward.PointCost,
			Type:          model.LedgerTypeDebit,
			BalanceBefore: wallet.Balance,
			BalanceAfter:  wallet.Balance - reward.PointCost,
			ReferenceNo:   redemptionNo,
			Remark:        fmt.Sprintf("兑换-%s", reward.Name),
		}
		if err := s.ledgerRepo.CreateWalletLedger(ctx, tx, walletLedger); err != nil {
			return fmt.Errorf("记录钱包流水失败: %w", err)
		}

		redemptionLedger := &model.RedemptionLedger{
			LedgerNo:     idgen.GenerateLedgerNo(),
			TenantID:     wallet.TenantID,
			UserID:       req.UserID,
			RedemptionNo: redemptionNo,
			Points:       -reward.PointCost,
			Type:         model.LedgerTypeDebit,
			BalanceAfter: wallet.Balance - reward.PointCost,
			Remark:       fmt.Sprintf("兑换预扣-%s", reward.Name),
		}
		if err := s.ledgerRepo.CreateRedemptionLedger(ctx, tx, redemptionLedger); err != nil {
			return fmt.Errorf("记录兑换流水失败: %w", err)
		}

		return s.writeRedemptionEvent(ctx, tx, redemptionNo, map[string]interface{}{
			"event":         "redemption_requested",
			"redemption_no": redemptionNo,
			"user_id":       req.UserID,
			"reward_sku":    reward.SKU,
			"point_cost":    reward.PointCost,
		})
	})

	if err != nil {
		metrics.RedemptionTotal.WithLabelValues("request_failed").Inc()
		return nil, err
	}

	metrics.RedemptionTotal.WithLabelValues("requested").Inc()
	log.Printf("兑换下单成功: redemptionNo=%s, userID=%d, pointCost=%d", redemptionNo, req.UserID, reward.PointCost)

	return redeemResponseFrom(redemption, "兑换已受理，等待履约"), nil
}

// ClaimForProcessing 履约任务认领兑换单：PENDING -> PROCESSING
func (s *RedemptionService) ClaimForProcessing(ctx context.Context, redemptionNo string) error {
	return s.redemptionRepo.UpdateStatus(ctx, nil, redemptionNo,
		model.RedemptionStatusPending, model.RedemptionStatusProcessing)
}

// CompleteFulfillment 履约成功：PROCESSING -> COMPLETED
// 完成不动钱包余额，所以不写钱包/兑换流水，只落状态和事件
func (s *RedemptionService) CompleteFulfillment(ctx context.Context, redemptionNo, voucherCode string) error {
	redemption, err := s.redemptionRepo.GetByRedemptionNo(ctx, redemptionNo)
	if err != nil {
		return err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.redemptionRepo.MarkCompleted(ctx, tx, redemptionNo, voucherCode); err != nil {
			return err
		}

		return s.writeRedemptionEvent(ctx, tx, redemptionNo, map[string]interface{}{
			"event":         "redemption_completed",
			"redemption_no": redemptionNo,
			"user_id":       redemption.UserID,
			"reward_sku":    redemption.RewardSKU,
		})
	})

	if err != nil {
		return err
	}

	metrics.RedemptionTotal.WithLabelValues("completed").Inc()
	log.Printf("履约成功: redemptionNo=%s, userID=%d", redemptionNo, redemption.UserID)
	return nil
}

// FailFulfillment 履约失败：PROCESSING -> FAILED + 等额冲正
//
// 【关键点】冲正恰好一次的保障：
// 1. MarkFailed 的条件 UPDATE 带 status = PROCESSING AND refunded = false，
//    并发调用只有一个能成功，其余拿到 ErrRedemptionStatusInvalid
// 2. 冲正入账和流水与状态流转在同一事务，要么全成要么全回滚
// 3. 冲正和其他钱包入账一样持用户级锁，保证流水里的余额快照不被并发写打脏
func (s *RedemptionService) FailFulfillment(ctx context.Context, redemptionNo, reason string) error {
	redemption, err := s.redemptionRepo.GetByRedemptionNo(ctx, redemptionNo)
	if err != nil {
		return err
	}

	walletLock := lock.NewWalletLock(s.redisClient, redemption.UserID, redemptionNo)
	if err := walletLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer walletLock.Unlock(ctx)

	// 余额快照必须在拿到锁之后读
	wallet, err := s.walletRepo.GetByUserID(ctx, redemption.UserID)
	if err != nil {
		return err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.redemptionRepo.MarkFailed(ctx, tx, redemptionNo, reason); err != nil {
			return err
		}

		if err := s.walletRepo.Refund(ctx, tx, redemption.UserID, redemption.PointCost); err != nil {
			return fmt.Errorf("冲正返还失败: %w", err)
		}

		walletLedger := &model.WalletLedger{
			LedgerNo:      idgen.GenerateLedgerNo(),
			TenantID:      redemption.TenantID,
			UserID:        redemption.UserID,
			Points:        redemption.PointCost,
			Type:          model.LedgerTypeReversal,
			BalanceBefore: wallet.Balance,
			BalanceAfter:  wallet.Balance + redemption.PointCost,
			ReferenceNo:   redemptionNo,
			Remark:        fmt.Sprintf("兑换失败冲正-%s", reason),
		}
		if err := s.ledgerRepo.CreateWalletLedger(ctx, tx, walletLedger); err != nil {
			return fmt.Errorf("记录钱包流水失败: %w", err)
		}

		redemptionLedger := &model.RedemptionLedger{
			LedgerNo:     idgen.GenerateLedgerNo(),
			TenantID:     redemption.TenantID,
			UserID:       redemption.UserID,
			RedemptionNo: redemptionNo,
			Points:       redemption.PointCost,
			Type:         model.LedgerTypeReversal,
			BalanceAfter: wallet.Balance + redemption.PointCost,
			Remark:       fmt.Sprintf("兑换失败冲正-%s", reason),
		}
		if err := s.ledgerRepo.CreateRedemptionLedger(ctx, tx, redemptionLedger); err != nil {
			return fmt.Errorf("记录兑换流水失败: %w", err)
		}

		return s.writeRedemptionEvent(ctx, tx, redemptionNo, map[string]interface{}{
			"event":         "redemption_failed",
			"redemption_no": redemptionNo,
			"user_id":       redemption.UserID,
			"reason":        reason,
			"refunded":      redemption.PointCost,
		})
	})

	if err != nil {
		return err
	}

	metrics.RedemptionTotal.WithLabelValues("failed_refunded").Inc()
	log.Printf("履约失败已冲正: redemptionNo=%s, userID=%d, refunded=%d",
		redemptionNo, redemption.UserID, redemption.PointCost)
	return nil
}

// RequeueStuck 把长时间停留在 PROCESSING 的卡单重置回 PENDING
// 供应商调用按 RedemptionNo 幂等，重调不会重复发货
func (s *RedemptionService) RequeueStuck(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	beforeTime := time.Now().Add(-olderThan)
	stuck, err := s.redemptionRepo.GetStuckProcessing(ctx, beforeTime, limit)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, r := range stuck {
		err := s.redemptionRepo.UpdateStatus(ctx, nil, r.RedemptionNo,
			model.RedemptionStatusProcessing, model.RedemptionStatusPending)
		if err != nil {
			log.Printf("卡单重置失败: redemptionNo=%s, err=%v", r.RedemptionNo, err)
			continue
		}
		requeued++
		log.Printf("卡单已重置回待履约: redemptionNo=%s", r.RedemptionNo)
	}

	return requeued, nil
}

// ============================================================
// 查询
// ============================================================

func (s *RedemptionService) GetRedemption(ctx context.Context, redemptionNo string) (*model.Redemption, error) {
	return s.redemptionRepo.GetByRedemptionNo(ctx, redemptionNo)
}

func (s *RedemptionService) GetRedemptionByRequestID(ctx context.Context, requestID string) (*model.Redemption, error) {
	redemption, err := s.redemptionRepo.GetByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if redemption == nil {
		return nil, repository.ErrRedemptionNotFound
	}
	return redemption, nil
}

func (s *RedemptionService) ListUserRedemptions(ctx context.Context, userID int64, page, pageSize int) ([]*model.Redemption, int64, error) {
	return s.redemptionRepo.ListByUserID(ctx, userID, page, pageSize)
}

// GetRedemptionLedger 兑换单的完整流水（对账用）
func (s *RedemptionService) GetRedemptionLedger(ctx context.Context, redemptionNo string) ([]*model.RedemptionLedger, error) {
	if _, err := s.redemptionRepo.GetByRedemptionNo(ctx, redemptionNo); err != nil {
		return nil, err
	}
	return s.ledgerRepo.ListRedemptionLedger(ctx, redemptionNo)
}

func redeemResponseFrom(r *model.Redemption, message string) *RedeemResponse {
	return &RedeemResponse{
		RedemptionNo: r.RedemptionNo,
		Status:       r.Status,
		PointCost:    r.PointCost,
		VoucherCode:  r.VoucherCode,
		Message:      message,
	}
}

func (s *RedemptionService) writeRedemptionEvent(ctx context.Context, tx *gorm.DB, key string, payload map[string]interface{}) error {
	payload["occurred_at"] = time.Now().Format(time.RFC3339)
	payloadBytes, _ := json.Marshal(payload)

	outboxMsg := &model.OutboxMessage{
		MessageKey: key,
		Topic:      s.cfg.Kafka.Topic.RedemptionResult,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, tx, outboxMsg); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}
