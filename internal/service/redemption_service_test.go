package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"rewardsys/internal/infrastructure/lock"
	"rewardsys/internal/model"
	"rewardsys/internal/repository"

	"gorm.io/gorm"
)

// seedRedeemable 一个有余额的用户 + 一个上架奖品
func seedRedeemable(t *testing.T, db *gorm.DB, balance int64) {
	t.Helper()

	wallet := &model.Wallet{TenantID: 1, UserID: 100, Balance: balance, LifetimeEarned: balance}
	if err := db.Create(wallet).Error; err != nil {
		t.Fatalf("创建钱包失败: %v", err)
	}

	reward := &model.RewardItem{
		SKU:          "GC-AMAZON-50",
		Name:         "亚马逊50礼品卡",
		RewardType:   model.RewardTypeGiftCard,
		PointCost:    500,
		ProviderCode: "AMZ50",
		Active:       true,
	}
	if err := db.Create(reward).Error; err != nil {
		t.Fatalf("创建奖品失败: %v", err)
	}
}

func TestRedeem(t *testing.T) {
	db, rdb, cfg := newTestEnv(t)
	svc := NewRedemptionService(db, rdb, cfg)
	ctx := context.Background()

	seedRedeemable(t, db, 1000)

	resp, err := svc.Redeem(ctx, &RedeemRequest{
		RequestID: "req-001",
		UserID:    100,
		RewardSKU: "GC-AMAZON-50",
	})
	if err != nil {
		t.Fatalf("Redeem 失败: %v", err)
	}
	if resp.Status != model.RedemptionStatusPending {
		t.Errorf("Status = %s, want PENDING", resp.Status)
	}
	if resp.PointCost != 500 {
		t.Errorf("PointCost = %d, want 500", resp.PointCost)
	}

	// 预扣：下单即扣钱包
	var wallet model.Wallet
	db.Where("user_id = ?", 100).First(&wallet)
	if wallet.Balance != 500 {
		t.Errorf("预扣后钱包 = %d, want 500", wallet.Balance)
	}
	if wallet.LifetimeSpent != 500 {
		t.Errorf("LifetimeSpent = %d, want 500", wallet.LifetimeSpent)
	}

	// 钱包流水 + 兑换流水各一行
	var walletLedgerCount, redemptionLedgerCount int64
	db.Model(&model.WalletLedger{}).Where("reference_no = ?", resp.RedemptionNo).Count(&walletLedgerCount)
	db.Model(&model.RedemptionLedger{}).Where("redemption_no = ?", resp.RedemptionNo).Count(&redemptionLedgerCount)
	if walletLedgerCount != 1 {
		t.Errorf("钱包流水 %d 行, want 1", walletLedgerCount)
	}
	if redemptionLedgerCount != 1 {
		t.Errorf("兑换流水 %d 行, want 1", redemptionLedgerCount)
	}

	if n := countOutbox(t, db, cfg.Kafka.Topic.RedemptionResult); n != 1 {
		t.Errorf("发件箱 %d 行, want 1", n)
	}
}

func TestRedeemIdempotent(t *testing.T) {
	db, rdb, cfg := newTestEnv(t)
	svc := NewRedemptionService(db, rdb, cfg)
	ctx := context.Background()

	seedRedeemable(t, db, 1000)

	first, err := svc.Redeem(ctx, &RedeemRequest{RequestID: "req-001", UserID: 100, RewardSKU: "GC-AMAZON-50"})
	if err != nil {
		t.Fatalf("首次 Redeem 失败: %v", err)
	}

	// 同一 RequestID 重放：返回同一单，不重复扣款
	second, err := svc.Redeem(ctx, &RedeemRequest{RequestID: "req-001", UserID: 100, RewardSKU: "GC-AMAZON-50"})
	if err != nil {
		t.Fatalf("重放 Redeem 失败: %v", err)
	}
	if second.RedemptionNo != first.RedemptionNo {
		t.Errorf("重放返回了不同兑换单: %s != %s", second.RedemptionNo, first.RedemptionNo)
	}

	var wallet model.Wallet
	db.Where("user_id = ?", 100).First(&wallet)
	if wallet.Balance != 500 {
		t.Errorf("重放后钱包 = %d, want 500（只扣一次）", wallet.Balance)
	}

	var count int64
	db.Model(&model.Redemption{}).Where("user_id = ?", 100).Count(&count)
	if count != 1 {
		t.Errorf("兑换单 %d 条, want 1", count)
	}
}

func TestRedeemInsufficientBalance(t *testing.T) {
	db, rdb, cfg := newTestEnv(t)
	svc := NewRedemptionService(db, rdb, cfg)

	seedRedeemable(t, db, 100)

	_, err := svc.Redeem(context.Background(), &RedeemRequest{
		RequestID: "req-001", UserID: 100, RewardSKU: "GC-AMAZON-50",
	})
	if !errors.Is(err, repository.ErrWalletBalanceNotEnough) {
		t.Fatalf("err = %v, want ErrWalletBalanceNotEnough", err)
	}

	var count int64
	db.Model(&model.Redemption{}).Count(&count)
	if count != 0 {
		t.Errorf("余额不足仍创建了兑换单: %d 条", count)
	}
}

func TestRedeemInactiveReward(t *testing.T) {
	db, rdb, cfg := newTestEnv(t)
	svc := NewRedemptionService(db, rdb, cfg)
	ctx := context.Background()

	seedRedeemable(t, db, 1000)
	db.Model(&model.RewardItem{}).Where("sku = ?", "GC-AMAZON-50").Update("active", false)

	_, err := svc.Redeem(ctx, &RedeemRequest{RequestID: "req-001", UserID: 100, RewardSKU: "GC-AMAZON-50"})
	if !errors.Is(err, repository.ErrRewardNotFound) {
		t.Fatalf("err = %v, want ErrRewardNotFound", err)
	}
}

func TestCompleteFulfillment(t *testing.T) {
	db, rdb, cfg := newTestEnv(t)
	svc := NewRedemptionService(db, rdb, cfg)
	ctx := context.Background()

	seedRedeemable(t, db, 1000)

	resp, err := svc.Redeem(ctx, &RedeemRequest{RequestID: "req-001", UserID: 100, RewardSKU: "GC-AMAZON-50"})
	if err != nil {
		t.Fatalf("Redeem 失败: %v", err)
	}

	if err := svc.ClaimForProcessing(ctx, resp.RedemptionNo); err != nil {
		t.Fatalf("ClaimForProcessing 失败: %v", err)
	}

	// 二次认领必须失败（多实例互斥）
	if err := svc.ClaimForProcessing(ctx, resp.RedemptionNo); !errors.Is(err, repository.ErrRedemptionStatusInvalid) {
		t.Fatalf("二次认领 err = %v, want ErrRedemptionStatusInvalid", err)
	}

	if err := svc.CompleteFulfillment(ctx, resp.RedemptionNo, "GC-VOUCHER-ABC"); err != nil {
		t.Fatalf("CompleteFulfillment 失败: %v", err)
	}

	got, err := svc.GetRedemption(ctx, resp.RedemptionNo)
	if err != nil {
		t.Fatalf("GetRedemption 失败: %v", err)
	}
	if got.Status != model.RedemptionStatusCompleted {
		t.Errorf("Status = %s, want COMPLETED", got.Status)
	}
	if got.VoucherCode != "GC-VOUCHER-ABC" {
		t.Errorf("VoucherCode = %s", got.VoucherCode)
	}

	// 完成不动余额：钱包保持预扣后的数字，流水不新增
	var wallet model.Wallet
	db.Where("user_id = ?", 100).First(&wallet)
	if wallet.Balance != 500 {
		t.Errorf("完成后钱包 = %d, want 500", wallet.Balance)
	}
	ledger, err := svc.GetRedemptionLedger(ctx, resp.RedemptionNo)
	if err != nil {
		t.Fatalf("GetRedemptionLedger 失败: %v", err)
	}
	if len(ledger) != 1 {
		t.Errorf("完成后兑换流水 %d 行, want 1（仅预扣行）", len(ledger))
	}
}

func TestFailFulfillmentRefundsExactlyOnce(t *testing.T) {
	db, rdb, cfg := newTestEnv(t)
	svc := NewRedemptionService(db, rdb, cfg)
	ctx := context.Background()

	seedRedeemable(t, db, 1000)

	resp, err := svc.Redeem(ctx, &RedeemRequest{RequestID: "req-001", UserID: 100, RewardSKU: "GC-AMAZON-50"})
	if err != nil {
		t.Fatalf("Redeem 失败: %v", err)
	}
	if err := svc.ClaimForProcessing(ctx, resp.RedemptionNo); err != nil {
		t.Fatalf("ClaimForProcessing 失败: %v", err)
	}

	if err := svc.FailFulfillment(ctx, resp.RedemptionNo, "供应商拒单"); err != nil {
		t.Fatalf("FailFulfillment 失败: %v", err)
	}

	// 等额冲正：钱包回到兑换前
	var wallet model.Wallet
	db.Where("user_id = ?", 100).First(&wallet)
	if wallet.Balance != 1000 {
		t.Errorf("冲正后钱包 = %d, want 1000", wallet.Balance)
	}
	if wallet.LifetimeSpent != 0 {
		t.Errorf("冲正后 LifetimeSpent = %d, want 0", wallet.LifetimeSpent)
	}

	got, _ := svc.GetRedemption(ctx, resp.RedemptionNo)
	if got.Status != model.RedemptionStatusFailed {
		t.Errorf("Status = %s, want FAILED", got.Status)
	}
	if !got.Refunded {
		t.Error("Refunded 标记未设置")
	}

	// 重复触发失败处理：不允许再次冲正
	err = svc.FailFulfillment(ctx, resp.RedemptionNo, "重复回调")
	if !errors.Is(err, repository.ErrRedemptionStatusInvalid) {
		t.Fatalf("重复冲正 err = %v, want ErrRedemptionStatusInvalid", err)
	}

	db.Where("user_id = ?", 100).First(&wallet)
	if wallet.Balance != 1000 {
		t.Errorf("重复冲正后钱包 = %d, want 1000（恰好一次）", wallet.Balance)
	}

	// 流水：预扣 DEBIT + 冲正 REVERSAL 恰好两行
	ledger, _ := svc.GetRedemptionLedger(ctx, resp.RedemptionNo)
	if len(ledger) != 2 {
		t.Fatalf("兑换流水 %d 行, want 2", len(ledger))
	}
	if ledger[0].Type != model.LedgerTypeDebit || ledger[1].Type != model.LedgerTypeReversal {
		t.Errorf("流水类型 = %s, %s, want DEBIT, REVERSAL", ledger[0].Type, ledger[1].Type)
	}
	if ledger[0].Points+ledger[1].Points != 0 {
		t.Errorf("预扣与冲正金额不对称: %d + %d", ledger[0].Points, ledger[1].Points)
	}
}

// 冲正和奖励入账共用用户级钱包锁，锁被占时冲正不能落库
func TestFailFulfillmentHoldsWalletLock(t *testing.T) {
	db, rdb, cfg := newTestEnv(t)
	svc := NewRedemptionService(db, rdb, cfg)
	ctx := context.Background()

	seedRedeemable(t, db, 1000)

	resp, err := svc.Redeem(ctx, &RedeemRequest{RequestID: "req-001", UserID: 100, RewardSKU: "GC-AMAZON-50"})
	if err != nil {
		t.Fatalf("Redeem 失败: %v", err)
	}
	if err := svc.ClaimForProcessing(ctx, resp.RedemptionNo); err != nil {
		t.Fatalf("ClaimForProcessing 失败: %v", err)
	}

	holder := lock.NewWalletLock(rdb, 100, "other-writer")
	if ok, err := holder.TryLock(ctx); err != nil || !ok {
		t.Fatalf("预占钱包锁失败: ok=%v err=%v", ok, err)
	}

	if err := svc.FailFulfillment(ctx, resp.RedemptionNo, "供应商拒单"); !errors.Is(err, lock.ErrLockFailed) {
		t.Fatalf("err = %v, want ErrLockFailed", err)
	}

	// 拿不到锁时状态和余额都不能动
	got, _ := svc.GetRedemption(ctx, resp.RedemptionNo)
	if got.Status != model.RedemptionStatusProcessing {
		t.Errorf("Status = %s, want PROCESSING", got.Status)
	}
	var wallet model.Wallet
	db.Where("user_id = ?", 100).First(&wallet)
	if wallet.Balance != 500 {
		t.Errorf("钱包 = %d, want 500", wallet.Balance)
	}

	if err := holder.Unlock(ctx); err != nil {
		t.Fatalf("释放钱包锁失败: %v", err)
	}

	if err := svc.FailFulfillment(ctx, resp.RedemptionNo, "供应商拒单"); err != nil {
		t.Fatalf("FailFulfillment 失败: %v", err)
	}
	db.Where("user_id = ?", 100).First(&wallet)
	if wallet.Balance != 1000 {
		t.Errorf("冲正后钱包 = %d, want 1000", wallet.Balance)
	}
}

func TestRequeueStuck(t *testing.T) {
	db, rdb, cfg := newTestEnv(t)
	svc := NewRedemptionService(db, rdb, cfg)
	ctx := context.Background()

	seedRedeemable(t, db, 1000)

	resp, err := svc.Redeem(ctx, &RedeemRequest{RequestID: "req-001", UserID: 100, RewardSKU: "GC-AMAZON-50"})
	if err != nil {
		t.Fatalf("Redeem 失败: %v", err)
	}
	if err := svc.ClaimForProcessing(ctx, resp.RedemptionNo); err != nil {
		t.Fatalf("ClaimForProcessing 失败: %v", err)
	}

	// 刚认领的单不算卡单
	requeued, err := svc.RequeueStuck(ctx, 10*time.Minute, 10)
	if err != nil {
		t.Fatalf("RequeueStuck 失败: %v", err)
	}
	if requeued != 0 {
		t.Errorf("requeued = %d, want 0", requeued)
	}

	// 把认领时间拨回半小时前，模拟任务崩溃留下的卡单
	oldTime := time.Now().Add(-30 * time.Minute)
	db.Model(&model.Redemption{}).
		Where("redemption_no = ?", resp.RedemptionNo).
		UpdateColumn("updated_at", oldTime)

	requeued, err = svc.RequeueStuck(ctx, 10*time.Minute, 10)
	if err != nil {
		t.Fatalf("RequeueStuck 失败: %v", err)
	}
	if requeued != 1 {
		t.Fatalf("requeued = %d, want 1", requeued)
	}

	got, _ := svc.GetRedemption(ctx, resp.RedemptionNo)
	if got.Status != model.RedemptionStatusPending {
		t.Errorf("重置后 Status = %s, want PENDING", got.Status)
	}
}

func TestGetRedemptionByRequestID(t *testing.T) {
	db, rdb, cfg := newTestEnv(t)
	svc := NewRedemptionService(db, rdb, cfg)
	ctx := context.Background()

	seedRedeemable(t, db, 1000)

	_, err := svc.GetRedemptionByRequestID(ctx, "no-such")
	if !errors.Is(err, repository.ErrRedemptionNotFound) {
		t.Fatalf("err = %v, want ErrRedemptionNotFound", err)
	}

	resp, err := svc.Redeem(ctx, &RedeemRequest{RequestID: "req-001", UserID: 100, RewardSKU: "GC-AMAZON-50"})
	if err != nil {
		t.Fatalf("Redeem 失败: %v", err)
	}

	got, err := svc.GetRedemptionByRequestID(ctx, "req-001")
	if err != nil {
		t.Fatalf("GetRedemptionByRequestID 失败: %v", err)
	}
	if got.RedemptionNo != resp.RedemptionNo {
		t.Errorf("RedemptionNo = %s, want %s", got.RedemptionNo, resp.RedemptionNo)
	}
}
