package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"rewardsys/internal/model"
	"rewardsys/internal/repository"
)

func TestAllocateToTenant(t *testing.T) {
	db, rdb, cfg := newTestEnv(t)
	svc := NewPointsService(db, rdb, cfg)
	ctx := context.Background()

	tenant := &model.Tenant{Name: "测试租户"}
	if err := db.Create(tenant).Error; err != nil {
		t.Fatalf("创建租户失败: %v", err)
	}

	allocationNo, err := svc.AllocateToTenant(ctx, &AllocateToTenantRequest{
		TenantID: tenant.ID,
		Points:   10000,
		Remark:   "年度采购",
	})
	if err != nil {
		t.Fatalf("AllocateToTenant 失败: %v", err)
	}
	if !strings.HasPrefix(allocationNo, "ALC") {
		t.Errorf("分配单号 %s 前缀不是 ALC", allocationNo)
	}

	var got model.Tenant
	db.First(&got, tenant.ID)
	if got.MasterBudgetBalance != 10000 || got.BudgetAllocationBalance != 10000 || got.AllocatedBudget != 10000 {
		t.Errorf("三个池字段未同步: master=%d alloc=%d total=%d",
			got.MasterBudgetBalance, got.BudgetAllocationBalance, got.AllocatedBudget)
	}

	// 计费流水和主预算流水各一行
	var billingCount, masterCount int64
	db.Model(&model.PlatformBillingLog{}).Where("tenant_id = ?", tenant.ID).Count(&billingCount)
	db.Model(&model.MasterBudgetLedger{}).Where("tenant_id = ?", tenant.ID).Count(&masterCount)
	if billingCount != 1 {
		t.Errorf("计费流水 %d 行, want 1", billingCount)
	}
	if masterCount != 1 {
		t.Errorf("主预算流水 %d 行, want 1", masterCount)
	}

	if n := countOutbox(t, db, cfg.Kafka.Topic.PointsEvent); n != 1 {
		t.Errorf("发件箱 %d 行, want 1", n)
	}
}

func TestAllocateToTenantNotFound(t *testing.T) {
	db, rdb, cfg := newTestEnv(t)
	svc := NewPointsService(db, rdb, cfg)

	_, err := svc.AllocateToTenant(context.Background(), &AllocateToTenantRequest{
		TenantID: 9999,
		Points:   100,
	})
	if !errors.Is(err, repository.ErrTenantNotFound) {
		t.Fatalf("err = %v, want ErrTenantNotFound", err)
	}
}

func TestCreateBudget(t *testing.T) {
	db, rdb, cfg := newTestEnv(t)
	svc := NewPointsService(db, rdb, cfg)
	ctx := context.Background()

	tenant := &model.Tenant{Name: "测试租户"}
	db.Create(tenant)
	if _, err := svc.AllocateToTenant(ctx, &AllocateToTenantRequest{TenantID: tenant.ID, Points: 10000}); err != nil {
		t.Fatalf("AllocateToTenant 失败: %v", err)
	}

	budget, err := svc.CreateBudget(ctx, &CreateBudgetRequest{
		TenantID:    tenant.ID,
		Name:        "2026Q1",
		FiscalYear:  2026,
		TotalPoints: 6000,
	})
	if err != nil {
		t.Fatalf("CreateBudget 失败: %v", err)
	}
	if budget.TotalPoints != 6000 {
		t.Errorf("TotalPoints = %d, want 6000", budget.TotalPoints)
	}

	var got model.Tenant
	db.First(&got, tenant.ID)
	if got.MasterBudgetBalance != 4000 {
		t.Errorf("MasterBudgetBalance = %d, want 4000", got.MasterBudgetBalance)
	}
	if got.BudgetAllocationBalance != 4000 {
		t.Errorf("BudgetAllocationBalance = %d, want 4000", got.BudgetAllocationBalance)
	}
	// 累计授予不回退
	if got.AllocatedBudget != 10000 {
		t.Errorf("AllocatedBudget = %d, want 10000", got.AllocatedBudget)
	}
}

func TestCreateBudgetInsufficient(t *testing.T) {
	db, rdb, cfg := newTestEnv(t)
	svc := NewPointsService(db, rdb, cfg)
	ctx := context.Background()

	tenant := &model.Tenant{Name: "测试租户"}
	db.Create(tenant)
	if _, err := svc.AllocateToTenant(ctx, &AllocateToTenantRequest{TenantID: tenant.ID, Points: 100}); err != nil {
		t.Fatalf("AllocateToTenant 失败: %v", err)
	}

	_, err := svc.CreateBudget(ctx, &CreateBudgetRequest{
		TenantID:    tenant.ID,
		Name:        "超额预算",
		FiscalYear:  2026,
		TotalPoints: 500,
	})
	if !errors.Is(err, repository.ErrTenantBalanceNotEnough) {
		t.Fatalf("err = %v, want ErrTenantBalanceNotEnough", err)
	}
}

// setupBudgetChain 搭一条完整的分配链路：租户(10000) -> 预算(6000)
func setupBudgetChain(t *testing.T, svc *PointsService) (tenantID, budgetID int64) {
	t.Helper()
	ctx := context.Background()

	tenant := &model.Tenant{Name: "测试租户"}
	if err := svc.db.Create(tenant).Error; err != nil {
		t.Fatalf("创建租户失败: %v", err)
	}
	if _, err := svc.AllocateToTenant(ctx, &AllocateToTenantRequest{TenantID: tenant.ID, Points: 10000}); err != nil {
		t.Fatalf("AllocateToTenant 失败: %v", err)
	}
	budget, err := svc.CreateBudget(ctx, &CreateBudgetRequest{
		TenantID:    tenant.ID,
		Name:        "2026Q1",
		FiscalYear:  2026,
		TotalPoints: 6000,
	})
	if err != nil {
		t.Fatalf("CreateBudget 失败: %v", err)
	}
	return tenant.ID, budget.ID
}

func TestAllocateToDepartment(t *testing.T) {
	db, rdb, cfg := newTestEnv(t)
	svc := NewPointsService(db, rdb, cfg)
	ctx := context.Background()

	_, budgetID := setupBudgetChain(t, svc)

	if _, err := svc.AllocateToDepartment(ctx, &AllocateToDepartmentRequest{
		BudgetID:     budgetID,
		DepartmentID: 10,
		Points:       4000,
	}); err != nil {
		t.Fatalf("AllocateToDepartment 失败: %v", err)
	}

	var budget model.Budget
	db.First(&budget, budgetID)
	if budget.AllocatedPoints != 4000 {
		t.Errorf("AllocatedPoints = %d, want 4000", budget.AllocatedPoints)
	}

	var dept model.DepartmentBudget
	db.Where("budget_id = ? AND department_id = ?", budgetID, 10).First(&dept)
	if dept.AllocatedPoints != 4000 {
		t.Errorf("部门份额 = %d, want 4000", dept.AllocatedPoints)
	}
}

func TestAllocateToDepartmentExceedsEnvelope(t *testing.T) {
	db, rdb, cfg := newTestEnv(t)
	svc := NewPointsService(db, rdb, cfg)
	ctx := context.Background()

	_, budgetID := setupBudgetChain(t, svc)

	if _, err := svc.AllocateToDepartment(ctx, &AllocateToDepartmentRequest{
		BudgetID: budgetID, DepartmentID: 10, Points: 4000,
	}); err != nil {
		t.Fatalf("首次分配失败: %v", err)
	}

	// 4000 + 3000 > 6000
	_, err := svc.AllocateToDepartment(ctx, &AllocateToDepartmentRequest{
		BudgetID: budgetID, DepartmentID: 20, Points: 3000,
	})
	if !errors.Is(err, repository.ErrBudgetExceeded) {
		t.Fatalf("err = %v, want ErrBudgetExceeded", err)
	}

	// 失败的分配必须整体回滚
	var dept model.DepartmentBudget
	result := db.Where("budget_id = ? AND department_id = ?", budgetID, 20).First(&dept)
	if result.Error == nil {
		t.Errorf("超限分配回滚后仍残留部门份额行: %+v", dept)
	}
	var budget model.Budget
	db.First(&budget, budgetID)
	if budget.AllocatedPoints != 4000 {
		t.Errorf("回滚后 AllocatedPoints = %d, want 4000", budget.AllocatedPoints)
	}
}

func TestDelegateToLead(t *testing.T) {
	db, rdb, cfg := newTestEnv(t)
	svc := NewPointsService(db, rdb, cfg)
	ctx := context.Background()

	_, budgetID := setupBudgetChain(t, svc)
	if _, err := svc.AllocateToDepartment(ctx, &AllocateToDepartmentRequest{
		BudgetID: budgetID, DepartmentID: 10, Points: 4000,
	}); err != nil {
		t.Fatalf("AllocateToDepartment 失败: %v", err)
	}

	if _, err := svc.DelegateToLead(ctx, &DelegateToLeadRequest{
		BudgetID: budgetID, DepartmentID: 10, LeadUserID: 777, Points: 1500,
	}); err != nil {
		t.Fatalf("DelegateToLead 失败: %v", err)
	}

	var dept model.DepartmentBudget
	db.Where("budget_id = ? AND department_id = ?", budgetID, 10).First(&dept)
	if dept.SpentPoints != 1500 {
		t.Errorf("部门 SpentPoints = %d, want 1500", dept.SpentPoints)
	}

	var lead model.LeadAllocation
	db.Where("budget_id = ? AND lead_user_id = ?", budgetID, 777).First(&lead)
	if lead.AllocatedPoints != 1500 {
		t.Errorf("负责人额度 = %d, want 1500", lead.AllocatedPoints)
	}

	// 超出部门可用份额
	_, err := svc.DelegateToLead(ctx, &DelegateToLeadRequest{
		BudgetID: budgetID, DepartmentID: 10, LeadUserID: 888, Points: 3000,
	})
	if !errors.Is(err, repository.ErrDepartmentBudgetNotEnough) {
		t.Fatalf("err = %v, want ErrDepartmentBudgetNotEnough", err)
	}
}

func TestAwardToUserFromDepartment(t *testing.T) {
	db, rdb, cfg := newTestEnv(t)
	svc := NewPointsService(db, rdb, cfg)
	ctx := context.Background()

	_, budgetID := setupBudgetChain(t, svc)
	if _, err := svc.AllocateToDepartment(ctx, &AllocateToDepartmentRequest{
		BudgetID: budgetID, DepartmentID: 10, Points: 4000,
	}); err != nil {
		t.Fatalf("AllocateToDepartment 失败: %v", err)
	}

	awardNo, err := svc.AwardToUser(ctx, &AwardToUserRequest{
		BudgetID:     budgetID,
		SourceType:   AwardSourceDepartment,
		DepartmentID: 10,
		UserID:       100,
		Points:       300,
		Reason:       "季度之星",
	})
	if err != nil {
		t.Fatalf("AwardToUser 失败: %v", err)
	}
	if !strings.HasPrefix(awardNo, "AWD") {
		t.Errorf("奖励单号 %s 前缀不是 AWD", awardNo)
	}

	var wallet model.Wallet
	db.Where("user_id = ?", 100).First(&wallet)
	if wallet.Balance != 300 || wallet.LifetimeEarned != 300 {
		t.Errorf("钱包 balance=%d earned=%d, want 300/300", wallet.Balance, wallet.LifetimeEarned)
	}

	// 钱包流水和分配流水配对
	var walletLedger model.WalletLedger
	if err := db.Where("user_id = ? AND reference_no = ?", 100, awardNo).First(&walletLedger).Error; err != nil {
		t.Fatalf("查钱包流水失败: %v", err)
	}
	if walletLedger.Points != 300 || walletLedger.Type != model.LedgerTypeCredit {
		t.Errorf("钱包流水 points=%d type=%s", walletLedger.Points, walletLedger.Type)
	}
	if walletLedger.BalanceBefore != 0 || walletLedger.BalanceAfter != 300 {
		t.Errorf("流水余额快照 before=%d after=%d", walletLedger.BalanceBefore, walletLedger.BalanceAfter)
	}

	var allocLog model.AllocationLog
	if err := db.Where("reference_no = ? AND target_level = ?", awardNo, model.AllocationLevelWallet).First(&allocLog).Error; err != nil {
		t.Fatalf("查分配流水失败: %v", err)
	}
	if allocLog.SourceLevel != model.AllocationLevelDepartment {
		t.Errorf("SourceLevel = %s, want DEPARTMENT", allocLog.SourceLevel)
	}
}

func TestAwardToUserFromLead(t *testing.T) {
	db, rdb, cfg := newTestEnv(t)
	svc := NewPointsService(db, rdb, cfg)
	ctx := context.Background()

	_, budgetID := setupBudgetChain(t, svc)
	if _, err := svc.AllocateToDepartment(ctx, &AllocateToDepartmentRequest{
		BudgetID: budgetID, DepartmentID: 10, Points: 4000,
	}); err != nil {
		t.Fatalf("AllocateToDepartment 失败: %v", err)
	}
	if _, err := svc.DelegateToLead(ctx, &DelegateToLeadRequest{
		BudgetID: budgetID, DepartmentID: 10, LeadUserID: 777, Points: 1000,
	}); err != nil {
		t.Fatalf("DelegateToLead 失败: %v", err)
	}

	if _, err := svc.AwardToUser(ctx, &AwardToUserRequest{
		BudgetID:   budgetID,
		SourceType: AwardSourceLead,
		LeadUserID: 777,
		UserID:     200,
		Points:     400,
		Reason:     "项目攻坚",
	}); err != nil {
		t.Fatalf("AwardToUser 失败: %v", err)
	}

	var lead model.LeadAllocation
	db.Where("budget_id = ? AND lead_user_id = ?", budgetID, 777).First(&lead)
	if lead.SpentPoints != 400 {
		t.Errorf("负责人 SpentPoints = %d, want 400", lead.SpentPoints)
	}

	// 额度不足
	_, err := svc.AwardToUser(ctx, &AwardToUserRequest{
		BudgetID:   budgetID,
		SourceType: AwardSourceLead,
		LeadUserID: 777,
		UserID:     200,
		Points:     700,
	})
	if !errors.Is(err, repository.ErrLeadAllocationNotEnough) {
		t.Fatalf("err = %v, want ErrLeadAllocationNotEnough", err)
	}
}

func TestAwardToUserInvalidSource(t *testing.T) {
	db, rdb, cfg := newTestEnv(t)
	svc := NewPointsService(db, rdb, cfg)

	_, err := svc.AwardToUser(context.Background(), &AwardToUserRequest{
		BudgetID:   1,
		SourceType: "PLATFORM",
		UserID:     100,
		Points:     100,
	})
	if err == nil {
		t.Fatal("非法来源类型未被拒绝")
	}
}

func TestRecognize(t *testing.T) {
	db, rdb, cfg := newTestEnv(t)
	svc := NewPointsService(db, rdb, cfg)
	ctx := context.Background()

	_, budgetID := setupBudgetChain(t, svc)
	if _, err := svc.AllocateToDepartment(ctx, &AllocateToDepartmentRequest{
		BudgetID: budgetID, DepartmentID: 10, Points: 4000,
	}); err != nil {
		t.Fatalf("AllocateToDepartment 失败: %v", err)
	}
	if _, err := svc.DelegateToLead(ctx, &DelegateToLeadRequest{
		BudgetID: budgetID, DepartmentID: 10, LeadUserID: 777, Points: 1000,
	}); err != nil {
		t.Fatalf("DelegateToLead 失败: %v", err)
	}

	if _, err := svc.Recognize(ctx, &RecognizeRequest{
		BudgetID:   budgetID,
		FromUserID: 777,
		ToUserID:   300,
		Points:     50,
		Message:    "感谢支援",
	}); err != nil {
		t.Fatalf("Recognize 失败: %v", err)
	}

	var wallet model.Wallet
	db.Where("user_id = ?", 300).First(&wallet)
	if wallet.Balance != 50 {
		t.Errorf("被认可人钱包 = %d, want 50", wallet.Balance)
	}

	var lead model.LeadAllocation
	db.Where("budget_id = ? AND lead_user_id = ?", budgetID, 777).First(&lead)
	if lead.SpentPoints != 50 {
		t.Errorf("发起人额度消耗 = %d, want 50", lead.SpentPoints)
	}
}

func TestRecognizeSelf(t *testing.T) {
	db, rdb, cfg := newTestEnv(t)
	svc := NewPointsService(db, rdb, cfg)

	_, err := svc.Recognize(context.Background(), &RecognizeRequest{
		BudgetID:   1,
		FromUserID: 777,
		ToUserID:   777,
		Points:     50,
	})
	if err == nil {
		t.Fatal("自我认可未被拒绝")
	}
}

func TestRecognizeOverMax(t *testing.T) {
	db, rdb, cfg := newTestEnv(t)
	svc := NewPointsService(db, rdb, cfg)

	// 配置上限 500
	_, err := svc.Recognize(context.Background(), &RecognizeRequest{
		BudgetID:   1,
		FromUserID: 777,
		ToUserID:   300,
		Points:     600,
	})
	if err == nil {
		t.Fatal("超上限认可未被拒绝")
	}
}

func TestRecognizeDailyLimit(t *testing.T) {
	db, rdb, cfg := newTestEnv(t)
	cfg.Business.RecognitionDailyMax = 2
	svc := NewPointsService(db, rdb, cfg)
	ctx := context.Background()

	_, budgetID := setupBudgetChain(t, svc)
	if _, err := svc.AllocateToDepartment(ctx, &AllocateToDepartmentRequest{
		BudgetID: budgetID, DepartmentID: 10, Points: 4000,
	}); err != nil {
		t.Fatalf("AllocateToDepartment 失败: %v", err)
	}
	if _, err := svc.DelegateToLead(ctx, &DelegateToLeadRequest{
		BudgetID: budgetID, DepartmentID: 10, LeadUserID: 777, Points: 100,
	}); err != nil {
		t.Fatalf("DelegateToLead 失败: %v", err)
	}

	recognize := func(points int64) error {
		_, err := svc.Recognize(ctx, &RecognizeRequest{
			BudgetID:   budgetID,
			FromUserID: 777,
			ToUserID:   300,
			Points:     points,
		})
		return err
	}

	if err := recognize(50); err != nil {
		t.Fatalf("第一次认可失败: %v", err)
	}

	// 额度不足的认可不占当日次数
	if err := recognize(300); !errors.Is(err, repository.ErrLeadAllocationNotEnough) {
		t.Fatalf("err = %v, want ErrLeadAllocationNotEnough", err)
	}

	if err := recognize(30); err != nil {
		t.Fatalf("第二次认可失败: %v", err)
	}

	// 当日次数用完
	err := recognize(10)
	if err == nil {
		t.Fatal("超出每日认可次数未被拒绝")
	}
	if !strings.Contains(err.Error(), "上限") {
		t.Errorf("err = %v, want 每日次数上限错误", err)
	}

	var wallet model.Wallet
	db.Where("user_id = ?", 300).First(&wallet)
	if wallet.Balance != 80 {
		t.Errorf("被认可人钱包 = %d, want 80", wallet.Balance)
	}
}

func TestClawback(t *testing.T) {
	db, rdb, cfg := newTestEnv(t)
	svc := NewPointsService(db, rdb, cfg)
	ctx := context.Background()

	tenantID, budgetID := setupBudgetChain(t, svc)
	if _, err := svc.AllocateToDepartment(ctx, &AllocateToDepartmentRequest{
		BudgetID: budgetID, DepartmentID: 10, Points: 4000,
	}); err != nil {
		t.Fatalf("AllocateToDepartment 失败: %v", err)
	}
	if _, err := svc.AwardToUser(ctx, &AwardToUserRequest{
		BudgetID:     budgetID,
		SourceType:   AwardSourceDepartment,
		DepartmentID: 10,
		UserID:       100,
		Points:       500,
	}); err != nil {
		t.Fatalf("AwardToUser 失败: %v", err)
	}

	var before model.Tenant
	db.First(&before, tenantID)

	clawbackNo, err := svc.Clawback(ctx, &ClawbackRequest{
		UserID: 100,
		Points: 200,
		Reason: "误发",
	})
	if err != nil {
		t.Fatalf("Clawback 失败: %v", err)
	}
	if !strings.HasPrefix(clawbackNo, "CLB") {
		t.Errorf("回收单号 %s 前缀不是 CLB", clawbackNo)
	}

	var wallet model.Wallet
	db.Where("user_id = ?", 100).First(&wallet)
	if wallet.Balance != 300 {
		t.Errorf("回收后钱包 = %d, want 300", wallet.Balance)
	}
	if wallet.LifetimeEarned != 500 {
		t.Errorf("回收不应改 LifetimeEarned: %d", wallet.LifetimeEarned)
	}

	// 三个池字段同步返还
	var after model.Tenant
	db.First(&after, tenantID)
	if after.MasterBudgetBalance != before.MasterBudgetBalance+200 {
		t.Errorf("MasterBudgetBalance = %d, want %d", after.MasterBudgetBalance, before.MasterBudgetBalance+200)
	}
	if after.BudgetAllocationBalance != before.BudgetAllocationBalance+200 {
		t.Errorf("BudgetAllocationBalance = %d, want %d", after.BudgetAllocationBalance, before.BudgetAllocationBalance+200)
	}
	if after.AllocatedBudget != before.AllocatedBudget+200 {
		t.Errorf("AllocatedBudget = %d, want %d", after.AllocatedBudget, before.AllocatedBudget+200)
	}
}

func TestClawbackInsufficient(t *testing.T) {
	db, rdb, cfg := newTestEnv(t)
	svc := NewPointsService(db, rdb, cfg)
	ctx := context.Background()

	_, budgetID := setupBudgetChain(t, svc)
	if _, err := svc.AllocateToDepartment(ctx, &AllocateToDepartmentRequest{
		BudgetID: budgetID, DepartmentID: 10, Points: 4000,
	}); err != nil {
		t.Fatalf("AllocateToDepartment 失败: %v", err)
	}
	if _, err := svc.AwardToUser(ctx, &AwardToUserRequest{
		BudgetID:     budgetID,
		SourceType:   AwardSourceDepartment,
		DepartmentID: 10,
		UserID:       100,
		Points:       100,
	}); err != nil {
		t.Fatalf("AwardToUser 失败: %v", err)
	}

	// 余额不足整单失败，不做部分回收
	_, err := svc.Clawback(ctx, &ClawbackRequest{UserID: 100, Points: 500, Reason: "误发"})
	if !errors.Is(err, repository.ErrWalletBalanceNotEnough) {
		t.Fatalf("err = %v, want ErrWalletBalanceNotEnough", err)
	}

	var wallet model.Wallet
	db.Where("user_id = ?", 100).First(&wallet)
	if wallet.Balance != 100 {
		t.Errorf("失败回收后钱包 = %d, want 100", wallet.Balance)
	}
}
