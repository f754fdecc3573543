package job

import (
	"context"
	"log"
	"time"

	"rewardsys/internal/config"
	"rewardsys/internal/model"
	"rewardsys/internal/provider"
	"rewardsys/internal/repository"
	"rewardsys/internal/service"

	"gorm.io/gorm"
)

// FulfillmentJob 兑换履约任务
// 轮询待履约兑换单，认领后调用供应商，驱动状态机走向终态
//
// 【关键点】认领（PENDING -> PROCESSING 条件 UPDATE）保证多实例部署时
// 同一兑换单只会被一个实例处理
type FulfillmentJob struct {
	db             *gorm.DB
	cfg            *config.Config
	prov           provider.FulfillmentProvider
	redemptionSvc  *service.RedemptionService
	redemptionRepo *repository.RedemptionRepository
	stopCh         chan struct{}
	interval       time.Duration
	batchSize      int
	stuckAfter     time.Duration
}

func NewFulfillmentJob(db *gorm.DB, cfg *config.Config, prov provider.FulfillmentProvider, redemptionSvc *service.RedemptionService) *FulfillmentJob {
	interval := time.Duration(cfg.Business.FulfillIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	batchSize := cfg.Business.FulfillBatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	stuckAfter := time.Duration(cfg.Business.StuckProcessingMinutes) * time.Minute
	if stuckAfter <= 0 {
		stuckAfter = 10 * time.Minute
	}

	return &FulfillmentJob{
		db:             db,
		cfg:            cfg,
		prov:           prov,
		redemptionSvc:  redemptionSvc,
		redemptionRepo: repository.NewRedemptionRepository(db),
		stopCh:         make(chan struct{}),
		interval:       interval,
		batchSize:      batchSize,
		stuckAfter:     stuckAfter,
	}
}

func (j *FulfillmentJob) Start(ctx context.Context) {
	log.Println("[FulfillmentJob] 兑换履约任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[FulfillmentJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[FulfillmentJob] 任务停止")
			return
		case <-ticker.C:
			j.processPending(ctx)
			j.requeueStuck(ctx)
		}
	}
}

func (j *FulfillmentJob) Stop() {
	close(j.stopCh)
}

func (j *FulfillmentJob) processPending(ctx context.Context) {
	redemptions, err := j.redemptionRepo.GetPendingBatch(ctx, j.batchSize)
	if err != nil {
		log.Printf("[FulfillmentJob] 查询待履约兑换单失败: %v", err)
		return
	}

	if len(redemptions) == 0 {
		return
	}

	log.Printf("[FulfillmentJob] 发现 %d 个待履约兑换单", len(redemptions))

	for _, redemption := range redemptions {
		j.fulfillOne(ctx, redemption)
	}
}

func (j *FulfillmentJob) fulfillOne(ctx context.Context, redemption *model.Redemption) {
	// 认领失败说明已被其他实例处理，跳过即可
	if err := j.redemptionSvc.ClaimForProcessing(ctx, redemption.RedemptionNo); err != nil {
		return
	}

	result, err := j.prov.Fulfill(ctx, &provider.FulfillmentRequest{
		RedemptionNo: redemption.RedemptionNo,
		ProviderCode: redemption.ProviderCode,
		UserID:       redemption.UserID,
	})

	if err != nil {
		log.Printf("[FulfillmentJob] 供应商履约失败: redemptionNo=%s, err=%v", redemption.RedemptionNo, err)
		if failErr := j.redemptionSvc.FailFulfillment(ctx, redemption.RedemptionNo, err.Error()); failErr != nil {
			// 冲正失败不能吞掉：兑换单停在 PROCESSING，卡单重置会再走一遍
			log.Printf("[FulfillmentJob] 冲正失败: redemptionNo=%s, err=%v", redemption.RedemptionNo, failErr)
		}
		return
	}

	if err := j.redemptionSvc.CompleteFulfillment(ctx, redemption.RedemptionNo, result.VoucherCode); err != nil {
		log.Printf("[FulfillmentJob] 完成兑换单失败: redemptionNo=%s, err=%v", redemption.RedemptionNo, err)
		return
	}
}

func (j *FulfillmentJob) requeueStuck(ctx context.Context) {
	requeued, err := j.redemptionSvc.RequeueStuck(ctx, j.stuckAfter, j.batchSize)
	if err != nil {
		log.Printf("[FulfillmentJob] 卡单重置失败: %v", err)
		return
	}
	if requeued > 0 {
		log.Printf("[FulfillmentJob] 本次重置 %d 个卡单", requeued)
	}
}
