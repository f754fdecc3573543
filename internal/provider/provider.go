package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"rewardsys/internal/config"

	"github.com/google/uuid"
)

// FulfillmentProvider 履约供应商接口
// 礼品卡/商品的实际发放方，具体厂商的报文格式在实现内部消化，
// 服务层只关心"拿到兑换码"或"失败原因"
//
// 【关键点】Fulfill 必须按 RedemptionNo 幂等：
// 同一兑换单重复调用时供应商侧不能重复发货（卡单重置后会重调）
type FulfillmentProvider interface {
	Fulfill(ctx context.Context, req *FulfillmentRequest) (*FulfillmentResult, error)
}

type FulfillmentRequest struct {
	RedemptionNo string `json:"redemption_no"` // 幂等键
	ProviderCode string `json:"provider_code"` // 供应商侧商品编码
	UserID       int64  `json:"user_id"`
}

type FulfillmentResult struct {
	VoucherCode string `json:"voucher_code"`
}

var ErrProviderRejected = errors.New("供应商拒绝履约")

// ============================================================
// HTTP 供应商
// ============================================================

// HTTPProvider 通过 HTTP 调用外部供应商
type HTTPProvider struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPProvider(cfg *config.ProviderConfig) *HTTPProvider {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Fulfill(ctx context.Context, req *FulfillmentRequest) (*FulfillmentResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("调用供应商失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http %d", ErrProviderRejected, resp.StatusCode)
	}

	var result FulfillmentResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("解析供应商响应失败: %w", err)
	}
	if result.VoucherCode == "" {
		return nil, fmt.Errorf("%w: 响应缺少兑换码", ErrProviderRejected)
	}

	return &result, nil
}

// ============================================================
// 模拟供应商（开发/测试环境）
// ============================================================

// SimulatedProvider 不依赖外网的模拟实现
// ProviderCode 为空视为下架商品，模拟供应商拒单路径
type SimulatedProvider struct{}

func NewSimulatedProvider() *SimulatedProvider {
	return &SimulatedProvider{}
}

func (p *SimulatedProvider) Fulfill(ctx context.Context, req *FulfillmentRequest) (*FulfillmentResult, error) {
	if req.ProviderCode == "" {
		return nil, fmt.Errorf("%w: 商品编码为空", ErrProviderRejected)
	}

	return &FulfillmentResult{
		VoucherCode: fmt.Sprintf("GC-%s", uuid.NewString()),
	}, nil
}

// NewProvider 根据配置选择供应商实现
func NewProvider(cfg *config.ProviderConfig) FulfillmentProvider {
	if cfg.Simulate {
		return NewSimulatedProvider()
	}
	return NewHTTPProvider(cfg)
}
