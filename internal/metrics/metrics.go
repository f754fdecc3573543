package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 积分域核心指标
// 转账协议和兑换状态机的每次执行结果都打点，对账告警靠这两个计数器
var (
	TransferTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rewardsys",
		Name:      "transfer_total",
		Help:      "转账协议执行次数（按操作和结果分类）",
	}, []string{"operation", "outcome"})

	RedemptionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rewardsys",
		Name:      "redemption_total",
		Help:      "兑换状态机事件次数（按事件分类）",
	}, []string{"event"})

	OutboxSendTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rewardsys",
		Name:      "outbox_send_total",
		Help:      "发件箱投递次数（按结果分类）",
	}, []string{"outcome"})
)

const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)
