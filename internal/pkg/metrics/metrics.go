// Package metrics 定义服务的 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestDuration HTTP 请求耗时（按路由模板聚合）。
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "civicvoice_http_request_duration_seconds",
		Help:    "HTTP request latency by method, route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// AuthEventsTotal 认证流程事件计数（register / activate / signin / resend / logout）。
	AuthEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicvoice_auth_events_total",
		Help: "Auth flow outcomes by action and result.",
	}, []string{"action", "result"})

	// EmailsTotal 邮件发送结果计数。
	EmailsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicvoice_emails_total",
		Help: "Outgoing emails by kind and result.",
	}, []string{"kind", "result"})

	// FeedbackSubmittedTotal 按服务领域统计的反馈提交数。
	FeedbackSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicvoice_feedback_submitted_total",
		Help: "Feedback submissions by service.",
	}, []string{"service"})

	// FeedbackDuplicateTotal 被去重拦截的反馈数。
	FeedbackDuplicateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "civicvoice_feedback_duplicate_total",
		Help: "Feedback submissions rejected as duplicates.",
	})

	// RateLimitedTotal 被限流拒绝的请求数。
	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicvoice_rate_limited_total",
		Help: "Requests rejected by the rate limiter, by scope.",
	}, []string{"scope"})

	// DispatchJobsTotal 后台任务执行结果。
	DispatchJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicvoice_dispatch_jobs_total",
		Help: "Background jobs by result (succeeded / failed / dropped / panicked).",
	}, []string{"result"})

	// DispatchQueueDepth 后台队列中等待的任务数。
	DispatchQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "civicvoice_dispatch_queue_depth",
		Help: "Jobs waiting in the background dispatch queue.",
	})

	// DispatchWorkers 后台 worker 数量。
	DispatchWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "civicvoice_dispatch_workers",
		Help: "Configured background dispatch workers.",
	})

	// EventsPublishedTotal 领域事件投递结果。
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicvoice_events_published_total",
		Help: "Domain events published to Kafka by type and result.",
	}, []string{"type", "result"})

	// UnverifiedPurgedTotal 清理任务删除的未激活账号数。
	UnverifiedPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "civicvoice_unverified_purged_total",
		Help: "Unverified accounts removed by the cleanup job.",
	})
)

// InitMetrics 设置与配置相关的静态指标。
func InitMetrics(workers int) {
	DispatchWorkers.Set(float64(workers))
}
