// 包 update：抓取编排——按区域列表驱动各启用数据源的缓存感知抓取、解析与合并
package update

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"openqa/internal/geo"
	"openqa/internal/logger"
	"openqa/internal/metrics"
	"openqa/internal/providers"
)

// 区域数超过该值时进度切换为确定模式（每区域一格）
const determinateThreshold = 10

// Progress：外部调用方提供的进度汇报接口
// 约束：数据源并发推进时会被多协程调用，实现必须并发安全；
// IsCanceled 为协作式取消，编排器只在发起新区域抓取前检查，不中断进行中的请求
type Progress interface {
	BeginTask(label string)
	SetTicksCount(n int)
	Worked(n int)
	IsCanceled() bool
	FinishTask()
}

// NopProgress：无操作实现，调用方不关心进度时使用
type NopProgress struct{}

func (NopProgress) BeginTask(string)  {}
func (NopProgress) SetTicksCount(int) {}
func (NopProgress) Worked(int)        {}
func (NopProgress) IsCanceled() bool  { return false }
func (NopProgress) FinishTask()       {}

// 文档注释：抓取编排器
// 背景：持有“有变更”监听列表；每轮更新结束（含提前取消）后整体广播一次，
// 由叠加层协作方自行重绘。监听列表归属调用方，核心只负责发出通知。
type Orchestrator struct {
	mu        sync.Mutex
	listeners []func()
}

func NewOrchestrator() *Orchestrator { return &Orchestrator{} }

// OnChange：注册更新完成通知
func (o *Orchestrator) OnChange(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, fn)
}

func (o *Orchestrator) notify() {
	o.mu.Lock()
	fns := append([]func(){}, o.listeners...)
	o.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Update：对每个启用数据源按序处理区域列表并合并结果
// 背景：单个区域的失败或空结果不阻断后续区域；数据源之间并发，
// 单数据源内部严格按调用方给定的区域顺序执行。合并按 id 可交换，
// 最终仓库内容与区域处理顺序无关。
// 约束：不提供区域列表视为调用方错误，直接返回空结果；同一数据源的
// 重叠更新由注册表的更新互斥串行化。
func (o *Orchestrator) Update(ctx context.Context, reg *providers.Registry, bounds []geo.Bound, prog Progress) {
	if prog == nil {
		prog = NopProgress{}
	}
	t0 := time.Now()
	prog.BeginTask("Updating QA error layers")
	defer func() {
		prog.FinishTask()
		metrics.UpdateDurationMs.Observe(float64(time.Since(t0).Milliseconds()))
		o.notify()
	}()
	if len(bounds) == 0 {
		logger.L().Debug("update_no_bounds")
		return
	}
	enabled := reg.Enabled()
	if len(enabled) == 0 {
		logger.L().Debug("update_no_enabled_providers")
		return
	}
	if len(bounds) > determinateThreshold {
		prog.SetTicksCount(len(bounds) * len(enabled))
	}
	var g errgroup.Group
	for _, p := range enabled {
		p := p
		g.Go(func() error {
			o.updateProvider(ctx, reg, p, bounds, prog)
			return nil
		})
	}
	_ = g.Wait()
}

// updateProvider：单数据源的顺序区域循环
// 约束：取消只阻止发起新抓取，已合并的结果保留
func (o *Orchestrator) updateProvider(ctx context.Context, reg *providers.Registry, p providers.Provider, bounds []geo.Bound, prog Progress) {
	name := p.Name()
	unlock, ok := reg.BeginUpdate(name)
	if !ok {
		return
	}
	defer unlock()
	store, _ := reg.Store(name)
	for _, b := range bounds {
		if prog.IsCanceled() || ctx.Err() != nil {
			logger.L().Info("update_canceled", "provider", name)
			return
		}
		t0 := time.Now()
		metrics.FetchTotal.WithLabelValues(name).Inc()
		in, err := p.FetchAndParse(ctx, b)
		metrics.FetchDurationMs.WithLabelValues(name).Observe(float64(time.Since(t0).Milliseconds()))
		prog.Worked(1)
		if err != nil {
			// 可恢复：该区域按零结果处理，下一轮更新依缓存过期情况自然重试
			metrics.FetchFailTotal.WithLabelValues(name).Inc()
			logger.L().Warn("update_bound_error", "provider", name, "err", err)
			continue
		}
		if in == nil || in.Len() == 0 {
			continue
		}
		store.Merge(in)
	}
	logger.L().Debug("update_provider_done", "provider", name, "entities", store.Len())
}
