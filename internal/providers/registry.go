package providers

import (
	"sync"

	"openqa/internal/entity"
	"openqa/internal/logger"
)

// 文档注释：数据源注册表
// 背景：每个已注册数据源对应一个实体仓库与启用开关；停用只抑制抓取与渲染，
// 不丢弃已缓存数据。注册表由叠加层协作方持有，寿命跨越单次抓取。
// 约束：线程安全读写；同一数据源同一时刻至多一个更新周期在写仓库。
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*regEntry
}

type regEntry struct {
	p        Provider
	store    *entity.Store
	enabled  bool
	updating sync.Mutex
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*regEntry)}
}

// Register：注册数据源并分配空仓库，默认启用
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := p.Name()
	if _, ok := r.entries[name]; ok {
		return
	}
	r.entries[name] = &regEntry{p: p, store: entity.NewStore(), enabled: true}
	r.order = append(r.order, name)
	logger.L().Info("provider_registered", "name", name)
}

// Enabled：按注册序返回当前启用的数据源
func (r *Registry) Enabled() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Provider
	for _, name := range r.order {
		if e := r.entries[name]; e.enabled {
			out = append(out, e.p)
		}
	}
	return out
}

// All：按注册序返回全部数据源
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].p)
	}
	return out
}

// Provider：按名称取数据源
func (r *Registry) Provider(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.p, true
}

// Store：按名称取实体仓库
func (r *Registry) Store(name string) (*entity.Store, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.store, true
}

// IsEnabled：数据源是否启用
func (r *Registry) IsEnabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return ok && e.enabled
}

// SetEnabled：切换数据源启用状态；停用不清空仓库
func (r *Registry) SetEnabled(name string, on bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return false
	}
	e.enabled = on
	logger.L().Info("provider_toggled", "name", name, "enabled", on)
	return true
}

// BeginUpdate：获取数据源的更新互斥，返回解锁函数
// 背景：重叠的更新周期必须按数据源串行化，避免两个周期交错写同一仓库
func (r *Registry) BeginUpdate(name string) (func(), bool) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	e.updating.Lock()
	return e.updating.Unlock, true
}
