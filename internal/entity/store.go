package entity

import (
	"sync"
)

// 文档注释：单提供方的实体仓库
// 背景：按 id 去重、按插入序可遍历；合并与读取通过读写锁串行化，
// 观察方（选择器、渲染）永远看不到合并进行到一半的状态。
// 约束：同一仓库同一时刻至多一个更新周期在写入，由编排器保证。
type Store struct {
	mu       sync.RWMutex
	order    []string
	byID     map[string]*Entity
	selected map[string]struct{}
	sticky   map[string]struct{}
}

func NewStore() *Store {
	return &Store{
		byID:     make(map[string]*Entity),
		selected: make(map[string]struct{}),
		sticky:   make(map[string]struct{}),
	}
}

// Add：插入或覆盖一条实体（拷贝后入库）
// 背景：解析阶段逐条调用；重复 id 视为同一错误的新快照，按合并规则覆盖
func (s *Store) Add(e *Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsert(e)
}

func (s *Store) upsert(e *Entity) {
	if cur, ok := s.byID[e.ID]; ok {
		n := e.clone()
		if cur.Resolved() {
			n.MarkResolved()
		}
		s.byID[e.ID] = n
		return
	}
	n := e.clone()
	if _, ok := s.sticky[e.ID]; ok {
		n.MarkResolved()
	}
	s.byID[e.ID] = n
	s.order = append(s.order, e.ID)
}

// Merge：合并另一仓库
// 约束：已存在的 id 覆盖非粘性字段；ActionTaken 只能 false→true，合并不可逆转。
// 合并按 id 可交换，边界处理顺序不影响最终内容。
func (s *Store) Merge(in *Store) {
	if in == nil || in == s {
		return
	}
	in.mu.RLock()
	incoming := make([]*Entity, 0, len(in.order))
	for _, id := range in.order {
		incoming = append(incoming, in.byID[id])
	}
	in.mu.RUnlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range incoming {
		s.upsert(e)
	}
}

// Get：按 id 读取
func (s *Store) Get(id string) (*Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	return e, ok
}

// Len：实体数量
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Entities：按插入序返回全部实体
func (s *Store) Entities() []*Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entity, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// MarkResolved：置粘性已处理标记
// 背景：裁决提交成功后调用；此后任何合并与清理都保留该实体的终态
func (s *Store) MarkResolved(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sticky[id] = struct{}{}
	e, ok := s.byID[id]
	if !ok {
		return false
	}
	e.MarkResolved()
	return true
}

// SeedResolved：启动时从持久层回灌已处理 id 集合
// 背景：已向上游通报的裁决必须跨进程保留，后续抓取合并到这些 id 时自动带上终态
func (s *Store) SeedResolved(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.sticky[id] = struct{}{}
		if e, ok := s.byID[id]; ok {
			e.MarkResolved()
		}
	}
}

// RemoveResolved：按谓词抽出实体到临时仓库，清空后再并回
// 背景：实现“清空缓存但保留已处理”的整体重置；被抽出的实体保持原有插入相对顺序
// 返回：留存的实体数量
func (s *Store) RemoveResolved(keep func(*Entity) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keptOrder []string
	kept := make(map[string]*Entity)
	for _, id := range s.order {
		e := s.byID[id]
		if keep(e) {
			keptOrder = append(keptOrder, id)
			kept[id] = e
		}
	}
	s.order = keptOrder
	s.byID = kept
	s.selected = make(map[string]struct{})
	return len(keptOrder)
}

// Select：重置当前选中集
// 约束：空集合等价于清除选择；选择状态独立于实体内容，边界或过滤变化时由调用方清除
func (s *Store) Select(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := s.byID[id]; ok {
			s.selected[id] = struct{}{}
		}
	}
}

// ClearSelection：清除选中集
func (s *Store) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = make(map[string]struct{})
}

// Selected：按插入序返回当前选中实体
func (s *Store) Selected() []*Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entity, 0, len(s.selected))
	for _, id := range s.order {
		if _, ok := s.selected[id]; ok {
			out = append(out, s.byID[id])
		}
	}
	return out
}
