// 包 selector：实体仓库上的空间选择——点选聚簇与多选质心
package selector

import (
	"openqa/internal/entity"
	"openqa/internal/geo"
	"openqa/internal/providers"
)

// 文档注释：空间选择器
// 背景：点击事件把实体坐标经外部投影映射到屏幕空间，落在吸附半径内的
// 全部实体作为一个聚簇整体选中；不按距离排序——近重合的多个错误有意一起展示。
// 约束：仅当外部交互模式为“选择”时有效，其他模式下清空全部仓库选择。
type Selector struct {
	reg *providers.Registry
}

func New(reg *providers.Registry) *Selector { return &Selector{reg: reg} }

// NearestWithinDistance：收集各启用数据源里投影后距点击点不超过 maxDist 像素的实体
// 返回：按数据源分组、组内按插入序的选中集；同时落到仓库选择状态，空结果清空该仓库的选择
func (s *Selector) NearestWithinDistance(pt geo.Point, maxDist float64, proj geo.Projection, selectMode bool) map[string][]*entity.Entity {
	if !selectMode {
		s.ClearAll()
		return nil
	}
	out := make(map[string][]*entity.Entity)
	for _, p := range s.reg.All() {
		name := p.Name()
		store, ok := s.reg.Store(name)
		if !ok {
			continue
		}
		if !s.reg.IsEnabled(name) {
			store.ClearSelection()
			continue
		}
		var hits []*entity.Entity
		var ids []string
		for _, e := range store.Entities() {
			if geo.Distance(proj(e.Coord), pt) <= maxDist {
				hits = append(hits, e)
				ids = append(ids, e.ID)
			}
		}
		store.Select(ids)
		if len(hits) > 0 {
			out[name] = hits
		}
	}
	return out
}

// ClearAll：清空全部仓库的选择状态（交互模式切换或边界/过滤变化时调用）
func (s *Selector) ClearAll() {
	for _, p := range s.reg.All() {
		if store, ok := s.reg.Store(p.Name()); ok {
			store.ClearSelection()
		}
	}
}

// Centroid：多选投影坐标的算术平均（非测地平均），用于聚簇窗口定位
// 返回：质心与是否存在选中项；质心变化即视为先前详情面板失效，由调用方处理
func Centroid(selected map[string][]*entity.Entity, proj geo.Projection) (geo.Point, bool) {
	var sumX, sumY float64
	n := 0
	for _, list := range selected {
		for _, e := range list {
			pt := proj(e.Coord)
			sumX += pt.X
			sumY += pt.Y
			n++
		}
	}
	if n == 0 {
		return geo.Point{}, false
	}
	return geo.Point{X: sumX / float64(n), Y: sumY / float64(n)}, true
}
