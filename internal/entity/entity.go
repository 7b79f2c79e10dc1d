// 包 entity：归一化的质检错误实体与按 id 去重的有序仓库
package entity

import (
	"fmt"
	"sync"

	"openqa/internal/geo"
)

// 文档注释：单条质检错误
// 背景：各提供方的线格式差异在解析阶段抹平，标题、描述、schema、用户名等
// 额外字段统一进入属性包；坐标在解析时校验，越界记录不会构造出实体。
// 约束：仓库外持有的实体指针可能被补充抓取与裁决并发读写，
// 属性包与终态标记只经加锁方法访问。终态一旦置位不可回退。
type Entity struct {
	ID    string
	Coord geo.LatLon
	Code  string

	mu          sync.RWMutex
	attrs       map[string]string
	actionTaken bool
}

// New：构造实体并校验坐标
// 返回：坐标越界或 id 为空时返回错误，调用方跳过该记录继续解析
func New(id string, coord geo.LatLon, code string) (*Entity, error) {
	if id == "" {
		return nil, fmt.Errorf("entity: empty id")
	}
	if !coord.Valid() {
		return nil, fmt.Errorf("entity %s: coordinate out of world (%v, %v)", id, coord.Lat, coord.Lon)
	}
	return &Entity{ID: id, Coord: coord, Code: code, attrs: make(map[string]string)}, nil
}

// Attr：读取额外字段，缺失返回空串
func (e *Entity) Attr(name string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.attrs[name]
}

// SetAttr：写入额外字段
func (e *Entity) SetAttr(name, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.attrs == nil {
		e.attrs = make(map[string]string)
	}
	e.attrs[name] = value
}

// AttrSnapshot：属性包的独立拷贝，序列化与克隆使用，避免暴露活映射
func (e *Entity) AttrSnapshot() map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]string, len(e.attrs))
	for k, v := range e.attrs {
		out[k] = v
	}
	return out
}

// Resolved：是否已向上游作出裁决
func (e *Entity) Resolved() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.actionTaken
}

// MarkResolved：置终态，只能 false→true
func (e *Entity) MarkResolved() {
	e.mu.Lock()
	e.actionTaken = true
	e.mu.Unlock()
}

// clone：深拷贝，插入仓库时使用以保证实体归属唯一
func (e *Entity) clone() *Entity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := &Entity{ID: e.ID, Coord: e.Coord, Code: e.Code, actionTaken: e.actionTaken}
	n.attrs = make(map[string]string, len(e.attrs))
	for k, v := range e.attrs {
		n.attrs[k] = v
	}
	return n
}
