package cache

import (
	"container/list"
	"sync"
	"time"
)

// 文档注释：进程内 LRU 缓存（URL 为键的小载荷前置层）
// 背景：同一区域的错误载荷在短周期内被反复读取，内存前置层避免重复的磁盘与网络开销
// 约束：仅缓存小载荷；过期时间由写入方按记录的 max-age 传入，读取时惰性剔除
type lru struct {
	mu   sync.Mutex
	cap  int
	lst  *list.List
	dict map[string]*list.Element
}

type lruItem struct {
	k   string
	v   []byte
	exp time.Time
}

func newLRU(capacity int) *lru {
	return &lru{cap: capacity, lst: list.New(), dict: make(map[string]*list.Element)}
}

func (c *lru) get(k string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.dict[k]; ok {
		it := e.Value.(lruItem)
		if time.Now().Before(it.exp) {
			c.lst.MoveToFront(e)
			return it.v, true
		}
		c.lst.Remove(e)
		delete(c.dict, k)
	}
	return nil, false
}

func (c *lru) set(k string, v []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.dict[k]; ok {
		e.Value = lruItem{k: k, v: v, exp: time.Now().Add(ttl)}
		c.lst.MoveToFront(e)
		return
	}
	e := c.lst.PushFront(lruItem{k: k, v: v, exp: time.Now().Add(ttl)})
	c.dict[k] = e
	for c.lst.Len() > c.cap {
		back := c.lst.Back()
		if back != nil {
			it := back.Value.(lruItem)
			delete(c.dict, it.k)
			c.lst.Remove(back)
		}
	}
}

func (c *lru) delete(k string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.dict[k]; ok {
		c.lst.Remove(e)
		delete(c.dict, k)
	}
}

func (c *lru) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lst = list.New()
	c.dict = make(map[string]*list.Element)
}
