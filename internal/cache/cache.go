// 包 cache：按 URL 寻址的磁盘缓存，带 TTL 失效、MIME 标记与可选的内存/Redis 前置层
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"openqa/internal/logger"
	"openqa/internal/metrics"
)

// 缓存子目录约定：data 下的载荷可随时删除并重新抓取；img 下的图标长 TTL，不参与常规清理
const (
	DataDir = "data"
	ImgDir  = "img"
)

// 超过该大小的载荷不进入内存/Redis 前置层，只落磁盘
const hotLayerLimit = 512 * 1024

const redisPrefix = "openqa:cache:"

// FetchError：网络抓取失败（超时、连接错误或非 2xx）
// 背景：按错误分类约定这是可恢复错误，调用方记录后以零结果继续，不得中断整个更新周期
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
}

func (e *FetchError) Unwrap() error { return e.Err }

// record：磁盘缓存的旁路元数据（与载荷文件同名的 .json）
type record struct {
	URL       string `json:"url"`
	Accept    string `json:"accept"`
	FetchedAt int64  `json:"fetched_at"`
	MaxAgeS   int64  `json:"max_age_s"`
}

// 文档注释：磁盘缓存
// 背景：镜像链式缓存结构（内存 → Redis → 磁盘 → 网络）；磁盘层为权威层，
// 前置层仅为小载荷提速，Redis 缺席时自动退化为两层。
// 约束：写入采用临时文件 + 重命名，并发写同一 URL 时后写者胜，读取方永远看不到半写文件。
type Cache struct {
	root   string
	client *http.Client
	rc     *redis.Client
	mem    *lru
}

// New：构建缓存实例
// 约束：rc 允许为 nil（Redis 未配置）；client 为 nil 时使用 30s 超时的默认客户端
func New(root string, rc *redis.Client, client *http.Client) *Cache {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Cache{root: root, client: client, rc: rc, mem: newLRU(256)}
}

// Root：缓存根目录
func (c *Cache) Root() string { return c.root }

func key(url string) string {
	h := sha1.Sum([]byte(url))
	return hex.EncodeToString(h[:])
}

func (c *Cache) paths(url, subDir string) (string, string) {
	k := key(url)
	dir := filepath.Join(c.root, subDir)
	return filepath.Join(dir, k+".bin"), filepath.Join(dir, k+".json")
}

// Fetch：读取 URL 对应载荷，命中有效缓存时不发起网络请求
// 背景：读取顺序为内存 → Redis → 磁盘 → 网络；网络回源成功后逐层回填
// 返回：载荷字节；网络失败或非 2xx 返回 *FetchError
func (c *Cache) Fetch(ctx context.Context, url, accept, subDir string, maxAge time.Duration) ([]byte, error) {
	k := key(url)
	if b, ok := c.mem.get(k); ok {
		metrics.CacheHitsTotal.WithLabelValues("mem").Inc()
		return b, nil
	}
	if c.rc != nil {
		if s, err := c.rc.Get(ctx, redisPrefix+k).Bytes(); err == nil && len(s) > 0 {
			metrics.CacheHitsTotal.WithLabelValues("redis").Inc()
			c.mem.set(k, s, maxAge)
			return s, nil
		}
	}
	bin, _ := c.paths(url, subDir)
	if rem, ok := c.remaining(url, subDir, maxAge); ok {
		b, err := os.ReadFile(bin)
		if err == nil {
			metrics.CacheHitsTotal.WithLabelValues("disk").Inc()
			c.backfill(ctx, k, b, rem)
			return b, nil
		}
		logger.L().Debug("cache_disk_read_error", "url", url, "err", err)
	}
	metrics.CacheMissesTotal.Inc()
	b, err := c.download(ctx, url, accept, subDir, maxAge)
	if err != nil {
		return nil, err
	}
	c.backfill(ctx, k, b, maxAge)
	return b, nil
}

// FetchFile：与 Fetch 相同的失效规则，但返回磁盘文件路径（用于图标等需要文件句柄的场景）
// 约束：绕过内存/Redis 层，始终保证磁盘上存在有效副本
func (c *Cache) FetchFile(ctx context.Context, url, accept, subDir string, maxAge time.Duration) (string, error) {
	bin, _ := c.paths(url, subDir)
	if _, ok := c.remaining(url, subDir, maxAge); ok {
		if _, err := os.Stat(bin); err == nil {
			metrics.CacheHitsTotal.WithLabelValues("disk").Inc()
			return bin, nil
		}
	}
	metrics.CacheMissesTotal.Inc()
	if _, err := c.download(ctx, url, accept, subDir, maxAge); err != nil {
		return "", err
	}
	return bin, nil
}

// remaining：磁盘记录剩余有效期
// 背景：以元数据记录的抓取时间判定过期；maxAge 由调用传入而非记录值，
// 使同一 URL 可以按调用方语义采用不同的失效窗口
func (c *Cache) remaining(url, subDir string, maxAge time.Duration) (time.Duration, bool) {
	_, meta := c.paths(url, subDir)
	b, err := os.ReadFile(meta)
	if err != nil {
		return 0, false
	}
	var r record
	if err := json.Unmarshal(b, &r); err != nil {
		return 0, false
	}
	age := time.Since(time.Unix(r.FetchedAt, 0))
	if age >= maxAge {
		return 0, false
	}
	return maxAge - age, true
}

func (c *Cache) backfill(ctx context.Context, k string, b []byte, ttl time.Duration) {
	if ttl <= 0 || len(b) > hotLayerLimit {
		return
	}
	c.mem.set(k, b, ttl)
	if c.rc != nil {
		c.rc.Set(ctx, redisPrefix+k, b, ttl)
	}
}

// download：回源抓取并原子落盘
func (c *Cache) download(ctx context.Context, url, accept, subDir string, maxAge time.Duration) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.CacheFetchFailTotal.Inc()
		logger.L().Debug("cache_fetch_error", "url", url, "err", err)
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.CacheFetchFailTotal.Inc()
		logger.L().Debug("cache_fetch_status", "url", url, "status", resp.StatusCode)
		return nil, &FetchError{URL: url, Status: resp.StatusCode}
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.CacheFetchFailTotal.Inc()
		return nil, &FetchError{URL: url, Err: err}
	}
	if err := c.persist(url, accept, subDir, maxAge, b); err != nil {
		// 落盘失败不影响本次结果，下次读取将再度回源
		logger.L().Debug("cache_persist_error", "url", url, "err", err)
	}
	return b, nil
}

// persist：载荷与元数据均写临时文件后重命名，保证崩溃或并发下不出现半写记录
func (c *Cache) persist(url, accept, subDir string, maxAge time.Duration, b []byte) error {
	bin, meta := c.paths(url, subDir)
	dir := filepath.Dir(bin)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), bin); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	r := record{URL: url, Accept: accept, FetchedAt: time.Now().Unix(), MaxAgeS: int64(maxAge / time.Second)}
	mb, err := json.Marshal(r)
	if err != nil {
		return err
	}
	mt, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := mt.Write(mb); err != nil {
		mt.Close()
		os.Remove(mt.Name())
		return err
	}
	if err := mt.Close(); err != nil {
		os.Remove(mt.Name())
		return err
	}
	return os.Rename(mt.Name(), meta)
}

// Invalidate：立即删除某 URL 的缓存制品与元数据，不论剩余有效期
// 背景：裁决提交后对应的查询缓存必须作废，否则已处理的错误会再次以未处理状态出现
func (c *Cache) Invalidate(ctx context.Context, url string) {
	k := key(url)
	c.mem.delete(k)
	if c.rc != nil {
		c.rc.Del(ctx, redisPrefix+k)
	}
	matches, err := filepath.Glob(filepath.Join(c.root, "*", k+".*"))
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.L().Debug("cache_invalidate_error", "path", m, "err", err)
		}
	}
}

// ClearAll：清空某子目录下的全部缓存制品并重建空目录
// 约束：仅作用于文件层；已解决实体的保留由实体仓库负责，与缓存层无关。
// 前置层无法按子目录圈定范围，保守起见全部清空。
func (c *Cache) ClearAll(ctx context.Context, subDir string) error {
	c.mem.purge()
	if c.rc != nil {
		iter := c.rc.Scan(ctx, 0, redisPrefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			c.rc.Del(ctx, iter.Val())
		}
	}
	dir := filepath.Join(c.root, subDir)
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}
