// 包 osmose：Osmose 数据源（description+errors 表格式 JSON，远端分类体系，按需补充详情）
package osmose

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"openqa/internal/cache"
	"openqa/internal/entity"
	"openqa/internal/geo"
	"openqa/internal/logger"
	"openqa/internal/metrics"
	"openqa/internal/providers"
)

const Name = "osmose"

const (
	payloadMaxAge  = 24 * time.Hour
	taxonomyMaxAge = 24 * time.Hour
	iconMaxAge     = 30 * 24 * time.Hour
)

// 分类体系不可用时的兜底编号：语义为“全部”
const catchAllCode = "xxxx"

// Config：Osmose 实例配置；地址可注入以便测试
type Config struct {
	BaseAPI      string // api/0.2/ 前缀
	BaseImg      string // 标记图标模板，占位 item 编号
	BaseErrorURL string // 错误详情页前缀
	Enabled      []string
}

// Provider：Osmose 数据源实现
// 背景：详情文本不随列表载荷返回，需要按实体一次性的补充抓取；
// 抓到的字段以 id 为键记忆，后续更新周期把实体换成新快照后重放进属性包，
// 进程生命周期内对同一 id 至多抓取一次。
type Provider struct {
	cache   *cache.Cache
	cfg     Config
	enabled []string

	mu      sync.Mutex
	details map[string]map[string]string
	codes   []providers.Code
}

func New(c *cache.Cache, cfg Config) *Provider {
	if cfg.BaseAPI == "" {
		cfg.BaseAPI = "https://osmose.openstreetmap.fr/api/0.2/"
	}
	if cfg.BaseImg == "" {
		cfg.BaseImg = "https://osmose.openstreetmap.fr/en/images/markers/marker-b-%s.png"
	}
	if cfg.BaseErrorURL == "" {
		cfg.BaseErrorURL = "https://osmose.openstreetmap.fr/en/error/"
	}
	p := &Provider{cache: c, cfg: cfg, enabled: cfg.Enabled, details: make(map[string]map[string]string)}
	return p
}

func (p *Provider) Name() string { return Name }

// QueryURL：bbox 按 minLon,minLat,maxLon,maxLat 的 CSV 编码；格式参数无效（仅 json）
func (p *Provider) QueryURL(b geo.Bound, codes []string, _ string) string {
	var sb strings.Builder
	sb.WriteString(p.cfg.BaseAPI)
	sb.WriteString("errors?full=true&item=")
	sb.WriteString(providers.JoinCodes(codes))
	sb.WriteString("&bbox=")
	sb.WriteString(strconv.FormatFloat(b.MinLon, 'f', -1, 64))
	sb.WriteString(",")
	sb.WriteString(strconv.FormatFloat(b.MinLat, 'f', -1, 64))
	sb.WriteString(",")
	sb.WriteString(strconv.FormatFloat(b.MaxLon, 'f', -1, 64))
	sb.WriteString(",")
	sb.WriteString(strconv.FormatFloat(b.MaxLat, 'f', -1, 64))
	return sb.String()
}

func (p *Provider) enabledCodes() []string {
	if len(p.enabled) > 0 {
		return p.enabled
	}
	return p.DefaultCodes()
}

// FetchAndParse：抓取区域载荷并解析表格编码
func (p *Provider) FetchAndParse(ctx context.Context, b geo.Bound) (*entity.Store, error) {
	url := p.QueryURL(b, p.enabledCodes(), "json")
	payload, err := p.cache.Fetch(ctx, url, "application/json", cache.DataDir, payloadMaxAge)
	if err != nil {
		return nil, err
	}
	return p.parse(payload)
}

// tabularDoc：description 为列名，errors 为行数组；数值与字符串混排，统一转字符串
type tabularDoc struct {
	Description []string          `json:"description"`
	Errors      []json.RawMessage `json:"errors"`
}

// parse：逐行解析；列数不符、坐标缺失或越界的行跳过并记数
func (p *Provider) parse(payload []byte) (*entity.Store, error) {
	var doc tabularDoc
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("osmose: decode payload: %w", err)
	}
	s := entity.NewStore()
	for _, raw := range doc.Errors {
		var row []json.RawMessage
		if err := json.Unmarshal(raw, &row); err != nil || len(row) != len(doc.Description) {
			metrics.ParseSkipTotal.WithLabelValues(Name).Inc()
			logger.L().Debug("osmose_record_skip", "reason", "row shape mismatch")
			continue
		}
		attrs := make(map[string]string, len(row))
		lat, lon := geoUnset, geoUnset
		for i, field := range doc.Description {
			v := rawToString(row[i])
			switch field {
			case "lat":
				lat = parseFloat(v)
			case "lon":
				lon = parseFloat(v)
			default:
				attrs[field] = v
			}
		}
		id := attrs["error_id"]
		if id == "" {
			metrics.ParseSkipTotal.WithLabelValues(Name).Inc()
			logger.L().Debug("osmose_record_skip", "reason", "missing error_id")
			continue
		}
		e, err := entity.New(id, geo.LatLon{Lat: lat, Lon: lon}, attrs["item"])
		if err != nil {
			metrics.ParseSkipTotal.WithLabelValues(Name).Inc()
			logger.L().Debug("osmose_record_skip", "err", err)
			continue
		}
		for k, v := range attrs {
			e.SetAttr(k, v)
		}
		s.Add(e)
		metrics.EntitiesParsedTotal.WithLabelValues(Name).Inc()
	}
	return s, nil
}

// geoUnset：哨兵值，保证缺列时坐标校验必然拒绝
const geoUnset = 999.0

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return geoUnset
	}
	return f
}

// ensureDetail：按需补充抓取完整详情并记忆抓取结果，按实体 id 进程内至多一次
// 背景：仓库合并会把实体换成上游新快照，记忆的必须是字段本身而不是完成标记，
// 命中时重放进当前实体；elems 结构复杂暂不展开成独立字段，原样保留供描述文本展示
func (p *Provider) ensureDetail(ctx context.Context, e *entity.Entity) {
	p.mu.Lock()
	attrs, ok := p.details[e.ID]
	p.mu.Unlock()
	if !ok {
		url := p.cfg.BaseAPI + "error/" + e.ID
		payload, err := p.cache.Fetch(ctx, url, "application/json", cache.DataDir, payloadMaxAge)
		if err != nil {
			logger.L().Debug("osmose_detail_error", "id", e.ID, "err", err)
			return
		}
		var info map[string]json.RawMessage
		if err := json.Unmarshal(payload, &info); err != nil {
			logger.L().Debug("osmose_detail_decode_error", "id", e.ID, "err", err)
			return
		}
		attrs = make(map[string]string, len(info))
		for k, raw := range info {
			if k == "elems" {
				continue
			}
			attrs[k] = rawToString(raw)
		}
		p.mu.Lock()
		p.details[e.ID] = attrs
		p.mu.Unlock()
	}
	for k, v := range attrs {
		e.SetAttr(k, v)
	}
}

// Tooltip：标题、详情页链接、副标题、涉及对象、修复建议与更新信息组合为自足文本
func (p *Provider) Tooltip(ctx context.Context, e *entity.Entity) string {
	p.ensureDetail(ctx, e)
	var sb strings.Builder
	sb.WriteString("Osmose: ")
	sb.WriteString(e.Attr("title"))
	sb.WriteString(" - ")
	sb.WriteString(p.cfg.BaseErrorURL)
	sb.WriteString(e.ID)
	if s := e.Attr("subtitle"); s != "" {
		sb.WriteString("\n")
		sb.WriteString(s)
	}
	if elems := describeElements(e.Attr("elems")); elems != "" {
		sb.WriteString("\n")
		sb.WriteString(elems)
	}
	if sugg := strings.TrimSpace(e.Attr("new_elems")); sugg != "" && sugg != "[]" {
		sb.WriteString("\nPossible additions: ")
		sb.WriteString(sugg)
	}
	sb.WriteString("\nLast updated on ")
	sb.WriteString(e.Attr("update"))
	sb.WriteString(" by ")
	sb.WriteString(providers.SanitizeUser(e.Attr("username")))
	return sb.String()
}

// describeElements：elems 字段形如 "node123_way45"，展开为人读的对象列表
func describeElements(elems string) string {
	elems = strings.TrimSpace(elems)
	if elems == "" {
		return ""
	}
	parts := strings.Split(elems, "_")
	var out []string
	for _, part := range parts {
		for _, kind := range []string{"node", "way", "relation"} {
			if strings.HasPrefix(part, kind) {
				out = append(out, kind+" "+strings.TrimPrefix(part, kind))
				break
			}
		}
	}
	if len(out) == 0 {
		return ""
	}
	last := len(out) - 1
	if last == 0 {
		return "Elements: " + out[0]
	}
	return "Elements: " + strings.Join(out[:last], ", ") + " and " + out[last]
}

// Icon：item 编号对应的标记图，30 天窗口；失败回退通用图标键
func (p *Provider) Icon(ctx context.Context, code string, _ int) string {
	url := fmt.Sprintf(p.cfg.BaseImg, code)
	path, err := p.cache.FetchFile(ctx, url, "image/*", cache.ImgDir, iconMaxAge)
	if err != nil {
		logger.L().Debug("osmose_icon_fallback", "code", code, "err", err)
		return providers.IconUnknown
	}
	return path
}

// itemsDoc：meta/items 返回 [[编号, {"en": 名称}], ...]
type itemsDoc struct {
	Items [][]json.RawMessage `json:"items"`
}

// ErrorCodes：远端拉取错误编号表（缓存 + 进程内记忆化）
// 背景：分类不可用绝不能阻塞数据源可用性，失败降级为单一兜底编号"全部"
func (p *Provider) ErrorCodes(ctx context.Context) []providers.Code {
	p.mu.Lock()
	if p.codes != nil {
		out := p.codes
		p.mu.Unlock()
		return out
	}
	p.mu.Unlock()
	codes, err := p.fetchItems(ctx)
	if err != nil {
		metrics.TaxonomyFallbackTotal.WithLabelValues(Name).Inc()
		logger.L().Warn("osmose_taxonomy_fallback", "err", err)
		return []providers.Code{{ID: catchAllCode, Label: "All"}}
	}
	p.mu.Lock()
	p.codes = codes
	p.mu.Unlock()
	return codes
}

func (p *Provider) fetchItems(ctx context.Context) ([]providers.Code, error) {
	payload, err := p.cache.Fetch(ctx, p.cfg.BaseAPI+"meta/items", "application/json", cache.DataDir, taxonomyMaxAge)
	if err != nil {
		return nil, err
	}
	var doc itemsDoc
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("osmose: decode items: %w", err)
	}
	var out []providers.Code
	for _, row := range doc.Items {
		if len(row) < 2 {
			continue
		}
		var num json.Number
		if err := json.Unmarshal(row[0], &num); err != nil {
			continue
		}
		label := "(name missing)"
		var names map[string]string
		if err := json.Unmarshal(row[1], &names); err == nil {
			if en, ok := names["en"]; ok && en != "" {
				label = en
			}
		}
		out = append(out, providers.Code{ID: num.String(), Label: label})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("osmose: empty item list")
	}
	return out, nil
}

// Category：错误编号的分组（菜单层级）
type Category struct {
	ID    string
	Label string
	Codes []providers.Code
}

// Categories：两段依赖调用：先取编号表，再取分组；分组失败降级为单一分组包含全部编号
func (p *Provider) Categories(ctx context.Context) []Category {
	errs := p.ErrorCodes(ctx)
	byID := make(map[string]string, len(errs))
	for _, c := range errs {
		byID[c.ID] = c.Label
	}
	payload, err := p.cache.Fetch(ctx, p.cfg.BaseAPI+"meta/categories", "application/json", cache.DataDir, taxonomyMaxAge)
	if err != nil {
		metrics.TaxonomyFallbackTotal.WithLabelValues(Name).Inc()
		logger.L().Warn("osmose_categories_fallback", "err", err)
		return []Category{{ID: "-1", Label: "No categories found", Codes: errs}}
	}
	var doc struct {
		Categories []struct {
			Categ    int               `json:"categ"`
			MenuLang map[string]string `json:"menu_lang"`
			Item     []struct {
				Item int `json:"item"`
			} `json:"item"`
		} `json:"categories"`
	}
	if err := json.Unmarshal(payload, &doc); err != nil || len(doc.Categories) == 0 {
		metrics.TaxonomyFallbackTotal.WithLabelValues(Name).Inc()
		logger.L().Warn("osmose_categories_fallback", "err", err)
		return []Category{{ID: "-1", Label: "No categories found", Codes: errs}}
	}
	var out []Category
	for _, c := range doc.Categories {
		cat := Category{ID: strconv.Itoa(c.Categ), Label: c.MenuLang["en"]}
		for _, it := range c.Item {
			id := strconv.Itoa(it.Item)
			cat.Codes = append(cat.Codes, providers.Code{ID: id, Label: byID[id]})
		}
		out = append(out, cat)
	}
	return out
}

// DefaultCodes：默认启用远端表全部编号（分类不可用时为兜底编号）
func (p *Provider) DefaultCodes() []string {
	codes := p.ErrorCodes(context.Background())
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		out = append(out, c.ID)
	}
	return out
}

func (p *Provider) DownloadErrorList() string { return providers.JoinCodes(p.enabledCodes()) }

// MarkResolved：fixed 提交 done，false positive 提交 false；非 2xx 返回可重试错误
func (p *Provider) MarkResolved(ctx context.Context, e *entity.Entity, v providers.Verdict) error {
	action := "done"
	if v == providers.VerdictFalsePositive {
		action = "false"
	}
	url := p.cfg.BaseAPI + "error/" + e.ID + "/" + action
	_, err := p.cache.Fetch(ctx, url, "", cache.DataDir, 0)
	p.cache.Invalidate(ctx, url)
	if err != nil {
		metrics.MutationFailTotal.WithLabelValues(Name).Inc()
		return &providers.MutationError{Provider: Name, ID: e.ID, Err: err}
	}
	e.MarkResolved()
	metrics.MutationTotal.WithLabelValues(Name, string(v)).Inc()
	return nil
}

func rawToString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.Trim(string(raw), "\"")
}
