// 包 keepright：KeepRight 数据源（GPX / GeoJSON 线格式，静态分类表）
package keepright

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"openqa/internal/cache"
	"openqa/internal/entity"
	"openqa/internal/geo"
	"openqa/internal/logger"
	"openqa/internal/metrics"
	"openqa/internal/providers"
)

const Name = "keepright"

// 裁决对应的上游状态码
const (
	stFixed         = "ignore_t"
	stFalsePositive = "ignore"
)

// 错误编号分组间隔：图标按组编号提供（191 → zap190.png）
const groupDifference = 10

// 载荷与图标的缓存窗口
const (
	payloadMaxAge = 24 * time.Hour
	iconMaxAge    = 30 * 24 * time.Hour
)

// Config：KeepRight 实例配置
// 背景：地址模板可注入以便测试指向本地桩服务；启用编号与输出格式来自外部已解析配置
type Config struct {
	BaseAPI      string // export.php 查询地址前缀
	BaseImg      string // 图标地址模板，占位组编号
	BaseErrorURL string // 报告页地址模板，占位 schema 与错误编号
	CommentURL   string // 裁决提交地址模板，占位状态、备注、schema、错误 id
	Enabled      []string
	Format       string
}

// Provider：KeepRight 数据源实现
type Provider struct {
	cache   *cache.Cache
	cfg     Config
	enabled []string
	format  string
}

func New(c *cache.Cache, cfg Config) *Provider {
	if cfg.BaseAPI == "" {
		cfg.BaseAPI = "https://www.keepright.at/export.php?"
	}
	if cfg.BaseImg == "" {
		cfg.BaseImg = "https://www.keepright.at/img/zap%d.png"
	}
	if cfg.BaseErrorURL == "" {
		cfg.BaseErrorURL = "https://www.keepright.at/report_map.php?schema=%s&error=%s"
	}
	if cfg.CommentURL == "" {
		cfg.CommentURL = "https://www.keepright.at/comment.php?st=%s&co=%s&schema=%s&id=%s"
	}
	p := &Provider{cache: c, cfg: cfg, enabled: cfg.Enabled, format: cfg.Format}
	if len(p.enabled) == 0 {
		p.enabled = p.DefaultCodes()
	}
	// 未知输出格式回退到 gpx（文档化默认），不视为致命配置错误
	if _, ok := formats[p.format]; !ok {
		if p.format != "" {
			logger.L().Warn("keepright_format_fallback", "requested", p.format, "using", "gpx")
		}
		p.format = "gpx"
	}
	return p
}

func (p *Provider) Name() string { return Name }

// QueryURL：由区域四角、启用编号与格式确定性拼接
func (p *Provider) QueryURL(b geo.Bound, codes []string, format string) string {
	var sb strings.Builder
	sb.WriteString(p.cfg.BaseAPI)
	sb.WriteString("format=")
	sb.WriteString(format)
	sb.WriteString("&ch=")
	sb.WriteString(providers.JoinCodes(codes))
	sb.WriteString("&left=")
	sb.WriteString(strconv.FormatFloat(b.MinLon, 'f', -1, 64))
	sb.WriteString("&bottom=")
	sb.WriteString(strconv.FormatFloat(b.MinLat, 'f', -1, 64))
	sb.WriteString("&right=")
	sb.WriteString(strconv.FormatFloat(b.MaxLon, 'f', -1, 64))
	sb.WriteString("&top=")
	sb.WriteString(strconv.FormatFloat(b.MaxLat, 'f', -1, 64))
	return sb.String()
}

// FetchAndParse：经缓存抓取单个区域并解析为新仓库
func (p *Provider) FetchAndParse(ctx context.Context, b geo.Bound) (*entity.Store, error) {
	url := p.QueryURL(b, p.enabled, p.format)
	payload, err := p.cache.Fetch(ctx, url, formats[p.format], cache.DataDir, payloadMaxAge)
	if err != nil {
		return nil, err
	}
	if p.format == "geojson" {
		return p.parseGeoJSON(payload)
	}
	return p.parseGPX(payload)
}

// geojsonDoc：只解码需要的字段，属性保持原样以便全部进入实体属性包
type geojsonDoc struct {
	Features []struct {
		Geometry struct {
			Type        string    `json:"type"`
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties map[string]json.RawMessage `json:"properties"`
	} `json:"features"`
}

// parseGeoJSON：逐条解析，坏记录跳过并记数，不中断整个载荷
func (p *Provider) parseGeoJSON(payload []byte) (*entity.Store, error) {
	var doc geojsonDoc
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("keepright: decode geojson: %w", err)
	}
	s := entity.NewStore()
	for _, f := range doc.Features {
		attrs := make(map[string]string, len(f.Properties))
		for k, raw := range f.Properties {
			attrs[k] = rawToString(raw)
		}
		id := attrs["error_id"]
		if id == "" || len(f.Geometry.Coordinates) < 2 {
			metrics.ParseSkipTotal.WithLabelValues(Name).Inc()
			logger.L().Debug("keepright_record_skip", "reason", "missing id or geometry")
			continue
		}
		coord := geo.LatLon{Lat: f.Geometry.Coordinates[1], Lon: f.Geometry.Coordinates[0]}
		e, err := entity.New(id, coord, attrs["error_type"])
		if err != nil {
			metrics.ParseSkipTotal.WithLabelValues(Name).Inc()
			logger.L().Debug("keepright_record_skip", "err", err)
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

type gpxElem struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

// parseGPX：GPX 航点转实体；扩展块子元素按本地名进入属性包
func (p *Provider) parseGPX(payload []byte) (*entity.Store, error) {
	var doc struct {
		XMLName   xml.Name `xml:"gpx"`
		Waypoints []struct {
			Lat        float64 `xml:"lat,attr"`
			Lon        float64 `xml:"lon,attr"`
			Name       string  `xml:"name"`
			Desc       string  `xml:"desc"`
			Cmt        string  `xml:"cmt"`
			Extensions struct {
				Fields []gpxElem `xml:",any"`
			} `xml:"extensions"`
		} `xml:"wpt"`
	}
	if err := xml.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("keepright: decode gpx: %w", err)
	}
	s := entity.NewStore()
	for _, w := range doc.Waypoints {
		attrs := map[string]string{}
		if w.Name != "" {
			attrs["title"] = w.Name
		}
		if w.Desc != "" {
			attrs["description"] = w.Desc
		}
		if w.Cmt != "" {
			attrs["comment"] = w.Cmt
		}
		for _, f := range w.Extensions.Fields {
			attrs[f.XMLName.Local] = strings.TrimSpace(f.Value)
		}
		id := attrs["error_id"]
		if id == "" {
			metrics.ParseSkipTotal.WithLabelValues(Name).Inc()
			logger.L().Debug("keepright_record_skip", "reason", "missing error_id")
			continue
		}
		e, err := entity.New(id, geo.LatLon{Lat: w.Lat, Lon: w.Lon}, attrs["error_type"])
		if err != nil {
			metrics.ParseSkipTotal.WithLabelValues(Name).Inc()
			logger.L().Debug("keepright_record_skip", "err", err)
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

// Tooltip：标题、报告页链接、描述、对象归属与用户备注组合为自足文本
// 约束：只读已解析字段，不触网
func (p *Provider) Tooltip(_ context.Context, e *entity.Entity) string {
	var sb strings.Builder
	sb.WriteString("KeepRight: ")
	sb.WriteString(e.Attr("title"))
	sb.WriteString(" - ")
	sb.WriteString(fmt.Sprintf(p.cfg.BaseErrorURL, e.Attr("schema"), e.ID))
	if d := e.Attr("description"); d != "" {
		sb.WriteString("\n")
		sb.WriteString(d)
	}
	sb.WriteString("\nobject ")
	sb.WriteString(e.Attr("object_type"))
	sb.WriteString(" ")
	sb.WriteString(e.Attr("object_id"))
	if c := strings.TrimSpace(e.Attr("comment")); c != "" {
		sb.WriteString("\n")
		sb.WriteString(providers.SanitizeUser(c))
	}
	return sb.String()
}

// Icon：编号量化到组后经缓存取图，30 天窗口；失败回退通用图标键
func (p *Provider) Icon(ctx context.Context, code string, _ int) string {
	n, err := strconv.Atoi(code)
	if err != nil {
		return providers.IconUnknown
	}
	group := (n / groupDifference) * groupDifference
	url := fmt.Sprintf(p.cfg.BaseImg, group)
	path, err := p.cache.FetchFile(ctx, url, "image/*", cache.ImgDir, iconMaxAge)
	if err != nil {
		logger.L().Debug("keepright_icon_fallback", "code", code, "err", err)
		return providers.IconUnknown
	}
	return path
}

// ErrorCodes：静态表按编号序返回
func (p *Provider) ErrorCodes(_ context.Context) []providers.Code {
	out := make([]providers.Code, 0, len(errorTable))
	for _, row := range errorTable {
		out = append(out, providers.Code{ID: strconv.Itoa(row.code), Label: row.label})
	}
	return out
}

// DefaultCodes：默认启用全部编号
func (p *Provider) DefaultCodes() []string {
	out := make([]string, 0, len(errorTable))
	for _, row := range errorTable {
		out = append(out, strconv.Itoa(row.code))
	}
	return out
}

func (p *Provider) DownloadErrorList() string { return providers.JoinCodes(p.enabled) }

// MarkResolved：向 comment.php 提交状态；非 2xx 或网络错误返回可重试的 MutationError
// 背景：提交经缓存通道执行（零窗口强制回源），成功后立刻作废该地址的缓存记录
func (p *Provider) MarkResolved(ctx context.Context, e *entity.Entity, v providers.Verdict) error {
	st := stFixed
	if v == providers.VerdictFalsePositive {
		st = stFalsePositive
	}
	url := fmt.Sprintf(p.cfg.CommentURL, st, "", e.Attr("schema"), e.ID)
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
