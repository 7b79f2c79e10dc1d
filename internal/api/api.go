// 包 api：集中注册 HTTP API 路由以解耦主入口，便于后续扩展与替换
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"openqa/internal/cache"
	"openqa/internal/entity"
	"openqa/internal/geo"
	"openqa/internal/logger"
	"openqa/internal/metrics"
	"openqa/internal/providers"
	"openqa/internal/providers/osmose"
	"openqa/internal/selector"
	"openqa/internal/store"
	"openqa/internal/update"
)

// 实体视图：仅包含对外返回必要字段
type entityView struct {
	ID          string            `json:"id"`
	Lat         float64           `json:"lat"`
	Lon         float64           `json:"lon"`
	Code        string            `json:"code"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	ActionTaken bool              `json:"action_taken"`
}

func viewOf(e *entity.Entity) entityView {
	return entityView{
		ID:          e.ID,
		Lat:         e.Coord.Lat,
		Lon:         e.Coord.Lon,
		Code:        e.Code,
		Attributes:  e.AttrSnapshot(),
		ActionTaken: e.Resolved(),
	}
}

// 解析 bbox 参数：每项形如 "left,bottom,right,top"（经度,纬度,经度,纬度）
// 越界或格式错误的区域直接拒绝整个请求，不做部分处理
func parseBounds(vals []string) ([]geo.Bound, bool) {
	var out []geo.Bound
	for _, v := range vals {
		parts := strings.Split(v, ",")
		if len(parts) != 4 {
			return nil, false
		}
		var f [4]float64
		for i, p := range parts {
			x, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return nil, false
			}
			f[i] = x
		}
		b := geo.Bound{MinLon: f[0], MinLat: f[1], MaxLon: f[2], MaxLat: f[3]}
		if !b.Valid() {
			return nil, false
		}
		out = append(out, b)
	}
	return out, true
}

// 叠加层与点击选择共用的屏幕投影：经度为 X、纬度为 Y 的恒等投影
// 约束：调用方给出的 dist 与坐标须在同一单位（度）下解释
func identityProjection(ll geo.LatLon) geo.Point {
	return geo.Point{X: ll.Lon, Y: ll.Lat}
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

// writeJSONStatus：响应头必须先于状态行写入，WriteHeader 之后的 Set 会被丢弃
func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSONStatus(w, code, map[string]string{"error": msg})
}

// 构建并返回 API 路由：独立 ServeMux 便于在主入口挂载到 /api 前缀
// 背景：st 可为 nil（数据库退化模式），此时裁决只保留在内存粘性集合里
func BuildRoutes(reg *providers.Registry, orch *update.Orchestrator, sel *selector.Selector, st *store.Store, qc *cache.Cache) *http.ServeMux {
	apiMux := http.NewServeMux()

	// 按区域列表触发一轮更新并返回各数据源当前仓库内容
	apiMux.HandleFunc("/errors", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		metrics.RequestsTotal.Inc()
		bounds, ok := parseBounds(r.URL.Query()["bbox"])
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid bbox")
			return
		}
		orch.Update(ctx, reg, bounds, nil)
		res := make(map[string][]entityView)
		for _, p := range reg.Enabled() {
			s, _ := reg.Store(p.Name())
			views := make([]entityView, 0, s.Len())
			for _, e := range s.Entities() {
				views = append(views, viewOf(e))
			}
			res[p.Name()] = views
		}
		writeJSON(w, res)
	})

	apiMux.HandleFunc("/tooltip", func(w http.ResponseWriter, r *http.Request) {
		p, s, ok := lookup(reg, r)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown provider")
			return
		}
		e, ok := s.Get(r.URL.Query().Get("id"))
		if !ok {
			writeError(w, http.StatusNotFound, "unknown id")
			return
		}
		writeJSON(w, map[string]string{"tooltip": p.Tooltip(r.Context(), e)})
	})

	// 标记图标：命中本地缓存时直接回文件字节，否则返回兜底图标键
	apiMux.HandleFunc("/icon", func(w http.ResponseWriter, r *http.Request) {
		p, _, ok := lookup(reg, r)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown provider")
			return
		}
		size := 16
		if v := r.URL.Query().Get("size"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				size = n
			}
		}
		path := p.Icon(r.Context(), r.URL.Query().Get("code"), size)
		if path == providers.IconUnknown {
			writeJSONStatus(w, http.StatusNotFound, map[string]string{"icon": providers.IconUnknown})
			return
		}
		w.Header().Set("content-type", "image/png")
		http.ServeFile(w, r, path)
	})

	apiMux.HandleFunc("/codes", func(w http.ResponseWriter, r *http.Request) {
		p, _, ok := lookup(reg, r)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown provider")
			return
		}
		codes := p.ErrorCodes(r.Context())
		views := make([]map[string]string, 0, len(codes))
		for _, c := range codes {
			views = append(views, map[string]string{"id": c.ID, "label": c.Label})
		}
		writeJSON(w, views)
	})

	// 实体可用操作列表：标签与对应裁决值，执行走 /resolve
	apiMux.HandleFunc("/actions", func(w http.ResponseWriter, r *http.Request) {
		p, s, ok := lookup(reg, r)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown provider")
			return
		}
		e, ok := s.Get(r.URL.Query().Get("id"))
		if !ok {
			writeError(w, http.StatusNotFound, "unknown id")
			return
		}
		acts := providers.Actions(p, e)
		views := make([]map[string]string, 0, len(acts))
		for _, a := range acts {
			views = append(views, map[string]string{"label": a.Label, "verdict": string(a.Verdict)})
		}
		writeJSON(w, views)
	})

	// 编号分组：仅支持远端分类体系的数据源提供（目前只有 Osmose）
	apiMux.HandleFunc("/categories", func(w http.ResponseWriter, r *http.Request) {
		p, _, ok := lookup(reg, r)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown provider")
			return
		}
		cz, ok := p.(categorizer)
		if !ok {
			writeError(w, http.StatusNotFound, "provider has no categories")
			return
		}
		writeJSON(w, cz.Categories(r.Context()))
	})

	// 向上游提交裁决；成功后落库并置实体终态
	apiMux.HandleFunc("/resolve", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "POST only")
			return
		}
		p, s, ok := lookup(reg, r)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown provider")
			return
		}
		id := r.URL.Query().Get("id")
		e, ok := s.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown id")
			return
		}
		v := providers.Verdict(r.URL.Query().Get("verdict"))
		if v != providers.VerdictFixed && v != providers.VerdictFalsePositive {
			writeError(w, http.StatusBadRequest, "verdict must be fixed or false_positive")
			return
		}
		if err := p.MarkResolved(r.Context(), e, v); err != nil {
			logger.L().Warn("resolve_failed", "provider", p.Name(), "id", id, "err", err)
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		s.MarkResolved(id)
		if st != nil {
			if err := st.RecordResolved(r.Context(), p.Name(), id, string(v)); err != nil {
				logger.L().Warn("resolve_persist_failed", "provider", p.Name(), "id", id, "err", err)
			}
		}
		writeJSON(w, map[string]any{"id": id, "verdict": string(v), "action_taken": true})
	})

	// 点击选择：收集吸附半径内的聚簇并返回质心
	apiMux.HandleFunc("/select", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		x, ex := strconv.ParseFloat(q.Get("x"), 64)
		y, ey := strconv.ParseFloat(q.Get("y"), 64)
		if ex != nil || ey != nil {
			writeError(w, http.StatusBadRequest, "invalid point")
			return
		}
		dist := 10.0
		if v := q.Get("dist"); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
				dist = f
			}
		}
		selectMode := q.Get("mode") != "pan"
		hits := sel.NearestWithinDistance(geo.Point{X: x, Y: y}, dist, identityProjection, selectMode)
		res := map[string]any{"selected": map[string][]entityView{}}
		groups := res["selected"].(map[string][]entityView)
		for name, list := range hits {
			views := make([]entityView, 0, len(list))
			for _, e := range list {
				views = append(views, viewOf(e))
			}
			groups[name] = views
		}
		if c, ok := selector.Centroid(hits, identityProjection); ok {
			res["centroid"] = map[string]float64{"x": c.X, "y": c.Y}
		}
		writeJSON(w, res)
	})

	// 强制清空：作废载荷缓存并重建仓库，已处理实体保留
	apiMux.HandleFunc("/clear", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "POST only")
			return
		}
		if qc != nil {
			if err := qc.ClearAll(r.Context(), cache.DataDir); err != nil {
				logger.L().Warn("clear_cache_failed", "err", err)
			}
		}
		kept := 0
		for _, p := range reg.All() {
			if s, ok := reg.Store(p.Name()); ok {
				kept += s.RemoveResolved(func(e *entity.Entity) bool { return e.Resolved() })
			}
		}
		logger.L().Info("layers_cleared", "kept", kept)
		writeJSON(w, map[string]int{"kept": kept})
	})

	return apiMux
}

// categorizer：可选的编号分组能力
type categorizer interface {
	Categories(ctx context.Context) []osmose.Category
}

func lookup(reg *providers.Registry, r *http.Request) (providers.Provider, *entity.Store, bool) {
	name := r.URL.Query().Get("provider")
	p, ok := reg.Provider(name)
	if !ok {
		return nil, nil, false
	}
	s, ok := reg.Store(name)
	if !ok {
		return nil, nil, false
	}
	return p, s, true
}
