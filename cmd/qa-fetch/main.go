package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"openqa/internal/cache"
	"openqa/internal/geo"
	"openqa/internal/logger"
	"openqa/internal/providers"
	"openqa/internal/providers/keepright"
	"openqa/internal/providers/osmose"
	"openqa/internal/update"
)

// 文档注释：一次性抓取工具
// 背景：不起服务，对给定区域跑一轮完整更新并把合并结果以 JSON 打到标准输出；
// 用于核对上游数据、预热本地缓存与排查解析问题。
// 约束：区域参数形如 "left,bottom,right,top"，可重复；共享服务的缓存目录。
func main() {
	_ = godotenv.Load(".env")
	l := logger.Setup()

	var bboxes multiFlag
	flag.Var(&bboxes, "bbox", "query bound as left,bottom,right,top (repeatable)")
	provName := flag.String("provider", "", "restrict to a single provider (keepright|osmose)")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall fetch deadline")
	flag.Parse()

	if len(bboxes) == 0 {
		l.Error("bbox_missing")
		os.Exit(1)
	}
	var bounds []geo.Bound
	for _, v := range bboxes {
		b, err := parseBound(v)
		if err != nil {
			l.Error("bbox_invalid", "value", v, "err", err)
			os.Exit(1)
		}
		bounds = append(bounds, b)
	}

	cacheRoot := os.Getenv("QA_CACHE_DIR")
	if cacheRoot == "" {
		cacheRoot = filepath.Join("data", "cache")
	}
	qc := cache.New(cacheRoot, nil, nil)

	reg := providers.NewRegistry()
	if *provName == "" || *provName == keepright.Name {
		reg.Register(keepright.New(qc, keepright.Config{}))
	}
	if *provName == "" || *provName == osmose.Name {
		reg.Register(osmose.New(qc, osmose.Config{}))
	}
	if len(reg.All()) == 0 {
		l.Error("provider_unknown", "name", *provName)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	update.NewOrchestrator().Update(ctx, reg, bounds, nil)

	out := make(map[string][]map[string]any)
	for _, p := range reg.All() {
		s, _ := reg.Store(p.Name())
		for _, e := range s.Entities() {
			out[p.Name()] = append(out[p.Name()], map[string]any{
				"id":   e.ID,
				"lat":  e.Coord.Lat,
				"lon":  e.Coord.Lon,
				"code": e.Code,
			})
		}
		l.Info("fetch_done", "provider", p.Name(), "entities", s.Len())
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}

type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ";") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

func parseBound(v string) (geo.Bound, error) {
	parts := strings.Split(v, ",")
	if len(parts) != 4 {
		return geo.Bound{}, errBadBound
	}
	var f [4]float64
	for i, p := range parts {
		x, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geo.Bound{}, err
		}
		f[i] = x
	}
	b := geo.Bound{MinLon: f[0], MinLat: f[1], MaxLon: f[2], MaxLat: f[3]}
	if !b.Valid() {
		return geo.Bound{}, errBadBound
	}
	return b, nil
}

var errBadBound = errors.New("bad bound")
