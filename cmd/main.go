// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"openqa/internal/api"
	"openqa/internal/cache"
	"openqa/internal/logger"
	"openqa/internal/metrics"
	"openqa/internal/middleware"
	"openqa/internal/migrate"
	"openqa/internal/providers"
	"openqa/internal/providers/keepright"
	"openqa/internal/providers/osmose"
	"openqa/internal/selector"
	"openqa/internal/store"
	"openqa/internal/update"
	"openqa/internal/utils"
	"openqa/internal/version"
)

func csvEnv(name string) []string {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	// 日志初始化
	l := logger.Setup()
	l.Debug("log_init_ok")
	apiBase := os.Getenv("API_BASE")
	if apiBase == "" {
		apiBase = "/api"
	}
	l.Debug("config_api_base", "base", apiBase)

	// 文档注释：数据库为可选依赖
	// 背景：裁决持久化缺席时退化为纯内存粘性，不阻止服务启动；
	// 打开或建表失败只记日志并继续。
	var st *store.Store
	if os.Getenv("PG_DISABLE") != "true" {
		db, err := utils.OpenPostgresFromEnv()
		if err != nil {
			l.Error("db_open_error", "err", err)
		} else if err := db.Ping(); err != nil {
			l.Error("db_ping_error", "err", err)
			_ = db.Close()
		} else if err := migrate.EnsureSchema(db); err != nil {
			l.Error("schema_error", "err", err)
			_ = db.Close()
		} else {
			l.Info("db_open_ok")
			defer db.Close()
			st = store.AttachDB(db)
		}
	} else {
		l.Info("db_disabled")
	}

	rc := utils.OpenRedisFromEnv()
	if rc == nil {
		l.Info("redis_disabled")
	} else {
		if err := rc.Ping(context.Background()).Err(); err != nil {
			l.Error("redis_ping_error", "err", err)
		} else {
			l.Info("redis_ping_ok")
		}
	}

	cacheRoot := os.Getenv("QA_CACHE_DIR")
	if cacheRoot == "" {
		cacheRoot = filepath.Join("data", "cache")
	}
	l.Debug("config_cache_dir", "dir", cacheRoot)
	qc := cache.New(cacheRoot, rc, nil)

	// 文档注释：数据源注册
	// 背景：实例在启动时显式构建并注册；启用编号与输出格式来自环境变量，
	// 留空走各数据源默认。单个数据源可整体停用。
	reg := providers.NewRegistry()
	if os.Getenv("KEEPRIGHT_DISABLE") != "true" {
		reg.Register(keepright.New(qc, keepright.Config{
			Enabled: csvEnv("KEEPRIGHT_CODES"),
			Format:  os.Getenv("KEEPRIGHT_FORMAT"),
		}))
	}
	if os.Getenv("OSMOSE_DISABLE") != "true" {
		reg.Register(osmose.New(qc, osmose.Config{
			Enabled: csvEnv("OSMOSE_CODES"),
		}))
	}

	// 启动时回灌粘性集合：数据库里已通报的错误不再以未处理状态出现
	if st != nil {
		for _, p := range reg.All() {
			ids, err := st.ResolvedIDs(context.Background(), p.Name())
			if err != nil {
				l.Error("resolved_seed_error", "provider", p.Name(), "err", err)
				continue
			}
			if s, ok := reg.Store(p.Name()); ok && len(ids) > 0 {
				s.SeedResolved(ids)
				l.Info("resolved_seeded", "provider", p.Name(), "count", len(ids))
			}
		}
	}

	orch := update.NewOrchestrator()
	orch.OnChange(func() { l.Debug("layers_changed") })
	sel := selector.New(reg)

	mux := http.NewServeMux()
	apiMux := api.BuildRoutes(reg, orch, sel, st, qc)
	mux.Handle(apiBase+"/", http.StripPrefix(apiBase, apiMux))
	mux.Handle(apiBase+"/metrics", metrics.Handler())
	mux.HandleFunc(apiBase+"/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json; charset=utf-8")
		w.Header().Set("cache-control", "no-store")
		_, _ = w.Write([]byte(`{"status":"ok","commit":"` + version.Commit + `"}`))
	})

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}
	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.Wrap(handler)
	s := &http.Server{Addr: addr, Handler: handler}
	if os.Getenv("TLS_ENABLE") == "true" {
		certPath := os.Getenv("TLS_CERT_PATH")
		keyPath := os.Getenv("TLS_KEY_PATH")
		if certPath == "" {
			certPath = filepath.Join("data", "certs", "server.crt")
		}
		if keyPath == "" {
			keyPath = filepath.Join("data", "certs", "server.key")
		}
		if err := utils.EnsureSelfSignedCert(certPath, keyPath, "openqa.local"); err != nil {
			l.Error("tls_cert_error", "err", err)
			os.Exit(1)
		}
		l.Info("listening_tls", "addr", addr, "cert", certPath)
		_ = s.ListenAndServeTLS(certPath, keyPath)
		return
	}
	l.Info("listening", "addr", addr)
	_ = s.ListenAndServe()
}
