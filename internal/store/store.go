// 包 store：PostgreSQL 数据访问层，持久化已向上游提交的裁决
// 背景：已处理标记是终态且必须跨进程保留——缓存清理与重新抓取都不得让
// 已通报的错误再次以未处理状态出现；数据库缺席时退化为纯内存粘性，不致命
package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"openqa/internal/logger"
)

// Store：数据库访问入口，持有连接池
type Store struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

// Open：使用 DSN 打开数据库连接并配置连接池参数
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// RecordResolved：记录一条已提交裁决（幂等，重复提交覆盖裁决与时间）
func (s *Store) RecordResolved(ctx context.Context, provider, errorID, verdict string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO _qa_resolved (provider, error_id, verdict, resolved_at)
         VALUES ($1, $2, $3, $4)
         ON CONFLICT (provider, error_id)
         DO UPDATE SET verdict = EXCLUDED.verdict, resolved_at = EXCLUDED.resolved_at`,
		provider, errorID, verdict, time.Now().UTC())
	if err != nil {
		logger.L().Error("store_record_resolved_error", "provider", provider, "id", errorID, "err", err)
		return err
	}
	logger.L().Debug("store_record_resolved", "provider", provider, "id", errorID, "verdict", verdict)
	return nil
}

// ResolvedIDs：某数据源全部已处理错误 id，启动时回灌实体仓库的粘性集合
func (s *Store) ResolvedIDs(ctx context.Context, provider string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT error_id FROM _qa_resolved WHERE provider = $1 ORDER BY resolved_at`, provider)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
