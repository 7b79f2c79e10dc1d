package migrate

import (
	"database/sql"

	"openqa/internal/logger"
)

// 背景：首次运行自动创建裁决持久化所需的表与索引
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；仅创建最小必需结构
func EnsureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _qa_resolved (
            provider TEXT NOT NULL,
            error_id TEXT NOT NULL,
            verdict TEXT NOT NULL,
            resolved_at TIMESTAMPTZ NOT NULL,
            PRIMARY KEY (provider, error_id)
        )`,
		`CREATE INDEX IF NOT EXISTS idx_qa_resolved_provider ON _qa_resolved(provider)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_ok")
	return nil
}
