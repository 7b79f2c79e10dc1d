// 包 providers：远端质检数据源的统一契约
// 背景：各数据源线格式与分类体系互不相同，抓取/合并/选择逻辑只通过本接口工作；
// 实例在启动时显式注册，不做运行期类型发现。
package providers

import (
	"context"
	"fmt"
	"strings"

	"openqa/internal/entity"
	"openqa/internal/geo"
)

// Verdict：用户对一条错误的裁决，提交到上游
type Verdict string

const (
	VerdictFixed         Verdict = "fixed"
	VerdictFalsePositive Verdict = "false_positive"
)

// Code：错误分类条目（编号 + 人读标签），有序返回
type Code struct {
	ID    string
	Label string
}

// IconUnknown：编号未知或图标抓取失败时的通用回退图标键
const IconUnknown = "note_unknown"

// 文档注释：数据源契约（每个远端服务实现一次）
// 约束：FetchAndParse 必须容忍局部损坏的载荷，跳过坏记录继续；Tooltip 只读已有
// 字段，除显式的按需补充抓取外不得阻塞在网络上；MarkResolved 失败后可安全重试。
type Provider interface {
	// Name：数据源标识，注册表与指标用
	Name() string
	// QueryURL：由查询区域、启用编号与输出格式确定性构造请求地址
	QueryURL(b geo.Bound, codes []string, format string) string
	// FetchAndParse：经缓存取回区域载荷并解析为新仓库
	FetchAndParse(ctx context.Context, b geo.Bound) (*entity.Store, error)
	// Tooltip：由实体已有字段组合自足的描述文本
	Tooltip(ctx context.Context, e *entity.Entity) string
	// Icon：错误编号对应的标记图标（本地缓存文件路径），失败回退 IconUnknown
	Icon(ctx context.Context, code string, sizePx int) string
	// ErrorCodes：全部可用错误编号（静态表或远端分类，失败降级为兜底单项）
	ErrorCodes(ctx context.Context) []Code
	// DefaultCodes：默认启用的编号列表
	DefaultCodes() []string
	// DownloadErrorList：当前启用编号的逗号拼接，下载参数用
	DownloadErrorList() string
	// MarkResolved：向上游提交裁决；成功后置实体终态并作废相关缓存
	MarkResolved(ctx context.Context, e *entity.Entity, v Verdict) error
}

// Action：实体上可执行的操作（人读标签 + 执行闭包）
type Action struct {
	Label   string
	Verdict Verdict
	Invoke  func(ctx context.Context) error
}

// Actions：实体的标准裁决操作集，标签供外部协作方直接呈现
// 约束：Invoke 失败后实体保持未处理状态，可安全重试
func Actions(p Provider, e *entity.Entity) []Action {
	return []Action{
		{
			Label:   "Fixed",
			Verdict: VerdictFixed,
			Invoke:  func(ctx context.Context) error { return p.MarkResolved(ctx, e, VerdictFixed) },
		},
		{
			Label:   "False positive",
			Verdict: VerdictFalsePositive,
			Invoke:  func(ctx context.Context) error { return p.MarkResolved(ctx, e, VerdictFalsePositive) },
		},
	}
}

// MutationError：裁决提交失败（可重试）
type MutationError struct {
	Provider string
	ID       string
	Err      error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s: mark %s: %v", e.Provider, e.ID, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

// JoinCodes：编号列表拼为下载参数
func JoinCodes(codes []string) string { return strings.Join(codes, ",") }

// SanitizeUser：用户名兜底与转义
// 背景：上游用户名可能为空或含标记字符，组合进描述文本前统一处理
func SanitizeUser(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "<Anonymous>"
	}
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\"", "&quot;")
	return r.Replace(name)
}
