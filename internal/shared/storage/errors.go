// Package storage 定义存储层领域错误
//
// 这些错误用于隔离业务层与底层存储引擎的错误类型，
// 各驱动实现（mongostore/sqlitestore/memstore）负责将底层错误转换为这些领域错误。
package storage

import "errors"

var (
	// ErrNotFound 实体不存在
	// 替代 mongo.ErrNoDocuments / sql.ErrNoRows
	ErrNotFound = errors.New("entity not found")

	// ErrConflict 并发冲突（状态机校验失败或乐观锁失败）
	ErrConflict = errors.New("conflict: concurrent modification detected")

	// ErrDuplicate 唯一键冲突（INSERT 重复 ID 或重复 agent+version）
	ErrDuplicate = errors.New("duplicate: entity already exists")

	// ErrVersionCorruption 版本计数器损坏：同一 Agent 下同一版本出现不同指纹。
	// 该写入必须被拒绝，不允许静默覆盖。
	ErrVersionCorruption = errors.New("version corruption: same agent+version with different content hash")
)
