package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/go-sql-driver/mysql"
)

// InstructionRecord 表示一条指令处理的落库结构。
type InstructionRecord struct {
	ID          int64  `json:"id,omitempty"`
	Instruction string `json:"instruction"`
	Kind        string `json:"kind"`
	Stage       string `json:"stage"`
	Response    string `json:"response"`
	ErrorCode   string `json:"error_code,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// InstructionRepository 抽象指令历史的持久化接口。
type InstructionRepository interface {
	Create(ctx context.Context, record *InstructionRecord) error
	ListLatest(ctx context.Context, limit int) ([]InstructionRecord, error)
}

// memoryRetention 是内存仓库保留的最大记录条数。
const memoryRetention = 512

// MemoryInstructionRepository 使用本地 JSON 行文件模拟 MySQL 的效果,方便迭代开发。
type MemoryInstructionRepository struct {
	mu       sync.RWMutex
	dataFile string
	nextID   int64
	records  []InstructionRecord
}

// NewMemoryInstructionRepository 创建一个内存指令仓库。
func NewMemoryInstructionRepository(dataDir string) (*MemoryInstructionRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	path := filepath.Join(dataDir, "instructions.log")
	repo := &MemoryInstructionRepository{dataFile: path}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Create 以追加写的方式记录一条指令处理结果。
func (m *MemoryInstructionRepository) Create(_ context.Context, record *InstructionRecord) error {
	if record == nil {
		return fmt.Errorf("指令记录不能为空")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	record.ID = m.nextID

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开指令日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化指令记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入指令日志失败: %w", err)
	}

	m.records = append([]InstructionRecord{*record}, m.records...)
	if len(m.records) > memoryRetention {
		m.records = m.records[:memoryRetention]
	}
	return nil
}

// ListLatest 返回最近的指令记录,按时间倒序排列。
func (m *MemoryInstructionRepository) ListLatest(_ context.Context, limit int) ([]InstructionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	results := make([]InstructionRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

func (m *MemoryInstructionRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取指令日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []InstructionRecord
	for scanner.Scan() {
		var record InstructionRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		if record.ID > m.nextID {
			m.nextID = record.ID
		}
		restored = append([]InstructionRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析指令日志失败: %w", err)
	}

	if len(restored) > memoryRetention {
		restored = restored[:memoryRetention]
	}
	if len(restored) > 0 {
		m.records = restored
	}
	return nil
}

// SQLInstructionRepository 使用真实的 MySQL 数据库存储指令历史。
type SQLInstructionRepository struct {
	db *sql.DB
}

// NewSQLInstructionRepository 创建连接池并执行数据库迁移。
func NewSQLInstructionRepository(ctx context.Context, cfg Config) (*SQLInstructionRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	repo := &SQLInstructionRepository{db: db}
	if err := repo.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// Create 将指令记录写入 MySQL。
func (s *SQLInstructionRepository) Create(ctx context.Context, record *InstructionRecord) error {
	if record == nil {
		return fmt.Errorf("指令记录不能为空")
	}

	const stmt = `INSERT INTO instructions
        (instruction, kind, stage, response, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, stmt,
		record.Instruction,
		record.Kind,
		record.Stage,
		record.Response,
		record.ErrorCode,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("写入 MySQL 失败: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		record.ID = id
	}
	return nil
}

// ListLatest 查询最近的若干条指令记录。
func (s *SQLInstructionRepository) ListLatest(ctx context.Context, limit int) ([]InstructionRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, instruction, kind, stage, response, error_code, created_at, updated_at
        FROM instructions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询指令记录失败: %w", err)
	}
	defer rows.Close()

	var records []InstructionRecord
	for rows.Next() {
		var record InstructionRecord
		if err := rows.Scan(&record.ID, &record.Instruction, &record.Kind, &record.Stage,
			&record.Response, &record.ErrorCode, &record.CreatedAt, &record.UpdatedAt); err != nil {
			return nil, fmt.Errorf("解析指令记录失败: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历指令记录失败: %w", err)
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLInstructionRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
