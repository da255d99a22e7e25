package mysql

import (
	"context"
	"testing"
)

func TestMemoryInstructionRepository(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewMemoryInstructionRepository(dir)
	if err != nil {
		t.Fatalf("创建内存仓库失败: %v", err)
	}

	ctx := context.Background()
	for i, instr := range []string{"查询所有员工", "删除张三", "插入一条记录"} {
		rec := &InstructionRecord{
			Instruction: instr,
			Kind:        "QUERY",
			Stage:       "DONE",
			Response:    "ok",
			CreatedAt:   int64(100 + i),
			UpdatedAt:   int64(100 + i),
		}
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("写入记录失败: %v", err)
		}
		if rec.ID == 0 {
			t.Fatal("记录应分配自增 ID")
		}
	}

	latest, err := repo.ListLatest(ctx, 2)
	if err != nil {
		t.Fatalf("查询记录失败: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("期望 2 条记录, 实际 %d 条", len(latest))
	}
	if latest[0].Instruction != "插入一条记录" {
		t.Fatalf("记录应按时间倒序, 实际首条: %s", latest[0].Instruction)
	}

	// 重新加载应从磁盘恢复历史。
	reloaded, err := NewMemoryInstructionRepository(dir)
	if err != nil {
		t.Fatalf("重建仓库失败: %v", err)
	}
	all, err := reloaded.ListLatest(ctx, 0)
	if err != nil {
		t.Fatalf("查询恢复后的记录失败: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("期望恢复 3 条记录, 实际 %d 条", len(all))
	}
}

func TestMemoryInstructionRepositoryNilRecord(t *testing.T) {
	repo, err := NewMemoryInstructionRepository(t.TempDir())
	if err != nil {
		t.Fatalf("创建内存仓库失败: %v", err)
	}
	if err := repo.Create(context.Background(), nil); err == nil {
		t.Fatal("空记录应当报错")
	}
}
