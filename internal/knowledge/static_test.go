package knowledge

import (
	"os"
	"path/filepath"
	"testing"
)

func sampleSnippets() []Snippet {
	return []Snippet{
		{Field: "name", Description: "员工姓名", Keywords: []string{"姓名", "叫"}},
		{Field: "dept", Description: "部门", Keywords: []string{"department", "部门"}},
		{Field: "salary", Description: "月薪", Keywords: []string{"salary", "工资"}},
	}
}

func TestQueryMatchesByFieldAndKeyword(t *testing.T) {
	provider := NewStaticProvider(sampleSnippets(), 8)

	byField := provider.Query("show dept of everyone")
	if len(byField) != 1 || byField[0].Field != "dept" {
		t.Fatalf("字段名命中结果不符: %+v", byField)
	}

	byKeyword := provider.Query("把工资改成 9000")
	if len(byKeyword) != 1 || byKeyword[0].Field != "salary" {
		t.Fatalf("关键字命中结果不符: %+v", byKeyword)
	}
}

func TestQueryFallsBackToAllFields(t *testing.T) {
	provider := NewStaticProvider(sampleSnippets(), 2)
	got := provider.Query("完全不相关的指令")
	if len(got) != 2 {
		t.Fatalf("无命中时应返回截断后的全部字段, 实际 %d 条", len(got))
	}
}

func TestFields(t *testing.T) {
	provider := NewStaticProvider(sampleSnippets(), 8)
	fields := provider.Fields()
	if len(fields) != 3 || fields[0] != "name" {
		t.Fatalf("字段列表不符: %v", fields)
	}
}

func TestLoadStaticProvider(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fields.json")
	content := `[{"field": "name", "description": "员工姓名", "keywords": ["姓名"]}]`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入字段说明文件失败: %v", err)
	}

	provider, err := LoadStaticProvider(path, 4)
	if err != nil {
		t.Fatalf("加载字段说明失败: %v", err)
	}
	if fields := provider.Fields(); len(fields) != 1 || fields[0] != "name" {
		t.Fatalf("字段列表不符: %v", fields)
	}

	if _, err := LoadStaticProvider("", 4); err == nil {
		t.Fatal("空路径应报错")
	}
	if _, err := LoadStaticProvider(filepath.Join(dir, "missing.json"), 4); err == nil {
		t.Fatal("不存在的文件应报错")
	}
}
