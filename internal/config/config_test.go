package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入配置文件失败: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("默认监听地址不符: %q", cfg.Server.Address)
	}
	if cfg.Server.Auth.Mode != "disabled" {
		t.Fatalf("默认认证模式不符: %q", cfg.Server.Auth.Mode)
	}
	if cfg.LLM.Provider != "openai" {
		t.Fatalf("默认模型提供方不符: %q", cfg.LLM.Provider)
	}
	if cfg.Mongo.Database != "nlmongo" || cfg.Mongo.Collection != "documents" {
		t.Fatalf("默认 Mongo 配置不符: %+v", cfg.Mongo)
	}
	if cfg.History.Driver != "memory" {
		t.Fatalf("默认历史驱动不符: %q", cfg.History.Driver)
	}
	if cfg.Tasks.Queue.Driver != "memory" || cfg.Tasks.Workers != 2 || cfg.Tasks.MaxRetries != 3 {
		t.Fatalf("默认任务配置不符: %+v", cfg.Tasks)
	}
	if cfg.Runtime.DataDir != filepath.Join(filepath.Dir(path), "data") {
		t.Fatalf("默认数据目录不符: %q", cfg.Runtime.DataDir)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `{
		"server": {
			"address": ":9000",
			"auth": {"mode": "api_key", "keys": [{"key": "k1", "name": "ops", "permissions": ["tasks:read"]}]}
		},
		"llm": {"provider": "python_bridge", "python_bridge": {"script_path": "scripts/infer.py"}},
		"mongo": {"uri": "mongodb://db:27017", "database": "crm", "collection": "customers"},
		"history": {"driver": "mysql", "mysql": {"dsn": "root:pass@tcp(db:3306)/nlmongo"}},
		"tasks": {
			"enabled": true,
			"queue": {"driver": "redis", "redis": {"address": "cache:6379"}},
			"alerting": {"enabled": true, "dingtalk_webhook": "https://oapi.dingtalk.com/robot/send?access_token=abc"}
		},
		"policy": {"file": "policy.yaml"},
		"knowledge": {"file": "fields.json"}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Server.Address != ":9000" {
		t.Fatalf("监听地址不符: %q", cfg.Server.Address)
	}
	if cfg.Server.Auth.Mode != "api_key" || len(cfg.Server.Auth.Keys) != 1 || cfg.Server.Auth.Keys[0].Name != "ops" {
		t.Fatalf("认证配置不符: %+v", cfg.Server.Auth)
	}
	if cfg.LLM.Provider != "python_bridge" {
		t.Fatalf("模型提供方不符: %q", cfg.LLM.Provider)
	}
	if cfg.Mongo.Collection != "customers" {
		t.Fatalf("Mongo 集合不符: %q", cfg.Mongo.Collection)
	}
	if cfg.History.Driver != "mysql" || cfg.History.MySQL.DSN == "" {
		t.Fatalf("历史配置不符: %+v", cfg.History)
	}
	if !cfg.Tasks.Enabled || cfg.Tasks.Queue.Driver != "redis" || cfg.Tasks.Queue.Redis.Address != "cache:6379" {
		t.Fatalf("任务配置不符: %+v", cfg.Tasks)
	}
	if !cfg.Tasks.Alerting.Enabled || cfg.Tasks.Alerting.DingTalkWebhook == "" || cfg.Tasks.Alerting.SlackWebhook != "" {
		t.Fatalf("告警配置不符: %+v", cfg.Tasks.Alerting)
	}

	baseDir := filepath.Dir(path)
	if cfg.Policy.File != filepath.Join(baseDir, "policy.yaml") {
		t.Fatalf("策略文件应转换为绝对路径: %q", cfg.Policy.File)
	}
	if cfg.Knowledge.File != filepath.Join(baseDir, "fields.json") {
		t.Fatalf("字段说明文件应转换为绝对路径: %q", cfg.Knowledge.File)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("空路径应报错")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("不存在的文件应报错")
	}
	path := writeConfig(t, `{not json`)
	if _, err := Load(path); err == nil {
		t.Fatal("非法 JSON 应报错")
	}
}
