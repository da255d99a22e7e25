package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"NLMongo-Agent/internal/llm"
)

// Client 通过外部 Python 脚本实现补全。脚本从 stdin 读取 JSON
// {"system": ..., "prompt": ...}，向 stdout 写出 {"content": ...}。
type Client struct {
	pythonExec string
	scriptPath string
	workingDir string
}

// NewClient 创建 Python Bridge 客户端。
func NewClient(pythonExec, scriptPath, workingDir string) (*Client, error) {
	if scriptPath == "" {
		return nil, fmt.Errorf("未指定 Python 脚本路径")
	}
	if pythonExec == "" {
		pythonExec = "python3"
	}
	return &Client{
		pythonExec: pythonExec,
		scriptPath: scriptPath,
		workingDir: workingDir,
	}, nil
}

// Complete 调用外部脚本并解析输出。
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	payload := map[string]any{
		"system": req.System,
		"prompt": req.Prompt,
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	command := exec.CommandContext(ctx, c.pythonExec, c.scriptPath)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("执行 Python 脚本失败: %v, stderr=%s", err, strings.TrimSpace(stderr.String()))
	}

	var resp struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("解析 Python 输出失败: %w", err)
	}

	return &llm.Response{Content: resp.Content}, nil
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(workingDir, scriptPath string) string {
	if scriptPath == "" || filepath.IsAbs(scriptPath) {
		return scriptPath
	}
	if workingDir == "" {
		return scriptPath
	}
	return filepath.Join(workingDir, scriptPath)
}
