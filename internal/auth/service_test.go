package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newAPIKeyService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Mode: ModeAPIKey,
		Keys: []KeySeed{
			{Key: "admin-key", Name: "admin", Permissions: []string{"instructions:write", "tasks:read"}},
			{Key: "reader-key", Name: "reader", Permissions: []string{"tasks:read"}},
			{Key: "revoked-key", Name: "revoked", Disabled: true},
		},
	})
	if err != nil {
		t.Fatalf("构造认证服务失败: %v", err)
	}
	return svc
}

func TestAuthenticateRequest(t *testing.T) {
	svc := newAPIKeyService(t)
	ctx := context.Background()

	subject, err := svc.AuthenticateRequest(ctx, "Bearer admin-key")
	if err != nil {
		t.Fatalf("有效密钥认证失败: %v", err)
	}
	if subject.Name != "admin" || !subject.HasPermission("instructions:write") {
		t.Fatalf("主体信息不符: %+v", subject)
	}

	if _, err := svc.AuthenticateRequest(ctx, ""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("缺失令牌应返回 ErrMissingToken, 实际: %v", err)
	}
	if _, err := svc.AuthenticateRequest(ctx, "Bearer wrong-key"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("无效密钥应返回 ErrInvalidToken, 实际: %v", err)
	}
	if _, err := svc.AuthenticateRequest(ctx, "Bearer revoked-key"); !errors.Is(err, ErrSubjectRevoked) {
		t.Fatalf("停用密钥应返回 ErrSubjectRevoked, 实际: %v", err)
	}
}

func TestAuthorizePermissions(t *testing.T) {
	svc := newAPIKeyService(t)
	subject, err := svc.AuthenticateRequest(context.Background(), "bearer reader-key")
	if err != nil {
		t.Fatalf("认证失败: %v", err)
	}
	if err := subject.Authorize("tasks:read"); err != nil {
		t.Fatalf("已授权的权限不应被拒绝: %v", err)
	}
	if err := subject.Authorize("instructions:write"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("未授权的权限应被拒绝, 实际: %v", err)
	}
}

func TestNewServiceValidation(t *testing.T) {
	if _, err := NewService(Config{Mode: ModeAPIKey}); err == nil {
		t.Fatal("api_key 模式缺少密钥时应报错")
	}
	if _, err := NewService(Config{Mode: "ldap"}); err == nil {
		t.Fatal("未知模式应报错")
	}
	svc, err := NewService(Config{})
	if err != nil {
		t.Fatalf("默认模式应为 disabled: %v", err)
	}
	if svc.Enabled() {
		t.Fatal("未配置模式时认证应关闭")
	}
}

func TestMiddlewareGatesRequests(t *testing.T) {
	svc := newAPIKeyService(t)
	var gotSubject *Subject
	handler := svc.Middleware(MiddlewareConfig{
		RequiredPermissions: map[string][]string{
			http.MethodPost: {"instructions:write"},
		},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	// 无令牌。
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/instructions", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("无令牌请求应返回 401, 实际: %d", rec.Code)
	}

	// 权限不足。
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/instructions", nil)
	req.Header.Set("Authorization", "Bearer reader-key")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("权限不足应返回 403, 实际: %d", rec.Code)
	}

	// 正常放行并注入主体。
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/instructions", nil)
	req.Header.Set("Authorization", "Bearer admin-key")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("授权请求应放行, 实际: %d", rec.Code)
	}
	if gotSubject == nil || gotSubject.Name != "admin" {
		t.Fatalf("上下文中的主体不符: %+v", gotSubject)
	}
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	svc, err := NewService(Config{Mode: ModeDisabled})
	if err != nil {
		t.Fatalf("构造认证服务失败: %v", err)
	}
	handler := svc.Middleware(MiddlewareConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("认证关闭时应直接放行, 实际: %d", rec.Code)
	}
}
