package auth

import (
	"context"
	"crypto/sha256"
	"errors"
	"log/slog"
	"strings"

	"NLMongo-Agent/pkg/logger"
)

// Service 负责 HTTP 端点的身份验证和授权。主体信息来自静态配置的
// API Key,密钥本身只以 SHA-256 摘要的形式驻留内存。
type Service struct {
	mode     Mode
	subjects map[[sha256.Size]byte]*Subject
	audit    *slog.Logger
}

// NewService 构造身份认证服务实例。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{
		mode:     mode,
		subjects: make(map[[sha256.Size]byte]*Subject),
		audit:    logger.Audit(),
	}
	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeAPIKey:
		for _, seed := range cfg.Keys {
			key := strings.TrimSpace(seed.Key)
			if key == "" {
				return nil, errors.New("api key cannot be empty")
			}
			name := strings.TrimSpace(seed.Name)
			if name == "" {
				name = "anonymous"
			}
			subject := &Subject{
				Name:        name,
				Permissions: dedupeStrings(seed.Permissions),
				Disabled:    seed.Disabled,
			}
			subject.normalise()
			svc.subjects[sha256.Sum256([]byte(key))] = subject
		}
		if len(svc.subjects) == 0 {
			return nil, errors.New("api_key mode requires at least one key")
		}
		return svc, nil
	default:
		return nil, errors.New("unsupported auth mode: " + string(mode))
	}
}

// Enabled 报告服务是否启用了认证。
func (s *Service) Enabled() bool {
	return s != nil && s.mode != ModeDisabled
}

// AuthenticateRequest 校验 Authorization 头并解析出调用方主体。
func (s *Service) AuthenticateRequest(_ context.Context, authorization string) (*Subject, error) {
	if !s.Enabled() {
		return nil, nil
	}
	token, err := bearerToken(authorization)
	if err != nil {
		return nil, err
	}
	subject, ok := s.subjects[sha256.Sum256([]byte(token))]
	if !ok {
		return nil, ErrInvalidToken
	}
	if subject.Disabled {
		return nil, ErrSubjectRevoked
	}
	return subject.Clone(), nil
}

func bearerToken(authorization string) (string, error) {
	authorization = strings.TrimSpace(authorization)
	if authorization == "" {
		return "", ErrMissingToken
	}
	const prefix = "bearer "
	if len(authorization) <= len(prefix) || !strings.EqualFold(authorization[:len(prefix)], prefix) {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(authorization[len(prefix):])
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
