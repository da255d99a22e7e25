// Package mongo manages the MongoDB connection used by the execution engine.
package mongo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	xerrors "NLMongo-Agent/internal/errors"
	"NLMongo-Agent/pkg/logger"
)

// Config 描述 MongoDB 连接参数。
type Config struct {
	URI            string
	Database       string
	Collection     string
	ConnectTimeout time.Duration
	PingTimeout    time.Duration
}

// Store 持有数据库连接与目标集合句柄。
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// Connect 建立连接并确认服务可达。错误信息中的连接串凭据会被打码。
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "MongoDB URI 不能为空")
	}
	if cfg.Database == "" || cfg.Collection == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "必须指定数据库与集合")
	}

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure,
			fmt.Sprintf("连接 MongoDB 失败: %s", logger.Mask(err.Error())))
	}

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, xerrors.New(xerrors.CodeInitializationFailure,
			fmt.Sprintf("MongoDB 不可达: %s", logger.Mask(err.Error())))
	}

	return &Store{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
	}, nil
}

// Collection 返回目标集合句柄。
func (s *Store) Collection() *mongo.Collection {
	return s.coll
}

// Close 断开数据库连接。
func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}
