package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	xerrors "NLMongo-Agent/internal/errors"
)

// Channel 表示告警投递渠道。
type Channel string

// 支持的告警渠道
const (
	ChannelAudit    Channel = "audit"
	ChannelDingTalk Channel = "dingtalk"
	ChannelSlack    Channel = "slack"
)

// Event 描述一次指令任务的告警:哪个任务、在处理的哪个环节、因何失败。
// Channel 为空表示广播到所有渠道。
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	Channel    Channel
	TaskID     string
	Attempts   int
	MaxRetries int
	Metadata   map[string]string
	OccurredAt time.Time
}

// Summary 渲染事件的单行描述,各通知器共用。
func (e Event) Summary() string {
	return fmt.Sprintf("[%s] %s 任务 %s(重试 %d/%d):%s",
		e.Severity, e.Code, e.TaskID, e.Attempts, e.MaxRetries, e.Message)
}

// Notifier 负责把事件投递到某个具体渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 是任务处理器依赖的告警入口。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 把事件分发到已注册的通知器。事件指定了 Channel 时
// 只投递到对应渠道,否则全渠道广播。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建 FanoutDispatcher,nil 通知器会被忽略。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 投递事件。单个渠道失败不阻断其余渠道,失败最后合并返回。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for ch, notifier := range d.notifiers {
		if event.Channel != "" && event.Channel != ch {
			continue
		}
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", ch, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
