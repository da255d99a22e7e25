package agent

import (
	"context"
	"log/slog"
	"time"

	xerrors "NLMongo-Agent/internal/errors"
	"NLMongo-Agent/internal/executor"
	"NLMongo-Agent/internal/intent"
	"NLMongo-Agent/internal/observability/metrics"
	"NLMongo-Agent/internal/operation"
	"NLMongo-Agent/internal/policy"
	"NLMongo-Agent/internal/render"
	"NLMongo-Agent/internal/storage/mysql"
	"NLMongo-Agent/pkg/logger"
)

// Stage 是指令在流水线中的处理阶段。
type Stage string

const (
	StageReceived  Stage = "RECEIVED"
	StageParsed    Stage = "PARSED"
	StageCompiled  Stage = "COMPILED"
	StageValidated Stage = "VALIDATED"
	StageExecuted  Stage = "EXECUTED"
	StageRendered  Stage = "RENDERED"
	StageDone      Stage = "DONE"
	StageFailed    Stage = "FAILED"
)

// stageLabels 是渲染失败说明时使用的阶段名称。
var stageLabels = map[Stage]string{
	StageReceived:  "指令接收",
	StageParsed:    "指令解析",
	StageCompiled:  "操作编译",
	StageValidated: "安全校验",
	StageExecuted:  "执行",
	StageRendered:  "结果渲染",
}

// Request 描述一条待处理的自然语言指令。
type Request struct {
	Instruction string `json:"instruction"`
	// ConfirmAll 表示调用方显式确认无筛选条件的全量变更。
	ConfirmAll bool `json:"confirm_all,omitempty"`
}

// Outcome 汇总一条指令的处理结果。无论流水线在哪个阶段失败,
// Response 总是非空:失败同样会被渲染成回复。
type Outcome struct {
	Instruction string           `json:"instruction"`
	Kind        intent.Kind      `json:"kind,omitempty"`
	Stage       Stage            `json:"stage"`
	Response    string           `json:"response"`
	Result      *executor.Result `json:"-"`
	Err         error            `json:"-"`
	CreatedAt   int64            `json:"created_at"`
}

// Failed 判断指令是否以失败收场。
func (o *Outcome) Failed() bool {
	return o.Stage == StageFailed
}

// Agent 驱动 解析→编译→校验→执行→渲染 流水线,是系统的业务核心。
// Agent 本身无状态,单条指令的全部中间产物只活在一次 Process 调用内,
// 因此可以被多个 goroutine 并发使用。
type Agent struct {
	parser   *intent.Parser
	compiler *operation.Compiler
	policy   *policy.Policy
	engine   *executor.Engine
	renderer *render.Renderer
	history  mysql.InstructionRepository
	log      *slog.Logger
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithHistory 配置指令历史仓库。保存失败只记日志,不影响回复。
func WithHistory(repo mysql.InstructionRepository) Option {
	return func(a *Agent) {
		a.history = repo
	}
}

// WithLogger 替换默认日志器。
func WithLogger(log *slog.Logger) Option {
	return func(a *Agent) {
		if log != nil {
			a.log = log
		}
	}
}

// New 创建一个 Agent。
func New(parser *intent.Parser, compiler *operation.Compiler, pol *policy.Policy,
	engine *executor.Engine, renderer *render.Renderer, opts ...Option) *Agent {
	ag := &Agent{
		parser:   parser,
		compiler: compiler,
		policy:   pol,
		engine:   engine,
		renderer: renderer,
		log:      logger.Named("agent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	if ag.policy == nil {
		ag.policy = policy.Default()
	}
	if ag.renderer == nil {
		ag.renderer = render.NewRenderer()
	}
	return ag
}

// Process 处理一条指令,按阶段推进;任何阶段失败立即短路,
// 失败本身也会被渲染,阶段不做重试。返回的 Outcome 永远非 nil。
// 计数指标在此统一上报,同步接口与任务队列触发的处理都会计入。
func (a *Agent) Process(ctx context.Context, req Request) *Outcome {
	started := time.Now()
	out := a.process(ctx, req)
	code := ""
	if out.Err != nil {
		code = string(xerrors.CodeOf(out.Err))
	}
	metrics.ObserveInstruction(string(out.Kind), string(out.Stage), code, time.Since(started))
	return out
}

func (a *Agent) process(ctx context.Context, req Request) *Outcome {
	out := &Outcome{
		Instruction: req.Instruction,
		Stage:       StageReceived,
		CreatedAt:   time.Now().Unix(),
	}

	if a.parser == nil || a.compiler == nil || a.engine == nil {
		err := xerrors.New(xerrors.CodeInitializationFailure, "流水线组件未完整配置")
		return a.fail(ctx, out, StageReceived, err)
	}
	if err := ctx.Err(); err != nil {
		return a.fail(ctx, out, StageReceived,
			xerrors.Wrap(xerrors.CodeTimeout, err, "指令处理被取消"))
	}

	// 解析:每条指令恰好一次模型调用。
	it, err := a.parser.Parse(ctx, req.Instruction)
	if err != nil {
		return a.fail(ctx, out, StageParsed, err)
	}
	out.Stage = StageParsed
	out.Kind = it.Kind
	if req.ConfirmAll {
		it.ConfirmAll = true
	}

	// 编译:纯函数,无 I/O。
	op, err := a.compiler.Compile(it)
	if err != nil {
		return a.fail(ctx, out, StageCompiled, err)
	}
	out.Stage = StageCompiled

	// 安全校验:永远先于执行。
	op, err = a.policy.Validate(op)
	if err != nil {
		return a.fail(ctx, out, StageValidated, err)
	}
	out.Stage = StageValidated

	if err := ctx.Err(); err != nil {
		return a.fail(ctx, out, StageValidated,
			xerrors.Wrap(xerrors.CodeTimeout, err, "指令处理被取消"))
	}

	// 执行:存储错误挂在 Result.Err 上,同样走渲染。
	res := a.engine.Execute(ctx, op)
	out.Stage = StageExecuted
	out.Result = res
	out.Err = res.Err

	// 渲染:渲染失败回退到保底模板,回复永远非空。
	response, err := a.renderer.Render(ctx, res)
	if err != nil {
		a.log.Warn("结果渲染失败,使用保底回复", "error", err)
		out.Err = err
		out.Stage = StageFailed
		out.Response = render.Fallback(err)
		a.record(ctx, out)
		return out
	}
	out.Stage = StageRendered
	out.Response = response

	if res.Err != nil {
		out.Stage = StageFailed
	} else {
		out.Stage = StageDone
	}
	a.record(ctx, out)
	return out
}

// fail 把阶段错误渲染成回复并收束流水线。
func (a *Agent) fail(ctx context.Context, out *Outcome, stage Stage, err error) *Outcome {
	a.log.Info("指令处理失败",
		"stage", string(stage),
		"code", string(xerrors.CodeOf(err)),
		"error", logger.Mask(err.Error()),
	)
	out.Err = err
	out.Stage = StageFailed
	if a.renderer != nil {
		out.Response = a.renderer.RenderError(stageLabels[stage], err)
	} else {
		out.Response = render.Fallback(err)
	}
	a.record(ctx, out)
	return out
}

// record 保存指令历史。保存失败不影响已生成的回复。
func (a *Agent) record(ctx context.Context, out *Outcome) {
	if a.history == nil {
		return
	}
	now := time.Now().Unix()
	rec := &mysql.InstructionRecord{
		Instruction: out.Instruction,
		Kind:        string(out.Kind),
		Stage:       string(out.Stage),
		Response:    out.Response,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if out.Err != nil {
		rec.ErrorCode = string(xerrors.CodeOf(out.Err))
	}
	if err := a.history.Create(ctx, rec); err != nil {
		a.log.Warn("保存指令历史失败", "error", logger.Mask(err.Error()))
	}
}

// ListHistory 获取最近的指令处理记录。
func (a *Agent) ListHistory(ctx context.Context, limit int) ([]mysql.InstructionRecord, error) {
	if a.history == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置指令历史仓库")
	}
	records, err := a.history.ListLatest(ctx, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询指令历史失败")
	}
	return records, nil
}
