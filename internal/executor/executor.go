package executor

import (
	"context"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"

	xerrors "NLMongo-Agent/internal/errors"
	"NLMongo-Agent/internal/intent"
	"NLMongo-Agent/internal/operation"
)

// Collection 是执行引擎依赖的文档集合抽象,方法与 mongo-driver 的
// 集合操作一一对应,便于测试时用内存实现替换。
type Collection interface {
	// InsertOne 插入单个文档并返回生成的文档 ID。
	InsertOne(ctx context.Context, doc bson.M) (any, error)
	// UpdateMany 更新所有匹配文档,返回匹配数与实际修改数。
	UpdateMany(ctx context.Context, filter, update bson.M) (matched, modified int64, err error)
	// DeleteMany 删除所有匹配文档,返回删除数。匹配为空时返回 0,不报错。
	DeleteMany(ctx context.Context, filter bson.M) (int64, error)
	// Find 按筛选与投影查询文档。limit 为 0 表示不限制。
	Find(ctx context.Context, filter bson.M, projection bson.D, limit int64) ([]map[string]any, error)
}

// Counts 是一次执行影响的文档计数。只有执行成功时才会出现在
// Result 上;出现即表示计数确知,0 与"未知"由指针区分。
type Counts struct {
	Inserted int64
	Matched  int64
	Modified int64
	Deleted  int64
}

// Result 是一次操作的执行结果。Execute 永远返回非 nil 的 Result;
// 数据存储失败记录在 Err 上,不会作为函数错误抛出。
type Result struct {
	Kind       intent.Kind
	InsertedID any
	// Counts 为 nil 表示执行失败、计数未知。
	Counts    *Counts
	Documents []map[string]any
	Err       error
}

// Engine 将编译并通过校验的操作落到数据存储。
type Engine struct {
	coll      Collection
	findLimit int64
}

// Option 配置执行引擎。
type Option func(*Engine)

// WithFindLimit 设置查询返回的文档数上限。0 表示不限制。
func WithFindLimit(limit int64) Option {
	return func(e *Engine) {
		if limit > 0 {
			e.findLimit = limit
		}
	}
}

// NewEngine 创建执行引擎。
func NewEngine(coll Collection, opts ...Option) *Engine {
	e := &Engine{coll: coll}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute 按操作类别分发到对应的集合调用。
// 任何存储层错误都会包装为 EXECUTION_FAILURE 挂在 Result.Err 上。
func (e *Engine) Execute(ctx context.Context, op *operation.Operation) *Result {
	res := &Result{Kind: op.Kind}
	if err := ctx.Err(); err != nil {
		res.Err = xerrors.Wrap(xerrors.CodeExecutionFailure, err, "context canceled before execution")
		return res
	}
	if e.coll == nil {
		res.Err = xerrors.New(xerrors.CodeInitializationFailure, "no collection configured")
		return res
	}

	switch op.Kind {
	case intent.KindInsert:
		id, err := e.coll.InsertOne(ctx, bson.M(op.InsertDocument))
		if err != nil {
			res.Err = xerrors.Wrap(xerrors.CodeExecutionFailure, err, "insert document")
			return res
		}
		res.InsertedID = id
		res.Counts = &Counts{Inserted: 1}

	case intent.KindUpdate:
		matched, modified, err := e.coll.UpdateMany(ctx, buildFilter(op.Filter), bson.M{"$set": bson.M(op.UpdateFields)})
		if err != nil {
			res.Err = xerrors.Wrap(xerrors.CodeExecutionFailure, err, "update documents")
			return res
		}
		res.Counts = &Counts{Matched: matched, Modified: modified}

	case intent.KindDelete:
		deleted, err := e.coll.DeleteMany(ctx, buildFilter(op.Filter))
		if err != nil {
			res.Err = xerrors.Wrap(xerrors.CodeExecutionFailure, err, "delete documents")
			return res
		}
		res.Counts = &Counts{Deleted: deleted}

	case intent.KindQuery:
		docs, err := e.coll.Find(ctx, buildFilter(op.Filter), buildProjection(op.Projection), e.findLimit)
		if err != nil {
			res.Err = xerrors.Wrap(xerrors.CodeExecutionFailure, err, "query documents")
			return res
		}
		res.Documents = docs
		res.Counts = &Counts{Matched: int64(len(docs))}

	default:
		res.Err = xerrors.New(xerrors.CodeExecutionFailure,
			fmt.Sprintf("unsupported operation kind %q", op.Kind))
	}

	return res
}

// buildFilter 把规范化条件翻译为 mongo 筛选文档。数值比较按 BSON
// 数值序,其余类型按 BSON 的类型内排序规则比较。
func buildFilter(filter map[string]operation.Condition) bson.M {
	out := bson.M{}
	for field, cond := range filter {
		switch cond.Operator {
		case operation.OpEquals:
			out[field] = cond.Value
		case operation.OpGreaterThan:
			out[field] = bson.M{"$gt": cond.Value}
		case operation.OpLessThan:
			out[field] = bson.M{"$lt": cond.Value}
		case operation.OpContains:
			if s, ok := cond.Value.(string); ok {
				out[field] = bson.M{"$regex": regexp.QuoteMeta(s), "$options": "i"}
			} else {
				out[field] = cond.Value
			}
		}
	}
	return out
}

// buildProjection 构造 mongo 投影。未显式点名 _id 时将其压下。
func buildProjection(fields []string) bson.D {
	if len(fields) == 0 {
		return nil
	}
	proj := bson.D{}
	withID := false
	for _, f := range fields {
		if f == "_id" {
			withID = true
		}
		proj = append(proj, bson.E{Key: f, Value: 1})
	}
	if !withID {
		proj = append(proj, bson.E{Key: "_id", Value: 0})
	}
	return proj
}
