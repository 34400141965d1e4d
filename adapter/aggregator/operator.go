package aggregator

import (
	"context"

	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

// Operator is a pipeline stage registered by the embedding program.
type Operator interface {
	// Buffered reports whether the stage needs the whole upstream result
	// before producing output. Streamable operators receive one document
	// per call.
	Buffered() bool
	// Apply transforms docs into the stage output.
	Apply(ctx context.Context, docs []domain.Document) ([]domain.Document, error)
}

// OperatorFactory builds an [Operator] from the stage argument. Errors are
// reported before the pipeline runs.
type OperatorFactory func(arg any) (Operator, error)

// OperatorFunc adapts a function into a streamable [Operator].
type OperatorFunc func(ctx context.Context, doc domain.Document) ([]domain.Document, error)

// Buffered implements Operator.
func (f OperatorFunc) Buffered() bool { return false }

// Apply implements Operator.
func (f OperatorFunc) Apply(ctx context.Context, docs []domain.Document) ([]domain.Document, error) {
	var res []domain.Document
	for _, doc := range docs {
		out, err := f(ctx, doc)
		if err != nil {
			return nil, err
		}
		res = append(res, out...)
	}
	return res, nil
}
