package command

import (
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

// OK sets "ok": 1 on res and returns it.
func OK(res domain.Document) domain.Document {
	if res == nil {
		res = data.M{}
	}
	res.Set("ok", 1.0)
	return res
}

// CursorReply builds {cursor: {<batchField>: batch, id, ns}, ok: 1}.
// batchField is "firstBatch" or "nextBatch".
func CursorReply(ns domain.Namespace, batchField string, batch []domain.Document, id int64) domain.Document {
	return OK(data.M{
		"cursor": data.M{
			batchField: Documents(batch),
			"id":       id,
			"ns":       ns.String(),
		},
	})
}

// Documents converts docs into a list value.
func Documents(docs []domain.Document) []any {
	res := make([]any, len(docs))
	for n, doc := range docs {
		res[n] = doc
	}
	return res
}

// Int64s converts ids into a list value.
func Int64s(ids []int64) []any {
	res := make([]any, len(ids))
	for n, id := range ids {
		res[n] = id
	}
	return res
}
