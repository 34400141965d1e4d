package controller

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/command"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/comparer"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/cursor"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/modifier"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
	"github.com/vinicius-lino-figueiredo/aggdb/pkg/uncomparable"
)

// Write serves insert, update and delete. Each command is translated into a
// single batch of change events submitted to the store; changes the store
// accepts are then published.
type Write struct {
	config
	store domain.Store
}

// NewWrite returns a [Write] controller writing to store.
func NewWrite(store domain.Store, opts ...Option) *Write {
	return &Write{
		config: newConfig("write", opts),
		store:  store,
	}
}

// Commands implements [command.Controller].
func (w *Write) Commands() map[string]command.Handler {
	return map[string]command.Handler{
		"insert": w.insert,
		"update": w.update,
		"delete": w.delete,
	}
}

// change is a change event built from statement stmt.
type change struct {
	domain.ChangeStreamDocument
	stmt     int
	upserted bool
}

// batch collects the changes and failures of one write command.
type batch struct {
	ns      domain.Namespace
	ordered bool
	changes []change
	errs    []domain.WriteError
	// matched counts, per statement, documents matched but left unchanged
	matched map[int]int
	// overlay holds the state of each _id already touched by the batch. A
	// nil document means deleted.
	overlay *uncomparable.Map[domain.Document]
	// touched lists the overlay keys in the order they were first written
	touched []any
}

func (w *Write) newBatch(ns domain.Namespace, ordered *bool) *batch {
	return &batch{
		ns:      ns,
		ordered: ordered == nil || *ordered,
		matched: make(map[int]int),
		overlay: uncomparable.New[domain.Document](w.hasher, w.comparer),
	}
}

// fail records a statement failure and reports whether building must stop.
func (b *batch) fail(we domain.WriteError) bool {
	b.errs = append(b.errs, we)
	return b.ordered
}

func (b *batch) add(stmt int, op domain.OperationType, doc domain.Document, upserted bool) error {
	b.changes = append(b.changes, change{
		ChangeStreamDocument: domain.ChangeStreamDocument{
			OperationType: op,
			Ns:            b.ns,
			DocumentKey:   doc.ID(),
			FullDocument:  doc,
		},
		stmt:     stmt,
		upserted: upserted,
	})
	known, err := b.overlay.Has(doc.ID())
	if err != nil {
		return err
	}
	if !known {
		b.touched = append(b.touched, doc.ID())
	}
	if op == domain.OperationDelete {
		return b.overlay.Set(doc.ID(), nil)
	}
	return b.overlay.Set(doc.ID(), doc)
}

// result is the outcome of a submitted batch.
type result struct {
	applied []change
	errs    []domain.WriteError
	// last is the last statement whose effects count, or -1 for all
	last int
}

func (r *result) counts(stmt int) bool {
	return r.last < 0 || stmt <= r.last
}

// submit writes the batch and publishes the changes the store accepted.
func (w *Write) submit(ctx context.Context, b *batch) (*result, error) {
	res := &result{errs: b.errs, last: -1}
	if len(b.changes) > 0 {
		storeErrs, err := w.write(ctx, b)
		if err != nil {
			return nil, err
		}

		failed := make(map[int]bool, len(storeErrs))
		first := len(b.changes)
		for _, we := range storeErrs {
			failed[we.Index] = true
			first = min(first, we.Index)
			we.Index = b.changes[we.Index].stmt
			res.errs = append(res.errs, we)
		}
		for n, c := range b.changes {
			if failed[n] || (b.ordered && n > first) {
				continue
			}
			res.applied = append(res.applied, c)
		}
		if b.ordered && len(storeErrs) > 0 {
			// build failures come after every submitted statement
			res.errs = res.errs[len(b.errs):]
		}
	}

	slices.SortStableFunc(res.errs, func(a, b domain.WriteError) int {
		return a.Index - b.Index
	})
	if b.ordered && len(res.errs) > 0 {
		res.last = res.errs[0].Index - 1
	}

	w.publish(ctx, res.applied)
	return res, nil
}

// write sends the changes of b to the store. Unordered batches go in rounds
// holding one change per _id; a change to an _id whose earlier change failed
// is not sent and fails with the same error.
func (w *Write) write(ctx context.Context, b *batch) ([]domain.WriteError, error) {
	if b.ordered {
		events := make([]domain.ChangeStreamDocument, len(b.changes))
		for n, c := range b.changes {
			events[n] = c.ChangeStreamDocument
		}
		return w.store.Write(ctx, events, domain.WriteOptions{Ordered: true})
	}

	rounds, err := w.rounds(b)
	if err != nil {
		return nil, err
	}
	blocked := uncomparable.New[domain.WriteError](w.hasher, w.comparer)
	var errs []domain.WriteError
	for _, round := range rounds {
		var (
			index  []int
			events []domain.ChangeStreamDocument
		)
		for _, n := range round {
			we, found, err := blocked.Get(b.changes[n].DocumentKey)
			if err != nil {
				return nil, err
			}
			if found {
				we.Index = n
				errs = append(errs, we)
				continue
			}
			index = append(index, n)
			events = append(events, b.changes[n].ChangeStreamDocument)
		}
		if len(events) == 0 {
			continue
		}
		storeErrs, err := w.store.Write(ctx, events, domain.WriteOptions{})
		if err != nil {
			return nil, err
		}
		for _, we := range storeErrs {
			we.Index = index[we.Index]
			errs = append(errs, we)
			if err := blocked.Set(b.changes[we.Index].DocumentKey, we); err != nil {
				return nil, err
			}
		}
	}
	slices.SortFunc(errs, func(a, b domain.WriteError) int {
		return a.Index - b.Index
	})
	return errs, nil
}

// rounds groups the change indexes of b so that the n-th change to each _id
// is in round n.
func (w *Write) rounds(b *batch) ([][]int, error) {
	seen := uncomparable.New[int](w.hasher, w.comparer)
	var rounds [][]int
	for n, c := range b.changes {
		k, _, err := seen.Get(c.DocumentKey)
		if err != nil {
			return nil, err
		}
		if err := seen.Set(c.DocumentKey, k+1); err != nil {
			return nil, err
		}
		if k == len(rounds) {
			rounds = append(rounds, nil)
		}
		rounds[k] = append(rounds[k], n)
	}
	return rounds, nil
}

func (w *Write) publish(ctx context.Context, applied []change) {
	if w.publisher == nil || len(applied) == 0 {
		return
	}
	events := make([]domain.ChangeStreamDocument, len(applied))
	for n, c := range applied {
		events[n] = c.ChangeStreamDocument
	}
	if err := w.publisher.Publish(ctx, events...); err != nil {
		w.log.Error("publishing changes", "ns", events[0].Ns.String(), "error", err)
	}
}

// reply builds the command result. n is the number of affected documents.
func (w *Write) reply(res *result, n int, extra domain.Document) domain.Document {
	doc := extra
	if doc == nil {
		doc, _ = w.docFac(nil)
	}
	doc.Set("n", n)
	if len(res.errs) > 0 {
		list := make([]any, len(res.errs))
		for i, we := range res.errs {
			item := data.M{"index": we.Index, "code": we.Code, "errmsg": we.ErrMsg}
			if we.ErrInfo != nil {
				item["errInfo"] = we.ErrInfo
			}
			list[i] = item
		}
		doc.Set("writeErrors", list)
	}
	if len(res.errs) > 0 {
		w.log.Warn("write errors", "count", len(res.errs), "first", res.errs[0].ErrMsg)
	}
	return command.OK(doc)
}

// prepare copies doc and ensures it has an _id.
func (w *Write) prepare(doc domain.Document) (domain.Document, error) {
	cp, err := w.docFac(doc)
	if err != nil {
		return nil, err
	}
	if !cp.Has("_id") {
		id, err := w.idGen.GenerateID()
		if err != nil {
			return nil, err
		}
		cp.Set("_id", id)
	}
	return cp, nil
}

// validate checks doc against the schema of ns, returning a write error for
// statement stmt if it fails.
func (w *Write) validate(ns domain.Namespace, stmt int, doc domain.Document) *domain.WriteError {
	if w.validator == nil {
		return nil
	}
	schema, ok := w.schemas.Get(ns)
	if !ok {
		return nil
	}
	err := w.validator.Validate(doc, schema)
	if err == nil {
		return nil
	}
	var e domain.ErrValidation
	if !errors.As(err, &e) {
		return &domain.WriteError{Index: stmt, Code: domain.CodeBadValue, ErrMsg: err.Error()}
	}
	details := make([]any, len(e.Failures))
	for n, f := range e.Failures {
		details[n] = data.M{
			"operatorName": f.OperatorName,
			"field":        f.Field,
			"expected":     f.Expected,
			"actual":       f.Actual,
		}
	}
	return &domain.WriteError{
		Index:  stmt,
		Code:   domain.CodeDocumentValidation,
		ErrMsg: "Document failed validation",
		ErrInfo: data.M{
			"failingDocumentId": doc.ID(),
			"details":           details,
		},
	}
}

func internalError(stmt int, err error) domain.WriteError {
	return domain.WriteError{Index: stmt, Code: domain.CodeInternal, ErrMsg: err.Error()}
}

type insertCommand struct {
	Documents []domain.Document `aggdb:"documents"`
	Ordered   *bool             `aggdb:"ordered"`
}

func (w *Write) insert(ctx context.Context, ns domain.Namespace, cmd domain.Document) (domain.Document, error) {
	var c insertCommand
	if err := w.decoder.Decode(cmd, &c); err != nil {
		return nil, err
	}
	b := w.newBatch(ns, c.Ordered)
	for n, doc := range c.Documents {
		if doc == nil {
			if b.fail(domain.WriteError{Index: n, Code: domain.CodeBadValue, ErrMsg: "document is null"}) {
				break
			}
			continue
		}
		cp, err := w.prepare(doc)
		if err != nil {
			if b.fail(internalError(n, err)) {
				break
			}
			continue
		}
		if we := w.validate(ns, n, cp); we != nil {
			if b.fail(*we) {
				break
			}
			continue
		}
		if err := b.add(n, domain.OperationInsert, cp, false); err != nil {
			return nil, err
		}
	}
	res, err := w.submit(ctx, b)
	if err != nil {
		return nil, err
	}
	return w.reply(res, len(res.applied), nil), nil
}

// candidates returns the documents matching q, as seen by the statements
// already built in b.
func (w *Write) candidates(ctx context.Context, b *batch, q domain.Document) ([]domain.Document, error) {
	seq, err := w.store.Read(ctx, b.ns, domain.ReadOptions{Filter: q})
	if err != nil {
		return nil, err
	}
	stored, err := cursor.Collect(ctx, seq)
	if err != nil {
		return nil, err
	}

	res := make([]domain.Document, 0, len(stored))
	for _, doc := range stored {
		if ok, err := b.overlay.Has(doc.ID()); err != nil {
			return nil, err
		} else if !ok {
			res = append(res, doc)
		}
	}
	for _, id := range b.touched {
		doc, _, err := b.overlay.Get(id)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			continue
		}
		ok, err := w.matcher.Match(doc, q)
		if err != nil {
			return nil, err
		}
		if ok {
			res = append(res, doc)
		}
	}
	return res, nil
}

type updateStatement struct {
	Q      domain.Document `aggdb:"q"`
	U      domain.Document `aggdb:"u"`
	Multi  bool            `aggdb:"multi"`
	Upsert bool            `aggdb:"upsert"`
}

type updateCommand struct {
	Updates []updateStatement `aggdb:"updates"`
	Ordered *bool             `aggdb:"ordered"`
}

func (w *Write) update(ctx context.Context, ns domain.Namespace, cmd domain.Document) (domain.Document, error) {
	var c updateCommand
	if err := w.decoder.Decode(cmd, &c); err != nil {
		return nil, err
	}
	b := w.newBatch(ns, c.Ordered)
	for n, st := range c.Updates {
		we, err := w.updateOne(ctx, b, n, st)
		if err != nil {
			return nil, err
		}
		if we != nil && b.fail(*we) {
			break
		}
	}
	res, err := w.submit(ctx, b)
	if err != nil {
		return nil, err
	}

	var matched, modified int
	upserted := make([]any, 0)
	for _, ch := range res.applied {
		matched++
		if ch.upserted {
			upserted = append(upserted, data.M{"index": ch.stmt, "_id": ch.DocumentKey})
			continue
		}
		modified++
	}
	for stmt, count := range b.matched {
		if res.counts(stmt) {
			matched += count
		}
	}

	extra, _ := w.docFac(nil)
	extra.Set("nModified", modified)
	if len(upserted) > 0 {
		extra.Set("upserted", upserted)
	}
	return w.reply(res, matched, extra), nil
}

// updateOne builds the changes of one update statement. Changes are only
// added to the batch once the whole statement succeeds.
func (w *Write) updateOne(ctx context.Context, b *batch, stmt int, st updateStatement) (*domain.WriteError, error) {
	if st.U == nil {
		return &domain.WriteError{Index: stmt, Code: domain.CodeBadValue, ErrMsg: "update statement without u"}, nil
	}
	docs, err := w.candidates(ctx, b, st.Q)
	if err != nil {
		return nil, err
	}
	if !st.Multi && len(docs) > 1 {
		docs = docs[:1]
	}

	if len(docs) == 0 {
		if !st.Upsert {
			return nil, nil
		}
		doc, we := w.upsertDoc(stmt, st)
		if we != nil {
			return we, nil
		}
		if we := w.validate(b.ns, stmt, doc); we != nil {
			return we, nil
		}
		return nil, b.add(stmt, domain.OperationInsert, doc, true)
	}

	op := domain.OperationReplace
	if modifier.IsOperatorUpdate(st.U) {
		op = domain.OperationUpdate
	}
	var updated []domain.Document
	unchanged := 0
	for _, doc := range docs {
		mod, err := w.modifier.Modify(doc, st.U)
		if err != nil {
			return modifyError(stmt, err), nil
		}
		if comparer.Equal(w.comparer, doc, mod) {
			unchanged++
			continue
		}
		if we := w.validate(b.ns, stmt, mod); we != nil {
			return we, nil
		}
		updated = append(updated, mod)
	}
	for _, doc := range updated {
		if err := b.add(stmt, op, doc, false); err != nil {
			return nil, err
		}
	}
	b.matched[stmt] += unchanged
	return nil, nil
}

// upsertDoc builds the document inserted by an upsert: the equality fields of
// the query with the update applied on top.
func (w *Write) upsertDoc(stmt int, st updateStatement) (domain.Document, *domain.WriteError) {
	seed, err := w.seed(st.Q)
	if err != nil {
		return nil, modifyError(stmt, err)
	}
	update := st.U
	if modifier.IsOperatorUpdate(update) {
		update = modifier.SetOnInsert(update)
	}
	doc, err := w.modifier.Modify(seed, update)
	if err != nil {
		return nil, modifyError(stmt, err)
	}
	if doc, err = w.prepare(doc); err != nil {
		we := internalError(stmt, err)
		return nil, &we
	}
	return doc, nil
}

func (w *Write) seed(q domain.Document) (domain.Document, error) {
	seed, err := w.docFac(nil)
	if err != nil || q == nil {
		return seed, err
	}
	set := data.NewD()
	for k, v := range q.Iter() {
		if strings.HasPrefix(k, "$") {
			continue
		}
		if sub, ok := v.(domain.Document); ok && hasOperators(sub) {
			if !sub.Has("$eq") {
				continue
			}
			v = sub.Get("$eq")
		}
		if k == "_id" {
			seed.Set(k, data.Clone(v))
			continue
		}
		set.Set(k, v)
	}
	if set.Len() == 0 {
		return seed, nil
	}
	return w.modifier.Modify(seed, data.NewD(data.E{Key: "$set", Value: set}))
}

func hasOperators(doc domain.Document) bool {
	for k := range doc.Keys() {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func modifyError(stmt int, err error) *domain.WriteError {
	code := domain.CodeBadValue
	if errors.Is(err, domain.ErrCannotModifyID) {
		code = domain.CodeImmutableField
	}
	return &domain.WriteError{Index: stmt, Code: code, ErrMsg: err.Error()}
}

type deleteStatement struct {
	Q     domain.Document `aggdb:"q"`
	Limit int             `aggdb:"limit"`
}

type deleteCommand struct {
	Deletes []deleteStatement `aggdb:"deletes"`
	Ordered *bool             `aggdb:"ordered"`
}

func (w *Write) delete(ctx context.Context, ns domain.Namespace, cmd domain.Document) (domain.Document, error) {
	var c deleteCommand
	if err := w.decoder.Decode(cmd, &c); err != nil {
		return nil, err
	}
	b := w.newBatch(ns, c.Ordered)
	for n, st := range c.Deletes {
		if st.Limit != 0 && st.Limit != 1 {
			if b.fail(domain.WriteError{Index: n, Code: domain.CodeBadValue, ErrMsg: "limit must be 0 or 1"}) {
				break
			}
			continue
		}
		docs, err := w.candidates(ctx, b, st.Q)
		if err != nil {
			return nil, err
		}
		if st.Limit == 1 && len(docs) > 1 {
			docs = docs[:1]
		}
		for _, doc := range docs {
			if err := b.add(n, domain.OperationDelete, doc, false); err != nil {
				return nil, err
			}
		}
	}
	res, err := w.submit(ctx, b)
	if err != nil {
		return nil, err
	}
	return w.reply(res, len(res.applied), nil), nil
}
