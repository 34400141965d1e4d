// Package journal records change events as JSON lines and replays them into a
// store. Each line holds one event:
//
//	{"op":"insert","ns":"db.users","key":1,"doc":{"_id":1,"name":"a"}}
//
// Dates are written as {"$date": <unix milliseconds>}.
package journal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dolmen-go/contextio"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/logger"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
	"github.com/vinicius-lino-figueiredo/aggdb/pkg/ctxsync"
)

// DefaultCorruptAlertThreshold is the default share of unreadable lines
// tolerated by [Journal.Replay].
const DefaultCorruptAlertThreshold = 0.1

// ErrCorrupt is returned by [Journal.Replay] when too many lines could not
// be read.
type ErrCorrupt struct {
	Corrupt int
	Total   int
}

// Error implements [error].
func (e ErrCorrupt) Error() string {
	return fmt.Sprintf("journal is corrupt: %d of %d lines unreadable", e.Corrupt, e.Total)
}

// Journal implements [domain.Publisher] by appending events to a writer.
type Journal struct {
	mu        *ctxsync.Mutex
	w         io.Writer
	threshold float64
	log       domain.Logger
}

// NewJournal returns a [Journal] appending to w.
func NewJournal(w io.Writer, opts ...Option) *Journal {
	j := &Journal{
		mu:        ctxsync.NewMutex(),
		w:         w,
		threshold: DefaultCorruptAlertThreshold,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(j)
	}
	j.log = j.log.Scope("journal")
	return j
}

// Publish implements [domain.Publisher]. The events of one call are written
// with a single write, or not at all if encoding fails.
func (j *Journal) Publish(ctx context.Context, changes ...domain.ChangeStreamDocument) error {
	if len(changes) == 0 {
		return nil
	}
	buf := new(bytes.Buffer)
	for _, change := range changes {
		b, err := encodeChange(change)
		if err != nil {
			return err
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}

	if err := j.mu.LockWithContext(ctx); err != nil {
		return err
	}
	defer j.mu.Unlock()
	_, err := contextio.NewWriter(ctx, j.w).Write(buf.Bytes())
	return err
}

// Listen implements [domain.ChangeListener]. Failures are logged.
func (j *Journal) Listen(ctx context.Context, change domain.ChangeStreamDocument) {
	if err := j.Publish(ctx, change); err != nil {
		j.log.Error("appending change", "ns", change.Ns.String(), "error", err)
	}
}

func encodeChange(change domain.ChangeStreamDocument) ([]byte, error) {
	line := data.NewD(
		data.E{Key: "op", Value: string(change.OperationType)},
		data.E{Key: "ns", Value: change.Ns.String()},
		data.E{Key: "key", Value: encode(change.DocumentKey)},
	)
	if change.FullDocument != nil {
		line.Set("doc", encode(change.FullDocument))
	}
	return json.Marshal(line)
}

func encode(v any) any {
	switch t := v.(type) {
	case domain.Document:
		res := data.NewD()
		for k, v := range t.Iter() {
			res.Set(k, encode(v))
		}
		return res
	case []any:
		res := make([]any, len(t))
		for n, item := range t {
			res[n] = encode(item)
		}
		return res
	case time.Time:
		return data.M{"$date": t.UnixMilli()}
	default:
		return v
	}
}

// Replay reads the events of r and writes them to store in order, returning
// how many were applied. Empty lines are skipped. Unreadable lines are
// skipped too, unless their share is above the corrupt alert threshold. A
// rejected event stops the replay.
func (j *Journal) Replay(ctx context.Context, r io.Reader, store domain.Store) (int, error) {
	lines := bufio.NewScanner(contextio.NewReader(ctx, r))
	lines.Buffer(nil, 64*1024*1024)

	var changes []domain.ChangeStreamDocument
	total, corrupt := 0, 0
	for lines.Scan() {
		line := lines.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		total++
		change, err := decodeChange(line)
		if err != nil {
			corrupt++
			j.log.Warn("skipping unreadable line", "line", total, "error", err)
			continue
		}
		changes = append(changes, change)
	}
	if err := lines.Err(); err != nil {
		return 0, err
	}
	if total > 0 && float64(corrupt)/float64(total) > j.threshold {
		return 0, ErrCorrupt{Corrupt: corrupt, Total: total}
	}
	if len(changes) == 0 {
		return 0, nil
	}

	writeErrs, err := store.Write(ctx, changes, domain.WriteOptions{Ordered: true})
	if err != nil {
		return 0, err
	}
	if len(writeErrs) > 0 {
		we := writeErrs[0]
		return we.Index, fmt.Errorf("replaying event %d: %s", we.Index, we.ErrMsg)
	}
	j.log.Info("replayed", "events", len(changes), "skipped", corrupt)
	return len(changes), nil
}

func decodeChange(line []byte) (domain.ChangeStreamDocument, error) {
	var change domain.ChangeStreamDocument
	d, err := data.ParseJSON(line)
	if err != nil {
		return change, err
	}
	op, _ := d.Get("op").(string)
	switch domain.OperationType(op) {
	case domain.OperationInsert, domain.OperationUpdate, domain.OperationReplace, domain.OperationDelete:
	default:
		return change, fmt.Errorf("unknown operation %q", op)
	}
	ns, _ := d.Get("ns").(string)
	if ns == "" {
		return change, fmt.Errorf("missing namespace")
	}

	change.OperationType = domain.OperationType(op)
	change.Ns = domain.ParseNamespace(ns)
	change.DocumentKey = data.Unordered(d.Get("key"))
	if doc, ok := d.Get("doc").(domain.Document); ok {
		change.FullDocument = data.Unordered(doc).(data.M)
	}
	return change, nil
}
