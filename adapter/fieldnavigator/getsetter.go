package fieldnavigator

import "github.com/vinicius-lino-figueiredo/aggdb/domain"

type listItem struct {
	list  []any
	index int
}

// NewListItem returns a [domain.GetSetter] addressing list[index]. Unsetting
// an item stores nil, keeping the list length.
func NewListItem(list []any, index int) domain.GetSetter {
	return &listItem{list: list, index: index}
}

func (l *listItem) inRange() bool {
	return l.index >= 0 && l.index < len(l.list)
}

func (l *listItem) Get() (any, bool) {
	if !l.inRange() {
		return nil, false
	}
	return l.list[l.index], true
}

func (l *listItem) Set(value any) {
	if l.inRange() {
		l.list[l.index] = value
	}
}

func (l *listItem) Unset() {
	l.Set(nil)
}

type docField struct {
	doc domain.Document
	key string
}

// NewDocField returns a [domain.GetSetter] addressing doc[key].
func NewDocField(doc domain.Document, key string) domain.GetSetter {
	return &docField{doc: doc, key: key}
}

func (d *docField) Get() (any, bool) {
	return d.doc.Get(d.key), d.doc.Has(d.key)
}

func (d *docField) Set(value any) {
	d.doc.Set(d.key, value)
}

func (d *docField) Unset() {
	d.doc.Unset(d.key)
}

type readOnly struct {
	v any
}

// NewReadOnly returns a defined [domain.GetSetter] that ignores writes.
func NewReadOnly(v any) domain.GetSetter {
	return readOnly{v: v}
}

func (r readOnly) Get() (any, bool) { return r.v, true }
func (r readOnly) Set(any)          {}
func (r readOnly) Unset()           {}

type undefined struct{}

// Undefined returns a [domain.GetSetter] for a value that does not exist.
func Undefined() domain.GetSetter {
	return undefined{}
}

func (undefined) Get() (any, bool) { return nil, false }
func (undefined) Set(any)          {}
func (undefined) Unset()           {}

// Values returns the defined values of gss.
func Values(gss []domain.GetSetter) []any {
	res := make([]any, 0, len(gss))
	for _, gs := range gss {
		if v, ok := gs.Get(); ok {
			res = append(res, v)
		}
	}
	return res
}
