// Package modifier contains a [domain.Modifier] implementation to apply changes
// to a doc based on a mongo-like API.
package modifier

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/comparer"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/fieldnavigator"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/matcher"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/timegetter"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
	"github.com/vinicius-lino-figueiredo/aggdb/pkg/structure"
)

var (
	// ErrMixedOperators is returned when user provides an update query with
	// mixed use of normal fields and dollar fields.
	ErrMixedOperators = errors.New("cannot mix modifiers and normal fields")
	// ErrNonObject is returned when a modifier value passed by user is not
	// an object.
	ErrNonObject = errors.New("modifier value must be an object")
	// ErrInvalidPushField is returned when user passes some field other
	// than $slice and $each when using $push modifier.
	ErrInvalidPushField = errors.New("can only use $slice in conjunction with $each when $push to array")
	// ErrInvalidAddToSetField is returned when user passes some field other
	// than $each when using $addToSet modifier.
	ErrInvalidAddToSetField = errors.New("cannot use another field in conjunction with $each")
)

// ErrModFieldType is returned when a modification function runs on a document
// field of a type that is not accepted.
type ErrModFieldType struct {
	Mod    string
	Want   string
	Actual any
}

// Error implements [error].
func (e ErrModFieldType) Error() string {
	return fmt.Sprintf("%s expects %s field, got %T", e.Mod, e.Want, e.Actual)
}

// ErrModArgType is returned when a modification function is called with an
// argument of a type that is not accepted.
type ErrModArgType struct {
	Mod    string
	Want   string
	Actual any
}

// Error implements [error].
func (e ErrModArgType) Error() string {
	return fmt.Sprintf("%s expects %s arg, got %T", e.Mod, e.Want, e.Actual)
}

// ErrUnknownModifier is returned when the user specifies a modification query
// with a modification procedure that is not known by the current implementation
// of [Modifier].
type ErrUnknownModifier struct {
	Name string
}

// Error implements [error].
func (e ErrUnknownModifier) Error() string {
	return fmt.Sprintf("unknown modifier %q", e.Name)
}

type modFunc func(domain.Document, []string, any) error

type sliceProps struct {
	each       []any
	hasEach    bool
	slice      int
	hasSlice   bool
	usedFields int
}

// Modifier implements [domain.Modifier].
type Modifier struct {
	comp           domain.Comparer
	docFac         domain.DocumentFactory
	fieldNavigator domain.FieldNavigator
	matcher        domain.Matcher
	timeGetter     domain.TimeGetter
	mods           map[string]modFunc
}

// NewModifier returns a new implementation of [domain.Modifier].
func NewModifier(options ...Option) domain.Modifier {
	m := &Modifier{
		comp:       comparer.NewComparer(),
		docFac:     data.NewDocument,
		timeGetter: timegetter.NewTimeGetter(),
	}
	for _, option := range options {
		option(m)
	}
	if m.fieldNavigator == nil {
		m.fieldNavigator = fieldnavigator.NewFieldNavigator(m.docFac)
	}
	if m.matcher == nil {
		m.matcher = matcher.NewMatcher(
			matcher.WithComparer(m.comp),
			matcher.WithFieldNavigator(m.fieldNavigator),
		)
	}

	m.mods = map[string]modFunc{
		"$set":         m.set,
		"$unset":       m.unset,
		"$inc":         m.inc,
		"$mul":         m.mul,
		"$rename":      m.rename,
		"$currentDate": m.currentDate,
		"$push":        m.push,
		"$addToSet":    m.addToSet,
		"$pop":         m.pop,
		"$pull":        m.pull,
		"$pullAll":     m.pullAll,
		"$max":         m.max,
		"$min":         m.min,
		// applied by upserts only, see [SetOnInsert]
		"$setOnInsert": func(domain.Document, []string, any) error { return nil },
	}

	return m
}

// Modify implements [domain.Modifier]. Updates made only of plain fields
// replace the whole document, keeping its _id.
func (m *Modifier) Modify(obj domain.Document, mod domain.Document) (domain.Document, error) {
	replace, err := m.isReplacement(mod)
	if err != nil {
		return nil, err
	}

	if replace {
		return m.replaceMod(obj, mod)
	}

	return m.dollarMod(obj, mod)
}

// IsOperatorUpdate reports whether update is made of update operators, as
// opposed to a replacement document.
func IsOperatorUpdate(update domain.Document) bool {
	for k := range update.Keys() {
		return strings.HasPrefix(k, "$")
	}
	return false
}

// SetOnInsert returns the update applied to documents created by an upsert:
// the fields of $setOnInsert become part of $set.
func SetOnInsert(update domain.Document) domain.Document {
	onInsert, ok := update.Get("$setOnInsert").(domain.Document)
	if !ok {
		return update
	}
	res := data.NewD()
	set := data.NewD()
	for k, v := range update.Iter() {
		switch k {
		case "$setOnInsert":
		case "$set":
			if d, ok := v.(domain.Document); ok {
				for sk, sv := range d.Iter() {
					set.Set(sk, sv)
				}
			}
		default:
			res.Set(k, v)
		}
	}
	for k, v := range onInsert.Iter() {
		set.Set(k, v)
	}
	res.Set("$set", set)
	return res
}

func (m *Modifier) isReplacement(mod domain.Document) (bool, error) {
	dollarFields, total := 0, 0
	for k := range mod.Keys() {
		total++
		if strings.HasPrefix(k, "$") {
			dollarFields++
		}
		if dollarFields != 0 && dollarFields != total {
			return false, ErrMixedOperators
		}
	}
	return dollarFields == 0, nil
}

func (m *Modifier) sameID(a, b any) (bool, error) {
	c, err := m.comp.Compare(a, b)
	return c == 0, err
}

func (m *Modifier) replaceMod(obj domain.Document, qry domain.Document) (domain.Document, error) {
	if qry.Has("_id") {
		same, err := m.sameID(qry.Get("_id"), obj.ID())
		if err != nil {
			return nil, err
		}
		if !same {
			return nil, domain.ErrCannotModifyID
		}
	}

	newDoc, err := m.docFac(nil)
	if err != nil {
		return nil, err
	}

	if obj.Has("_id") {
		newDoc.Set("_id", data.Clone(obj.ID()))
	}
	for k, v := range qry.Iter() {
		if k != "_id" {
			newDoc.Set(k, data.Clone(v))
		}
	}

	return newDoc, nil
}

// orderedKeys returns the keys of doc in iteration order for ordered documents
// and sorted otherwise.
func orderedKeys(doc domain.Document) []string {
	keys := slices.Collect(doc.Keys())
	if _, ordered := doc.(*data.D); !ordered {
		slices.Sort(keys)
	}
	return keys
}

func (m *Modifier) dollarMod(obj domain.Document, qry domain.Document) (domain.Document, error) {
	for _, modName := range orderedKeys(qry) {
		if _, ok := m.mods[modName]; !ok {
			return nil, ErrUnknownModifier{Name: modName}
		}
		if _, ok := qry.Get(modName).(domain.Document); !ok {
			return nil, ErrNonObject
		}
	}

	docCopy, err := m.docFac(obj)
	if err != nil {
		return nil, err
	}

	for _, modName := range orderedKeys(qry) {
		fn := m.mods[modName]
		args := qry.D(modName)
		for _, key := range orderedKeys(args) {
			addr, err := m.fieldNavigator.GetAddress(key)
			if err != nil {
				return nil, err
			}
			if err := fn(docCopy, addr, args.Get(key)); err != nil {
				return nil, fmt.Errorf("modifying field %q: %w", key, err)
			}
		}
	}

	same, err := m.sameID(obj.ID(), docCopy.ID())
	if err != nil {
		return nil, err
	}
	if !same || obj.Has("_id") != docCopy.Has("_id") {
		return nil, domain.ErrCannotModifyID
	}

	return docCopy, nil
}

func (m *Modifier) set(obj domain.Document, addr []string, arg any) error {
	fields, err := m.fieldNavigator.EnsureField(obj, addr...)
	if err != nil {
		return err
	}
	for _, field := range fields {
		if _, defined := field.Get(); defined {
			field.Set(data.Clone(arg))
		}
	}
	return nil
}

func (m *Modifier) unset(obj domain.Document, addr []string, _ any) error {
	fields, _, err := m.fieldNavigator.GetField(obj, addr...)
	if err != nil {
		return err
	}
	for _, field := range fields {
		if _, defined := field.Get(); defined {
			field.Unset()
		}
	}
	return nil
}

// arith applies an arithmetic update. Integers stay integers unless a float
// is involved.
func (m *Modifier) arith(name string, obj domain.Document, addr []string, v any, start any, intOp func(a, b int64) int64, floatOp func(a, b float64) float64) error {
	arg, ok := structure.AsFloat(v)
	if !ok {
		return ErrModArgType{Mod: name, Want: "number", Actual: v}
	}
	fields, err := m.fieldNavigator.EnsureField(obj, addr...)
	if err != nil {
		return err
	}
	for _, field := range fields {
		value, defined := field.Get()
		if !defined {
			continue
		}
		if value == nil {
			value = start
		}
		num, ok := structure.AsFloat(value)
		if !ok {
			return ErrModFieldType{Mod: name, Want: "number", Actual: value}
		}
		if structure.IsIntegral(value) && structure.IsIntegral(v) {
			a, _ := structure.AsInteger(value)
			b, _ := structure.AsInteger(v)
			field.Set(intOp(int64(a), int64(b)))
			continue
		}
		field.Set(floatOp(num, arg))
	}
	return nil
}

func (m *Modifier) inc(obj domain.Document, addr []string, v any) error {
	return m.arith("$inc", obj, addr, v, int64(0),
		func(a, b int64) int64 { return a + b },
		func(a, b float64) float64 { return a + b },
	)
}

func (m *Modifier) mul(obj domain.Document, addr []string, v any) error {
	return m.arith("$mul", obj, addr, v, int64(0),
		func(a, b int64) int64 { return a * b },
		func(a, b float64) float64 { return a * b },
	)
}

func (m *Modifier) rename(obj domain.Document, addr []string, v any) error {
	target, ok := v.(string)
	if !ok || target == "" {
		return ErrModArgType{Mod: "$rename", Want: "non-empty string", Actual: v}
	}
	fields, expanded, err := m.fieldNavigator.GetField(obj, addr...)
	if err != nil {
		return err
	}
	if expanded {
		return ErrModFieldType{Mod: "$rename", Want: "non-array", Actual: []any{}}
	}
	value, defined := fields[0].Get()
	if !defined {
		return nil
	}
	fields[0].Unset()
	newAddr, err := m.fieldNavigator.GetAddress(target)
	if err != nil {
		return err
	}
	return m.set(obj, newAddr, value)
}

func (m *Modifier) currentDate(obj domain.Document, addr []string, v any) error {
	switch t := v.(type) {
	case bool:
	case domain.Document:
		if typ, _ := t.Get("$type").(string); typ != "date" {
			return ErrModArgType{Mod: "$currentDate", Want: "true or {$type: \"date\"}", Actual: v}
		}
	default:
		return ErrModArgType{Mod: "$currentDate", Want: "true or {$type: \"date\"}", Actual: v}
	}
	return m.set(obj, addr, m.timeGetter.GetTime())
}

func (m *Modifier) push(obj domain.Document, addr []string, v any) error {
	fields, err := m.fieldNavigator.EnsureField(obj, addr...)
	if err != nil {
		return err
	}
	for _, field := range fields {
		value, defined := field.Get()
		if !defined {
			continue
		}
		if value == nil {
			value = []any{}
		}
		array, ok := value.([]any)
		if !ok {
			return ErrModFieldType{Mod: "$push", Want: "array", Actual: value}
		}

		values := append(slices.Clip(array), data.Clone(v))
		if d, ok := v.(domain.Document); ok && d.Has("$each") {
			values, err = m.getPushItems(d, array)
			if err != nil {
				return err
			}
		}

		field.Set(values)
	}
	return nil
}

func (m *Modifier) getSliceProperties(d domain.Document) (*sliceProps, error) {
	res := &sliceProps{
		hasEach: d.Has("$each"),
	}

	var each any = []any{d}
	if res.hasEach {
		res.usedFields++
		each = d.Get("$each")
	}

	var ok bool
	if res.each, ok = each.([]any); !ok {
		return nil, ErrModArgType{Mod: "$each", Want: "array", Actual: each}
	}

	if d.Has("$slice") {
		s, ok := structure.AsInteger(d.Get("$slice"))
		if !ok {
			return nil, ErrModArgType{Mod: "$slice", Want: "integer", Actual: d.Get("$slice")}
		}
		res.usedFields++
		res.slice, res.hasSlice = s, true
	}

	return res, nil
}

func (m *Modifier) getPushItems(d domain.Document, array []any) ([]any, error) {
	props, err := m.getSliceProperties(d)
	if err != nil {
		return nil, fmt.Errorf("getting properties for $push: %w", err)
	}

	if d.Len() > props.usedFields {
		return nil, ErrInvalidPushField
	}

	res := slices.Clip(array)
	for _, item := range props.each {
		res = append(res, data.Clone(item))
	}

	if !props.hasSlice {
		return res, nil
	}

	if props.slice >= 0 {
		return res[:min(props.slice, len(res))], nil
	}

	slice := max(props.slice, -len(res))

	return res[len(res)+slice:], nil
}

func (m *Modifier) addToSet(obj domain.Document, addr []string, v any) error {
	fields, err := m.fieldNavigator.EnsureField(obj, addr...)
	if err != nil {
		return err
	}

	for _, field := range fields {
		value, defined := field.Get()
		if !defined {
			continue
		}
		if value == nil {
			value = []any{}
		}
		array, ok := value.([]any)
		if !ok {
			return ErrModFieldType{Mod: "$addToSet", Want: "array", Actual: value}
		}
		array = slices.Clip(array)
		values := []any{v}
		if d, ok := v.(domain.Document); ok && d.Has("$each") {
			props, err := m.getSliceProperties(d)
			if err != nil {
				return fmt.Errorf("getting properties for $addToSet: %w", err)
			}
			if d.Len() > 1 {
				return ErrInvalidAddToSetField
			}
			values = props.each
		}

		for _, value := range values {
			shouldAdd := true
			for _, item := range array {
				if comparer.Equal(m.comp, value, item) {
					shouldAdd = false
					break
				}
			}
			if shouldAdd {
				array = append(array, data.Clone(value))
			}
		}
		field.Set(array)
	}

	return nil
}

func (m *Modifier) pop(obj domain.Document, addr []string, v any) error {
	num, ok := structure.AsInteger(v)
	if !ok {
		return ErrModArgType{Mod: "$pop", Want: "integer", Actual: v}
	}

	if num == 0 {
		return nil
	}

	fields, _, err := m.fieldNavigator.GetField(obj, addr...)
	if err != nil {
		return err
	}

	for _, field := range fields {
		value, defined := field.Get()
		if !defined {
			continue
		}

		l, ok := value.([]any)
		if !ok {
			return ErrModFieldType{Mod: "$pop", Want: "array", Actual: value}
		}

		start, end := 0, max(0, len(l)-1)
		if num < 0 {
			start, end = min(1, len(l)), len(l)
		}

		field.Set(slices.Clone(l[start:end]))
	}
	return nil
}

// pullMatch reports whether item is removed by a $pull condition. Operator
// documents apply to the item itself, documents are queries on document
// items and any other value is compared for equality.
func (m *Modifier) pullMatch(item any, cond any) (bool, error) {
	doc, ok := cond.(domain.Document)
	if !ok {
		return comparer.Equal(m.comp, item, cond), nil
	}
	if IsOperatorUpdate(doc) {
		return m.matcher.Match(data.M{"v": item}, data.M{"v": doc})
	}
	if _, isDoc := item.(domain.Document); !isDoc {
		return false, nil
	}
	return m.matcher.Match(item, doc)
}

func (m *Modifier) pullWith(name string, obj domain.Document, addr []string, remove func(any) (bool, error)) error {
	fields, _, err := m.fieldNavigator.GetField(obj, addr...)
	if err != nil {
		return err
	}

	for _, field := range fields {
		value, defined := field.Get()
		if !defined {
			continue
		}

		l, ok := value.([]any)
		if !ok {
			return ErrModFieldType{Mod: name, Want: "array", Actual: value}
		}

		res := make([]any, 0, len(l))
		for _, item := range l {
			matches, err := remove(item)
			if err != nil {
				return err
			}
			if !matches {
				res = append(res, item)
			}
		}
		field.Set(res)
	}
	return nil
}

func (m *Modifier) pull(obj domain.Document, addr []string, v any) error {
	return m.pullWith("$pull", obj, addr, func(item any) (bool, error) {
		return m.pullMatch(item, v)
	})
}

func (m *Modifier) pullAll(obj domain.Document, addr []string, v any) error {
	list, ok := v.([]any)
	if !ok {
		return ErrModArgType{Mod: "$pullAll", Want: "array", Actual: v}
	}
	return m.pullWith("$pullAll", obj, addr, func(item any) (bool, error) {
		for _, target := range list {
			if comparer.Equal(m.comp, item, target) {
				return true, nil
			}
		}
		return false, nil
	})
}

// extreme implements $max (want > 0) and $min (want < 0).
func (m *Modifier) extreme(obj domain.Document, addr []string, v any, want int) error {
	fields, err := m.fieldNavigator.EnsureField(obj, addr...)
	if err != nil {
		return err
	}

	for _, field := range fields {
		value, _ := field.Get()
		if value == nil {
			// created by EnsureField or already null
			field.Set(data.Clone(v))
			continue
		}
		comp, err := m.comp.Compare(v, value)
		if err != nil {
			return err
		}
		if comp == want {
			field.Set(data.Clone(v))
		}
	}

	return nil
}

func (m *Modifier) max(obj domain.Document, addr []string, v any) error {
	return m.extreme(obj, addr, v, 1)
}

func (m *Modifier) min(obj domain.Document, addr []string, v any) error {
	return m.extreme(obj, addr, v, -1)
}
