package expression

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
	"github.com/vinicius-lino-figueiredo/aggdb/pkg/structure"
)

type operator func(e *Evaluator, sc *scope, raw any) (any, error)

var operators map[string]operator

func init() {
	operators = map[string]operator{
		"$literal": func(_ *Evaluator, _ *scope, raw any) (any, error) { return raw, nil },

		"$add":      opAdd,
		"$subtract": opSubtract,
		"$multiply": opMultiply,
		"$divide":   opDivide,
		"$mod":      opMod,
		"$abs":      unaryMath("$abs", math.Abs),
		"$ceil":     unaryMath("$ceil", math.Ceil),
		"$floor":    unaryMath("$floor", math.Floor),
		"$sqrt":     unaryMath("$sqrt", math.Sqrt),
		"$trunc":    unaryMath("$trunc", math.Trunc),
		"$round":    opRound,
		"$pow":      opPow,

		"$eq":  compareOp("$eq", func(c int) bool { return c == 0 }),
		"$ne":  compareOp("$ne", func(c int) bool { return c != 0 }),
		"$gt":  compareOp("$gt", func(c int) bool { return c > 0 }),
		"$gte": compareOp("$gte", func(c int) bool { return c >= 0 }),
		"$lt":  compareOp("$lt", func(c int) bool { return c < 0 }),
		"$lte": compareOp("$lte", func(c int) bool { return c <= 0 }),
		"$cmp": opCmp,

		"$and": opAnd,
		"$or":  opOr,
		"$not": opNot,

		"$cond":   opCond,
		"$ifNull": opIfNull,
		"$switch": opSwitch,

		"$concat":     opConcat,
		"$toUpper":    stringOp("$toUpper", strings.ToUpper),
		"$toLower":    stringOp("$toLower", strings.ToLower),
		"$substr":     opSubstr,
		"$substrCP":   opSubstr,
		"$strLenCP":   opStrLen,
		"$split":      opSplit,
		"$trim":       trimOp("$trim", strings.Trim, strings.TrimSpace),
		"$ltrim":      trimOp("$ltrim", strings.TrimLeft, func(s string) string { return strings.TrimLeft(s, " \t\n\r") }),
		"$rtrim":      trimOp("$rtrim", strings.TrimRight, func(s string) string { return strings.TrimRight(s, " \t\n\r") }),
		"$strcasecmp": opStrcasecmp,

		"$size":         opSize,
		"$arrayElemAt":  opArrayElemAt,
		"$first":        arrayEdge("$first", true),
		"$last":         arrayEdge("$last", false),
		"$concatArrays": opConcatArrays,
		"$in":           opIn,
		"$isArray":      opIsArray,
		"$filter":       opFilter,
		"$map":          opMap,
		"$reduce":       opReduce,
		"$slice":        opSlice,
		"$reverseArray": opReverseArray,
		"$range":        opRange,
		"$indexOfArray": opIndexOfArray,

		"$sum": listAccumulator("$sum"),
		"$avg": listAccumulator("$avg"),
		"$min": listAccumulator("$min"),
		"$max": listAccumulator("$max"),

		"$mergeObjects":  opMergeObjects,
		"$objectToArray": opObjectToArray,
		"$arrayToObject": opArrayToObject,
		"$getField":      opGetField,

		"$type":     opType,
		"$toString": opToString,
		"$toInt":    opToLong,
		"$toLong":   opToLong,
		"$toDouble": opToDouble,
		"$toBool":   opToBool,

		"$let": opLet,

		"$year":        datePart("$year", func(t time.Time) int { return t.Year() }),
		"$month":       datePart("$month", func(t time.Time) int { return int(t.Month()) }),
		"$dayOfMonth":  datePart("$dayOfMonth", func(t time.Time) int { return t.Day() }),
		"$dayOfWeek":   datePart("$dayOfWeek", func(t time.Time) int { return int(t.Weekday()) + 1 }),
		"$dayOfYear":   datePart("$dayOfYear", func(t time.Time) int { return t.YearDay() }),
		"$hour":        datePart("$hour", func(t time.Time) int { return t.Hour() }),
		"$minute":      datePart("$minute", func(t time.Time) int { return t.Minute() }),
		"$second":      datePart("$second", func(t time.Time) int { return t.Second() }),
		"$millisecond": datePart("$millisecond", func(t time.Time) int { return t.Nanosecond() / int(time.Millisecond) }),
	}
}

// Supported reports whether op is a known expression operator.
func Supported(op string) bool {
	_, ok := operators[op]
	return ok
}

// number returns v as an int64 when it holds an integer type and as a float64
// otherwise.
func number(op string, v any) (int64, float64, bool, error) {
	f, ok := structure.AsFloat(v)
	if !ok {
		return 0, 0, false, ErrArgument{Operator: op, Reason: fmt.Sprintf("only supports numeric types, not %s", structure.TypeName(v))}
	}
	if structure.IsIntegral(v) {
		i, _ := structure.AsInteger(v)
		return int64(i), f, true, nil
	}
	return 0, f, false, nil
}

func arith(op string, args []any, intOp func(a, b int64) int64, floatOp func(a, b float64) float64) (any, error) {
	var accInt int64
	var accFloat float64
	allInt := true
	for n, a := range args {
		i, f, isInt, err := number(op, a)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			accInt, accFloat, allInt = i, f, isInt
			continue
		}
		allInt = allInt && isInt
		if allInt {
			accInt = intOp(accInt, i)
		}
		accFloat = floatOp(accFloat, f)
	}
	if allInt {
		return accInt, nil
	}
	return accFloat, nil
}

func anyNullish(args []any) bool {
	for _, a := range args {
		if nullish(a) {
			return true
		}
	}
	return false
}

func opAdd(e *Evaluator, sc *scope, raw any) (any, error) {
	args, err := e.args(sc, raw)
	if err != nil || anyNullish(args) {
		return nil, err
	}
	var date *time.Time
	nums := make([]any, 0, len(args))
	for _, a := range args {
		if t, ok := a.(time.Time); ok {
			if date != nil {
				return nil, ErrArgument{Operator: "$add", Reason: "only one date allowed"}
			}
			date = &t
			continue
		}
		nums = append(nums, a)
	}
	if len(nums) == 0 {
		if date != nil {
			return *date, nil
		}
		return int64(0), nil
	}
	sum, err := arith("$add", nums, func(a, b int64) int64 { return a + b }, func(a, b float64) float64 { return a + b })
	if err != nil || date == nil {
		return sum, err
	}
	ms, _ := structure.AsFloat(sum)
	return date.Add(time.Duration(ms * float64(time.Millisecond))), nil
}

func opSubtract(e *Evaluator, sc *scope, raw any) (any, error) {
	args, err := e.nArgs(sc, "$subtract", raw, 2)
	if err != nil || anyNullish(args) {
		return nil, err
	}
	if a, ok := args[0].(time.Time); ok {
		if b, ok := args[1].(time.Time); ok {
			return a.Sub(b).Milliseconds(), nil
		}
		ms, ok := structure.AsFloat(args[1])
		if !ok {
			return nil, ErrArgument{Operator: "$subtract", Reason: "can only subtract dates or numbers from dates"}
		}
		return a.Add(-time.Duration(ms * float64(time.Millisecond))), nil
	}
	return arith("$subtract", args, func(a, b int64) int64 { return a - b }, func(a, b float64) float64 { return a - b })
}

func opMultiply(e *Evaluator, sc *scope, raw any) (any, error) {
	args, err := e.args(sc, raw)
	if err != nil || anyNullish(args) {
		return nil, err
	}
	if len(args) == 0 {
		return int64(1), nil
	}
	return arith("$multiply", args, func(a, b int64) int64 { return a * b }, func(a, b float64) float64 { return a * b })
}

func opDivide(e *Evaluator, sc *scope, raw any) (any, error) {
	args, err := e.nArgs(sc, "$divide", raw, 2)
	if err != nil || anyNullish(args) {
		return nil, err
	}
	_, a, _, err := number("$divide", args[0])
	if err != nil {
		return nil, err
	}
	_, b, _, err := number("$divide", args[1])
	if err != nil {
		return nil, err
	}
	if b == 0 {
		return nil, ErrArgument{Operator: "$divide", Reason: "cannot divide by zero"}
	}
	return a / b, nil
}

func opMod(e *Evaluator, sc *scope, raw any) (any, error) {
	args, err := e.nArgs(sc, "$mod", raw, 2)
	if err != nil || anyNullish(args) {
		return nil, err
	}
	if f, _ := structure.AsFloat(args[1]); f == 0 {
		return nil, ErrArgument{Operator: "$mod", Reason: "cannot take a remainder by zero"}
	}
	return arith("$mod", args, func(a, b int64) int64 { return a % b }, math.Mod)
}

func opPow(e *Evaluator, sc *scope, raw any) (any, error) {
	args, err := e.nArgs(sc, "$pow", raw, 2)
	if err != nil || anyNullish(args) {
		return nil, err
	}
	ia, fa, aInt, err := number("$pow", args[0])
	if err != nil {
		return nil, err
	}
	ib, fb, bInt, err := number("$pow", args[1])
	if err != nil {
		return nil, err
	}
	if aInt && bInt && ib >= 0 {
		res := int64(1)
		for range ib {
			res *= ia
		}
		return res, nil
	}
	return math.Pow(fa, fb), nil
}

func unaryMath(op string, fn func(float64) float64) operator {
	return func(e *Evaluator, sc *scope, raw any) (any, error) {
		args, err := e.nArgs(sc, op, raw, 1)
		if err != nil || nullish(args[0]) {
			return nil, err
		}
		i, f, isInt, err := number(op, args[0])
		if err != nil {
			return nil, err
		}
		if isInt && op != "$sqrt" {
			if op == "$abs" && i < 0 {
				return -i, nil
			}
			return i, nil
		}
		return fn(f), nil
	}
}

func opRound(e *Evaluator, sc *scope, raw any) (any, error) {
	args, err := e.args(sc, raw)
	if err != nil || len(args) == 0 || nullish(args[0]) {
		return nil, err
	}
	i, f, isInt, err := number("$round", args[0])
	if err != nil {
		return nil, err
	}
	places := 0
	if len(args) > 1 {
		p, ok := structure.AsInteger(args[1])
		if !ok {
			return nil, ErrArgument{Operator: "$round", Reason: "place must be an integer"}
		}
		places = p
	}
	if isInt && places >= 0 {
		return i, nil
	}
	scale := math.Pow(10, float64(places))
	return math.RoundToEven(f*scale) / scale, nil
}

func compareOp(op string, test func(int) bool) operator {
	return func(e *Evaluator, sc *scope, raw any) (any, error) {
		args, err := e.nArgs(sc, op, raw, 2)
		if err != nil {
			return nil, err
		}
		c, err := e.comparer.Compare(args[0], args[1])
		if err != nil {
			return nil, err
		}
		return test(c), nil
	}
}

func opCmp(e *Evaluator, sc *scope, raw any) (any, error) {
	args, err := e.nArgs(sc, "$cmp", raw, 2)
	if err != nil {
		return nil, err
	}
	c, err := e.comparer.Compare(args[0], args[1])
	return int64(c), err
}

func opAnd(e *Evaluator, sc *scope, raw any) (any, error) {
	list, ok := raw.([]any)
	if !ok {
		list = []any{raw}
	}
	for _, item := range list {
		v, err := e.eval(sc, item)
		if err != nil {
			return nil, err
		}
		if !structure.Truthy(v) {
			return false, nil
		}
	}
	return true, nil
}

func opOr(e *Evaluator, sc *scope, raw any) (any, error) {
	list, ok := raw.([]any)
	if !ok {
		list = []any{raw}
	}
	for _, item := range list {
		v, err := e.eval(sc, item)
		if err != nil {
			return nil, err
		}
		if structure.Truthy(v) {
			return true, nil
		}
	}
	return false, nil
}

func opNot(e *Evaluator, sc *scope, raw any) (any, error) {
	args, err := e.nArgs(sc, "$not", raw, 1)
	if err != nil {
		return nil, err
	}
	return !structure.Truthy(args[0]), nil
}

func opCond(e *Evaluator, sc *scope, raw any) (any, error) {
	var ifExpr, thenExpr, elseExpr any
	switch t := raw.(type) {
	case []any:
		if len(t) != 3 {
			return nil, ErrArgument{Operator: "$cond", Reason: "takes exactly 3 arguments"}
		}
		ifExpr, thenExpr, elseExpr = t[0], t[1], t[2]
	default:
		doc, err := named("$cond", raw, "if", "then", "else")
		if err != nil {
			return nil, err
		}
		ifExpr, thenExpr, elseExpr = doc.Get("if"), doc.Get("then"), doc.Get("else")
	}
	cond, err := e.eval(sc, ifExpr)
	if err != nil {
		return nil, err
	}
	if structure.Truthy(cond) {
		return e.eval(sc, thenExpr)
	}
	return e.eval(sc, elseExpr)
}

func opIfNull(e *Evaluator, sc *scope, raw any) (any, error) {
	list, ok := raw.([]any)
	if !ok || len(list) < 2 {
		return nil, ErrArgument{Operator: "$ifNull", Reason: "needs at least two arguments"}
	}
	var v any
	for _, item := range list {
		var err error
		if v, err = e.eval(sc, item); err != nil {
			return nil, err
		}
		if !nullish(v) {
			return v, nil
		}
	}
	return v, nil
}

func opSwitch(e *Evaluator, sc *scope, raw any) (any, error) {
	doc, err := named("$switch", raw, "branches")
	if err != nil {
		return nil, err
	}
	branches, ok := doc.Get("branches").([]any)
	if !ok {
		return nil, ErrArgument{Operator: "$switch", Reason: "expects an array for 'branches'"}
	}
	for _, b := range branches {
		branch, err := named("$switch", b, "case", "then")
		if err != nil {
			return nil, err
		}
		v, err := e.eval(sc, branch.Get("case"))
		if err != nil {
			return nil, err
		}
		if structure.Truthy(v) {
			return e.eval(sc, branch.Get("then"))
		}
	}
	if !doc.Has("default") {
		return nil, ErrArgument{Operator: "$switch", Reason: "could not find a matching branch for an input, and no default was specified"}
	}
	return e.eval(sc, doc.Get("default"))
}

func opConcat(e *Evaluator, sc *scope, raw any) (any, error) {
	args, err := e.args(sc, raw)
	if err != nil || anyNullish(args) {
		return nil, err
	}
	var b strings.Builder
	for _, a := range args {
		s, ok := a.(string)
		if !ok {
			return nil, ErrArgument{Operator: "$concat", Reason: "only supports strings, not " + structure.TypeName(a)}
		}
		b.WriteString(s)
	}
	return b.String(), nil
}

func stringOp(op string, fn func(string) string) operator {
	return func(e *Evaluator, sc *scope, raw any) (any, error) {
		args, err := e.nArgs(sc, op, raw, 1)
		if err != nil {
			return nil, err
		}
		if nullish(args[0]) {
			return "", nil
		}
		s, err := toString(op, args[0])
		if err != nil {
			return nil, err
		}
		return fn(s), nil
	}
}

func opSubstr(e *Evaluator, sc *scope, raw any) (any, error) {
	args, err := e.nArgs(sc, "$substr", raw, 3)
	if err != nil {
		return nil, err
	}
	if nullish(args[0]) {
		return "", nil
	}
	s, err := toString("$substr", args[0])
	if err != nil {
		return nil, err
	}
	start, ok1 := structure.AsInteger(args[1])
	length, ok2 := structure.AsInteger(args[2])
	if !ok1 || !ok2 || start < 0 {
		return nil, ErrArgument{Operator: "$substr", Reason: "expects non-negative integer start and integer length"}
	}
	runes := []rune(s)
	if start >= len(runes) {
		return "", nil
	}
	end := len(runes)
	if length >= 0 && start+length < end {
		end = start + length
	}
	return string(runes[start:end]), nil
}

func opStrLen(e *Evaluator, sc *scope, raw any) (any, error) {
	args, err := e.nArgs(sc, "$strLenCP", raw, 1)
	if err != nil {
		return nil, err
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, ErrArgument{Operator: "$strLenCP", Reason: "requires a string argument"}
	}
	return int64(utf8.RuneCountInString(s)), nil
}

func opSplit(e *Evaluator, sc *scope, raw any) (any, error) {
	args, err := e.nArgs(sc, "$split", raw, 2)
	if err != nil || nullish(args[0]) {
		return nil, err
	}
	s, ok1 := args[0].(string)
	sep, ok2 := args[1].(string)
	if !ok1 || !ok2 || sep == "" {
		return nil, ErrArgument{Operator: "$split", Reason: "requires a string and a non-empty string delimiter"}
	}
	parts := strings.Split(s, sep)
	res := make([]any, len(parts))
	for n, p := range parts {
		res[n] = p
	}
	return res, nil
}

func trimOp(op string, withChars func(string, string) string, whitespace func(string) string) operator {
	return func(e *Evaluator, sc *scope, raw any) (any, error) {
		doc, err := named(op, raw, "input")
		if err != nil {
			return nil, err
		}
		input, err := e.eval(sc, doc.Get("input"))
		if err != nil || nullish(input) {
			return nil, err
		}
		s, err := toString(op, input)
		if err != nil {
			return nil, err
		}
		if !doc.Has("chars") {
			return whitespace(s), nil
		}
		chars, err := e.eval(sc, doc.Get("chars"))
		if err != nil {
			return nil, err
		}
		cs, ok := chars.(string)
		if !ok {
			return nil, ErrArgument{Operator: op, Reason: "requires 'chars' to be a string"}
		}
		return withChars(s, cs), nil
	}
}

func opStrcasecmp(e *Evaluator, sc *scope, raw any) (any, error) {
	args, err := e.nArgs(sc, "$strcasecmp", raw, 2)
	if err != nil {
		return nil, err
	}
	a, err := toString("$strcasecmp", Value(args[0]))
	if err != nil {
		return nil, err
	}
	b, err := toString("$strcasecmp", Value(args[1]))
	if err != nil {
		return nil, err
	}
	return int64(strings.Compare(strings.ToLower(a), strings.ToLower(b))), nil
}

func array(op string, v any) ([]any, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, ErrArgument{Operator: op, Reason: "requires an array, found " + structure.TypeName(v)}
	}
	return list, nil
}

func opSize(e *Evaluator, sc *scope, raw any) (any, error) {
	args, err := e.nArgs(sc, "$size", raw, 1)
	if err != nil {
		return nil, err
	}
	list, err := array("$size", args[0])
	if err != nil {
		return nil, err
	}
	return int64(len(list)), nil
}

func opArrayElemAt(e *Evaluator, sc *scope, raw any) (any, error) {
	args, err := e.nArgs(sc, "$arrayElemAt", raw, 2)
	if err != nil || anyNullish(args) {
		return nil, err
	}
	list, err := array("$arrayElemAt", args[0])
	if err != nil {
		return nil, err
	}
	idx, ok := structure.AsInteger(args[1])
	if !ok {
		return nil, ErrArgument{Operator: "$arrayElemAt", Reason: "requires an integer index"}
	}
	if idx < 0 {
		idx += len(list)
	}
	if idx < 0 || idx >= len(list) {
		return Missing, nil
	}
	return list[idx], nil
}

func arrayEdge(op string, first bool) operator {
	return func(e *Evaluator, sc *scope, raw any) (any, error) {
		args, err := e.nArgs(sc, op, raw, 1)
		if err != nil || nullish(args[0]) {
			return nil, err
		}
		list, err := array(op, args[0])
		if err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return Missing, nil
		}
		if first {
			return list[0], nil
		}
		return list[len(list)-1], nil
	}
}

func opConcatArrays(e *Evaluator, sc *scope, raw any) (any, error) {
	args, err := e.args(sc, raw)
	if err != nil || anyNullish(args) {
		return nil, err
	}
	res := []any{}
	for _, a := range args {
		list, err := array("$concatArrays", a)
		if err != nil {
			return nil, err
		}
		res = append(res, list...)
	}
	return res, nil
}

func opIn(e *Evaluator, sc *scope, raw any) (any, error) {
	args, err := e.nArgs(sc, "$in", raw, 2)
	if err != nil {
		return nil, err
	}
	list, err := array("$in", args[1])
	if err != nil {
		return nil, err
	}
	for _, item := range list {
		if c, err := e.comparer.Compare(Value(args[0]), item); err == nil && c == 0 {
			return true, nil
		}
	}
	return false, nil
}

func opIsArray(e *Evaluator, sc *scope, raw any) (any, error) {
	args, err := e.nArgs(sc, "$isArray", raw, 1)
	if err != nil {
		return nil, err
	}
	_, ok := args[0].([]any)
	return ok, nil
}

// iterationInput reads the input and variable name of $filter, $map and
// $reduce.
func (e *Evaluator) iterationInput(sc *scope, op string, doc domain.Document, defaultAs string) ([]any, string, bool, error) {
	input, err := e.eval(sc, doc.Get("input"))
	if err != nil {
		return nil, "", false, err
	}
	if nullish(input) {
		return nil, "", true, nil
	}
	list, err := array(op, input)
	if err != nil {
		return nil, "", false, err
	}
	as := defaultAs
	if doc.Has("as") {
		name, ok := doc.Get("as").(string)
		if !ok || name == "" {
			return nil, "", false, ErrArgument{Operator: op, Reason: "requires 'as' to be a string"}
		}
		as = name
	}
	return list, as, false, nil
}

func opFilter(e *Evaluator, sc *scope, raw any) (any, error) {
	doc, err := named("$filter", raw, "input", "cond")
	if err != nil {
		return nil, err
	}
	list, as, null, err := e.iterationInput(sc, "$filter", doc, "this")
	if err != nil || null {
		return nil, err
	}
	limit := -1
	if doc.Has("limit") {
		l, err := e.eval(sc, doc.Get("limit"))
		if err != nil {
			return nil, err
		}
		if n, ok := structure.AsInteger(l); ok && n > 0 {
			limit = n
		} else if !nullish(l) {
			return nil, ErrArgument{Operator: "$filter", Reason: "requires 'limit' to be a positive integer"}
		}
	}
	res := []any{}
	for _, item := range list {
		if limit >= 0 && len(res) >= limit {
			break
		}
		v, err := e.eval(sc.with(as, item), doc.Get("cond"))
		if err != nil {
			return nil, err
		}
		if structure.Truthy(v) {
			res = append(res, item)
		}
	}
	return res, nil
}

func opMap(e *Evaluator, sc *scope, raw any) (any, error) {
	doc, err := named("$map", raw, "input", "in")
	if err != nil {
		return nil, err
	}
	list, as, null, err := e.iterationInput(sc, "$map", doc, "this")
	if err != nil || null {
		return nil, err
	}
	res := make([]any, len(list))
	for n, item := range list {
		v, err := e.eval(sc.with(as, item), doc.Get("in"))
		if err != nil {
			return nil, err
		}
		res[n] = Value(v)
	}
	return res, nil
}

func opReduce(e *Evaluator, sc *scope, raw any) (any, error) {
	doc, err := named("$reduce", raw, "input", "initialValue", "in")
	if err != nil {
		return nil, err
	}
	list, _, null, err := e.iterationInput(sc, "$reduce", doc, "this")
	if err != nil || null {
		return nil, err
	}
	acc, err := e.eval(sc, doc.Get("initialValue"))
	if err != nil {
		return nil, err
	}
	for _, item := range list {
		inner := sc.with("value", acc).with("this", item)
		if acc, err = e.eval(inner, doc.Get("in")); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func opSlice(e *Evaluator, sc *scope, raw any) (any, error) {
	args, err := e.args(sc, raw)
	if err != nil {
		return nil, err
	}
	if len(args) != 2 && len(args) != 3 {
		return nil, ErrArgument{Operator: "$slice", Reason: "takes 2 or 3 arguments"}
	}
	if anyNullish(args) {
		return nil, nil
	}
	list, err := array("$slice", args[0])
	if err != nil {
		return nil, err
	}
	ints := make([]int, len(args)-1)
	for n, a := range args[1:] {
		var ok bool
		if ints[n], ok = structure.AsInteger(a); !ok {
			return nil, ErrArgument{Operator: "$slice", Reason: "requires integer arguments"}
		}
	}
	start, count := 0, ints[0]
	if len(ints) == 2 {
		start, count = ints[0], ints[1]
		if count <= 0 {
			return nil, ErrArgument{Operator: "$slice", Reason: "requires a positive count"}
		}
		if start < 0 {
			start = max(len(list)+start, 0)
		}
	} else if count < 0 {
		start, count = max(len(list)+count, 0), -count
	}
	start = min(start, len(list))
	end := min(start+count, len(list))
	return append([]any{}, list[start:end]...), nil
}

func opReverseArray(e *Evaluator, sc *scope, raw any) (any, error) {
	args, err := e.nArgs(sc, "$reverseArray", raw, 1)
	if err != nil || nullish(args[0]) {
		return nil, err
	}
	list, err := array("$reverseArray", args[0])
	if err != nil {
		return nil, err
	}
	res := make([]any, len(list))
	for n, v := range list {
		res[len(list)-1-n] = v
	}
	return res, nil
}

func opRange(e *Evaluator, sc *scope, raw any) (any, error) {
	args, err := e.args(sc, raw)
	if err != nil {
		return nil, err
	}
	if len(args) != 2 && len(args) != 3 {
		return nil, ErrArgument{Operator: "$range", Reason: "takes 2 or 3 arguments"}
	}
	ints := make([]int, 3)
	ints[2] = 1
	for n, a := range args {
		var ok bool
		if ints[n], ok = structure.AsInteger(a); !ok {
			return nil, ErrArgument{Operator: "$range", Reason: "requires integer arguments"}
		}
	}
	if ints[2] == 0 {
		return nil, ErrArgument{Operator: "$range", Reason: "requires a non-zero step"}
	}
	res := []any{}
	for i := ints[0]; (ints[2] > 0 && i < ints[1]) || (ints[2] < 0 && i > ints[1]); i += ints[2] {
		res = append(res, int64(i))
	}
	return res, nil
}

func opIndexOfArray(e *Evaluator, sc *scope, raw any) (any, error) {
	args, err := e.nArgs(sc, "$indexOfArray", raw, 2)
	if err != nil || nullish(args[0]) {
		return nil, err
	}
	list, err := array("$indexOfArray", args[0])
	if err != nil {
		return nil, err
	}
	for n, item := range list {
		if c, err := e.comparer.Compare(item, Value(args[1])); err == nil && c == 0 {
			return int64(n), nil
		}
	}
	return int64(-1), nil
}

// listAccumulator evaluates $sum, $avg, $min and $max outside of grouping
// stages. A single array argument is accumulated element by element.
func listAccumulator(op string) operator {
	return func(e *Evaluator, sc *scope, raw any) (any, error) {
		args, err := e.args(sc, raw)
		if err != nil {
			return nil, err
		}
		if len(args) == 1 {
			if list, ok := args[0].([]any); ok {
				args = list
			}
		}
		acc, err := e.NewAccumulator(op)
		if err != nil {
			return nil, err
		}
		for _, a := range args {
			if err := acc.Accumulate(a); err != nil {
				return nil, err
			}
		}
		return acc.Result(), nil
	}
}

func opMergeObjects(e *Evaluator, sc *scope, raw any) (any, error) {
	args, err := e.args(sc, raw)
	if err != nil {
		return nil, err
	}
	if len(args) == 1 {
		if list, ok := args[0].([]any); ok {
			args = list
		}
	}
	res := data.M{}
	for _, a := range args {
		if nullish(a) {
			continue
		}
		doc, ok := a.(domain.Document)
		if !ok {
			return nil, ErrArgument{Operator: "$mergeObjects", Reason: "requires object inputs, found " + structure.TypeName(a)}
		}
		for k, v := range doc.Iter() {
			res[k] = v
		}
	}
	return res, nil
}

func opObjectToArray(e *Evaluator, sc *scope, raw any) (any, error) {
	args, err := e.nArgs(sc, "$objectToArray", raw, 1)
	if err != nil || nullish(args[0]) {
		return nil, err
	}
	doc, ok := args[0].(domain.Document)
	if !ok {
		return nil, ErrArgument{Operator: "$objectToArray", Reason: "requires a document input"}
	}
	res := make([]any, 0, doc.Len())
	for k, v := range doc.Iter() {
		res = append(res, data.M{"k": k, "v": v})
	}
	return res, nil
}

func opArrayToObject(e *Evaluator, sc *scope, raw any) (any, error) {
	args, err := e.nArgs(sc, "$arrayToObject", raw, 1)
	if err != nil || nullish(args[0]) {
		return nil, err
	}
	list, err := array("$arrayToObject", args[0])
	if err != nil {
		return nil, err
	}
	res := data.M{}
	for _, item := range list {
		switch t := item.(type) {
		case []any:
			if len(t) != 2 {
				return nil, ErrArgument{Operator: "$arrayToObject", Reason: "requires [key, value] pairs"}
			}
			k, ok := t[0].(string)
			if !ok {
				return nil, ErrArgument{Operator: "$arrayToObject", Reason: "requires string keys"}
			}
			res[k] = t[1]
		case domain.Document:
			k, ok := t.Get("k").(string)
			if t.Len() != 2 || !ok || !t.Has("v") {
				return nil, ErrArgument{Operator: "$arrayToObject", Reason: "requires {k, v} documents"}
			}
			res[k] = t.Get("v")
		default:
			return nil, ErrArgument{Operator: "$arrayToObject", Reason: "requires an array of pairs"}
		}
	}
	return res, nil
}

func opGetField(e *Evaluator, sc *scope, raw any) (any, error) {
	field, input := raw, any(sc.root)
	if doc, ok := raw.(domain.Document); ok && doc.Has("field") {
		field = doc.Get("field")
		if doc.Has("input") {
			var err error
			if input, err = e.eval(sc, doc.Get("input")); err != nil {
				return nil, err
			}
		}
	}
	name, ok := field.(string)
	if !ok {
		return nil, ErrArgument{Operator: "$getField", Reason: "requires 'field' to be a string"}
	}
	doc, ok := input.(domain.Document)
	if !ok || !doc.Has(name) {
		return Missing, nil
	}
	return doc.Get(name), nil
}

func opType(e *Evaluator, sc *scope, raw any) (any, error) {
	args, err := e.nArgs(sc, "$type", raw, 1)
	if err != nil {
		return nil, err
	}
	return structure.TypeName(args[0]), nil
}

func toString(op string, v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool:
		return fmt.Sprint(t), nil
	case time.Time:
		return t.UTC().Format("2006-01-02T15:04:05.000Z"), nil
	}
	if structure.IsNumber(v) {
		return fmt.Sprint(v), nil
	}
	return "", ErrArgument{Operator: op, Reason: "cannot convert " + structure.TypeName(v) + " to string"}
}

func opToString(e *Evaluator, sc *scope, raw any) (any, error) {
	args, err := e.nArgs(sc, "$toString", raw, 1)
	if err != nil || nullish(args[0]) {
		return nil, err
	}
	return toString("$toString", args[0])
}

func opToLong(e *Evaluator, sc *scope, raw any) (any, error) {
	args, err := e.nArgs(sc, "$toLong", raw, 1)
	if err != nil || nullish(args[0]) {
		return nil, err
	}
	switch t := args[0].(type) {
	case bool:
		if t {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		var i int64
		if _, err := fmt.Sscan(t, &i); err != nil {
			return nil, ErrArgument{Operator: "$toLong", Reason: "failed to parse number " + t}
		}
		return i, nil
	case time.Time:
		return t.UnixMilli(), nil
	}
	f, ok := structure.AsFloat(args[0])
	if !ok {
		return nil, ErrArgument{Operator: "$toLong", Reason: "unsupported conversion from " + structure.TypeName(args[0])}
	}
	return int64(f), nil
}

func opToDouble(e *Evaluator, sc *scope, raw any) (any, error) {
	args, err := e.nArgs(sc, "$toDouble", raw, 1)
	if err != nil || nullish(args[0]) {
		return nil, err
	}
	switch t := args[0].(type) {
	case bool:
		if t {
			return 1.0, nil
		}
		return 0.0, nil
	case string:
		var f float64
		if _, err := fmt.Sscan(t, &f); err != nil {
			return nil, ErrArgument{Operator: "$toDouble", Reason: "failed to parse number " + t}
		}
		return f, nil
	case time.Time:
		return float64(t.UnixMilli()), nil
	}
	f, ok := structure.AsFloat(args[0])
	if !ok {
		return nil, ErrArgument{Operator: "$toDouble", Reason: "unsupported conversion from " + structure.TypeName(args[0])}
	}
	return f, nil
}

func opToBool(e *Evaluator, sc *scope, raw any) (any, error) {
	args, err := e.nArgs(sc, "$toBool", raw, 1)
	if err != nil || nullish(args[0]) {
		return nil, err
	}
	return structure.Truthy(args[0]), nil
}

func opLet(e *Evaluator, sc *scope, raw any) (any, error) {
	doc, err := named("$let", raw, "vars", "in")
	if err != nil {
		return nil, err
	}
	vars, ok := doc.Get("vars").(domain.Document)
	if !ok {
		return nil, ErrArgument{Operator: "$let", Reason: "requires 'vars' to be an object"}
	}
	inner := sc
	for k, v := range vars.Iter() {
		val, err := e.eval(sc, v)
		if err != nil {
			return nil, err
		}
		inner = inner.with(k, val)
	}
	return e.eval(inner, doc.Get("in"))
}

func datePart(op string, part func(time.Time) int) operator {
	return func(e *Evaluator, sc *scope, raw any) (any, error) {
		args, err := e.nArgs(sc, op, raw, 1)
		if err != nil || nullish(args[0]) {
			return nil, err
		}
		t, ok := args[0].(time.Time)
		if !ok {
			return nil, ErrArgument{Operator: op, Reason: "can't convert from " + structure.TypeName(args[0]) + " to date"}
		}
		return int64(part(t.UTC())), nil
	}
}
