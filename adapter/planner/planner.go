// Package planner analyzes aggregation pipelines before they run: it extracts
// the leading find-shaped prefix that a store can execute natively, collects
// the foreign collections the pipeline reads or writes, and finds its
// materialization target.
package planner

import (
	"errors"
	"fmt"
	"slices"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/projector"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/querier"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
	"github.com/vinicius-lino-figueiredo/aggdb/pkg/structure"
)

// Materialization stages.
const (
	StageMerge = "$merge"
	StageOut   = "$out"
)

var (
	// ErrInvalidStage is returned for stages that are not single-key
	// documents.
	ErrInvalidStage = errors.New("a pipeline stage must have exactly one field")
	// ErrTargetNotLast is returned when $merge or $out is not the final
	// stage.
	ErrTargetNotLast = errors.New("$merge and $out can only be the final stage")
)

// predecessors lists, for each foldable stage, the stages allowed to come
// before it in the folded prefix. A nil list allows none.
var predecessors = map[string][]string{
	"$match":   nil,
	"$sort":    {"$match"},
	"$skip":    {"$match", "$sort", "$skip", "$limit", "$project"},
	"$limit":   {"$match", "$sort", "$skip", "$limit", "$project"},
	"$project": {"$match", "$sort", "$skip", "$limit", "$project"},
}

// Plan is the static analysis of one aggregation. It is not changed after
// [CreatePlan] returns.
type Plan struct {
	Ns       domain.Namespace
	Pipeline []domain.Document
	// Filter is the folded $match, or an empty document.
	Filter domain.Document
	// Options holds the folded $sort, $skip, $limit and $project stages.
	Options domain.FindOptions
	// Remainder is the part of the pipeline that was not folded.
	Remainder []domain.Document
	// ForeignCollections are the namespaces referenced by $lookup, $merge
	// and $out, in order of appearance and without duplicates.
	ForeignCollections []domain.Namespace
	// Target is the namespace written by a final $merge or $out stage.
	Target *domain.Namespace
	// TargetStage is StageMerge or StageOut when Target is set.
	TargetStage string
}

// ReadOptions returns the folded prefix as store read options.
func (p *Plan) ReadOptions() domain.ReadOptions {
	return domain.ReadOptions{Filter: p.Filter, FindOptions: p.Options}
}

// Foreign returns the foreign collections other than the target.
func (p *Plan) Foreign() []domain.Namespace {
	if p.Target == nil {
		return p.ForeignCollections
	}
	res := make([]domain.Namespace, 0, len(p.ForeignCollections))
	for _, ns := range p.ForeignCollections {
		if ns != *p.Target {
			res = append(res, ns)
		}
	}
	return res
}

// StageName returns the operator of a single-key stage document.
func StageName(stage domain.Document) (string, error) {
	if stage == nil || stage.Len() != 1 {
		return "", ErrInvalidStage
	}
	name, _ := data.FirstKey(stage)
	return name, nil
}

// CreatePlan analyzes pipeline, run against ns.
func CreatePlan(ns domain.Namespace, pipeline []domain.Document) (*Plan, error) {
	p := &Plan{
		Ns:       ns,
		Pipeline: pipeline,
		Filter:   data.M{},
	}
	folded, err := p.fold(pipeline)
	if err != nil {
		return nil, err
	}
	p.Remainder = pipeline[folded:]

	if err := p.collectForeign(pipeline); err != nil {
		return nil, err
	}
	if err := p.findTarget(pipeline); err != nil {
		return nil, err
	}
	return p, nil
}

// fold consumes the strict prefix of foldable stages and returns its length.
func (p *Plan) fold(pipeline []domain.Document) (int, error) {
	var accepted []string
	for n, stage := range pipeline {
		name, err := StageName(stage)
		if err != nil {
			return 0, err
		}
		allowed, foldable := predecessors[name]
		if !foldable {
			return n, nil
		}
		for _, prev := range accepted {
			if !slices.Contains(allowed, prev) {
				return n, nil
			}
		}
		if !p.foldStage(name, stage.Get(name), accepted) {
			return n, nil
		}
		accepted = append(accepted, name)
	}
	return len(pipeline), nil
}

// foldStage merges one stage into the plan options. It reports false when the
// stage cannot be expressed as find options, which ends the prefix.
func (p *Plan) foldStage(name string, arg any, accepted []string) bool {
	switch name {
	case "$match":
		filter, ok := arg.(domain.Document)
		if !ok {
			return false
		}
		p.Filter = filter
	case "$sort":
		spec, ok := arg.(domain.Document)
		if !ok {
			return false
		}
		sort, err := querier.ParseSort(spec)
		if err != nil || len(sort) == 0 {
			return false
		}
		p.Options.Sort = sort
	case "$skip":
		n, ok := structure.AsInteger(arg)
		if !ok || n < 0 {
			return false
		}
		if p.Options.Limit > 0 {
			// skipping after a limit shrinks it
			if int64(n) >= p.Options.Limit {
				return false
			}
			p.Options.Limit -= int64(n)
		}
		p.Options.Skip += int64(n)
	case "$limit":
		n, ok := structure.AsInteger(arg)
		if !ok || n <= 0 {
			return false
		}
		if p.Options.Limit == 0 || int64(n) < p.Options.Limit {
			p.Options.Limit = int64(n)
		}
	case "$project":
		if slices.Contains(accepted, "$project") {
			return false
		}
		spec, ok := arg.(domain.Document)
		if !ok {
			return false
		}
		proj, ok := projector.ParseProjection(spec)
		if !ok {
			return false
		}
		p.Options.Projection = proj
	}
	return true
}

func (p *Plan) addForeign(ns domain.Namespace) {
	if !slices.Contains(p.ForeignCollections, ns) {
		p.ForeignCollections = append(p.ForeignCollections, ns)
	}
}

func (p *Plan) collectForeign(pipeline []domain.Document) error {
	for _, stage := range pipeline {
		name, err := StageName(stage)
		if err != nil {
			return err
		}
		arg := stage.Get(name)
		switch name {
		case "$lookup":
			spec, ok := arg.(domain.Document)
			if !ok {
				return unresolved(name)
			}
			ns, err := p.resolve(name, spec.Get("from"))
			if err != nil {
				return err
			}
			p.addForeign(ns)
			if sub, ok := spec.Get("pipeline").([]any); ok {
				if err := p.collectNested(sub); err != nil {
					return err
				}
			}
		case "$facet":
			spec, ok := arg.(domain.Document)
			if !ok {
				continue
			}
			for sub := range spec.Values() {
				if list, ok := sub.([]any); ok {
					if err := p.collectNested(list); err != nil {
						return err
					}
				}
			}
		case StageMerge:
			into := arg
			if spec, ok := arg.(domain.Document); ok {
				into = spec.Get("into")
			}
			ns, err := p.resolve(name, into)
			if err != nil {
				return err
			}
			p.addForeign(ns)
		case StageOut:
			ns, err := p.resolve(name, arg)
			if err != nil {
				return err
			}
			p.addForeign(ns)
		}
	}
	return nil
}

func (p *Plan) collectNested(list []any) error {
	stages, err := Stages(list)
	if err != nil {
		return err
	}
	return p.collectForeign(stages)
}

// resolve reads a collection reference: a bare name in the pipeline database
// or a {db, coll} document.
func (p *Plan) resolve(stage string, ref any) (domain.Namespace, error) {
	switch t := ref.(type) {
	case string:
		if t == "" {
			return domain.Namespace{}, unresolved(stage)
		}
		return domain.NewNamespace(p.Ns.DB, t), nil
	case domain.Document:
		coll, _ := t.Get("coll").(string)
		if coll == "" {
			return domain.Namespace{}, unresolved(stage)
		}
		db, _ := t.Get("db").(string)
		if db == "" {
			db = p.Ns.DB
		}
		return domain.NewNamespace(db, coll), nil
	default:
		return domain.Namespace{}, unresolved(stage)
	}
}

func (p *Plan) findTarget(pipeline []domain.Document) error {
	for n, stage := range pipeline {
		name, _ := StageName(stage)
		if name != StageMerge && name != StageOut {
			continue
		}
		if n != len(pipeline)-1 {
			return ErrTargetNotLast
		}
		ref := stage.Get(name)
		if spec, ok := ref.(domain.Document); ok && name == StageMerge {
			ref = spec.Get("into")
		}
		ns, err := p.resolve(name, ref)
		if err != nil {
			return err
		}
		p.Target = &ns
		p.TargetStage = name
	}
	return nil
}

// unresolved returns the error for a stage without a collection name.
func unresolved(stage string) error {
	return domain.ErrUnresolvedCollection{Stage: stage}
}

// Stages converts a decoded pipeline ([]any of documents) into stage
// documents.
func Stages(list []any) ([]domain.Document, error) {
	res := make([]domain.Document, len(list))
	for n, v := range list {
		doc, ok := v.(domain.Document)
		if !ok {
			return nil, fmt.Errorf("stage %d: %w", n, ErrInvalidStage)
		}
		res[n] = doc
	}
	return res, nil
}
