// Package changeset computes the difference between two states of a
// collection and materializes it into change events.
package changeset

import (
	"errors"
	"fmt"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/comparer"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/hasher"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
	"github.com/vinicius-lino-figueiredo/aggdb/pkg/uncomparable"
)

var (
	// ErrMissingID is returned when a document in a change set has no _id.
	ErrMissingID = errors.New("document has no _id")
	// ErrDuplicateID is returned when the same _id appears twice on the same
	// side of a change set.
	ErrDuplicateID = errors.New("duplicate _id in change set")
)

// ChangeSet is the difference between an incoming (desired) and an outgoing
// (previous) list of documents. Documents present on both sides with equal
// content belong to none of the derived lists.
type ChangeSet struct {
	incoming     []domain.Document
	outgoing     []domain.Document
	insertions   []domain.Document
	deletions    []domain.Document
	replacements []domain.Document
	comparer     domain.Comparer
	hasher       domain.Hasher
}

// New partitions incoming and outgoing by _id.
func New(incoming, outgoing []domain.Document, opts ...Option) (*ChangeSet, error) {
	cs := &ChangeSet{
		incoming: incoming,
		outgoing: outgoing,
	}
	for _, opt := range opts {
		opt(cs)
	}
	if cs.comparer == nil {
		cs.comparer = comparer.NewComparer()
	}
	if cs.hasher == nil {
		cs.hasher = hasher.NewHasher()
	}
	if err := cs.partition(); err != nil {
		return nil, err
	}
	return cs, nil
}

// FromInsert returns a change set inserting docs.
func FromInsert(docs []domain.Document, opts ...Option) (*ChangeSet, error) {
	return New(docs, nil, opts...)
}

// FromDelete returns a change set deleting docs.
func FromDelete(docs []domain.Document, opts ...Option) (*ChangeSet, error) {
	return New(nil, docs, opts...)
}

// FromReplace returns a change set replacing before with after. Both must
// carry the same _id for the result to be a replacement.
func FromReplace(before, after domain.Document, opts ...Option) (*ChangeSet, error) {
	return New([]domain.Document{after}, []domain.Document{before}, opts...)
}

func (cs *ChangeSet) index(docs []domain.Document) (*uncomparable.Map[domain.Document], error) {
	idx := uncomparable.New[domain.Document](cs.hasher, cs.comparer)
	for _, doc := range docs {
		if !doc.Has("_id") {
			return nil, ErrMissingID
		}
		found, err := idx.Has(doc.ID())
		if err != nil {
			return nil, err
		}
		if found {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateID, doc.ID())
		}
		if err := idx.Set(doc.ID(), doc); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func (cs *ChangeSet) partition() error {
	in, err := cs.index(cs.incoming)
	if err != nil {
		return fmt.Errorf("incoming: %w", err)
	}
	out, err := cs.index(cs.outgoing)
	if err != nil {
		return fmt.Errorf("outgoing: %w", err)
	}

	for _, doc := range cs.incoming {
		prev, found, err := out.Get(doc.ID())
		if err != nil {
			return err
		}
		switch {
		case !found:
			cs.insertions = append(cs.insertions, doc)
		case !comparer.Equal(cs.comparer, doc, prev):
			cs.replacements = append(cs.replacements, doc)
		}
	}
	for _, doc := range cs.outgoing {
		found, err := in.Has(doc.ID())
		if err != nil {
			return err
		}
		if !found {
			cs.deletions = append(cs.deletions, doc)
		}
	}
	return nil
}

// Incoming returns the desired end state.
func (cs *ChangeSet) Incoming() []domain.Document { return cs.incoming }

// Outgoing returns the previous state.
func (cs *ChangeSet) Outgoing() []domain.Document { return cs.outgoing }

// Insertions returns the incoming documents whose _id is not outgoing.
func (cs *ChangeSet) Insertions() []domain.Document { return cs.insertions }

// Deletions returns the outgoing documents whose _id is not incoming.
func (cs *ChangeSet) Deletions() []domain.Document { return cs.deletions }

// Replacements returns the incoming version of the documents whose _id is on
// both sides with different content.
func (cs *ChangeSet) Replacements() []domain.Document { return cs.replacements }

// Len returns the number of changes the set materializes into.
func (cs *ChangeSet) Len() int {
	return len(cs.insertions) + len(cs.deletions) + len(cs.replacements)
}

// Inverse returns the change set that rolls this one back.
func (cs *ChangeSet) Inverse() *ChangeSet {
	return &ChangeSet{
		incoming:     cs.outgoing,
		outgoing:     cs.incoming,
		insertions:   cs.deletions,
		deletions:    cs.insertions,
		replacements: cs.inverseReplacements(),
		comparer:     cs.comparer,
		hasher:       cs.hasher,
	}
}

// inverseReplacements returns the outgoing version of each replacement, in
// outgoing order.
func (cs *ChangeSet) inverseReplacements() []domain.Document {
	if len(cs.replacements) == 0 {
		return nil
	}
	res := make([]domain.Document, 0, len(cs.replacements))
	for _, doc := range cs.outgoing {
		for _, r := range cs.replacements {
			if comparer.Equal(cs.comparer, doc.ID(), r.ID()) {
				res = append(res, doc)
				break
			}
		}
	}
	return res
}

// Changes materializes the set into one event per affected _id: insertions
// first, then deletions, then replacements.
func (cs *ChangeSet) Changes(ns domain.Namespace) []domain.ChangeStreamDocument {
	res := make([]domain.ChangeStreamDocument, 0, cs.Len())
	for _, doc := range cs.insertions {
		res = append(res, change(domain.OperationInsert, ns, doc))
	}
	for _, doc := range cs.deletions {
		res = append(res, change(domain.OperationDelete, ns, doc))
	}
	for _, doc := range cs.replacements {
		res = append(res, change(domain.OperationReplace, ns, doc))
	}
	return res
}

func change(op domain.OperationType, ns domain.Namespace, doc domain.Document) domain.ChangeStreamDocument {
	return domain.ChangeStreamDocument{
		OperationType: op,
		Ns:            ns,
		DocumentKey:   doc.ID(),
		FullDocument:  doc,
	}
}
