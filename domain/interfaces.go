// Package domain contains the interfaces, entities and errors shared by every
// aggdb adapter.
//
// Adapters depend on this package only, never on each other's concrete types,
// so any component can be replaced by passing a different implementation to the
// constructor that consumes it.
package domain

import (
	"context"
	"iter"
	"time"
)

// Document represents a record flowing through the engine. Documents are read
// by one goroutine at a time and don't need to be concurrency safe.
type Document interface {
	// ID returns the document _id, or nil if unset.
	ID() any
	// D returns the subdocument for the given key, if any.
	D(string) Document
	// Get returns the value under the given key, or nil if unset.
	Get(string) any
	// Set sets the value under the given key.
	Set(string, any)
	// Unset unsets the value under the given key.
	Unset(string)
	// Iter returns a sequence of key-value pairs in the document. Ordered
	// implementations yield them in insertion order.
	Iter() iter.Seq2[string, any]
	// Keys returns a sequence of keys in the document.
	Keys() iter.Seq[string]
	// Values returns a sequence of values in the document.
	Values() iter.Seq[any]
	// Has reports whether a value is set under the given key.
	Has(string) bool
	// Len returns the number of set fields in the document.
	Len() int
}

// Getter represents a value that can be treated as undefined.
type Getter interface {
	// Get returns the value and a bool that indicates whether the value
	// counts as defined. An unset key in a document, an out of bounds
	// index in an array or any address within a primitive value counts as
	// undefined. An explicit nil is defined.
	Get() (value any, defined bool)
}

// GetSetter represents an addressable value in a [Document], returned by
// [FieldNavigator].
type GetSetter interface {
	Getter
	// Set replaces the value at the address.
	Set(any)
	// Unset removes the value from its parent object or array.
	Unset()
}

// FieldNavigator provides field access operations with dot notation support.
type FieldNavigator interface {
	// GetField extracts values from nested documents following path parts.
	// The bool reports whether an array was expanded on the way.
	GetField(any, ...string) ([]GetSetter, bool, error)
	// EnsureField works like GetField but creates missing intermediate
	// documents.
	EnsureField(any, ...string) ([]GetSetter, error)
	// GetAddress splits a dotted address into path parts.
	GetAddress(field string) ([]string, error)
}

// Comparer provides ordering and comparison operations for document values.
type Comparer interface {
	// Compare returns -1, 0, or 1 based on the comparison of two values.
	Compare(any, any) (int, error)
	// Comparable returns true if two values can be ordered against each
	// other without crossing type brackets.
	Comparable(any, any) bool
}

// Hasher generates deterministic hash values for document values.
type Hasher interface {
	// Hash generates a hash value for the given data. Equal documents
	// produce equal hashes regardless of key order.
	Hash(any) (uint64, error)
}

// Decoder converts between different data representations.
type Decoder interface {
	// Decode copies source into the value pointed by target.
	Decode(source any, target any) error
}

// Matcher evaluates whether values match query criteria.
type Matcher interface {
	// Match returns true if the value matches the query.
	Match(value any, query any) (bool, error)
}

// Evaluator computes aggregation expressions.
type Evaluator interface {
	// Evaluate computes expr against root. vars holds the user variables
	// visible to "$$name" references, without the "$$" prefix.
	Evaluate(expr any, root Document, vars map[string]any) (any, error)
}

// Projector applies inclusion or exclusion projections.
type Projector interface {
	// Project returns projected copies of the given documents.
	Project([]Document, Projection) ([]Document, error)
}

// Modifier applies update operations to documents.
type Modifier interface {
	// Modify applies an update document to a copy of obj and returns it.
	// The original document is never changed.
	Modify(obj Document, update Document) (Document, error)
}

// Querier applies a find-shaped query (filter, sort, skip, limit and
// projection) to a sequence of documents.
type Querier interface {
	// Query filters data with the given options.
	Query(ctx context.Context, data iter.Seq2[Document, error], opts ReadOptions) ([]Document, error)
}

// IDGenerator creates values for documents inserted without an _id.
type IDGenerator interface {
	// GenerateID returns a new unique identifier.
	GenerateID() (any, error)
}

// TimeGetter provides current time for expiration checks.
type TimeGetter interface {
	// GetTime returns the current time.
	GetTime() time.Time
}

// Store is the storage contract consumed by the core. Concrete storage engines
// live outside this module.
type Store interface {
	// Read returns the documents of ns matching opts. Implementations may
	// push the whole query down to a native layer or use a [Querier].
	Read(ctx context.Context, ns Namespace, opts ReadOptions) (iter.Seq2[Document, error], error)
	// Write applies changes and reports per-change failures. The Index of
	// each returned WriteError is the position of the failed change in the
	// given slice, even if the implementation reorders or batches writes
	// internally. With Ordered set, processing stops at the first failure
	// and no later change is applied. A replace whose document key is not
	// stored behaves as an insert. The error return is reserved for
	// failures that affect the whole batch.
	Write(ctx context.Context, changes []ChangeStreamDocument, opts WriteOptions) ([]WriteError, error)
}

// Catalog is implemented by stores that can enumerate and drop collections.
// Admin commands detect it by type assertion.
type Catalog interface {
	// Create makes an empty collection. It fails with [ErrNamespaceExists]
	// if the collection exists.
	Create(ctx context.Context, ns Namespace) error
	// Collections lists the namespaces of a database.
	Collections(ctx context.Context, db string) ([]Namespace, error)
	// Drop removes a collection, or every collection of a database if ns
	// has no collection.
	Drop(ctx context.Context, ns Namespace) error
}

// Validator checks documents against a schema.
type Validator interface {
	// Validate returns an [ErrValidation] if doc does not satisfy schema.
	Validate(doc Document, schema any) error
}

// Logger is a scoped structured logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	// Scope returns a child logger tagged with name.
	Scope(name string) Logger
}

// Cursor holds server-side iteration state for a paged result stream.
type Cursor interface {
	// ID returns the cursor id used by getMore.
	ID() int64
	// Namespace returns the namespace reported with each batch.
	Namespace() Namespace
	// NextBatch pulls at most size documents from the underlying source. A
	// size lower than one pulls everything left.
	NextBatch(ctx context.Context, size int) ([]Document, error)
	// Exhausted reports whether the source reported no more data.
	Exhausted() bool
	// Close releases the source. Reading a closed cursor fails with
	// [ErrCursorClosed].
	Close() error
}

// Aggregator executes aggregation pipelines.
type Aggregator interface {
	// Aggregate runs pipeline against ns. Pipelines ending with a
	// materialization stage are executed eagerly and return an empty
	// sequence.
	Aggregate(ctx context.Context, ns Namespace, pipeline []Document) (iter.Seq2[Document, error], error)
}

// CacheEvaluator is one coverage-checking policy over a cache mirror.
type CacheEvaluator interface {
	// Add records that doc was written to the authoritative store.
	Add(doc Document) error
	// Remove records that doc was deleted from the authoritative store.
	Remove(doc Document) error
	// Optimize returns the part of filter not already known to be covered.
	Optimize(filter Document, opts FindOptions) (Document, error)
	// IsCached reports whether the query is fully answerable from the
	// mirror.
	IsCached(filter Document, opts FindOptions) (bool, error)
	// Success records that the query was just answered by the backing
	// store and its result copied into the mirror.
	Success(filter Document, opts FindOptions) error
}

// ChangeListener receives change events published for a namespace.
type ChangeListener func(ctx context.Context, change ChangeStreamDocument)

// Publisher delivers change events to the listeners of their namespace.
type Publisher interface {
	// Publish delivers changes in order.
	Publish(ctx context.Context, changes ...ChangeStreamDocument) error
}
