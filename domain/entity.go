package domain

import "strings"

// Namespace identifies a collection within a database. A namespace without a
// collection denotes the database itself.
type Namespace struct {
	DB         string
	Collection string
}

// NewNamespace returns the namespace for db and collection.
func NewNamespace(db, collection string) Namespace {
	return Namespace{DB: db, Collection: collection}
}

// ParseNamespace splits "db.collection" on its first dot. A name without dots
// is a database-level namespace.
func ParseNamespace(name string) Namespace {
	db, coll, _ := strings.Cut(name, ".")
	return Namespace{DB: db, Collection: coll}
}

// String returns "db.collection", or "db" for database-level namespaces.
func (n Namespace) String() string {
	if n.Collection == "" {
		return n.DB
	}
	return n.DB + "." + n.Collection
}

// IsDatabase reports whether n targets a database instead of a collection.
func (n Namespace) IsDatabase() bool {
	return n.Collection == ""
}

// OperationType is the kind of a [ChangeStreamDocument].
type OperationType string

// Supported operation types.
const (
	OperationInsert  OperationType = "insert"
	OperationUpdate  OperationType = "update"
	OperationReplace OperationType = "replace"
	OperationDelete  OperationType = "delete"
)

// ChangeStreamDocument is one typed change event. FullDocument is the new
// version for insert, update and replace events and the removed version for
// delete events.
type ChangeStreamDocument struct {
	OperationType OperationType
	Ns            Namespace
	DocumentKey   any
	FullDocument  Document
}

// WriteError describes a change that could not be applied. Index refers to the
// position of the change (or command statement, once translated by a
// controller) in its batch.
type WriteError struct {
	Index   int
	Code    int
	ErrMsg  string
	ErrInfo any
}

// Error codes reported in [WriteError.Code].
const (
	CodeDuplicateKey       = 11000
	CodeDocumentValidation = 121
	CodeBadValue           = 2
	CodeImmutableField     = 66
	CodeInternal           = 1
)

// Upserted identifies a document inserted by an upsert update statement.
type Upserted struct {
	Index int
	ID    any
}

// Sort represents an ordered list of fields which should be used to sort
// results, applied in sequence.
type Sort = []SortName

// SortName represents a single field and its direction. A positive Order means
// ascending and a negative one descending.
type SortName struct {
	Key   string
	Order int64
}

// Projection maps field addresses to 1 (keep) or 0 (omit).
type Projection = map[string]uint8

// DocumentFactory constructs [Document] instances from maps, structs or other
// documents. A nil input returns an empty document.
type DocumentFactory = func(any) (Document, error)
