package domain

// FindOptions contains the non-filter parts of a find-shaped query.
type FindOptions struct {
	// Sort specifies the sort order for results.
	Sort Sort
	// Skip specifies the number of documents to skip.
	Skip int64
	// Limit specifies the maximum number of documents to return. Zero
	// means no limit.
	Limit int64
	// Projection specifies which fields to include or exclude.
	Projection Projection
}

// IsZero reports whether no option is set.
func (f FindOptions) IsZero() bool {
	return len(f.Sort) == 0 && f.Skip == 0 && f.Limit == 0 && len(f.Projection) == 0
}

// ReadOptions is the argument of [Store.Read].
type ReadOptions struct {
	// Filter selects documents. Nil selects every document.
	Filter Document
	FindOptions
}

// WriteOptions is the argument of [Store.Write].
type WriteOptions struct {
	// Ordered stops the batch at the first failure.
	Ordered bool
}

// WithFindSort specifies the sort order for query results.
func WithFindSort(s Sort) FindOption {
	return func(fo *FindOptions) {
		fo.Sort = s
	}
}

// WithFindSkip sets the number of documents to skip in query results.
func WithFindSkip(s int64) FindOption {
	return func(fo *FindOptions) {
		fo.Skip = s
	}
}

// WithFindLimit sets the maximum number of documents to return.
func WithFindLimit(l int64) FindOption {
	return func(fo *FindOptions) {
		fo.Limit = l
	}
}

// WithFindProjection specifies which fields to include or exclude from query
// results.
func WithFindProjection(p Projection) FindOption {
	return func(fo *FindOptions) {
		fo.Projection = p
	}
}

// FindOption configures query behavior through the functional options pattern.
type FindOption func(*FindOptions)

// NewFindOptions applies opts to zero [FindOptions].
func NewFindOptions(opts ...FindOption) FindOptions {
	var fo FindOptions
	for _, opt := range opts {
		opt(&fo)
	}
	return fo
}
