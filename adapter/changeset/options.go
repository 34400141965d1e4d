package changeset

import "github.com/vinicius-lino-figueiredo/aggdb/domain"

// WithComparer sets the comparer used to match _ids and to detect unchanged
// documents.
func WithComparer(c domain.Comparer) Option {
	return func(cs *ChangeSet) {
		cs.comparer = c
	}
}

// WithHasher sets the hasher used to bucket _ids.
func WithHasher(h domain.Hasher) Option {
	return func(cs *ChangeSet) {
		cs.hasher = h
	}
}

// Option configures a [ChangeSet] through the functional options pattern.
type Option func(*ChangeSet)
