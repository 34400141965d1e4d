// Package idgenerator contains the default [domain.IDGenerator] implementation
// using random (version 4) UUIDs.
package idgenerator

import (
	"crypto/rand"
	"io"

	"github.com/google/uuid"

	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

// IDGenerator implements [domain.IDGenerator].
type IDGenerator struct {
	reader io.Reader
}

// NewIDGenerator implements [domain.IDGenerator].
func NewIDGenerator(opts ...Option) domain.IDGenerator {
	i := IDGenerator{reader: rand.Reader}
	for _, opt := range opts {
		opt(&i)
	}
	return &i
}

// GenerateID implements [domain.IDGenerator]. Ids are returned in their
// canonical string form.
func (i *IDGenerator) GenerateID() (any, error) {
	id, err := uuid.NewRandomFromReader(i.reader)
	if err != nil {
		return nil, err
	}
	return id.String(), nil
}
