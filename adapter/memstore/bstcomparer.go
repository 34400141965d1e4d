package memstore

import (
	"github.com/vinicius-lino-figueiredo/bst"

	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

// keyComparer orders tree keys with a [domain.Comparer] and identifies stored
// documents by deep equality.
type keyComparer struct {
	comparer domain.Comparer
}

func newKeyComparer(comparer domain.Comparer) bst.Comparer[any, domain.Document] {
	return &keyComparer{comparer: comparer}
}

// CompareKeys implements bst.Comparer.
func (kc *keyComparer) CompareKeys(a any, b any) (int, error) {
	return kc.comparer.Compare(a, b)
}

// CompareValues implements bst.Comparer.
func (kc *keyComparer) CompareValues(a domain.Document, b domain.Document) (bool, error) {
	c, err := kc.comparer.Compare(a, b)
	if err != nil {
		return false, err
	}
	return c == 0, nil
}
