package controller

import (
	"context"
	"fmt"
	"slices"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/command"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/cursor"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

// compiler is implemented by validators that can check a schema before any
// document is validated against it.
type compiler interface {
	Compile(schema any) error
}

// Admin serves create, collMod, drop, dropDatabase, listCollections and ping.
// Every command but ping requires a store implementing [domain.Catalog].
type Admin struct {
	config
	store domain.Store
}

// NewAdmin returns an [Admin] controller managing the collections of store.
func NewAdmin(store domain.Store, opts ...Option) *Admin {
	return &Admin{
		config: newConfig("admin", opts),
		store:  store,
	}
}

// Commands implements [command.Controller].
func (a *Admin) Commands() map[string]command.Handler {
	return map[string]command.Handler{
		"create":          a.create,
		"collMod":         a.collMod,
		"drop":            a.drop,
		"dropDatabase":    a.dropDatabase,
		"listCollections": a.listCollections,
		"ping":            a.ping,
	}
}

func (a *Admin) catalog(name string) (domain.Catalog, error) {
	c, ok := a.store.(domain.Catalog)
	if !ok {
		return nil, domain.ErrCommandNotSupported{Name: name}
	}
	return c, nil
}

type createCommand struct {
	Validator domain.Document `aggdb:"validator"`
}

// schema returns the $jsonSchema of a validator document.
func (a *Admin) schema(validator domain.Document) (any, error) {
	if validator == nil || validator.Len() == 0 {
		return nil, nil
	}
	schema := validator.Get("$jsonSchema")
	if schema == nil || validator.Len() != 1 {
		return nil, fmt.Errorf("%w: validator must be {$jsonSchema: <schema>}", domain.ErrInvalidCommand)
	}
	if c, ok := a.validator.(compiler); ok {
		if err := c.Compile(schema); err != nil {
			return nil, err
		}
	}
	return schema, nil
}

func (a *Admin) create(ctx context.Context, ns domain.Namespace, cmd domain.Document) (domain.Document, error) {
	if ns.IsDatabase() {
		return nil, fmt.Errorf("%w: create requires a collection name", domain.ErrInvalidCommand)
	}
	catalog, err := a.catalog("create")
	if err != nil {
		return nil, err
	}
	var c createCommand
	if err := a.decoder.Decode(cmd, &c); err != nil {
		return nil, err
	}
	schema, err := a.schema(c.Validator)
	if err != nil {
		return nil, err
	}
	if err := catalog.Create(ctx, ns); err != nil {
		return nil, err
	}
	a.schemas.Set(ns, schema)
	a.log.Info("collection created", "ns", ns.String(), "validated", schema != nil)
	return command.OK(nil), nil
}

func (a *Admin) exists(ctx context.Context, catalog domain.Catalog, ns domain.Namespace) (bool, error) {
	colls, err := catalog.Collections(ctx, ns.DB)
	if err != nil {
		return false, err
	}
	return slices.Contains(colls, ns), nil
}

func (a *Admin) collMod(ctx context.Context, ns domain.Namespace, cmd domain.Document) (domain.Document, error) {
	catalog, err := a.catalog("collMod")
	if err != nil {
		return nil, err
	}
	var c createCommand
	if err := a.decoder.Decode(cmd, &c); err != nil {
		return nil, err
	}
	ok, err := a.exists(ctx, catalog, ns)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNamespaceNotFound, ns)
	}
	schema, err := a.schema(c.Validator)
	if err != nil {
		return nil, err
	}
	a.schemas.Set(ns, schema)
	return command.OK(nil), nil
}

func (a *Admin) drop(ctx context.Context, ns domain.Namespace, _ domain.Document) (domain.Document, error) {
	if ns.IsDatabase() {
		return nil, fmt.Errorf("%w: drop requires a collection name", domain.ErrInvalidCommand)
	}
	catalog, err := a.catalog("drop")
	if err != nil {
		return nil, err
	}
	if err := catalog.Drop(ctx, ns); err != nil {
		return nil, err
	}
	a.schemas.Delete(ns)
	a.log.Info("collection dropped", "ns", ns.String())
	return command.OK(a.newDoc("ns", ns.String())), nil
}

func (a *Admin) dropDatabase(ctx context.Context, ns domain.Namespace, _ domain.Document) (domain.Document, error) {
	catalog, err := a.catalog("dropDatabase")
	if err != nil {
		return nil, err
	}
	db := domain.NewNamespace(ns.DB, "")
	if err := catalog.Drop(ctx, db); err != nil {
		return nil, err
	}
	a.schemas.Delete(db)
	a.log.Info("database dropped", "db", ns.DB)
	return command.OK(a.newDoc("dropped", ns.DB)), nil
}

type listCollectionsCommand struct {
	Filter   domain.Document `aggdb:"filter"`
	NameOnly bool            `aggdb:"nameOnly"`
	Cursor   struct {
		BatchSize int `aggdb:"batchSize"`
	} `aggdb:"cursor"`
}

func (a *Admin) listCollections(ctx context.Context, ns domain.Namespace, cmd domain.Document) (domain.Document, error) {
	catalog, err := a.catalog("listCollections")
	if err != nil {
		return nil, err
	}
	var c listCollectionsCommand
	if err := a.decoder.Decode(cmd, &c); err != nil {
		return nil, err
	}
	colls, err := catalog.Collections(ctx, ns.DB)
	if err != nil {
		return nil, err
	}

	docs := make([]domain.Document, 0, len(colls))
	for _, coll := range colls {
		doc := a.describe(coll, c.NameOnly)
		ok, err := a.matcher.Match(doc, c.Filter)
		if err != nil {
			return nil, err
		}
		if ok {
			docs = append(docs, doc)
		}
	}

	target := domain.NewNamespace(ns.DB, "$cmd.listCollections")
	size := c.Cursor.BatchSize
	if size <= 0 {
		size = a.batchSize
	}
	batch, id, err := a.cursors.Open(ctx, target, cursor.Seq(docs), size)
	if err != nil {
		return nil, err
	}
	return command.CursorReply(target, "firstBatch", batch, id), nil
}

func (a *Admin) describe(ns domain.Namespace, nameOnly bool) domain.Document {
	doc := data.NewD(
		data.E{Key: "name", Value: ns.Collection},
		data.E{Key: "type", Value: "collection"},
	)
	if nameOnly {
		return doc
	}
	options := data.M{}
	if schema, ok := a.schemas.Get(ns); ok {
		options["validator"] = data.M{"$jsonSchema": schema}
	}
	doc.Set("options", options)
	doc.Set("info", data.M{"readOnly": false})
	return doc
}

func (a *Admin) ping(context.Context, domain.Namespace, domain.Document) (domain.Document, error) {
	return command.OK(nil), nil
}
