package csvmanager

import (
	"context"
	"log/slog"
	"sync"

	"github.com/w4cha/csv-manager/core"
	"github.com/w4cha/csv-manager/db"
	"github.com/w4cha/csv-manager/op"
	"github.com/w4cha/csv-manager/ps"
	"github.com/w4cha/csv-manager/query"
)

// Instance serves the tables stored in one persistence. Table handles are
// shared, so every engine of a table sees the same lock and row count.
type Instance struct {
	Persistence *ps.Persistence

	identity core.Identity
	logger   *slog.Logger
	options  []op.Option
	query    query.Options
	s3       *db.S3Config

	mu      sync.Mutex
	catalog *op.Catalog
	tables  map[string]*op.TableOp
}

type Option func(*Instance)

func WithIdentity(identity core.Identity) Option {
	return func(instance *Instance) { instance.identity = identity }
}

func WithLogger(logger *slog.Logger) Option {
	return func(instance *Instance) { instance.logger = logger }
}

// WithTableOptions applies opts to every table handle, e.g. a delimiter or
// limits for new tables.
func WithTableOptions(opts ...op.Option) Option {
	return func(instance *Instance) { instance.options = append(instance.options, opts...) }
}

func WithQueryOptions(options query.Options) Option {
	return func(instance *Instance) { instance.query = options }
}

func WithS3(cfg *db.S3Config) Option {
	return func(instance *Instance) { instance.s3 = cfg }
}

func Open(persistence *ps.Persistence, opts ...Option) *Instance {
	instance := &Instance{
		Persistence: persistence,
		identity:    core.Identity{Name: "csvmanager", Email: "csvmanager@localhost"},
		logger:      slog.Default(),
		tables:      make(map[string]*op.TableOp),
	}
	for _, opt := range opts {
		opt(instance)
	}
	tableOptions := append([]op.Option{
		op.WithIdentity(instance.identity),
		op.WithLogger(instance.logger),
	}, instance.options...)
	instance.catalog = op.NewCatalog(persistence, tableOptions...)
	return instance
}

func (instance *Instance) Tables() ([]string, error) {
	return instance.catalog.TableNames()
}

// Table returns the shared handle of an existing table.
func (instance *Instance) Table(name string) (*op.TableOp, error) {
	instance.mu.Lock()
	defer instance.mu.Unlock()
	return instance.table(name)
}

func (instance *Instance) table(name string) (*op.TableOp, error) {
	if table, ok := instance.tables[name]; ok {
		return table, nil
	}
	table, err := instance.catalog.GetTable(name)
	if err != nil {
		return nil, err
	}
	instance.tables[name] = table
	return table, nil
}

// CreateTable creates a table whose header is derived from fields, see
// core.DeriveHeader.
func (instance *Instance) CreateTable(name, index string, fields, exclude []string) (*op.TableOp, error) {
	instance.mu.Lock()
	defer instance.mu.Unlock()

	table, err := instance.catalog.CreateTable(name, index, fields, exclude)
	if err != nil {
		return nil, err
	}
	instance.tables[name] = table
	instance.logger.Info("table created", "table", name, "columns", len(table.Header()))
	return table, nil
}

// DropTables drops the named tables, or all of them for op.DropAll.
func (instance *Instance) DropTables(names ...string) ([]string, error) {
	instance.mu.Lock()
	defer instance.mu.Unlock()

	dropped, err := instance.catalog.DropTables(names...)
	for _, name := range dropped {
		delete(instance.tables, name)
	}
	if len(dropped) > 0 {
		instance.logger.Info("tables dropped", "tables", dropped)
	}
	return dropped, err
}

func (instance *Instance) RenameTable(from, to string) (ps.Transaction, error) {
	instance.mu.Lock()
	defer instance.mu.Unlock()

	txn, err := instance.catalog.RenameTable(from, to)
	if err != nil {
		return txn, err
	}
	delete(instance.tables, from)
	return txn, nil
}

// Reload re-reads the header and row count of a cached table whose file
// changed behind the instance, or forgets it when the file is gone.
func (instance *Instance) Reload(name string) error {
	instance.mu.Lock()
	defer instance.mu.Unlock()

	table, ok := instance.tables[name]
	if !ok {
		return nil
	}
	if !instance.Persistence.Exists(table.Table.FileName()) {
		delete(instance.tables, name)
		return nil
	}
	return table.Refresh()
}

// Engine returns a query engine over the table name.
func (instance *Instance) Engine(name string) (*db.Engine, error) {
	table, err := instance.Table(name)
	if err != nil {
		return nil, err
	}
	return db.NewEngine(table,
		db.WithLogger(instance.logger),
		db.WithQueryOptions(instance.query),
		db.WithS3(instance.s3),
	), nil
}

// Import creates the table opts.Name from the delimited file src.
func (instance *Instance) Import(ctx context.Context, src string, opts db.ImportOptions) (*db.Engine, error) {
	instance.mu.Lock()
	opts.TableOptions = append(append([]op.Option{}, instance.catalog.Options...), opts.TableOptions...)
	if opts.Logger == nil {
		opts.Logger = instance.logger
	}
	if opts.S3 == nil {
		opts.S3 = instance.s3
	}
	table, err := db.Import(ctx, instance.Persistence, src, opts)
	if err == nil {
		instance.tables[opts.Name] = table
	}
	instance.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return instance.Engine(opts.Name)
}
