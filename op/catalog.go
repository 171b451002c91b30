package op

import (
	"fmt"
	"strings"

	"github.com/w4cha/csv-manager/core"
	"github.com/w4cha/csv-manager/ps"
)

// DropAll names every table in a Catalog.DropTables call.
const DropAll = "delete all"

// Catalog manages the set of tables stored in one persistence.
type Catalog struct {
	Persistence *ps.Persistence
	Options     []Option
}

func NewCatalog(persistence *ps.Persistence, opts ...Option) *Catalog {
	return &Catalog{Persistence: persistence, Options: opts}
}

func (c *Catalog) identity() core.Identity {
	return newTableOp(core.Table{}, c.Persistence, c.Options).Identity
}

func (c *Catalog) TableNames() ([]string, error) {
	files, err := c.Persistence.List(core.FileExtension)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for _, file := range files {
		name := strings.TrimSuffix(file, core.FileExtension)
		if core.ValidateName(name) == nil {
			names = append(names, name)
		}
	}
	return names, nil
}

func (c *Catalog) GetTable(name string) (*TableOp, error) {
	return GetTable(name, c.Persistence, c.Options...)
}

// CreateTable derives the header from fields (see core.DeriveHeader) and
// writes the new table.
func (c *Catalog) CreateTable(name, index string, fields, exclude []string) (*TableOp, error) {
	header, err := core.DeriveHeader(index, fields, exclude)
	if err != nil {
		return nil, err
	}
	_, table, err := CreateTable(core.Table{Name: name, Header: header}, c.Persistence, c.Options...)
	return table, err
}

func (c *Catalog) RenameTable(from, to string) (ps.Transaction, error) {
	if err := core.ValidateName(to); err != nil {
		return ps.Transaction{}, err
	}
	source := core.Table{Name: from}.FileName()
	target := core.Table{Name: to}.FileName()
	if !c.Persistence.Exists(source) {
		return ps.Transaction{}, fmt.Errorf("%w: %s", ErrTableNotFound, from)
	}
	if c.Persistence.Exists(target) {
		return ps.Transaction{}, fmt.Errorf("%w: %s", ErrTableExists, to)
	}
	if err := c.Persistence.Rename(source, target); err != nil {
		return ps.Transaction{}, err
	}
	return c.Persistence.RecordRename(source, target, c.identity(), fmt.Sprintf("Renaming table %s to %s", from, to))
}

// DropTables removes the named tables, or every table when names is
// exactly DropAll. It returns the names that were dropped.
func (c *Catalog) DropTables(names ...string) ([]string, error) {
	if len(names) == 1 && strings.EqualFold(names[0], DropAll) {
		all, err := c.TableNames()
		if err != nil {
			return nil, err
		}
		names = all
	}

	var dropped []string
	for _, name := range names {
		table, err := c.GetTable(name)
		if err != nil {
			return dropped, err
		}
		if _, err := table.DropTable(); err != nil {
			return dropped, err
		}
		dropped = append(dropped, name)
	}
	return dropped, nil
}
