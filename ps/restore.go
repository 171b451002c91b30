package ps

import (
	"fmt"

	"github.com/w4cha/csv-manager/core"
)

// Restore writes name back to its content as of asof and records the
// result as a new transaction.
func (p *Persistence) Restore(name string, asof Transaction, identity core.Identity) (Transaction, error) {
	data, err := p.ReadAt(name, asof.Id)
	if err != nil {
		return Transaction{}, err
	}

	if err := p.WriteFile(name, data); err != nil {
		return Transaction{}, fmt.Errorf("failed to restore %s: %w", name, err)
	}

	return p.Record(name, identity, fmt.Sprintf("Restoring %s to %s", name, asof.ShortId()))
}
