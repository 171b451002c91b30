package ps

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
)

type Transaction struct {
	Id      string
	When    time.Time
	Author  string // "Name <email>" format
	Message string
}

func newTransaction(hash plumbing.Hash, sig object.Signature, message string) Transaction {
	author := ""
	if sig.Name != "" || sig.Email != "" {
		author = fmt.Sprintf("%s <%s>", sig.Name, sig.Email)
	}
	return Transaction{
		Id:      hash.String(),
		When:    sig.When,
		Author:  author,
		Message: strings.TrimSpace(message),
	}
}

func (transaction Transaction) String() string {
	return fmt.Sprintf("Transaction{Id: %s, When: %s, Author: %s, Message: %s}", transaction.Id, transaction.When, transaction.Author, transaction.Message)
}

// ShortId returns the first eight characters of the id.
func (transaction Transaction) ShortId() string {
	if len(transaction.Id) > 8 {
		return transaction.Id[:8]
	}
	return transaction.Id
}

// LatestTransaction returns the HEAD transaction, or the zero Transaction
// when nothing was recorded yet.
func (p *Persistence) LatestTransaction() Transaction {
	if !p.HasHistory() {
		return Transaction{}
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latestTransaction()
}

func (p *Persistence) latestTransaction() Transaction {
	headRef, err := p.repo.Head()
	if err != nil || headRef == nil {
		return Transaction{}
	}

	commit, err := p.repo.CommitObject(headRef.Hash())
	if err != nil {
		return Transaction{}
	}

	return newTransaction(headRef.Hash(), commit.Committer, commit.Message)
}

// FindTransaction resolves a full or abbreviated transaction id among the
// versions of name.
func (p *Persistence) FindTransaction(name, id string) (Transaction, error) {
	versions, err := p.Versions(name)
	if err != nil {
		return Transaction{}, err
	}
	var found []Transaction
	for _, version := range versions {
		if id != "" && strings.HasPrefix(version.Id, strings.ToLower(id)) {
			found = append(found, version)
		}
	}
	switch len(found) {
	case 0:
		return Transaction{}, fmt.Errorf("%w: no version %q of %s", ErrFileNotFound, id, name)
	case 1:
		return found[0], nil
	default:
		return Transaction{}, fmt.Errorf("ambiguous version %q of %s", id, name)
	}
}
