package ps

import (
	"fmt"
	"sort"
	"time"

	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/filemode"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/w4cha/csv-manager/core"
)

// treeChange sets or removes one file at the root of the tree.
type treeChange struct {
	name   string
	blob   plumbing.Hash
	remove bool
}

// createBlob creates a blob object directly in the object store
func (p *Persistence) createBlob(data []byte) (plumbing.Hash, error) {
	obj := p.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(data)))

	writer, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to create blob writer: %w", err)
	}

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return plumbing.ZeroHash, fmt.Errorf("failed to write blob data: %w", err)
	}
	writer.Close()

	hash, err := p.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to store blob: %w", err)
	}

	return hash, nil
}

// currentTree returns the tree of HEAD, or ZeroHash before the first commit.
func (p *Persistence) currentTree() (plumbing.Hash, error) {
	headRef, err := p.repo.Head()
	if err != nil {
		return plumbing.ZeroHash, nil
	}

	commit, err := p.repo.CommitObject(headRef.Hash())
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to get head commit: %w", err)
	}

	return commit.TreeHash, nil
}

func (p *Persistence) treeEntries(treeHash plumbing.Hash) (map[string]object.TreeEntry, error) {
	entries := make(map[string]object.TreeEntry)
	if treeHash == plumbing.ZeroHash {
		return entries, nil
	}

	tree, err := object.GetTree(p.repo.Storer, treeHash)
	if err != nil {
		return nil, fmt.Errorf("failed to get tree: %w", err)
	}
	for _, entry := range tree.Entries {
		entries[entry.Name] = entry
	}
	return entries, nil
}

func (p *Persistence) storeTree(entries map[string]object.TreeEntry) (plumbing.Hash, error) {
	sorted := make([]object.TreeEntry, 0, len(entries))
	for _, entry := range entries {
		sorted = append(sorted, entry)
	}
	// table files live at the root, so plain name order is git order
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	obj := p.repo.Storer.NewEncodedObject()
	if err := (&object.Tree{Entries: sorted}).Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to encode tree: %w", err)
	}

	hash, err := p.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to store tree: %w", err)
	}
	return hash, nil
}

// commitChanges applies changes on top of HEAD and commits the result.
// When the tree is unchanged the latest transaction is returned instead.
// Callers hold p.mu.
func (p *Persistence) commitChanges(changes []treeChange, identity core.Identity, message string) (Transaction, error) {
	current, err := p.currentTree()
	if err != nil {
		return Transaction{}, err
	}

	entries, err := p.treeEntries(current)
	if err != nil {
		return Transaction{}, err
	}
	for _, change := range changes {
		if change.remove {
			delete(entries, change.name)
			continue
		}
		entries[change.name] = object.TreeEntry{
			Name: change.name,
			Mode: filemode.Regular,
			Hash: change.blob,
		}
	}

	tree, err := p.storeTree(entries)
	if err != nil {
		return Transaction{}, err
	}
	if tree == current {
		return p.latestTransaction(), nil
	}
	return p.createCommit(tree, identity, message)
}

func (p *Persistence) createCommit(treeHash plumbing.Hash, identity core.Identity, message string) (Transaction, error) {
	var parentHashes []plumbing.Hash
	headRef, err := p.repo.Head()
	if err == nil {
		parentHashes = []plumbing.Hash{headRef.Hash()}
	}

	sig := object.Signature{
		Name:  identity.Name,
		Email: identity.Email,
		When:  time.Now(),
	}

	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      message,
		TreeHash:     treeHash,
		ParentHashes: parentHashes,
	}

	obj := p.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return Transaction{}, fmt.Errorf("failed to encode commit: %w", err)
	}

	commitHash, err := p.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to store commit: %w", err)
	}

	branchName := plumbing.Master
	if headRef != nil && headRef.Name().IsBranch() {
		branchName = headRef.Name()
	}

	ref := plumbing.NewHashReference(branchName, commitHash)
	if err := p.repo.Storer.SetReference(ref); err != nil {
		return Transaction{}, fmt.Errorf("failed to update HEAD: %w", err)
	}

	return newTransaction(commitHash, sig, message), nil
}

// fileHash returns the blob hash of name in commit, or ZeroHash when the
// file is absent.
func fileHash(commit *object.Commit, name string) plumbing.Hash {
	tree, err := commit.Tree()
	if err != nil {
		return plumbing.ZeroHash
	}
	file, err := tree.File(name)
	if err != nil {
		return plumbing.ZeroHash
	}
	return file.Hash
}

// Versions lists the transactions that changed name, newest first. A
// transaction that removed the file is included.
func (p *Persistence) Versions(name string) ([]Transaction, error) {
	if err := p.ensureHistory(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	headRef, err := p.repo.Head()
	if err != nil {
		return nil, nil
	}

	var transactions []Transaction
	commit, err := p.repo.CommitObject(headRef.Hash())
	for err == nil {
		hash := fileHash(commit, name)

		var parent *object.Commit
		parentHash := plumbing.ZeroHash
		if commit.NumParents() > 0 {
			parent, err = commit.Parent(0)
			if err != nil {
				return nil, fmt.Errorf("failed to read parent of %s: %w", commit.Hash, err)
			}
			parentHash = fileHash(parent, name)
		}

		if hash != parentHash {
			transactions = append(transactions, newTransaction(commit.Hash, commit.Committer, commit.Message))
		}
		if parent == nil {
			break
		}
		commit = parent
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read commit: %w", err)
	}

	return transactions, nil
}

// ReadAt returns the content of name as of the transaction id.
func (p *Persistence) ReadAt(name, id string) ([]byte, error) {
	if err := p.ensureHistory(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	commit, err := p.repo.CommitObject(plumbing.NewHash(id))
	if err != nil {
		return nil, fmt.Errorf("unknown transaction %s: %w", id, err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get tree: %w", err)
	}

	file, err := tree.File(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s at %s", ErrFileNotFound, name, id)
	}

	content, err := file.Contents()
	if err != nil {
		return nil, fmt.Errorf("failed to read contents: %w", err)
	}

	return []byte(content), nil
}
