package dummydb

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/campuskit/portal/core/identity"
)

type identityRepository struct {
	db *identityTable
}

var _ identity.Repository = (*identityRepository)(nil) // interface compliance check

func NewIdentityRepository(db *DB) identity.Repository {
	return &identityRepository{db: db.identity}
}

func (repo *identityRepository) query() []identity.Identity {
	idts := make([]identity.Identity, 0, len(repo.db.table))
	for _, idt := range repo.db.table {
		idts = append(idts, *idt)
	}
	return idts
}

func (repo *identityRepository) CheckUniqueness(_ context.Context, usn, email string) error {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, idt := range repo.query() {
		if usn != "" && idt.USN == usn {
			return identity.ErrUSNExists
		}
		if email != "" && idt.Email == email {
			return identity.ErrEmailExists
		}
	}
	return nil
}

func (repo *identityRepository) CreateIdentity(_ context.Context, idt identity.Identity) (identity.Identity, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	// enforce the same unique constraints the relational store carries, so a
	// racing duplicate create fails here rather than silently double-writing
	for _, existing := range repo.db.table {
		if idt.USN != "" && existing.USN == idt.USN {
			return identity.Identity{}, identity.ErrUSNExists
		}
		if idt.Email != "" && existing.Email == idt.Email {
			return identity.Identity{}, identity.ErrEmailExists
		}
	}

	idt.ID = uuid.New().String()
	repo.db.table[idt.ID] = &idt
	return idt, nil
}

func (repo *identityRepository) GetIdentityByID(_ context.Context, id string) (identity.Identity, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if idt, ok := repo.db.table[id]; ok {
		return *idt, nil
	}
	return identity.Identity{}, identity.ErrNotFound
}

func (repo *identityRepository) GetIdentityByIdentifier(_ context.Context, identifier string) (identity.Identity, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	usn := strings.ToUpper(identifier)
	email := strings.ToLower(identifier)
	for _, idt := range repo.query() {
		if (idt.USN != "" && idt.USN == usn) || (idt.Email != "" && idt.Email == email) {
			return idt, nil
		}
	}
	return identity.Identity{}, identity.ErrNotFound
}

func (repo *identityRepository) FilterIdentities(_ context.Context, filter identity.QueryFilter) ([]identity.Identity, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	idts := repo.query()
	if filter.Role != "" {
		var filtered []identity.Identity
		for _, idt := range idts {
			if idt.Role == filter.Role {
				filtered = append(filtered, idt)
			}
		}
		idts = filtered
	}
	if idts != nil && filter.Status != "" {
		var filtered []identity.Identity
		for _, idt := range idts {
			if idt.Status == filter.Status {
				filtered = append(filtered, idt)
			}
		}
		idts = filtered
	}
	return idts, nil
}

func (repo *identityRepository) UpdateIdentityStatus(_ context.Context, id string, status identity.Status) (identity.Identity, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	idt, ok := repo.db.table[id]
	if !ok {
		return identity.Identity{}, identity.ErrNotFound
	}
	idt.Status = status
	return *idt, nil
}

func (repo *identityRepository) SetIdentityPassword(_ context.Context, id string, hash []byte) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	idt, ok := repo.db.table[id]
	if !ok {
		return identity.ErrNotFound
	}
	idt.PasswordHash = hash
	return nil
}
