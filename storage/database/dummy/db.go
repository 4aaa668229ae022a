package dummydb

import (
	"sync"

	"github.com/campuskit/portal/core/identity"
)

type (
	DB struct {
		identity *identityTable
	}

	identityTable struct {
		sync.RWMutex
		table map[string]*identity.Identity
	}
)

func Open() (*DB, error) {
	db := &DB{
		identity: &identityTable{table: make(map[string]*identity.Identity)},
	}
	return db, nil
}
