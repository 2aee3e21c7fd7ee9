package extension

import (
	"github.com/xraph/grove"

	"github.com/tokenledger/ledger/store/postgres"
	"github.com/tokenledger/ledger/store/sqlite"
)

func postgresStore(db *grove.DB) *postgres.Store {
	return postgres.New(db)
}

func sqliteStore(db *grove.DB) *sqlite.Store {
	return sqlite.New(db)
}
