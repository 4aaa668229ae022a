package main

import (
	"log"
	"os"

	"github.com/campuskit/portal/core"
	"github.com/campuskit/portal/core/identity"
	"github.com/campuskit/portal/storage/database"
	"github.com/campuskit/portal/storage/database/sqlxrepos"
)

var logger *log.Logger

func main() {
	defer os.Exit(0)

	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	conf := core.NewConfig()

	// set up DB
	db, err := database.Open(conf)
	errAndDie(err)
	defer db.Close()
	errAndDie(db.Ping())

	repo := sqlxrepos.NewIdentityRepository(db)

	// start CLI
	cli := commandLine{
		db:      db,
		idtRepo: repo,
		idtSvc:  identity.NewService(repo, nil, conf),
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
