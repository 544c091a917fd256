package main

import (
	"errors"

	appfs "github.com/trezcool/elimu/fs"
	"github.com/trezcool/elimu/storage/database"
)

var (
	gooseRunFunc = database.Migrate // mockable

	errNoDatabase = errors.New("migrations need a postgres database (DB_ENGINE=postgres)")
)

func (cli *commandLine) migrate(args []string) error {
	if cli.db == nil {
		return errNoDatabase
	}
	return gooseRunFunc(cli.db, appfs.FS, args[0], args[1:]...)
}
