package main

import (
	"context"
	"database/sql"
	"log"
	"os"

	dig_container "github.com/trezcool/elimu/apps/api/di/dig"
	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/subscription"
	"github.com/trezcool/elimu/services/tasks"
)

func main() {
	logger := log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	c := dig_container.New()
	err := c.Invoke(func(conf *core.Config, db *sql.DB, scanner *subscription.Scanner, runner *tasks.Runner) error {
		if db != nil {
			defer db.Close()
		}
		// queued expiry emails go out before exiting
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
			defer cancel()
			if err := runner.Shutdown(ctx); err != nil {
				logger.Printf("background tasks abandoned: %v", err)
			}
		}()

		cli := commandLine{
			db:      db,
			scanner: scanner,
			out:     os.Stdout,
		}
		return cli.run(os.Args)
	})
	if err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}
