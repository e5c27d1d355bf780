package app

import (
	"database/sql"
	"os"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

// Migrate applies the goose migrations under dir to the database. The
// migration connection is separate from the server's pinned executor
// connection and closes as soon as the migrations are through.
func Migrate(log *zap.Logger, driver, dsn, dir string) error {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(os.DirFS(dir))
	if err := goose.SetDialect(driver); err != nil {
		return err
	}
	if err := goose.Up(db, "."); err != nil {
		return err
	}
	log.Info("migrations applied", zap.String("dir", dir))
	return nil
}
