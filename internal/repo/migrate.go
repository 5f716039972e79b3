package repo

import (
    "errors"
    "fmt"

    "github.com/golang-migrate/migrate/v4"
    _ "github.com/golang-migrate/migrate/v4/database/postgres"
    _ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migrate applies pending schema migrations from dir against dsn.
// Already-up-to-date is not an error.
func Migrate(dsn, dir string) error {
    m, err := migrate.New("file://"+dir, dsn)
    if err != nil { return fmt.Errorf("migrate: open: %w", err) }
    defer m.Close()
    if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
        return fmt.Errorf("migrate: up: %w", err)
    }
    return nil
}
