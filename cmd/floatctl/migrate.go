package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/MikeSquared-Agency/floatctl/internal/config"
	"github.com/MikeSquared-Agency/floatctl/internal/store"
)

// runMigrate handles "migrate up [n]" and "migrate down [n]". Without n, up
// applies everything and down rolls everything back.
func runMigrate(cfg config.Config, args []string) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if len(args) == 0 || len(args) > 2 {
		return errors.New("usage: floatctl migrate up|down [steps]")
	}

	steps := 0
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid step count %q", args[1])
		}
		steps = n
	}

	switch args[0] {
	case "up":
		if err := store.Migrate(cfg.DatabaseURL, steps); err != nil {
			return err
		}
	case "down":
		var err error
		if steps == 0 {
			err = store.MigrateDown(cfg.DatabaseURL)
		} else {
			err = store.Migrate(cfg.DatabaseURL, -steps)
		}
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown migrate direction %q", args[0])
	}

	fmt.Println(green("migrations"), args[0], "complete")
	return nil
}
