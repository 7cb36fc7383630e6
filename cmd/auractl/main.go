package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/aura-api/internal/config"
	"github.com/suPer8Hu/aura-api/internal/db"
	"gorm.io/gorm"
)

type App struct {
	Out    io.Writer
	Err    io.Writer
	Cfg    config.Config
	OpenDB func(dsn string) (*gorm.DB, error)
}

func DefaultApp() *App {
	return &App{
		Out: os.Stdout,
		Err: os.Stderr,
		Cfg: config.Load(),
		OpenDB: func(dsn string) (*gorm.DB, error) {
			return db.Connect(dsn), nil
		},
	}
}

func main() {
	if err := newRootCmd(DefaultApp()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auractl",
		Short: "Operator tooling for the Aura generation API",
		Long: `auractl manages the data the generation API reads but never writes:
schema, preset catalogue, subscriptions and the prompt blocklist.

Examples:
  auractl migrate
  auractl presets import presets.json
  auractl subscription set 6b1f... pro --days 30
  auractl blocklist add gore
  auractl token 6b1f... --ttl 24h`,
		SilenceUsage: true,
	}

	cmd.AddCommand(
		newMigrateCmd(app),
		newTokenCmd(app),
		newPresetsCmd(app),
		newSubscriptionCmd(app),
		newBlocklistCmd(app),
	)
	return cmd
}

func (a *App) db() (*gorm.DB, error) {
	return a.OpenDB(a.Cfg.DBDSN)
}
