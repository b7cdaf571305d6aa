// Command sentryctl is the registry's offline admin tool: run migrations,
// create tenants and API keys, and inspect status without going through
// the HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"sentryfleet/internal/registrystore"
)

func main() {
	_ = godotenv.Load()

	databaseFlag := &cli.StringFlag{
		Name: "database", Value: "sqlite://./data/registry.db", EnvVars: []string{"SENTRYFLEET_DATABASE"},
	}

	app := &cli.App{
		Name:    "sentryctl",
		Usage:   "Offline admin tool for the sentryfleet registry.",
		Version: "0.1.0",
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Apply pending database migrations",
				Flags:  []cli.Flag{databaseFlag},
				Action: withStore(databaseFlag, cmdMigrate),
			},
			{
				Name:  "create-tenant",
				Usage: "Create a new tenant",
				Flags: []cli.Flag{databaseFlag, &cli.StringFlag{Name: "name", Required: true}},
				Action: withStore(databaseFlag, cmdCreateTenant),
			},
			{
				Name:  "create-api-key",
				Usage: "Create an API key for a tenant; prints the raw token once",
				Flags: []cli.Flag{
					databaseFlag,
					&cli.StringFlag{Name: "tenant-id", Required: true},
					&cli.StringFlag{Name: "name", Required: true},
				},
				Action: withStore(databaseFlag, cmdCreateAPIKey),
			},
			{
				Name:  "status",
				Usage: "Print the effective status of every test",
				Flags: []cli.Flag{databaseFlag, &cli.StringFlag{Name: "tenant-id"}},
				Action: withStore(databaseFlag, cmdStatus),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func withStore(_ *cli.StringFlag, fn func(*cli.Context, *registrystore.Store) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx := context.Background()
		store, err := registrystore.Open(ctx, c.String("database"))
		if err != nil {
			return fmt.Errorf("open registry store: %w", err)
		}
		defer store.Close()
		return fn(c, store)
	}
}

func cmdMigrate(c *cli.Context, store *registrystore.Store) error {
	fmt.Println("migrations applied")
	return nil
}

func cmdCreateTenant(c *cli.Context, store *registrystore.Store) error {
	tenant, err := store.CreateTenant(c.Context, uuid.New().String(), c.String("name"), time.Now().Unix())
	if err != nil {
		return err
	}
	fmt.Printf("tenant_id=%s name=%s\n", tenant.ID, tenant.Name)
	return nil
}

func cmdCreateAPIKey(c *cli.Context, store *registrystore.Store) error {
	token := uuid.New().String() + uuid.New().String()
	key, err := store.CreateAPIKey(c.Context, uuid.New().String(), c.String("tenant-id"), token, c.String("name"), time.Now().Unix())
	if err != nil {
		return err
	}
	fmt.Printf("api_key_id=%s token=%s\n", key.ID, token)
	fmt.Println("store this token now; it will not be shown again")
	return nil
}

func cmdStatus(c *cli.Context, store *registrystore.Store) error {
	rows, err := store.StatusSummary(c.Context, c.String("tenant-id"))
	if err != nil {
		return err
	}
	for _, row := range rows {
		state := "DOWN"
		if row.EffectiveOK {
			state = "OK"
		}
		fmt.Printf("%-36s %-6s %s\n", row.TestID, state, row.Name)
	}
	return nil
}
