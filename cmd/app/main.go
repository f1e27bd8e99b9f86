package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sqliteadapter "github.com/SATIVAR/sativar-isis-gemini-sub001/internal/adapters/db/sqlite"
	httpadapter "github.com/SATIVAR/sativar-isis-gemini-sub001/internal/adapters/http"
	rpcadapter "github.com/SATIVAR/sativar-isis-gemini-sub001/internal/adapters/rpcjson"
	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/application"
	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/config"
	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/domain"
	"github.com/urfave/cli/v3"
)

func main() {
	args := os.Args
	if len(args) == 1 {
		args = append(args, "--help")
	}

	root := &cli.Command{
		Name:  "formlayout",
		Usage: "Dynamic form layout builder server and CLI",
		Commands: []*cli.Command{
			serverCommand(),
			connectCommand(),
			configCommand(),
			fieldsCommand(),
			layoutsCommand(),
			auditCommand(),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runServer(ctx, config.Default())
		},
	}

	if err := root.Run(context.Background(), args); err != nil {
		log.Fatal(err)
	}
}

func serverCommand() *cli.Command {
	return &cli.Command{
		Name:  "server",
		Usage: "Run HTTP and JSON-RPC server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "YAML configuration file", Sources: cli.EnvVars("FORMLAYOUT_CONFIG")},
			&cli.StringFlag{Name: "addr", Usage: "HTTP listen address"},
			&cli.StringFlag{Name: "rpc-socket", Usage: "JSON-RPC unix socket path"},
			&cli.StringFlag{Name: "db-path", Usage: "SQLite database path"},
			&cli.StringFlag{Name: "step-removal", Usage: "discard or migrate"},
			&cli.BoolFlag{Name: "guard-used-fields", Usage: "refuse deleting fields placed in a layout unless forced"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			if c.IsSet("addr") {
				cfg.Server.Addr = c.String("addr")
			}
			if c.IsSet("rpc-socket") {
				cfg.Server.RPCSocket = c.String("rpc-socket")
			}
			if c.IsSet("db-path") {
				cfg.Database.Path = c.String("db-path")
			}
			if c.IsSet("step-removal") {
				cfg.Layout.StepRemoval = c.String("step-removal")
			}
			if c.IsSet("guard-used-fields") {
				cfg.Catalog.GuardUsedFields = c.Bool("guard-used-fields")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServer(ctx, cfg)
		},
	}
}

func runServer(ctx context.Context, cfg config.Config) error {
	db, err := sqliteadapter.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	if err := sqliteadapter.RunMigrations(ctx, db); err != nil {
		return err
	}

	repo := sqliteadapter.NewFormRepository(db)
	catalog := application.NewCatalogService(repo, application.WithUsageGuard(cfg.Catalog.GuardUsedFields))
	layouts := application.NewLayoutService(repo, cfg.Engine(), cfg.AssociateTypes(), nil)
	audit := application.NewAuditService(repo)

	router := httpadapter.NewRouter(catalog, layouts, audit)
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	rpcSrv, err := rpcadapter.Start(cfg.Server.RPCSocket, rpcadapter.Services{Catalog: catalog, Layouts: layouts, Audit: audit})
	if err != nil {
		return err
	}

	defer func() {
		_ = rpcSrv.Close()
	}()
	log.Printf("json-rpc listening on unix://%s", cfg.Server.RPCSocket)
	log.Printf("associate types: %v, step removal: %s", cfg.AssociateTypes(), cfg.Layout.StepRemoval)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("received signal %s, shutting down", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func connectCommand() *cli.Command {
	return &cli.Command{
		Name:  "connect",
		Usage: "Store how the CLI reaches the server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "transport", Value: "uds", Usage: "uds or http"},
			&cli.StringFlag{Name: "server", Value: defaultServer},
			&cli.StringFlag{Name: "socket", Value: defaultSocket},
			&cli.BoolFlag{Name: "check", Value: true, Usage: "ping the server before saving"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := cliConfig{Transport: c.String("transport"), Server: c.String("server"), Socket: c.String("socket")}
			if c.Bool("check") {
				var health application.Health
				if err := doHealth(ctx, cfg, &health); err != nil {
					return err
				}
				fmt.Printf("server %s (schema version %d)\n", health.Status, health.SchemaVersion)
			}
			if err := saveConfig(cfg); err != nil {
				return err
			}
			fmt.Printf("using %s transport\n", cfg.Transport)
			return nil
		},
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Server configuration helpers",
		Commands: []*cli.Command{
			{
				Name:  "sample",
				Usage: "Print a commented configuration file",
				Action: func(ctx context.Context, c *cli.Command) error {
					fmt.Print(config.Sample())
					return nil
				},
			},
			{
				Name:  "check",
				Usage: "Validate a configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Required: true},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := config.Load(c.String("file"))
					if err != nil {
						return err
					}
					printKV([][2]string{
						{"addr", cfg.Server.Addr},
						{"rpc_socket", cfg.Server.RPCSocket},
						{"database", cfg.Database.Path},
						{"associate_types", joinAssociateTypes(cfg.AssociateTypes())},
						{"step_removal", cfg.Layout.StepRemoval},
						{"guard_used_fields", fmt.Sprintf("%t", cfg.Catalog.GuardUsedFields)},
					})
					return nil
				},
			},
		},
	}
}

func fieldsCommand() *cli.Command {
	return &cli.Command{
		Name:  "fields",
		Usage: "Field catalog commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List catalog fields",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "output raw JSON"}},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out []domain.FieldDefinition
					if err := doFieldsList(ctx, cfg, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printFields(out)
					return nil
				},
			},
			{
				Name:  "create",
				Usage: "Create a custom field",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "label", Required: true},
					&cli.StringFlag{Name: "type", Required: true, Usage: "short-text, long-text, email, password, single-select, multi-choice, checkbox, region-select"},
					&cli.StringSliceFlag{Name: "option", Usage: "option for select fields, repeatable"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					in := application.CreateFieldInput{Label: c.String("label"), FieldType: c.String("type"), Options: c.StringSlice("option")}
					var out domain.FieldDefinition
					if err := doFieldsCreate(ctx, cfg, in, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printField(out)
					return nil
				},
			},
			{
				Name:  "delete",
				Usage: "Delete a custom field and remove it from every layout",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "id", Required: true},
					&cli.BoolFlag{Name: "force", Usage: "delete even when layouts use the field"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					id := uint(c.Uint("id"))
					if err := doFieldsDelete(ctx, cfg, id, c.Bool("force")); err != nil {
						return err
					}
					fmt.Printf("field %d deleted\n", id)
					return nil
				},
			},
			{
				Name:  "usage",
				Usage: "Show which associate types place a field",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "id", Required: true},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out fieldUsage
					if err := doFieldsUsage(ctx, cfg, uint(c.Uint("id")), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printUsage(out)
					return nil
				},
			},
		},
	}
}

func auditCommand() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Audit log commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List audit logs, newest first",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 100},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out []domain.AuditLog
					if err := doAuditList(ctx, cfg, int(c.Int("limit")), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printAuditLogs(out)
					return nil
				},
			},
		},
	}
}

func jsonMarshal(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}
