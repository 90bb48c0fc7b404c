// ABOUTME: Admin CLI for inspecting and managing stored installations
// ABOUTME: Operates directly on the configured storage backend

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/installstore/internal/config"
	"github.com/2389/installstore/internal/installation"
	"github.com/2389/installstore/internal/store"
)

const banner = `
 _           _        _ _     _
(_)_ __  ___| |_ __ _| | |___| |_ ___  _ __ ___
| | '_ \/ __| __/ _' | | / __| __/ _ \| '__/ _ \
| | | | \__ \ || (_| | | \__ \ || (_) | | |  __/
|_|_| |_|___/\__\__,_|_|_|___/\__\___/|_|  \___|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "list":
		err = cmdList()
	case "fetch":
		err = cmdFetch(args)
	case "delete":
		err = cmdDelete(args)
	case "seed":
		err = cmdSeed()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: installstore-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  list                     List all stored grant records")
	fmt.Println("  fetch [flags]            Resolve an installation for a scope")
	fmt.Println("  delete [flags]           Delete the bot or user grant set for a scope")
	fmt.Println("  seed                     Store a sample org-wide installation")
	fmt.Println()
	yellow.Println("Flags (fetch, delete):")
	fmt.Println("  --enterprise <id>        Enterprise id")
	fmt.Println("  --team <id>              Team id")
	fmt.Println("  --user <id>              User id (delete targets the user grant when set)")
	fmt.Println("  --org                    Treat as an organization-wide install")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  INSTALLSTORE_CONFIG      Config file path (default: installstore.yaml)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  installstore-admin seed")
	fmt.Println("  installstore-admin fetch --enterprise test-enterprise-id --org")
	fmt.Println("  installstore-admin delete --enterprise E001 --team T001 --user U001")
	fmt.Println()
}

func loadConfig() (*config.Config, error) {
	path := os.Getenv("INSTALLSTORE_CONFIG")
	if path == "" {
		path = "installstore.yaml"
	}
	return config.Load(path)
}

func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

// openStore opens the backend named in the config.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		return store.NewSQLiteStore(cfg.Storage.Path, cfg.Storage.RetainHistory)
	case config.BackendPostgres:
		return store.NewPostgresStore(ctx, cfg.Storage.DSN, cfg.Storage.RetainHistory)
	case config.BackendMemory:
		return store.NewMockStore(cfg.Storage.RetainHistory), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func openService(ctx context.Context) (*installation.Service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg)

	grants, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return installation.New(grants, cfg.App.ClientID, nil), nil
}

// scopeFlags parses the shared scope flags for fetch and delete.
func scopeFlags(name string, args []string) (*installation.Query, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	enterprise := fs.String("enterprise", "", "enterprise id")
	team := fs.String("team", "", "team id")
	user := fs.String("user", "", "user id")
	org := fs.Bool("org", false, "organization-wide install")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *enterprise == "" && *team == "" {
		return nil, fmt.Errorf("at least one of --enterprise or --team is required")
	}
	return &installation.Query{
		EnterpriseID:        *enterprise,
		TeamID:              *team,
		UserID:              *user,
		IsEnterpriseInstall: *org,
	}, nil
}

func cmdList() error {
	ctx := context.Background()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	grants, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer grants.Close()

	recs, err := grants.List(ctx)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("No grant records stored.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tKIND\tPARTITION\tENTERPRISE\tTEAM\tUSER\tAPP\tEXPIRES\tCREATED")
	for _, r := range recs {
		expires := "-"
		if !r.ExpiresAt.IsZero() {
			expires = r.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Sequence,
			r.Kind,
			orDash(r.Scope.PartitionID),
			orDash(r.Scope.EnterpriseID),
			orDash(r.Scope.TeamID),
			orDash(r.Scope.UserID),
			orDash(r.AppID),
			expires,
			r.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func cmdFetch(args []string) error {
	q, err := scopeFlags("fetch", args)
	if err != nil {
		return err
	}

	ctx := context.Background()
	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	inst, err := svc.FetchInstallation(ctx, q)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Println("Installation found")
	fmt.Printf("  app:                %s\n", orDash(inst.AppID))
	fmt.Printf("  enterprise:         %s\n", orDash(inst.EnterpriseID))
	fmt.Printf("  team:               %s\n", orDash(inst.TeamID))
	fmt.Printf("  enterprise install: %v\n", inst.IsEnterpriseInstall)
	printGrant("bot grant", inst.Bot)
	printGrant("user grant", inst.User)
	return nil
}

func printGrant(label string, g *installation.Grant) {
	if g == nil {
		fmt.Printf("  %s: none\n", label)
		return
	}
	expires := "never"
	if !g.ExpiresAt.IsZero() {
		expires = g.ExpiresAt.Format(time.RFC3339)
	}
	fmt.Printf("  %s: token %s, expires %s, scopes %v\n", label, redact(g.Token), expires, g.Scopes)
}

// redact keeps enough of a token to identify it without disclosing it.
func redact(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:8] + "****"
}

func cmdDelete(args []string) error {
	q, err := scopeFlags("delete", args)
	if err != nil {
		return err
	}

	ctx := context.Background()
	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.DeleteInstallation(ctx, q); err != nil {
		return err
	}

	if q.UserID != "" {
		color.Green("Deleted user grant records for user %s", q.UserID)
	} else {
		color.Green("Deleted bot grant records")
	}
	return nil
}

func cmdSeed() error {
	ctx := context.Background()
	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	inst := installation.NewOrgWideInstallation(time.Now().UTC().Add(12 * time.Hour))
	if err := svc.StoreInstallation(ctx, inst); err != nil {
		return err
	}

	color.Green("Seeded org-wide installation for enterprise %s", inst.EnterpriseID)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
