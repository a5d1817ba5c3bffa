// Command apikey manages organization API keys directly against the database.
//
//	apikey create -org acme [-name mobile] [-ttl 720h]
//	apikey list -org acme
//	apikey revoke -id <key id>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/tenantauth/internal/app"
	"github.com/charlesng35/tenantauth/internal/database"
	"github.com/charlesng35/tenantauth/internal/models"
	"github.com/charlesng35/tenantauth/internal/services"
)

const usage = "usage: apikey <create|list|revoke> [flags]"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	config string
	org    string
	name   string
	id     string
	ttl    time.Duration
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	command := args[0]

	fs := flag.NewFlagSet("apikey "+command, flag.ContinueOnError)
	fs.SetOutput(out)

	var opts options
	fs.StringVar(&opts.config, "config", "", "Path to configuration file")
	fs.StringVar(&opts.org, "org", "", "Organization name; created on first use")
	fs.StringVar(&opts.name, "name", "", "Label for the new key")
	fs.StringVar(&opts.id, "id", "", "Key identifier to revoke")
	fs.DurationVar(&opts.ttl, "ttl", 0, "Key lifetime; zero never expires")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	db, err := openDatabase(opts.config)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close(db) }()

	audit, err := services.NewAuditService(db)
	if err != nil {
		return err
	}
	orgs, err := services.NewOrganizationService(db, audit)
	if err != nil {
		return err
	}

	switch command {
	case "create":
		return createKey(ctx, orgs, opts, out)
	case "list":
		return listKeys(ctx, orgs, opts, out)
	case "revoke":
		if strings.TrimSpace(opts.id) == "" {
			return errors.New("revoke: -id is required")
		}
		if err := orgs.RevokeAPIKey(ctx, opts.id); err != nil {
			return err
		}
		fmt.Fprintf(out, "revoked %s\n", opts.id)
		return nil
	default:
		return fmt.Errorf("unknown command %q; %s", command, usage)
	}
}

func openDatabase(configPath string) (*gorm.DB, error) {
	var (
		cfg *app.Config
		err error
	)
	if configPath != "" {
		cfg, err = app.LoadConfigFile(configPath)
	} else {
		cfg, err = app.LoadConfig()
	}
	if err != nil {
		return nil, err
	}

	auth := authFor(cfg)
	db, err := database.Open(database.Config{
		Driver:   cfg.Database.Driver,
		Path:     cfg.Database.Path,
		DSN:      cfg.Database.DSN,
		Host:     auth.Host,
		Port:     auth.Port,
		Name:     auth.Database,
		User:     auth.Username,
		Password: auth.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func authFor(cfg *app.Config) app.DBAuthConfig {
	if strings.EqualFold(cfg.Database.Driver, "mysql") {
		return cfg.Database.MySQL
	}
	return cfg.Database.Postgres
}

func resolveOrganization(ctx context.Context, orgs *services.OrganizationService, name string, create bool) (*models.Organization, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("-org is required")
	}
	org, err := orgs.GetByName(ctx, name)
	if errors.Is(err, services.ErrOrganizationNotFound) && create {
		return orgs.Create(ctx, services.CreateOrganizationInput{Name: name})
	}
	return org, err
}

func createKey(ctx context.Context, orgs *services.OrganizationService, opts options, out io.Writer) error {
	org, err := resolveOrganization(ctx, orgs, opts.org, true)
	if err != nil {
		return err
	}

	input := services.CreateAPIKeyInput{Name: opts.name}
	if opts.ttl > 0 {
		expires := time.Now().UTC().Add(opts.ttl)
		input.ExpiresAt = &expires
	}

	issued, err := orgs.CreateAPIKey(ctx, org.ID, input)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "organization: %s (%s)\n", org.Name, org.ID)
	fmt.Fprintf(out, "key id:       %s\n", issued.Record.ID)
	fmt.Fprintf(out, "api key:      %s\n", issued.Key)
	fmt.Fprintln(out, "Store the key now; it cannot be shown again.")
	return nil
}

func listKeys(ctx context.Context, orgs *services.OrganizationService, opts options, out io.Writer) error {
	org, err := resolveOrganization(ctx, orgs, opts.org, false)
	if err != nil {
		return err
	}
	keys, err := orgs.ListAPIKeys(ctx, org.ID)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPREFIX\tEXPIRES\tREVOKED")
	for _, key := range keys {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", key.ID, key.Name, key.Prefix, formatTime(key.ExpiresAt), strconv.FormatBool(key.Revoked))
	}
	return tw.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
