package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/alignex/entitlements/pkg/licensing"
	"github.com/alignex/entitlements/pkg/observability"
)

var log = logrus.New()

func usage() {
	fmt.Fprintf(os.Stderr, `entitlements-admin - operate the AlignEx entitlements store

Usage:
  entitlements-admin <command> [flags]

Commands:
  migrate          run database migrations
  seed             provision module records for an organization
  assign           assign a license to a user
  set-module       activate or deactivate a module for an organization
  set-rule         set a (tier, action) permission rule
  report-expiring  list active modules past their expiry date

Common flags:
  -driver   database driver: postgres or sqlite3 (default "postgres")
  -db       database URL or path
`)
}

func main() {
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	command := os.Args[1]
	args := os.Args[2:]

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var err error
	switch command {
	case "migrate":
		err = runMigrate(ctx, args)
	case "seed":
		err = runSeed(ctx, args)
	case "assign":
		err = runAssign(ctx, args)
	case "set-module":
		err = runSetModule(ctx, args)
	case "set-rule":
		err = runSetRule(ctx, args)
	case "report-expiring":
		err = runReportExpiring(ctx, args)
	case "help", "-h", "--help":
		usage()
		return
	default:
		log.Errorf("unknown command: %s", command)
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.WithError(err).Fatal(command + " failed")
	}
}

func dbFlags(fs *flag.FlagSet) (*string, *string) {
	driver := fs.String("driver", "postgres", "database driver: postgres or sqlite3")
	url := fs.String("db", os.Getenv("ALIGNEX_DB_URL"), "database URL or path")
	return driver, url
}

func openDB(driver, url string) (*sql.DB, error) {
	if url == "" {
		return nil, fmt.Errorf("database URL is required (-db or ALIGNEX_DB_URL)")
	}
	db, err := sql.Open(driver, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func newStore(db *sql.DB) *licensing.Store {
	return licensing.NewStore(db, observability.NewLogger(observability.ErrorLevel, io.Discard), nil)
}

func runMigrate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	driver, url := dbFlags(fs)
	fs.Parse(args)

	db, err := openDB(*driver, *url)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := licensing.RunMigrations(ctx, db, *driver); err != nil {
		return err
	}
	log.Info("migrations applied")
	return nil
}

func runSeed(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	driver, url := dbFlags(fs)
	org := fs.String("org", "", "organization identity")
	fs.Parse(args)

	if *org == "" {
		return fmt.Errorf("-org is required")
	}
	db, err := openDB(*driver, *url)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := licensing.ProvisionOrgModules(ctx, db, *org); err != nil {
		return err
	}
	log.WithField("org", *org).Info("module records provisioned")
	return nil
}

func runAssign(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("assign", flag.ExitOnError)
	driver, url := dbFlags(fs)
	user := fs.String("user", "", "user email")
	org := fs.String("org", "", "organization identity")
	tierStr := fs.String("tier", "team_member", "license tier")
	notes := fs.String("notes", "", "free-text notes")
	fs.Parse(args)

	if *user == "" || *org == "" {
		return fmt.Errorf("-user and -org are required")
	}
	tier, err := licensing.ParseTier(*tierStr)
	if err != nil {
		return err
	}
	db, err := openDB(*driver, *url)
	if err != nil {
		return err
	}
	defer db.Close()

	lic, err := newStore(db).AssignLicense(ctx, *user, *org, tier, *notes)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"user": lic.UserEmail,
		"org":  lic.OrgID,
		"tier": lic.Tier,
	}).Info("license assigned")
	return nil
}

func runSetModule(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("set-module", flag.ExitOnError)
	driver, url := dbFlags(fs)
	org := fs.String("org", "", "organization identity")
	moduleStr := fs.String("module", "", "module key")
	active := fs.Bool("active", true, "activate or deactivate")
	licenseKey := fs.String("license-key", "", "optional license key")
	expires := fs.String("expires", "", "optional expiry date (YYYY-MM-DD)")
	fs.Parse(args)

	if *org == "" {
		return fmt.Errorf("-org is required")
	}
	module, err := licensing.ParseModuleKey(*moduleStr)
	if err != nil {
		return err
	}

	record := licensing.OrgModule{
		OrgID:      *org,
		Module:     module,
		Active:     *active,
		LicenseKey: *licenseKey,
	}
	if *active {
		now := time.Now().UTC()
		record.ActivatedAt = &now
	}
	if *expires != "" {
		expiry, err := time.Parse("2006-01-02", *expires)
		if err != nil {
			return fmt.Errorf("invalid expiry date: %w", err)
		}
		record.ExpiresAt = &expiry
	}

	db, err := openDB(*driver, *url)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := newStore(db).UpsertModule(ctx, record); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"org":    *org,
		"module": module,
		"active": *active,
	}).Info("module updated")
	log.Warn("running service instances serve cached decisions for up to the cache TTL")
	return nil
}

func runSetRule(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("set-rule", flag.ExitOnError)
	driver, url := dbFlags(fs)
	tierStr := fs.String("tier", "", "license tier")
	actionStr := fs.String("action", "", "action key")
	allow := fs.Bool("allow", false, "allow or deny")
	fs.Parse(args)

	tier, err := licensing.ParseTier(*tierStr)
	if err != nil {
		return err
	}
	action, err := licensing.ParseAction(*actionStr)
	if err != nil {
		return err
	}

	db, err := openDB(*driver, *url)
	if err != nil {
		return err
	}
	defer db.Close()

	rule := licensing.PermissionRule{Tier: tier, Action: action, CanExecute: *allow}
	if err := newStore(db).UpsertRule(ctx, rule); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"tier":   tier,
		"action": action,
		"allow":  *allow,
	}).Info("rule updated")
	return nil
}

func runReportExpiring(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("report-expiring", flag.ExitOnError)
	driver, url := dbFlags(fs)
	fs.Parse(args)

	db, err := openDB(*driver, *url)
	if err != nil {
		return err
	}
	defer db.Close()

	expired, err := newStore(db).ListExpiredModules(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		log.Info("no active modules past expiry")
		return nil
	}
	for _, m := range expired {
		log.WithFields(logrus.Fields{
			"org":        m.OrgID,
			"module":     m.Module,
			"expires_at": m.ExpiresAt.Format("2006-01-02"),
		}).Warn("module past expiry but still active")
	}
	return nil
}
