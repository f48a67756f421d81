package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/leadcrm/crm/internal/access"
	"github.com/leadcrm/crm/internal/auth"
	"github.com/leadcrm/crm/internal/db"
	"github.com/leadcrm/crm/internal/demo"
	"github.com/leadcrm/crm/internal/identity"
	"github.com/leadcrm/crm/internal/platform"
	"github.com/leadcrm/crm/internal/profile"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	// hash needs no database.
	if cmd == "hash" {
		if err := runHash(args); err != nil {
			log.Fatal().Err(err).Msg("hash failed")
		}
		return
	}

	_ = godotenv.Load()

	ctx := context.Background()

	dsn := strings.TrimSpace(os.Getenv("DB_DSN"))
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		log.Fatal().Msg("set DB_DSN or DATABASE_URL")
	}

	pool, err := db.NewPool(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("could not connect to database")
	}
	defer pool.Close()

	switch cmd {
	case "migrate":
		if err := db.Migrate(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("migrate failed")
		}
		log.Info().Msg("migrations applied")
	case "status":
		if err := db.MigrationStatus(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("status failed")
		}
	case "bootstrap-admin":
		if err := runBootstrapAdmin(ctx, pool, args); err != nil {
			log.Fatal().Err(err).Msg("bootstrap-admin failed")
		}
	case "demo":
		if err := runDemo(ctx, demo.NewService(platform.NewPGClient(pool)), args); err != nil {
			log.Fatal().Err(err).Msg("demo command failed")
		}
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "crmctl")
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  crmctl migrate")
	fmt.Fprintln(os.Stderr, "  crmctl status")
	fmt.Fprintln(os.Stderr, "  crmctl bootstrap-admin --email admin@example.com --password secret123 [--name \"Admin\"]")
	fmt.Fprintln(os.Stderr, "  crmctl demo create [--name \"Trade show\"]")
	fmt.Fprintln(os.Stderr, "  crmctl demo list [--limit 20]")
	fmt.Fprintln(os.Stderr, "  crmctl hash <password>")
}

func runHash(args []string) error {
	if len(args) < 1 {
		return errors.New("password required")
	}
	hash, err := auth.Hash(args[0])
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

// runBootstrapAdmin creates the first super admin. The identity and the
// profile share one id.
func runBootstrapAdmin(ctx context.Context, pool *pgxpool.Pool, args []string) error {
	fs := flag.NewFlagSet("bootstrap-admin", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		email    = fs.String("email", "", "login e-mail")
		password = fs.String("password", "", "initial password")
		name     = fs.String("name", "Administrator", "display name")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	addr := strings.ToLower(strings.TrimSpace(*email))
	if addr == "" || *password == "" {
		return errors.New("email and password are required")
	}
	if !auth.ValidPassword(*password) {
		return fmt.Errorf("password must have at least %d characters", auth.MinPasswordLength)
	}

	hash, err := auth.Hash(*password)
	if err != nil {
		return err
	}

	identities := identity.NewRepository(pool)
	ident, err := identities.Create(ctx, addr, hash, *name)
	if err != nil {
		return fmt.Errorf("create identity: %w", err)
	}

	created, err := profile.NewRepository(pool).Insert(ctx, access.Profile{
		ID:           ident.ID,
		Email:        addr,
		FullName:     *name,
		Role:         access.RoleAdmin,
		IsActive:     true,
		IsSuperAdmin: true,
	})
	if err != nil {
		if delErr := identities.Delete(ctx, ident.ID); delErr != nil {
			log.Error().Err(delErr).Str("user_id", ident.ID.String()).Msg("rollback identity failed")
		}
		return fmt.Errorf("create profile: %w", err)
	}

	log.Info().Str("user_id", created.ID.String()).Str("email", created.Email).Msg("super admin created")
	return nil
}

func runDemo(ctx context.Context, sessions *demo.Service, args []string) error {
	if len(args) < 1 {
		usage()
		return errors.New("demo subcommand required")
	}

	switch args[0] {
	case "create":
		fs := flag.NewFlagSet("demo create", flag.ContinueOnError)
		fs.SetOutput(os.Stderr)
		name := fs.String("name", "", "session name")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		s, err := sessions.Create(ctx, *name)
		if err != nil {
			return err
		}
		log.Info().Str("session_id", s.ID).Str("name", s.Name).Msg("demo session created")
		return nil
	case "list":
		fs := flag.NewFlagSet("demo list", flag.ContinueOnError)
		fs.SetOutput(os.Stderr)
		limit := fs.Int("limit", 20, "max sessions")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		list, err := sessions.List(ctx, *limit)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			log.Info().Msg("no demo sessions")
			return nil
		}
		for _, s := range list {
			log.Info().
				Str("session_id", s.ID).
				Str("name", s.Name).
				Time("created_at", s.CreatedAt).
				Msg("demo session")
		}
		return nil
	default:
		return fmt.Errorf("unknown demo subcommand %q", args[0])
	}
}
