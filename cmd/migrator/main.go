package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"memberauth/internal/config"
	"memberauth/internal/domain/models"
	"memberauth/internal/storage/mongodb"
	"memberauth/internal/storage/postgres"
	"memberauth/internal/storage/sqlite"
	"memberauth/migrations"
)

type termsWriter interface {
	SeedTerms(ctx context.Context) error
	PublishTerms(ctx context.Context, typ models.TermsType, version int) (int64, error)
}

type options struct {
	seed    bool
	publish *termsVersion
}

func (o options) writesTerms() bool {
	return o.seed || o.publish != nil
}

type termsVersion struct {
	typ     models.TermsType
	version int
}

// parseTermsVersion reads TYPE:VERSION, e.g. PRIVACY:2.
func parseTermsVersion(v string) (*termsVersion, error) {
	typ, ver, ok := strings.Cut(v, ":")
	if !ok {
		return nil, fmt.Errorf("terms %q: want TYPE:VERSION", v)
	}

	n, err := strconv.Atoi(ver)
	if err != nil || n < 1 {
		return nil, fmt.Errorf("terms %q: version must be a positive number", v)
	}

	for _, t := range models.AllTermsTypes {
		if string(t) == strings.ToUpper(typ) {
			return &termsVersion{typ: t, version: n}, nil
		}
	}

	return nil, fmt.Errorf("terms %q: unknown type %q", v, typ)
}

func main() {
	var configPath string
	var seed bool
	var publish string
	flag.StringVar(&configPath, "config", "", "path to config file (or use CONFIG_PATH env)")
	flag.BoolVar(&seed, "seed", false, "publish version 1 of every terms type")
	flag.StringVar(&publish, "publish", "", "publish a new terms version, e.g. PRIVACY:2")
	flag.Parse()

	opts := options{seed: seed}
	if publish != "" {
		tv, err := parseTermsVersion(publish)
		if err != nil {
			log.Fatal(err)
		}
		opts.publish = tv
	}

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath == "" {
		log.Fatal("config path is required")
	}

	cfg := config.MustLoadPath(configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, cfg, opts); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	fmt.Println("Database initialization completed successfully")
}

func run(ctx context.Context, cfg *config.Config, opts options) error {
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		if err := migrate(migrations.DialectSQLite, migrations.SQLiteURL(cfg.Storage.SQLitePath)); err != nil {
			return err
		}
		if !opts.writesTerms() {
			return nil
		}
		s, err := sqlite.New(cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		defer s.Close()
		return writeTerms(ctx, s, opts)

	case config.DriverPostgres:
		if cfg.Storage.PostgresDSN == "" {
			return errors.New("postgres_dsn is empty")
		}
		if err := migrate(migrations.DialectPostgres, migrations.PostgresURL(cfg.Storage.PostgresDSN)); err != nil {
			return err
		}
		if !opts.writesTerms() {
			return nil
		}
		s, err := postgres.New(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return err
		}
		defer s.Close()
		return writeTerms(ctx, s, opts)

	case config.DriverMongo:
		log.Println("Connecting to MongoDB...")
		s, err := mongodb.New(ctx, cfg.Storage.Mongo.URI, cfg.Storage.Mongo.Database)
		if err != nil {
			return err
		}
		defer s.Close(ctx)
		log.Println("MongoDB connected, indexes created successfully")
		if !opts.writesTerms() {
			return nil
		}
		return writeTerms(ctx, s, opts)
	}

	return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

func migrate(dialect, url string) error {
	applied, err := migrations.Up(dialect, url)
	if err != nil {
		return err
	}
	if !applied {
		log.Println("no migrations to apply")
		return nil
	}
	log.Println("migrations applied successfully")
	return nil
}

func writeTerms(ctx context.Context, s termsWriter, opts options) error {
	if opts.seed {
		log.Println("Seeding terms...")
		if err := s.SeedTerms(ctx); err != nil {
			return fmt.Errorf("seed terms: %w", err)
		}
		log.Println("Terms seeded (version 1 of every type)")
	}

	if tv := opts.publish; tv != nil {
		id, err := s.PublishTerms(ctx, tv.typ, tv.version)
		if err != nil {
			return fmt.Errorf("publish terms: %w", err)
		}
		log.Printf("Terms %s version %d published (id %d)", tv.typ, tv.version, id)
	}

	return nil
}
