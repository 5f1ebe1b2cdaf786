// Package main provides a CLI tool for seeding the database with the tax
// catalog, demo orders and an operator token.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"paydesk/internal/config"
	"paydesk/internal/domain/auth"
	"paydesk/internal/domain/wtax"
	"paydesk/internal/infrastructure/storage/postgres"
	"paydesk/internal/infrastructure/storage/postgres/catalog_repo"
	"paydesk/migrations"
	"paydesk/pkg/logger"
)

func main() {
	configFile := flag.String("config", "", "optional YAML config file")
	demo := flag.Bool("demo", os.Getenv("SEED_DEMO_DATA") == "true", "insert demo orders")
	operator := flag.String("operator", envOr("SEED_OPERATOR_ID", "cashier-1"), "operator id for the printed token")
	name := flag.String("name", envOr("SEED_OPERATOR_NAME", "Front Desk"), "operator display name")
	roles := flag.String("roles", envOr("SEED_OPERATOR_ROLES", "cashier"), "comma separated roles")
	flag.Parse()

	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: true,
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalw("failed to load config", "error", err)
	}
	if cfg.Database.DSN == "" {
		log.Fatal("database.dsn (DATABASE_DSN) is required")
	}

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(cfg.Database.DSN))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	log.Info("connected to database")

	applied, err := postgres.NewMigrator(pool, migrations.FS).Run(ctx)
	if err != nil {
		log.Fatalw("failed to apply migrations", "error", err)
	}
	log.Infow("migrations applied", "count", applied)

	txm := postgres.NewTxManager(pool)
	if err := seedTaxCatalog(ctx, txm, pool, log); err != nil {
		log.Fatalw("failed to seed tax catalog", "error", err)
	}

	if *demo {
		if err := seedDemoOrders(ctx, pool, log); err != nil {
			log.Fatalw("failed to seed demo orders", "error", err)
		}
	}

	jwtConfig := auth.DefaultJWTConfig(cfg.JWT.Secret)
	jwtConfig.Issuer = cfg.JWT.Issuer
	jwtConfig.AccessTokenTTL = cfg.JWT.TokenTTL
	token, expires, err := auth.NewJWTService(jwtConfig).
		GenerateAccessToken(*operator, *name, splitRoles(*roles))
	if err != nil {
		log.Fatalw("failed to issue operator token", "error", err)
	}
	log.Infow("operator token issued", "operator_id", *operator, "expires_at", expires)
	fmt.Println(token)

	log.Info("seeding completed successfully")
}

func seedTaxCatalog(ctx context.Context, txm *postgres.TxManager, pool *postgres.Pool, log *logger.Logger) error {
	repo := catalog_repo.NewTaxTypeRepo(txm)
	for _, t := range wtax.DefaultTaxTypes() {
		if err := repo.Upsert(ctx, t); err != nil {
			return fmt.Errorf("upsert tax type %s: %w", t.Code, err)
		}
	}

	// An operator-edited VAT rate survives re-seeding.
	_, err := pool.Exec(ctx, `
		INSERT INTO control_settings (key, value)
		VALUES ('vat_rate', $1)
		ON CONFLICT (key) DO NOTHING
	`, wtax.DefaultVATRate.String())
	if err != nil {
		return fmt.Errorf("seed vat rate: %w", err)
	}

	log.Infow("tax catalog seeded", "types", len(wtax.DefaultTaxTypes()))
	return nil
}

func seedDemoOrders(ctx context.Context, pool *postgres.Pool, log *logger.Logger) error {
	orders := []struct {
		id       int64
		customer string
		total    string
	}{
		{1001, "Northside Printing Co.", "1500.00"},
		{1002, "Harbor Events", "2750.50"},
		{1003, "St. Jude Parish", "980.00"},
		{1004, "Metro Realty", "12400.00"},
		{1005, "Lim Family", "640.25"},
	}

	for _, o := range orders {
		_, err := pool.Exec(ctx, `
			INSERT INTO orders (order_id, customer, grand_total, amount_paid)
			VALUES ($1, $2, $3::numeric, 0)
			ON CONFLICT (order_id) DO NOTHING
		`, o.id, o.customer, o.total)
		if err != nil {
			log.Warnw("failed to seed order", "order_id", o.id, "error", err)
		}
	}

	log.Infow("demo orders seeded", "count", len(orders))
	return nil
}

func splitRoles(s string) []string {
	var out []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
