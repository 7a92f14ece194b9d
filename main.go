package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/xiaot623/paygate/internal/config"
	"github.com/xiaot623/paygate/internal/log"
	"github.com/xiaot623/paygate/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command
func newRootCmd() *cobra.Command {
	// Subcommands share cfg; it is filled in before any of them runs.
	cfg := config.Default()

	rootCmd := &cobra.Command{
		Use:           "paygate",
		Short:         "paygate - payment-gated research agent gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if path, _ := cmd.Flags().GetString("config"); path != "" {
				if err := os.Setenv("PAYGATE_CONFIG", path); err != nil {
					return err
				}
			}
			loaded, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			*cfg = *loaded
			log.Configure(log.Config{Level: cfg.LogLevel})
			return nil
		},
	}
	rootCmd.AddCommand(newServeCmd(cfg))
	rootCmd.AddCommand(newSweepCmd(cfg))
	rootCmd.AddCommand(newChatCmd())

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "YAML configuration file (overrides PAYGATE_CONFIG)")

	return rootCmd
}

const storeOpenTimeout = 5 * time.Second

// openStore opens the store selected by cfg.StoreDriver.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		return store.NewMemoryStore(), nil
	case config.StoreSQLite:
		return store.NewSQLiteStore(cfg.DatabaseURL)
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		st := store.NewRedisStore(client)
		pingCtx, cancel := context.WithTimeout(ctx, storeOpenTimeout)
		defer cancel()
		if err := st.Ping(pingCtx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
