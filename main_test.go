package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaot623/paygate/internal/config"
	"github.com/xiaot623/paygate/internal/store"
)

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	tests := []struct {
		name   string
		modify func(cfg *config.Config)
		want   any
	}{
		{name: "memory", modify: func(cfg *config.Config) { cfg.StoreDriver = config.StoreMemory }, want: &store.MemoryStore{}},
		{name: "sqlite", modify: func(cfg *config.Config) {
			cfg.StoreDriver = config.StoreSQLite
			cfg.DatabaseURL = filepath.Join(t.TempDir(), "paygate.db")
		}, want: &store.SQLiteStore{}},
		{name: "redis", modify: func(cfg *config.Config) {
			cfg.StoreDriver = config.StoreRedis
			cfg.RedisAddr = mr.Addr()
		}, want: &store.RedisStore{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.modify(cfg)

			st, err := openStore(ctx, cfg)
			require.NoError(t, err)
			defer st.Close()
			assert.IsType(t, tt.want, st)
			assert.NoError(t, st.Ping(ctx))
		})
	}
}

func TestOpenStoreFailures(t *testing.T) {
	cfg := config.Default()
	cfg.StoreDriver = "etcd"
	_, err := openStore(context.Background(), cfg)
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	cfg.StoreDriver = config.StoreRedis
	cfg.RedisAddr = mr.Addr()
	mr.Close()
	_, err = openStore(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	assert.Subset(t, names, []string{"serve", "sweep", "chat"})
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}
