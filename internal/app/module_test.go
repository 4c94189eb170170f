package app

import (
	"net/http"
	"testing"

	"skillswap-chat/internal/repository"
	"skillswap-chat/pkg/config"
	"skillswap-chat/pkg/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

func setupConfig(t *testing.T) {
	require.NoError(t, config.InitTest())
	config.GlobalConfig.Database.Driver = "memory"
	config.GlobalConfig.Server.Addr = "127.0.0.1:0"
	config.GlobalConfig.File.StoragePath = t.TempDir()
}

func TestModule_Validates(t *testing.T) {
	setupConfig(t)
	require.NoError(t, fx.ValidateApp(Module()))
}

func TestModule_StartsAndStops(t *testing.T) {
	setupConfig(t)

	var srv *http.Server
	app := fxtest.New(t, Module(), fx.Populate(&srv))
	app.RequireStart()
	assert.NotNil(t, srv.Handler)
	app.RequireStop()
}

func TestProvideStores(t *testing.T) {
	setupConfig(t)
	lc := fxtest.NewLifecycle(t)

	stores, err := provideStores(lc)
	require.NoError(t, err)
	_, ok := stores.Messages.(*repository.MemoryStore)
	assert.True(t, ok)

	config.GlobalConfig.Database.Driver = "postgres"
	_, err = provideStores(lc)
	assert.Error(t, err)

	config.GlobalConfig.Database.Driver = "sqlite"
	stores, err = provideStores(lc)
	require.NoError(t, err)
	_, ok = stores.Messages.(*repository.BreakerStore)
	assert.True(t, ok)
	t.Cleanup(func() { _ = db.Close() })
}
