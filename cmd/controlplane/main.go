package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloq-dev/cloq/api/artifacthandler"
	"github.com/cloq-dev/cloq/api/servers"
	"github.com/cloq-dev/cloq/cmd/flags"
	"github.com/cloq-dev/cloq/interfaces"
	"github.com/cloq-dev/cloq/storage"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
)

var flagListenAddr = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

var flagStorage = &cli.StringSliceFlag{
	Name:  "storage",
	Value: cli.NewStringSlice("file://./cloq-data"),
	Usage: "storage backend URI (file://, s3://, ipfs://, vault://, badger://); repeat to replicate",
}

var flagCatalogDB = &cli.StringFlag{
	Name:  "catalog-db",
	Value: "cloq-catalog.db",
	Usage: "SQLite catalog path, ':memory:' for a transient SQLite catalog, or empty for an in-process map",
}

var flagConfig = &cli.StringFlag{
	Name:  "config",
	Usage: "YAML file with values for any of the flags above",
}

var flagList []cli.Flag = []cli.Flag{
	altsrc.NewStringFlag(flagListenAddr),
	altsrc.NewStringSliceFlag(flagStorage),
	altsrc.NewStringFlag(flagCatalogDB),
	altsrc.NewInt64Flag(flags.MaxArtifactSizeFlag),
	altsrc.NewBoolFlag(flags.LogJsonFlag),
	altsrc.NewBoolFlag(flags.LogDebugFlag),
	altsrc.NewBoolFlag(flags.LogUidFlag),
	altsrc.NewStringFlag(flags.LogServiceFlagFn("cloq-controlplane")),
	altsrc.NewBoolFlag(flags.PprofFlag),
	altsrc.NewInt64Flag(flags.DrainSecondsFlag),
	altsrc.NewStringFlag(flags.MetricsAddrFlag),
	flagConfig,
}

// storageLocations parses every --storage URI.
func storageLocations(uris []string) ([]interfaces.StorageBackendLocation, error) {
	if len(uris) == 0 {
		return nil, fmt.Errorf("%w: at least one storage URI is required", interfaces.ErrInvalidLocationURI)
	}
	locations := make([]interfaces.StorageBackendLocation, 0, len(uris))
	for _, uri := range uris {
		location, err := interfaces.NewStorageBackendLocation(uri)
		if err != nil {
			return nil, err
		}
		locations = append(locations, location)
	}
	return locations, nil
}

func openCatalog(dsn string) (interfaces.ArtifactCatalog, error) {
	if dsn == "" {
		return storage.NewMemoryCatalog(), nil
	}
	return storage.NewSQLiteCatalog(dsn)
}

func main() {
	app := &cli.App{
		Name:   "cloq-controlplane",
		Usage:  "Store and serve sealed artifacts without ever seeing their keys",
		Flags:  flagList,
		Before: altsrc.InitInputSourceWithContext(flagList, altsrc.NewYamlSourceFromFlagFunc(flagConfig.Name)),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)
			cfg := flags.ConfigureServer(cCtx, logger, cCtx.String(flagListenAddr.Name))

			locations, err := storageLocations(cCtx.StringSlice(flagStorage.Name))
			if err != nil {
				logger.Error("Invalid storage configuration", "err", err)
				return err
			}
			for _, location := range locations {
				logger.Info("Configuring storage backend", "location", location.String())
			}

			backend, err := storage.NewStorageBackendFactory(logger).CreateMultiBackend(locations)
			if err != nil {
				logger.Error("Failed to create storage backends", "err", err)
				return err
			}

			catalog, err := openCatalog(cCtx.String(flagCatalogDB.Name))
			if err != nil {
				logger.Error("Failed to open catalog", "err", err)
				return err
			}
			defer catalog.Close()

			store := storage.NewStore(backend, catalog, logger)
			handler := artifacthandler.NewHandler(store, cfg.MaxArtifactSize, logger)

			server, err := servers.New(cfg, handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server", "listenAddr", cfg.ListenAddr, "maxArtifactSize", cfg.MaxArtifactSize)
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
