package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/danthegoodman1/strata/crdb"
	"github.com/danthegoodman1/strata/exec"
	"github.com/danthegoodman1/strata/gologger"
	"github.com/danthegoodman1/strata/http_server"
	"github.com/danthegoodman1/strata/metastore"
	"github.com/danthegoodman1/strata/migrations"
	"github.com/danthegoodman1/strata/partstore"
	"github.com/danthegoodman1/strata/utils"
)

var logger = gologger.NewLogger()

func main() {
	logger.Debug().Msg("starting strata dataset service")

	if err := crdb.ConnectToDB(); err != nil {
		logger.Error().Err(err).Msg("error connecting to CRDB")
		os.Exit(1)
	}

	err := migrations.CheckMigrations(utils.CRDB_DSN)
	if err != nil {
		logger.Error().Err(err).Msg("Error checking migrations")
		os.Exit(1)
	}

	ms, err := metastore.NewCRDBMetaStore()
	if err != nil {
		logger.Error().Err(err).Msg("error creating metastore")
		os.Exit(1)
	}

	var ps partstore.PartStore
	if utils.S3_BUCKET_NAME != "" {
		ps, err = partstore.NewS3PartStore("datasets")
	} else {
		ps, err = partstore.NewDiskPartStore(utils.PART_STORE_PATH)
	}
	if err != nil {
		logger.Error().Err(err).Msg("error creating part store")
		os.Exit(1)
	}

	parallelism := int(utils.GetEnvOrDefaultInt("PARALLELISM", int64(runtime.NumCPU())))
	rt, err := exec.NewLocalRuntime(parallelism)
	if err != nil {
		logger.Error().Err(err).Msg("error creating local runtime")
		os.Exit(1)
	}

	httpServer := http_server.StartHTTPServer(ms, ps, rt)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	logger.Warn().Msg("received shutdown signal!")

	// For AWS ALB needing some time to de-register pod
	sleepTime := utils.GetEnvOrDefaultInt("SHUTDOWN_SLEEP_SEC", 0)
	logger.Info().Msg(fmt.Sprintf("sleeping for %ds before exiting", sleepTime))

	time.Sleep(time.Second * time.Duration(sleepTime))
	logger.Info().Msg(fmt.Sprintf("slept for %ds, exiting", sleepTime))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown HTTP server")
	} else {
		logger.Info().Msg("successfully shutdown HTTP server")
	}
	rt.Shutdown()
}
