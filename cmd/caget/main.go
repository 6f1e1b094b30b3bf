package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/rcardenes/epics-tools/internal/app"
	"github.com/rcardenes/epics-tools/internal/bus"
	"github.com/rcardenes/epics-tools/internal/ca"
	"github.com/rcardenes/epics-tools/internal/config"
	"github.com/rcardenes/epics-tools/internal/fetch"
	"github.com/rcardenes/epics-tools/internal/history"
	"github.com/rcardenes/epics-tools/internal/logging"
	"github.com/rcardenes/epics-tools/internal/pv"
)

func main() {
	if err := run(); err != nil {
		slog.Error("run caget", "error", err)
		os.Exit(1)
	}
}

func run() error {
	waitSec := flag.Float64("w", 1.0, "wait time in seconds, bounds the CA connect deadline")
	asyncGet := flag.Bool("c", false, "asynchronous get: best-effort, completion order")
	terse := flag.Bool("t", false, "terse mode, print only the value")
	wide := flag.Bool("a", false, "wide mode, print name, timestamp and value")
	useHistory := flag.Bool("history", false, "record fetched values in the local history db")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s caget %s\n", app.Name, app.BuildVersionWithDate())
		return nil
	}

	names := flag.Args()
	if len(names) == 0 {
		return errors.New("usage: caget [-w sec] [-c] [-t] [-a] <PV> [PV...]")
	}

	display, err := displayConfig(*waitSec, *asyncGet, *terse, *wide)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths, err := app.ResolvePaths()
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() {
		if closeErr := logMgr.Close(); closeErr != nil {
			slog.Warn("close log manager", "error", closeErr)
		}
	}()
	logger := logMgr.Logger("caget")

	b := bus.New(logMgr.Logger("bus"))

	var (
		histWait   func()
		histCancel context.CancelFunc
		writer     *history.WriterQueue
		closeDB    func()
	)
	if *useHistory || cfg.History.Enabled {
		db, err := history.Open(ctx, paths.HistoryFile)
		if err != nil {
			return fmt.Errorf("open history db: %w", err)
		}
		closeDB = func() {
			if closeErr := db.Close(); closeErr != nil {
				logger.Warn("close history db", "error", closeErr)
			}
		}
		repo := history.NewFetchRepo(db)
		writer = history.NewWriterQueue(logMgr.Logger("history"), 256)
		var histCtx context.Context
		histCtx, histCancel = context.WithCancel(ctx)
		defer histCancel()
		writer.Start(histCtx)
		histWait = history.StartHistorySync(histCtx, b, writer, repo, uuid.NewString())
	}

	cactx, err := ca.NewContext(ctx, logMgr.Logger("ca"), cfg.Network.AddrList, cfg.Network.ServerPort)
	if err != nil {
		return err
	}
	defer cactx.Close()

	orch := fetch.New(logMgr.Logger("fetch"), b)
	channels, openErrs := orch.Open(fetch.OpenerFor(cactx), names)
	if len(channels) == 0 {
		return fmt.Errorf("no channels could be opened (%d name(s) failed)", len(openErrs))
	}

	records, dropped, err := orch.Fetch(ctx, channels, display)
	if err != nil {
		return err
	}
	for _, rec := range records {
		fmt.Println(pv.Format(rec, display))
	}
	if len(dropped) > 0 {
		logger.Warn("batch incomplete", "dropped", len(dropped), "returned", len(records))
	}

	// Flush in order: bus delivery, history sync, writer queue, database.
	b.Close()
	if histWait != nil {
		histWait()
	}
	if histCancel != nil {
		histCancel()
	}
	if writer != nil {
		writer.Wait()
	}
	if closeDB != nil {
		closeDB()
	}

	return nil
}

// displayConfig validates the output flags. The wait time must be a positive
// real number of seconds.
func displayConfig(waitSec float64, async, terse, wide bool) (config.DisplayConfig, error) {
	display := config.DefaultDisplay()
	display.WaitTime = time.Duration(waitSec * float64(time.Second))
	display.Asynchronous = async
	display.Terse = terse
	display.Wide = wide
	if err := display.Validate(); err != nil {
		return config.DisplayConfig{}, err
	}
	return display, nil
}
