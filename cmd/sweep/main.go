// Command sweep runs one maintenance pass and exits.  It is meant for
// schedulers that execute a container instead of calling the HTTP cron
// endpoints.
//
//	sweep -job auto-cancel
//	sweep -job send-reminders -timeout 2m
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iliyamo/community-amenity-booking/internal/app"
	"github.com/iliyamo/community-amenity-booking/internal/config"
	"github.com/iliyamo/community-amenity-booking/internal/utils"
)

func main() {
	job := flag.String("job", "auto-cancel", "auto-cancel | send-reminders | all")
	timeout := flag.Duration("timeout", 5*time.Minute, "maximum run time")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := app.NewLogger(cfg.Env).With("job", *job)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()

	err = utils.RunWithTimeout(ctx, *timeout, func(ctx context.Context) error {
		return run(ctx, a, *job)
	})
	if err != nil {
		logger.Error("sweep failed", "err", err)
		a.Close()
		os.Exit(1)
	}
	logger.Info("sweep completed")
}

func run(ctx context.Context, a *app.App, job string) error {
	enc := json.NewEncoder(os.Stdout)
	switch job {
	case "auto-cancel":
		rep, err := a.Sweeper.AutoCancel(ctx)
		if err != nil {
			return err
		}
		return enc.Encode(rep)
	case "send-reminders":
		rep, err := a.Sweeper.SendReminders(ctx)
		if err != nil {
			return err
		}
		return enc.Encode(rep)
	case "all":
		if err := run(ctx, a, "auto-cancel"); err != nil {
			return err
		}
		return run(ctx, a, "send-reminders")
	}
	return fmt.Errorf("unknown job %q", job)
}
