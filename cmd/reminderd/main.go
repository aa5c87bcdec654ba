package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"remindkit/internal/app"
	"remindkit/internal/config"
)

func main() {
	cfgPath := pflag.StringP("config", "c", "./reminderd.yaml", "path to config file (json or yaml)")
	envPath := pflag.String("env", ".env", "dotenv file loaded before the config")
	once := pflag.Bool("once", false, "run the startup pass, drain the inbox and exit")
	pflag.Parse()

	if err := config.LoadDotenv(*envPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal: load env:", err)
		os.Exit(1)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	code := run(ctx, a, *once, sigs)
	os.Exit(code)
}

func run(ctx context.Context, a *app.App, once bool, sigs <-chan os.Signal) int {
	stop := func(reason app.StopReason) {
		stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx, reason)
	}

	if _, err := a.Boot(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal boot:", err)
		stop(app.StopFatalError)
		return 1
	}
	if once {
		if _, err := a.DrainInbox(ctx); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(os.Stderr, "inbox:", err)
		}
		stop(app.StopOnce)
		return 0
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		stop(app.StopFatalError)
		return 1
	}

	select {
	case sig := <-sigs:
		reason := app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
		stop(reason)
		return 0
	case <-a.Done():
		err := a.Err()
		reason := app.StopUnknown
		if err != nil {
			reason = app.StopFatalError
			fmt.Fprintln(os.Stderr, "fatal:", err)
		}
		stop(reason)
		if err != nil {
			return 1
		}
		return 0
	}
}
