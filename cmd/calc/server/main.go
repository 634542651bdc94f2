package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/astromechza/fieldsync/pkg/pageserver"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	fs := pflag.NewFlagSet("calc-server", pflag.ContinueOnError)
	addrVar := fs.String("addr", "localhost:8080", "the address to listen on")
	intervalVar := fs.Duration("interval", 2*time.Second, "how often live pages are checked for changes")
	targetVar := fs.Int("target-ops", 15, "the length of the simulated progress bar")
	debugVar := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	level := slog.LevelInfo
	if *debugVar {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	calc := newCalculator(*targetVar, time.Now)
	srv := pageserver.New(calc.root, pageserver.WithInterval(*intervalVar))
	calc.register(srv)

	r := srv.Router()
	r.Methods(http.MethodGet).Path("/state").HandlerFunc(calc.state)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
		signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
		sig := <-exit
		slog.Info("Signal caught", "sig", sig)
		cancel()
	}()

	return srv.Run(ctx, *addrVar, r)
}

// state reports the application values as json, for debugging.
func (c *calculator) state(writer http.ResponseWriter, request *http.Request) {
	out := map[string]any{
		"number_A":  c.numberA.Get(),
		"number_B":  c.numberB.Get(),
		"operation": c.operation.Get(),
		"progress":  c.currentOps(),
	}
	if result, err := c.answer(); err == nil {
		out["answer"] = result
	}
	writer.Header().Add("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(out); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}
