package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/pflag"

	"github.com/astromechza/fieldsync/pkg/action"
	"github.com/astromechza/fieldsync/pkg/config"
	"github.com/astromechza/fieldsync/pkg/live"
	"github.com/astromechza/fieldsync/pkg/page"
	"github.com/astromechza/fieldsync/pkg/update"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	fs := pflag.NewFlagSet("calc-client", pflag.ContinueOnError)
	configVar := fs.String("config", "", "path to a yaml config file")
	baseURLVar := fs.String("base-url", "", "the server to talk to, overrides the config")
	pageVar := fs.String("page", "", "the page id to follow, overrides the config")
	transportVar := fs.String("transport", "", "sse or websocket, overrides the config")
	watchVar := fs.Duration("watch", 5*time.Second, "how long to follow live updates after the edits, 0 waits for a signal")
	setVar := fs.StringArray("set", nil, "a field edit as id=type:value, may be repeated")
	pressVar := fs.StringArray("press", nil, "a button to press as id or id=action, may be repeated")
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
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})).With("instance", ulid.Make().String()))

	cfg, err := config.Load(*configVar)
	if err != nil {
		return err
	}
	if fs.Changed("base-url") {
		cfg.BaseURL = *baseURLVar
	}
	if fs.Changed("page") {
		cfg.PageID = *pageVar
	}
	if fs.Changed("transport") {
		cfg.Live.Transport = *transportVar
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	requests, err := parseRequests(*setVar, *pressVar)
	if err != nil {
		return err
	}

	p := newCalcPage()
	applier := update.NewApplier(p, update.WithNotifier(page.NotifierFunc(func(message string) {
		_, _ = fmt.Fprintln(os.Stderr, "alert:", message)
	})))
	actions, err := action.NewClient(cfg.BaseURL, applier, cfg.ActionOptions()...)
	if err != nil {
		return err
	}
	updates, err := live.NewClient(cfg.BaseURL, applier, cfg.LiveOptions()...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
		signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
		sig := <-exit
		slog.Info("Signal caught", "sig", sig)
		cancel()
	}()

	conn, err := updates.Open(ctx, cfg.PageID)
	if err != nil {
		return fmt.Errorf("failed to open live updates: %w", err)
	}

	for _, r := range requests {
		if err := actions.Dispatch(ctx, r.origin, r.request); err != nil {
			slog.Error("failed to dispatch", "field", r.origin, "err", err)
		}
	}

	var timeout <-chan time.Time
	if *watchVar > 0 {
		timeout = time.After(*watchVar)
	}
	select {
	case <-ctx.Done():
	case <-conn.Done():
	case <-timeout:
	}
	_ = conn.Close()

	fmt.Println(p.String())
	return nil
}

// newCalcPage builds the headless equivalent of the calculator page.
func newCalcPage() *page.Memory {
	p := page.NewMemory()
	p.Add("number_A", page.KindInput)
	p.Add("number_B", page.KindInput)
	p.Add("operation", page.KindSelect)
	p.Add("do_sum", page.KindButton)
	p.Add("answer", page.KindInput)
	p.Add("prog_bar", page.KindProgress)
	return p
}

type dispatch struct {
	origin  string
	request action.Request
}

// parseRequests turns --set id=type:value and --press id[=action] flags into requests, edits
// first.
func parseRequests(sets, presses []string) ([]dispatch, error) {
	out := make([]dispatch, 0, len(sets)+len(presses))
	for _, s := range sets {
		id, rest, ok := strings.Cut(s, "=")
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid --set %q: expected id=type:value", s)
		}
		fieldType, value, ok := strings.Cut(rest, ":")
		if !ok {
			return nil, fmt.Errorf("invalid --set %q: expected id=type:value", s)
		}
		out = append(out, dispatch{origin: id, request: action.FieldEdit(fieldType, value)})
	}
	for _, s := range presses {
		id, name, ok := strings.Cut(s, "=")
		if id == "" {
			return nil, fmt.Errorf("invalid --press %q: expected id or id=action", s)
		}
		if !ok {
			name = id
		}
		out = append(out, dispatch{origin: id, request: action.Action(name)})
	}
	return out, nil
}
