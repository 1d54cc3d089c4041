package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/coreos/go-systemd/v22/daemon"

	"poolbot/internal/app"
	"poolbot/plugins/gamecode"
)

type cli struct {
	Config string `short:"c" default:"./config.yaml" type:"path" help:"Config file (.yaml, .yml or .json)."`

	Run         runCmd         `cmd:"" default:"1" help:"Run the bot."`
	CheckConfig checkConfigCmd `cmd:"" name:"check-config" help:"Validate the config file and exit."`
}

type runCmd struct {
	StopTimeout time.Duration `default:"10s" help:"Upper bound for graceful shutdown."`
}

func (r *runCmd) Run(ctx context.Context, root *cli) error {
	a, err := app.New(root.Config, gamecode.New())
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	stopWatchdog := watchdog(ctx)

	reason := "signal"
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = "fatal error"
	}
	stopWatchdog()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, cancel := context.WithTimeout(context.Background(), r.StopTimeout)
	defer cancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	return a.Err()
}

// watchdog pings systemd at half the configured interval while the unit
// has WatchdogSec set. The returned func stops it.
func watchdog(ctx context.Context) func() {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil || every <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		t := time.NewTicker(every / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
	return cancel
}

type checkConfigCmd struct{}

func (checkConfigCmd) Run(root *cli) error {
	cfg, err := app.Check(root.Config, gamecode.New())
	if err != nil {
		return err
	}
	fmt.Printf("config ok: %s (storage=%s, plugins=%d)\n", root.Config, cfg.StorageDriver(), len(cfg.Plugins))
	return nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var root cli
	parser, err := kong.New(&root,
		kong.Name("poolbot"),
		kong.Description("Telegram bot that runs game code pools for group chats."),
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.Bind(&root),
		kong.UsageOnError(),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)
	parser.FatalIfErrorf(kctx.Run())
}
