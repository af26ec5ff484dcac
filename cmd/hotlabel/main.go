package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"hotlabel/internal/app"
	"hotlabel/internal/signals"

	"github.com/coreos/go-systemd/v22/daemon"
)

func main() {
	var (
		cfgPath  string
		ua       string
		langs    string
		category string
		screen   string
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (json or yaml)")
	flag.StringVar(&ua, "user-agent", "hotlabel-cli/1.0 ("+runtime.GOOS+")", "user agent reported in browser signals")
	flag.StringVar(&langs, "lang", os.Getenv("LANG"), "comma-separated preferred languages")
	flag.StringVar(&category, "category", "", "content category of the host page")
	flag.StringVar(&screen, "screen", "1920x1080", "screen resolution reported in browser signals")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	term := newTerminal(os.Stdin, os.Stdout)
	pres := newPresenter(os.Stdout)

	a, err := app.NewApp(cfgPath, app.Options{
		Prompter:  term,
		Presenter: pres,
		Environment: signals.Environment{
			UserAgent:        ua,
			Platform:         runtime.GOOS,
			Languages:        splitList(langs),
			CookiesEnabled:   true,
			ScreenResolution: screen,
			ColorDepth:       24,
			ContentCategory:  category,
		},
	})
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		_ = a.Stop(context.Background(), app.StopFatalError)
		os.Exit(1)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	con := &console{
		term:    term,
		out:     os.Stdout,
		sched:   a.Scheduler(),
		tracker: a.Tracker(),
		pres:    pres,
		stats:   a.SinkStats,
	}
	reason := con.Run(ctx, a.Done())
	if reason == app.StopUnknown && a.Err() != nil {
		reason = app.StopFatalError
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if err := a.Err(); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		// LANG=en_US.UTF-8 style values
		if i := strings.IndexByte(p, '.'); i > 0 {
			p = p[:i]
		}
		p = strings.ReplaceAll(p, "_", "-")
		if p != "" && p != "C" && p != "POSIX" {
			out = append(out, p)
		}
	}
	return out
}
