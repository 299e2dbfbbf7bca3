// Command imapflow-cli dials a profile from a TOML config file, logs in,
// and either prints the mailbox listing or idles on a mailbox printing
// new-message notifications, depending on the flags given.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"imapflow/internal/client"
	"imapflow/internal/config"
	"imapflow/internal/imap"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to config file")
	profileName := flag.String("profile", "", "profile name to dial")
	mailbox := flag.String("mailbox", "INBOX", "mailbox to select")
	idle := flag.Bool("idle", false, "idle on the mailbox instead of listing it")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := run(logger, *configPath, *profileName, *mailbox, *idle); err != nil {
		logger.Error("imapflow-cli failed", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, configPath, profileName, mailboxName string, idle bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	p := cfg.Lookup(profileName)
	if p == nil {
		return fmt.Errorf("no profile named %q in %s", profileName, configPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	logger.Info("dialing", "profile", p.Name, "host", p.Host, "port", p.Port)

	engine, err := client.Dial(ctx, client.Options{
		Host:            p.Host,
		Port:            p.Port,
		TLS:             p.TLS,
		STARTTLS:        p.StartTLS,
		TLSConfig:       &tls.Config{ServerName: p.Host},
		User:            p.User,
		Password:        p.Password,
		ReadOnly:        p.ReadOnly,
		ConnectTimeout:  p.ConnectTimeout(),
		GreetingTimeout: p.GreetingTimeout(),
		UpgradeTimeout:  p.UpgradeTimeout(),
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer engine.Close()

	if !p.FolderAllowed(mailboxName) {
		return fmt.Errorf("mailbox %q is not allowed by this profile's folder filter", mailboxName)
	}

	ticket, err := engine.Select(ctx, mailboxName, p.ReadOnly || !p.FolderWritable(mailboxName))
	if err != nil {
		return fmt.Errorf("select %s: %w", mailboxName, err)
	}
	defer ticket.Release()

	if idle {
		return runIdle(ctx, logger, engine, p.IdleRefresh())
	}
	return runList(ctx, engine)
}

func runList(ctx context.Context, engine *client.Engine) error {
	fs := engine.Fetch(ctx, "1:*", []imap.Node{&imap.Atom{Value: "FLAGS"}, &imap.Atom{Value: "ENVELOPE"}}, false)
	for {
		result, ok := fs.Next()
		if !ok {
			break
		}
		fmt.Printf("message %d: %v\n", result.SeqNum, result.Attributes)
	}
	return fs.Err()
}

func runIdle(ctx context.Context, logger *slog.Logger, engine *client.Engine, refresh time.Duration) error {
	for {
		events, stop, err := engine.Idle(ctx)
		if err != nil {
			return fmt.Errorf("idle: %w", err)
		}

		timer := time.NewTimer(refresh)

	loop:
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					break loop
				}
				logger.Info("idle event", "command", ev.Command, "seq", ev.SeqNum)
			case <-timer.C:
				break loop
			case <-ctx.Done():
				timer.Stop()
				stop() //nolint:errcheck // best-effort on shutdown
				return ctx.Err()
			}
		}
		timer.Stop()

		if err := stop(); err != nil {
			return fmt.Errorf("idle done: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
