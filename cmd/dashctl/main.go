// Command dashctl talks to the tenant dashboard API from a terminal using the
// same session layer as the dashboard: access token persistence, silent
// token refresh, streaming chat and OAuth reauthorization.
//
// Usage:
//
//	dashctl <command> [flags] [args]
//
// Commands:
//
//	login -email E -password P     Log in and persist the access token
//	register -email E -password P  Create an account and log in
//	logout                         End the session
//	me                             Show the current user
//	get <path>                     GET an API path and print the JSON body
//	conversations                  List chat conversations
//	chat [-new title] <conversation-id> <message>
//	                               Send a chat message and stream the reply
//	reauthorize <connection-id>    Renew a data connection's OAuth grant
//	watch                          Print session signals from NATS
//
// Configuration is read from the environment (BASE_URL, TOKEN_BACKEND, ...).
//
// Only the access token is persisted. The refresh cookie lives for a single
// invocation, so once the stored access token expires the next command
// fails with a login prompt and the session needs `dashctl login` again.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/namikmesic/tenant-session/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var errUsage = errors.New("usage: dashctl <login|register|logout|me|get|conversations|chat|reauthorize|watch> [flags] [args]")

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "dashctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q\n%w", args[0], errUsage)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	return cmd(ctx, a, args[1:])
}
