package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/namikmesic/tenant-session/internal/api"
	"github.com/namikmesic/tenant-session/internal/auth"
	"github.com/namikmesic/tenant-session/internal/bus"
	"github.com/namikmesic/tenant-session/internal/oauth"
	"github.com/namikmesic/tenant-session/internal/stream"
	"github.com/rs/zerolog/log"
)

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"login":         login,
	"register":      register,
	"logout":        logout,
	"me":            me,
	"get":           get,
	"conversations": conversations,
	"chat":          chatCmd,
	"reauthorize":   reauthorize,
	"watch":         watch,
}

func credentialFlags(name string) (*flag.FlagSet, *string, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	email := fs.String("email", "", "Account email")
	password := fs.String("password", os.Getenv("DASHCTL_PASSWORD"), "Account password (default $DASHCTL_PASSWORD)")
	return fs, email, password
}

func login(ctx context.Context, a *app, args []string) error {
	fs, email, password := credentialFlags("login")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return errors.New("login: -email and -password are required")
	}
	if err := a.auth.Login(ctx, auth.Credentials{Email: *email, Password: *password}); err != nil {
		return err
	}
	fmt.Println("Logged in.")
	return nil
}

func register(ctx context.Context, a *app, args []string) error {
	fs, email, password := credentialFlags("register")
	name := fs.String("name", "", "Display name")
	company := fs.String("company", "", "Company name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return errors.New("register: -email and -password are required")
	}
	reg := auth.Registration{Email: *email, Password: *password, Name: *name, Company: *company}
	if err := a.auth.Register(ctx, reg); err != nil {
		return err
	}
	fmt.Println("Account created, logged in.")
	return nil
}

func logout(ctx context.Context, a *app, _ []string) error {
	if err := a.auth.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("Logged out.")
	return nil
}

func me(ctx context.Context, a *app, _ []string) error {
	u, err := a.auth.Me(ctx)
	if err != nil {
		return err
	}
	return printJSON(u)
}

func get(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: dashctl get <path>")
	}
	var body json.RawMessage
	if err := a.api.Do(ctx, api.Request{Method: http.MethodGet, Path: args[0]}, &body); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return printJSON(body)
}

func conversations(ctx context.Context, a *app, _ []string) error {
	convs, err := a.chat.ListConversations(ctx)
	if err != nil {
		return err
	}
	for _, c := range convs {
		fmt.Printf("%s\t%s\t%s\n", c.ID, c.UpdatedAt.Format(time.DateTime), c.Title)
	}
	return nil
}

func chatCmd(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	title := fs.String("new", "", "Start a new conversation with this title")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()

	var convID, content string
	switch {
	case *title != "" && len(rest) == 1:
		conv, err := a.chat.CreateConversation(ctx, *title)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "conversation %s\n", conv.ID)
		convID, content = conv.ID, rest[0]
	case *title == "" && len(rest) == 2:
		convID, content = rest[0], rest[1]
	default:
		return errors.New("usage: dashctl chat [-new title] <conversation-id> <message>")
	}

	reply, err := a.chat.SendMessage(ctx, convID, content, printEvent)
	fmt.Println()
	if err != nil {
		return err
	}
	if len(reply.Errors) > 0 {
		return fmt.Errorf("assistant reported: %s", strings.Join(reply.Errors, "; "))
	}
	return nil
}

func printEvent(ev stream.Event) {
	switch ev.Type {
	case stream.EventText:
		fmt.Print(ev.Content)
	case stream.EventToolStatus:
		fmt.Fprintf(os.Stderr, "[%s]\n", ev.Content)
	case stream.EventError:
		fmt.Fprintf(os.Stderr, "error: %s\n", ev.Message)
	}
}

func reauthorize(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: dashctl reauthorize <connection-id>")
	}

	ln, err := net.Listen("tcp", a.cfg.CallbackAddr)
	if err != nil {
		return fmt.Errorf("listen for oauth callback: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle(oauth.CallbackPath, oauth.CallbackHandler(a.bridge))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("oauth callback server error")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := a.reauth.Reauthorize(ctx, args[0]); err != nil {
		return err
	}
	fmt.Println("Connection reauthorized.")
	return nil
}

func watch(ctx context.Context, a *app, _ []string) error {
	if a.nc == nil || a.cfg.NATSURL == "" {
		return errors.New("watch: set BUS_ENABLED=true and NATS_URL to an external server")
	}

	obs := bus.NewObserver(a.nc)
	loginSub, err := obs.OnLoginRequired(func(ev bus.LoginRequired) {
		fmt.Printf("%s login required (profile %s)\n", ev.At.Format(time.TimeOnly), ev.Profile)
	})
	if err != nil {
		return err
	}
	defer loginSub.Unsubscribe()

	streamSub, err := obs.OnStream(func(id string, chunk []byte) {
		fmt.Printf("[%s] %s", id, chunk)
	})
	if err != nil {
		return err
	}
	defer streamSub.Unsubscribe()

	fmt.Fprintln(os.Stderr, "watching session signals, press Ctrl-C to stop")
	<-ctx.Done()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
