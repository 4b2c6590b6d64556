// chatcli opens one conversation against an adoptme server, prints its
// history and live arrivals, and sends each line read from stdin.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"adoptme/internal/chatclient"
	"adoptme/internal/domain/entity"
	"adoptme/pkg/config"
	"adoptme/pkg/logger"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run returns the exit code so deferred teardown, including DISCONNECT,
// happens before the process exits.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return 1
	}

	flags := flag.NewFlagSet("chatcli", flag.ContinueOnError)
	flags.SetOutput(stderr)
	apiURL := flags.String("api", cfg.APIURL, "API root URL")
	wsURL := flags.String("ws", cfg.WSURL, "Realtime endpoint URL")
	token := flags.String("token", cfg.AuthToken, "Bearer token (AUTH_TOKEN)")
	me := flags.Int64("me", 0, "Current user id")
	with := flags.Int64("with", 0, "Other participant's user id")
	inbox := flags.Bool("inbox", false, "List conversations and exit")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	logger.SetOutput(stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var apiOpts []chatclient.APIOption
	if *token != "" {
		apiOpts = append(apiOpts, chatclient.WithBearerToken(*token))
	}

	if *inbox {
		if err := printInbox(ctx, stdout, chatclient.NewInboxClient(*apiURL, apiOpts...)); err != nil {
			fmt.Fprintf(stderr, "inbox: %v\n", err)
			return 1
		}
		return 0
	}

	conns := chatclient.NewConnectionManager(*wsURL,
		chatclient.WithAuthToken(*token),
		chatclient.WithErrorHandler(func(err error) {
			fmt.Fprintf(stderr, "realtime: %v\n", err)
		}),
	)
	defer conns.Close()

	session, err := chatclient.NewSession(*me, *with, chatclient.NewHistoryClient(*apiURL, apiOpts...), conns,
		chatclient.WithLoadTimeout(cfg.LoadTimeout))
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 2
	}
	defer session.Close()

	if err := session.Load(ctx); err != nil {
		fmt.Fprintf(stderr, "could not load conversation: %v\n", err)
		return 1
	}
	if !session.Realtime() {
		fmt.Fprintf(stderr, "history only, sending disabled: %v\n", session.ConnErr())
	}

	go printMessages(stdout, session, *me)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return 0
		case line, ok := <-lines:
			if !ok {
				return 0
			}
			if err := session.Send(line); err != nil {
				fmt.Fprintf(stderr, "not sent: %v\n", err)
			}
		}
	}
}

// printMessages prints every message not yet shown each time the session changes.
func printMessages(w io.Writer, session *chatclient.Session, me int64) {
	shown := 0
	for range session.Updates() {
		messages := session.Messages()
		for _, m := range messages[shown:] {
			printMessage(w, m, me)
		}
		shown = len(messages)
	}
}

func printMessage(w io.Writer, m entity.Message, me int64) {
	who := m.SenderName
	if who == "" {
		who = fmt.Sprintf("#%d", m.SenderID)
	}
	if m.SenderID == me {
		who = "you"
	}
	fmt.Fprintf(w, "[%s] %s: %s\n", m.Timestamp.Local().Format("15:04"), who, m.Content)
}

func printInbox(ctx context.Context, w io.Writer, client *chatclient.InboxClient) error {
	summaries, err := client.Inbox(ctx)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No conversations yet.")
		return nil
	}
	for _, s := range summaries {
		fmt.Fprintf(w, "%-20s #%-6d %s  %s\n", s.OtherUserName, s.OtherUserID, s.LastMessageAt.Local().Format("Jan 2 15:04"), s.LastMessage)
	}
	return nil
}
