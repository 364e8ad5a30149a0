package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/aixgo-dev/todo-assistant/internal/assistant"
	"github.com/aixgo-dev/todo-assistant/pkg/session"
)

const historyFile = ".todo_assistant_history"

var replCommands = []string{"/new", "/history", "/help", "/quit"}

type chatOptions struct {
	userID         string
	conversationID string
}

func newChatCmd(root *rootOptions) *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant from the terminal",
		Long: `Runs the assistant in-process against the configured stores and model.
Type /help inside the session for commands.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), root, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.userID, "user", "u", "", "user id to chat as (required)")
	cmd.Flags().StringVar(&opts.conversationID, "conversation", "", "resume an existing conversation")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runChat(ctx context.Context, root *rootOptions, opts *chatOptions, out io.Writer) error {
	if root.logLevel == "" {
		root.logLevel = "warn"
	}
	cfg, err := root.load(os.Getenv)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(in string) []string {
		var matches []string
		for _, c := range replCommands {
			if strings.HasPrefix(c, in) {
				matches = append(matches, c)
			}
		}
		return matches
	})

	histPath := ""
	if home, err := os.UserHomeDir(); err == nil {
		histPath = filepath.Join(home, historyFile)
		if f, err := os.Open(histPath); err == nil {
			_, _ = line.ReadHistory(f)
			f.Close()
		}
	}

	r := &repl{
		svc:            a.svc,
		userID:         opts.userID,
		conversationID: opts.conversationID,
		in:             line,
		out:            out,
	}
	err = r.run(ctx)

	if histPath != "" {
		if f, ferr := os.Create(histPath); ferr == nil {
			_, _ = line.WriteHistory(f)
			f.Close()
		}
	}
	return err
}

// prompter is the part of liner.State the REPL uses.
type prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

type repl struct {
	svc            *assistant.Service
	userID         string
	conversationID string
	in             prompter
	out            io.Writer
}

func (r *repl) run(ctx context.Context) error {
	fmt.Fprintf(r.out, "Chatting as %s. Type /help for commands.\n", r.userID)
	for {
		input, err := r.in.Prompt("you> ")
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				fmt.Fprintln(r.out)
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		r.in.AppendHistory(input)

		switch input {
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Fprintln(r.out, "/new      start a new conversation")
			fmt.Fprintln(r.out, "/history  show the current conversation")
			fmt.Fprintln(r.out, "/quit     leave")
			continue
		case "/new":
			r.conversationID = ""
			fmt.Fprintln(r.out, "Started a new conversation.")
			continue
		case "/history":
			if err := r.history(ctx); err != nil {
				fmt.Fprintln(r.out, "error:", err)
			}
			continue
		}

		if err := r.turn(ctx, input); err != nil {
			fmt.Fprintln(r.out, "error:", describeTurnError(err))
		}
	}
}

func (r *repl) turn(ctx context.Context, text string) error {
	res, err := r.svc.HandleTurn(ctx, r.userID, text, r.conversationID)
	if err != nil {
		return err
	}
	r.conversationID = res.SessionID

	for _, tr := range res.ToolResults {
		if tr.Status == session.StatusSuccess {
			fmt.Fprintf(r.out, "  [%s] ok\n", tr.Name)
		} else {
			fmt.Fprintf(r.out, "  [%s] %s\n", tr.Name, tr.Error)
		}
	}
	prefix := "assistant> "
	if res.UsingFallback {
		prefix = "assistant (offline)> "
	}
	fmt.Fprintln(r.out, prefix+res.Reply)
	return nil
}

func (r *repl) history(ctx context.Context) error {
	if r.conversationID == "" {
		fmt.Fprintln(r.out, "No conversation yet.")
		return nil
	}
	if _, err := r.svc.Sessions().Get(ctx, r.userID, r.conversationID); err != nil {
		return err
	}
	msgs, err := r.svc.Sessions().History(ctx, r.conversationID, 0)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		switch m.Role {
		case session.RoleTool:
			for _, tr := range m.ToolResults {
				fmt.Fprintf(r.out, "%s  tool %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), tr.Name, tr.Status)
			}
		default:
			fmt.Fprintf(r.out, "%s  %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), m.Role, m.Content)
		}
	}
	return nil
}

func describeTurnError(err error) string {
	switch {
	case errors.Is(err, assistant.ErrEmptyMessage), errors.Is(err, assistant.ErrMessageTooLong),
		errors.Is(err, assistant.ErrInvalidSessionID):
		return err.Error()
	case errors.Is(err, session.ErrForbidden), errors.Is(err, session.ErrSessionNotFound):
		return "conversation not found"
	case errors.Is(err, assistant.ErrModelUnavailable):
		return "assistant is temporarily unavailable"
	}
	return "something went wrong; see the logs"
}
