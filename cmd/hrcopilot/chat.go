package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xhad/hrcopilot/pkg/copilot"
	"github.com/xhad/hrcopilot/pkg/tools"
)

func chatCMD(configPath *string) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the HR copilot in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			ctx := context.Background()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.withCopilot(ctx); err != nil {
				return err
			}
			return runChat(ctx, a.copilot, a.tools, sessionID)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "continue an existing session")
	return cmd
}

func runChat(ctx context.Context, svc *copilot.Service, registry *tools.Registry, sessionID string) error {
	color.Cyan("\nPregunta a tu asistente de RRHH (type 'exit' to quit, '/tool <name> <input>' to run a tool)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(query) {
		case "":
			continue
		case "exit", "quit", "salir":
			return nil
		}

		if rest, ok := strings.CutPrefix(query, "/tool "); ok {
			runTool(ctx, registry, rest)
			continue
		}

		id, err := answer(ctx, svc, query, sessionID, assistantPrompt)
		if err != nil {
			color.Red("\nError: %v", err)
			continue
		}
		sessionID = id
	}

	return scanner.Err()
}

// answer streams one reply. Ctrl-C abandons the answer, not the chat.
func answer(ctx context.Context, svc *copilot.Service, query, sessionID string, assistantPrompt func(string, ...interface{})) (string, error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	stopSpinner := spin(getSpinner(" Searching HR documents..."))
	reply, err := svc.Ask(ctx, copilot.Request{Query: query, SessionID: sessionID})
	stopSpinner()
	if err != nil {
		return sessionID, err
	}

	fmt.Print("\n")
	assistantPrompt("Assistant: ")
	for token := range reply.Tokens() {
		fmt.Print(token)
	}
	fmt.Print("\n")

	if err := reply.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			color.Yellow("(answer interrupted, not saved)")
			return reply.SessionID, nil
		}
		return reply.SessionID, err
	}
	return reply.SessionID, nil
}

func runTool(ctx context.Context, registry *tools.Registry, line string) {
	name, input, _ := strings.Cut(strings.TrimSpace(line), " ")
	tool, err := registry.Get(name)
	if err != nil {
		color.Red("%v (available: %s)", err, strings.Join(registry.Names(), ", "))
		return
	}
	out, err := tool.Call(ctx, input)
	if err != nil {
		color.Red("Error: %v", err)
		return
	}
	if tools.Status(out) == tools.StatusSuccess {
		color.Green("%s", out)
	} else {
		color.Yellow("%s", out)
	}
}
