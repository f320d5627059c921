package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/casualjim/relay"
	"github.com/casualjim/relay/events"
	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
	json "github.com/goccy/go-json"
	"github.com/k0kubun/pp/v3"
	"github.com/spf13/cobra"
)

func newChatCmd(a *app) *cobra.Command {
	var (
		conversationID string
		render         bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat in the terminal",
		Long: `Chat in the terminal.

Commands:
  /summary  print the statistics of the current conversation
  /list     list the stored conversations
  /clear    forget the current conversation and start a new one
  /exit     leave`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			orchestrator, err := a.orchestrator(a.broker(false))
			if err != nil {
				return err
			}
			c := &console{out: cmd.OutOrStdout()}
			if render {
				c.glam, err = glamour.NewTermRenderer(glamour.WithAutoStyle())
				if err != nil {
					return err
				}
			}
			return c.run(ctx, orchestrator, conversationID, cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "", "continue the conversation with this id")
	cmd.Flags().BoolVar(&render, "render", true, "render answers as markdown instead of streaming raw text")
	return cmd
}

// console prints a chat stream. With a renderer, text is buffered per turn
// and rendered as markdown once the turn ends.
type console struct {
	out  io.Writer
	glam *glamour.TermRenderer
	text strings.Builder
}

func (c *console) run(ctx context.Context, orchestrator *relay.Orchestrator, conversationID string, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	conversations := orchestrator.Conversations()
	for {
		fmt.Fprintf(c.out, "%s: ", color.CyanString("User"))
		if !scanner.Scan() {
			fmt.Fprintln(c.out, "Exiting...")
			return scanner.Err()
		}

		input := strings.TrimSpace(scanner.Text())
		switch {
		case input == "":
			continue
		case input == "/exit" || strings.EqualFold(input, "exit"):
			return nil
		case input == "/list":
			pp.Fprintln(c.out, conversations.List(ctx))
			continue
		case input == "/summary":
			if conversationID == "" {
				fmt.Fprintln(c.out, color.HiBlackString("no conversation yet"))
				continue
			}
			pp.Fprintln(c.out, conversations.Summarize(ctx, conversationID))
			continue
		case input == "/clear":
			if conversationID != "" {
				result := conversations.Clear(ctx, conversationID)
				fmt.Fprintln(c.out, color.HiBlackString("%s", result.Message))
			}
			conversationID = ""
			continue
		}

		for ev := range orchestrator.Stream(ctx, relay.ChatRequest{Message: input, ConversationID: conversationID}) {
			if start, ok := ev.(events.StreamStart); ok {
				conversationID = start.ConversationID
			}
			c.render(ev)
		}
		if ctx.Err() != nil {
			fmt.Fprintln(c.out)
			return nil
		}
	}
}

func (c *console) render(ev events.Event) {
	switch e := ev.(type) {
	case events.StreamStart:
		if e.IsNewConversation {
			fmt.Fprintln(c.out, color.HiBlackString("conversation %s", e.ConversationID))
		}
	case events.MessageStart:
		c.text.Reset()
		fmt.Fprint(c.out, color.MagentaString("Assistant")+": ")
	case events.TextDelta:
		c.text.WriteString(e.Text)
		if c.glam == nil {
			fmt.Fprint(c.out, e.Text)
		}
	case events.ToolCall:
		c.flush()
		input, _ := json.Marshal(e.Input)
		fmt.Fprintf(c.out, "%s%s\n", color.YellowString(e.ToolName), input)
	case events.ToolResult:
		status := color.GreenString("ok")
		if !e.Success {
			status = color.RedString("failed: %s", e.Error)
		}
		result, _ := json.Marshal(e.Result)
		fmt.Fprintf(c.out, "%s: %s %s (%dms)\n", color.YellowString("Tool"), result, status, e.DurationMS)
	case events.MessageComplete:
		c.flush()
		note := fmt.Sprintf("%d iterations via %s", e.IterationsUsed, e.Provider)
		if e.UsedFallback {
			note += " (fallback)"
		}
		fmt.Fprintln(c.out, color.HiBlackString("%s", note))
	case events.MaxIterationsReached:
		c.flush()
		fmt.Fprintln(c.out, color.RedString("stopped after %d iterations", e.MaxIterations))
	case events.Error:
		c.flush()
		fmt.Fprintln(c.out, color.RedString("Error: %s", e.Message))
	}
}

// flush ends the text of the current turn.
func (c *console) flush() {
	text := c.text.String()
	c.text.Reset()
	if text == "" {
		return
	}
	if c.glam == nil {
		fmt.Fprintln(c.out)
		return
	}
	out, err := c.glam.Render(text)
	if err != nil {
		out = text + "\n"
	}
	fmt.Fprint(c.out, out)
}
