package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"sidekick/internal/conversation"
)

var (
	askProvider string
	askNoSearch bool
	askSession  string
	askPlain    bool
)

var statusStyle = lipgloss.NewStyle().Faint(true)
var sourceStyle = lipgloss.NewStyle().Faint(true)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask the assistant a question",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askProvider, "provider", "", "provider id (default from config)")
	askCmd.Flags().BoolVar(&askNoSearch, "no-search", false, "answer from model knowledge only")
	askCmd.Flags().StringVar(&askSession, "session", "", "continue an existing session by id")
	askCmd.Flags().BoolVar(&askPlain, "plain", false, "stream raw text instead of rendering Markdown")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	// Ctrl-C cancels the in-flight turn instead of killing the process
	// mid-write.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	orch, err := a.orchestrator(askProvider, !askNoSearch)
	if err != nil {
		return err
	}

	if askSession != "" {
		id, err := uuid.Parse(askSession)
		if err != nil {
			return fmt.Errorf("invalid session id %q: %w", askSession, err)
		}
		sess, err := a.store.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("loading session %s: %w", id, err)
		}
		orch.Conversation().LoadSession(sess)
	}

	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return fmt.Errorf("question is empty")
	}

	printed := 0
	events := conversation.Events{
		OnState: func(st conversation.State) {
			switch st {
			case conversation.StateClassifying, conversation.StateSearching, conversation.StateFetching:
				fmt.Fprintln(os.Stderr, statusStyle.Render("… "+st.String()))
			}
		},
	}
	if askPlain {
		events.OnDelta = func(accumulated string) {
			fmt.Print(accumulated[printed:])
			printed = len(accumulated)
		}
	}

	res, err := orch.Send(ctx, question, events)
	if err != nil {
		if askPlain && printed > 0 {
			fmt.Println()
		}
		return errors.New(res.UserError)
	}

	if askPlain {
		fmt.Println()
	} else if err := renderMarkdown(res.Content); err != nil {
		// Rendering trouble must not eat the answer.
		fmt.Println(res.Content)
	}

	for _, src := range res.Sources {
		fmt.Println(sourceStyle.Render(fmt.Sprintf("[%d] %s — %s", src.Ordinal, src.Title, src.URL)))
	}
	return nil
}

func renderMarkdown(content string) error {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return err
	}
	out, err := renderer.Render(content)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}
