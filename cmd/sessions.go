package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"sidekick/internal/session"
)

var sessionsProvider string

var titleStyle = lipgloss.NewStyle().Bold(true)
var metaStyle = lipgloss.NewStyle().Faint(true)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored conversations",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions, newest first",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	sessionsListCmd.Flags().StringVar(&sessionsProvider, "provider", "", "provider id (default from config)")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	prov, err := a.cfg.Provider(sessionsProvider)
	if err != nil {
		return err
	}

	sessions, err := a.store.ListByProvider(ctx, prov.ID)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Printf("No sessions for provider %q.\n", prov.ID)
		return nil
	}

	for _, sess := range sessions {
		fmt.Println(titleStyle.Render(sess.Title))
		fmt.Println(metaStyle.Render(fmt.Sprintf("  %s · %d messages · updated %s",
			sess.ID, len(sess.Messages), formatTime(sess.UpdatedAt))))
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid session id %q: %w", args[0], err)
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	sess, err := a.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}

	fmt.Println(titleStyle.Render(sess.Title))
	fmt.Println(metaStyle.Render(fmt.Sprintf("created %s · updated %s",
		formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt))))
	fmt.Println()

	for _, msg := range sess.Messages {
		speaker := "You"
		if msg.Role == session.RoleAssistant {
			speaker = "Sidekick"
		}
		fmt.Printf("%s> %s\n\n", speaker, msg.Content)
		for _, src := range msg.Sources {
			fmt.Println(sourceStyle.Render(fmt.Sprintf("  [%d] %s — %s", src.Ordinal, src.Title, src.URL)))
		}
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid session id %q: %w", args[0], err)
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	fmt.Printf("Deleted session %s.\n", id)
	return nil
}

// formatTime renders a timestamp relative to now for recent times.
func formatTime(t time.Time) string {
	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%d days ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02 15:04")
	}
}
