// Package cmd wires the CLI: configuration, logging, the retrying HTTP
// client, session storage, and the conversation pipeline behind the ask and
// sessions commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sidekick",
	Short: "Sidekick - an AI assistant with optional web search",
	Long: `Sidekick answers questions with a configured model provider, optionally
grounding answers in fresh web search results with inline [n] citations.

Conversations are stored locally per provider; see "sidekick sessions".`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
