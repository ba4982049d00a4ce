// Package cli implements the chatcli terminal client commands.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chatsync/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	User string
	Cfg  *config.Config
}

// NewRootCommand creates the root command for chatcli.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "chatcli",
		Short: "Terminal client for the chat service",
		Long: `chatcli talks to the chat service over its REST API and realtime
websocket connection: list conversations, open one, and exchange messages
with live typing indicators and read receipts.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.User == "" {
				return fmt.Errorf("--user is required")
			}
			opts.Cfg = config.Load()
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.User, "user", "u", "", "user id for the session")

	cmd.AddCommand(NewConversationsCommand(opts))
	cmd.AddCommand(NewChatCommand(opts))

	return cmd
}
