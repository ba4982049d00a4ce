package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chatsync/internal/rest"
)

// NewConversationsCommand creates the conversations listing command.
func NewConversationsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "conversations",
		Short: "List the user's conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := rest.NewClient(opts.Cfg.APIBaseURL, opts.Cfg.RequestTimeout)
			conversations, err := client.GetConversations(cmd.Context(), opts.User)
			if err != nil {
				return fmt.Errorf("fetch conversations (retry later): %w", err)
			}
			if len(conversations) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no conversations")
				return nil
			}
			for _, c := range conversations {
				names := make([]string, 0, len(c.Participants))
				for _, p := range c.Participants {
					if p.ID != opts.User {
						names = append(names, p.Username)
					}
				}
				line := fmt.Sprintf("%s  [%s]", c.ID, strings.Join(names, ", "))
				if c.UnreadCount > 0 {
					line += fmt.Sprintf("  (%d unread)", c.UnreadCount)
				}
				if c.LastMessage != nil {
					line += "  " + preview(c.LastMessage.Content)
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}

func preview(content string) string {
	content = strings.ReplaceAll(content, "\n", " ")
	if len(content) > 48 {
		return content[:45] + "..."
	}
	return content
}
