package cli

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chatsync/internal/chat"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/rest"
	"github.com/chatsync/internal/transport"
)

// NewChatCommand creates the interactive chat command.
func NewChatCommand(opts *RootOptions) *cobra.Command {
	var receiver string

	cmd := &cobra.Command{
		Use:   "chat [conversationId]",
		Short: "Open a conversation and chat interactively",
		Long: `Open a conversation and exchange messages. Without a conversation id,
--to starts a direct conversation; the service assigns the id on the first
persisted message. Type a line to send it, /quit to leave.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conversationID := ""
			if len(args) == 1 {
				conversationID = args[0]
			}
			if conversationID == "" && receiver == "" {
				return fmt.Errorf("either a conversation id or --to is required")
			}
			return runChat(opts, conversationID, receiver)
		},
	}

	cmd.Flags().StringVar(&receiver, "to", "", "receiver user id for a new direct conversation")
	return cmd
}

func runChat(opts *RootOptions, conversationID, receiver string) error {
	cfg := opts.Cfg
	manager := transport.NewSessionManager(cfg.WSURL, transport.OptionsFromConfig(cfg))
	binding, err := manager.Acquire(opts.User)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer manager.Release(opts.User)

	restClient := rest.NewClient(cfg.APIBaseURL, cfg.RequestTimeout)

	var printMu sync.Mutex
	printed := 0

	var session *chat.Session
	render := func() {
		printMu.Lock()
		defer printMu.Unlock()
		messages := session.Store().Messages()
		for ; printed < len(messages); printed++ {
			m := messages[printed]
			who := m.SenderID
			if m.SenderID == opts.User {
				who = "me"
			}
			suffix := ""
			switch {
			case m.SendState == model.SendStateFailed:
				suffix = " [failed, /retry to resend]"
			case m.Seen:
				suffix = " [seen]"
			case m.Delivered:
				suffix = " [delivered]"
			}
			fmt.Printf("%s: %s%s\n", who, m.Content, suffix)
		}
	}

	session = chat.NewSession(binding, restClient, conversationID, receiver, chat.Options{
		SeenGrace:       cfg.SeenGraceDelay,
		TypingStopDelay: cfg.TypingStopDelay,
		TypingExpiry:    cfg.TypingExpiry,
		Focused:         true,
		OnUpdate:        render,
		OnTyping: func(userID string, isTyping bool) {
			if isTyping {
				fmt.Printf("%s is typing...\n", userID)
			}
		},
	})
	defer session.Close()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	fmt.Println("connected; type a message, /quit to leave")
	for {
		select {
		case <-quit:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch {
			case line == "/quit":
				return nil
			case line == "/retry":
				for _, m := range session.Store().Messages() {
					if m.SendState == model.SendStateFailed {
						if err := session.Resend(m.ID); err != nil {
							fmt.Printf("retry %s: %v\n", m.ID, err)
						}
					}
				}
			case strings.TrimSpace(line) == "":
				// Nothing to send.
			default:
				session.Typing()
				if err := session.Send(line, model.MessageTypeText); err != nil {
					fmt.Printf("send: %v\n", err)
				}
			}
		}
	}
}
