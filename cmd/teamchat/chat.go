package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	teamchat "github.com/teamchat-io/teamchat-go"
)

func init() {
	rootCmd.AddCommand(conversationsCmd)
	conversationsCmd.AddCommand(conversationsListCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(watchCmd)

	sendCmd.Flags().Int64Var(&sendThreadID, "thread", 0, "reply into a thread rooted at this message id")
	sendCmd.Flags().StringSliceVar(&sendFiles, "file", nil, "attach local file(s)")
	historyCmd.Flags().IntVar(&historyPages, "pages", 1, "number of pages to load, newest first")
}

// ============================================================================
// conversations
// ============================================================================

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "Browse conversations",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		convs, err := client.Conversations.Mine(ctx)
		if err != nil {
			return err
		}
		if len(convs) == 0 {
			fmt.Println("No conversations.")
			return nil
		}
		for _, c := range convs {
			marker := " "
			if c.UnseenCount > 0 {
				marker = fmt.Sprintf("(%d)", c.UnseenCount)
			}
			fmt.Printf("%8d  %-7s %-30s %s %s\n",
				c.ID, c.Type, c.Name, marker, truncate(c.LastMessage, 50))
		}
		return nil
	},
}

// ============================================================================
// history
// ============================================================================

var historyPages int

var historyCmd = &cobra.Command{
	Use:   "history <conversation-id>",
	Short: "Print recent messages in a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid conversation id %q", args[0])
		}

		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		paginator := teamchat.NewPaginator(client.Messages, teamchat.WithPageSize(pageSize()))
		if err := paginator.Open(ctx, conversationID); err != nil {
			return err
		}
		for i := 1; i < historyPages; i++ {
			loaded, err := paginator.LoadOlder(ctx)
			if err != nil {
				return err
			}
			if !loaded {
				break
			}
		}

		for _, m := range paginator.Window().Messages() {
			fmt.Println(messageLine(m))
		}
		return nil
	},
}

// ============================================================================
// send
// ============================================================================

var (
	sendThreadID int64
	sendFiles    []string
)

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <text>",
	Short: "Send a message into a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid conversation id %q", args[0])
		}
		content := args[1]

		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		req := &teamchat.SendMessageRequest{Content: content, ThreadID: sendThreadID}

		if len(sendFiles) > 0 {
			var uploads []teamchat.AttachmentUpload
			for _, path := range sendFiles {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("cannot read %s: %w", path, err)
				}
				uploads = append(uploads, teamchat.AttachmentUpload{
					FileName: filepath.Base(path),
					Data:     data,
				})
			}
			attachments, err := client.Interactions.UploadAttachments(ctx, uploads)
			if err != nil {
				return fmt.Errorf("upload failed: %w", err)
			}
			for _, a := range attachments {
				req.URLs = append(req.URLs, a.ID)
			}
		}

		rt := client.Realtime(nil)
		if err := rt.Connect(ctx); err != nil {
			return fmt.Errorf("realtime connect failed: %w", err)
		}
		defer rt.Disconnect()

		if err := rt.SendMessage(ctx, conversationID, req); err != nil {
			return err
		}
		fmt.Println("Sent.")
		return nil
	},
}

// ============================================================================
// watch
// ============================================================================

var watchCmd = &cobra.Command{
	Use:   "watch <conversation-id>",
	Short: "Tail a conversation live",
	Long:  "Connect to the realtime stream and print messages, reactions, and presence changes as they happen. Ctrl-C to stop.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid conversation id %q", args[0])
		}

		client := getClient()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		me, err := client.Users.Me(ctx)
		if err != nil {
			return fmt.Errorf("cannot resolve identity: %w", err)
		}

		dir, err := configDir()
		if err != nil {
			return err
		}
		statusStore := teamchat.NewFileStatusStore(filepath.Join(dir, "status.json"))

		paginator := teamchat.NewPaginator(client.Messages,
			teamchat.WithPageSize(pageSize()),
			teamchat.WithReadMarker(client.Conversations))
		reconciler := teamchat.NewReconciler(paginator, *me,
			teamchat.WithStatusStore(statusStore))

		if conv, err := client.Conversations.Get(ctx, conversationID); err == nil {
			reconciler.SetMembers(conv.Members)
		}
		if err := paginator.Open(ctx, conversationID); err != nil {
			return err
		}
		for _, m := range paginator.Window().Messages() {
			fmt.Println(messageLine(m))
		}

		rt := client.Realtime(nil)
		rt.OnConnected(func() { fmt.Println("-- connected --") })
		rt.OnDisconnected(func(err error) { fmt.Printf("-- connection lost: %v --\n", err) })

		seen := make(map[int64]struct{})
		for _, m := range paginator.Window().Messages() {
			seen[m.ID] = struct{}{}
		}
		handler := func(topic string, event teamchat.Event) {
			reconciler.Apply(event)
			switch ev := event.(type) {
			case *teamchat.MessageEvent:
				if _, ok := seen[ev.Message.ID]; ok && ev.Message.Status == teamchat.StatusSent {
					fmt.Printf("~ %s\n", messageLine(ev.Message))
					return
				}
				seen[ev.Message.ID] = struct{}{}
				fmt.Println(messageLine(ev.Message))
			case *teamchat.ReactionEvent:
				fmt.Printf("* %s reacted %s on #%d\n", ev.UserName, ev.Emoji, ev.MessageID)
			case *teamchat.TypingEvent:
				if ev.Typing && ev.UserID != me.ID {
					fmt.Printf(". %s is typing\n", ev.UserName)
				}
			case *teamchat.UserStatusEvent:
				state := "offline"
				if ev.IsOnline {
					state = "online"
				}
				fmt.Printf("@ user %d is %s\n", ev.UserID, state)
			}
		}

		if err := rt.Subscribe(ctx, teamchat.ConversationTopic(conversationID), "watch", handler); err != nil {
			return err
		}
		if err := rt.Subscribe(ctx, teamchat.TopicUserNotifications, "watch", handler); err != nil {
			return err
		}
		if err := rt.Connect(ctx); err != nil {
			return fmt.Errorf("realtime connect failed: %w", err)
		}
		defer rt.Disconnect()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		fmt.Println("\nBye.")
		return nil
	},
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
