package main

import (
	"fmt"
	"os"
	"time"

	teamchat "github.com/teamchat-io/teamchat-go"
	"go.uber.org/zap"
)

// getClient creates a TeamChat client from the stored configuration.
func getClient() *teamchat.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "No token. Run 'teamchat init <token>' first.")
		os.Exit(1)
	}

	var opts []teamchat.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, teamchat.WithBaseURL(cfg.Default.BaseURL))
	}
	if cfg.Default.Verbose {
		log, err := zap.NewDevelopment()
		if err == nil {
			opts = append(opts, teamchat.WithLogger(log))
		}
	}

	return teamchat.NewClient(cfg.Auth.Token, opts...)
}

// pageSize returns the configured history page size.
func pageSize() int {
	cfg, err := loadConfig()
	if err != nil || cfg.Default.PageSize <= 0 {
		return teamchat.DefaultPageSize
	}
	return cfg.Default.PageSize
}

// formatTimestamp renders a millisecond epoch as local time.
func formatTimestamp(millis int64) string {
	if millis == 0 {
		return "-"
	}
	return time.UnixMilli(millis).Local().Format("2006-01-02 15:04:05")
}

// messageLine renders one message for terminal output.
func messageLine(m teamchat.Message) string {
	switch {
	case m.Status == teamchat.StatusRevoked:
		return fmt.Sprintf("[%s] %s recalled a message", formatTimestamp(m.CreatedAt), m.SenderName)
	case m.IsDeleted:
		return fmt.Sprintf("[%s] (deleted)", formatTimestamp(m.CreatedAt))
	default:
		line := fmt.Sprintf("[%s] %s: %s", formatTimestamp(m.CreatedAt), m.SenderName, m.Content)
		if n := len(m.Attachments); n > 0 {
			line += fmt.Sprintf(" (%d attachment(s))", n)
		}
		if m.ThreadReplyCount > 0 {
			line += fmt.Sprintf(" [%d replies]", m.ThreadReplyCount)
		}
		return line
	}
}
