package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"threadloom/internal/store"
	"threadloom/internal/types"
)

var (
	channelScope     string
	channelName      string
	channelMonitored bool
)

// channelsCmd administers the monitored channel registry.
var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "Manage monitored channels",
}

var channelsAddCmd = &cobra.Command{
	Use:   "add <source> <external-id>",
	Short: "Register a channel for ingestion",
	Long: `Registers (or updates) a channel. For discord the external id is the
channel snowflake and --scope the guild id; for github both are owner/repo.

Example:
  loom channels add discord 111222333 --scope 999888777 --name help-forum`,
	Args: cobra.ExactArgs(2),
	RunE: runChannelsAdd,
}

var channelsListCmd = &cobra.Command{
	Use:   "list <source>",
	Short: "List monitored channels for a source",
	Args:  cobra.ExactArgs(1),
	RunE:  runChannelsList,
}

func init() {
	channelsAddCmd.Flags().StringVar(&channelScope, "scope", "", "server scope (guild id or owner/repo)")
	channelsAddCmd.Flags().StringVar(&channelName, "name", "", "human-readable channel name")
	channelsAddCmd.Flags().BoolVar(&channelMonitored, "monitored", true, "watch this channel for new messages")
	channelsCmd.AddCommand(channelsAddCmd)
	channelsCmd.AddCommand(channelsListCmd)
}

func parseSource(raw string) (types.SourceType, error) {
	source := types.SourceType(raw)
	if source != types.SourceDiscord && source != types.SourceGitHub {
		return "", fmt.Errorf("unknown source type %q", raw)
	}
	return source, nil
}

func runChannelsAdd(cmd *cobra.Command, args []string) error {
	source, err := parseSource(args[0])
	if err != nil {
		return err
	}
	externalID := args[1]
	scope := channelScope
	if scope == "" && source == types.SourceGitHub {
		scope = externalID
	}
	if scope == "" {
		return fmt.Errorf("--scope is required for %s channels", source)
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.store.RegisterChannel(cmd.Context(), store.Channel{
		Source:      source,
		ExternalID:  externalID,
		ServerScope: scope,
		Name:        channelName,
		Monitored:   channelMonitored,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Channel %s/%s registered as id %d (monitored=%v)\n", source, externalID, id, channelMonitored)
	return nil
}

func runChannelsList(cmd *cobra.Command, args []string) error {
	source, err := parseSource(args[0])
	if err != nil {
		return err
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	channels, err := a.store.MonitoredChannels(cmd.Context(), source)
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		fmt.Printf("No monitored %s channels.\n", source)
		return nil
	}
	for _, ch := range channels {
		fmt.Printf("%4d  %-24s scope=%-20s %s\n", ch.ID, ch.ExternalID, ch.ServerScope, ch.Name)
	}
	return nil
}
