package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Rahuldrabit/support-agent/internal/logutil"
	"github.com/Rahuldrabit/support-agent/llm"
	"github.com/Rahuldrabit/support-agent/store"
	"github.com/spf13/cobra"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Operate directly on the local database",
	}
	cmd.AddCommand(newAdminEscalateCmd())
	cmd.AddCommand(newAdminOverrideCmd())
	cmd.AddCommand(newAdminConfigCmd())
	cmd.AddCommand(newAdminJobCancelCmd())
	return cmd
}

func adminStore() (*store.Store, error) {
	logger, err := logutil.LoggerFromViper()
	if err != nil {
		return nil, err
	}
	return openStoreFromViper(logger)
}

func adminContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

func newAdminEscalateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "escalate <conversation-id>",
		Short: "Force a conversation into the escalated state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid conversation id: %q", args[0])
			}
			reason, _ := cmd.Flags().GetString("reason")
			if strings.TrimSpace(reason) == "" {
				reason = "manual_escalation"
			}

			st, err := adminStore()
			if err != nil {
				return err
			}
			ctx, cancel := adminContext()
			defer cancel()
			if err := st.EscalateConversation(ctx, uint(id), reason); err != nil {
				return err
			}
			fmt.Printf("conversation %d escalated (%s)\n", id, reason)
			return nil
		},
	}
	cmd.Flags().String("reason", "", "Escalation reason (default manual_escalation).")
	return cmd
}

func newAdminOverrideCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "override <message-id> <content>",
		Short: "Replace the content of an outbound message before delivery",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid message id: %q", args[0])
			}
			st, err := adminStore()
			if err != nil {
				return err
			}
			ctx, cancel := adminContext()
			defer cancel()
			if err := st.OverrideMessageContent(ctx, uint(id), args[1]); err != nil {
				return err
			}
			fmt.Printf("message %d overridden\n", id)
			return nil
		},
	}
}

func newAdminConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and write agent configuration keys",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print one configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := adminStore()
			if err != nil {
				return err
			}
			ctx, cancel := adminContext()
			defer cancel()
			value, err := st.GetConfig(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		},
	})

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set one configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, _ := cmd.Flags().GetString("description")
			st, err := adminStore()
			if err != nil {
				return err
			}
			ctx, cancel := adminContext()
			defer cancel()
			if err := st.SetConfig(ctx, args[0], args[1], desc); err != nil {
				return err
			}
			fmt.Printf("%s = %s\n", args[0], args[1])
			return nil
		},
	}
	setCmd.Flags().String("description", "", "Human-readable note stored with the key.")
	cmd.AddCommand(setCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Insert the default prompt and policy keys, skipping ones that exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := adminStore()
			if err != nil {
				return err
			}
			ctx, cancel := adminContext()
			defer cancel()
			inserted, err := st.SeedDefaults(ctx, llm.DefaultAgentConfig())
			if err != nil {
				return err
			}
			fmt.Printf("seeded %d keys\n", inserted)
			return nil
		},
	})

	return cmd
}

func newAdminJobCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel-job <job-id>",
		Short: "Cancel a queued delivery job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := adminStore()
			if err != nil {
				return err
			}
			ctx, cancel := adminContext()
			defer cancel()
			if err := st.CancelJob(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("job %s cancelled\n", args[0])
			return nil
		},
	}
}
