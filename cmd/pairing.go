package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/zulipgate/internal/channels/zulip"
	"github.com/nextlevelbuilder/zulipgate/internal/config"
	"github.com/nextlevelbuilder/zulipgate/internal/store"
	"github.com/nextlevelbuilder/zulipgate/internal/store/file"
)

func pairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Manage DM pairing approvals",
	}
	cmd.AddCommand(pairingListCmd())
	cmd.AddCommand(pairingApproveCmd())
	cmd.AddCommand(pairingRevokeCmd())
	return cmd
}

func pairingListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending requests and approved senders",
		RunE: func(cmd *cobra.Command, args []string) error {
			pairing, err := openPairingStore()
			if err != nil {
				return err
			}

			pending := pairing.ListPending(zulip.ChannelName)
			if len(pending) == 0 {
				cmd.Println("No pending pairing requests.")
			} else {
				cmd.Println("Pending:")
				for _, req := range pending {
					cmd.Printf("  %s  sender=%s  requested=%s\n",
						req.Code, req.SenderID, req.CreatedAt.Format("2006-01-02 15:04"))
				}
			}

			paired := pairing.ListPaired(zulip.ChannelName)
			if len(paired) == 0 {
				cmd.Println("No approved senders.")
			} else {
				cmd.Println("Approved:")
				for _, id := range paired {
					cmd.Printf("  %s\n", id)
				}
			}
			return nil
		},
	}
}

func pairingApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <code>",
		Short: "Approve a pairing request by its verification code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pairing, err := openPairingStore()
			if err != nil {
				return err
			}
			req, err := pairing.Approve(args[0])
			if err != nil {
				return fmt.Errorf("approve %s: %w", args[0], err)
			}
			cmd.Printf("Approved sender %s on %s.\n", req.SenderID, req.Channel)
			return nil
		},
	}
}

func pairingRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <sender-id>",
		Short: "Revoke a sender's pairing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pairing, err := openPairingStore()
			if err != nil {
				return err
			}
			if err := pairing.Revoke(args[0], zulip.ChannelName); err != nil {
				return fmt.Errorf("revoke %s: %w", args[0], err)
			}
			cmd.Printf("Revoked pairing for sender %s.\n", args[0])
			return nil
		},
	}
}

func openPairingStore() (store.PairingStore, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	return file.NewPairingStore(cfg.ResolveStateDir())
}
