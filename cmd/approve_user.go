package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	approveRevoke bool
	approveAdmin  bool
)

var approveUserCmd = &cobra.Command{
	Use:   "approve-user <username>",
	Short: "Approve (or revoke) an account so it can log in",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		var admin *bool
		if cmd.Flags().Changed("admin") {
			admin = &approveAdmin
		}
		username := args[0]
		if err := a.auth.SetApproval(username, !approveRevoke, admin); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("user %q not found", username)
			}
			return err
		}

		if approveRevoke {
			fmt.Fprintf(cmd.OutOrStdout(), "Approval of %s revoked.\n", username)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s approved.\n", username)
		}
		return nil
	},
}

func init() {
	approveUserCmd.Flags().BoolVar(&approveRevoke, "revoke", false, "revoke the approval instead")
	approveUserCmd.Flags().BoolVar(&approveAdmin, "admin", false, "also grant (or with --admin=false remove) administrator rights")
	rootCmd.AddCommand(approveUserCmd)
}
