package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/supportline/internal/proto"
)

func newRegisterCmd(flags *globalFlags) *cobra.Command {
	var (
		password string
		role     string
	)
	cmd := &cobra.Command{
		Use:   "register <username>",
		Short: "Create a student or supporter account and print its credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(flags)
			if err != nil {
				return err
			}
			resp, err := e.api.Register(cmd.Context(), args[0], password, proto.Role(role))
			if err != nil {
				return err
			}
			printCredential(cmd, resp)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().StringVar(&role, "role", string(proto.RoleStudent), "student or supporter")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLoginCmd(flags *globalFlags) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Exchange a password for a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(flags)
			if err != nil {
				return err
			}
			resp, err := e.api.Login(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			printCredential(cmd, resp)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func printCredential(cmd *cobra.Command, resp proto.AuthResponse) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "signed in as %s (%s, %s)\n", resp.User.Name, resp.User.Role, resp.User.ID)
	fmt.Fprintf(out, "export SUPPORTLINE_CREDENTIAL=%s\n", resp.Token)
}

func newRoomsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List your support rooms",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(flags)
			if err != nil {
				return err
			}
			rooms, err := e.api.Rooms(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range rooms {
				fmt.Fprintf(out, "%s  %-8s %-6s %s\n", r.ID, r.Status, r.Urgency, r.Topic)
			}
			return nil
		},
	}
}
