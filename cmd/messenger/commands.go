package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd, contactsCmd, historyCmd, sendCmd, statsCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <token>",
	Short: "Store a bearer token and start a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := a.session.Login(ctx, strings.TrimSpace(args[0]))
		if err != nil {
			return err
		}
		if outputFmt == "yaml" {
			return printYAML(cmd.OutOrStdout(), id)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Logged in to the %s session as %s (%s).\n", sessionDomain(), id.Email, id.Role)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.session.Logout(ctx)
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the identity of the stored session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := a.requireIdentity()
		if err != nil {
			return err
		}
		if outputFmt == "yaml" {
			return printYAML(cmd.OutOrStdout(), id)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\nrole:    %s\nuser id: %s\nsession: %s\n", id.Email, id.Role, id.UserID, sessionDomain())
		return nil
	},
}

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "List conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		if _, err := a.requireIdentity(); err != nil {
			return err
		}

		r := a.reconciler()
		if err := r.LoadContacts(ctx); err != nil {
			return err
		}
		contacts := r.Snapshot().Contacts
		if outputFmt == "yaml" {
			return printYAML(cmd.OutOrStdout(), contacts)
		}
		printContacts(cmd.OutOrStdout(), contacts)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <contact-id|link>",
	Short: "Show the message history with a contact",
	Long: `Show the message history with a contact. The argument is a contact id
or a link carrying ?contact=<id> or ?provider=<id>. Unknown contacts are
initiated first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		id, err := a.requireIdentity()
		if err != nil {
			return err
		}

		r := a.reconciler()
		if err := r.LoadContacts(ctx); err != nil {
			warnf(cmd, "contact list unavailable: %v", err)
		}
		if err := r.SelectDeepLink(ctx, args[0]); err != nil {
			return err
		}
		view := r.Snapshot()
		if outputFmt == "yaml" {
			return printYAML(cmd.OutOrStdout(), view.Messages)
		}
		printMessages(cmd.OutOrStdout(), view.Messages, id.UserID)
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <contact-id|link> <text...>",
	Short: "Send a message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		id, err := a.requireIdentity()
		if err != nil {
			return err
		}

		r := a.reconciler()
		if err := r.LoadContacts(ctx); err != nil {
			warnf(cmd, "contact list unavailable: %v", err)
		}
		if err := r.SelectDeepLink(ctx, args[0]); err != nil {
			return err
		}
		msg, err := r.Send(ctx, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		if outputFmt == "yaml" {
			return printYAML(cmd.OutOrStdout(), msg)
		}
		printMessage(cmd.OutOrStdout(), msg, id.UserID)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the unread message count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		if _, err := a.requireIdentity(); err != nil {
			return err
		}

		stats, err := a.client.Stats(ctx, a.session.Credentials())
		if err != nil {
			return err
		}
		if outputFmt == "yaml" {
			return printYAML(cmd.OutOrStdout(), stats)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s unread %s\n", humanize.Comma(int64(stats.UnreadMessages)), plural(stats.UnreadMessages, "message"))
		return nil
	},
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// warnf reports a failure that does not stop the command.
func warnf(cmd *cobra.Command, format string, args ...interface{}) {
	fmt.Fprintf(cmd.ErrOrStderr(), "warning: "+format+"\n", args...)
}
