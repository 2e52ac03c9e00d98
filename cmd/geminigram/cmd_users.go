package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/eniggman/geminigram/internal/access"
)

func init() {
	rootCmd.AddCommand(usersCmd)
	usersCmd.AddCommand(usersListCmd, usersAddCmd, usersDelCmd)
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage the allow-list",
}

func openAccessList() *access.List {
	cfg := loadConfig()
	return access.NewList(filepath.Join(cfg.DataDir, "users.json"), cfg.AdminID, cfg.AllowedUsers)
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List allowed user ids",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list := openAccessList()
		ids := list.IDs()
		if len(ids) == 0 {
			fmt.Fprintln(os.Stdout, "No users in the allow-list.")
			return nil
		}
		for _, id := range ids {
			marker := ""
			if list.IsAdmin(id) {
				marker = " (admin)"
			}
			fmt.Fprintf(os.Stdout, "%d%s\n", id, marker)
		}
		return nil
	},
}

var usersAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Add a user id to the allow-list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("user id must be a number: %q", args[0])
		}
		if err := openAccessList().Add(id); err != nil {
			return fmt.Errorf("add user: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Added %d.\n", id)
		return nil
	},
}

var usersDelCmd = &cobra.Command{
	Use:   "del <id>",
	Short: "Remove a user id from the allow-list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("user id must be a number: %q", args[0])
		}
		if err := openAccessList().Remove(id); err != nil {
			return fmt.Errorf("remove user: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Removed %d.\n", id)
		return nil
	},
}
