package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/chronos/internal/config"
	"github.com/goodtune/chronos/internal/engine"
	"github.com/goodtune/chronos/internal/storage"
	"github.com/spf13/cobra"
)

var (
	operatorOff bool
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage quota users",
	Long: `Create users, change operator flags and grant extra time.

These commands write the same documents a running server uses. Stop the
server or use the admin API when sessions are running.`,
}

var userCreateCmd = &cobra.Command{
	Use:   "create ID",
	Short: "Create a user with the configured initial quota",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserCreate,
}

var userOperatorCmd = &cobra.Command{
	Use:   "set-operator ID",
	Short: "Mark a user as an operator",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserOperator,
}

var userGrantCmd = &cobra.Command{
	Use:   "grant ID DURATION",
	Short: "Grant extra quota to a user (e.g. 30m)",
	Args:  cobra.ExactArgs(2),
	RunE:  runUserGrant,
}

func init() {
	userOperatorCmd.Flags().BoolVar(&operatorOff, "off", false, "Clear the operator flag instead of setting it")

	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userOperatorCmd)
	userCmd.AddCommand(userGrantCmd)
	rootCmd.AddCommand(userCmd)
}

// withEngine loads the configuration and runs fn against a one-shot engine.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, eng *engine.Engine) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	eng, store, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(ctx, eng)
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	id := args[0]
	return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
		created, err := eng.CreateUser(ctx, id)
		if err != nil {
			return err
		}
		if !created {
			_, _ = color.New(color.FgYellow).Printf("User %s already exists\n", id)
			return nil
		}
		left, err := eng.TimeLeft(ctx, id)
		if err != nil {
			return err
		}
		_, _ = color.New(color.FgGreen).Printf("✅ Created user %s with %s\n", id, left)
		return nil
	})
}

func runUserOperator(cmd *cobra.Command, args []string) error {
	id := args[0]
	operator := !operatorOff
	return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
		err := eng.UpdateUser(ctx, id, func(user *storage.User) error {
			user.Operator = operator
			return nil
		})
		if err != nil {
			return fmt.Errorf("user %s: %w", id, err)
		}
		fmt.Printf("✅ User %s operator: %t\n", id, operator)
		return nil
	})
}

func runUserGrant(cmd *cobra.Command, args []string) error {
	id := args[0]
	amount, err := time.ParseDuration(args[1])
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", args[1], err)
	}
	seconds := int64(amount / time.Second)
	if seconds <= 0 {
		return fmt.Errorf("grant must be at least one second")
	}

	return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
		if err := eng.Grant(ctx, id, seconds); err != nil {
			return fmt.Errorf("user %s: %w", id, err)
		}
		left, err := eng.TimeLeft(ctx, id)
		if err != nil {
			return err
		}
		_, _ = color.New(color.FgGreen).Printf("✅ Granted %s to %s, %s left\n", time.Duration(seconds)*time.Second, id, left)
		return nil
	})
}
