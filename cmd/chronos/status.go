package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/chronos/internal/config"
	"github.com/goodtune/chronos/internal/quota"
	"github.com/goodtune/chronos/internal/storage"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status USER",
	Short: "Show a user's quota",
	Long: `Show a user's quota slots, the time left and the weekly replenishment
table. A session mirrored in storage by a running server is taken into account.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	id := args[0]
	user, err := eng.User(ctx, id)
	if err != nil {
		return fmt.Errorf("user %s: %w", id, err)
	}

	session, err := store.Sessions().GetSession(ctx, id)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to read session: %w", err)
	}

	bold := color.New(color.Bold)
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow, color.Bold)

	_, _ = cyan.Printf("User %s\n", user.ID)
	if user.Operator {
		_, _ = yellow.Println("  operator: yes")
	} else {
		fmt.Println("  operator: no")
	}
	fmt.Printf("  slots:    %v\n", formatSlots(user.Slots))

	total := time.Duration(quota.Sum(user.Slots)) * time.Second
	fmt.Printf("  total:    %s\n", total)

	left := total
	if session != nil {
		left = time.Until(session.Expiry())
		if left < 0 {
			left = 0
		}
		_, _ = yellow.Printf("  session:  running since %s\n", session.StartTime.Local().Format(time.DateTime))
	}
	if left > 0 {
		_, _ = green.Printf("  left:     %s\n", left.Truncate(time.Second))
	} else {
		_, _ = color.New(color.FgRed, color.Bold).Println("  left:     0s")
	}

	_, _ = cyan.Println("\nReplenishment")
	loc, err := cfg.Replenish.Location()
	if err != nil {
		return err
	}
	today := time.Now().In(loc).Weekday()
	for _, day := range []time.Weekday{
		time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
		time.Friday, time.Saturday, time.Sunday,
	} {
		amount, err := eng.ReplenishmentAmount(ctx, day)
		if err != nil {
			return err
		}
		line := fmt.Sprintf("  %-10s %s", storage.WeekdayKey(day), amount)
		if day == today {
			_, _ = bold.Println(line + "  (today)")
		} else {
			fmt.Println(line)
		}
	}
	fmt.Printf("\n  next replenish: %s\n", eng.NextReplenish().Format(time.DateTime+" MST"))

	return nil
}

func formatSlots(slots []int64) string {
	if len(slots) == 0 {
		return "[]"
	}
	out := make([]time.Duration, len(slots))
	for i, s := range slots {
		out[i] = time.Duration(s) * time.Second
	}
	return fmt.Sprint(out)
}
