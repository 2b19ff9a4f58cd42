package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/goodtune/chronos/internal/config"
	"github.com/goodtune/chronos/internal/permission"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check CONTRACTOR [PERMISSION...]",
	Short: "Check permission decisions",
	Long: `Check what the configured authorizer decides for a contractor. With no
permissions given, every known permission is checked.`,
	Example: `  chronos -c config.yaml check parent
  chronos check sitter pause_timer resume_timer`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	perms := permission.All
	if len(args) > 1 {
		perms = make([]permission.Permission, 0, len(args)-1)
		for _, name := range args[1:] {
			p := permission.Permission(name)
			if !permission.Valid(p) {
				return fmt.Errorf("unknown permission %q", name)
			}
			perms = append(perms, p)
		}
	}

	authz, err := newAuthorization(cfg.Permissions, zerolog.Nop())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	contractor := permission.Contractor{ID: args[0]}

	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	_, _ = cyan.Printf("Contractor %s (%s engine)\n", contractor.ID, cfg.Permissions.Engine)
	for _, p := range perms {
		allowed, err := authz.Allowed(ctx, contractor, p)
		if err != nil {
			return fmt.Errorf("evaluate %s: %w", p, err)
		}
		if allowed {
			_, _ = green.Printf("  ALLOW  %s\n", p)
		} else {
			_, _ = red.Printf("  DENY   %s\n", p)
		}
	}
	return nil
}
