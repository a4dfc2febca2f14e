package main

import (
	"context"
	"time"

	"github.com/MrEthical07/credpool"
	"github.com/MrEthical07/credpool/store"
	"github.com/spf13/cobra"
)

func (a *app) addCmd() *cobra.Command {
	var (
		email    string
		password string
		name     string
		priority int
		validate bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withPool(func(ctx context.Context, p *credpool.Pool) error {
				in := credpool.AddAccountInput{Email: email, Password: password, Name: name}
				if cmd.Flags().Changed("priority") {
					in.Priority = &priority
				}

				switch {
				case cmd.Flags().Changed("validate"):
					in.Validate = validate
				case p.Settings().AutoValidateOnAdd:
					if a.cfg.Validation.BaseURL != "" {
						in.Validate = true
					} else {
						a.log.Warn("autoValidateOnAdd is set but no validation base URL is configured, adding without validation")
					}
				}

				view, err := p.AddAccount(ctx, in)
				if err != nil {
					return err
				}
				return a.print(view)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the email)")
	cmd.Flags().IntVar(&priority, "priority", 1, "priority; lower is preferred")
	cmd.Flags().BoolVar(&validate, "validate", false, "sign in upstream before storing")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func (a *app) removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return a.withPool(func(ctx context.Context, p *credpool.Pool) error {
				if err := p.RemoveAccount(ctx, args[0]); err != nil {
					return err
				}
				return a.print(map[string]any{"id": args[0], "removed": true})
			})
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	var opts credpool.ListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return a.withPool(func(_ context.Context, p *credpool.Pool) error {
				return a.print(p.ListAccounts(opts))
			})
		},
	}
	cmd.Flags().BoolVar(&opts.IncludeStats, "stats", false, "include usage counters")
	cmd.Flags().BoolVar(&opts.IncludeSensitive, "sensitive", false, "show full email addresses")
	return cmd
}

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <id>",
		Short: "Re-check an account's credentials upstream",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return a.withPool(func(ctx context.Context, p *credpool.Pool) error {
				ok, err := p.ValidateAccount(ctx, args[0])
				if err != nil {
					return err
				}
				return a.print(map[string]any{"id": args[0], "valid": ok})
			})
		},
	}
}

func (a *app) settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change rotation settings",
	}

	get := &cobra.Command{
		Use:   "get",
		Short: "Print the current settings",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return a.withPool(func(_ context.Context, p *credpool.Pool) error {
				return a.print(p.Settings())
			})
		},
	}

	var (
		strategy     string
		rateLimit    int
		window       time.Duration
		cooldown     time.Duration
		maxRetries   int
		autoValidate bool
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Change settings; unset flags are left as they are",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var upd credpool.SettingsUpdate
			f := cmd.Flags()
			if f.Changed("strategy") {
				s, err := store.ParseStrategy(strategy)
				if err != nil {
					return err
				}
				upd.RotationStrategy = &s
			}
			if f.Changed("rate-limit") {
				upd.RateLimitPerAccount = &rateLimit
			}
			if f.Changed("window") {
				ms := window.Milliseconds()
				upd.RateLimitWindowMs = &ms
			}
			if f.Changed("cooldown") {
				ms := cooldown.Milliseconds()
				upd.CooldownMs = &ms
			}
			if f.Changed("max-retries") {
				upd.MaxRetries = &maxRetries
			}
			if f.Changed("auto-validate") {
				upd.AutoValidateOnAdd = &autoValidate
			}

			return a.withPool(func(ctx context.Context, p *credpool.Pool) error {
				s, err := p.UpdateSettings(ctx, upd)
				if err != nil {
					return err
				}
				return a.print(s)
			})
		},
	}
	set.Flags().StringVar(&strategy, "strategy", "", "round-robin, least-used, random or priority")
	set.Flags().IntVar(&rateLimit, "rate-limit", 0, "requests per account per window")
	set.Flags().DurationVar(&window, "window", 0, "rate-limit window length")
	set.Flags().DurationVar(&cooldown, "cooldown", 0, "pause after an account hits its limit")
	set.Flags().IntVar(&maxRetries, "max-retries", 0, "attempts per call")
	set.Flags().BoolVar(&autoValidate, "auto-validate", true, "validate new accounts by default")

	cmd.AddCommand(get, set)
	return cmd
}

func (a *app) resetLimitsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-limits",
		Short: "Clear every account's rate-limit window",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return a.withPool(func(ctx context.Context, p *credpool.Pool) error {
				if err := p.ResetRateLimits(ctx); err != nil {
					return err
				}
				return a.print(map[string]any{"reset": true})
			})
		},
	}
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print aggregate request statistics",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return a.withPool(func(_ context.Context, p *credpool.Pool) error {
				return a.print(p.Statistics())
			})
		},
	}
}

func (a *app) usageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Print the scheduler's view of every account",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return a.withPool(func(_ context.Context, p *credpool.Pool) error {
				u, err := p.Usage()
				if err != nil {
					return err
				}
				return a.print(u)
			})
		},
	}
}
