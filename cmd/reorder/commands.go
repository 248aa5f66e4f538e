package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	config "reorder-api/configs"
	"reorder-api/internal/app"
	"reorder-api/pkg/logging"
	"reorder-api/pkg/models"
)

// environment carries what commands need from the process.
type environment struct {
	out    io.Writer
	errOut io.Writer
	now    func() time.Time
	newApp func(ctx context.Context, cfg *config.Config) (*app.App, error)

	cfg *config.Config
}

func defaultEnvironment() *environment {
	return &environment{
		out:    os.Stdout,
		errOut: os.Stderr,
		now:    time.Now,
		newApp: app.New,
	}
}

func newRootCommand(env *environment) *cobra.Command {
	var (
		configFile string
		envFile    string
		verbose    bool
	)

	root := &cobra.Command{
		Use:           "reorder",
		Short:         "Grocery reorder recommendations from your order history",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(envFile); err != nil && cmd.Flags().Changed("env-file") {
				return fmt.Errorf("failed to load %s: %w", envFile, err)
			}

			cfg := config.LoadConfig()
			if configFile != "" {
				var err error
				if cfg, err = config.LoadConfigFile(configFile); err != nil {
					return err
				}
			}
			level := cfg.LogLevel
			if verbose {
				level = "debug"
			} else if level == "info" {
				level = "warn"
			}
			logging.Init(logging.Config{Level: level, Format: "console", Output: env.errOut})
			env.cfg = cfg
			return nil
		},
	}
	root.SetOut(env.out)
	root.SetErr(env.errOut)

	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file overlaid on the environment")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newRecommendCommand(env),
		newSyncCommand(env),
		newImportCommand(env),
		newStatusCommand(env),
		newHistoryCommand(env),
		newBasketCommand(env),
		newConfigCommand(env),
	)
	return root
}

// withApp builds the services for one command run and closes them afterwards.
func (env *environment) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := env.newApp(ctx, env.cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// recommendAddOutput is the --json shape of "recommend --add".
type recommendAddOutput struct {
	Recommendations []models.Recommendation `json:"recommendations"`
	Basket          models.BasketResult     `json:"basket"`
}

func newRecommendCommand(env *environment) *cobra.Command {
	var (
		minScore float64
		maxItems int
		dryRun   bool
		add      bool
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Score purchase patterns and list what to reorder",
		Example: `  reorder recommend
  reorder recommend --min-score 70 --max-items 5
  reorder recommend --add`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if add && dryRun {
				return fmt.Errorf("--add and --dry-run cannot be combined")
			}
			analysis := env.cfg.EngineConfig()
			if cmd.Flags().Changed("min-score") {
				analysis.MinScore = minScore
			}
			if cmd.Flags().Changed("max-items") {
				analysis.MaxItems = maxItems
			}

			return env.withApp(cmd, func(ctx context.Context, a *app.App) error {
				orders, err := a.Store.ListOrders(ctx)
				if err != nil {
					return err
				}
				if len(orders) == 0 {
					printWarning(env.out, "No order history yet. Run 'reorder sync' or 'reorder import FILE' first.")
					return nil
				}

				recs, err := a.Predictor.GenerateRecommendations(ctx, orders, env.now(), analysis)
				if err != nil {
					return err
				}

				if !dryRun {
					if err := a.Store.SaveRecommendations(ctx, recs); err != nil {
						logging.Warn().Err(err).Msg("failed to record recommendations")
					}
				}

				if !add {
					if asJSON {
						return writeJSON(env.out, recs)
					}
					printRecommendations(env.out, recs, len(orders))
					return nil
				}

				result := a.Basket.AddItems(ctx, recs)
				if asJSON {
					return writeJSON(env.out, recommendAddOutput{Recommendations: recs, Basket: result})
				}
				printRecommendations(env.out, recs, len(orders))
				printBasketResult(env.out, result)
				return nil
			})
		},
	}

	cmd.Flags().Float64Var(&minScore, "min-score", models.DefaultMinScore, "minimum score (0-100)")
	cmd.Flags().IntVar(&maxItems, "max-items", models.DefaultMaxItems, "maximum number of recommendations")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "do not record recommendations")
	cmd.Flags().BoolVar(&add, "add", false, "add available recommendations to the basket")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newSyncCommand(env *environment) *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull order history from the ordering service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return env.withApp(cmd, func(ctx context.Context, a *app.App) error {
				result, err := a.Sync.Sync(ctx, full)
				if err != nil {
					return err
				}
				printSuccess(env.out, fmt.Sprintf("Synced %d orders (%d total, %d unique items)",
					result.OrdersSynced, result.TotalOrders, result.UniqueItems))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "sync the full history window instead of recent orders")
	return cmd
}

func newImportCommand(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Import order history from a .csv or .xlsx file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			return env.withApp(cmd, func(ctx context.Context, a *app.App) error {
				orders, report, err := a.Importer.ParseFile(args[0], f)
				if err != nil {
					return err
				}
				if err := a.Store.SaveOrders(ctx, orders); err != nil {
					return err
				}
				printSuccess(env.out, fmt.Sprintf("Imported %d orders from %s (%d rows, %d skipped)",
					report.Orders, report.FileName, report.RowsRead, report.RowsSkipped))
				for _, msg := range report.Errors {
					printWarning(env.out, "  "+msg)
				}
				return nil
			})
		},
	}
}

func newStatusCommand(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show how much order history is stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return env.withApp(cmd, func(ctx context.Context, a *app.App) error {
				orders, err := a.Store.OrderCount(ctx)
				if err != nil {
					return err
				}
				items, err := a.Store.ItemCount(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(env.out, "Orders: %d\nUnique items: %d\nDatabase: %s\n", orders, items, env.cfg.DBPath)
				return nil
			})
		},
	}
}

func newHistoryCommand(env *environment) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past recommendations and what happened to them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return env.withApp(cmd, func(ctx context.Context, a *app.App) error {
				entries, err := a.Store.RecommendationLog(ctx, limit)
				if err != nil {
					return err
				}
				printHistory(env.out, entries)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries")
	return cmd
}

func newBasketCommand(env *environment) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "basket",
		Short: "View or clear the remote basket",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "view",
			Short: "Show the current basket",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return env.withApp(cmd, func(ctx context.Context, a *app.App) error {
					basket, err := a.Basket.GetBasket(ctx)
					if err != nil {
						return err
					}
					printBasket(env.out, basket)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove everything from the basket",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return env.withApp(cmd, func(ctx context.Context, a *app.App) error {
					if err := a.Basket.ClearBasket(ctx); err != nil {
						return err
					}
					printSuccess(env.out, "Basket cleared")
					return nil
				})
			},
		},
	)
	return cmd
}

func newConfigCommand(env *environment) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := env.cfg.YAML()
			if err != nil {
				return err
			}
			_, err = env.out.Write(out)
			if err != nil {
				return err
			}
			if err := env.cfg.Validate(); err != nil {
				printWarning(env.out, err.Error())
			}
			return nil
		},
	})
	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
