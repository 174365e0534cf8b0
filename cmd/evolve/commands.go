package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/boristopalov/highway-evolution/pkg/config"
	"github.com/boristopalov/highway-evolution/pkg/evolution"
	"github.com/boristopalov/highway-evolution/pkg/store"
	"github.com/boristopalov/highway-evolution/pkg/training"
)

func newTrainCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Train the agent and save the half and final checkpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return train(cmd, cfg, logger)
		},
	}
}

func train(cmd *cobra.Command, cfg *config.Config, logger *zap.Logger) error {
	session, err := training.NewSession(cfg, training.WithLogger(logger))
	if err != nil {
		return err
	}
	res, err := session.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if res.Half != nil {
		fmt.Fprintf(out, "[Saved half model] %s (step %s)\n", res.Half.Path, humanize.Comma(int64(res.Half.CreatedAtStep)))
	} else if res.HalfErr != nil {
		fmt.Fprintf(out, "[Half model not saved] %v\n", res.HalfErr)
	}
	fmt.Fprintf(out, "[Saved final model] %s\n", res.Final.Path)
	fmt.Fprintf(out, "Run %s: %s steps, %d episodes, mean reward %.2f\n",
		res.RunID, humanize.Comma(int64(res.Timesteps)), res.Episodes, res.MeanReward)
	return nil
}

func newRecordCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "record",
		Short: "Record one episode for the untrained, half-trained and final agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return record(cmd, cfg, logger)
		},
	}
}

func record(cmd *cobra.Command, cfg *config.Config, logger *zap.Logger) error {
	recs, err := evolution.RecordStages(cmd.Context(), cfg, evolution.WithLogger(logger))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Recorded:")
	for _, r := range recs {
		fmt.Fprintf(out, "  %-10s %s\n", r.Stage.String()+":", r.Recording.Path)
	}
	return nil
}

func newStitchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stitch",
		Short: "Concatenate the three stage clips into the evolution animation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return stitch(cmd, cfg, logger)
		},
	}
}

func stitch(cmd *cobra.Command, cfg *config.Config, logger *zap.Logger) error {
	res, err := evolution.Stitch(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved: %s (%s, %s)\n",
		res.Path, res.Stats.Duration.Round(10*time.Millisecond), humanize.Bytes(uint64(res.Size)))
	return nil
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Train, record and stitch in one go",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if err := train(cmd, cfg, logger); err != nil {
				return err
			}
			if err := record(cmd, cfg, logger); err != nil {
				return err
			}
			return stitch(cmd, cfg, logger)
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past training runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			st, err := store.NewStore(cfg.Store.Backend, cfg.Store.Path)
			if err != nil {
				return err
			}
			defer store.CloseIfSupported(st)
			if err := st.Init(cmd.Context()); err != nil {
				return err
			}

			runs, err := st.ListRuns(cmd.Context())
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
				return nil
			}
			if limit > 0 && len(runs) > limit {
				runs = runs[:limit]
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tENV\tSTATUS\tSTARTED\tSTEPS\tEPISODES\tCHECKPOINTS")
			for _, run := range runs {
				eps, err := st.ListEpisodes(cmd.Context(), run.ID)
				if err != nil {
					return err
				}
				cps, err := st.ListCheckpoints(cmd.Context(), run.ID)
				if err != nil {
					return err
				}
				kinds := ""
				for i, cp := range cps {
					if i > 0 {
						kinds += ","
					}
					kinds += cp.Kind
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					run.ID, run.EnvID, run.Status, humanize.Time(run.StartedAt),
					humanize.Comma(int64(run.TotalTimesteps)), len(eps), kinds)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to show (0 for all)")
	return cmd
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration, or write it with --out",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if outPath != "" {
				if err := cfg.Save(outPath); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", outPath)
				return nil
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the configuration to this path")
	return cmd
}
