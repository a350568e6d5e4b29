// Command parcheckdemo explores (or replays) a tiny two-task example,
// printing every schedule it steps through. It exists to exercise Runner
// end-to-end the way cmd/divinesense exercises the server: a thin cobra/
// viper/godotenv shell around the library.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/parcheck"
	"github.com/hrygo/parcheck/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "parcheckdemo",
	Short: "Explore or replay schedules for a small concurrent example program.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// One correlation id per invocation, so log lines from this run can
		// be grepped out of a shared CI log even when several parcheckdemo
		// runs interleave their output.
		runID := uuid.New().String()
		logger := slog.Default().With("run_id", runID)

		cfg, err := parcheck.ConfigFromEnv()
		if err != nil {
			return err
		}
		if v := viper.GetInt("max-iterations"); v > 0 {
			cfg.MaxIterations = v
		}
		if v := viper.GetString("replay"); v != "" {
			cfg.Replay = v
		}

		var replayTrace parcheck.Trace
		if cfg.Replay != "" {
			replayTrace, err = parcheck.ParseTrace(cfg.Replay)
			if err != nil {
				return err
			}
		}

		runner := parcheck.NewRunner(cfg).
			Logger(logger).
			Replay(replayTrace).
			BeforeIter(func(_ context.Context, iter int) {
				fmt.Printf("--- iteration %d ---\n", iter)
			}).
			AfterStep(func(_ context.Context, _ int, id parcheck.TaskID, name string) {
				fmt.Printf("  stepped %d:%s\n", id, name)
			})

		ctx := context.Background()
		err = runner.Run(ctx, []string{"producer", "consumer"}, demoBody)
		if err != nil {
			logger.Error("run finished with an error", "error", err)
			return err
		}
		fmt.Printf("exploration complete (run_id=%s)\n", runID)
		return nil
	},
}

// demoBody is a minimal two-task example: a producer writes into a shared
// slot guarded by an exclusive lock and a consumer reads it, annotated so
// parcheck controls the interleaving between the two operations.
func demoBody(ctx context.Context) error {
	slot := new(string)
	writeOp := parcheck.Op("write")
	readOp := parcheck.Op("read")

	errCh := make(chan error, 2)
	go func() {
		errCh <- parcheck.Task(ctx, "producer", func(ctx context.Context) error {
			return parcheck.Operation(ctx, writeOp, []parcheck.Lock{parcheck.AcquireExclusive("slot"), parcheck.ReleaseLock("slot")}, func(context.Context) error {
				*slot = "hello"
				return nil
			})
		})
	}()
	go func() {
		errCh <- parcheck.Task(ctx, "consumer", func(ctx context.Context) error {
			return parcheck.Operation(ctx, readOp, []parcheck.Lock{parcheck.AcquireShared("slot"), parcheck.ReleaseLock("slot")}, func(context.Context) error {
				_ = *slot
				return nil
			})
		})
	}()

	for range 2 {
		if err := <-errCh; err != nil {
			return err
		}
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().Int("max-iterations", 0, "cap on schedules explored (0 = exhaust the schedule tree)")
	rootCmd.PersistentFlags().String("replay", "", "replay one fixed trace instead of exploring (see PARCHECK_REPLAY)")
	_ = viper.BindPFlag("max-iterations", rootCmd.PersistentFlags().Lookup("max-iterations"))
	_ = viper.BindPFlag("replay", rootCmd.PersistentFlags().Lookup("replay"))

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.StringFull())
		},
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
