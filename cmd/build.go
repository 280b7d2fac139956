package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tinkerbench/sketch/internal/config"
	"github.com/tinkerbench/sketch/internal/logging"
)

var buildOutput string

var buildCmd = &cobra.Command{
	Use:   "build [project-dir]",
	Short: "Compile the project once and emit the preview document",
	Long: `Run one compile pass over the project directory and print the
assembled preview document. Exits non-zero when any file fails to
compile, after printing the document (which embeds the diagnostics).

Examples:
  sketch build                    # Print to stdout
  sketch build ./widgets -o preview.html`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringVarP(&buildOutput, "output", "o", "", "Write the document to a file instead of stdout")
	buildCmd.Flags().Int("workers", 0, "Transform worker count (0 = number of CPUs)")
	viper.BindPFlag("pipeline.workers", buildCmd.Flags().Lookup("workers"))
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.NewLogger(&logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Format: "text",
		Output: os.Stderr,
	})

	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}

	ctx := context.Background()
	tree, dirWatcher, err := seedTree(ctx, dir, cfg, logger)
	if err != nil {
		return fmt.Errorf("seed project from %s: %w", dir, err)
	}
	dirWatcher.Stop()

	pipe, err := newPipeline(tree, cfg, logger)
	if err != nil {
		return err
	}

	result := pipe.RunOnce(ctx)

	if buildOutput != "" {
		if err := os.WriteFile(buildOutput, []byte(result.Document), 0o644); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(os.Stdout, result.Document)
	}

	for _, failure := range result.Failures {
		fmt.Fprintf(os.Stderr, "error: %s: %s\n", failure.Path, failure.Message)
	}
	if len(result.Failures) > 0 {
		return fmt.Errorf("%d file(s) failed to compile", len(result.Failures))
	}
	return nil
}
