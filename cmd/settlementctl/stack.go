package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/settlementops/internal/app"
	"github.com/dharsanguruparan/settlementops/internal/config"
)

// stackServices are the services docker-compose.yml defines.
var stackServices = []string{"api", "worker", "postgres", "redis", "minio"}

// runner executes external commands. Tests replace it.
var runner = runCommand

func newBuildCmd() *cobra.Command {
	var noCache bool
	cmd := &cobra.Command{
		Use:       "build [service...]",
		Short:     "Build the api and worker images",
		ValidArgs: stackServices,
		Args:      cobra.OnlyValidArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return compose(cmd.Context(), "build", flagIf(noCache, "--no-cache"), args)
		},
	}
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Disable Docker build cache")
	return cmd
}

func newUpCmd() *cobra.Command {
	var detach, skipBuild bool
	cmd := &cobra.Command{
		Use:       "up [service...]",
		Short:     "Start the api, worker, postgres, redis and minio services",
		Long:      "Starts the stack from docker-compose.yml. ANTHROPIC_API_KEY or GEMINI_API_KEY is passed through from the environment.",
		ValidArgs: stackServices,
		Args:      cobra.OnlyValidArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := append(flagIf(!skipBuild, "--build"), flagIf(detach, "-d")...)
			return compose(cmd.Context(), "up", flags, args)
		},
	}
	cmd.Flags().BoolVarP(&detach, "detached", "d", true, "Run docker compose in detached mode")
	cmd.Flags().BoolVar(&skipBuild, "skip-build", false, "Skip rebuilding images before starting")
	return cmd
}

func newDownCmd() *cobra.Command {
	var removeVolumes bool
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop the stack",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return compose(cmd.Context(), "down", flagIf(removeVolumes, "-v"), nil)
		},
	}
	cmd.Flags().BoolVarP(&removeVolumes, "volumes", "v", false, "Remove the postgres and minio volumes, deleting stored cases")
	return cmd
}

func newLogsCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:       "logs [service...]",
		Short:     "Show logs from stack services",
		ValidArgs: stackServices,
		Args:      cobra.OnlyValidArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return compose(cmd.Context(), "logs", flagIf(follow, "--follow"), args)
		},
	}
	// -f is taken by --compose-file.
	cmd.Flags().BoolVar(&follow, "follow", false, "Stream logs continuously")
	return cmd
}

func newTestCmd() *cobra.Command {
	var race, cover bool
	cmd := &cobra.Command{
		Use:   "test [packages]",
		Short: "Run Go tests (defaults to ./...)",
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgs := args
			if len(pkgs) == 0 {
				pkgs = []string{"./..."}
			}
			goArgs := []string{"test"}
			if race {
				goArgs = append(goArgs, "-race")
			}
			if cover {
				goArgs = append(goArgs, "-cover")
			}
			goArgs = append(goArgs, pkgs...)
			return runner(cmd.Context(), "go", goArgs...)
		},
	}
	cmd.Flags().BoolVar(&race, "race", false, "Enable Go race detector")
	cmd.Flags().BoolVar(&cover, "cover", false, "Collect coverage data")
	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the server or worker binary directly",
	}
	cmd.AddCommand(
		newServiceRunner("server", "./cmd/server"),
		newServiceRunner("worker", "./cmd/worker"),
	)
	return cmd
}

func newServiceRunner(name, path string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("go run %s", path),
		RunE: func(cmd *cobra.Command, args []string) error {
			goArgs := append([]string{"run", path}, args...)
			return runner(cmd.Context(), "go", goArgs...)
		},
	}
}

// newMigrateCmd creates the cases table for the configured database driver.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema for the configured driver",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			_, closeRepo, err := app.OpenRepository(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			closeRepo()
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready (%s)\n", cfg.DatabaseDriver)
			return nil
		},
	}
}

func compose(ctx context.Context, sub string, flags, services []string) error {
	args := append([]string{"compose", "-f", composeFile, sub}, flags...)
	return runner(ctx, "docker", append(args, services...)...)
}

func flagIf(on bool, flag string) []string {
	if on {
		return []string{flag}
	}
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	execCmd := exec.CommandContext(ctx, name, args...)
	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr
	execCmd.Stdin = os.Stdin
	return execCmd.Run()
}
