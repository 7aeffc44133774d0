package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Alex-f1/poly-bem/internal/config"
	"github.com/Alex-f1/poly-bem/internal/reporter"
	"github.com/Alex-f1/poly-bem/internal/site"
	"github.com/Alex-f1/poly-bem/internal/task"
	"github.com/Alex-f1/poly-bem/internal/ui"
)

var (
	flagDir         string
	flagMaxParallel int
	flagJSON        bool
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

// run executes the command line and returns the process exit code.
func run(args []string, stderr io.Writer) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "%s %v\n", ui.Red("✗"), err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "polybem",
		Short: "Build a BEM static site and serve it with live reload",
		Long: `Poly-Bem compiles Handlebars templates with BEM attributes, Stylus
stylesheets and scripts from assets/ into dist/, serves dist/ on a local
port and rebuilds and reloads the browser when sources change.

Without a subcommand it runs the watch task until interrupted.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runWatch,
	}

	rootCmd.PersistentFlags().StringVar(&flagDir, "dir", ".", "Project root")
	rootCmd.PersistentFlags().IntVar(&flagMaxParallel, "max-parallel", 0, "Max concurrent tasks (default from config)")

	rootCmd.AddCommand(buildCmd())
	rootCmd.AddCommand(tasksCmd())
	return rootCmd
}

// setup loads the project configuration and declares the site.
func setup() (*site.Site, *ui.Logger, error) {
	root, err := filepath.Abs(flagDir)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, nil, err
	}
	if flagMaxParallel > 0 {
		cfg.Runner.MaxParallel = flagMaxParallel
	}

	log := ui.NewLogger(os.Stderr)
	if cfg.File != "" {
		log.Log("Using config", ui.Magenta(cfg.File))
	}

	s, err := site.New(root, cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("declare tasks: %w", err)
	}
	return s, log, nil
}

func shutdown(s *site.Site) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Close(ctx)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, log, err := setup()
	if err != nil {
		return err
	}
	defer shutdown(s)

	if _, err := s.Runner.Run(ctx, site.TaskWatch); err != nil {
		return err
	}

	<-ctx.Done()
	fmt.Fprintln(os.Stderr)
	log.Log(ui.Yellow("Received interrupt, shutting down..."))
	return nil
}

func buildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build [task...]",
		Short: "Run tasks once (default: build) and print a summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{site.TaskBuild}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, _, err := setup()
			if err != nil {
				return err
			}
			defer shutdown(s)

			st, runErr := s.Runner.Run(ctx, args...)
			rpt := reporter.New(st)

			if flagJSON {
				data, err := rpt.JSON()
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return runErr
			}

			if runErr != nil {
				rpt.PrintSummary(os.Stderr)
				return runErr
			}
			rpt.PrintSummary(os.Stdout)
			return nil
		},
	}
	cmd.Flags().BoolVar(&flagJSON, "json", false, "Machine-readable JSON output")
	return cmd
}

func tasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks [task...]",
		Short: "List tasks, their prerequisites and the execution waves",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{site.TaskWatch}
			}

			s, _, err := setup()
			if err != nil {
				return err
			}

			p, err := s.Runner.Plan(args...)
			if err != nil {
				return err
			}

			if flagJSON {
				return outputJSON(p)
			}

			var tasks []*task.Task
			for _, name := range s.Registry.Names() {
				t, _ := s.Registry.Lookup(name)
				tasks = append(tasks, t)
			}
			reporter.PrintTasks(os.Stdout, tasks)
			fmt.Println()
			reporter.PrintPlan(os.Stdout, p)
			return nil
		},
	}
	cmd.Flags().BoolVar(&flagJSON, "json", false, "Machine-readable JSON output")
	return cmd
}

func outputJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
