// labsh runs the lab terminal and grader locally, without the server.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashureev/courselab/internal/audit"
	"github.com/ashureev/courselab/internal/progress"
	"github.com/ashureev/courselab/internal/sandbox"
	"github.com/ashureev/courselab/internal/store"
	"github.com/ashureev/courselab/internal/terminal"
	"github.com/ashureev/courselab/internal/vfs"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "labsh",
		Short:         "Course lab terminal and grader",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(shellCmd(), gradeCmd())
	return root
}

func shellCmd() *cobra.Command {
	var (
		sandboxed bool
		student   string
		root      string
		showAudit bool
	)
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive lab terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
			policy := sandbox.DefaultPolicy()
			if root != "" {
				policy.Root = root
			}
			cfg := sandbox.NewConfig(sandboxed, policy, student, "local")

			ctx := cmd.Context()
			auditLog, err := audit.Open(ctx, store.NewMemoryLocalStore(), logger)
			if err != nil {
				return fmt.Errorf("open audit log: %w", err)
			}
			interp := terminal.NewInterpreter(cfg, vfs.New(cfg.Root()), auditLog, terminal.WithLogger(logger))
			session := terminal.NewSession(interp)

			if err := repl(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), session); err != nil {
				return err
			}

			if showAudit {
				for _, e := range auditLog.Entries() {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", e.Timestamp.Format("15:04:05"), e.Directory, e.Command)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&sandboxed, "sandboxed", true, "enforce the sandbox policy")
	cmd.Flags().StringVar(&student, "student", "", "student id shown in the prompt")
	cmd.Flags().StringVar(&root, "root", "", "sandbox root (default "+sandbox.DefaultRoot+")")
	cmd.Flags().BoolVar(&showAudit, "audit", false, "print the command audit log on exit")
	return cmd
}

// repl reads lines until EOF or "exit".
func repl(ctx context.Context, in io.Reader, out io.Writer, session *terminal.Session) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, session.Prompt())
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "exit" {
			return nil
		}
		if output := session.Submit(ctx, line); output != "" {
			fmt.Fprintln(out, output)
		}
	}
}

func gradeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grade <code-file> <solution-file>",
		Short: "Run the heuristic completion check on a code file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading code: %w", err)
			}
			solution, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("reading solution: %w", err)
			}

			m := progress.HeuristicGrader{}.Match(string(code), string(solution))
			out := cmd.OutOrStdout()
			if m.ByLines {
				fmt.Fprintf(out, "solution has no tokens; %d non-blank lines (need %d)\n", m.Lines, progress.MinLinesWithoutSolution)
			} else {
				fmt.Fprintf(out, "matched %d of %d solution tokens (need %d)\n", m.Matched, m.SolutionTokens, m.Required)
			}
			if m.Passed {
				fmt.Fprintln(out, "PASS")
			} else {
				fmt.Fprintln(out, "FAIL")
			}
			return nil
		},
	}
}
