package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloudbro-kube-ai/kube-copilot/pkg/ai/prompts"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/manifest"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/render"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/web"
)

// errAborted is returned when the operator declines a confirmation.
var errAborted = errors.New("aborted")

// runTask executes task and renders the final answer as markdown.
// A non-nil before hook runs once the session is ready; returning an error
// stops the run.
func runTask(cmd *cobra.Command, flags *globalFlags, task prompts.Task, before func(*session) error) error {
	if _, err := task.Prompt(); err != nil {
		return err
	}

	s, err := newSession(cmd, flags, true)
	if err != nil {
		return err
	}
	defer s.Close()

	if before != nil {
		if err := before(s); err != nil {
			return err
		}
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	answer, err := s.client.Run(ctx, task, render.NewListener(s.printer, flags.verbose))
	if err != nil {
		return err
	}
	if err := s.printer.Markdown(answer); err != nil {
		return fmt.Errorf("failed to render answer: %w", err)
	}
	return nil
}

// namespaceArg returns args[i] when present, else the --namespace flag.
func namespaceArg(args []string, i int, flag string) string {
	if len(args) > i {
		return args[i]
	}
	return flag
}

func newExecuteCmd(flags *globalFlags) *cobra.Command {
	var instructions string
	var yes bool
	cmd := &cobra.Command{
		Use:   "execute <instructions>",
		Short: "Execute operations based on prompt instructions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if instructions == "" {
				instructions = strings.Join(args, " ")
			}
			if strings.TrimSpace(instructions) == "" {
				return fmt.Errorf("please provide the instructions")
			}
			var before func(*session) error
			if !yes {
				before = func(s *session) error {
					fmt.Fprintf(s.out, "Instructions: %s\n", instructions)
					if !s.confirm("The copilot may run commands against your cluster. Continue?") {
						return errAborted
					}
					return nil
				}
			}
			return runTask(cmd, flags, prompts.Task{Kind: prompts.KindExecute, Instructions: instructions}, before)
		},
	}
	cmd.Flags().StringVar(&instructions, "instructions", "", "Instructions to execute")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newDiagnoseCmd(flags *globalFlags) *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:   "diagnose <pod> [namespace]",
		Short: "Diagnose problems for a Pod",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(cmd, flags, prompts.Task{
				Kind:      prompts.KindDiagnose,
				Pod:       args[0],
				Namespace: namespaceArg(args, 1, namespace),
			}, nil)
		},
	}
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "default", "Pod namespace")
	return cmd
}

func newAuditCmd(flags *globalFlags) *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:   "audit <pod> [namespace]",
		Short: "Audit security issues for a Pod",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(cmd, flags, prompts.Task{
				Kind:      prompts.KindAudit,
				Pod:       args[0],
				Namespace: namespaceArg(args, 1, namespace),
			}, nil)
		},
	}
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "default", "Pod namespace")
	return cmd
}

func newAnalyzeCmd(flags *globalFlags) *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:   "analyze <resource> <name> [namespace]",
		Short: "Analyze issues for a given resource",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(cmd, flags, prompts.Task{
				Kind:      prompts.KindAnalyze,
				Resource:  args[0],
				Name:      args[1],
				Namespace: namespaceArg(args, 2, namespace),
			}, nil)
		},
	}
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "default", "Resource namespace")
	return cmd
}

func newGenerateCmd(flags *globalFlags) *cobra.Command {
	var prompt string
	var yes bool
	cmd := &cobra.Command{
		Use:   "generate <instructions>",
		Short: "Generate Kubernetes manifests",
		RunE: func(cmd *cobra.Command, args []string) error {
			if prompt == "" {
				prompt = strings.Join(args, " ")
			}
			if strings.TrimSpace(prompt) == "" {
				return fmt.Errorf("please specify a prompt")
			}

			s, err := newSession(cmd, flags, true)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			g, err := s.client.Generate(ctx, prompt)
			if err != nil {
				if g != nil {
					fmt.Fprintf(s.out, "\nModel reply:\n\n%s\n\n", g.Reply)
				}
				return err
			}

			fmt.Fprintf(s.out, "\nGenerated manifests:\n\n%s\n\n%s\n", g.Manifest, manifest.Summary(g.Objects))
			if !yes && !s.confirm("Do you approve to apply the generated manifests to cluster?") {
				return nil
			}

			res, err := s.client.Apply(ctx, g.Objects)
			if err != nil {
				if res != nil {
					s.printer.Observation(res.Output)
				}
				return err
			}
			s.printer.Observation(res.Output)
			fmt.Fprintln(s.out, "Applied the generated manifests to cluster successfully!")
			return nil
		},
	}
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Prompts to generate Kubernetes manifests")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Apply without asking for confirmation")
	return cmd
}

func newWebCmd(flags *globalFlags) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "web",
		Short: "Serve the copilot over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Requests have no terminal of their own.
			s, err := newSession(cmd, flags, false)
			if err != nil {
				return err
			}
			defer s.Close()
			if listen != "" {
				s.cfg.Web.Listen = listen
			}

			server := web.NewServer(s.cfg, s.client, &web.VersionInfo{
				Version:   Version,
				BuildTime: BuildTime,
				GitCommit: GitCommit,
			})

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			select {
			case <-ctx.Done():
				fmt.Fprintln(s.out, "\nShutting down...")
				return server.Stop()
			case err := <-errCh:
				return err
			}
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (default from config, :8080)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kube-copilot version %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "  Build time: %s\n", BuildTime)
			fmt.Fprintf(cmd.OutOrStdout(), "  Git commit: %s\n", GitCommit)
		},
	}
}
