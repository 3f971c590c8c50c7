package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/polyhost/polyhost-server/internal/config"
	"github.com/polyhost/polyhost-server/internal/domain"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "polyhost",
		Short:         "Deploy user applications onto managed language runtimes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newDeployCmd(),
		newRuntimesCmd(),
		newListCmd(),
		newGetCmd(),
		newStopCmd(),
		newRestartCmd(),
		newDeleteCmd(),
		newLogsCmd(),
		newResourcesCmd(),
	)
	return root
}

// withApp loads configuration, wires the application, runs fn, and
// tears everything down (flushing pending instance writes).
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(cmd.Context(), a)
}

func newDeployCmd() *cobra.Command {
	var (
		language string
		version  string
		file     string
		owner    string
		envPairs []string
		memoryMB int
		cpuMilli int
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy a source file onto a runtime",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				source, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read source: %w", err)
				}
				env, err := parseEnv(envPairs)
				if err != nil {
					return err
				}

				result, err := a.deploy.Deploy(ctx, domain.DeployInput{
					Owner:    domain.DomainID(owner),
					Language: language,
					Version:  version,
					Source:   source,
					Env:      env,
					Limits:   domain.ResourceLimits{MemoryMB: memoryMB, CPUMilli: cpuMilli},
				})
				if err != nil {
					return fmt.Errorf("%s: %w", result.Message, err)
				}
				fmt.Printf("%s\ninstance: %s\nport: %d\n", result.Message, result.InstanceID, result.Port)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&language, "language", "", "runtime language (nodejs, python, php, ruby, go, static)")
	cmd.Flags().StringVar(&version, "version", "", "runtime version")
	cmd.Flags().StringVar(&file, "file", "", "source file to deploy")
	cmd.Flags().StringVar(&owner, "owner", "", "owning domain ID")
	cmd.Flags().StringArrayVar(&envPairs, "env", nil, "environment variable KEY=VALUE (repeatable)")
	cmd.Flags().IntVar(&memoryMB, "memory", 0, "memory cap in MB (0 = unlimited)")
	cmd.Flags().IntVar(&cpuMilli, "cpu", 0, "cpu cap in millicores (0 = unlimited)")
	_ = cmd.MarkFlagRequired("language")
	_ = cmd.MarkFlagRequired("version")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newRuntimesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runtimes",
		Short: "List supported runtimes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(_ context.Context, a *app) error {
				for _, def := range a.instances.ListRuntimes() {
					installed := ""
					if def.Installed {
						installed = " (installed)"
					}
					fmt.Printf("%-10s %-8s port %d%s\n", def.Language, def.Version, def.DefaultPort, installed)
				}
				return nil
			})
		},
	}
}

func newListCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List instances",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(_ context.Context, a *app) error {
				var list []domain.ApplicationInstance
				if owner != "" {
					list = a.instances.ListByOwner(domain.DomainID(owner))
				} else {
					list = a.instances.List()
				}
				for _, inst := range list {
					fmt.Printf("%s  %-8s %s %s  port %d  %s\n",
						inst.ID, inst.Status, inst.Language, inst.Version, inst.Port, inst.Backend)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "filter by owning domain ID")
	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <instance-id>",
		Short: "Show one instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(_ context.Context, a *app) error {
				inst, err := a.instances.Get(domain.InstanceID(args[0]))
				if err != nil {
					return err
				}
				fmt.Printf("id:        %s\nowner:     %s\nruntime:   %s %s\nstatus:    %s\nbackend:   %s\nport:      %d\nworkspace: %s\n",
					inst.ID, inst.Owner, inst.Language, inst.Version, inst.Status, inst.Backend, inst.Port, inst.WorkspacePath)
				if inst.LastError != "" {
					fmt.Printf("error:     %s\n", inst.LastError)
				}
				return nil
			})
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <instance-id>",
		Short: "Stop a running instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				result, err := a.lifecycle.Stop(ctx, domain.InstanceID(args[0]))
				if err != nil {
					return err
				}
				fmt.Println(result.Message)
				return nil
			})
		},
	}
}

func newRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <instance-id>",
		Short: "Restart an instance from its stored workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				result, err := a.lifecycle.Restart(ctx, domain.InstanceID(args[0]))
				if err != nil {
					return fmt.Errorf("%s: %w", result.Message, err)
				}
				fmt.Printf("%s\nport: %d\n", result.Message, result.Port)
				return nil
			})
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <instance-id>",
		Short: "Delete a stopped instance and its workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				result, err := a.lifecycle.Delete(ctx, domain.InstanceID(args[0]))
				if err != nil {
					return err
				}
				fmt.Println(result.Message)
				return nil
			})
		},
	}
}

func newLogsCmd() *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "logs <instance-id>",
		Short: "Show recent instance logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				out, err := a.lifecycle.Logs(ctx, domain.InstanceID(args[0]), lines)
				if err != nil {
					return err
				}
				for _, line := range out {
					fmt.Println(line)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&lines, "lines", 100, "number of log lines")
	return cmd
}

func newResourcesCmd() *cobra.Command {
	var (
		memoryMB int
		cpuMilli int
		diskMB   int
	)
	cmd := &cobra.Command{
		Use:   "resources <instance-id>",
		Short: "Update instance resource limits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				result, err := a.lifecycle.UpdateResources(ctx, domain.InstanceID(args[0]), domain.ResourceLimits{
					MemoryMB: memoryMB,
					CPUMilli: cpuMilli,
					DiskMB:   diskMB,
				})
				if err != nil {
					return err
				}
				fmt.Println(result.Message)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&memoryMB, "memory", 0, "memory cap in MB (0 = unlimited)")
	cmd.Flags().IntVar(&cpuMilli, "cpu", 0, "cpu cap in millicores (0 = unlimited)")
	cmd.Flags().IntVar(&diskMB, "disk", 0, "disk cap in MB (recorded, not enforced)")
	return cmd
}

func parseEnv(pairs []string) (map[string]string, error) {
	env := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: env entry %q is not KEY=VALUE", domain.ErrInvalidArgument, p)
		}
		env[k] = v
	}
	return env, nil
}
