package cmd

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/exp/maps"

	"github.com/armadaproject/workqueue/internal/common/queuecontext"
	"github.com/armadaproject/workqueue/internal/workqueue"
	"github.com/armadaproject/workqueue/internal/workqueue/element"
	"github.com/armadaproject/workqueue/internal/workqueue/monitor"
	"github.com/armadaproject/workqueue/internal/workqueue/spec"
)

func queueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue <specification-file>...",
		Short: "Split requests and queue their elements",
		Long: `Queues the requests described by the given specification files. A request that is
already queued is left alone. Instances that split work below the top of the tree need the
same specifications in their specification directory.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInstance(func(instance *workqueue.Instance) error {
				ctx := queuecontext.Background()
				for _, path := range args {
					s, err := spec.LoadFile(path)
					if err != nil {
						return err
					}
					if err := instance.Specs.Put(ctx, s); err != nil {
						return err
					}
					n, err := instance.Queue.QueueWork(ctx, s.Ref())
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Queued %d elements for %s\n", n, s.Ref())
				}
				return nil
			})
		},
	}
}

func cancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <request-name>",
		Short: "Request cancellation of a request, or of single elements with --element",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			elementIds, err := cmd.Flags().GetStringSlice("element")
			if err != nil {
				return errors.WithStack(err)
			}
			if len(args) == 0 && len(elementIds) == 0 {
				return errors.New("either a request name or --element is required")
			}
			return withInstance(func(instance *workqueue.Instance) error {
				ctx := queuecontext.Background()
				if len(elementIds) > 0 {
					cancelled, err := instance.Queue.CancelWork(ctx, elementIds...)
					fmt.Fprintf(cmd.OutOrStdout(), "Requested cancellation of %d elements\n", len(cancelled))
					return err
				}
				return instance.Queue.CancelRequest(ctx, args[0])
			})
		},
	}
	cmd.Flags().StringSlice("element", []string{}, "Ids of elements to cancel")
	return cmd
}

func priorityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "priority <request-name> <priority>",
		Short: "Change the priority of every element of a request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			priority, err := strconv.ParseInt(args[1], 10, 32)
			if err != nil {
				return errors.Wrapf(err, "invalid priority %q", args[1])
			}
			return withInstance(func(instance *workqueue.Instance) error {
				return instance.Queue.SetPriority(queuecontext.Background(), args[0], int32(priority))
			})
		},
	}
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <element-id>...",
		Short: "Return claimed elements to Available",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInstance(func(instance *workqueue.Instance) error {
				reset, err := instance.Queue.ResetWork(queuecontext.Background(), args...)
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d elements\n", len(reset))
				return err
			})
		},
	}
}

func cleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Run one round of synchronization and cleanup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			skip, err := cmd.Flags().GetBool("skipExecutionCheck")
			if err != nil {
				return errors.WithStack(err)
			}
			return withInstance(func(instance *workqueue.Instance) error {
				ctx := queuecontext.Background()
				if err := instance.Queue.Sync(ctx); err != nil {
					return err
				}
				return instance.Queue.PerformQueueCleanupActions(ctx, skip)
			})
		},
	}
	cmd.Flags().Bool("skipExecutionCheck", true, "Don't poll the execution layer for progress")
	return cmd
}

func monitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Print job counts and the injection status of every request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := cmd.Flags().GetStringSlice("status")
			if err != nil {
				return errors.WithStack(err)
			}
			statuses := make([]element.Status, 0, len(names))
			for _, name := range names {
				status, err := element.ParseStatus(name)
				if err != nil {
					return err
				}
				statuses = append(statuses, status)
			}
			return withInstance(func(instance *workqueue.Instance) error {
				return printMonitor(queuecontext.Background(), cmd, instance, statuses)
			})
		},
	}
	cmd.Flags().StringSlice("status", []string{}, "Only count elements in these statuses")
	return cmd
}

func printMonitor(ctx *queuecontext.Context, cmd *cobra.Command, instance *workqueue.Instance, statuses []element.Status) error {
	summary, err := instance.Queue.MonitorWorkQueue(ctx, statuses...)
	if err != nil {
		return err
	}
	if err := monitor.WriteSummary(cmd.OutOrStdout(), summary); err != nil {
		return errors.WithStack(err)
	}
	injection, err := instance.Queue.GetAllInjectionStatus(ctx)
	if err != nil {
		return err
	}
	names := maps.Keys(injection)
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(cmd.OutOrStdout(), "Request %s injected: %t\n", name, injection[name])
	}
	return nil
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <request-name>...",
		Short: "Delete the records of finished, archivable requests",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInstance(func(instance *workqueue.Instance) error {
				deleted, err := instance.Queue.DeleteWorkflows(queuecontext.Background(), args...)
				for _, name := range deleted {
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", name)
				}
				return err
			})
		},
	}
}
