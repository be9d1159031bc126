package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/depfollow/internal/app"
)

// newFollowCmd runs the follower and the operator HTTP surface until a signal
// arrives or the follower halts.
func newFollowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "follow",
		Short: "Follows the change feed until interrupted",
		Long: `Resumes from the stored checkpoint and processes registry changes one
at a time. Exits non-zero when a change fails to process; the checkpoint then
points at the last change that was fully handled.`,
		Args: cobra.NoArgs,
		RunE: runFollowCommand,
	}
}

func runFollowCommand(cmd *cobra.Command, _ []string) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	instance, err := app.New(ctx, rt.cfg, version, rt.logger)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer func() {
		if cerr := instance.Close(ctx); cerr != nil {
			rt.logger.Warn("shutdown finished with errors", zap.Error(cerr))
		}
	}()

	if err := instance.Run(ctx); err != nil {
		return fmt.Errorf("follower halted: %w", err)
	}
	rt.logger.Info("follow command finished")
	return nil
}
