package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/relicta-tech/sitedeploy/internal/domain/deploy"
	"github.com/relicta-tech/sitedeploy/internal/lock"
)

var (
	statusWait    bool
	statusTimeout time.Duration
)

// StatusOutput is the JSON form of the status command.
type StatusOutput struct {
	State      string          `json:"state"`
	Operator   string          `json:"operator,omitempty"`
	AcquiredAt *time.Time      `json:"acquired_at,omitempty"`
	RunID      string          `json:"run_id,omitempty"`
	PID        int             `json:"pid,omitempty"`
	Host       string          `json:"host,omitempty"`
	LastDeploy string          `json:"last_deploy,omitempty"`
	Services   []ServiceStatus `json:"services"`
}

// ServiceStatus reports whether the service of one target is enabled.
type ServiceStatus struct {
	Target  string `json:"target"`
	Enabled bool   `json:"enabled"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a deploy is running",
	Long: `Show the state of the deploy lock and the most recent deployment.

A stale state means the lock is free but the previous holder did not
remove its signature, usually because it was killed.`,
	Example: `  # Show the current holder, if any
  sitedeploy status

  # Block until the running deploy finishes
  sitedeploy status --wait --timeout 10m`,
	Args: noPositionalArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusWait, "wait", false, "wait until the deploy lock is released")
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 30*time.Minute, "maximum time to wait with --wait (0 waits forever)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	c, err := newContainer(cfg, logger, versionInfo.Version)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	locks := c.Locks()

	if statusWait {
		waitCtx := ctx
		if statusTimeout > 0 {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, statusTimeout)
			defer cancel()
		}
		logger.Debug("waiting for deploy lock", "path", locks.LockPath(), "timeout", statusTimeout)
		if err := locks.WaitReleased(waitCtx); err != nil {
			return err
		}
	}

	st, err := locks.Inspect()
	if err != nil {
		return err
	}
	out := statusOutput(st)

	last, err := c.Audit().Last(1)
	if err != nil {
		return err
	}
	if len(last) > 0 {
		out.LastDeploy = last[0].Line()
	}
	for _, mode := range []deploy.Mode{deploy.ModeStaging, deploy.ModeProduction} {
		out.Services = append(out.Services, ServiceStatus{
			Target:  mode.String(),
			Enabled: c.Services().Enabled(c.Target(mode)),
		})
	}

	if outputJSON {
		return writeJSON(out)
	}
	printStatus(out)
	return nil
}

func statusOutput(st lock.Status) StatusOutput {
	out := StatusOutput{State: st.State.String()}
	if sig := st.Signature; sig != nil {
		at := sig.AcquiredAt.UTC()
		out.Operator = sig.Operator
		out.AcquiredAt = &at
		out.RunID = sig.RunID
		out.PID = sig.PID
		out.Host = sig.Host
	}
	return out
}

func printStatus(out StatusOutput) {
	printTitle("Deploy lock")

	switch out.State {
	case lock.StateHeld.String():
		printWarning(fmt.Sprintf("held by %s", out.Operator))
	case lock.StateStale.String():
		printWarning(fmt.Sprintf("free, stale signature left by %s", out.Operator))
	default:
		printSuccess("free")
	}
	if out.AcquiredAt != nil {
		fmt.Printf("  since:  %s (%s ago)\n", out.AcquiredAt.Format(time.RFC3339), time.Since(*out.AcquiredAt).Round(time.Second))
	}
	if out.RunID != "" {
		fmt.Printf("  run:    %s\n", out.RunID)
	}
	if out.PID != 0 {
		fmt.Printf("  pid:    %d on %s\n", out.PID, out.Host)
	}

	fmt.Println()
	for _, svc := range out.Services {
		if svc.Enabled {
			fmt.Printf("  %-11s %s\n", svc.Target, styles.Success.Render("enabled"))
		} else {
			fmt.Printf("  %-11s %s\n", svc.Target, styles.Warning.Render("disabled"))
		}
	}
	if len(out.Services) > 0 {
		fmt.Println()
	}
	if out.LastDeploy == "" {
		printSubtle("No deployments recorded yet.")
		return
	}
	printInfo("Last deploy: " + styles.Bold.Render(out.LastDeploy))
}
