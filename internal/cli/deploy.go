package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/relicta-tech/sitedeploy/internal/container"
	"github.com/relicta-tech/sitedeploy/internal/domain/deploy"
	sderrors "github.com/relicta-tech/sitedeploy/internal/errors"
	"github.com/relicta-tech/sitedeploy/internal/orchestrator"
)

// Hooks used by runDeploy, replaced in tests.
var (
	processExec  execFunc = systemExec
	lookupUser            = currentUsername
	lookupEnv             = os.Getenv
	newContainer          = container.New
)

// DeployOutput is the JSON form of a finished run.
type DeployOutput struct {
	Target   string       `json:"target"`
	Ref      string       `json:"ref,omitempty"`
	Commit   string       `json:"commit,omitempty"`
	Operator string       `json:"operator"`
	Success  bool         `json:"success"`
	States   []string     `json:"states"`
	Steps    []StepOutput `json:"steps,omitempty"`
	Duration string       `json:"duration"`
	Error    string       `json:"error,omitempty"`
}

// StepOutput is the JSON form of one pipeline step.
type StepOutput struct {
	Name     string `json:"name"`
	Outcome  string `json:"outcome"`
	Duration string `json:"duration"`
	Error    string `json:"error,omitempty"`
}

func runDeploy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if err := EnsureServiceAccount(cfg.Identity, lookupUser, processExec); err != nil {
		return err
	}
	operator, err := CheckIdentity(cfg.Identity, lookupEnv)
	if err != nil {
		return err
	}

	c, err := newContainer(cfg, logger, versionInfo.Version)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil {
			logger.Warn("failed to flush metrics", "error", cerr)
		}
	}()

	target := c.Target(deploy.ModeFor(releaseMode))
	var opts []orchestrator.Option
	if !outputJSON {
		opts = append(opts, orchestrator.WithLockedHook(func(t deploy.Target) {
			printBanner(t, operator)
		}))
	}
	orch, err := c.Orchestrator(target, opts...)
	if err != nil {
		return err
	}

	res, runErr := orch.Run(ctx, target, operator)
	if res == nil {
		return runErr
	}
	if outputJSON {
		if err := writeJSON(deployOutput(res, operator, runErr)); err != nil {
			return err
		}
	} else {
		printRun(res)
	}
	return runErr
}

func deployOutput(res *orchestrator.Result, operator string, runErr error) DeployOutput {
	out := DeployOutput{
		Target:   res.Target.Mode.String(),
		Ref:      res.Release.Ref,
		Commit:   res.Release.Commit,
		Operator: operator,
		Success:  runErr == nil,
		Duration: res.Duration.Round(time.Millisecond).String(),
	}
	for _, s := range res.Path {
		out.States = append(out.States, string(s))
	}
	if res.Report != nil {
		for _, s := range res.Report.Steps {
			so := StepOutput{
				Name:     string(s.Name),
				Outcome:  string(s.Outcome),
				Duration: s.Duration.Round(time.Millisecond).String(),
			}
			if s.Err != nil {
				so.Error = s.Err.Error()
			}
			out.Steps = append(out.Steps, so)
		}
	}
	if runErr != nil {
		out.Error = runErr.Error()
	}
	return out
}

func printRun(res *orchestrator.Result) {
	if res == nil {
		return
	}
	if res.Release.Ref != "" {
		printInfo("Release " + styles.Bold.Render(res.Release.Ref))
	}
	if res.Report != nil {
		for _, s := range res.Report.Steps {
			line := fmt.Sprintf("%-24s %s", s.Name, s.Duration.Round(time.Millisecond))
			switch s.Outcome {
			case deploy.OutcomeSucceeded:
				fmt.Println(styles.Success.Render("  ✓ ") + line)
			case deploy.OutcomeSkipped:
				fmt.Println(styles.Subtle.Render("  - " + string(s.Name) + " (skipped)"))
			case deploy.OutcomeFailed:
				fmt.Println(styles.Error.Render("  ✗ ") + line)
			}
		}
	}
	if res.Succeeded() {
		printSuccess(fmt.Sprintf("Deployed %s to %s in %s", res.Release.Ref, res.Target.Mode, res.Duration.Round(time.Second)))
	}
}

// printBanner announces a run once it holds the deploy lock.
func printBanner(target deploy.Target, operator string) {
	printTitle(fmt.Sprintf("%s deploy by %s", modeTitle(target.Mode), operator))
	printSubtle("  " + target.DeployPath)
}

func modeTitle(m deploy.Mode) string {
	return cases.Title(language.English).String(m.String())
}

// PrintError reports err to the operator in the form its kind calls for.
func PrintError(err error) {
	if err == nil {
		return
	}

	var e *sderrors.Error
	kind := sderrors.GetKind(err)
	switch kind {
	case sderrors.KindIdentity:
		if errors.As(err, &e) {
			printWarning(e.Message)
			return
		}
	case sderrors.KindUsage:
		printError(err.Error())
		fmt.Fprint(os.Stderr, rootCmd.UsageString())
		return
	case sderrors.KindConflict:
		printError(err.Error())
		printSubtle("Retry once the other deploy has finished. 'sitedeploy status --wait' waits for it.")
		return
	}

	if step, ok := sderrors.FailedStep(err); ok {
		printError(fmt.Sprintf("deploy failed at step %s", step))
		printSubtle("  " + err.Error())
		printSubtle("The service stays disabled until a deploy succeeds.")
		return
	}
	printError(err.Error())
}

func writeJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
