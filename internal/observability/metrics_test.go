package observability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/relicta-tech/sitedeploy/internal/domain/deploy"
	"github.com/relicta-tech/sitedeploy/internal/pipeline"
)

var staging = deploy.Target{Mode: deploy.ModeStaging}

func TestNewMetrics(t *testing.T) {
	m := NewMetrics("1.0.0")
	if got := testutil.CollectAndCount(m.info); got != 0 {
		t.Errorf("info series = %d before any run, want 0", got)
	}
	m.RecordRun(staging, true, time.Second)
	if got := testutil.ToFloat64(m.info.WithLabelValues("1.0.0", "staging")); got != 1 {
		t.Errorf("info = %v, want 1", got)
	}
}

func TestMetrics_ObserveStep(t *testing.T) {
	m := NewMetrics("1.0.0")

	m.ObserveStep(staging, pipeline.StepResult{Name: deploy.StepCheckout, Outcome: deploy.OutcomeSucceeded, Duration: 2 * time.Second})
	m.ObserveStep(staging, pipeline.StepResult{Name: deploy.StepPrecomputeContent, Outcome: deploy.OutcomeSkipped})
	m.ObserveStep(staging, pipeline.StepResult{Name: deploy.StepUpdateSchema, Outcome: deploy.OutcomeFailed, Duration: time.Second})

	if got := testutil.ToFloat64(m.stepsTotal.WithLabelValues("staging", "checkout", "succeeded")); got != 1 {
		t.Errorf("checkout succeeded = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.stepsTotal.WithLabelValues("staging", "update-schema", "failed")); got != 1 {
		t.Errorf("update-schema failed = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.stepDuration); got != 2 {
		t.Errorf("step duration series = %d, want 2 (skipped steps are not timed)", got)
	}
}

func TestMetrics_RecordRun(t *testing.T) {
	m := NewMetrics("1.0.0")
	m.now = func() time.Time { return time.Unix(1710007445, 0) }

	m.RecordRun(staging, false, 90*time.Second)
	if got := testutil.ToFloat64(m.runSuccess.WithLabelValues("staging")); got != 0 {
		t.Errorf("success = %v, want 0", got)
	}

	m.RecordRun(staging, true, 30*time.Second)
	if got := testutil.ToFloat64(m.runSuccess.WithLabelValues("staging")); got != 1 {
		t.Errorf("success = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.runDuration.WithLabelValues("staging")); got != 30 {
		t.Errorf("duration = %v, want 30", got)
	}
	if got := testutil.ToFloat64(m.runTimestamp.WithLabelValues("staging")); got != 1710007445 {
		t.Errorf("timestamp = %v, want 1710007445", got)
	}
}

func readTextfile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	return string(data)
}

func TestMetrics_WriteTextfiles(t *testing.T) {
	m := NewMetrics("1.0.0")
	m.now = func() time.Time { return time.Unix(1710007445, 0) }
	m.RecordRun(staging, true, time.Second)

	base := filepath.Join(t.TempDir(), "sitedeploy.prom")
	if err := m.WriteTextfiles(base); err != nil {
		t.Fatalf("WriteTextfiles() error = %v", err)
	}

	body := readTextfile(t, filepath.Join(filepath.Dir(base), "sitedeploy_staging.prom"))
	for _, want := range []string{
		`sitedeploy_info{target="staging",version="1.0.0"} 1`,
		`sitedeploy_run_success{target="staging"} 1`,
		"# TYPE sitedeploy_run_duration_seconds gauge",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("textfile missing %q\n%s", want, body)
		}
	}
	if strings.Contains(body, "lock_conflict") {
		t.Errorf("run textfile carries lock metrics\n%s", body)
	}
	if _, err := os.Stat(ConflictTextfile(base, deploy.ModeStaging)); !os.IsNotExist(err) {
		t.Errorf("conflict textfile written without a conflict, stat error = %v", err)
	}
}

func TestMetrics_ConflictKeepsRunTextfile(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "sitedeploy.prom")

	first := NewMetrics("1.0.0")
	first.RecordRun(deploy.Target{Mode: deploy.ModeProduction}, true, time.Second)
	if err := first.WriteTextfiles(base); err != nil {
		t.Fatalf("WriteTextfiles() error = %v", err)
	}

	refused := NewMetrics("1.0.0")
	refused.now = func() time.Time { return time.Unix(1710007445, 0) }
	refused.RecordLockConflict(deploy.Target{Mode: deploy.ModeProduction})
	if err := refused.WriteTextfiles(base); err != nil {
		t.Fatalf("WriteTextfiles() error = %v", err)
	}

	run := readTextfile(t, RunTextfile(base, deploy.ModeProduction))
	if !strings.Contains(run, `sitedeploy_run_success{target="production"} 1`) {
		t.Errorf("refused run overwrote the last run metrics\n%s", run)
	}
	lock := readTextfile(t, ConflictTextfile(base, deploy.ModeProduction))
	if !strings.Contains(lock, `sitedeploy_lock_conflict_timestamp_seconds{target="production"} `) {
		t.Errorf("conflict textfile missing timestamp\n%s", lock)
	}
}

func TestMetrics_TargetsUseSeparateTextfiles(t *testing.T) {
	base := filepath.Join(t.TempDir(), "sitedeploy.prom")

	prod := NewMetrics("1.0.0")
	prod.RecordRun(deploy.Target{Mode: deploy.ModeProduction}, true, time.Second)
	if err := prod.WriteTextfiles(base); err != nil {
		t.Fatalf("WriteTextfiles() error = %v", err)
	}
	stage := NewMetrics("1.0.0")
	stage.RecordRun(staging, false, time.Second)
	if err := stage.WriteTextfiles(base); err != nil {
		t.Fatalf("WriteTextfiles() error = %v", err)
	}

	if body := readTextfile(t, RunTextfile(base, deploy.ModeProduction)); !strings.Contains(body, `sitedeploy_run_success{target="production"} 1`) {
		t.Errorf("staging run clobbered production metrics\n%s", body)
	}
	if body := readTextfile(t, RunTextfile(base, deploy.ModeStaging)); !strings.Contains(body, `sitedeploy_run_success{target="staging"} 0`) {
		t.Errorf("staging textfile missing run\n%s", body)
	}
}

func TestMetrics_WriteTextfilesNothingRecorded(t *testing.T) {
	dir := t.TempDir()
	if err := NewMetrics("1.0.0").WriteTextfiles(filepath.Join(dir, "sitedeploy.prom")); err != nil {
		t.Fatalf("WriteTextfiles() error = %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("wrote %d files with nothing recorded", len(entries))
	}
}

func TestTextfileNames(t *testing.T) {
	tests := []struct {
		base string
		mode deploy.Mode
		run  string
		lock string
	}{
		{"/var/lib/node_exporter/sitedeploy.prom", deploy.ModeStaging, "/var/lib/node_exporter/sitedeploy_staging.prom", "/var/lib/node_exporter/sitedeploy_staging_lock.prom"},
		{"/tmp/metrics", deploy.ModeProduction, "/tmp/metrics_production.prom", "/tmp/metrics_production_lock.prom"},
	}
	for _, tt := range tests {
		if got := RunTextfile(tt.base, tt.mode); got != tt.run {
			t.Errorf("RunTextfile(%q) = %q, want %q", tt.base, got, tt.run)
		}
		if got := ConflictTextfile(tt.base, tt.mode); got != tt.lock {
			t.Errorf("ConflictTextfile(%q) = %q, want %q", tt.base, got, tt.lock)
		}
	}
}
