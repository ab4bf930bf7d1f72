package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relicta-tech/sitedeploy/internal/audit"
	"github.com/relicta-tech/sitedeploy/internal/domain/deploy"
)

func TestHistoryOutput(t *testing.T) {
	at := time.Date(2024, 3, 9, 18, 4, 5, 0, time.FixedZone("CET", 3600))
	out := historyOutput([]deploy.AuditEntry{{Ref: "v2.3", Operator: "alice", Timestamp: at}})

	require.Len(t, out, 1)
	assert.Equal(t, HistoryEntry{Ref: "v2.3", Operator: "alice", Timestamp: "2024-03-09T17:04:05Z"}, out[0])
	assert.NotNil(t, historyOutput(nil))
}

func TestRunHistory(t *testing.T) {
	c := useTempConfig(t)
	prev := historyLimit
	t.Cleanup(func() { historyLimit = prev })

	historyLimit = 2
	require.NoError(t, runHistory(historyCmd, nil), "missing log is not an error")

	log := audit.New(c.Audit.Path, logger)
	for _, ref := range []string{"v1.0", "v1.1", "v1.2"} {
		require.NoError(t, log.Append(deploy.AuditEntry{Ref: ref, Operator: "alice", Timestamp: time.Now()}))
	}
	require.NoError(t, runHistory(historyCmd, nil))
}
