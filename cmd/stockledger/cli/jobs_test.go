package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunJobsRejectsBadInvocations(t *testing.T) {
	ctx := context.Background()
	out := new(bytes.Buffer)

	require.ErrorContains(t, RunJobs(ctx, "127.0.0.1:0", 0, nil, out), "usage")
	require.ErrorContains(t, RunJobs(ctx, "127.0.0.1:0", 0, []string{"trigger"}, out), "usage")
	require.ErrorContains(t, RunJobs(ctx, "127.0.0.1:0", 0, []string{"trigger", "mail:send"}, out), "unsupported job")
	require.ErrorContains(t, RunJobs(ctx, "127.0.0.1:0", 0, []string{"purge"}, out), "unknown command")
	require.Error(t, RunJobs(ctx, "127.0.0.1:0", 0, []string{"trigger", "inventory:revaluation", "-warehouse", "x"}, out))
}
