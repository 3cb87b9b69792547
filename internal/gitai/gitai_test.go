package gitai

import (
	"context"
	"testing"

	"github.com/overseer-dev/overseer/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModeOffRunsNoProvider(t *testing.T) {
	r, err := New(ModeOff, "")
	require.NoError(t, err)

	v, err := r.Run(context.Background(), Request{Task: &types.Task{ID: "task_a"}})
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestStubProviderApproves(t *testing.T) {
	r, err := New(ModeStub, "")
	require.NoError(t, err)

	v, err := r.Run(context.Background(), Request{Task: &types.Task{ID: "task_a"}, Diff: "diff"})
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.True(t, v.Approve)
}

func TestLiveModeRequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := New(ModeLive, "")
	assert.Error(t, err)
}

func TestModeFromEnvDefaultsOff(t *testing.T) {
	t.Setenv("OVERSEER_GIT_AI_MODE", "")
	assert.Equal(t, ModeOff, ModeFromEnv())
}

func TestModeFromEnvStub(t *testing.T) {
	t.Setenv("OVERSEER_GIT_AI_MODE", "stub")
	assert.Equal(t, ModeStub, ModeFromEnv())
}

func TestParseVerdictApprove(t *testing.T) {
	v := parseVerdict("VERDICT: APPROVE\nLooks good.")
	assert.True(t, v.Approve)
	assert.Equal(t, "Looks good.", v.Comment)
}

func TestParseVerdictRequestChanges(t *testing.T) {
	v := parseVerdict("VERDICT: REQUEST_CHANGES\nMissing tests.")
	assert.False(t, v.Approve)
	assert.Equal(t, "Missing tests.", v.Comment)
}

func TestParseVerdictUnrecognizedDefaultsToRequestChanges(t *testing.T) {
	v := parseVerdict("I'm not sure about this one.")
	assert.False(t, v.Approve)
}
