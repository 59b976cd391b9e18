package config

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureFlags_Defaults(t *testing.T) {
	ff := NewFeatureFlags()
	for _, name := range []string{FeatureInterventions, FeatureOpenIssues, FeatureEvaluateImprovements, FeatureAdminAPI} {
		assert.True(t, ff.Enabled(name), name)
	}
	assert.False(t, ff.Enabled("no.such.flag"))
	assert.Len(t, ff.All(), 4)
}

func TestFeatureFlags_EnvironmentOverrides(t *testing.T) {
	ff := NewFeatureFlags()
	env := map[string]string{
		"FEATURE_JOBS_OPEN_ISSUES":    "false",
		"FEATURE_HABIT_INTERVENTIONS": "30",
		"FEATURE_API_ADMIN":           "garbage",
	}
	ff.loadFromEnvironment(func(k string) string { return env[k] })

	assert.False(t, ff.Enabled(FeatureOpenIssues))
	assert.True(t, ff.Enabled(FeatureInterventions))
	assert.True(t, ff.Enabled(FeatureAdminAPI))

	for _, f := range ff.All() {
		if f.Name == FeatureInterventions {
			assert.Equal(t, 30, f.RolloutPercent)
		}
	}
}

func TestFeatureFlags_RolloutIsStablePerUser(t *testing.T) {
	ff := NewFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureInterventions, 50))

	in := 0
	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("user-%d", i)
		first := ff.IsEnabled(FeatureInterventions, id)
		assert.Equal(t, first, ff.IsEnabled(FeatureInterventions, id))
		if first {
			in++
		}
	}
	assert.InDelta(t, 500, in, 100)

	gate := ff.Gate(FeatureInterventions)
	assert.Equal(t, ff.IsEnabled(FeatureInterventions, "user-1"), gate("user-1"))
}

func TestFeatureFlags_OverridesAndWindow(t *testing.T) {
	ff := NewFeatureFlags()
	require.NoError(t, ff.DisableFeature(FeatureInterventions))

	ff.SetUserOverride("qa", FeatureInterventions, true)
	assert.True(t, ff.IsEnabled(FeatureInterventions, "qa"))
	assert.False(t, ff.IsEnabled(FeatureInterventions, "someone"))
	ff.ClearUserOverrides("qa")
	assert.False(t, ff.IsEnabled(FeatureInterventions, "qa"))

	require.NoError(t, ff.EnableFeature(FeatureOpenIssues))
	future := time.Now().Add(time.Hour)
	ff.features[FeatureOpenIssues].EnabledFrom = &future
	assert.False(t, ff.Enabled(FeatureOpenIssues))

	assert.ErrorIs(t, ff.SetRolloutPercent("missing", 10), ErrFeatureNotFound)
	assert.ErrorIs(t, ff.SetRolloutPercent(FeatureAdminAPI, 101), ErrInvalidRolloutPercent)
}
