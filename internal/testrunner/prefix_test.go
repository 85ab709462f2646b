package testrunner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePrefix(t *testing.T) {
	tests := []struct {
		name       string
		explicit   string
		configured string
		want       string
	}{
		{"explicit wins", "t1_", "t2_", "t1_"},
		{"configured over default", "", "t2_", "t2_"},
		{"default", "", "", "test_"},
		{"explicit without configured", "t1_", "", "t1_"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolvePrefix(tt.explicit, tt.configured)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestActivePrefix(t *testing.T) {
	t.Setenv(SettingTablePrefix, "")
	_, ok := ActivePrefix()
	assert.False(t, ok, "empty value is not an active prefix")

	t.Setenv(SettingTablePrefix, "qa_")
	prefix, ok := ActivePrefix()
	assert.True(t, ok)
	assert.Equal(t, "qa_", prefix)
}

func TestAttachIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv(SettingTablePrefix, "qa_")

	for i := 0; i < 2; i++ {
		prefix, ok, err := Attach(env.registry)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "qa_", prefix)
	}
	assert.Equal(t, "qa_widget", env.registry.TableName("Widget"))
	assert.Empty(t, env.tables(t), "attach issues no DDL")
}

func TestAttachSettingsSeesInMemoryRunner(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv(SettingTablePrefix, "")
	r, settings := newRunner(t, env, RunConfig{TablePrefix: "qa_"})
	require.NoError(t, r.SetupEnvironment())

	_, ok := ActivePrefix()
	assert.False(t, ok, "in-memory settings are not published to the environment")

	prefix, ok := settings.TablePrefix()
	require.True(t, ok)
	assert.Equal(t, "qa_", prefix)

	prefix, ok, err := AttachSettings(env.registry, settings)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "qa_", prefix)
	assert.Equal(t, "qa_widget", env.registry.TableName("Widget"))
}
