package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tally/internal/event"
	"github.com/roach88/tally/internal/eventlog"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.yaml")
	content := `
name: test_scenario
description: "Test scenario for validation"
counted_events: [increment, tap]
steps:
  - action: connect
    conn: c1
    user: alice
  - action: emit
    conn: c1
    event: tap
    data:
      x: 3
    times: 2
assertions:
  - type: count
    user: alice
    count: 2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "Test scenario for validation", scenario.Description)
	assert.Len(t, scenario.Steps, 2)
	assert.Len(t, scenario.Assertions, 1)
	assert.Equal(t, ActionEmit, scenario.Steps[1].Action)
	assert.Equal(t, 3, scenario.Steps[1].Data["x"])
	assert.Equal(t, 2, scenario.Steps[1].Times)
	assert.Equal(t, []event.Kind{event.KindIncrement, "tap"}, scenario.countedKinds())
	assert.Equal(t, eventlog.BackendFile, scenario.backend())
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: typo
description: "d"
stepz: []
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing name",
			content: `
description: "d"
steps: [{action: restart}]
assertions: [{type: connections, count: 0}]
`,
			wantErr: "name is required",
		},
		{
			name: "missing description",
			content: `
name: n
steps: [{action: restart}]
assertions: [{type: connections, count: 0}]
`,
			wantErr: "description is required",
		},
		{
			name: "no steps",
			content: `
name: n
description: "d"
assertions: [{type: connections, count: 0}]
`,
			wantErr: "steps list is required",
		},
		{
			name: "no assertions",
			content: `
name: n
description: "d"
steps: [{action: restart}]
`,
			wantErr: "assertions list is required",
		},
		{
			name: "unknown backend",
			content: `
name: n
description: "d"
backend: s3
steps: [{action: restart}]
assertions: [{type: connections, count: 0}]
`,
			wantErr: `unknown backend "s3"`,
		},
		{
			name: "connect without conn",
			content: `
name: n
description: "d"
steps: [{action: connect, user: alice}]
assertions: [{type: connections, count: 0}]
`,
			wantErr: "steps[0]: conn is required for connect",
		},
		{
			name: "unknown action",
			content: `
name: n
description: "d"
steps: [{action: explode}]
assertions: [{type: connections, count: 0}]
`,
			wantErr: `steps[0]: unknown action "explode"`,
		},
		{
			name: "missing action",
			content: `
name: n
description: "d"
steps: [{conn: c1}]
assertions: [{type: connections, count: 0}]
`,
			wantErr: "steps[0]: action is required",
		},
		{
			name: "unknown outcome",
			content: `
name: n
description: "d"
steps: [{action: disconnect, conn: c1, expect: maybe}]
assertions: [{type: connections, count: 0}]
`,
			wantErr: `unknown expected outcome "maybe"`,
		},
		{
			name: "count without user",
			content: `
name: n
description: "d"
steps: [{action: restart}]
assertions: [{type: count, count: 1}]
`,
			wantErr: "assertions[0]: user is required for count",
		},
		{
			name: "unknown assertion",
			content: `
name: n
description: "d"
steps: [{action: restart}]
assertions: [{type: vibes}]
`,
			wantErr: `assertions[0]: unknown assertion type "vibes"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_Testdata(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		scenario, err := LoadScenario(f)
		require.NoError(t, err, f)
		assert.Equal(t, filepath.Base(f), scenario.Name+".yaml", "scenario name should match its file")
	}
}
