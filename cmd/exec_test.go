package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUsePTY(t *testing.T) {
	tests := []struct {
		name       string
		flagSet    bool
		flag       bool
		configured bool
		want       bool
	}{
		{"config off, no flag", false, false, false, false},
		{"config on, no flag", false, false, true, true},
		{"flag on overrides config off", true, true, false, true},
		{"flag off overrides config on", true, false, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, usePTY(tt.flagSet, tt.flag, tt.configured))
		})
	}
}

func TestExecPTYFlagChanged(t *testing.T) {
	t.Cleanup(func() {
		_ = execCmd.Flags().Set("pty", "false")
		execCmd.Flags().Lookup("pty").Changed = false
	})

	assert.False(t, execCmd.Flags().Changed("pty"))
	assert.NoError(t, execCmd.Flags().Parse([]string{"--pty=false", "--", "true"}))
	assert.True(t, execCmd.Flags().Changed("pty"))
	assert.False(t, usePTY(execCmd.Flags().Changed("pty"), execPTYFlag, true))
}
