package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schovi/devcontrol/internal/launcher"
	"github.com/schovi/devcontrol/internal/policy"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"0", 0},
		{"512", 512},
		{"512B", 512},
		{"1KB", 1024},
		{"10MB", 10 * 1024 * 1024},
		{"10 mb", 10 * 1024 * 1024},
		{"1.5KB", 1536},
		{"2GB", 2 * 1024 * 1024 * 1024},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseSize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSize_Invalid(t *testing.T) {
	for _, in := range []string{"", "  ", "MB", "10TB", "-1MB", "ten"} {
		_, err := parseSize(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestConfigView_FollowsReload(t *testing.T) {
	rt := &services{
		launcher: launcher.New(launcher.WithDefaultShell("/bin/bash")),
		guard:    policy.NewGuard(policy.Rules{BlockedCommands: []string{"sudo"}}),
	}

	view := rt.configView()
	assert.Equal(t, []string{"sudo"}, view.BlockedCommands)
	assert.Equal(t, "/bin/bash", view.DefaultShell)
	assert.Empty(t, view.AllowedDirectories)

	rt.guard.Update(policy.Rules{BlockedCommands: []string{"dd"}, AllowedDirectories: []string{"/tmp"}})
	rt.launcher.SetDefaultShell("/bin/sh")

	view = rt.configView()
	assert.Equal(t, []string{"dd"}, view.BlockedCommands)
	assert.Equal(t, []string{"/tmp"}, view.AllowedDirectories)
	assert.Equal(t, "/bin/sh", view.DefaultShell)
}
