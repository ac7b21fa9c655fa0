// SPDX-License-Identifier: MIT

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidmember/watchtrack/internal/watchevents"
)

func TestParseFlags(t *testing.T) {
	var out bytes.Buffer
	opts, err := parseFlags([]string{"-video", " abc ", "-duration", "120", "-watch", "2s", "-pause-after", "1s"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "abc", opts.videoID)
	assert.Equal(t, 120.0, opts.duration)

	for _, args := range [][]string{
		{},
		{"-video", "abc", "-duration", "0"},
		{"-video", "abc", "-watch", "0s"},
		{"-video", "abc", "-pause-after", "-1s"},
	} {
		_, err := parseFlags(args, &out)
		assert.Error(t, err, "%v", args)
	}
}

func TestRunReportsProgress(t *testing.T) {
	backend := watchevents.NewMockServer()
	t.Cleanup(backend.Close)
	backend.SetResume("abc", 3)

	path := filepath.Join(t.TempDir(), "playtrack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logLevel: warn
client:
  baseURL: `+backend.URL+`
  userID: alice
tracker:
  monitorInterval: 10ms
  saveInterval: 50ms
  resumeWait: 2s
`), 0o600))

	var out bytes.Buffer
	err := run(context.Background(), []string{"-config", path, "-video", "abc", "-watch", "400ms", "-pause-after", "200ms"}, &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "playing abc from 3.0s")
	assert.Contains(t, out.String(), "paused at")

	events := backend.Events()
	require.NotEmpty(t, events)
	for _, ev := range events {
		assert.Equal(t, "abc", ev.HostID)
		assert.Equal(t, 600.0, ev.Duration)
		assert.GreaterOrEqual(t, ev.EndTime, 3.0)
		assert.False(t, ev.Complete)
	}
	for _, h := range backend.Headers() {
		assert.Equal(t, "alice", h.Get(watchevents.UserHeader))
	}
}
