package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/agentmemory/store"
)

func TestReportCleanup(t *testing.T) {
	boom := store.QueryError("boom", nil)

	t.Run("partial result is printed with the error", func(t *testing.T) {
		var out bytes.Buffer
		cmd := &cobra.Command{}
		cmd.SetOut(&out)

		err := reportCleanup(cmd, &store.CleanupResult{ExpiredWorking: 3}, boom)
		assert.ErrorIs(t, err, boom)

		var printed store.CleanupResult
		require.NoError(t, json.Unmarshal(out.Bytes(), &printed))
		assert.EqualValues(t, 3, printed.ExpiredWorking)
	})

	t.Run("no result prints nothing", func(t *testing.T) {
		var out bytes.Buffer
		cmd := &cobra.Command{}
		cmd.SetOut(&out)

		err := reportCleanup(cmd, nil, boom)
		assert.ErrorIs(t, err, boom)
		assert.Empty(t, out.String())
	})

	t.Run("success", func(t *testing.T) {
		var out bytes.Buffer
		cmd := &cobra.Command{}
		cmd.SetOut(&out)

		require.NoError(t, reportCleanup(cmd, &store.CleanupResult{OldEpisodic: 2}, nil))
		assert.Contains(t, out.String(), `"old_episodic": 2`)
	})
}
