package truncate_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sygnalgo/pushgateway/internal/platform/truncate"
)

func TestToFit_NoTruncationNeeded(t *testing.T) {
	m := map[string]any{"a": "short"}
	build := func() ([]byte, error) { return json.Marshal(m) }

	out, err := truncate.ToFit(1000, build, truncate.DropField(m, "a"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"short"}`, string(out))
}

func TestToFit_DropsInOrderUntilItFits(t *testing.T) {
	m := map[string]any{
		"body":  "a very long body field that pushes this over the cap by itself",
		"room":  "short",
		"event": "e1",
	}
	build := func() ([]byte, error) { return json.Marshal(m) }

	out, err := truncate.ToFit(40, build,
		truncate.DropField(m, "body"),
		truncate.DropField(m, "room"),
	)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	assert.NotContains(t, got, "body")
	assert.Contains(t, got, "event")
}

func TestToFit_StillTooLargeAfterAllSteps(t *testing.T) {
	m := map[string]any{"event": "this-single-field-is-already-too-long-to-fit"}
	build := func() ([]byte, error) { return json.Marshal(m) }

	_, err := truncate.ToFit(5, build, truncate.DropField(m, "nonexistent"))
	require.Error(t, err)
}
