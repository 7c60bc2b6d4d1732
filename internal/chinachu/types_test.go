// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package chinachu

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexInt64(t *testing.T) {
	cases := map[string]int64{
		`123456`:          123456,
		`"123456"`:        123456,
		`""`:              0,
		`null`:            0,
		`1500000000000.0`: 1500000000000,
	}
	for in, want := range cases {
		var v FlexInt64
		require.NoError(t, json.Unmarshal([]byte(in), &v), in)
		assert.Equal(t, want, int64(v), in)
	}

	var v FlexInt64
	assert.Error(t, json.Unmarshal([]byte(`"abc"`), &v))
}

func TestFlexString(t *testing.T) {
	var s FlexString
	require.NoError(t, json.Unmarshal([]byte(`1024`), &s))
	assert.Equal(t, "1024", string(s))
	require.NoError(t, json.Unmarshal([]byte(`"BS_101"`), &s))
	assert.Equal(t, "BS_101", string(s))
	require.NoError(t, json.Unmarshal([]byte(`null`), &s))
	assert.Equal(t, "", string(s))
}

func TestProgramToTimer(t *testing.T) {
	raw := `{
		"id": "gr1024-abc",
		"category": "anime",
		"title": "  ガラス ",
		"fullTitle": "カラス #3",
		"episode": "3",
		"start": 1711972800000,
		"end": "1711974600000",
		"flags": ["新"],
		"channel": {"n": 2, "type": "GR", "channel": 27, "name": "NHK", "id": "GR_1024", "sid": 1024},
		"isManualReserved": true,
		"isConflict": true,
		"isSkip": false
	}`
	var p Program
	require.NoError(t, json.Unmarshal([]byte(raw), &p))

	tm := p.ToTimer()
	assert.Equal(t, "gr1024-abc", tm.ID)
	assert.Equal(t, "ガラス", tm.Title)
	require.NotNil(t, tm.Episode)
	assert.Equal(t, 3, *tm.Episode)
	assert.Equal(t, 1800, tm.Seconds)
	assert.Equal(t, time.UnixMilli(1711972800000).UTC(), tm.Start)
	assert.Equal(t, "27", tm.Channel.Channel)
	assert.Equal(t, 2, tm.Channel.Number)
	assert.True(t, tm.Manual)
	assert.True(t, tm.Conflict)
	assert.False(t, tm.Skip)
	assert.Equal(t, []string{"新"}, tm.Flags)
}

func TestResponseErrorRedactsAndTruncates(t *testing.T) {
	body := []byte("failed password=hunter2 " + string(make([]byte, 400)))
	err := newResponseError("status", http.StatusInternalServerError, body)
	assert.NotContains(t, err.Body, "hunter2")
	assert.Contains(t, err.Body, "password=[REDACTED]")
	assert.LessOrEqual(t, len(err.Body), maxErrorBody+len("[REDACTED]"))
	assert.Equal(t, "The server returned an error (HTTP 500).", Message(err))
}

func TestMessageNil(t *testing.T) {
	assert.Equal(t, "", Message(nil))
}
