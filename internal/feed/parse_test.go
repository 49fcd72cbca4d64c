package feed

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whalewatch/whalewatch/internal/model"
)

func TestParseDepthPush(t *testing.T) {
	raw := json.RawMessage(`{
		"version": 42,
		"timestamp": 1700000000000,
		"bids": [["100.5", "2.0", "3"]],
		"asks": [["101.0", "1.0", "1"]]
	}`)

	msg, err := parseDepthPush(raw)
	require.NoError(t, err)
	assert.EqualValues(t, 42, msg.Version)
	require.Len(t, msg.Bids, 1)
	assert.Equal(t, "100.5", msg.Bids[0].Price.String())
	assert.Equal(t, 3, msg.Bids[0].OrderCount)
}

func TestParseDepthPush_MalformedPrice(t *testing.T) {
	raw := json.RawMessage(`{"version":1,"timestamp":1,"bids":[["notanumber","1","1"]],"asks":[]}`)
	_, err := parseDepthPush(raw)
	assert.Error(t, err)
}

func TestParseDealPush(t *testing.T) {
	raw := json.RawMessage(`[{"t": 1700000000000, "p": "100.0", "v": "2.5", "T": 2}]`)
	trades, err := parseDealPush(raw)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, model.TradeSell, trades[0].Side)
}

func TestParseRESTSnapshot(t *testing.T) {
	raw := []byte(`{"success": true, "data": {"bids": [["100","1","1"]], "asks": [["101","1","1"]]}}`)
	bids, asks, err := parseRESTSnapshot(raw)
	require.NoError(t, err)
	assert.Len(t, bids, 1)
	assert.Len(t, asks, 1)
}

func TestParseRESTSnapshot_Failure(t *testing.T) {
	raw := []byte(`{"success": false, "data": {}}`)
	_, _, err := parseRESTSnapshot(raw)
	assert.Error(t, err)
}
