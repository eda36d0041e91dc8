package journal

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/bastion/internal/domain"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestAppendAndRecent(t *testing.T) {
	j := openTestJournal(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	params := domain.DefaultStrategyParameters()
	require.NoError(t, j.Append(1, now, KindParams, params))
	require.NoError(t, j.Append(2, now.Add(time.Hour), KindParams, params))
	require.NoError(t, j.Append(2, now.Add(time.Hour), KindAlert, domain.Alert{
		Level: domain.AlertWarning, Type: domain.AlertVaRLimitBreach, Message: "test",
	}))

	records, err := j.Recent(KindParams, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(2), records[0].CycleID, "newest first")
	assert.Equal(t, int64(1), records[1].CycleID)

	alerts, err := j.Recent(KindAlert, 10)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestCanonicalSerializationIsByteStable(t *testing.T) {
	payload := map[string]float64{
		"zeta":  0.1,
		"alpha": 1.0 / 3.0,
		"mid":   0.0001,
	}
	first, err := Canonical(payload)
	require.NoError(t, err)
	second, err := Canonical(payload)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	// Map keys serialize in sorted order.
	assert.Equal(t, `{"alpha":0.3333333333333333,"mid":0.0001,"zeta":0.1}`, string(first))
}

func TestParamsRoundTrip(t *testing.T) {
	// parse(serialize(params)) == params for validated configurations.
	params := domain.DefaultStrategyParameters()
	data, err := Canonical(params)
	require.NoError(t, err)

	var decoded domain.StrategyParameters
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, params, decoded)
	assert.NoError(t, decoded.Validate())
}

func TestJournalSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.db")
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	j, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, j.Append(7, now, KindOrders, []domain.TradeOrder{{ID: "o-1", Symbol: "BTC"}}))
	require.NoError(t, j.Close())

	reopened, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	records, err := reopened.Recent(KindOrders, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(7), records[0].CycleID)
}
