package export

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ChuLiYu/trip-planner/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func finalSnapshot() types.AggregateSnapshot {
	at := time.Date(2030, 3, 1, 9, 0, 30, 0, time.UTC)
	hotels := types.HotelPayload{Options: []types.HotelOption{{ID: "TPE001", Name: "台北豪華大飯店", Room: &types.RoomPlan{Name: "豪華雙人房", Capacity: 2, Price: 4500}}}}
	return types.AggregateSnapshot{
		RequestID: "trip-1",
		Seq:       4,
		Stage:     types.StageFinal,
		PerWorker: map[types.WorkerKind]types.PartialResult{
			types.KindHotel:     {Kind: types.KindHotel, Completeness: types.CompletenessComplete, Payload: hotels, GeneratedAt: at},
			types.KindItinerary: types.EmptyResult(types.KindItinerary),
		},
		Degraded: map[types.WorkerKind]types.Degradation{
			types.KindItinerary: {Kind: types.KindItinerary, Reason: types.ReasonTimeout, Detail: "final deadline reached"},
		},
		Sections: types.Sections{
			Accommodations: types.Section{Name: types.SectionAccommodations, Status: types.SectionComplete, Hotels: hotels.Options},
		},
		GeneratedAt: at,
	}
}

func TestWriteAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "plan.json")
	e := NewExporter(path)
	assert.False(t, e.Exists())

	require.NoError(t, e.Write(finalSnapshot()))
	assert.True(t, e.Exists())
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file is renamed away")

	doc, err := e.Load()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, doc.SchemaVer)
	assert.False(t, doc.ExportedAt.IsZero())

	s := doc.Snapshot
	assert.Equal(t, types.RequestID("trip-1"), s.RequestID)
	assert.True(t, s.IsFinal())
	assert.Equal(t, types.ReasonTimeout, s.Degraded[types.KindItinerary].Reason)

	hotel := s.PerWorker[types.KindHotel]
	p, ok := hotel.Payload.(types.HotelPayload)
	require.True(t, ok, "payload variant survives the file")
	assert.Equal(t, 4500, p.Options[0].Room.Price)
	assert.Equal(t, types.CompletenessEmpty, s.Completeness(types.KindItinerary))
}

func TestWriteOverwrites(t *testing.T) {
	e := NewExporter(filepath.Join(t.TempDir(), "plan.json"))
	first := finalSnapshot()
	require.NoError(t, e.Write(first))

	second := finalSnapshot()
	second.RequestID = "trip-2"
	require.NoError(t, e.Write(second))

	doc, err := e.Load()
	require.NoError(t, err)
	assert.Equal(t, types.RequestID("trip-2"), doc.Snapshot.RequestID)
}

func TestWriteRejectsNonFinal(t *testing.T) {
	e := NewExporter(filepath.Join(t.TempDir(), "plan.json"))
	s := finalSnapshot()
	s.Stage = types.StagePartial

	assert.ErrorIs(t, e.Write(s), ErrNotFinal)
	assert.False(t, e.Exists())
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewExporter(filepath.Join(dir, "missing.json")).Load()
	assert.True(t, errors.Is(err, os.ErrNotExist))

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{not json"), 0o644))
	_, err = NewExporter(corrupt).Load()
	assert.ErrorIs(t, err, ErrCorruptedExport)

	future := filepath.Join(dir, "future.json")
	require.NoError(t, os.WriteFile(future, []byte(`{"schema_version": 2}`), 0o644))
	_, err = NewExporter(future).Load()
	assert.ErrorIs(t, err, ErrIncompatibleVersion)
}
