package replay_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/awer25/pandaop/can"
	"github.com/awer25/pandaop/replay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ndjsonDrive = `{"t":1000,"dir":"rx","bus":0,"addr":466,"data":"10000000000000EB"}

{"t":1500,"dir":"tx","bus":0,"addr":740,"data":"00 00 00 00 00"}
{"t":1600,"dir":"tx","bus":1,"addr":417001744,"data":"021003"}
`

const yamlDrive = `
- {t: 1000, dir: rx, bus: 0, addr: 0x1D2, data: "10000000000000EB"}
- t: 1500
  dir: tx
  bus: 0
  addr: 0x2E4
  data: "0000000000"
`

func TestReadNDJSON(t *testing.T) {
	entries, err := replay.ReadNDJSON(strings.NewReader(ndjsonDrive))
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, replay.Observed, entries[0].Direction)
	assert.Equal(t, uint32(0x1D2), entries[0].Address)

	f, err := entries[1].Frame()
	require.NoError(t, err)
	assert.Equal(t, can.MustFrame(0x2E4, 0, make([]byte, 5)), f)

	f, err = entries[2].Frame()
	require.NoError(t, err)
	assert.True(t, f.Extended)
	assert.Equal(t, uint8(1), f.Bus)
}

func TestReadNDJSONErrors(t *testing.T) {
	_, err := replay.ReadNDJSON(strings.NewReader(`{"t":1,"dir":"rx"}` + "\n" + `{"t":`))
	assert.ErrorContains(t, err, "line 2")

	_, err = replay.ReadNDJSON(strings.NewReader(`{"t":1,"dir":"up"}`))
	assert.ErrorIs(t, err, replay.ErrInvalidEntry)
}

func TestReadYAML(t *testing.T) {
	entries, err := replay.ReadYAML(strings.NewReader(yamlDrive))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, uint32(0x1D2), entries[0].Address)
	assert.Equal(t, replay.Sent, entries[1].Direction)
	assert.Equal(t, uint32(1500), entries[1].Timestamp)

	entries, err = replay.ReadYAML(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	ndjson := filepath.Join(dir, "drive.ndjson")
	yml := filepath.Join(dir, "drive.yaml")
	require.NoError(t, os.WriteFile(ndjson, []byte(ndjsonDrive), 0644))
	require.NoError(t, os.WriteFile(yml, []byte(yamlDrive), 0644))

	entries, err := replay.LoadFile(ndjson)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	entries, err = replay.LoadFile(yml)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	_, err = replay.LoadFile(filepath.Join(dir, "drive.csv"))
	assert.ErrorIs(t, err, replay.ErrUnknownFormat)

	_, err = replay.LoadFile(filepath.Join(dir, "missing.ndjson"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewEntry(t *testing.T) {
	f := can.MustFrame(0x18DAF110, 1, []byte{0xAB, 0x01})
	e := replay.NewEntry(42, replay.Sent, f)

	assert.Equal(t, "AB01", e.Data)
	assert.True(t, e.Extended)
	got, err := e.Frame()
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestEntryReturned(t *testing.T) {
	assert.True(t, replay.Entry{Direction: replay.Observed, Bus: 0x80}.Returned())
	assert.False(t, replay.Entry{Direction: replay.Observed, Bus: 2}.Returned())
	assert.False(t, replay.Entry{Direction: replay.Sent, Bus: 0x80}.Returned())
}
