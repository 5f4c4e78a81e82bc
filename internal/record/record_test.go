package record

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		richter float64
		want    EventType
		level   int
	}{
		{1.0, Micro, 1},
		{2.0, Minor, 2},
		{3.99, Minor, 2},
		{4.0, Light, 3},
		{5.0, Moderate, 4},
		{6.0, Strong, 5},
		{7.0, Major, 6},
		{9.0, Major, 6},
	}
	for _, c := range cases {
		got, lvl, rng := Classify(c.richter)
		require.Equal(t, c.want, got, "richter=%v", c.richter)
		require.Equal(t, c.level, lvl)
		require.NotEmpty(t, rng)
	}
}

func TestWriterOneJSONObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	r1 := SeismicRecord{EventID: NewEventID(), Classification: Classification{Type: Light}}
	r2 := SeismicRecord{EventID: NewEventID(), Classification: Classification{Type: Minor}}
	require.NoError(t, w.Write(r1))
	require.NoError(t, w.Write(r2))
	require.NoError(t, w.Flush())

	sc := bufio.NewScanner(&buf)
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.Len(t, lines, 2)

	var decoded SeismicRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &decoded))
	require.Equal(t, r1.EventID, decoded.EventID)
}

func TestNewEventIDUnique(t *testing.T) {
	require.NotEqual(t, NewEventID(), NewEventID())
}
