package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T, level LogLevel) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	prevLevel := GetLevel()
	SetOutput(buf)
	SetLevel(level)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		SetLevel(prevLevel)
	})
	return buf
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t, INFO)

	Trace("abc", "trace %d", 1)
	Debug("abc", "debug %d", 2)
	Info("abc", "info %d", 3)
	Error("", "error %d", 4)

	out := buf.String()
	require.NotContains(t, out, "trace 1")
	require.NotContains(t, out, "debug 2")
	require.Contains(t, out, "[abc INFO ] info 3")
	require.Contains(t, out, "[ERROR] error 4")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, TRACE, ParseLevel("trace"))
	require.Equal(t, WARN, ParseLevel(" warning "))
	require.Equal(t, ERROR, ParseLevel("ERROR"))
	require.Equal(t, INFO, ParseLevel("bogus"))
}

func TestPrefixTruncatesDeviceID(t *testing.T) {
	require.Equal(t, "af89f37e Initiator", Prefix("af89f37e-5f29-4410", "Initiator"))
	require.Equal(t, "dev Responder", Prefix("dev", "Responder"))
}

func TestToJSONRendersAdvertisementMaps(t *testing.T) {
	out := ToJSON(map[string]interface{}{
		"kCBAdvDataLocalName":     "MyPeripheral",
		"kCBAdvDataIsConnectable": true,
	})
	// protojson whitespace is deliberately unstable, so only check content
	require.Contains(t, out, "kCBAdvDataLocalName")
	require.Contains(t, out, "MyPeripheral")
	require.Contains(t, out, "kCBAdvDataIsConnectable")
}

func TestJSONHelpersRespectLevel(t *testing.T) {
	buf := captureOutput(t, DEBUG)
	adv := map[string]interface{}{"kCBAdvDataLocalName": "MyPeripheral"}

	TraceJSON("abc", "hidden", adv)
	DebugJSON("abc", "shown", adv)
	require.NotContains(t, buf.String(), "hidden:")
	require.Contains(t, buf.String(), "[abc DEBUG] shown:")

	SetLevel(TRACE)
	TraceJSON("abc", "traced", adv)
	require.Contains(t, buf.String(), "[abc TRACE] traced:")
	require.Contains(t, buf.String(), "MyPeripheral")
}
