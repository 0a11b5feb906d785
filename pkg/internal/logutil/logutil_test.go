package logutil

import (
    "bytes"
    "encoding/json"
    "log"
    "strings"
    "testing"

    "github.com/stretchr/testify/require"
)

func TestLevelsAndJSON(t *testing.T) {
    var buf bytes.Buffer
    l := log.New(&buf, "", 0)

    SetJSON(false)
    Infof(l, "hello %d", 1)
    require.Equal(t, "INFO hello 1\n", buf.String())

    buf.Reset()
    SetDebug(false)
    Debugf(l, "hidden")
    require.Empty(t, buf.String())

    buf.Reset()
    SetJSON(true)
    defer SetJSON(false)
    Warnf(l, "careful")
    var evt map[string]string
    require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &evt))
    require.Equal(t, "warn", evt["level"])
    require.Equal(t, "careful", evt["msg"])
}
