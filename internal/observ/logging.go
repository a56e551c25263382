package observ

import (
	"encoding/json"
	"fmt"
	"time"
)

// Log emits one JSON object per line on stdout. Every entry carries
// ts and event; everything else comes from kv.
func Log(event string, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	kv["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	kv["event"] = event
	b, _ := json.Marshal(kv)
	fmt.Println(string(b))
}

// LogErr is Log with the error string attached under "error".
func LogErr(event string, err error, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	if err != nil {
		kv["error"] = err.Error()
	}
	Log(event, kv)
}
