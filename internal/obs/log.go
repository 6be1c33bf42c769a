package obs

// All log output is newline-delimited JSON on stdout. The service never
// writes free-form text; collectors key on the fields, not the line.

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

var (
	lineOnce   sync.Once
	lineWriter *log.Logger
)

// Logger returns the process-wide line writer. It carries no prefix and
// no flags: timestamps live inside the JSON payload.
func Logger() *log.Logger {
	lineOnce.Do(func() {
		lineWriter = log.New(os.Stdout, "", 0)
	})
	return lineWriter
}

// LogJSON marshals fields and writes them as one line. A field set that
// cannot be marshaled is reported in place of the entry rather than
// dropped silently.
func LogJSON(fields map[string]any) {
	data, err := json.Marshal(fields)
	if err != nil {
		Logger().Printf(`{"level":"error","msg":"unloggable entry","err":%q}`, err.Error())
		return
	}
	Logger().Println(string(data))
}
