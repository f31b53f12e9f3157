package console

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/ericogr/hwmon-to-mqtt/pkg/output"
	"github.com/ericogr/hwmon-to-mqtt/pkg/sensor"
)

type ConsoleOutput struct {
	w io.Writer
}

func NewConsole() output.Output { return &ConsoleOutput{w: os.Stdout} }

// NewConsoleWriter writes to w instead of stdout.
func NewConsoleWriter(w io.Writer) output.Output { return &ConsoleOutput{w: w} }

func (c *ConsoleOutput) Publish(readings []sensor.Reading) error {
	for _, r := range readings {
		if r.Hidden {
			continue
		}
		// absent values print as blank
		value := ""
		if r.Valid {
			value = strconv.FormatFloat(r.Value, 'f', 3, 64)
		}
		_, err := fmt.Fprintf(c.w, "%s hardware=%q sensor=%q kind=%s index=%d value=%s unit=%s\n",
			r.Timestamp.Format(time.RFC3339), r.Hardware, r.Name, r.Kind, r.Index, value, r.Kind.Unit())
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *ConsoleOutput) Close() error { return nil }
