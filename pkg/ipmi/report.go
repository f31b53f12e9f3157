package ipmi

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// Report writes a diagnostic dump of the BMC: manufacturer, then every full
// sensor record with its conversion factors and current reading.
func (p *Provider) Report(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "BMC manufacturer: %s (%d)\n\n", p.manufacturer, uint32(p.manufacturer)); err != nil {
		return err
	}

	records, err := Enumerate(p.transport)
	if err != nil {
		_, werr := fmt.Fprintf(w, "SDR repository: %v\n", err)
		return werr
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Number\tType\tId\tM\tB\tBExp\tRExp\tLinear\tReading")
	for _, r := range records {
		reading := "-"
		if v, ok := p.readSensor(r); ok {
			reading = fmt.Sprintf("%.3f", v)
		} else if r.Linear != 0 {
			reading = "unsupported"
		}
		fmt.Fprintf(tw, "%d\t0x%02x\t%s\t%d\t%d\t%d\t%d\t0x%02x\t%s\n",
			r.SensorNumber, r.SensorType, r.ID, r.M, r.B, r.BExp, r.RExp, r.Linear, reading)
	}
	return tw.Flush()
}
