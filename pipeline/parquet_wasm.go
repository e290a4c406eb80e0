//go:build js

package pipeline

import (
	"bytes"
	"encoding/csv"
	"strconv"
)

// marshalCanonicalParquet has no wasm-safe counterpart: parquet-go's native
// writer path pulls in cgo-free but still filesystem-oriented dependencies
// that aren't worth carrying into the browser build. Under js builds this
// writes CSV instead, so a "parquet" request still produces
// canonical_samples.parquet (RunBytes picks the extension from the requested
// format), but that file's content is CSV, not Parquet.
func marshalCanonicalParquet(samples []CanonicalSample) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{
		"ts_utc_iso", "elapsed_s", "power_w", "hr_bpm", "cadence_rpm", "speed_mps", "distance_m", "altitude_m", "temperature_c", "grade_pct",
		"valid_power", "valid_hr", "valid_cadence", "file_offset", "record_index",
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, s := range samples {
		row := []string{
			s.TSUTCISO,
			formatFloat(s.ElapsedS),
			formatFloatPtr(s.PowerW),
			formatFloatPtr(s.HRBPM),
			formatFloatPtr(s.CadenceRPM),
			formatFloatPtr(s.SpeedMPS),
			formatFloatPtr(s.DistanceM),
			formatFloatPtr(s.AltitudeM),
			formatFloatPtr(s.TemperatureC),
			formatFloatPtr(s.GradePct),
			strconv.FormatBool(s.ValidPower),
			strconv.FormatBool(s.ValidHR),
			strconv.FormatBool(s.ValidCadence),
			strconv.FormatInt(s.FileOffset, 10),
			strconv.Itoa(s.RecordIndex),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
