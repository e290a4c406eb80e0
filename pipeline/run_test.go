package pipeline

import (
	"encoding/binary"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tormoder/fit/dyncrc16"
)

func TestRunOnSyntheticFiveByFourWorkout(t *testing.T) {
	data := buildSyntheticRideFIT(t)

	tmp := t.TempDir()
	fitPath := filepath.Join(tmp, "ride.fit")
	if err := os.WriteFile(fitPath, data, 0o644); err != nil {
		t.Fatalf("write synthetic fit: %v", err)
	}

	outDir := filepath.Join(tmp, "out")
	res, err := Run(Options{
		FitPath:     fitPath,
		OutDir:      outDir,
		FTPOverride: 223,
		WeightKG:    72.5,
		Format:      "csv",
		Overwrite:   true,
		CopySource:  false,
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	// canonical_samples has required columns and roughly 1Hz count.
	f, err := os.Open(res.CanonicalSamplesPath)
	if err != nil {
		t.Fatalf("open canonical samples: %v", err)
	}
	defer f.Close()
	cr := csv.NewReader(f)
	rows, err := cr.ReadAll()
	if err != nil {
		t.Fatalf("read canonical csv: %v", err)
	}
	if len(rows) < 3000 {
		t.Fatalf("expected ~1Hz sample count, got %d rows", len(rows)-1)
	}
	header := rows[0]
	required := []string{
		"ts_utc_iso", "elapsed_s", "power_w", "hr_bpm", "cadence_rpm", "speed_mps", "distance_m", "altitude_m", "temperature_c", "grade_pct",
		"valid_power", "valid_hr", "valid_cadence", "file_offset", "record_index",
	}
	for i, col := range required {
		if i >= len(header) || header[i] != col {
			t.Fatalf("unexpected header column %d: got %q want %q", i, header[i], col)
		}
	}

	activitySummary := ActivitySummaryFile{}
	data2, err := os.ReadFile(res.ActivitySummaryPath)
	if err != nil {
		t.Fatalf("read activity summary: %v", err)
	}
	if err := json.Unmarshal(data2, &activitySummary); err != nil {
		t.Fatalf("unmarshal activity summary: %v", err)
	}
	if activitySummary.NPW <= 0 {
		t.Fatalf("expected np_w > 0, got %v", activitySummary.NPW)
	}
	if activitySummary.WeightKG == nil || *activitySummary.WeightKG <= 0 {
		t.Fatalf("expected weight_kg to be populated")
	}
	if activitySummary.NPWPerKG == nil || *activitySummary.NPWPerKG <= 0 {
		t.Fatalf("expected np_w_per_kg > 0")
	}

	structure := WorkoutStructureFile{}
	data2, err = os.ReadFile(res.WorkoutStructurePath)
	if err != nil {
		t.Fatalf("read workout structure: %v", err)
	}
	if err := json.Unmarshal(data2, &structure); err != nil {
		t.Fatalf("unmarshal workout structure: %v", err)
	}
	if structure.FTPWUsed == nil || structure.FTPWUsed.FTPW <= 0 {
		t.Fatalf("expected ftp_w_used when override supplied")
	}
	if len(structure.Steps) == 0 {
		t.Fatalf("expected workout steps derived from laps")
	}

	sampleCount := len(rows) - 1
	for _, step := range structure.Steps {
		if step.StartSampleIndex < 0 || step.EndSampleIndex < step.StartSampleIndex || step.EndSampleIndex >= sampleCount {
			t.Fatalf("invalid sample indices for step %d: %d..%d (sample_count=%d)", step.StepIndex, step.StartSampleIndex, step.EndSampleIndex, sampleCount)
		}
		if step.DurationS != nil && step.StartTSUTC != "" && step.EndTSUTC != "" {
			start, err := time.Parse(time.RFC3339, step.StartTSUTC)
			if err != nil {
				t.Fatalf("parse step start time: %v", err)
			}
			end, err := time.Parse(time.RFC3339, step.EndTSUTC)
			if err != nil {
				t.Fatalf("parse step end time: %v", err)
			}
			diff := end.Sub(start).Seconds() - *step.DurationS
			if diff < -2 || diff > 2 {
				t.Fatalf("step duration mismatch >2s for step %d: start/end=%.1fs duration=%.1fs", step.StepIndex, end.Sub(start).Seconds(), *step.DurationS)
			}
		}
	}
}

func TestRunBytesProducesArtifacts(t *testing.T) {
	data := buildSyntheticRideFIT(t)

	res, err := RunBytes(BytesOptions{
		SourceFileName: "synthetic_5x4.fit",
		FitData:        data,
		FTPOverride:    223,
		WeightKG:       72.5,
		Format:         "csv",
		CopySource:     true,
	})
	if err != nil {
		t.Fatalf("RunBytes() error: %v", err)
	}

	required := []string{
		"manifest.json",
		"records.jsonl",
		"messages_index.json",
		"workout_structure.json",
		"activity_summary.json",
		"training_summary.md",
		"canonical_samples.csv",
		"source.fit",
	}
	for _, name := range required {
		if _, ok := res.Files[name]; !ok {
			t.Fatalf("missing artifact %s", name)
		}
	}
}

// rideSegment describes one constant-effort block of a structured interval
// workout: a lap boundary plus the per-second record values held for its
// duration.
type rideSegment struct {
	durationS int
	powerW    uint16
	hrBPM     uint8
	cadenceRPM uint8
	speedMPS  float64
}

// buildSyntheticRideFIT hand-assembles a multi-lap FIT activity resembling a
// 5x4 interval workout (warmup, five work/recovery pairs, cooldown) at 1Hz,
// built the same way buildTestFIT and the fit package's decoder fixtures are:
// raw definition and data bytes, no encoder involved. It exists so the
// pipeline tests exercise Run/RunBytes end to end without depending on a
// developer's personal downloads folder.
func buildSyntheticRideFIT(t *testing.T) []byte {
	t.Helper()

	segments := []rideSegment{
		{600, 150, 120, 85, 7.5},  // warmup
		{240, 260, 165, 95, 9.8},  // rep 1 work
		{180, 120, 130, 80, 6.5},  // rep 1 recovery
		{240, 262, 167, 95, 9.9},  // rep 2 work
		{180, 118, 128, 80, 6.4},  // rep 2 recovery
		{240, 258, 168, 94, 9.7},  // rep 3 work
		{180, 121, 129, 79, 6.6},  // rep 3 recovery
		{240, 263, 170, 96, 10.0}, // rep 4 work
		{180, 119, 127, 81, 6.3},  // rep 4 recovery
		{240, 259, 171, 95, 9.8},  // rep 5 work
		{180, 122, 126, 80, 6.5},  // rep 5 recovery
		{600, 110, 115, 75, 6.0},  // cooldown
	}

	const tsStart uint32 = 1000000000
	const serialNumber uint32 = 773311
	const ftpW uint16 = 223

	var body []byte

	// file_id (local 0): type(enum,1) manufacturer(uint16,2) product(uint16,2)
	// serial_number(uint32,4) time_created(uint32,4)
	body = append(body, 0x40, 0x00, 0x00, 0x00, 0x00, 0x05,
		0x00, 0x01, 0x00,
		0x01, 0x02, 0x84,
		0x02, 0x02, 0x84,
		0x03, 0x04, 0x86,
		0x04, 0x04, 0x86,
	)
	body = append(body, 0x00, 4)
	body = append(body, le16(1)...)
	body = append(body, le16(20)...)
	body = append(body, le32(serialNumber)...)
	body = append(body, le32(tsStart)...)

	// session (local 1): timestamp(253,u32) start_time(2,u32) sport(5,enum)
	// sub_sport(6,enum) total_elapsed_time(7,u32) total_timer_time(8,u32)
	// total_distance(9,u32) avg_heart_rate(16,u8) max_heart_rate(17,u8)
	// avg_cadence(18,u8) max_cadence(19,u8) avg_power(20,u16) max_power(21,u16)
	// threshold_power(57,u16)
	body = append(body, 0x41, 0x00, 0x00, 0x12, 0x00, 0x0E,
		0xFD, 0x04, 0x86,
		0x02, 0x04, 0x86,
		0x05, 0x01, 0x00,
		0x06, 0x01, 0x00,
		0x07, 0x04, 0x86,
		0x08, 0x04, 0x86,
		0x09, 0x04, 0x86,
		0x10, 0x01, 0x02,
		0x11, 0x01, 0x02,
		0x12, 0x01, 0x02,
		0x13, 0x01, 0x02,
		0x14, 0x02, 0x84,
		0x15, 0x02, 0x84,
		0x39, 0x02, 0x84,
	)

	// lap (local 2): timestamp(253,u32) start_time(2,u32) total_elapsed_time(7,u32)
	// total_timer_time(8,u32) total_distance(9,u32) avg_heart_rate(15,u8)
	// max_heart_rate(16,u8) avg_cadence(17,u8) avg_power(19,u16) max_power(20,u16)
	body = append(body, 0x42, 0x00, 0x00, 0x13, 0x00, 0x0A,
		0xFD, 0x04, 0x86,
		0x02, 0x04, 0x86,
		0x07, 0x04, 0x86,
		0x08, 0x04, 0x86,
		0x09, 0x04, 0x86,
		0x0F, 0x01, 0x02,
		0x10, 0x01, 0x02,
		0x11, 0x01, 0x02,
		0x13, 0x02, 0x84,
		0x14, 0x02, 0x84,
	)

	// record (local 3): timestamp(253,u32) heart_rate(3,u8) cadence(4,u8)
	// power(7,u16) speed(6,u16) distance(5,u32) altitude(2,u16)
	body = append(body, 0x43, 0x00, 0x00, 0x14, 0x00, 0x07,
		0xFD, 0x04, 0x86,
		0x03, 0x01, 0x02,
		0x04, 0x01, 0x02,
		0x07, 0x02, 0x84,
		0x06, 0x02, 0x84,
		0x05, 0x04, 0x86,
		0x02, 0x02, 0x84,
	)

	writeRecord := func(ts uint32, hr, cadence uint8, power uint16, speedMPS float64, distanceM float64, altitudeM float64) {
		body = append(body, 0x03)
		body = append(body, le32(ts)...)
		body = append(body, hr, cadence)
		body = append(body, le16(power)...)
		body = append(body, le16(uint16(speedMPS*1000))...)
		body = append(body, le32(uint32(distanceM*100))...)
		body = append(body, le16(uint16((altitudeM+500)*5))...)
	}

	writeLap := func(startTS, endTS uint32, seg rideSegment, distanceAtStart, distanceAtEnd float64) {
		body = append(body, 0x02)
		body = append(body, le32(endTS)...)
		body = append(body, le32(startTS)...)
		body = append(body, le32(endTS-startTS)...)
		body = append(body, le32(endTS-startTS)...)
		body = append(body, le32(uint32((distanceAtEnd-distanceAtStart)*100))...)
		body = append(body, seg.hrBPM, seg.hrBPM, seg.cadenceRPM)
		body = append(body, le16(seg.powerW)...)
		body = append(body, le16(seg.powerW)...)
	}

	writeSession := func(startTS, endTS uint32, totalDistance float64, avgHR, maxHR, avgCadence, maxCadence uint8, avgPower, maxPower, threshold uint16) {
		body = append(body, 0x01)
		body = append(body, le32(endTS)...)
		body = append(body, le32(startTS)...)
		body = append(body, 0x02) // sport: cycling
		body = append(body, 0x06) // sub_sport: indoor_cycling
		body = append(body, le32(endTS-startTS)...)
		body = append(body, le32(endTS-startTS)...)
		body = append(body, le32(uint32(totalDistance*100))...)
		body = append(body, avgHR, maxHR, avgCadence, maxCadence)
		body = append(body, le16(avgPower)...)
		body = append(body, le16(maxPower)...)
		body = append(body, le16(threshold)...)
	}

	ts := tsStart
	distance := 0.0
	var maxHR, maxCadence uint8
	var maxPower uint16
	var powerSum, hrSum, cadenceSum float64
	sampleCount := 0

	for _, seg := range segments {
		segStart := ts
		distStart := distance
		for i := 0; i < seg.durationS; i++ {
			writeRecord(ts, seg.hrBPM, seg.cadenceRPM, seg.powerW, seg.speedMPS, distance, 100.0)
			distance += seg.speedMPS
			ts++

			powerSum += float64(seg.powerW)
			hrSum += float64(seg.hrBPM)
			cadenceSum += float64(seg.cadenceRPM)
			sampleCount++
			if seg.hrBPM > maxHR {
				maxHR = seg.hrBPM
			}
			if seg.cadenceRPM > maxCadence {
				maxCadence = seg.cadenceRPM
			}
			if seg.powerW > maxPower {
				maxPower = seg.powerW
			}
		}
		writeLap(segStart, ts, seg, distStart, distance)
	}

	avgPower := uint16(powerSum / float64(sampleCount))
	avgHR := uint8(hrSum / float64(sampleCount))
	avgCadence := uint8(cadenceSum / float64(sampleCount))
	writeSession(tsStart, ts, distance, avgHR, maxHR, avgCadence, maxCadence, avgPower, maxPower, ftpW)

	header := make([]byte, 12)
	header[0] = 14
	header[1] = 0x10
	binary.LittleEndian.PutUint16(header[2:4], 2100)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(body)))
	copy(header[8:12], ".FIT")

	headerCRC := dyncrc16.Checksum(header)
	full := append(append([]byte{}, header...), le16(headerCRC)...)
	full = append(full, body...)

	fileCRC := dyncrc16.Checksum(full)
	full = append(full, le16(fileCRC)...)

	return full
}

func le16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}
