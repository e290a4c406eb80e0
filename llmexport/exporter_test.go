package llmexport

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tormoder/fit/dyncrc16"
)

func TestParseFITBytesParsesRecords(t *testing.T) {
	data := buildTestFIT(t)

	out, err := parseFITBytes(data, false)
	if err != nil {
		t.Fatalf("parseFITBytes error: %v", err)
	}

	if out.Header.DataType != ".FIT" {
		t.Fatalf("unexpected header type: %q", out.Header.DataType)
	}
	if len(out.Records) == 0 {
		t.Fatal("expected records, got none")
	}
	if out.DefinitionCount == 0 {
		t.Fatal("expected at least one definition record")
	}
	if out.DataMessageCount == 0 {
		t.Fatal("expected at least one data record")
	}
	if !out.FileCRC.Valid {
		t.Fatal("expected valid file CRC")
	}
	if !out.HeaderCRC.Valid {
		t.Fatal("expected valid header CRC")
	}
	if out.FileID == nil || out.FileID.Type == "" {
		t.Fatal("expected a file_id projection")
	}
}

func TestParseFITBytesExpandsSpeedDistanceComponents(t *testing.T) {
	data := buildTestFIT(t)

	out, err := parseFITBytes(data, true)
	if err != nil {
		t.Fatalf("parseFITBytes error: %v", err)
	}

	var sawSpeed, sawDistance bool
	for _, rec := range out.Records {
		if rec.Data == nil {
			continue
		}
		for _, f := range rec.Data.Fields {
			switch f.Name {
			case "speed":
				sawSpeed = true
			case "distance":
				sawDistance = true
			}
		}
		if rec.Data.Flat != nil {
			if rec.Data.Flat.SpeedMPS != nil {
				sawSpeed = true
			}
			if rec.Data.Flat.DistanceM != nil {
				sawDistance = true
			}
		}
	}
	if !sawSpeed || !sawDistance {
		t.Fatalf("expected compressed_speed_distance to expand into speed and distance, got speed=%v distance=%v", sawSpeed, sawDistance)
	}
}

func TestExportFileWritesBundle(t *testing.T) {
	data := buildTestFIT(t)

	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "sample.fit")
	if err := os.WriteFile(inputPath, data, 0o644); err != nil {
		t.Fatalf("write sample fit: %v", err)
	}

	outDir := filepath.Join(tmp, "export")
	result, err := ExportFile(inputPath, outDir, ExportOptions{
		Overwrite:      true,
		CopySourceFile: true,
	})
	if err != nil {
		t.Fatalf("ExportFile error: %v", err)
	}

	if result.RecordCount == 0 {
		t.Fatal("expected exported records")
	}
	if _, err := os.Stat(result.ManifestPath); err != nil {
		t.Fatalf("manifest missing: %v", err)
	}
	if _, err := os.Stat(result.RecordsPath); err != nil {
		t.Fatalf("records missing: %v", err)
	}
	if _, err := os.Stat(result.SourceCopyPath); err != nil {
		t.Fatalf("source copy missing: %v", err)
	}

	manifestData, err := os.ReadFile(result.ManifestPath)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		t.Fatalf("unmarshal manifest: %v", err)
	}
	if manifest.FormatVersion != ExportFormatVersion {
		t.Fatalf("unexpected format version: %q", manifest.FormatVersion)
	}
	if manifest.RecordCount != result.RecordCount {
		t.Fatalf("manifest record count mismatch: %d != %d", manifest.RecordCount, result.RecordCount)
	}

	recordsData, err := os.ReadFile(result.RecordsPath)
	if err != nil {
		t.Fatalf("read records: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(recordsData)), "\n")
	if len(lines) != result.RecordCount {
		t.Fatalf("records line count mismatch: %d != %d", len(lines), result.RecordCount)
	}
}

// buildTestFIT hand-assembles a minimal, valid little-endian FIT byte
// stream: a file_id message, two record messages (both carrying the
// compressed_speed_distance component field), and a trailing CRC.
// It doesn't go through any FIT encoder — the whole point of this tree
// is to decode bytes, not produce them, so the fixture is built by hand
// at the byte level the same way the decoder itself reads them.
func buildTestFIT(t *testing.T) []byte {
	t.Helper()

	var body []byte

	// file_id definition (local 0): type(enum,1) manufacturer(uint16,2)
	// product(uint16,2) serial_number(uint32,4) time_created(uint32,4)
	body = append(body, 0x40, 0x00, 0x00, 0x00, 0x00, 0x05,
		0x00, 0x01, 0x00,
		0x01, 0x02, 0x84,
		0x02, 0x02, 0x84,
		0x03, 0x04, 0x86,
		0x04, 0x04, 0x86,
	)
	// file_id data: type=4 (activity), manufacturer=1, product=2,
	// serial_number=12345, time_created=1000000000
	body = append(body, 0x00, 4)
	body = append(body, le16(1)...)
	body = append(body, le16(2)...)
	body = append(body, le32(12345)...)
	body = append(body, le32(1000000000)...)

	// record definition (local 1): timestamp(uint32,4) heart_rate(uint8,1)
	// power(uint16,2) compressed_speed_distance(byte,3)
	body = append(body, 0x41, 0x00, 0x00, 0x14, 0x00, 0x04,
		0xFD, 0x04, 0x86,
		0x03, 0x01, 0x02,
		0x07, 0x02, 0x84,
		0x08, 0x03, 0x0D,
	)

	writeRecord := func(ts uint32, hr uint8, power uint16, speedRaw, distRaw uint32) {
		body = append(body, 0x01)
		body = append(body, le32(ts)...)
		body = append(body, hr)
		body = append(body, le16(power)...)
		packed := (speedRaw & 0xFFF) | ((distRaw & 0xFFF) << 12)
		body = append(body, byte(packed), byte(packed>>8), byte(packed>>16))
	}
	writeRecord(1000000100, 135, 245, 3000, 10)
	writeRecord(1000000101, 136, 250, 3050, 26)

	header := make([]byte, 12)
	header[0] = 14
	header[1] = 0x10 // protocol version
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
