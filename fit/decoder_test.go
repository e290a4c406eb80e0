package fit

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/tormoder/fit/dyncrc16"
)

// wrapSegment assembles a 14-byte (CRC-carrying) header followed by body
// and a trailing file CRC, mirroring how a real FIT encoder lays out one
// segment. header/file CRCs are both computed fresh over the assembled
// bytes, the same running-checksum scheme the decoder itself verifies.
func wrapSegment(t *testing.T, body []byte) []byte {
	t.Helper()

	header := make([]byte, 12)
	header[0] = headerSizeCRC
	header[1] = 0x10
	binary.LittleEndian.PutUint16(header[2:4], 2100)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(body)))
	copy(header[8:12], ".FIT")

	headerCRC := dyncrc16.Checksum(header)
	full := append(append([]byte{}, header...), le16Bytes(headerCRC)...)
	full = append(full, body...)

	fileCRC := dyncrc16.Checksum(full)
	full = append(full, le16Bytes(fileCRC)...)
	return full
}

func le16Bytes(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func le32Bytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// fileIDBody returns a standalone file_id definition + data message,
// the smallest record set a valid FIT stream can carry.
func fileIDBody(serial uint32, timeCreated uint32) []byte {
	var body []byte
	// file_id definition (local 0): type(enum,1) manufacturer(uint16,2)
	// serial_number(uint32,4) time_created(uint32,4)
	body = append(body, 0x40, 0x00, 0x00, 0x00, 0x00, 0x04,
		0x00, 0x01, 0x00,
		0x01, 0x02, 0x84,
		0x03, 0x04, 0x86,
		0x04, 0x04, 0x86,
	)
	body = append(body, 0x00, 4)
	body = append(body, le16Bytes(1)...)
	body = append(body, le32Bytes(serial)...)
	body = append(body, le32Bytes(timeCreated)...)
	return body
}

func TestDecodeMinimalFileIDOnly(t *testing.T) {
	data := wrapSegment(t, fileIDBody(99887766, 1000000000))

	dec := NewDecoder(bytes.NewReader(data))
	msgs, err := dec.ParseAll()
	if err != nil {
		t.Fatalf("ParseAll error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages (definition + data), got %d", len(msgs))
	}
	if msgs[0].Kind != "definition" || msgs[0].Name != "file_id" {
		t.Fatalf("unexpected first message: %+v", msgs[0])
	}
	data0 := msgs[1]
	if data0.Kind != "data" || data0.Name != "file_id" {
		t.Fatalf("unexpected second message: %+v", data0)
	}
	serial, ok := data0.Field("serial_number")
	if !ok || serial.Scaled.(uint32) != 99887766 {
		t.Fatalf("expected serial_number 99887766, got %+v (ok=%v)", serial, ok)
	}

	if dec.Header().DataType != ".FIT" {
		t.Fatalf("unexpected header data type: %q", dec.Header().DataType)
	}
	if !dec.HeaderCRC().Valid {
		t.Fatalf("expected valid header CRC: %+v", dec.HeaderCRC())
	}
	if !dec.FileCRC().Valid {
		t.Fatalf("expected valid file CRC: %+v", dec.FileCRC())
	}
}

// TestDecodeSubFieldSelection exercises the event message's "data" field,
// which the profile table reinterprets as "timer_trigger" whenever the
// sibling "event" field reads 0.
func TestDecodeSubFieldSelection(t *testing.T) {
	var body []byte
	// event definition (local 0): event(enum,1) event_type(enum,1) data(uint32,4)
	body = append(body, 0x40, 0x00, 0x00, 0x15, 0x00, 0x03,
		0x00, 0x01, 0x00,
		0x01, 0x01, 0x00,
		0x03, 0x04, 0x86,
	)
	// event=0 (timer), event_type=0 (start), data=5
	body = append(body, 0x00, 0x00, 0x00)
	body = append(body, le32Bytes(5)...)

	data := wrapSegment(t, body)
	dec := NewDecoder(bytes.NewReader(data))
	msgs, err := dec.ParseAll()
	if err != nil {
		t.Fatalf("ParseAll error: %v", err)
	}

	var eventMsg *Message
	for i := range msgs {
		if msgs[i].Kind == "data" {
			eventMsg = &msgs[i]
		}
	}
	if eventMsg == nil {
		t.Fatal("expected a data message")
	}

	f, ok := eventMsg.Field("timer_trigger")
	if !ok {
		t.Fatalf("expected sub-field timer_trigger, fields were: %+v", eventMsg.Fields)
	}
	if f.Raw.(uint32) != 5 {
		t.Fatalf("expected timer_trigger raw value 5, got %v", f.Raw)
	}
	if _, stillNamedData := eventMsg.Field("data"); stillNamedData {
		t.Fatal("expected the generic \"data\" name to be replaced by the sub-field name")
	}
}

// TestDecodeComponentExpansionWithAccumulatorRollover exercises the
// record message's compressed_speed_distance field across two records,
// the second chosen so the 12-bit distance counter wraps and the
// accumulator must carry the rollover forward.
func TestDecodeComponentExpansionWithAccumulatorRollover(t *testing.T) {
	var body []byte
	// record definition (local 0): timestamp(uint32,4) compressed_speed_distance(byte,3)
	body = append(body, 0x40, 0x00, 0x00, 0x14, 0x00, 0x02,
		0xFD, 0x04, 0x86,
		0x08, 0x03, 0x0D,
	)

	writeRecord := func(ts uint32, speedRaw, distRaw uint32) {
		body = append(body, 0x00)
		body = append(body, le32Bytes(ts)...)
		packed := (speedRaw & 0xFFF) | ((distRaw & 0xFFF) << 12)
		body = append(body, byte(packed), byte(packed>>8), byte(packed>>16))
	}
	writeRecord(1000000100, 300, 4090)
	writeRecord(1000000101, 305, 10) // wraps past the 12-bit distance ceiling

	data := wrapSegment(t, body)
	dec := NewDecoder(bytes.NewReader(data))
	msgs, err := dec.ParseAll()
	if err != nil {
		t.Fatalf("ParseAll error: %v", err)
	}

	var dataMsgs []Message
	for _, m := range msgs {
		if m.Kind == "data" {
			dataMsgs = append(dataMsgs, m)
		}
	}
	if len(dataMsgs) != 2 {
		t.Fatalf("expected 2 record messages, got %d", len(dataMsgs))
	}

	speed0, ok := dataMsgs[0].Field("speed")
	if !ok || speed0.Scaled.(float64) != 3.0 {
		t.Fatalf("expected speed 3.0, got %+v (ok=%v)", speed0, ok)
	}
	dist0, ok := dataMsgs[0].Field("distance")
	if !ok || dist0.Scaled.(float64) != 255.625 {
		t.Fatalf("expected distance 255.625, got %+v (ok=%v)", dist0, ok)
	}

	dist1, ok := dataMsgs[1].Field("distance")
	if !ok {
		t.Fatal("expected a distance field on the second record")
	}
	// raw distance counter dropped from 4090 to 10 on the wire, but the
	// accumulator must recognize the wrap and keep the running total
	// moving forward rather than jumping backward.
	if dist1.Scaled.(float64) != 256.625 {
		t.Fatalf("expected rolled-over distance 256.625, got %v", dist1.Scaled)
	}
	if dist1.Scaled.(float64) <= dist0.Scaled.(float64) {
		t.Fatalf("accumulated distance must never go backward: %v -> %v", dist0.Scaled, dist1.Scaled)
	}
}

// TestDecodeCompressedTimestampRollover establishes an absolute timestamp
// via a normal record, then feeds two compressed-header records whose
// 5-bit time offsets wrap, and checks the reconstructed timestamps track
// real elapsed time rather than the raw offset.
func TestDecodeCompressedTimestampRollover(t *testing.T) {
	var body []byte

	// local 0 carries a timestamp so the absolute base gets established.
	body = append(body, 0x40, 0x00, 0x00, 0x14, 0x00, 0x02,
		0xFD, 0x04, 0x86,
		0x03, 0x01, 0x02,
	)
	body = append(body, 0x00)
	body = append(body, le32Bytes(1000000000)...) // offset-within-32 == 0
	body = append(body, 130)

	// local 1 omits the timestamp field entirely; only compressed headers
	// carry time for it from here on.
	body = append(body, 0x41, 0x00, 0x00, 0x14, 0x00, 0x01,
		0x03, 0x01, 0x02,
	)

	compressedHeader := func(local uint8, offset uint8) byte {
		return compressedHeaderMask | (local << 5) | (offset & compressedTimeMask)
	}

	body = append(body, compressedHeader(1, 30))
	body = append(body, 131)

	body = append(body, compressedHeader(1, 2)) // wraps past 31 back to 2
	body = append(body, 132)

	data := wrapSegment(t, body)
	dec := NewDecoder(bytes.NewReader(data))
	msgs, err := dec.ParseAll()
	if err != nil {
		t.Fatalf("ParseAll error: %v", err)
	}

	var dataMsgs []Message
	for _, m := range msgs {
		if m.Kind == "data" {
			dataMsgs = append(dataMsgs, m)
		}
	}
	if len(dataMsgs) != 3 {
		t.Fatalf("expected 3 record messages, got %d", len(dataMsgs))
	}

	base := fitEpoch.Add(1000000000 * time.Second)
	second := fitEpoch.Add(1000000030 * time.Second)
	third := fitEpoch.Add(1000000034 * time.Second)

	if dataMsgs[0].Timestamp == nil || !dataMsgs[0].Timestamp.Equal(base) {
		t.Fatalf("expected base timestamp %v, got %v", base, dataMsgs[0].Timestamp)
	}
	if dataMsgs[1].Timestamp == nil || !dataMsgs[1].Timestamp.Equal(second) {
		t.Fatalf("expected second timestamp %v, got %v", second, dataMsgs[1].Timestamp)
	}
	if dataMsgs[2].Timestamp == nil || !dataMsgs[2].Timestamp.Equal(third) {
		t.Fatalf("expected third timestamp %v (rolled over), got %v", third, dataMsgs[2].Timestamp)
	}
	if !dataMsgs[2].Timestamp.After(*dataMsgs[1].Timestamp) {
		t.Fatalf("time must keep advancing across the rollover: %v -> %v", dataMsgs[1].Timestamp, dataMsgs[2].Timestamp)
	}
}

// TestDecodeChainedFiles concatenates two independently-valid FIT
// segments in one stream and checks All() walks across the boundary
// instead of stopping after the first file's trailing CRC.
func TestDecodeChainedFiles(t *testing.T) {
	first := wrapSegment(t, fileIDBody(111, 1000000000))
	second := wrapSegment(t, fileIDBody(222, 1000000500))

	var combined bytes.Buffer
	combined.Write(first)
	combined.Write(second)

	dec := NewDecoder(bytes.NewReader(combined.Bytes()))
	msgs, err := dec.ParseAll()
	if err != nil {
		t.Fatalf("ParseAll error: %v", err)
	}

	var serials []uint32
	for _, m := range msgs {
		if m.Kind != "data" {
			continue
		}
		if f, ok := m.Field("serial_number"); ok {
			serials = append(serials, f.Scaled.(uint32))
		}
	}
	if len(serials) != 2 {
		t.Fatalf("expected 2 file_id data messages across both segments, got %d: %v", len(serials), serials)
	}
	if serials[0] != 111 || serials[1] != 222 {
		t.Fatalf("unexpected serial numbers: %v", serials)
	}
	if dec.Header().DataType != ".FIT" {
		t.Fatalf("expected the final segment's header, got %+v", dec.Header())
	}
}

// TestDecodeTrailingGarbageIsNotAChainedFile checks that leftover bytes
// which don't start with a valid header size are left alone rather than
// being mistaken for another segment.
func TestDecodeTrailingGarbageIsNotAChainedFile(t *testing.T) {
	data := wrapSegment(t, fileIDBody(333, 1000000000))
	data = append(data, 0x01, 0x02, 0x03)

	dec := NewDecoder(bytes.NewReader(data))
	msgs, err := dec.ParseAll()
	if err != nil {
		t.Fatalf("ParseAll error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected exactly 2 messages from the one real segment, got %d", len(msgs))
	}
}

func TestDecodeFileCRCMismatch(t *testing.T) {
	data := wrapSegment(t, fileIDBody(444, 1000000000))
	// flip a bit in the stored trailing file CRC.
	data[len(data)-1] ^= 0xFF

	dec := NewDecoder(bytes.NewReader(data))
	_, err := dec.ParseAll()
	if err == nil {
		t.Fatal("expected a file CRC mismatch error")
	}
	var crcErr *CrcError
	if !errors.As(err, &crcErr) {
		t.Fatalf("expected *CrcError, got %T: %v", err, err)
	}
	if crcErr.Scope != "file" {
		t.Fatalf("expected scope \"file\", got %q", crcErr.Scope)
	}
}

// TestDecodeCheckCRCFalseSuppressesMismatch exercises the CheckCRC=false
// escape hatch: a genuinely corrupt file CRC must not stop the parse.
func TestDecodeCheckCRCFalseSuppressesMismatch(t *testing.T) {
	data := wrapSegment(t, fileIDBody(666, 1000000000))
	data[len(data)-1] ^= 0xFF

	dec := NewDecoder(bytes.NewReader(data)).WithCheckCRC(false)
	msgs, err := dec.ParseAll()
	if err != nil {
		t.Fatalf("expected no error with CheckCRC=false, got %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages despite the CRC mismatch, got %d", len(msgs))
	}
	if dec.FileCRC().Valid {
		t.Fatal("expected FileCRC().Valid to still report the mismatch")
	}
}

// TestDecodeAllowZeroCRCAcceptsZeroFileCRC checks the FIT "CRC not
// computed" convention: a stored file CRC of exactly 0 is accepted when
// AllowZeroCRC is set, even though it doesn't match the computed value.
func TestDecodeAllowZeroCRCAcceptsZeroFileCRC(t *testing.T) {
	data := wrapSegment(t, fileIDBody(777, 1000000000))
	data[len(data)-2] = 0
	data[len(data)-1] = 0

	dec := NewDecoder(bytes.NewReader(data)).WithAllowZeroCRC(true)
	_, err := dec.ParseAll()
	if err != nil {
		t.Fatalf("expected no error with AllowZeroCRC=true, got %v", err)
	}
	if !dec.FileCRC().Valid {
		t.Fatal("expected a zero stored file CRC to be treated as valid")
	}

	dec2 := NewDecoder(bytes.NewReader(data))
	_, err = dec2.ParseAll()
	if err == nil {
		t.Fatal("expected a zero stored file CRC to still fail without AllowZeroCRC")
	}
}

// TestDecodeHeaderSizeBeyondFourteenIsAccepted checks that a header_size
// greater than 14 (some encoders pad the header) is accepted, the CRC at
// bytes [12:14] still verified, and the trailing pad bytes discarded.
func TestDecodeHeaderSizeBeyondFourteenIsAccepted(t *testing.T) {
	body := fileIDBody(888, 1000000000)

	header := make([]byte, 12)
	header[0] = 20 // header_size: 12 fixed + 2-byte CRC + 6 pad bytes
	header[1] = 0x10
	binary.LittleEndian.PutUint16(header[2:4], 2100)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(body)))
	copy(header[8:12], ".FIT")

	headerCRC := dyncrc16.Checksum(header)
	full := append(append([]byte{}, header...), le16Bytes(headerCRC)...)
	full = append(full, make([]byte, 6)...) // padding beyond byte 14
	full = append(full, body...)

	fileCRC := dyncrc16.Checksum(full)
	full = append(full, le16Bytes(fileCRC)...)

	dec := NewDecoder(bytes.NewReader(full))
	msgs, err := dec.ParseAll()
	if err != nil {
		t.Fatalf("ParseAll error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if dec.Header().Size != 20 {
		t.Fatalf("expected header size 20, got %d", dec.Header().Size)
	}
	if !dec.HeaderCRC().Valid {
		t.Fatalf("expected valid header CRC: %+v", dec.HeaderCRC())
	}
	if !dec.FileCRC().Valid {
		t.Fatalf("expected valid file CRC: %+v", dec.FileCRC())
	}
}

// TestDecodeProcessorMutatesFields checks, on a file_id-only file, that
// a custom Processor's field hooks and message hook all run during
// decode and that a rename made in RunField shows on the decoded message.
func TestDecodeProcessorMutatesFields(t *testing.T) {
	data := wrapSegment(t, fileIDBody(999, 1000000000))

	proc := &recordingProcessor{}
	dec := NewDecoder(bytes.NewReader(data)).WithProcessor(proc)
	msgs, err := dec.ParseAll()
	if err != nil {
		t.Fatalf("ParseAll error: %v", err)
	}

	serial, ok := msgs[1].Field("serial_number")
	if !ok || serial.Name != "serial_number (patched)" {
		t.Fatalf("expected RunField to have patched the field name, got %+v (ok=%v)", serial, ok)
	}
	if proc.messageCalls == 0 {
		t.Fatal("expected RunMessage to have been invoked")
	}
	if proc.typeCalls == 0 || proc.fieldCalls == 0 || proc.unitCalls == 0 {
		t.Fatalf("expected all three field hooks to run: type=%d field=%d unit=%d",
			proc.typeCalls, proc.fieldCalls, proc.unitCalls)
	}
}

type recordingProcessor struct {
	NoopProcessor
	typeCalls, fieldCalls, unitCalls, messageCalls int
}

func (p *recordingProcessor) RunType(f *FieldData) { p.typeCalls++ }

func (p *recordingProcessor) RunField(f *FieldData) {
	p.fieldCalls++
	if f.Name == "serial_number" {
		f.Name = "serial_number (patched)"
	}
}

func (p *recordingProcessor) RunUnit(f *FieldData) { p.unitCalls++ }

func (p *recordingProcessor) RunMessage(m *Message) { p.messageCalls++ }

func TestDecodeHeaderCRCMismatch(t *testing.T) {
	data := wrapSegment(t, fileIDBody(555, 1000000000))
	// the header CRC lives at bytes [12:14]; corrupt it without touching
	// the size/magic bytes the header parser validates first.
	data[12] ^= 0xFF
	data[13] ^= 0xFF
	if data[12] == 0 && data[13] == 0 {
		data[12] = 0x01
	}

	dec := NewDecoder(bytes.NewReader(data))
	_, err := dec.ParseAll()
	if err == nil {
		t.Fatal("expected a header CRC mismatch error")
	}
	var crcErr *CrcError
	if !errors.As(err, &crcErr) {
		t.Fatalf("expected *CrcError, got %T: %v", err, err)
	}
	if crcErr.Scope != "header" {
		t.Fatalf("expected scope \"header\", got %q", crcErr.Scope)
	}
}
