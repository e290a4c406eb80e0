package fit

import (
	"fmt"
	"io"
	"iter"

	"fitdecode/fit/profile"
)

// Decoder drives a streaming decode of one or more concatenated FIT
// files over a single io.Reader. It moves through five states as it
// reads: at-header, in-records, at-footer-crc, maybe-chained (peeking
// for another header immediately following the current file's CRC),
// and complete.
type Decoder struct {
	raw  io.Reader
	sink io.Writer
	proc Processor

	// CheckCRC controls whether a header or file CRC mismatch is
	// fatal. Defaults to true. AllowZeroCRC additionally treats a
	// file-reported CRC of exactly 0 as valid regardless of CheckCRC,
	// the FIT convention for "CRC not computed by the writer".
	CheckCRC     bool
	AllowZeroCRC bool

	s            *source
	defs         map[uint8]Definition
	devReg       *developerRegistry
	ts           tsState
	accumulators accumulators
	segment      int

	lastHeader    Header
	lastHeaderCRC CRCCheck
	lastFileCRC   CRCCheck
	err           error
	done          bool
}

// NewDecoder returns a Decoder reading from r. Call All or ParseAll to
// drive the decode.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{raw: r, proc: NoopProcessor{}, CheckCRC: true}
}

// WithCheckCRC toggles whether a header/file CRC mismatch is fatal.
func (d *Decoder) WithCheckCRC(check bool) *Decoder {
	d.CheckCRC = check
	return d
}

// WithAllowZeroCRC treats a file-reported CRC of 0 as valid regardless
// of CheckCRC.
func (d *Decoder) WithAllowZeroCRC(allow bool) *Decoder {
	d.AllowZeroCRC = allow
	return d
}

// WithProcessor installs hooks that transform each field and message a
// data record decodes into, in place, before it reaches the caller.
func (d *Decoder) WithProcessor(p Processor) *Decoder {
	d.proc = p
	return d
}

// WithSink tees the raw bytes read from the source through w, letting
// a caller rebuild a byte-identical copy of the stream it decoded
// (e.g. to re-emit a validated or lightly-edited FIT file) without a
// second read pass. Must be called before the first All/ParseAll
// call.
func (d *Decoder) WithSink(w io.Writer) *Decoder {
	d.sink = w
	return d
}

func (d *Decoder) init() {
	if d.s != nil {
		return
	}
	r := d.raw
	if d.sink != nil {
		r = io.TeeReader(r, d.sink)
	}
	d.s = newSource(r)
	d.devReg = newDeveloperRegistry()
	d.accumulators = make(accumulators)
}

// ParseAll eagerly decodes the entire stream (including any chained
// FIT files) and returns every data and definition message in wire
// order.
func (d *Decoder) ParseAll() ([]Message, error) {
	var all []Message
	for msg := range d.All() {
		all = append(all, msg)
	}
	return all, d.err
}

// All returns a lazy iterator over every message in the stream. Range
// over it with a standard for-range loop; check Err after the loop
// completes (whether by exhaustion or an early break) to see whether
// iteration stopped due to an error.
func (d *Decoder) All() iter.Seq[Message] {
	return func(yield func(Message) bool) {
		d.init()
		for {
			if d.s.atEOF() {
				d.done = true
				return
			}
			if d.segment > 0 {
				b, peekErr := d.s.peekByte()
				if peekErr != nil || (b != headerSizeNoCRC && b != headerSizeCRC) {
					// Leftover bytes that don't start a new FIT
					// header are not a chained file; stop cleanly.
					d.done = true
					return
				}
			}
			d.segment++
			d.defs = make(map[uint8]Definition)
			d.ts = tsState{}
			d.accumulators = make(accumulators)
			d.s.resetCRC()

			ok := d.decodeSegment(yield)
			if d.err != nil || !ok {
				d.done = true
				return
			}
		}
	}
}

// Err returns the error (if any) that stopped the most recent All/ParseAll
// pass.
func (d *Decoder) Err() error { return d.err }

// Messages is a convenience wrapper around ParseAll for callers that
// don't need to distinguish decode errors from a fully-drained stream.
func (d *Decoder) Messages() []Message {
	msgs, _ := d.ParseAll()
	return msgs
}

// Header returns the most recently parsed file header.
func (d *Decoder) Header() Header { return d.lastHeader }

// FileCRC returns the most recently verified file-level CRC check.
func (d *Decoder) FileCRC() CRCCheck { return d.lastFileCRC }

// HeaderCRC returns the most recently verified header-level CRC check.
func (d *Decoder) HeaderCRC() CRCCheck { return d.lastHeaderCRC }

// decodeSegment parses one complete FIT file (header through trailing
// CRC) out of the stream, yielding each definition and data message as
// it's decoded. It returns false if yield asked to stop early.
func (d *Decoder) decodeSegment(yield func(Message) bool) bool {
	header, headerCRC, err := parseHeader(d.s)
	if err != nil {
		d.err = err
		return false
	}
	d.lastHeader = header
	d.lastHeaderCRC = headerCRC
	if d.CheckCRC && headerCRC.Present && !headerCRC.Valid && headerCRC.ComputedHex != "" {
		d.err = &CrcError{Scope: "header"}
		return false
	}

	bodyStart := d.s.tell()
	recordIndex := 0
	for uint32(d.s.tell()-bodyStart) < header.DataSize {
		recordIndex++
		fileOffset := d.s.tell()
		headerByte, err := d.s.readByte()
		if err != nil {
			d.err = err
			return false
		}

		switch {
		case headerByte&compressedHeaderMask == compressedHeaderMask:
			local := (headerByte & compressedLocalMesgNumMask) >> 5
			def, ok := d.defs[local]
			if !ok {
				d.err = &ParseError{Reason: fmt.Sprintf("invalid local message type %d (compressed timestamp header)", local)}
				return false
			}
			msg, err := decodeDataMessage(d.s, recordIndex, fileOffset, headerByte, local, &def, true, d.devReg, &d.ts, d.accumulators, d.proc)
			if err != nil {
				d.err = err
				return false
			}
			msg.Length = d.s.tell() - fileOffset
			if !yield(msg) {
				return false
			}
		case headerByte&mesgDefinitionMask == mesgDefinitionMask:
			def, err := decodeDefinition(d.s, headerByte, d.accumulators)
			if err != nil {
				d.err = err
				return false
			}
			d.defs[def.LocalType] = def
			if !yield(Message{
				RecordIndex: recordIndex,
				FileOffset:  fileOffset,
				Length:      d.s.tell() - fileOffset,
				HeaderByte:  headerByte,
				Kind:        "definition",
				LocalType:   def.LocalType,
				GlobalNum:   def.GlobalNum,
				Name:        messageNameFor(def.GlobalNum),
				Definition:  &def,
			}) {
				return false
			}
		default:
			local := headerByte & localMesgNumMask
			def, ok := d.defs[local]
			if !ok {
				d.err = &ParseError{Reason: fmt.Sprintf("invalid local message type %d", local)}
				return false
			}
			msg, err := decodeDataMessage(d.s, recordIndex, fileOffset, headerByte, local, &def, false, d.devReg, &d.ts, d.accumulators, d.proc)
			if err != nil {
				d.err = err
				return false
			}
			msg.Length = d.s.tell() - fileOffset
			if !yield(msg) {
				return false
			}
		}
	}

	computed := d.s.sum16()
	stored, err := d.s.readUint16LE()
	if err != nil {
		d.err = err
		return false
	}
	fileCRC := CRCCheck{
		Present:         true,
		ValidationStyle: "running_stream_checksum",
		StoredHex:       hex16(stored),
		ComputedHex:     hex16(computed),
		Valid:           stored == computed || (d.AllowZeroCRC && stored == 0),
	}
	d.lastFileCRC = fileCRC
	if d.CheckCRC && !fileCRC.Valid {
		d.err = &CrcError{Stored: stored, Computed: computed, Scope: "file"}
		return false
	}
	return true
}

func messageNameFor(global uint16) string {
	return profile.MessageName(global)
}
