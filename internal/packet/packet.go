// Package packet implements the newline-delimited JSON wire framing shared
// by every cconnect session: one compact JSON object per line, no length
// prefix, with an optional side-channel announcement for bulk payloads.
package packet

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// MaxLineLength bounds a single decoded line so a misbehaving or hostile
// peer can't force unbounded buffering before the newline arrives.
const MaxLineLength = 64 * 1024 * 1024

// PayloadTransferInfo announces the ephemeral TLS side-channel port a
// receiver should dial to pull a bulk payload.
type PayloadTransferInfo struct {
	Port uint16 `json:"port"`
}

// Packet is the wire representation of every message exchanged once a
// session is established. Body is left as raw JSON so plugins can decode
// their own sub-schema without the codec needing to know it.
type Packet struct {
	ID                   uint64               `json:"id"`
	Type                 string               `json:"type"`
	Body                 json.RawMessage      `json:"body"`
	PayloadSize          *uint64              `json:"payloadSize,omitempty"`
	PayloadTransferInfo  *PayloadTransferInfo `json:"payloadTransferInfo,omitempty"`
}

// HasBulkPayload reports whether the packet announces an out-of-band
// payload the receiver should pull over a side-channel connection.
func (p *Packet) HasBulkPayload() bool {
	return p.PayloadSize != nil && p.PayloadTransferInfo != nil
}

// New builds a packet with the given id and type, marshaling body into the
// raw JSON field. Callers construct id from a monotone millisecond clock;
// the codec itself does not generate ids.
func New(id uint64, typ string, body any) (*Packet, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal packet body: %w", err)
	}
	return &Packet{ID: id, Type: typ, Body: raw}, nil
}

// wireForm is used only to validate shape at decode time: a packet with no
// type or body is rejected outright rather than silently defaulted, except
// for id which is tolerated and defaults to zero per the wire contract.
type wireForm struct {
	ID                  *uint64              `json:"id"`
	Type                *string              `json:"type"`
	Body                json.RawMessage      `json:"body"`
	PayloadSize         *uint64              `json:"payloadSize"`
	PayloadTransferInfo *PayloadTransferInfo `json:"payloadTransferInfo"`
}

// Decode parses one line of JSON (without its trailing newline) into a
// Packet. It rejects anything whose top-level value isn't an object, or
// that lacks a string "type" and an object "body"; unknown keys at any
// level are tolerated for forward compatibility.
func Decode(line []byte) (*Packet, error) {
	var w wireForm
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, fmt.Errorf("decode packet: %w", err)
	}
	if w.Type == nil || *w.Type == "" {
		return nil, fmt.Errorf("decode packet: missing type")
	}
	if len(w.Body) == 0 {
		return nil, fmt.Errorf("decode packet: missing body")
	}
	// Body must itself be a JSON object, not a scalar or array.
	trimmed := firstNonSpace(w.Body)
	if trimmed != '{' {
		return nil, fmt.Errorf("decode packet: body is not an object")
	}
	var id uint64
	if w.ID != nil {
		id = *w.ID
	}
	return &Packet{
		ID:                  id,
		Type:                *w.Type,
		Body:                w.Body,
		PayloadSize:         w.PayloadSize,
		PayloadTransferInfo: w.PayloadTransferInfo,
	}, nil
}

func firstNonSpace(b []byte) byte {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return c
		}
	}
	return 0
}

// Encode renders p as compact JSON with no embedded newlines, matching the
// wire contract that one packet is exactly one line.
func Encode(p *Packet) ([]byte, error) {
	out, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode packet: %w", err)
	}
	return out, nil
}

// WriteTo writes p to w terminated by a single '\n'.
func WriteTo(w io.Writer, p *Packet) error {
	b, err := Encode(p)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

// Reader decodes a stream of newline-delimited packets, enforcing
// MaxLineLength so a peer can't force unbounded allocation by withholding
// the delimiter.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps r for line-oriented packet decoding.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineLength)
	return &Reader{scanner: scanner}
}

// ReadPacket reads and decodes the next line. It returns io.EOF when the
// underlying stream is exhausted cleanly.
func (r *Reader) ReadPacket() (*Packet, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, fmt.Errorf("read packet line: %w", err)
		}
		return nil, io.EOF
	}
	line := r.scanner.Bytes()
	// Scanner hands back a buffer it may reuse; decode needs its own copy
	// only for the parts we retain (json.Unmarshal copies strings/bytes it
	// keeps, so this is safe to pass directly).
	return Decode(line)
}
