package models

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/surrealdb/scenesync/pkg/constants"
)

// sep keeps adjacent variable-length fields from running into each other.
const sep = 0x1f

type sigWriter struct {
	d   *xxhash.Digest
	buf [8]byte
}

func newSigWriter() *sigWriter {
	return &sigWriter{d: xxhash.New()}
}

func (w *sigWriter) str(s string) {
	_, _ = w.d.WriteString(s)
	_, _ = w.d.Write([]byte{sep})
}

func (w *sigWriter) f64(v float64) {
	binary.LittleEndian.PutUint64(w.buf[:], math.Float64bits(v))
	_, _ = w.d.Write(w.buf[:])
}

func (w *sigWriter) u64(v uint64) {
	binary.LittleEndian.PutUint64(w.buf[:], v)
	_, _ = w.d.Write(w.buf[:])
}

func (w *sigWriter) bytes(b []byte) {
	_, _ = w.d.Write(b)
	_, _ = w.d.Write([]byte{sep})
}

// ContentSignature hashes the visual content of an element: its type,
// geometry, points, text, file reference, status and deletion flag.
// Version metadata is excluded.
func ContentSignature(e Element) uint64 {
	w := newSigWriter()
	w.str(e.Type)
	w.f64(e.X)
	w.f64(e.Y)
	w.f64(e.Width)
	w.f64(e.Height)
	w.f64(e.Angle)
	w.u64(uint64(len(e.Points)))
	for _, p := range e.Points {
		w.f64(p[0])
		w.f64(p[1])
	}
	w.str(e.Text)
	w.str(e.FileID)
	w.str(e.Status)
	if e.IsDeleted {
		w.u64(1)
	} else {
		w.u64(0)
	}
	return w.d.Sum64()
}

// FileSignature hashes a file's id, mime type, payload length and the
// first and last FileSignatureEdgeBytes bytes of the payload. It detects
// changes; it does not identify content.
func FileSignature(f File) uint64 {
	w := newSigWriter()
	w.str(f.ID)
	w.str(f.MimeType)
	w.u64(uint64(len(f.Data)))
	edge := constants.FileSignatureEdgeBytes
	if len(f.Data) <= 2*edge {
		w.bytes(f.Data)
	} else {
		w.bytes(f.Data[:edge])
		w.bytes(f.Data[len(f.Data)-edge:])
	}
	return w.d.Sum64()
}

// OrderSignature hashes the ids of elements in sequence.
func OrderSignature(elements []Element) uint64 {
	w := newSigWriter()
	for i := range elements {
		w.str(elements[i].ID)
	}
	return w.d.Sum64()
}

func OrderIDs(elements []Element) []string {
	ids := make([]string, len(elements))
	for i := range elements {
		ids[i] = elements[i].ID
	}
	return ids
}
