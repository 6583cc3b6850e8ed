package sqlite

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pgvector/pgvector-go"
)

// Embeddings are stored as little-endian float32 blobs with an int32 length
// prefix. A NULL blob round-trips to a nil vector.

func encodeVector(v *pgvector.Vector) []byte {
	if v == nil {
		return nil
	}
	slice := v.Slice()
	buf := make([]byte, 4+4*len(slice))
	binary.LittleEndian.PutUint32(buf, uint32(len(slice)))
	for i, f := range slice {
		binary.LittleEndian.PutUint32(buf[4+4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) (*pgvector.Vector, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("embedding blob too short: %d bytes", len(data))
	}
	n := int(binary.LittleEndian.Uint32(data))
	if len(data) != 4+4*n {
		return nil, fmt.Errorf("embedding blob length mismatch: header %d, payload %d bytes", n, len(data)-4)
	}
	slice := make([]float32, n)
	for i := range slice {
		slice[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4+4*i:]))
	}
	v := pgvector.NewVector(slice)
	return &v, nil
}
