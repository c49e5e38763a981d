package idgen

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"io"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

const counterMask = 1<<24 - 1

// ObjectIDGenerator issues 12-byte ids laid out like MongoDB ObjectIds:
// 4 bytes of Unix seconds, 5 bytes unique to the generator and a 3-byte
// counter that wraps.
type ObjectIDGenerator struct {
	strategy Strategy
	process  [5]byte
	counter  atomic.Uint32
	now      func() time.Time
}

// NewObjectIDGenerator seeds the process-unique bytes and the counter from
// crypto/rand.
func NewObjectIDGenerator() (*ObjectIDGenerator, error) {
	return newObjectIDGenerator(rand.Reader)
}

func newObjectIDGenerator(r io.Reader) (*ObjectIDGenerator, error) {
	var seed [8]byte
	if _, err := io.ReadFull(r, seed[:]); err != nil {
		return nil, newGenerationError(ObjectID, ErrEntropyFailure, err)
	}

	g := &ObjectIDGenerator{
		strategy: Strategy{Type: ObjectID},
		now:      time.Now,
	}
	copy(g.process[:], seed[:5])
	g.counter.Store(uint32(seed[5])<<16 | uint32(seed[6])<<8 | uint32(seed[7]))
	return g, nil
}

// Strategy returns the configured strategy.
func (g *ObjectIDGenerator) Strategy() Strategy { return g.strategy }

// Next returns the next id as a 24 character hex string.
func (g *ObjectIDGenerator) Next(context.Context) (interface{}, error) {
	return g.NewObjectID().Hex(), nil
}

// NewObjectID returns the next id.
func (g *ObjectIDGenerator) NewObjectID() bson.ObjectID {
	var id bson.ObjectID
	binary.BigEndian.PutUint32(id[0:4], uint32(g.now().Unix()))
	copy(id[4:9], g.process[:])

	c := g.counter.Add(1) & counterMask
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)
	return id
}
