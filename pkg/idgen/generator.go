package idgen

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Generator produces ids for one strategy.
type Generator interface {
	// Strategy returns the configured strategy.
	Strategy() Strategy

	// Next returns a new id, or nil when the backend assigns it.
	Next(ctx context.Context) (interface{}, error)
}

// New builds the generator for a strategy.
func New(s Strategy) (Generator, error) {
	s = s.Normalized()
	if err := s.Validate(); err != nil {
		return nil, err
	}

	switch s.Type {
	case AutoIncrement:
		return autoIncrementGenerator{strategy: s}, nil
	case UUID:
		return &uuidGenerator{strategy: s, reader: rand.Reader}, nil
	case Snowflake:
		return NewSnowflake(s.DatacenterID, s.MachineID)
	case ObjectID:
		return NewObjectIDGenerator()
	case Custom:
		return newCustomGenerator(s), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidStrategy, s.Type)
}

type autoIncrementGenerator struct {
	strategy Strategy
}

func (g autoIncrementGenerator) Strategy() Strategy { return g.strategy }

func (g autoIncrementGenerator) Next(context.Context) (interface{}, error) {
	return nil, nil
}

type uuidGenerator struct {
	strategy Strategy
	reader   io.Reader
}

func (g *uuidGenerator) Strategy() Strategy { return g.strategy }

func (g *uuidGenerator) Next(context.Context) (interface{}, error) {
	id, err := uuid.NewRandomFromReader(g.reader)
	if err != nil {
		return nil, newGenerationError(UUID, ErrEntropyFailure, err)
	}
	return id.String(), nil
}

type customGenerator struct {
	strategy Strategy
	counter  atomic.Uint64
}

func newCustomGenerator(s Strategy) *customGenerator {
	if s.Suffix == "" {
		s.Suffix = SuffixMonotonic
	}
	g := &customGenerator{strategy: s}
	g.counter.Store(uint64(time.Now().UnixNano()))
	return g
}

func (g *customGenerator) Strategy() Strategy { return g.strategy }

func (g *customGenerator) Next(context.Context) (interface{}, error) {
	var suffix string
	switch g.strategy.Suffix {
	case SuffixRandom:
		id, err := uuid.NewRandom()
		if err != nil {
			return nil, newGenerationError(Custom, ErrEntropyFailure, err)
		}
		suffix = strings.ReplaceAll(id.String(), "-", "")
	default:
		suffix = strconv.FormatUint(g.counter.Add(1), 10)
	}
	return g.strategy.Prefix + "_" + suffix, nil
}
