package idgen

import (
	"context"
	"strconv"
	"sync"
	"time"
)

const (
	// SnowflakeEpoch is the reference instant, in Unix milliseconds, for the
	// timestamp component.
	SnowflakeEpoch int64 = 1288834974657

	sequenceBits = 12
	nodeBits     = 5

	maxSequence = 1<<sequenceBits - 1
	maxNodeID   = 1<<nodeBits - 1

	machineShift    = sequenceBits
	datacenterShift = sequenceBits + nodeBits
	timestampShift  = sequenceBits + 2*nodeBits

	// Backward clock drift up to this many milliseconds is waited out.
	rollbackToleranceMillis = 5

	spinInterval = 100 * time.Microsecond
)

// SnowflakeGenerator issues 64-bit time-ordered ids:
// 1 sign bit, 41 bits of milliseconds since SnowflakeEpoch, 5 bits of
// datacenter, 5 bits of machine and a 12-bit per-millisecond sequence.
type SnowflakeGenerator struct {
	strategy     Strategy
	datacenterID int64
	machineID    int64

	mu         sync.Mutex
	lastMillis int64
	sequence   int64

	now   func() int64
	sleep func(time.Duration)
}

// NewSnowflake returns a generator for the given node coordinates.
func NewSnowflake(datacenterID, machineID uint8) (*SnowflakeGenerator, error) {
	s := Strategy{Type: Snowflake, DatacenterID: datacenterID, MachineID: machineID}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &SnowflakeGenerator{
		strategy:     s,
		datacenterID: int64(datacenterID),
		machineID:    int64(machineID),
		lastMillis:   -1,
		now:          func() int64 { return time.Now().UnixMilli() },
		sleep:        time.Sleep,
	}, nil
}

// Strategy returns the configured strategy.
func (g *SnowflakeGenerator) Strategy() Strategy { return g.strategy }

// Next returns the next id rendered as a decimal string.
func (g *SnowflakeGenerator) Next(ctx context.Context) (interface{}, error) {
	id, err := g.NextID(ctx)
	if err != nil {
		return nil, err
	}
	return strconv.FormatUint(id, 10), nil
}

// NextID returns the next id. When the sequence for the current millisecond
// is exhausted it blocks until the clock reaches the next millisecond.
func (g *SnowflakeGenerator) NextID(ctx context.Context) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.now()
	if ts < g.lastMillis {
		if g.lastMillis-ts > rollbackToleranceMillis {
			return 0, newGenerationError(Snowflake, ErrClockRollback, nil)
		}
		var err error
		if ts, err = g.waitFor(ctx, func(now int64) bool { return now >= g.lastMillis }); err != nil {
			return 0, err
		}
	}

	if ts == g.lastMillis {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			last := g.lastMillis
			var err error
			if ts, err = g.waitFor(ctx, func(now int64) bool { return now > last }); err != nil {
				// Leave the sequence exhausted so the next caller waits too.
				g.sequence = maxSequence
				return 0, err
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastMillis = ts

	id := (ts-SnowflakeEpoch)<<timestampShift |
		g.datacenterID<<datacenterShift |
		g.machineID<<machineShift |
		g.sequence
	return uint64(id), nil
}

func (g *SnowflakeGenerator) waitFor(ctx context.Context, done func(now int64) bool) (int64, error) {
	for {
		now := g.now()
		if done(now) {
			return now, nil
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		g.sleep(spinInterval)
	}
}

// DecomposeSnowflake splits an id into its components. The timestamp is in
// Unix milliseconds.
func DecomposeSnowflake(id uint64) (millis int64, datacenterID, machineID uint8, sequence uint16) {
	millis = int64(id>>timestampShift) + SnowflakeEpoch
	datacenterID = uint8((id >> datacenterShift) & maxNodeID)
	machineID = uint8((id >> machineShift) & maxNodeID)
	sequence = uint16(id & maxSequence)
	return
}
