package idgen

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

func TestNewGenerators(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		strategy Strategy
		check    func(t *testing.T, id interface{})
	}{
		{
			name:     "auto increment yields nothing",
			strategy: Strategy{Type: AutoIncrement},
			check: func(t *testing.T, id interface{}) {
				assert.Nil(t, id)
			},
		},
		{
			name:     "uuid v4",
			strategy: Strategy{Type: "UUID"},
			check: func(t *testing.T, id interface{}) {
				s, ok := id.(string)
				require.True(t, ok)
				assert.Len(t, s, 36)
				assert.Equal(t, byte('4'), s[14])
			},
		},
		{
			name:     "snowflake decimal",
			strategy: Strategy{Type: Snowflake, DatacenterID: 1, MachineID: 2},
			check: func(t *testing.T, id interface{}) {
				assert.True(t, Validate(Strategy{Type: Snowflake}, id))
			},
		},
		{
			name:     "object id hex",
			strategy: Strategy{Type: "objectid"},
			check: func(t *testing.T, id interface{}) {
				s, ok := id.(string)
				require.True(t, ok)
				assert.Len(t, s, 24)
			},
		},
		{
			name:     "custom prefix",
			strategy: Strategy{Type: Custom, Prefix: "order"},
			check: func(t *testing.T, id interface{}) {
				s, ok := id.(string)
				require.True(t, ok)
				assert.True(t, strings.HasPrefix(s, "order_"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := New(tt.strategy)
			require.NoError(t, err)

			id, err := g.Next(ctx)
			require.NoError(t, err)
			tt.check(t, id)
			if id != nil {
				assert.True(t, Validate(g.Strategy(), id))
			}
		})
	}
}

func TestNewRejectsInvalidStrategies(t *testing.T) {
	for _, s := range []Strategy{
		{Type: "sequence"},
		{Type: Custom},
		{Type: Custom, Prefix: "x", Suffix: "hex"},
		{Type: Snowflake, MachineID: 40},
	} {
		_, err := New(s)
		assert.ErrorIs(t, err, ErrInvalidStrategy, s.String())
	}
}

func TestUUIDEntropyFailure(t *testing.T) {
	g := &uuidGenerator{strategy: Strategy{Type: UUID}, reader: failingReader{}}
	_, err := g.Next(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEntropyFailure)
}

func TestObjectIDLayout(t *testing.T) {
	seed := []byte{1, 2, 3, 4, 5, 0xff, 0xff, 0xfe}
	g, err := newObjectIDGenerator(bytes.NewReader(seed))
	require.NoError(t, err)

	fixed := time.Unix(1700000000, 0)
	g.now = func() time.Time { return fixed }

	first := g.NewObjectID()
	second := g.NewObjectID()

	assert.Equal(t, []byte{0x65, 0x53, 0xf1, 0x00}, first[0:4])
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, first[4:9])
	assert.Equal(t, []byte{0xff, 0xff, 0xff}, first[9:12])
	// The 3-byte counter wraps to zero.
	assert.Equal(t, []byte{0, 0, 0}, second[9:12])
	assert.Equal(t, first[0:9], second[0:9])
}

func TestObjectIDEntropyFailure(t *testing.T) {
	_, err := newObjectIDGenerator(failingReader{})
	assert.ErrorIs(t, err, ErrEntropyFailure)
}

func TestCustomMonotonicSuffix(t *testing.T) {
	g, err := New(Strategy{Type: Custom, Prefix: "inv"})
	require.NoError(t, err)

	a, err := g.Next(context.Background())
	require.NoError(t, err)
	b, err := g.Next(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestParseID(t *testing.T) {
	id, err := ParseID(Strategy{Type: AutoIncrement}, "42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = ParseID(Strategy{Type: AutoIncrement}, "abc")
	assert.Error(t, err)

	id, err = ParseID(Strategy{Type: UUID}, "6f1c1a2e-8b7a-4c1e-9d3a-2f8e5b7c9a10")
	require.NoError(t, err)
	assert.Equal(t, "6f1c1a2e-8b7a-4c1e-9d3a-2f8e5b7c9a10", id)

	_, err = ParseID(Strategy{Type: ObjectID}, "xyz")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.True(t, Validate(Strategy{Type: AutoIncrement}, 5))
	assert.False(t, Validate(Strategy{Type: AutoIncrement}, 0))
	assert.False(t, Validate(Strategy{Type: AutoIncrement}, "5"))
	assert.True(t, Validate(Strategy{Type: ObjectID}, "507f1f77bcf86cd799439011"))
	assert.False(t, Validate(Strategy{Type: ObjectID}, "507f1f77"))
	assert.True(t, Validate(Strategy{Type: Custom, Prefix: "p"}, "p_1"))
	assert.False(t, Validate(Strategy{Type: Custom, Prefix: "p"}, "q_1"))
}
