// Package snowflake generates the time ordered platform.IDs given to every
// onboarding record.
package snowflake

import (
	"errors"
	"math/rand"
	"sync/atomic"

	"github.com/bwmarrin/snowflake"
	"github.com/influxdata/onboarding/kit/platform"
)

// MaxMachineID is the largest node number that fits the 10 node bits of an ID.
const MaxMachineID = 1023

// ErrGlobalIDBadVal is returned for a machine id outside [0, MaxMachineID].
var ErrGlobalIDBadVal = errors.New("machine id must be a number between 0 and 1023 inclusive")

var globalMachineID atomic.Int64

func init() {
	globalMachineID.Store(int64(rand.Intn(MaxMachineID + 1)))
}

// SetGlobalMachineID sets the node used by generators created afterwards.
// Processes sharing a database should each use their own id.
func SetGlobalMachineID(id int) error {
	if id < 0 || id > MaxMachineID {
		return ErrGlobalIDBadVal
	}
	globalMachineID.Store(int64(id))
	return nil
}

// GlobalMachineID returns the node used by NewDefaultIDGenerator.
func GlobalMachineID() int {
	return int(globalMachineID.Load())
}

// IDGenerator issues platform.IDs from one snowflake node.
type IDGenerator struct {
	node *snowflake.Node
}

var _ platform.IDGenerator = (*IDGenerator)(nil)

// IDGeneratorOp configures an IDGenerator.
type IDGeneratorOp func(*IDGenerator)

// WithMachineID uses the low 10 bits of machineID as the node.
func WithMachineID(machineID int) IDGeneratorOp {
	return func(g *IDGenerator) {
		// masked to the node bits, so NewNode cannot fail
		g.node, _ = snowflake.NewNode(int64(machineID & MaxMachineID))
	}
}

// NewDefaultIDGenerator returns a generator on the global machine id.
func NewDefaultIDGenerator() *IDGenerator {
	return NewIDGenerator(WithMachineID(GlobalMachineID()))
}

// NewIDGenerator returns a generator on a random node unless an option sets one.
func NewIDGenerator(opts ...IDGeneratorOp) *IDGenerator {
	gen := &IDGenerator{}
	for _, f := range opts {
		f(gen)
	}
	if gen.node == nil {
		WithMachineID(rand.Intn(MaxMachineID + 1))(gen)
	}
	return gen
}

// ID returns the next valid ID. Zero is never returned.
func (g *IDGenerator) ID() platform.ID {
	for {
		if id := platform.ID(g.node.Generate().Int64()); id.Valid() {
			return id
		}
	}
}
