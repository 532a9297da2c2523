package utilities

import (
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

// IDGenerator hands out snowflake ids from a single node so ids generated
// within the same millisecond still differ. A nil node falls back to KSUIDs.
type IDGenerator struct {
	node *snowflake.Node
}

// NewIDGenerator builds a generator for the given snowflake node id.
// If the node cannot be initialized the generator produces KSUID strings.
func NewIDGenerator(nodeID int64) *IDGenerator {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return &IDGenerator{}
	}
	return &IDGenerator{node: node}
}

// Next returns a fresh id. Both encodings fit a varchar(32) column.
func (g *IDGenerator) Next() string {
	if g == nil || g.node == nil {
		return NewKSUID()
	}
	return g.node.Generate().String()
}

// NodeFromEnv reads SNOWFLAKE_NODE, defaulting to node 1 when unset or invalid.
func NodeFromEnv() int64 {
	nodeEnv := os.Getenv("SNOWFLAKE_NODE")
	if nodeEnv == "" {
		return 1
	}
	nodeID, err := strconv.ParseInt(nodeEnv, 10, 64)
	if err != nil {
		return 1
	}
	return nodeID
}

var (
	defaultGenOnce sync.Once
	defaultGen     *IDGenerator
)

// NewSnowflakeID generates a snowflake id from the process-wide generator
// configured by SNOWFLAKE_NODE.
func NewSnowflakeID() string {
	defaultGenOnce.Do(func() {
		defaultGen = NewIDGenerator(NodeFromEnv())
	})
	return defaultGen.Next()
}
