package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New generates a new globally unique int64 ID using the Snowflake algorithm.
// IDs are time-ordered and unique across distributed instances.
// Panics with a named cause when Init was never called, instead of a bare
// nil dereference deep inside the snowflake package.
func New() int64 {
	if node == nil {
		panic("id: Init must be called before New")
	}
	return node.Generate().Int64()
}
