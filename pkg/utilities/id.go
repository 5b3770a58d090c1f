package utilities

import (
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

var (
	nodeOnce sync.Once
	node     *snowflake.Node
	nodeErr  error
)

// NewRequestID generates a globally unique KSUID string used to tag
// log lines belonging to one HTTP request.
func NewRequestID() string {
	return ksuid.New().String()
}

// NewUserID generates a numeric snowflake ID for a new user row. The
// node ID comes from SNOWFLAKE_NODE and defaults to 1 so single-node
// deployments need no configuration.
func NewUserID() (int64, error) {
	nodeOnce.Do(func() {
		nodeID := int64(1)
		if v := os.Getenv("SNOWFLAKE_NODE"); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				nodeID = n
			}
		}
		node, nodeErr = snowflake.NewNode(nodeID)
	})
	if nodeErr != nil {
		return 0, nodeErr
	}
	return node.Generate().Int64(), nil
}
