package id

import (
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
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
// Used for sessions and invitations.
func New() int64 {
	return node.Generate().Int64()
}

// Parse reads a decimal snowflake id, as carried in cookies and headers.
func Parse(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// Format renders an id the way Parse expects it.
func Format(v int64) string {
	return strconv.FormatInt(v, 10)
}

// NewOrganizationID returns a uuid, matching the ids already present in the
// legacy dealerships table.
func NewOrganizationID() string {
	return uuid.NewString()
}
