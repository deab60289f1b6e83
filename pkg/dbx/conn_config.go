package dbx

import "time"

// ConnConfig represents the configuration required for database connection.
// The values are forwarded to the store implementation as they are.
type ConnConfig struct {
	VpcDirectConnection bool
	Host                string
	Port                int32
	DBName              string
	User                string
	Password            string
	SSLMode             string
	MaxConn             int32
	MinConn             int32
	MaxConnIdleTime     time.Duration
	MaxConnLifetime     time.Duration
	ConnectTimeout      time.Duration
	TestQuery           string
	// CreateSchema runs the registered schema statements when the store is created.
	CreateSchema bool
	// ShowSQL logs every statement sent to the store at debug level.
	ShowSQL    bool
	IsLocalEnv bool
}
