package configx

import (
	"time"

	"github.com/marcodd23/go-micro-dao/pkg/dbx"
)

// Config - config interface.
type Config interface {
	GetServiceName() string
	GetVersion() string
	GetEnvironment() string
	GetServerConfig() *ServerConfig
	GetLoggingConfig() *LoggingConfig
	GetDatastoreConfig() *DatastoreConfig
	IsLocalEnvironment() bool
}

// BaseConfig - app config struct.
// This struct represents the base configuration and is expected to be in the following YAML format:
/*
name: "notes-service"
environment: "development"
version: "1.0"
logging:
  level: "debug"
server:
  port: "8080"
  concurrency: 10
  disableStartupMsg: false
datastore:
  host: localhost
  port: 5432
  dbName: notes
  user: postgres
  password: password
  sslMode: disable
  maxConn: 4
  minConn: 0
  idleTimeout: 35s
  maxConnLifetime: 45s
  connectTimeout: 20s
  testQuery: "SELECT 1"
  createSchema: true
  showSql: false
*/
type BaseConfig struct {
	Name        string           `mapstructure:"name"`
	Environment string           `mapstructure:"environment"`
	Version     string           `mapstructure:"version"`
	Logging     *LoggingConfig   `mapstructure:"logging"`
	Server      *ServerConfig    `mapstructure:"server"`
	Datastore   *DatastoreConfig `mapstructure:"datastore"`
}

type ServerConfig struct {
	Port                  string `mapstructure:"port"`
	Concurrency           int    `mapstructure:"concurrency"`
	DisableStartupMessage bool   `mapstructure:"disableStartupMsg"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// DatastoreConfig - relational store connection settings.
// Values are forwarded to the store factory without interpretation.
type DatastoreConfig struct {
	Host                string        `mapstructure:"host"`
	Port                int32         `mapstructure:"port"`
	DBName              string        `mapstructure:"dbName"`
	User                string        `mapstructure:"user"`
	Password            string        `mapstructure:"password"`
	SSLMode             string        `mapstructure:"sslMode"`
	VpcDirectConnection bool          `mapstructure:"vpcDirectConnection"`
	MaxConn             int32         `mapstructure:"maxConn"`
	MinConn             int32         `mapstructure:"minConn"`
	IdleTimeout         time.Duration `mapstructure:"idleTimeout"`
	MaxConnLifetime     time.Duration `mapstructure:"maxConnLifetime"`
	ConnectTimeout      time.Duration `mapstructure:"connectTimeout"`
	TestQuery           string        `mapstructure:"testQuery"`
	CreateSchema        bool          `mapstructure:"createSchema"`
	ShowSQL             bool          `mapstructure:"showSql"`
}

func (cfg BaseConfig) GetServiceName() string {
	return cfg.Name
}

func (cfg BaseConfig) GetVersion() string {
	return cfg.Version
}

func (cfg BaseConfig) GetEnvironment() string {
	return cfg.Environment
}

func (cfg BaseConfig) IsLocalEnvironment() bool {
	return checkIfLocalEnv(cfg.Environment)
}

func (cfg BaseConfig) GetServerConfig() *ServerConfig {
	return cfg.Server
}

func (cfg BaseConfig) GetLoggingConfig() *LoggingConfig {
	return cfg.Logging
}

func (cfg BaseConfig) GetDatastoreConfig() *DatastoreConfig {
	return cfg.Datastore
}

// ToConnConfig converts the datastore section into the store connection config.
// isLocalEnv controls whether host and port are used as given.
func (dc *DatastoreConfig) ToConnConfig(isLocalEnv bool) dbx.ConnConfig {
	return dbx.ConnConfig{
		VpcDirectConnection: dc.VpcDirectConnection,
		Host:                dc.Host,
		Port:                dc.Port,
		DBName:              dc.DBName,
		User:                dc.User,
		Password:            dc.Password,
		SSLMode:             dc.SSLMode,
		MaxConn:             dc.MaxConn,
		MinConn:             dc.MinConn,
		MaxConnIdleTime:     dc.IdleTimeout,
		MaxConnLifetime:     dc.MaxConnLifetime,
		ConnectTimeout:      dc.ConnectTimeout,
		TestQuery:           dc.TestQuery,
		CreateSchema:        dc.CreateSchema,
		ShowSQL:             dc.ShowSQL,
		IsLocalEnv:          isLocalEnv,
	}
}
