package configx

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const defaultConfigBaseName = "property"

// datastoreDefaults mirrors the pool sizing used when nothing is configured.
var datastoreDefaults = map[string]any{
	"datastore.port":            5432,
	"datastore.sslMode":         "disable",
	"datastore.maxConn":         4,
	"datastore.minConn":         0,
	"datastore.idleTimeout":     "35s",
	"datastore.maxConnLifetime": "45s",
	"datastore.connectTimeout":  "20s",
	"datastore.testQuery":       "SELECT 1",
	"datastore.createSchema":    false,
	"datastore.showSql":         false,
}

func LoadConfigForEnv(config Config) error {
	return ReadConfiguration(getEnvPropertyFileName(defaultConfigBaseName), config)
}

// LoadConfigFromPathForEnv - search the property-<ENV> properties in the given search path (for ex. "./config" )
func LoadConfigFromPathForEnv(searchPath string, config Config) error {
	if searchPath == "" {
		return LoadConfigForEnv(config)
	}

	searchPath = strings.TrimSuffix(searchPath, "/")
	return ReadConfiguration(getEnvPropertyFileName(fmt.Sprintf("%s/%s", searchPath, defaultConfigBaseName)), config)
}

// ReadConfiguration reads the configuration from the file and environment variables.
// Environment variables take precedence, with dots and dashes in keys replaced by underscores
// (datastore.dbName -> DATASTORE_DBNAME).
func ReadConfiguration(configFilePath string, config Config) error {
	log.Println("config filepath: ", configFilePath)

	v := viper.New()

	for key, value := range datastoreDefaults {
		v.SetDefault(key, value)
	}

	v.SetConfigFile(configFilePath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if err := v.ReadInConfig(); err == nil {
		log.Printf("Reading configuration from config file: %s\nSet environment variables will OVERRIDE these values, as the environment takes precedent.", configFilePath)
	} else {
		log.Println("No configuration file found, reading configuration from environment variables.")
	}

	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("unable to decode into config struct, %v", err)
	}

	return nil
}

func getEnvPropertyFileName(baseFileName string) string {
	env := strings.ToUpper(os.Getenv("ENVIRONMENT"))
	if !checkIfLocalEnv(env) {
		return fmt.Sprintf("%s-%s.yaml", baseFileName, strings.ToLower(env))
	}

	return fmt.Sprintf("%s.yaml", baseFileName)
}

func checkIfLocalEnv(env string) bool {
	switch strings.ToUpper(env) {
	case "DEV", "STAGE", "PROD":
		return false
	default:
		return true
	}
}
