package config

import (
	"errors"
	"os"

	"github.com/joho/godotenv"
)

// Secret overrides. The environment wins over the .env file, which wins over
// the YAML document.
const (
	EnvJWTSecret        = "NDBCTL_JWT_SECRET"
	EnvAdminPassword    = "NDBCTL_ADMIN_PASSWORD"
	EnvGenAIKey         = "NDBCTL_GENAI_KEY"
	EnvDatabasePassword = "NDBCTL_DATABASE_PASSWORD"
	EnvExternalSQLURI   = "NDBCTL_EXTERNAL_SQL_URI"
)

func (c *Config) applySecrets(envFile string) error {
	fileVars, err := godotenv.Read(envFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		fileVars = map[string]string{}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v, true
		}
		v, ok := fileVars[key]
		return v, ok && v != ""
	}

	if v, ok := lookup(EnvJWTSecret); ok {
		c.Security.JWTSecret = v
	}
	if v, ok := lookup(EnvAdminPassword); ok {
		c.Security.Admin.Password = v
	}
	if v, ok := lookup(EnvGenAIKey); ok {
		c.API.GenAIKey = v
	}
	if v, ok := lookup(EnvExternalSQLURI); ok {
		c.SQL.ExternalSQLURI = v
	}
	if v, ok := lookup(EnvDatabasePassword); ok {
		c.databasePassword = v
		for i := range c.Nodes {
			if c.Nodes[i].SQLServer != nil {
				c.Nodes[i].SQLServer.DatabasePassword = v
			}
		}
	}
	return nil
}
