// Package warehouse manages the Postgres warehouse side of the pipeline:
// credential resolution, pooled connections, the object-store staging
// area, and merge-based idempotent loads into the raw tables.
package warehouse

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort     = 5432
	defaultDatabase = "toronto_mobility"
	defaultSSLMode  = "disable"

	credentialsFile = "credentials.yaml"
	credentialsDir  = ".toronto-mobility"
)

// ErrCredentialsNotFound is returned when no credential source yields a
// complete set.
var ErrCredentialsNotFound = errors.New(
	"warehouse credentials not found: pass them explicitly, set WAREHOUSE_HOST, " +
		"WAREHOUSE_USER and WAREHOUSE_PASSWORD, or configure " +
		"~/.toronto-mobility/credentials.yaml with a loader section")

// Credentials holds everything needed to open a warehouse connection.
type Credentials struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Schema   string `yaml:"schema"`
	SSLMode  string `yaml:"sslmode"`
}

type credentialsFileLayout struct {
	Loader Credentials `yaml:"loader"`
}

func (c Credentials) complete() bool {
	return c.Host != "" && c.User != "" && c.Password != ""
}

// DSN renders the credentials as a lib/pq connection string. The password
// never appears in logs, only here.
func (c Credentials) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
	if c.Schema != "" {
		dsn += fmt.Sprintf(" search_path=%s", c.Schema)
	}

	return dsn
}

// ResolveCredentials fills in missing fields of explicit from the
// environment and then from the credentials file, in that order. Explicit
// values always win.
func ResolveCredentials(explicit Credentials) (Credentials, error) {
	resolved := explicit

	fillFromEnv(&resolved)

	if !resolved.complete() {
		if err := fillFromFile(&resolved); err != nil {
			return Credentials{}, err
		}
	}

	if !resolved.complete() {
		return Credentials{}, ErrCredentialsNotFound
	}

	applyDefaults(&resolved)

	return resolved, nil
}

func fillFromEnv(c *Credentials) {
	if c.Host == "" {
		c.Host = os.Getenv("WAREHOUSE_HOST")
	}

	if c.Port == 0 {
		if port, err := strconv.Atoi(os.Getenv("WAREHOUSE_PORT")); err == nil {
			c.Port = port
		}
	}

	if c.User == "" {
		c.User = os.Getenv("WAREHOUSE_USER")
	}

	if c.Password == "" {
		c.Password = os.Getenv("WAREHOUSE_PASSWORD")
	}

	if c.Database == "" {
		c.Database = os.Getenv("WAREHOUSE_DATABASE")
	}

	if c.Schema == "" {
		c.Schema = os.Getenv("WAREHOUSE_SCHEMA")
	}

	if c.SSLMode == "" {
		c.SSLMode = os.Getenv("WAREHOUSE_SSLMODE")
	}
}

func fillFromFile(c *Credentials) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}

	path := filepath.Join(home, credentialsDir, credentialsFile)

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("read credentials file %q: %w", path, err)
	}

	var layout credentialsFileLayout
	if err := yaml.Unmarshal(raw, &layout); err != nil {
		return fmt.Errorf("parse credentials file %q: %w", path, err)
	}

	loader := layout.Loader

	if c.Host == "" {
		c.Host = loader.Host
	}

	if c.Port == 0 {
		c.Port = loader.Port
	}

	if c.User == "" {
		c.User = loader.User
	}

	if c.Password == "" {
		c.Password = loader.Password
	}

	if c.Database == "" {
		c.Database = loader.Database
	}

	if c.Schema == "" {
		c.Schema = loader.Schema
	}

	if c.SSLMode == "" {
		c.SSLMode = loader.SSLMode
	}

	return nil
}

func applyDefaults(c *Credentials) {
	if c.Port == 0 {
		c.Port = defaultPort
	}

	if c.Database == "" {
		c.Database = defaultDatabase
	}

	if c.SSLMode == "" {
		c.SSLMode = defaultSSLMode
	}
}
