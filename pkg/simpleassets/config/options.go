package config

import (
	"fmt"
	"time"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithDatabase sets DATABASE_URL and, for Postgres, the schema
func WithDatabase(url, schema string) Option {
	return func(c *ServerConfig) error {
		c.DatabaseURL = url
		if schema != "" {
			c.DBSchema = schema
		}
		return nil
	}
}

// WithStorageURL selects the chunk backend
func WithStorageURL(url string) Option {
	return func(c *ServerConfig) error {
		if url == "" {
			return fmt.Errorf("storage URL cannot be empty")
		}
		c.StorageURL = url
		return nil
	}
}

// WithJWT sets the signing secret, issuer and audience
func WithJWT(secret, issuer, audience string) Option {
	return func(c *ServerConfig) error {
		c.JWT.Secret = secret
		c.JWT.ValidIssuer = issuer
		c.JWT.ValidAudience = audience
		return nil
	}
}

func WithTokenLifetime(d time.Duration) Option {
	return func(c *ServerConfig) error {
		c.JWT.TokenLifetime = d
		return nil
	}
}

func WithChunkSize(size int) Option {
	return func(c *ServerConfig) error {
		c.ChunkSize = size
		return nil
	}
}

// WithLockout sets the failure threshold and lockout window
func WithLockout(threshold int, window time.Duration) Option {
	return func(c *ServerConfig) error {
		c.LockoutThreshold = threshold
		c.LockoutWindow = window
		return nil
	}
}

// WithValues applies an arbitrary mutation, mostly useful in tests
func WithValues(fn func(*ServerConfig)) Option {
	return func(c *ServerConfig) error {
		fn(c)
		return nil
	}
}
