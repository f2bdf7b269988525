package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://shop.example,https://admin.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "shop.db", cfg.SQLitePath)
	assert.Equal(t, AuthJWT, cfg.AuthProvider)
	assert.Equal(t, []string{"https://shop.example", "https://admin.example"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, 40, cfg.RateLimitBurst)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"mysql ok", Config{DBDriver: DriverMySQL, DBUser: "u", DBName: "shop", DBHost: "db", AuthProvider: AuthJWT, JWTSecret: "x"}, false},
		{"mysql via cloud sql", Config{DBDriver: DriverMySQL, DBUser: "u", DBName: "shop", InstanceConnectionName: "p:r:i", AuthProvider: AuthJWT, JWTSecret: "x"}, false},
		{"mysql missing host", Config{DBDriver: DriverMySQL, DBUser: "u", DBName: "shop", AuthProvider: AuthJWT, JWTSecret: "x"}, true},
		{"unknown driver", Config{DBDriver: "postgres", AuthProvider: AuthJWT, JWTSecret: "x"}, true},
		{"jwt without secret", Config{DBDriver: DriverSQLite, SQLitePath: "a.db", AuthProvider: AuthJWT}, true},
		{"firebase without project", Config{DBDriver: DriverSQLite, SQLitePath: "a.db", AuthProvider: AuthFirebase}, true},
		{"firebase ok", Config{DBDriver: DriverSQLite, SQLitePath: "a.db", AuthProvider: AuthFirebase, FirebaseProjectID: "shop"}, false},
		{"negative rate", Config{DBDriver: DriverSQLite, SQLitePath: "a.db", AuthProvider: AuthJWT, JWTSecret: "x", RateLimitRPS: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, (&Config{LogLevel: "DEBUG"}).SlogLevel())
	assert.Equal(t, slog.LevelWarn, (&Config{LogLevel: "warning"}).SlogLevel())
	assert.Equal(t, slog.LevelInfo, (&Config{LogLevel: ""}).SlogLevel())
}
