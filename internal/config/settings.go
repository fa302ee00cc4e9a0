package config

import (
	"strconv"
)

// Setting is one effective, non-secret configuration value
type Setting struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// EffectiveSettings returns the runtime settings worth showing to an
// operator. Credentials (Redis password, TLS key paths) are never included.
func (c *Config) EffectiveSettings() []Setting {
	settings := []Setting{}

	settings = append(settings, c.canvasSettings()...)
	settings = append(settings, c.sessionSettings()...)
	settings = append(settings, c.persistenceSettings()...)

	settings = append(settings,
		Setting{
			Key:         "gesture.source",
			Value:       c.Gesture.Source,
			Type:        "string",
			Description: "Hand gesture classifier",
		},
		Setting{
			Key:         "logging.level",
			Value:       c.Logging.Level,
			Type:        "string",
			Description: "Logging level at startup (read-only)",
		},
	)

	return settings
}

func (c *Config) canvasSettings() []Setting {
	return []Setting{
		{
			Key:         "canvas.width",
			Value:       strconv.Itoa(c.Canvas.Width),
			Type:        "int",
			Description: "Canvas width in pixels",
		},
		{
			Key:         "canvas.height",
			Value:       strconv.Itoa(c.Canvas.Height),
			Type:        "int",
			Description: "Canvas height in pixels",
		},
		{
			Key:         "canvas.history_limit",
			Value:       strconv.Itoa(c.Canvas.HistoryLimit),
			Type:        "int",
			Description: "Undo history depth per session",
		},
		{
			Key:         "canvas.brush_size",
			Value:       strconv.Itoa(c.Canvas.BrushSize),
			Type:        "int",
			Description: "Initial brush size in pixels",
		},
	}
}

func (c *Config) sessionSettings() []Setting {
	settings := []Setting{
		{
			Key:         "sessions.retention",
			Value:       c.Sessions.Retention,
			Type:        "string",
			Description: "Retention policy for sessions without members",
		},
		{
			Key:         "sessions.restore_on_startup",
			Value:       strconv.FormatBool(c.Sessions.RestoreOnStartup),
			Type:        "bool",
			Description: "Preload active sessions from the durability backend",
		},
	}

	if c.Sessions.Retention == RetentionTTL {
		settings = append(settings, Setting{
			Key:         "sessions.ttl",
			Value:       c.Sessions.TTL.String(),
			Type:        "duration",
			Description: "Idle time after which an empty session is reaped",
		})
	}

	return settings
}

func (c *Config) persistenceSettings() []Setting {
	settings := []Setting{
		{
			Key:         "persistence.backend",
			Value:       c.Persistence.Backend,
			Type:        "string",
			Description: "Durability backend",
		},
	}

	if c.Persistence.Backend == BackendNone {
		return settings
	}

	settings = append(settings,
		Setting{
			Key:         "persistence.failure_threshold",
			Value:       strconv.Itoa(c.Persistence.FailureThreshold),
			Type:        "int",
			Description: "Consecutive failures before the backend is disabled",
		},
		Setting{
			Key:         "persistence.retry_attempts",
			Value:       strconv.Itoa(c.Persistence.RetryAttempts),
			Type:        "int",
			Description: "Attempts per write before it is given up",
		},
	)

	switch c.Persistence.Backend {
	case BackendHTTP:
		settings = append(settings, Setting{
			Key:         "persistence.api_url",
			Value:       c.Persistence.APIURL,
			Type:        "string",
			Description: "Session REST backend",
		})
	case BackendSQL:
		settings = append(settings, Setting{
			Key:         "persistence.sql.driver",
			Value:       c.Persistence.SQL.Driver,
			Type:        "string",
			Description: "Relational session store",
		})
	}

	return settings
}
