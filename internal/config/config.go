// Package config loads BrowserStation's process-wide configuration once at
// startup from environment variables into a single immutable struct. An
// 8-ish-variable surface doesn't warrant a flags/viper dependency (see
// DESIGN.md); this is the one place the module reaches for the standard
// library over a third-party config loader.
package config

import (
	"fmt"
	"os"
	"strings"
)

// Placement selects which Placement Runtime backend to construct.
type Placement string

const (
	PlacementLocal Placement = "local"
	PlacementECS   Placement = "ecs"
)

// Config is the fully-resolved, immutable process configuration.
type Config struct {
	APIKey            string
	APIKeySecretArn   string
	Placement         Placement
	StructuredLogging bool

	// ECS backend.
	ECSCluster        string
	ECSTaskDefinition string
	ECSContainerName  string
	ECSSubnets        []string
	ECSSecurityGroups []string
	ActorsTable       string
	EventBus          string
	ReadyTopicArn     string

	// Local backend.
	ChromeBinary string

	// Server.
	ListenAddr string
}

// Load reads the environment and validates the combination of variables
// required by the selected Placement backend.
func Load() (Config, error) {
	cfg := Config{
		APIKey:            os.Getenv("BROWSERSTATION_API_KEY"),
		APIKeySecretArn:   os.Getenv("BROWSERSTATION_API_KEY_SECRET_ARN"),
		Placement:         Placement(envOr("BROWSERSTATION_PLACEMENT", string(PlacementLocal))),
		StructuredLogging: os.Getenv("BROWSERSTATION_STRUCTURED_LOGGING") != "false",

		ECSCluster:        os.Getenv("BROWSERSTATION_ECS_CLUSTER"),
		ECSTaskDefinition: os.Getenv("BROWSERSTATION_ECS_TASK_DEFINITION"),
		ECSContainerName:  os.Getenv("BROWSERSTATION_ECS_CONTAINER_NAME"),
		ECSSubnets:        splitCSV(os.Getenv("BROWSERSTATION_ECS_SUBNETS")),
		ECSSecurityGroups: splitCSV(os.Getenv("BROWSERSTATION_ECS_SECURITY_GROUPS")),
		ActorsTable:       os.Getenv("BROWSERSTATION_ACTORS_TABLE"),
		EventBus:          os.Getenv("BROWSERSTATION_EVENT_BUS"),
		ReadyTopicArn:     os.Getenv("BROWSERSTATION_READY_TOPIC_ARN"),

		ChromeBinary: os.Getenv("BROWSERSTATION_CHROME_BINARY"),

		ListenAddr: envOr("BROWSERSTATION_LISTEN_ADDR", ":8080"),
	}

	switch cfg.Placement {
	case PlacementLocal:
		// No required variables; ChromeBinary falls back to a sensible
		// default inside the localrt package.
	case PlacementECS:
		missing := []string{}
		for name, val := range map[string]string{
			"BROWSERSTATION_ECS_CLUSTER":         cfg.ECSCluster,
			"BROWSERSTATION_ECS_TASK_DEFINITION": cfg.ECSTaskDefinition,
			"BROWSERSTATION_ECS_CONTAINER_NAME":  cfg.ECSContainerName,
			"BROWSERSTATION_ACTORS_TABLE":        cfg.ActorsTable,
		} {
			if val == "" {
				missing = append(missing, name)
			}
		}
		if len(cfg.ECSSubnets) == 0 {
			missing = append(missing, "BROWSERSTATION_ECS_SUBNETS")
		}
		if len(missing) > 0 {
			return Config{}, fmt.Errorf("config: ecs placement requires %s", strings.Join(missing, ", "))
		}
	default:
		return Config{}, fmt.Errorf("config: unknown BROWSERSTATION_PLACEMENT %q", cfg.Placement)
	}

	return cfg, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
