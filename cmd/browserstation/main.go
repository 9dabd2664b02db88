// Command browserstation is the Process Lifecycle entry point (C7): it loads
// configuration, constructs the configured Placement Runtime backend, calls
// its Init, and only then starts accepting HTTP connections. On SIGINT or
// SIGTERM it stops accepting new connections and lets in-flight HTTP requests
// finish within a bounded grace period before exiting. WebSocket bridges are
// hijacked connections that http.Server.Shutdown neither waits for nor
// closes; they end when the process exits.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/operolabs/browserstation/internal/authtoken"
	"github.com/operolabs/browserstation/internal/config"
	"github.com/operolabs/browserstation/internal/httpapi"
	"github.com/operolabs/browserstation/internal/lifecycle"
	"github.com/operolabs/browserstation/internal/placement"
	"github.com/operolabs/browserstation/internal/placement/ecsrt"
	"github.com/operolabs/browserstation/internal/placement/localrt"
	"github.com/operolabs/browserstation/internal/registry"
	"github.com/operolabs/browserstation/internal/wsproxy"
)

// shutdownGrace bounds how long in-flight HTTP requests get to finish after a
// SIGINT/SIGTERM before the process exits anyway.
const shutdownGrace = 30 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("browserstation: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runtime, err := buildRuntime(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build placement runtime: %w", err)
	}
	if err := runtime.Init(ctx); err != nil {
		return fmt.Errorf("init placement runtime: %w", err)
	}

	apiKey, err := resolveAPIKey(ctx, cfg)
	if err != nil {
		return fmt.Errorf("resolve api key: %w", err)
	}

	reg := registry.New(runtime)
	var tokens *authtoken.Signer
	if apiKey != "" {
		tokens = authtoken.NewSigner(apiKey, 0)
	}
	lc := lifecycle.New(runtime, reg, tokens)
	ws := wsproxy.New(reg, tokens)
	api := httpapi.New(lc, ws, apiKey)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("browserstation: listening on %s (placement=%s)", cfg.ListenAddr, cfg.Placement)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		log.Println("browserstation: shutdown signal received, draining in-flight requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	}
}

func buildRuntime(ctx context.Context, cfg config.Config) (placement.Runtime, error) {
	switch cfg.Placement {
	case config.PlacementLocal:
		var opts []localrt.Option
		if cfg.ChromeBinary != "" {
			opts = append(opts, localrt.WithChromeBinary(cfg.ChromeBinary))
		}
		return localrt.New(opts...), nil

	case config.PlacementECS:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		ecsCfg := ecsrt.Config{
			Cluster:        cfg.ECSCluster,
			TaskDefinition: cfg.ECSTaskDefinition,
			ContainerName:  cfg.ECSContainerName,
			Subnets:        cfg.ECSSubnets,
			SecurityGroups: cfg.ECSSecurityGroups,
			ActorsTable:    cfg.ActorsTable,
			EventBus:       cfg.EventBus,
			ReadyTopicArn:  cfg.ReadyTopicArn,
		}
		return ecsrt.New(
			ecsCfg,
			ecs.NewFromConfig(awsCfg),
			ec2.NewFromConfig(awsCfg),
			dynamodb.NewFromConfig(awsCfg),
			eventbridge.NewFromConfig(awsCfg),
			sns.NewFromConfig(awsCfg),
		), nil

	default:
		return nil, fmt.Errorf("unknown placement backend %q", cfg.Placement)
	}
}

// resolveAPIKey prefers BROWSERSTATION_API_KEY verbatim; when unset but
// BROWSERSTATION_API_KEY_SECRET_ARN is configured, it fetches the key from
// AWS Secrets Manager once at startup, mirroring the teacher's
// GetJWTSecretKey Secrets-Manager-with-env-override pattern.
func resolveAPIKey(ctx context.Context, cfg config.Config) (string, error) {
	if cfg.APIKey != "" {
		return cfg.APIKey, nil
	}
	if cfg.APIKeySecretArn == "" {
		return "", nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("load aws config: %w", err)
	}
	client := secretsmanager.NewFromConfig(awsCfg)
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &cfg.APIKeySecretArn,
	})
	if err != nil {
		return "", fmt.Errorf("fetch api key secret: %w", err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", cfg.APIKeySecretArn)
	}

	var structured struct {
		APIKey string `json:"api_key"`
	}
	if err := json.Unmarshal([]byte(*out.SecretString), &structured); err == nil && structured.APIKey != "" {
		return structured.APIKey, nil
	}
	return *out.SecretString, nil
}
