// Command server is the composition root for the agent server: it loads
// configuration, connects to MongoDB, builds the orchestration graph's
// collaborators once, and serves the gRPC surface (spec.md §4.9, §9).
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/log"
	"google.golang.org/grpc"

	"github.com/pgoagent/agentserver/internal/auth"
	"github.com/pgoagent/agentserver/internal/config"
	"github.com/pgoagent/agentserver/internal/llmoracle"
	"github.com/pgoagent/agentserver/internal/llmoracle/provider/anthropic"
	"github.com/pgoagent/agentserver/internal/llmoracle/provider/bedrock"
	"github.com/pgoagent/agentserver/internal/llmoracle/provider/openai"
	"github.com/pgoagent/agentserver/internal/orchestrator"
	"github.com/pgoagent/agentserver/internal/persistence/checkpoint"
	"github.com/pgoagent/agentserver/internal/persistence/profile"
	"github.com/pgoagent/agentserver/internal/ratelimit"
	"github.com/pgoagent/agentserver/internal/retriever"
	"github.com/pgoagent/agentserver/internal/rpc"
	"github.com/pgoagent/agentserver/internal/sessionregistry"
	"github.com/pgoagent/agentserver/internal/telemetry"
	"github.com/pgoagent/agentserver/internal/tools"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx := log.Context(context.Background())

	cfgPath := os.Getenv("AGENT_CONFIG_PATH")
	cfg, _, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := telemetry.NewClueLogger()

	mongoClient, err := mongo.Connect(options.Client().ApplyURI(os.Getenv(config.DSNEnv)))
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	defer mongoClient.Disconnect(ctx)
	db := mongoClient.Database(cfg.Mongo.Database)

	checkpoints := checkpoint.NewMongoStore(db, cfg.Mongo.CheckpointColl, time.Duration(cfg.Mongo.TimeoutSec)*time.Second)
	if err := checkpoints.Setup(ctx); err != nil {
		return fmt.Errorf("setup checkpoint store: %w", err)
	}
	profiles := profile.NewMongoStore(db, cfg.Mongo.ProfileColl, time.Duration(cfg.Mongo.TimeoutSec)*time.Second)
	if err := profiles.Setup(ctx); err != nil {
		return fmt.Errorf("setup profile store: %w", err)
	}

	toolRegistry := tools.NewWithWorkerPool(cfg.Model.InputTokenBudget/2*4, cfg.Server.WorkerPoolSize)
	approval := tools.NewController()
	sessions := sessionregistry.New()

	oracle, err := buildOracle(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build llm oracle: %w", err)
	}

	// Dense/Sparse backends are external collaborators (spec.md §1): a real
	// deployment wires concrete vector-DB/BM25 clients here. The hybrid
	// fusion and rewrite_query primitive are still exercised through the
	// rag_retrieve/rag_rewrite_query tools below even with both backends
	// unset (Hybrid.Search degrades to an empty result per its tolerance
	// rule). No Reranker is set, so rag_retrieve skips the rerank filter.
	hybridRetriever := &retriever.Hybrid{Alpha: cfg.Model.RAGAlpha}
	toolRegistry.Register(&tools.RAGRetrieveTool{
		Hybrid:         hybridRetriever,
		RerankMinScore: cfg.Model.RerankMinScore,
	}, nil)
	toolRegistry.Register(&tools.RAGRewriteQueryTool{Oracle: oracle}, nil)
	for _, name := range []string{"write_file", "create_file", "delete_file", "code_exec"} {
		toolRegistry.Blacklist(name)
	}

	collaborators := orchestrator.Collaborators{
		Oracle:       oracle,
		Summarizer:   &orchestrator.OracleSummarizer{Oracle: oracle},
		ProfileStore: &orchestrator.OracleProfileUpdater{Oracle: oracle},
		Tools:        toolRegistry,
		Approval:     approval,
		Limits: orchestrator.Limits{
			WRecent:              config.DefaultWRecent,
			TopKTail:             config.DefaultTopKTail,
			MaxLoops:             config.DefaultMaxLoops,
			MaxToolAttempts:      config.DefaultMaxToolAttempts,
			MaxStructuredRetries: config.DefaultMaxStructuredRetries,
			MaxInputTokens:       cfg.Model.InputTokenBudget,
			MaxToolResultTokens:  cfg.Model.InputTokenBudget / 4,
			RerankMinScore:       cfg.Model.RerankMinScore,
			RRFK:                 config.DefaultRRFK,
		},
	}

	srv := &rpc.Server{
		Collaborators: collaborators,
		Checkpoints:   checkpoints,
		Profiles:      profiles,
		Sessions:      sessions,
		Logger:        logger,
		Version:       version,
		StartTime:     time.Now(),
	}

	skip := []string{"GetServerInfo"}
	secret, err := cfg.Secret()
	if err != nil {
		return fmt.Errorf("resolve jwt secret: %w", err)
	}
	global, err := ratelimit.NewGlobal(cfg.Limits.GlobalRatePerSec, int64(cfg.Limits.GlobalBurst), skip)
	if err != nil {
		return fmt.Errorf("build global limiter: %w", err)
	}
	authFilter := auth.New([]byte(secret), cfg.Auth.TokenHeader, skip, cfg.Auth.CacheSize, time.Duration(cfg.Auth.CacheTTLSec)*time.Second)
	perUser := ratelimit.NewPerUser(cfg.Limits.UserRatePerMinute, int64(cfg.Limits.UserBurst), cfg.Limits.Shards, time.Duration(cfg.Limits.BucketTTLSec)*time.Second, time.Duration(cfg.Limits.CleanupIntervalSec)*time.Second, skip)

	opts, err := rpc.ServerOptions(cfg)
	if err != nil {
		return fmt.Errorf("build server options: %w", err)
	}
	unaryOpt, streamOpt := rpc.InterceptorChain(global, authFilter, perUser)
	opts = append(opts, unaryOpt, streamOpt)

	grpcServer := grpc.NewServer(opts...)
	grpcServer.RegisterService(&rpc.ServiceDesc, srv)

	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	logger.Info(ctx, "agent server listening", "addr", lis.Addr().String())
	return grpcServer.Serve(lis)
}

// buildOracle constructs the LLM Oracle (C7) adapter named by
// cfg.Model.Provider. Each provider reads its own credential environment
// variable per that SDK's own convention (ANTHROPIC_API_KEY,
// OPENAI_API_KEY, or the standard AWS credential chain for Bedrock).
func buildOracle(ctx context.Context, cfg config.Config) (llmoracle.Client, error) {
	switch cfg.Model.Provider {
	case "", "anthropic":
		return anthropic.NewFromAPIKey(os.Getenv("ANTHROPIC_API_KEY"), anthropic.Options{
			DefaultModel: cfg.Model.DefaultModel,
			MaxTokens:    cfg.Model.InputTokenBudget,
		})
	case "openai":
		return openai.NewFromAPIKey(os.Getenv("OPENAI_API_KEY"), cfg.Model.DefaultModel)
	case "bedrock":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return bedrock.New(bedrock.Options{
			Runtime:      bedrockruntime.NewFromConfig(awsCfg),
			DefaultModel: cfg.Model.DefaultModel,
			MaxTokens:    cfg.Model.InputTokenBudget,
		})
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Model.Provider)
	}
}
