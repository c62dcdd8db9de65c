package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"AgentHub/internal/admin"
	"AgentHub/internal/agent"
	"AgentHub/internal/agentstore"
	"AgentHub/internal/api"
	"AgentHub/internal/auth"
	"AgentHub/internal/chat"
	"AgentHub/internal/checkpoint"
	"AgentHub/internal/config"
	"AgentHub/internal/dispatch"
	"AgentHub/internal/llm"
	"AgentHub/internal/llm/openai"
	"AgentHub/internal/observability/alerting"
	"AgentHub/internal/skill"
	"AgentHub/internal/skills"
	"AgentHub/internal/skills/onchain"
	"AgentHub/internal/storage/mysql"
	"AgentHub/internal/storage/redis"
	"AgentHub/internal/telegram"
	"AgentHub/internal/wallet"
	"AgentHub/internal/web3"
	"AgentHub/internal/web3/provider"
	"AgentHub/pkg/logger"
)

// main 是 AgentHub 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("agenthubd 运行失败: %v", err)
	}
}

// stores 汇总按配置选择的持久化后端。
type stores struct {
	agents   agentstore.Store
	messages chat.Store
	skills   skill.Store
	saver    checkpoint.Saver
	purger   agent.Purger
	db       *sql.DB
	closers  []io.Closer
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			logger.L().Warn("关闭存储失败", slog.Any("error", err))
		}
	}
}

func run(ctx context.Context) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("加载 .env 失败: %w", err)
	}

	configPath := os.Getenv("AGENTHUB_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "agenthub.yaml")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Named("main")

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	chainDefs, err := web3.LoadChainDefinitions(cfg.Wallet.ChainConfig)
	if err != nil {
		return err
	}
	chains := provider.NewRegistry(chainDefs)
	defer chains.Close()

	wallets := wallet.NewProvisioner(wallet.NewKeystoreService(cfg.Wallet.Passphrase), st.agents, cfg.Wallet.DefaultNetwork)

	registry := skills.NewRegistry(skills.Deps{
		Chains:               chains,
		ChainDefinitions:     chainDefs,
		Store:                st.skills,
		EnsoBaseURL:          cfg.Skills.EnsoBaseURL,
		TwitterBaseURL:       cfg.Skills.TwitterBaseURL,
		TwitterBearerToken:   cfg.Skills.TwitterBearerToken,
		CryptoCompareAPIKey:  cfg.Skills.CryptoCompareAPIKey,
		CryptoCompareBaseURL: cfg.Skills.CryptoCompareBaseURL,
	})

	builder := agent.NewBuilder(agent.BuilderConfig{
		Data: st.agents,
		Families: llm.DefaultFamilies(llm.FamilyCredentials{
			OpenAIAPIKey:    cfg.LLM.OpenAIAPIKey,
			OpenAIBaseURL:   cfg.LLM.OpenAIBaseURL,
			DeepSeekAPIKey:  cfg.LLM.DeepSeekAPIKey,
			DeepSeekBaseURL: cfg.LLM.DeepSeekBaseURL,
		}),
		NewBackend:    openai.Factory,
		Registry:      registry,
		Wallets:       wallets,
		SkillStore:    st.skills,
		Saver:         st.saver,
		SystemPrompt:  cfg.LLM.SystemPrompt,
		Timeout:       cfg.LLM.Timeout,
		MaxSteps:      cfg.Agent.MaxSteps,
		PrivateSkills: cfg.Server.Debug,
	})
	graphs := agent.NewCache(st.agents, builder, agent.WithPerAgentLock(cfg.Agent.PerAgentLock))
	executor := agent.NewExecutor(graphs, st.messages, agent.WithResponseLimit(cfg.Agent.ResponseLimit))
	cleaner := agent.NewCleaner(st.purger)

	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	slack := alerting.NewSlackNotifier(cfg.Slack.Token, cfg.Slack.Channel)
	if slack != nil {
		notifiers = append(notifiers, slack)
	}
	alerts := alerting.NewFanout(notifiers...)

	adminSvc := admin.NewService(admin.Config{
		Agents:         st.agents,
		Catalog:        registry,
		Wallets:        wallets,
		Bots:           telegram.NewResolver(),
		Notifier:       slack,
		Cleaner:        cleaner,
		Graphs:         graphs,
		WalletCategory: onchain.Category,
	})

	jobs, processor, closeQueue, err := openDispatch(ctx, cfg, st, executor, alerts)
	if err != nil {
		return err
	}
	defer closeQueue()

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("任务处理器异常退出", slog.Any("error", err))
		}
	}()

	deps := api.Deps{
		Admin:    adminSvc,
		Turns:    executor,
		Messages: st.messages,
		Jobs:     jobs,
		Auth:     auth.MiddlewareConfig{Required: cfg.Auth.Required},
	}
	if cfg.Auth.JWTSecret != "" {
		verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
		if err != nil {
			return err
		}
		deps.Verifier = verifier
	}

	server := api.NewServer(cfg.Server.Address, deps)
	log.Info("AgentHub 启动",
		slog.String("address", cfg.Server.Address),
		slog.String("database", cfg.Database.Driver),
		slog.String("queue", cfg.Queue.Driver),
		slog.Int("skill_categories", len(registry.Order())))
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	st := &stores{}
	var memSaver *checkpoint.MemorySaver
	switch cfg.Database.Driver {
	case "mysql":
		db, err := mysql.Open(ctx, mysql.Config{
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		})
		if err != nil {
			return nil, err
		}
		st.db = db
		st.closers = append(st.closers, db)
		st.agents = mysql.NewAgentStore(db)
		st.messages = mysql.NewMessageStore(db)
		st.saver = mysql.NewCheckpointSaver(db)
	default:
		memSaver = checkpoint.NewMemorySaver()
		st.agents = agentstore.NewMemoryStore()
		st.messages = chat.NewMemoryStore()
		st.saver = memSaver
	}

	switch cfg.SkillStore.Driver {
	case "redis":
		store, err := redis.NewSkillStore(ctx, redis.Config{
			Address:  cfg.SkillStore.Redis.Address,
			Password: cfg.SkillStore.Redis.Password,
			DB:       cfg.SkillStore.Redis.DB,
			Prefix:   cfg.SkillStore.Redis.Prefix,
		})
		if err != nil {
			st.Close()
			return nil, err
		}
		st.closers = append(st.closers, store)
		st.skills = store
	case "mysql":
		st.skills = mysql.NewSkillStore(st.db)
	default:
		st.skills = skill.NewMemoryStore()
	}
	// 清理器必须覆盖实际存放技能数据的存储，因此在技能存储确定后构造。
	if st.db != nil {
		st.purger = mysql.NewPurger(st.db, mysql.WithSkillStore(st.skills))
	} else {
		st.purger = agent.NewLocalPurger(st.skills, memSaver)
	}
	return st, nil
}

func openDispatch(ctx context.Context, cfg *config.Config, st *stores, executor dispatch.Executor, alerts alerting.Dispatcher) (*dispatch.Service, *dispatch.Processor, func(), error) {
	var jobStore dispatch.Store
	if cfg.Queue.Store == "mysql" && st.db != nil {
		store, err := dispatch.NewMySQLStore(st.db)
		if err != nil {
			return nil, nil, nil, err
		}
		jobStore = store
	} else {
		jobStore = dispatch.NewMemoryStore()
	}

	var queue dispatch.Queue
	switch cfg.Queue.Driver {
	case "redis":
		q, err := dispatch.NewRedisQueue(ctx, dispatch.RedisQueueConfig{
			Address:   cfg.Queue.Redis.Address,
			Password:  cfg.Queue.Redis.Password,
			DB:        cfg.Queue.Redis.DB,
			Queue:     cfg.Queue.Redis.Queue,
			BlockWait: cfg.Queue.Redis.BlockWait,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		queue = q
	case "rabbitmq":
		q, err := dispatch.NewRabbitMQQueue(dispatch.RabbitMQConfig{
			URL:        cfg.Queue.RabbitMQ.URL,
			Queue:      cfg.Queue.RabbitMQ.Queue,
			Prefetch:   cfg.Queue.RabbitMQ.Prefetch,
			Durable:    cfg.Queue.RabbitMQ.Durable,
			AutoDelete: cfg.Queue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		queue = q
	default:
		queue = dispatch.NewMemoryQueue(cfg.Queue.Buffer)
	}

	service := dispatch.NewService(jobStore, queue)
	processor := dispatch.NewProcessor(executor, jobStore, queue,
		dispatch.WithWorkerCount(cfg.Queue.Workers),
		dispatch.WithProcessorLogger(logger.Named("dispatch")),
		dispatch.WithAlertDispatcher(alerts),
	)
	closeFn := func() {
		if err := service.Close(); err != nil {
			logger.L().Warn("关闭任务队列失败", slog.Any("error", err))
		}
	}
	return service, processor, closeFn, nil
}
