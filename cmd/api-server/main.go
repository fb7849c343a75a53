// Package main API Server 入口
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"knowledge-engine/internal/api"
	"knowledge-engine/internal/config"
	"knowledge-engine/internal/engine/ask"
	"knowledge-engine/internal/engine/retriever"
	"knowledge-engine/internal/ingest"
	"knowledge-engine/internal/provider"
	"knowledge-engine/internal/shared/infra"
	objstore "knowledge-engine/internal/shared/minio"
	"knowledge-engine/internal/shared/storage"
	"knowledge-engine/internal/shared/storage/mongostore"
	"knowledge-engine/internal/shared/storage/sqlitestore"
)

func main() {
	// 加载配置（自动加载 .env，根据 APP_ENV 切换配置文件）
	cfg := config.Load()

	log.Printf("Starting API Server... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	// 初始化持久化存储（MongoDB 主力，SQLite 单机）
	var store storage.Store
	var err error
	switch cfg.DatabaseDriver {
	case "sqlite":
		store, err = sqlitestore.NewStore(cfg.DatabaseURL)
	default:
		store, err = mongostore.NewStore(cfg.DatabaseURL, cfg.DatabaseDBName)
	}
	if err != nil {
		log.Fatalf("Failed to connect to database (%s): %v", cfg.DatabaseDriver, err)
	}
	log.Printf("Connected to database [driver=%s]", cfg.DatabaseDriver)

	// 初始化 Redis（缓存、事件总线、消息队列）
	inf, err := infra.NewRedisInfrastructure(cfg.RedisURL, store)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer inf.Close()

	// 初始化 MinIO（可选，object 来源的取文后端）
	var fetcher ingest.ObjectFetcher
	if cfg.MinIO.Enabled {
		objClient, err := objstore.NewClient(cfg.MinIO)
		if err != nil {
			log.Fatalf("Failed to connect to MinIO: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := objClient.EnsureBucket(ctx); err != nil {
			cancel()
			log.Fatalf("Failed to ensure MinIO bucket: %v", err)
		}
		cancel()
		fetcher = objClient
		log.Printf("Connected to MinIO [endpoint=%s]", cfg.MinIO.Endpoint)
	}

	// 初始化模型提供方（凭证轮换池）
	llm := provider.NewClient(cfg.Provider)
	defer llm.Close()

	// 装配引擎
	r := retriever.New(store, cfg.Retrieval)
	engine := ask.NewEngine(store, inf.Cache, r, llm, cfg.Retrieval)
	submitter := ingest.NewSubmitter(store, inf.Queue)
	pipeline := ingest.NewPipeline(store, inf.Cache, inf.EventBus, llm, fetcher, cfg.Chunking)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动摄取工作进程与僵死任务看门狗
	pool := ingest.NewWorkerPool(inf.Queue, pipeline, cfg.Ingest)
	if err := pool.Start(ctx); err != nil {
		log.Fatalf("Failed to start ingest workers: %v", err)
	}
	watchdog := ingest.NewWatchdog(store, inf.EventBus, cfg.Ingest)
	go watchdog.Run(ctx)

	h := api.NewHandler(store, inf.Queue, inf.EventBus, engine, submitter, cfg.Auth)

	srv := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      h.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // 问答链路含模型生成，放宽写超时
		IdleTimeout:  60 * time.Second,
	}

	// 优雅关闭
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		cancel()
		pool.Wait()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("API Server listening on :%s", cfg.APIPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server stopped")
}
