package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agazso/runtracker/internal/config"
	"github.com/agazso/runtracker/internal/db"
	"github.com/agazso/runtracker/internal/server"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig      func() config.Config
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	connectRedis    func(config.Config) *redis.Client
	connectMQTT     func(config.Config) (mqtt.Client, error)
	connectRabbitMQ func(config.Config) (*amqp.Connection, error)
	newKafkaWriter  func(config.Config) *kafka.Writer
	connectMinio    func(config.Config) (*minio.Client, error)
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, server.Infra, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		connectPostgres: db.ConnectPostgres,
		connectRedis:    db.ConnectRedis,
		connectMQTT:     db.ConnectMQTT,
		connectRabbitMQ: db.ConnectRabbitMQ,
		newKafkaWriter:  db.NewKafkaWriter,
		connectMinio:    db.ConnectMinio,
		notify:          signal.Notify,
		run:             Run,
	}
}

func realMain(deps mainDeps) {
	config.InitLogging()
	cfg := deps.loadConfig()

	infra := server.Infra{Redis: deps.connectRedis(cfg), Kafka: deps.newKafkaWriter(cfg)}

	pg, err := deps.connectPostgres(cfg)
	if err != nil {
		log.Printf("postgres connection failed: %v", err)
	} else {
		infra.Postgres = pg
	}

	if client, err := deps.connectMQTT(cfg); err != nil {
		log.Printf("mqtt connection failed: %v", err)
	} else {
		infra.MQTT = client
	}

	if cfg.EventsBackend == "rabbitmq" {
		if conn, err := deps.connectRabbitMQ(cfg); err != nil {
			log.Printf("rabbitmq connection failed: %v", err)
		} else {
			infra.RabbitMQ = conn
		}
	}

	if mc, err := deps.connectMinio(cfg); err != nil {
		log.Printf("minio setup failed: %v", err)
	} else {
		infra.Minio = mc
	}

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, infra, signals, nil); err != nil {
		log.Printf("server exited with error: %v", err)
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

// Run starts the HTTP server and waits for termination signals.
func Run(ctx context.Context, cfg config.Config, infra server.Infra, signals <-chan os.Signal, listen ListenFunc) error {
	if err := server.CheckAuth(cfg, infra); err != nil {
		closeInfra(infra)
		return err
	}

	srv := server.NewServer(cfg, infra)
	srv.Setup(ctx)

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	var err error
	select {
	case <-signals:
	case <-ctx.Done():
	case err = <-errCh:
	}
	if err == nil {
		err = shutdown(srv.App)
	}

	srv.Close()
	closeInfra(infra)
	return err
}

func shutdown(app *fiber.App) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return shutdownFn(app, ctx)
}

func closeInfra(infra server.Infra) {
	if infra.MQTT != nil {
		infra.MQTT.Disconnect(250)
	}
	if infra.Kafka != nil {
		if err := infra.Kafka.Close(); err != nil {
			log.Printf("close kafka writer: %v", err)
		}
	}
	if infra.RabbitMQ != nil {
		_ = infra.RabbitMQ.Close()
	}
	if infra.Postgres != nil {
		infra.Postgres.Close()
	}
	if infra.Redis != nil {
		_ = infra.Redis.Close()
	}
}
