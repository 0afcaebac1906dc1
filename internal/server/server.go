package server

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/agazso/runtracker/internal/archive"
	"github.com/agazso/runtracker/internal/auth"
	"github.com/agazso/runtracker/internal/config"
	"github.com/agazso/runtracker/internal/db"
	"github.com/agazso/runtracker/internal/export"
	"github.com/agazso/runtracker/internal/location"
	"github.com/agazso/runtracker/internal/storage"
	"github.com/agazso/runtracker/internal/stream"
	"github.com/agazso/runtracker/internal/tracking"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

var (
	errNotConnected     = errors.New("not connected")
	errConnectionClosed = errors.New("connection closed")

	ErrNoTokenIssuer = errors.New("tracking control needs tokens but postgres is unavailable; set TRACKING_OPEN_CONTROL=true to serve it without auth")
)

// CheckAuth reports whether the tracking control routes can be used: tokens
// are issued by the auth routes, which need postgres.
func CheckAuth(cfg config.Config, infra Infra) error {
	if cfg.OpenControl || infra.Postgres != nil {
		return nil
	}
	return ErrNoTokenIssuer
}

// Infra holds the connected clients. Any of them may be nil; the components
// that need a missing client are left out.
type Infra struct {
	Postgres *pgxpool.Pool
	Redis    *redis.Client
	MQTT     mqtt.Client
	RabbitMQ *amqp.Connection
	Kafka    *kafka.Writer
	Minio    *minio.Client
}

type Server struct {
	App     *fiber.App
	Cfg     config.Config
	Infra   Infra
	Stream  *stream.Hub
	Tracker *tracking.Tracker
	Archive *archive.Store
	Storage *storage.Service

	publisher archive.Publisher
}

func NewServer(cfg config.Config, infra Infra) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:    app,
		Cfg:    cfg,
		Infra:  infra,
		Stream: stream.NewHub(infra.Redis),
	}

	s.Tracker = tracking.NewTracker(s.trackerOptions())
	registerRoutes(s)
	return s
}

func (s *Server) trackerOptions() tracking.Options {
	opts := tracking.Options{
		DeviceID:    s.Cfg.DeviceID,
		AspectRatio: s.Cfg.AspectRatio,
		StartPolicy: tracking.ParseStartPolicy(s.Cfg.StartPolicy),
		Renderer:    s.Stream,
	}

	if s.Infra.MQTT != nil {
		providerCfg, err := location.LoadProviderConfig(s.Cfg.ProviderConfig)
		if err != nil {
			log.Printf("provider config: %v, using defaults", err)
			providerCfg = location.DefaultProviderConfig()
		}
		opts.Provider = location.NewMQTTProvider(s.Infra.MQTT, s.Cfg.DeviceID, providerCfg)
		opts.Geolocator = location.NewMQTTGeolocator(s.Infra.MQTT, s.Cfg.DeviceID,
			time.Duration(providerCfg.LocationTimeout)*time.Second)
	}

	if s.Infra.Postgres != nil {
		s.Archive = archive.NewStore(s.Infra.Postgres)
		opts.Sinks = append(opts.Sinks, s.Archive)
	}

	if s.Infra.Minio != nil && s.Infra.Postgres != nil {
		s.Storage = storage.NewService(s.Infra.Postgres, s.Infra.Minio, s.Cfg.MinioBucket)
		opts.Sinks = append(opts.Sinks, archive.NewExportSink(s.Storage))
	}

	if pub := s.newPublisher(); pub != nil {
		s.publisher = pub
		opts.Sinks = append(opts.Sinks, archive.NewEventSink(pub))
	}
	return opts
}

func (s *Server) newPublisher() archive.Publisher {
	switch s.Cfg.EventsBackend {
	case "rabbitmq":
		if s.Infra.RabbitMQ == nil {
			log.Printf("events backend rabbitmq selected but not connected")
			return nil
		}
		pub, err := archive.NewRabbitPublisher(s.Infra.RabbitMQ)
		if err != nil {
			log.Printf("rabbitmq publisher: %v", err)
			return nil
		}
		return pub
	case "kafka":
		if s.Infra.Kafka == nil {
			log.Printf("events backend kafka selected but no brokers configured")
			return nil
		}
		return archive.NewKafkaPublisher(s.Infra.Kafka)
	case "":
		return nil
	default:
		log.Printf("unknown events backend %q", s.Cfg.EventsBackend)
		return nil
	}
}

// Setup prepares the optional infrastructure: schema, bucket and the
// location provider. Failures are logged and the service keeps running.
func (s *Server) Setup(ctx context.Context) {
	if s.Infra.Postgres != nil {
		if err := db.Migrate(ctx, s.Infra.Postgres); err != nil {
			log.Printf("postgres migration failed: %v", err)
		}
	}
	if s.Storage != nil {
		if err := s.Storage.EnsureBucket(ctx); err != nil {
			log.Printf("minio bucket setup failed: %v", err)
		}
	}
	if err := s.Tracker.Setup(ctx); err != nil {
		log.Printf("location provider setup failed: %v", err)
	}
}

// Close releases the event publisher. Connections in Infra are owned by the caller.
func (s *Server) Close() {
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			log.Printf("close publisher: %v", err)
		}
	}
}

func registerRoutes(s *Server) {
	s.App.Get("/health", s.health)

	control := auth.JWTMiddleware(s.Cfg.JWTSecret, s.Cfg.DeviceID)
	if s.Cfg.OpenControl {
		log.Printf("tracking control routes are served without auth")
		control = func(c *fiber.Ctx) error { return c.Next() }
	}

	if s.Infra.Postgres != nil {
		auth.RegisterRoutes(s.App.Group("/auth"), auth.NewService(s.Cfg.JWTSecret, s.Infra.Postgres), s.Cfg.DeviceID)
		archive.RegisterRoutes(s.App.Group("/archive"), s.Archive)
	}
	if s.Storage != nil {
		storage.RegisterRoutes(s.App.Group("/storage"), s.Storage)
	}
	tracking.RegisterRoutes(s.App.Group("/tracking"), s.Tracker, export.Download, control)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}

func (s *Server) health(c *fiber.Ctx) error {
	status := fiber.StatusOK
	deps := fiber.Map{}
	ctx := c.UserContext()

	check := func(name string, configured bool, probe func() error) {
		if !configured {
			deps[name] = fiber.Map{"status": "disabled"}
			return
		}
		if err := probe(); err != nil {
			deps[name] = fiber.Map{"status": "down", "error": err.Error()}
			status = fiber.StatusServiceUnavailable
			return
		}
		deps[name] = fiber.Map{"status": "up"}
	}

	check("postgres", s.Infra.Postgres != nil, func() error { return s.Infra.Postgres.Ping(ctx) })
	check("redis", s.Infra.Redis != nil, func() error { return s.Infra.Redis.Ping(ctx).Err() })
	check("mqtt", s.Infra.MQTT != nil, func() error {
		if !s.Infra.MQTT.IsConnected() {
			return errNotConnected
		}
		return nil
	})
	check("rabbitmq", s.Infra.RabbitMQ != nil, func() error {
		if s.Infra.RabbitMQ.IsClosed() {
			return errConnectionClosed
		}
		return nil
	})

	overall := "ok"
	if status != fiber.StatusOK {
		overall = "unhealthy"
	}
	return c.Status(status).JSON(fiber.Map{
		"status":       overall,
		"device_id":    s.Cfg.DeviceID,
		"tracking":     s.Tracker.Snapshot().Status(),
		"dependencies": deps,
	})
}
