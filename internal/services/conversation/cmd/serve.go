package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/LeonardoBeccarini/irrigation_session/internal/clock"
	"github.com/LeonardoBeccarini/irrigation_session/internal/config"
	"github.com/LeonardoBeccarini/irrigation_session/internal/log"
	"github.com/LeonardoBeccarini/irrigation_session/internal/services/api"
	"github.com/LeonardoBeccarini/irrigation_session/internal/services/conversation"
	"github.com/LeonardoBeccarini/irrigation_session/internal/services/dispatcher"
	"github.com/LeonardoBeccarini/irrigation_session/internal/services/event"
	"github.com/LeonardoBeccarini/irrigation_session/internal/services/persistence"
	"github.com/LeonardoBeccarini/irrigation_session/internal/volume"
	"github.com/LeonardoBeccarini/irrigation_session/pkg/dedup"
	"github.com/LeonardoBeccarini/irrigation_session/pkg/rabbitmq"
)

const (
	eventWriteGrace  = 2 * time.Minute
	healthInterval   = 10 * time.Second
	memoryDedupLimit = 100000
	inboundTimeout   = 30 * time.Second
)

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session engine, daily dispatcher and admin servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rootOpts.load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func loadFlowTable(cfg config.Config) (*volume.FlowRateTable, error) {
	if cfg.Session.FlowTablePath == "" {
		return volume.DefaultFlowRateTable(), nil
	}
	return volume.LoadFlowRateTable(cfg.Session.FlowTablePath)
}

func openGateway(ctx context.Context, cfg config.Config) (*persistence.SQLGateway, func() error, error) {
	db, err := persistence.OpenSQLite(cfg.SQLitePath, persistence.DefaultSQLiteConfig())
	if err != nil {
		return nil, nil, err
	}
	gw := persistence.NewSQLGateway(db)
	if err := gw.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return gw, db.Close, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := log.WithComponent("main")

	flow, err := loadFlowTable(cfg)
	if err != nil {
		return fmt.Errorf("flow table: %w", err)
	}

	sqlGw, closeDB, err := openGateway(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()
	gw := persistence.NewResilient(sqlGw, persistence.DefaultResilienceConfig())

	mq, err := rabbitmq.NewRabbitMQConn(ctx, &rabbitmq.RabbitMQConfig{
		Host:       cfg.MQTT.Host,
		Port:       cfg.MQTT.Port,
		User:       cfg.MQTT.User,
		Password:   cfg.MQTT.Password,
		ClientID:   cfg.MQTT.ClientID,
		MaxRetries: cfg.MQTT.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	pub := rabbitmq.NewPublisher(mq, 1)
	defer pub.Close()

	influx := influxdb2.NewClient(cfg.Influx.URL, cfg.Influx.Token)
	defer influx.Close()
	events := event.NewWriter(influx.WriteAPI(cfg.Influx.Org, cfg.Influx.Bucket))
	defer events.Flush()

	engine, err := conversation.New(conversation.Options{
		Gateway:       gw,
		Notifier:      conversation.NewMQTTNotifier(pub),
		Events:        events,
		Clock:         clock.Real{},
		Flow:          flow,
		Location:      cfg.Location(),
		ReminderEvery: cfg.Session.ReminderInterval,
		CounterUnit:   cfg.Session.CounterUnitM3,
		SendTimeout:   cfg.Session.SendTimeout,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	checks := []api.Check{
		{Name: "sqlite", Fn: sqlGw.Ping},
		{Name: "mqtt", Fn: func(context.Context) error {
			if !mq.IsConnectionOpen() {
				return errors.New("broker connection down")
			}
			return nil
		}},
		{Name: "store_breaker", Fn: func(context.Context) error {
			if gw.State() == gobreaker.StateOpen {
				return errors.New("circuit open")
			}
			return nil
		}},
		{Name: "event_journal", Fn: func(context.Context) error {
			if age := events.LastErrorAge(); age < eventWriteGrace {
				return fmt.Errorf("influx write failed %s ago", age.Round(time.Second))
			}
			return nil
		}},
	}

	var dd dedup.Deduper = dedup.NewMemory(cfg.Redis.TTL, memoryDedupLimit)
	if cfg.Redis.Addr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rc.Close()
		rd := dedup.NewRedis(rc, cfg.Redis.Prefix, cfg.Redis.TTL)
		dd = rd
		checks = append(checks, api.Check{Name: "redis", Fn: rd.Ping})
	}

	inbound := conversation.NewInbound(engine, dd, inboundTimeout)
	consumer := rabbitmq.NewConsumer(mq, inbound.Handle, conversation.InboundTopic)
	daily := dispatcher.New(gw, engine, clock.Real{}, cfg.DispatcherConfig())

	router := api.NewRouter(api.Config{
		Sessions: engine,
		Dispatch: daily,
		Checks:   checks,
		History:  event.NewHistoryHandler(influx, cfg.Influx.Org, cfg.Influx.Bucket),
	})
	grpcSrv, health := api.NewGRPCServer()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.ConsumeMessage(gctx) })
	g.Go(func() error { return daily.Run(gctx) })
	g.Go(func() error { return api.Serve(gctx, cfg.HTTPAddr, router) })
	g.Go(func() error { return api.ServeGRPC(gctx, cfg.GRPCAddr, grpcSrv) })
	g.Go(func() error {
		api.UpdateHealth(gctx, health, checks, healthInterval)
		return nil
	})

	logger.Info().
		Str("http", cfg.HTTPAddr).
		Str("grpc", cfg.GRPCAddr).
		Str("dispatch_at", cfg.Dispatch.At).
		Str("tz", cfg.Timezone).
		Msg("irrigationd running")

	err = g.Wait()
	logger.Info().Err(err).Msg("irrigationd stopped")
	return err
}
