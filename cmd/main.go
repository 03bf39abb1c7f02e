package main

import (
	"context"
	"time"

	"kes-wallet/biz/dal"
	"kes-wallet/biz/dal/kafka"
	"kes-wallet/biz/dal/pg"
	"kes-wallet/biz/dal/redis"
	"kes-wallet/biz/engine"
	"kes-wallet/biz/handler"
	"kes-wallet/biz/model"
	"kes-wallet/biz/router"
	"kes-wallet/biz/service"
	"kes-wallet/biz/util"
	"kes-wallet/conf"
	"kes-wallet/gateway"

	"github.com/cloudwego/hertz/pkg/app/middlewares/server/recovery"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/hertz-contrib/cors"
	"github.com/hertz-contrib/gzip"
	"github.com/hertz-contrib/logger/accesslog"
	"github.com/hertz-contrib/pprof"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const priceKey = "kes-wallet/prices"

func main() {
	_ = godotenv.Load()
	c := conf.GetConf()

	h := server.New(server.WithHostPorts(c.Hertz.Address))
	registerMiddleware(h)

	dal.Init()
	ctx, cancel := context.WithCancel(context.Background())

	e := c.Engine
	pools, err := engine.NewPools(e.CopyPoolSize, e.EffectPoolSize)
	if err != nil {
		hlog.Fatalf("创建协程池失败: %v", err)
	}
	fees, err := service.NewFeeCalculatorFromConf(e.Fees)
	if err != nil {
		hlog.Fatalf("费率配置错误: %v", err)
	}

	db := pg.GormDB
	balances := service.NewBalanceStore(db, service.NewKeyedMutex())
	machine := service.NewStateMachine(db, balances)
	dispatcher := service.NewDispatcher(db, pools.EffectPool, e.RelayMaxAttempts)
	prices := service.NewPriceTable(e.Prices)

	var (
		backend service.BucketBackend
		local   *service.LocalBucketBackend
	)
	if e.RateLimit.Backend == "redis" {
		backend = redis.NewTokenBucketBackend(redis.Client)
	} else {
		local = service.NewLocalBucketBackend(time.Now)
		backend = local
	}
	limiter := service.NewRateLimiter(backend, e.RateLimit.Classes)

	// 未配置 M-Pesa 凭证时仍可启动，充值与提现会返回 configuration_error
	var payments service.PaymentGateway
	mpesa, err := gateway.NewMpesaClient(c.Mpesa, "")
	if err != nil {
		hlog.Warnf("M-Pesa 未启用: %v", err)
	} else {
		payments = mpesa
		dispatcher.Register(model.EffectPayout, service.DispatchPayout(mpesa))
	}

	reconciler := service.NewReconciler(db, machine, dispatcher, e.FeeAccountID)
	trades := service.NewTradeService(db, limiter, fees, prices, machine, payments, dispatcher, reconciler, service.PipelineConfig{
		FeeAccountID:   e.FeeAccountID,
		MinDeposit:     decimal.NewFromFloat(e.MinDeposit),
		MaxDeposit:     decimal.NewFromFloat(e.MaxDeposit),
		GatewayTimeout: c.Mpesa.Timeout,
	})
	copies := service.NewCopyEngine(db, balances, fees, trades, pools.CopyPool, decimal.NewFromFloat(e.MinCopyExecution))
	signals := service.NewSignalIngester(db, trades, pools.CopyPool, e.KnownAssets, decimal.NewFromFloat(e.DefaultSignalAmount))

	dispatcher.Register(model.EffectTradeEvent, service.PublishTradeEvent(kafka.NewTradeEventPublisher(kafka.Topic("trade_events"))))
	dispatcher.Register(model.EffectCopyPropagate, copies.HandleEffect)

	hooks := service.SweeperHooks{Relay: dispatcher, Orphans: reconciler}
	if local != nil {
		hooks.Buckets = local
	}
	instances := e.Instances
	var consul *service.ConsulHelper
	if len(c.Registry.RegistryAddress) > 0 {
		consul, err = service.NewConsulHelperWithAddrs(c.Registry.RegistryAddress)
		if err != nil {
			hlog.Warnf("Consul 不可用，跳过注册与分布式锁: %v", err)
		}
	}
	if consul != nil {
		hooks.Consul = consul.Client()
		if err := consul.RegisterEngine(e.NodeID, util.GetLocalIP(), e.Port); err != nil {
			hlog.Warnf("注册引擎节点失败: %v", err)
		}
		if n, err := consul.CountEngines(); err == nil && n > instances {
			instances = n
		}
		go prices.WatchConsul(ctx, consul.Client(), priceKey)
	}
	service.WarnIfUnderEnforced(e.RateLimit.Backend, instances)

	sweeper := service.NewExpirySweeper(db, pg.NewStaleTradeFinder(pg.GetPool()), machine, dispatcher,
		service.SweeperConfig{Window: e.ExpiryWindow, Interval: e.SweepInterval}, hooks)
	trades.SetDeadlineTracker(sweeper)
	go sweeper.Run(ctx)

	var consumer *kafka.SignalConsumer
	if _, ok := c.Kafka.Topics["raw_signals"]; ok {
		consumer = kafka.NewSignalConsumer(c.Kafka.Brokers, c.Kafka.GroupID, kafka.Topic("raw_signals"))
		go consumeSignals(ctx, consumer, signals)
	}

	router.Register(h, router.Handlers{
		Trades:   handler.NewTradeHandler(trades),
		Balances: handler.NewBalanceHandler(balances),
		Callback: handler.NewCallbackHandler(reconciler),
		Copies:   handler.NewCopyHandler(copies, decimal.NewFromFloat(e.DefaultMaxSlippage)),
		Signals:  handler.NewSignalHandler(signals),
	})

	h.OnShutdown = append(h.OnShutdown, func(_ context.Context) {
		cancel()
		if consumer != nil {
			_ = consumer.Close()
		}
		if consul != nil {
			_ = consul.Deregister(e.NodeID)
		}
		pools.Release()
		dal.Close()
	})
	h.Spin()
}

// consumeSignals 消费者出错后间隔重启，直到 ctx 取消
func consumeSignals(ctx context.Context, consumer *kafka.SignalConsumer, signals *service.SignalIngester) {
	for {
		err := consumer.Consume(ctx, signals.HandleRaw)
		if ctx.Err() != nil {
			return
		}
		hlog.Errorf("信号消费中断，5s 后重试: %v", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func registerMiddleware(h *server.Hertz) {
	hc := conf.GetConf().Hertz
	// log
	hlog.SetLevel(conf.LogLevel())
	asyncWriter := &zapcore.BufferedWriteSyncer{
		WS: zapcore.AddSync(&lumberjack.Logger{
			Filename:   hc.LogFileName,
			MaxSize:    hc.LogMaxSize,
			MaxBackups: hc.LogMaxBackups,
			MaxAge:     hc.LogMaxAge,
		}),
		FlushInterval: time.Minute,
	}
	hlog.SetOutput(asyncWriter)
	h.OnShutdown = append(h.OnShutdown, func(ctx context.Context) {
		_ = asyncWriter.Sync()
	})

	h.Use(recovery.Recovery())
	if hc.EnablePprof {
		pprof.Register(h)
	}
	if hc.EnableGzip {
		h.Use(gzip.Gzip(gzip.DefaultCompression))
	}
	if hc.EnableAccessLog {
		h.Use(accesslog.New())
	}
	if hc.EnableCors {
		h.Use(cors.Default())
	}
}
