// Command balancecache keeps the balance cache of one account and serves it over HTTP.
// Live balances come from the platform wallet API or an exchange; when the live
// source is down the last known balances are served from the persisted store and
// the configured backup generations.
//
// Usage:
//
//	balancecache -config config.yaml
//	balancecache -account acc-1 -network azore -plan pro -source-url https://wallet.example.com/api
//	balancecache -setup
//
// Secrets are read from the environment:
//
//	Wallet API: WALLET_API_KEY
//	Binance: BINANCE_API_KEY, BINANCE_API_SECRET
//	Bybit: BYBIT_API_KEY, BYBIT_API_SECRET
//	Hyperliquid: HYPERLIQUID_PRIVATE_KEY
//	Redis backups: REDIS_PASSWORD
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/vadiminshakov/balancecache/config"
	"github.com/vadiminshakov/balancecache/internal"
	"github.com/vadiminshakov/balancecache/internal/logger"
	"github.com/vadiminshakov/balancecache/internal/setup"
)

func main() {
	conf, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	if conf.SetupOnly {
		path, err := setup.RunTUI()
		if err != nil {
			log.Fatal(err)
		}
		conf, err = config.Load(path)
		if err != nil {
			log.Fatal(err)
		}
	}

	l, err := logger.New(conf.Log)
	if err != nil {
		log.Fatal(err)
	}
	defer l.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := internal.Start(ctx, conf, l); err != nil {
		l.Error("balancecache stopped with error", zap.Error(err))
		os.Exit(1)
	}
}
