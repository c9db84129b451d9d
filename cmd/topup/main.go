package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/recargaspacuba/topup/internal/auth"
	"github.com/recargaspacuba/topup/internal/catalog"
	"github.com/recargaspacuba/topup/internal/config"
	"github.com/recargaspacuba/topup/internal/fulfillment"
	"github.com/recargaspacuba/topup/internal/handler"
	"github.com/recargaspacuba/topup/internal/logger"
	"github.com/recargaspacuba/topup/internal/service"
	"github.com/recargaspacuba/topup/internal/service/attestclient"
	"github.com/recargaspacuba/topup/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg := config.GetConfig()

	zaplog, err := logger.NewZapLog(cfg.Logger)
	if err != nil {
		return err
	}

	var st store.Store
	if cfg.Store.DBDsn == "" {
		// emulator mode: no database configured
		st = store.NewMemStore()
	} else {
		st, err = store.NewStore(cfg.Store)
		if err != nil {
			return err
		}
	}
	defer st.Close()

	var products catalog.Resolver = catalog.NewStaticResolver()
	if cfg.Store.DBDsn != "" {
		products = catalog.NewStoreResolver(st)
	}

	authResolver := auth.NewResolver(cfg.Auth)
	svc := service.NewService(st, products, zaplog)

	// a configured verifier is always enforced; without one the handler
	// serves only in relaxed mode and fails closed otherwise
	var attest attestclient.Verifier
	if cfg.Handler.AttestAddr != "" {
		attest = attestclient.NewAttestClient(cfg.Handler.AttestAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sync := fulfillment.NewSynchronizer(st, zaplog)
	go sync.Run(ctx)

	return handler.Serve(ctx, cfg.Handler, authResolver, svc, attest, zaplog)
}
