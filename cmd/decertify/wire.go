package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"decertify/internal/config"
	"decertify/internal/domain"
	"decertify/internal/infra/contentstore"
	"decertify/internal/infra/db"
	"decertify/internal/infra/document"
	"decertify/internal/infra/lease"
	"decertify/internal/infra/ledger/evm"
	"decertify/internal/infra/memstore"
	"decertify/internal/infra/policyopa"
	"decertify/internal/infra/scheduler"
	"decertify/internal/usecase"
)

type app struct {
	requests   *usecase.RequestService
	reconciler *scheduler.Reconciler
	dbMode     bool
	closers    []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}
}

func build(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{}

	store, err := db.NewStore(cfg)
	if err != nil {
		return nil, err
	}
	var (
		requests domain.RequestRepository
		blobs    domain.BlobRepository
		events   domain.EventRepository
	)
	if store.DB != nil {
		a.dbMode = true
		a.closers = append(a.closers, store.Close)
		if cfg.AutoMigrate {
			if err := store.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		requests = db.NewRequestRepository(store.DB)
		blobs = db.NewBlobRepository(store.DB)
		events = db.NewEventRepository(store.DB)
	} else {
		requests = memstore.NewRequests()
		blobs = memstore.NewBlobs()
		events = memstore.NewEvents()
	}

	content, err := buildContentStore(cfg)
	if err != nil {
		return nil, err
	}

	var (
		ledger domain.Ledger
		fees   domain.FeeSource
	)
	if cfg.LedgerConfigured() {
		client, err := evm.Dial(ctx, evm.Config{
			RPCURL:          cfg.LedgerRPCURL,
			ChainID:         cfg.LedgerChainID,
			ContractAddress: cfg.LedgerContractAddress,
			PrivateKeyHex:   cfg.LedgerPrivateKeyHex,
			Confirmations:   uint64(cfg.LedgerConfirmations),
		})
		if err != nil {
			return nil, err
		}
		log.Printf("ledger: chain %d contract %s signer %s", cfg.LedgerChainID, cfg.LedgerContractAddress, client.From().Hex())
		ledger, fees = client, client
	} else {
		log.Printf("ledger not configured; issuance will fail at ledger_submit")
		ledger, fees = evm.Unconfigured{}, evm.Unconfigured{}
	}

	orch := usecase.NewOrchestrator(requests, blobs, document.NewProcessor(), content, ledger, fees)
	orch.Events = events
	orch.VerifyBaseURL = cfg.VerifyBaseURL
	orch.StepTimeout = cfg.IssuanceStepTimeout
	orch.ConfirmTimeout = cfg.LedgerConfirmTimeout
	orch.PollInterval = cfg.LedgerPollInterval

	locker, err := buildLocker(cfg, orch.MaxRunDuration(), a)
	if err != nil {
		return nil, err
	}

	svc := usecase.NewRequestService(requests, blobs, events, content, locker, orch)
	svc.MaxDocumentBytes = cfg.MaxDocumentBytes
	if cfg.IssuancePolicyPath != "" {
		engine, err := policyopa.NewEngineFromPath(ctx, cfg.IssuancePolicyPath)
		if err != nil {
			return nil, err
		}
		svc.Policy = engine
	}
	a.requests = svc

	reconciler, err := scheduler.NewReconciler(svc, cfg.ReconcileSchedule, cfg.ReconcileTimeout)
	if err != nil {
		return nil, err
	}
	a.reconciler = reconciler
	return a, nil
}

func buildContentStore(cfg config.Config) (domain.ContentStore, error) {
	switch cfg.ContentStore {
	case "ipfs":
		return contentstore.NewIPFS(cfg.IPFSAPIURL, cfg.IPFSTimeout)
	case "oss":
		return contentstore.NewOSS(contentstore.OSSConfig{
			Endpoint:        cfg.OSSEndpoint,
			AccessKeyID:     cfg.OSSAccessKeyID,
			AccessKeySecret: cfg.OSSAccessKeySecret,
			Bucket:          cfg.OSSBucket,
			Prefix:          cfg.OSSPrefix,
		})
	case "memory", "":
		log.Printf("CONTENT_STORE=memory; issued documents are lost on restart")
		return contentstore.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported CONTENT_STORE %q", cfg.ContentStore)
	}
}

func buildLocker(cfg config.Config, maxRun time.Duration, a *app) (domain.Locker, error) {
	switch cfg.LeaseBackend {
	case "redis":
		locker, err := lease.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, leaseTTL(cfg.LeaseTTL, maxRun))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, locker.Close)
		return locker, nil
	case "memory", "":
		return lease.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported LEASE_BACKEND %q", cfg.LeaseBackend)
	}
}

// leaseTTL keeps an unrenewed lease alive for the longest possible run.
func leaseTTL(configured, maxRun time.Duration) time.Duration {
	if configured < maxRun {
		log.Printf("LEASE_TTL %s is shorter than the longest issuance run; using %s", configured, maxRun)
		return maxRun
	}
	return configured
}
