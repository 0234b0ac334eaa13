package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pleblottery/pleblottery/internal/bitcoin"
	"github.com/pleblottery/pleblottery/internal/config"
	"github.com/pleblottery/pleblottery/internal/coordinator"
	"github.com/pleblottery/pleblottery/internal/metrics"
	"github.com/pleblottery/pleblottery/internal/sv2/noise"
	"github.com/pleblottery/pleblottery/internal/tdclient"
	"github.com/pleblottery/pleblottery/internal/transport"
	"github.com/pleblottery/pleblottery/internal/web"
)

func main() {
	log.Println("starting pleblottery...")

	configPath := flag.String("config", "config.toml", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	coord, err := buildCoordinator(cfg)
	if err != nil {
		log.Fatalf("building mining coordinator: %v", err)
	}

	staticKey, err := loadStaticKey(cfg)
	if err != nil {
		log.Fatalf("loading noise keypair: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dispatcher := transport.NewDispatcher(coord)
	server := transport.NewServer(transport.ServerConfig{
		ListenAddr:      fmt.Sprintf(":%d", cfg.MiningServer.ListeningPort),
		StaticKey:       staticKey,
		CertValidity:    time.Duration(cfg.MiningServer.CertValidity) * time.Second,
		InactivityLimit: time.Duration(cfg.MiningServer.InactivityLimit) * time.Second,
	}, dispatcher)

	webServer := web.NewServer(web.ServerConfig{
		Port:        int(cfg.Web.ListeningPort),
		Environment: os.Getenv("PLEBLOTTERY_ENV"),
	}, coord.State())

	metricsServer := metrics.NewServer(":9090", metrics.NewCollector(coord.State()))

	go runUntilShutdown("mining server", ctx, func() error { return server.Serve(ctx) })
	go runUntilShutdown("web dashboard", ctx, func() error { return webServer.Run(ctx) })
	go runUntilShutdown("metrics endpoint", ctx, func() error { return metricsServer.Run(ctx) })
	go runTemplateDistributionClient(ctx, cfg, coord, dispatcher)

	<-ctx.Done()
	log.Println("shutting down...")
	server.Close()
	log.Println("pleblottery stopped")
}

func buildCoordinator(cfg *config.Config) (*coordinator.MiningCoordinator, error) {
	destinationScript, err := cfg.DestinationScript()
	if err != nil {
		return nil, err
	}

	extranonce, err := coordinator.NewExtendedExtranonce(cfg.MiningServer.CoinbaseTag)
	if err != nil {
		return nil, fmt.Errorf("building extranonce allocator: %w", err)
	}

	coordCfg := coordinator.DefaultCoordinatorConfig()
	coordCfg.CoinbaseTag = cfg.MiningServer.CoinbaseTag
	coordCfg.DestinationScript = destinationScript
	coordCfg.ShareBatchSize = cfg.MiningServer.ShareBatchSize
	coordCfg.ExpectedSharesPerMinute = cfg.MiningServer.ExpectedSharesPerMinute
	if cfg.MiningServer.MaxAdditionalSize > 0 {
		coordCfg.MaxAdditionalSize = cfg.MiningServer.MaxAdditionalSize
	}
	if cfg.MiningServer.MaxAdditionalSigops > 0 {
		coordCfg.MaxAdditionalSigops = cfg.MiningServer.MaxAdditionalSigops
	}

	return coordinator.NewMiningCoordinator(coordCfg, extranonce), nil
}

// loadStaticKey decodes the base58 Noise static keypair config.toml
// carries as mining_server.pub_key/priv_key.
func loadStaticKey(cfg *config.Config) (*noise.KeyPair, error) {
	priv, err := bitcoin.DecodeBase58(cfg.MiningServer.PrivKey)
	if err != nil {
		return nil, fmt.Errorf("decoding priv_key: %w", err)
	}
	pub, err := bitcoin.DecodeBase58(cfg.MiningServer.PubKey)
	if err != nil {
		return nil, fmt.Errorf("decoding pub_key: %w", err)
	}
	if len(priv) != noise.DHKeySize || len(pub) != noise.DHKeySize {
		return nil, fmt.Errorf("noise keypair must decode to %d bytes each", noise.DHKeySize)
	}
	var kp noise.KeyPair
	copy(kp.PrivateKey[:], priv)
	copy(kp.PublicKey[:], pub)
	return &kp, nil
}

// runTemplateDistributionClient dials the upstream Template Provider and
// keeps redialing on disconnect until ctx is cancelled, since a dropped
// upstream connection is the one failure this service must survive
// without operator intervention (spec §4.3's bridge is this process's
// only source of new work).
func runTemplateDistributionClient(ctx context.Context, cfg *config.Config, coord *coordinator.MiningCoordinator, sink tdclient.DownstreamSink) {
	var expectedStatic []byte
	if cfg.TemplateDistribution.AuthPK != "" {
		decoded, err := bitcoin.DecodeBase58(cfg.TemplateDistribution.AuthPK)
		if err != nil {
			log.Fatalf("decoding template_distribution.auth_pk: %v", err)
		}
		expectedStatic = decoded
	}

	handler := tdclient.NewHandler(coord)
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := tdclient.Dial(cfg.TemplateDistribution.ServerAddr, expectedStatic)
		if err != nil {
			log.Printf("template provider connection failed: %v (retrying in %s)", err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		log.Printf("connected to template provider at %s", cfg.TemplateDistribution.ServerAddr)
		done := make(chan struct{})
		go func() {
			if err := conn.Run(handler, sink); err != nil {
				log.Printf("template provider connection lost: %v", err)
			}
			close(done)
		}()

		select {
		case <-ctx.Done():
			conn.Close()
			<-done
			return
		case <-done:
			conn.Close()
		}
	}
}

func runUntilShutdown(name string, ctx context.Context, run func() error) {
	if err := run(); err != nil {
		select {
		case <-ctx.Done():
			// expected: shutdown already in progress
		default:
			log.Printf("%s exited with error: %v", name, err)
		}
	}
}
