package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/translatebot/activitypub"
	"github.com/deemkeen/translatebot/db"
	"github.com/deemkeen/translatebot/queue"
	"github.com/deemkeen/translatebot/translate"
	"github.com/deemkeen/translatebot/util"
	"github.com/deemkeen/translatebot/web"
	"github.com/deemkeen/translatebot/worker"
	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var showVersion, printConfig bool

	flagSet := pflag.NewFlagSet(util.Name, pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ./config.yaml or ~/.config/translatebot/config.yaml)")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")
	flagSet.BoolVar(&printConfig, "print-config", false, "print the effective configuration and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Println(util.GetNameAndVersion())
		return nil
	}

	conf, err := util.ReadConf(configPath)
	if err != nil {
		return err
	}
	if printConfig {
		out, err := conf.YAML()
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	}
	if err := conf.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	logger := util.NewLogger(os.Stderr, conf.Conf.LogLevel, conf.Conf.LogColor)
	logger.Info("Starting", "version", util.GetNameAndVersion(), "domain", conf.Conf.SslDomain, "target", conf.Conf.TargetLanguage)
	if logger.GetLevel() > log.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	pair, created, err := util.LoadOrCreateKeyPair(
		util.ResolveFilePath(conf.Conf.PrivateKeyPath),
		util.ResolveFilePath(conf.Conf.PublicKeyPath),
		util.DefaultKeyBits)
	if err != nil {
		return err
	}
	if created {
		logger.Info("Generated a new key pair", "path", conf.Conf.PrivateKeyPath)
	}
	privateKey, err := activitypub.ParsePrivateKey(pair.Private)
	if err != nil {
		return fmt.Errorf("invalid private key: %w", err)
	}

	store, err := db.Open(util.ResolveFilePath(conf.Conf.DatabasePath), logger)
	if err != nil {
		return err
	}
	defer store.Close()

	outbox := activitypub.NewOutbox(conf.Conf.SslDomain, conf.Conf.BotUsername)
	deliverer := activitypub.NewDeliverer(nil, privateKey, outbox.KeyID())
	resolver := activitypub.NewResolver(nil, privateKey, outbox.KeyID(), conf.Conf.Actors.CacheSize, conf.Conf.Actors.CacheTtl)
	verifier := activitypub.NewVerifier(resolver, conf.Conf.Signature.MaxSkew)

	jobs := queue.New(conf.Conf.Queue.Capacity, conf.OverflowPolicy(), conf.Conf.Queue.PushWait)
	seen := queue.NewRecentSet(conf.Conf.Dedup.Capacity, conf.Conf.Dedup.Ttl)
	admission := activitypub.NewAdmission(activitypub.AdmissionConfig{
		BotID:   outbox.ActorID(),
		BotURLs: []string{outbox.ProfileURL()},
	}, store, jobs, seen, logger)

	acceptCtx, cancelAccepts := context.WithCancel(context.Background())
	defer cancelAccepts()
	acceptor := activitypub.NewAcceptor(acceptCtx, outbox, deliverer, conf.Conf.Retry.Accept, logger)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	pool := worker.Start(workerCtx, conf.Conf.Workers, jobs, worker.Deps{
		Gateway:   translate.NewGoogle(conf.Conf.Translate.Endpoint, conf.Conf.Translate.ApiKey, nil, conf.Conf.Translate.Timeout),
		Encoder:   outbox,
		Deliverer: deliverer,
		Followers: store,
	}, worker.Config{
		TargetLanguage:   conf.Conf.TargetLanguage,
		CallTimeout:      conf.Conf.Translate.Timeout,
		TranslationRetry: conf.Conf.Retry.Translation,
		DeliveryRetry:    conf.Conf.Retry.Delivery,
	}, logger)

	router := web.NewRouter(web.Deps{
		Outbox:    outbox,
		Auth:      verifier,
		Admission: admission,
		Acceptor:  acceptor,
		Followers: store,
		Health: func() any {
			return map[string]any{
				"queue":   jobs.Stats(),
				"workers": pool.Stats(),
				"dedup":   seen.Len(),
			}
		},
	}, web.Options{
		Domain:       conf.Conf.SslDomain,
		Username:     conf.Conf.BotUsername,
		DisplayName:  conf.Conf.BotDisplayName,
		Summary:      conf.Conf.BotSummary,
		PublicKeyPem: pair.Public,
		Version:      util.GetVersion(),
		RateLimit:    rate.Limit(conf.Conf.RateLimit.Rps),
		Burst:        conf.Conf.RateLimit.Burst,
	}, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", conf.Conf.Host, conf.Conf.HttpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-done:
		logger.Info("Shutting down", "signal", sig)
	case err := <-serveErr:
		logger.Error("HTTP server failed", "err", err)
	}

	shutdown(srv, jobs, pool, acceptor, cancelWorkers, cancelAccepts, conf.Conf.ShutdownGrace, logger)
	return nil
}

// shutdown stops admissions first, lets the workers drain the queue within
// grace, then cancels whatever is still running.
func shutdown(srv *http.Server, jobs *queue.Queue, pool *worker.Pool, acceptor *activitypub.Acceptor,
	cancelWorkers, cancelAccepts context.CancelFunc, grace time.Duration, logger *log.Logger) {
	if grace <= 0 {
		grace = 10 * time.Second
	}
	deadline := time.Now().Add(grace)

	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "err", err)
	}

	jobs.Close()
	select {
	case <-pool.Done():
	case <-time.After(time.Until(deadline)):
		logger.Warn("Grace period over, cancelling workers", "queued", jobs.Len())
		cancelWorkers()
	}
	pool.Wait()

	accepted := make(chan struct{})
	go func() {
		acceptor.Wait()
		close(accepted)
	}()
	select {
	case <-accepted:
	case <-time.After(time.Until(deadline)):
		cancelAccepts()
		<-accepted
	}
	logger.Info("Stopped")
}
