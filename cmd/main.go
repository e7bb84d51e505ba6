package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gioleppe/Word-Quizzle/internal/adapters"
	"github.com/gioleppe/Word-Quizzle/internal/bootstrap"
	"github.com/gioleppe/Word-Quizzle/internal/codec"
	"github.com/gioleppe/Word-Quizzle/internal/handlers"
	"github.com/gioleppe/Word-Quizzle/internal/logging"
	"github.com/gioleppe/Word-Quizzle/internal/match"
	"github.com/gioleppe/Word-Quizzle/internal/presence"
	"github.com/gioleppe/Word-Quizzle/internal/reactor"
	"github.com/gioleppe/Word-Quizzle/internal/registration"
	"github.com/gioleppe/Word-Quizzle/internal/store"
	"github.com/gioleppe/Word-Quizzle/internal/wordsource"
	"github.com/gioleppe/Word-Quizzle/internal/workerpool"
)

func main() {
	logger := NewLogger()
	cfg, err := bootstrap.Setup(".env")
	if err != nil {
		logger.Error("Failed to setup configuration", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go handleShutdown(cancel, logger)

	userStore, closeStore := initUserStore(ctx, logger, *cfg)
	defer closeStore()

	words := initWordSource(ctx, logger, *cfg)

	presenceRegistry := presence.New()
	h := handlers.New(userStore, presenceRegistry)
	pool := workerpool.New(cfg.WorkerPoolSize, 256, logger)
	defer pool.Stop()
	orchestrator := match.New(h, presenceRegistry, words, pool, cfg.AcceptTimer(), cfg.MatchTimer(), cfg.MatchWords, logger)

	go runRegistrationServer(*cfg, h, logger)
	runSessionServer(ctx, *cfg, h, orchestrator, pool, logger)
}

func NewLogger() *zap.SugaredLogger {
	return logging.New(false)
}

type storeCloser func()

func initUserStore(ctx context.Context, log *zap.SugaredLogger, cfg bootstrap.Config) (store.UserStore, storeCloser) {
	if cfg.StoreBackend == "mongo" {
		mongoAdapter := adapters.NewAdapterMongo(&cfg)
		if err := mongoAdapter.Init(ctx, log); err != nil {
			log.Fatal("Failed to initialize MongoDB", zap.Error(err))
		}
		return store.NewMongoUserStore(mongoAdapter), func() { mongoAdapter.Close(context.Background()) }
	}

	fileStore, err := store.NewFileUserStore(cfg.DatabasePath, log)
	if err != nil {
		log.Fatal("Failed to open file user store", zap.Error(err))
	}
	return fileStore, func() { fileStore.Close() }
}

// initWordSource picks the built-in dictionary unless a translation oracle
// is configured, mirroring the reference deployment's local-first default.
func initWordSource(ctx context.Context, log *zap.SugaredLogger, cfg bootstrap.Config) wordsource.Source {
	if cfg.WordOracleURL == "" {
		return wordsource.NewLocalSource(1)
	}

	redisAdapter := adapters.NewAdapterRedis(&cfg)
	if err := redisAdapter.Init(ctx, log); err != nil {
		log.Fatal("Failed to initialize Redis", zap.Error(err))
	}

	candidates := []string{
		"casa", "cane", "gatto", "albero", "sole", "luna", "acqua", "fuoco",
		"libro", "strada", "finestra", "porta", "tavolo", "sedia", "montagna",
		"fiume", "mare", "cielo", "stella", "fiore",
	}
	return wordsource.NewRemoteSource(cfg.WordOracleURL, candidates, redisAdapter.GetClient(), log, 1)
}

func runRegistrationServer(cfg bootstrap.Config, h *handlers.Handlers, log *zap.SugaredLogger) {
	regHandler := registration.NewHandler(h, log)
	log.Infof("Registration front door is running on %s", cfg.RegistrationAddr)
	if err := http.ListenAndServe(cfg.RegistrationAddr, regHandler.Router()); err != nil {
		log.Fatal("Failed to start registration server", zap.Error(err))
	}
}

func runSessionServer(ctx context.Context, cfg bootstrap.Config, h *handlers.Handlers, orchestrator *match.Orchestrator, pool *workerpool.Pool, log *zap.SugaredLogger) {
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Fatal("Failed to listen", zap.String("addr", cfg.ListenAddr), zap.Error(err))
	}
	tcpLn := ln.(*net.TCPListener)

	var r *reactor.Reactor
	onRequest := func(conn *reactor.Connection, line string) {
		req, parseErr := codec.Parse(line)
		if parseErr != nil {
			pool.Submit(func() {
				r.WriteReply(conn, codec.EncodeLine("Error: "+parseErr.Error()))
				r.Rearm(conn)
			})
			return
		}
		pool.Submit(func() { dispatch(r, conn, req, h, orchestrator, log) })
	}
	onCrash := func(conn *reactor.Connection) {
		connID := connIdentity(conn)
		pool.Submit(func() { h.Logout(connID, true) })
	}

	r, err = reactor.New(tcpLn, onRequest, onCrash, log)
	if err != nil {
		log.Fatal("Failed to start reactor", zap.Error(err))
	}

	go func() {
		<-ctx.Done()
		r.Stop()
		tcpLn.Close()
	}()

	log.Infof("Session server is running on %s", cfg.ListenAddr)
	if err := r.Run(); err != nil {
		log.Error("Reactor stopped", zap.Error(err))
	}
}

// connIdentity stands in for the original's source-port connection key: the
// reactor's accepted file descriptor is just as unique for the connection's
// lifetime, and the reactor already keys its own connection map by it.
func connIdentity(conn *reactor.Connection) string {
	return strconv.Itoa(conn.FD)
}

func dispatch(r *reactor.Reactor, conn *reactor.Connection, req codec.Request, h *handlers.Handlers, orchestrator *match.Orchestrator, log *zap.SugaredLogger) {
	ctx := context.Background()
	connID := connIdentity(conn)

	var reply string
	closeAfter := false

	switch req.Op {
	case codec.OpLogin:
		reply = handleLogin(ctx, h, conn, connID, req.Args)
	case codec.OpLogout:
		reply = h.Logout(connID, false)
		closeAfter = true
	case codec.OpAddFriend:
		reply = h.AddFriend(ctx, requireNickname(h, connID), req.Args[0])
	case codec.OpFriendList:
		reply = h.FriendList(ctx, requireNickname(h, connID))
	case codec.OpScore:
		reply = h.Score(ctx, requireNickname(h, connID))
	case codec.OpScoreboard:
		reply = h.Scoreboard(ctx, requireNickname(h, connID))
	case codec.OpMatch:
		reply = orchestrator.Challenge(ctx, requireNickname(h, connID), req.Args[0])
	default:
		reply = "Error: unknown request."
	}

	if err := r.WriteReply(conn, codec.EncodeLine(reply)); err != nil {
		log.Warn("Failed to write reply", zap.Int("fd", conn.FD), zap.Error(err))
	}

	if closeAfter {
		r.Close(conn)
		return
	}
	r.Rearm(conn)
}

func handleLogin(ctx context.Context, h *handlers.Handlers, conn *reactor.Connection, connID string, args []string) string {
	nickname, password, udpPortStr := args[0], args[1], args[2]
	udpPort, err := strconv.Atoi(udpPortStr)
	if err != nil {
		return fmt.Sprintf("Login error: invalid udp port %q.", udpPortStr)
	}

	remoteTCP, ok := conn.Remote.(*net.TCPAddr)
	if !ok {
		return "Login error: internal error."
	}
	endpoint := &net.UDPAddr{IP: remoteTCP.IP, Port: udpPort}

	return h.Login(ctx, connID, nickname, password, endpoint)
}

// requireNickname resolves the caller's nickname for opcodes that require an
// active session. An unbound connection resolves to "", which every handler
// except FriendList reports as an unknown user; FriendList replies with its
// no-friends line.
func requireNickname(h *handlers.Handlers, connID string) string {
	nickname, _ := h.Presence.NicknameOf(connID)
	return nickname
}

func handleShutdown(cancelFunc context.CancelFunc, log *zap.SugaredLogger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	log.Info("Received shutdown signal")
	cancelFunc()
	time.Sleep(1 * time.Second)
}
