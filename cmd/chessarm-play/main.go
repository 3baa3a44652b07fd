package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/thyrook/chessarm/internal/board"
	"github.com/thyrook/chessarm/internal/config"
	"github.com/thyrook/chessarm/internal/game"
	"github.com/thyrook/chessarm/internal/gate"
	"github.com/thyrook/chessarm/internal/iface/logger"
	"github.com/thyrook/chessarm/internal/relay"
	"github.com/thyrook/chessarm/internal/robot"
	"github.com/thyrook/chessarm/internal/rules"
	"github.com/thyrook/chessarm/internal/server"
)

func main() {
	configPath := flag.String("config", "config.json", "Configuration file")
	opponentName := flag.String("opponent", "random", "Opponent: human or random")
	side := flag.String("color", "white", "Your color when playing the random opponent")
	withRobot := flag.Bool("robot", false, "Mirror moves on the robot")
	simulate := flag.Bool("simulate", false, "Use the simulated controller")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random opponent seed")
	httpAddr := flag.String("http", "", "Debug panel listen address (with -robot)")
	follow := flag.Bool("follow", false, "Play -color against another client sharing the relay file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Config failed: %v", err)
	}
	if *simulate {
		cfg.Serial.Simulate = true
	}
	if *httpAddr != "" {
		cfg.Interface.HTTPListen = *httpAddr
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("Failed to create directories: %v", err)
	}

	human := board.White
	if strings.HasPrefix(strings.ToLower(*side), "b") {
		human = board.Black
	}

	if *follow && *withRobot {
		log.Fatalf("-follow and -robot are exclusive; run chessarm next to the clients instead")
	}

	var opp opponent
	switch {
	case *follow:
	case *opponentName == "human":
	case *opponentName == "random":
		opp = randomOpponent{game.NewRandomMover(*seed)}
	default:
		log.Fatalf("Unknown opponent %q", *opponentName)
	}

	// the terminal is for the game; logs go to the file only
	zl := zap.NewNop()
	if cfg.Interface.LogPath != "" {
		zl, err = newFileLogger(cfg)
		if err != nil {
			log.Fatalf("Logger failed: %v", err)
		}
	}
	defer zl.Sync()

	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║  chessarm                                                 ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := game.Options{
		GateTimeout: cfg.Relay.GateTimeout.Duration(),
		Logger:      zl.Named("game"),
	}

	if *withRobot {
		shutdown, err := startRobot(ctx, cfg, zl, &opts)
		if err != nil {
			log.Fatalf("Robot failed: %v", err)
		}
		defer shutdown()
	}

	var session *game.Session
	if *follow {
		var shutdown func()
		session, opp, shutdown, err = startFollower(ctx, cfg, zl, opts, human)
		if err != nil {
			log.Fatalf("Relay failed: %v", err)
		}
		defer shutdown()
	} else {
		session = game.NewSession(opts)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		play(ctx, session, opp, human, os.Stdin)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		fmt.Println("\n🛑 Stopping...")
	}
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

func newFileLogger(cfg *config.Config) (*zap.Logger, error) {
	f, err := os.OpenFile(cfg.Interface.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return logger.NewWithWriter(cfg.Interface.LogLevel, f), nil
}

// startRobot runs the robot side in-process: the relay watcher executes each
// move and opens the gate the session waits on
func startRobot(ctx context.Context, cfg *config.Config, zl *zap.Logger, opts *game.Options) (func(), error) {
	fmt.Println("🤖 Connecting robot...")

	rig, err := robot.OpenRig(cfg, zl)
	if err != nil {
		return nil, err
	}
	rig.Choreographer.SetReferee(rules.NewGame())

	g := gate.New()
	watcher := relay.NewWatcher(relay.WatcherConfig{
		Path:         cfg.Relay.Path,
		PollInterval: cfg.Relay.PollInterval.Duration(),
		Handler:      rig.Choreographer.Execute,
		OnComplete:   func(relay.MoveCommand) { g.Set() },
		Logger:       zl.Named("relay"),
	})

	// a line left over from an earlier game is not replayed
	watcher.Poll()
	if err := watcher.Start(ctx); err != nil {
		rig.Close()
		return nil, err
	}

	var srv *server.Server
	if cfg.Interface.HTTPListen != "" {
		srv = server.New(server.Config{
			Choreographer: rig.Choreographer,
			Watcher:       watcher,
			Traffic:       rig.Channel,
			Logger:        zl.Named("http"),
		})
		go func() {
			if err := srv.Listen(cfg.Interface.HTTPListen); err != nil {
				zl.Error("Debug panel stopped", zap.Error(err))
			}
		}()
		fmt.Printf("🔎 Debug panel on %s\n", cfg.Interface.HTTPListen)
	}

	opts.Publisher = relay.NewWriter(cfg.Relay.Path)
	opts.Gate = g

	fmt.Println("✅ Robot ready")
	fmt.Println()

	return func() {
		if srv != nil {
			srv.Shutdown(time.Second)
		}
		if err := watcher.Stop(5 * time.Second); err != nil {
			zl.Warn("Relay watcher did not stop", zap.Error(err))
		}
		rig.Close()
	}, nil
}

// startFollower shares the relay file with another client: local moves are
// written to it and the opponent's lines are applied as they appear. The
// watcher also sees the local lines, which confirm that a write landed.
func startFollower(ctx context.Context, cfg *config.Config, zl *zap.Logger, opts game.Options, local board.Color) (*game.Session, opponent, func(), error) {
	g := gate.New()
	opts.Publisher = relay.NewWriter(cfg.Relay.Path)
	opts.Gate = g

	session := game.NewSession(opts)
	follower := game.NewFollower(session, local, zl.Named("follow"))

	watcher := relay.NewWatcher(relay.WatcherConfig{
		Path:         cfg.Relay.Path,
		PollInterval: cfg.Relay.PollInterval.Duration(),
		Handler:      follower.Handle,
		OnComplete:   func(relay.MoveCommand) { g.Set() },
		Logger:       zl.Named("relay"),
	})
	watcher.Poll()
	if err := watcher.Start(ctx); err != nil {
		return nil, nil, nil, err
	}

	fmt.Printf("🔗 Playing %s through %s\n", local, cfg.Relay.Path)

	return session, remoteOpponent{follower}, func() {
		if err := watcher.Stop(5 * time.Second); err != nil {
			zl.Warn("Relay watcher did not stop", zap.Error(err))
		}
	}, nil
}

// opponent plays the side the terminal user does not
type opponent interface {
	Move(ctx context.Context, s *game.Session) (game.Result, error)
}

type randomOpponent struct {
	mover *game.RandomMover
}

func (o randomOpponent) Move(ctx context.Context, s *game.Session) (game.Result, error) {
	move, err := o.mover.Choose(s.Game())
	if err != nil {
		return game.Result{}, err
	}
	fmt.Printf("🎲 %s plays %s\n", s.Game().Turn(), move)
	return s.Submit(move)
}

type remoteOpponent struct {
	follower *game.Follower
}

func (o remoteOpponent) Move(ctx context.Context, s *game.Session) (game.Result, error) {
	fmt.Println("⏳ Waiting for the opponent...")
	res, err := o.follower.Next(ctx)
	if err != nil {
		return game.Result{}, err
	}
	fmt.Printf("📨 %s plays %s\n", res.Command.Color, res.Command.Move)
	return res, nil
}

func play(ctx context.Context, s *game.Session, opp opponent, human board.Color, in io.Reader) {
	input := bufio.NewScanner(in)
	g := s.Game()

	printHelp()
	fmt.Println(render(g.Occupancy()))

	for ctx.Err() == nil {
		turn := g.Turn()

		var (
			res game.Result
			err error
		)
		if opp != nil && turn != human {
			if res, err = opp.Move(ctx, s); err != nil {
				return
			}
		} else {
			fmt.Printf("%s> ", turn)
			if !input.Scan() {
				return
			}
			line := strings.TrimSpace(input.Text())

			switch line {
			case "":
				continue
			case "quit", "exit":
				return
			case "help":
				printHelp()
				continue
			case "board":
				fmt.Println(render(g.Occupancy()))
				continue
			case "fen":
				fmt.Println(g.FEN())
				continue
			case "moves":
				fmt.Println(strings.Join(g.LegalMoves(), " "))
				continue
			}
			if res, err = s.Submit(line); err != nil {
				fmt.Printf("❌ %v\n", err)
				continue
			}
		}

		if res.Command.Capture {
			fmt.Println("💥 Capture")
		}

		fmt.Println(render(g.Occupancy()))

		if res.Over() {
			fmt.Printf("🏁 %s (%s)\n", res.Outcome, res.Method)
			return
		}
	}
}

func printHelp() {
	fmt.Println("Enter moves in UCI notation (e2e4, e7e8q).")
	fmt.Println("Commands: board, fen, moves, help, quit")
	fmt.Println()
}

// render draws the position with white at the bottom
func render(squares map[board.Square]board.Piece) string {
	var sb strings.Builder
	for rank := 7; rank >= 0; rank-- {
		fmt.Fprintf(&sb, "%d ", rank+1)
		for file := 0; file < 8; file++ {
			sq, _ := board.NewSquare(file, rank)
			if p, ok := squares[sq]; ok {
				sb.WriteString(p.Symbol())
			} else {
				sb.WriteByte('.')
			}
			sb.WriteByte(' ')
		}
		sb.WriteByte('\n')
	}
	sb.WriteString("  a b c d e f g h\n")
	return sb.String()
}
