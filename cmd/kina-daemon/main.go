package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	cli "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	log "log/slog"

	"kina/internal/action"
	"kina/internal/appindex"
	"kina/internal/audio"
	"kina/internal/config"
	"kina/internal/decision"
	"kina/internal/events"
	"kina/internal/ipc"
	"kina/internal/journal"
	"kina/internal/llm"
	"kina/internal/metrics"
	"kina/internal/notify"
	"kina/internal/osctl"
	"kina/internal/server"
	"kina/internal/session"
	"kina/internal/tts"
	"kina/internal/wake"
	"kina/pkg/audioconv"
	"kina/pkg/stt"
	"kina/pkg/stt/whispercpp"
)

func main() {
	config.Flags(cli.CommandLine)
	cli.Parse()

	cfg, err := config.Load(cli.CommandLine)

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      config.LogLevel(cfg.LogLevel),
		TimeFormat: time.TimeOnly,
	})))

	if err != nil {
		log.Error("Invalid configuration", "err", err)
		os.Exit(1)
	}

	log.Info("Booting up")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error("Daemon stopped", "err", err)
		os.Exit(1)
	}
	log.Info("Bye")
}

func run(ctx context.Context, cfg config.Config) error {
	mode := decision.Mode(cfg.Decision.Mode)

	var model llm.Model
	if mode != decision.ModeRules {
		if cfg.LLM.APIKey == "" {
			return errors.New("OPENAI_API_KEY not set (or use decision.mode=rules)")
		}
		m, err := llm.NewOpenAI(cfg.LLM)
		if err != nil {
			return fmt.Errorf("language model: %w", err)
		}
		model = m
		log.Debug("Loaded language model", "model", cfg.LLM.Model, "proxy", cfg.LLM.Proxy)
	}

	index, err := appindex.Open(ctx, cfg.Apps.IndexPath, appindex.DefaultScanner(), appindex.Options{
		Threshold: cfg.Apps.FuzzyThreshold,
		Builtins:  appindex.DefaultBuiltins(),
	})
	if err != nil {
		return fmt.Errorf("application index: %w", err)
	}
	log.Info("Loaded application index", "apps", index.Len(), "path", cfg.Apps.IndexPath)

	m := metrics.New()
	dispatcher := action.New(index, osctl.Default(), model, cfg.Actions, action.WithObserver(m.ObserveAction))

	newDecider := func() session.Decider {
		return decision.New(model,
			decision.WithMode(mode),
			decision.WithTimeout(cfg.LLM.Timeout),
			decision.WithIdleReset(cfg.Decision.IdleReset),
		)
	}

	rec := audio.NewRecorder()
	if err := rec.Init(); err != nil {
		return fmt.Errorf("init audio: %w", err)
	}
	defer rec.Close()
	log.Debug("Loaded recorder")

	whisper, err := whispercpp.NewTranscriber(cfg.STT.ModelPath)
	if err != nil {
		return fmt.Errorf("init whisper: %w", err)
	}
	defer whisper.Close()
	transcriber := stt.NewService(whisper, stt.Options{Language: cfg.STT.Language, Threads: cfg.STT.Threads}, cfg.STT.Timeout)
	log.Debug("Loaded whisper", "model", cfg.STT.ModelPath)

	var synth tts.Synthesizer = tts.Espeak{Voice: cfg.TTS.Voice}
	if cfg.TTS.Provider == "xtts" {
		synth = tts.Fallback{
			Primary:   tts.NewXTTS(cfg.TTS.URL, cfg.TTS.SpeakerWav, cfg.TTS.Language, cfg.TTS.Timeout),
			Secondary: synth,
		}
	}

	hub := events.NewHub()
	defer hub.Close()
	observers := session.Observers{hub, m}

	var cycles server.Cycles
	if cfg.Journal.Path != "" {
		j, err := journal.Open(ctx, cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		defer j.Close()
		observers = append(observers, j.Observer())
		cycles = j
	}
	if cfg.Notify.Desktop {
		observers = append(observers, notify.Desktop{Title: "Kina"}.Observer())
	}

	voice := newDecider()
	deps := session.Deps{
		Ack:         notify.Tone{Hz: cfg.Notify.ToneHz, Duration: cfg.Notify.ToneDuration, SoundFile: cfg.Notify.SoundFile},
		Capture:     audio.Capture{Rec: rec, Auto: cfg.Capture.Mode == "auto", Duration: cfg.Capture.Duration},
		Transcriber: transcriber,
		Decider:     voice,
		Executor:    dispatcher,
		Synthesizer: synth,
		Player:      audio.Player{},
		Observer:    observers,
	}
	if cfg.Capture.KeepDir != "" {
		deps.Archive = audioconv.Archive{Dir: cfg.Capture.KeepDir}
	}
	if cfg.Playback.Duck {
		deps.Ducker = audio.NewDucker([]string{"kina", "kina-daemon"}, 5, 150*time.Millisecond)
	}
	controller := session.NewController(deps, session.Options{
		OutputDir:  cfg.TTS.OutputDir,
		DuckFactor: cfg.Playback.DuckFactor,
		Timeouts: session.Timeouts{
			Act:        cfg.Actions.Timeout,
			Synthesize: cfg.TTS.Timeout,
			Play:       2 * time.Minute,
		},
	})

	sessions := session.NewManager(newDecider, cfg.HTTP.SessionTTL)
	triggers := make(chan session.Trigger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		controller.Run(ctx, triggers)
		return nil
	})

	g.Go(func() error {
		return ipc.Serve(ctx, cfg.IPC.Socket, control(controller, voice, dispatcher, index, sessions, triggers))
	})

	switch cfg.Wake.Mode {
	case "phrase":
		l := &wake.Listener{
			Spotter: wake.NewPhrase(cfg.Wake.Phrases, transcriber),
			Open: func(rate, n int) (wake.FrameSource, error) {
				return audio.OpenFrames(rate, n)
			},
			Cooldown: 2 * time.Second,
			Skip:     controller.Busy,
		}
		g.Go(func() error { return keepAlive(ctx, "wake listener", l.Run, triggers) })
	case "command":
		c := wake.Command{Args: cfg.Wake.Command}
		g.Go(func() error { return keepAlive(ctx, "wake command", c.Run, triggers) })
	}

	if cfg.HTTP.Addr != "" {
		api := server.New(server.Deps{
			Transcriber: transcriber,
			Synthesizer: synth,
			Sessions:    sessions,
			Executor:    dispatcher,
			Apps:        index,
			Cycles:      cycles,
			Events:      hub,
			Metrics:     m.Handler(),
			Counter: func(endpoint string, code int) {
				m.HTTPRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
			},
			State:   controller.State,
			TempDir: cfg.TTS.OutputDir,
		})
		g.Go(func() error { return api.Run(ctx, cfg.HTTP.Addr) })
	}

	log.Info("Boot up - successful", "wake", cfg.Wake.Mode, "decision", mode, "socket", cfg.IPC.Socket)
	return g.Wait()
}

// keepAlive restarts a wake source after a failure. Wake sources are
// optional; the control socket keeps working without them.
func keepAlive(ctx context.Context, name string, run func(context.Context, chan<- session.Trigger) error, out chan<- session.Trigger) error {
	backoff := time.Second
	for {
		err := run(ctx, out)
		if ctx.Err() != nil {
			return nil
		}
		log.Error("Wake source stopped", "source", name, "err", err, "retry", backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, time.Minute)
	}
}

func control(c *session.Controller, voice session.Decider, exec session.Executor, index *appindex.Index, sessions *session.Manager, triggers chan<- session.Trigger) ipc.Handler {
	return func(ctx context.Context, req ipc.Request) ipc.Reply {
		switch req.Cmd {
		case ipc.CmdTrigger:
			if c.Busy() {
				return ipc.Fail("A cycle is already running.")
			}
			select {
			case triggers <- session.Trigger{Origin: "ipc", At: time.Now()}:
				return ipc.Reply{OK: true, Message: "Listening..."}
			case <-time.After(time.Second):
				return ipc.Fail("Session controller is not accepting triggers.")
			case <-ctx.Done():
				return ipc.Fail("Shutting down.")
			}

		case ipc.CmdReset:
			c.Reset()
			return ipc.Reply{OK: true, Message: "Conversation cleared."}

		case ipc.CmdRebuild:
			n, err := index.Rebuild(ctx)
			if err != nil {
				return ipc.Fail("Rebuild failed: %v", err)
			}
			return ipc.Reply{OK: true, Message: fmt.Sprintf("Indexed %d applications.", n), Data: map[string]any{"count": n}}

		case ipc.CmdAsk:
			if req.Text == "" {
				return ipc.Fail("Nothing to ask.")
			}
			reply := session.Respond(ctx, voice, exec, req.Text)
			rep := ipc.Reply{OK: true, Message: reply.Response}
			if reply.Action != nil {
				rep.OK = reply.Action.OK()
				rep.Data = map[string]any{"action": reply.Action.Action, "status": string(reply.Action.Status)}
			}
			return rep

		case ipc.CmdStatus:
			return ipc.Reply{OK: true, Message: c.State().String(), Data: map[string]any{
				"busy":     c.Busy(),
				"apps":     index.Len(),
				"sessions": sessions.Len(),
				"history":  len(voice.History()),
			}}
		}
		return ipc.Fail("Unknown command %q.", req.Cmd)
	}
}
