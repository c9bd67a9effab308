package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leochame/lavis/internal/actuator"
	"github.com/leochame/lavis/internal/chat"
	"github.com/leochame/lavis/internal/executor"
	"github.com/leochame/lavis/internal/gateway"
	"github.com/leochame/lavis/internal/httpapi"
	"github.com/leochame/lavis/internal/memory"
	"github.com/leochame/lavis/internal/orchestrator"
	"github.com/leochame/lavis/internal/push"
	"github.com/leochame/lavis/internal/scheduler"
	"github.com/leochame/lavis/internal/screen"
	"github.com/leochame/lavis/internal/skills"
	"github.com/leochame/lavis/internal/store"
	"github.com/leochame/lavis/internal/tts"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agent HTTP/WebSocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

// dispatcherAdapter implements scheduler.Dispatcher by routing agent: tasks
// through the orchestrator and shell:/bare tasks through the actuator
// (spec §4.10).
type dispatcherAdapter struct {
	orchestrator *orchestrator.TaskOrchestrator
	actuator     *actuator.SystemActuator
	shellTimeout time.Duration
}

func (d *dispatcherAdapter) RunAgentGoal(ctx context.Context, goal string) error {
	_, err := d.orchestrator.RunGoal(ctx, goal, "")
	return err
}

func (d *dispatcherAdapter) RunShell(ctx context.Context, cmd string) (string, error) {
	ok, out, _, errMsg := d.actuator.ShellExec(ctx, cmd, d.shellTimeout)
	if !ok {
		return out, fmt.Errorf("shell command failed: %s", errMsg)
	}
	return out, nil
}

// gatewayEmbedder adapts ModelGateway's configured embedding alias to
// skills.Embedder.
type gatewayEmbedder struct {
	gw *gateway.ModelGateway
}

func (e gatewayEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.gw.Embed(ctx, text)
}

func runServe(ctx context.Context) error {
	gw := gateway.New(cfg.Models)
	scr := screen.New(screen.NewDefaultCapturer())
	act := actuator.New(cfg.Actuator, actuator.NewExecBackend())
	pushBus := push.New()

	st, err := store.Open(storeDBPath(), cfg.Store.BackupRetain, cfg.Store.BackupHourUTC)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	screenW, screenH := probeScreenSize(ctx, scr)

	reg := skills.New(cfg.Skills.Root, act, st)
	if cfg.Models.DefaultEmbedding != "" {
		reg.SetEmbedder(gatewayEmbedder{gw: gw})
	}
	if err := reg.Load(ctx); err != nil {
		return fmt.Errorf("load skills: %w", err)
	}
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	if err := reg.Watch(watchCtx); err != nil {
		log.Warn("skill hot reload disabled", zap.Error(err))
	}
	defer reg.Close()

	exec := executor.New(executor.Deps{
		Screen: scr, Gateway: gw, Actuator: act, Push: pushBus, Tools: reg,
		ModelAlias: cfg.Models.DefaultChat, ScreenW: screenW, ScreenH: screenH,
	})
	orch := orchestrator.New(gw, exec, pushBus, cfg.Models.DefaultChat)

	ttsGate := tts.NewGate(gw, cfg.Models.DefaultChat)
	asyncTts := tts.New(gw, pushBus, cfg.Models.DefaultTTS, "", "mp3")

	chatSvc := chat.New(chat.Deps{
		Gateway: gw, Screen: scr, Actuator: act, Push: pushBus,
		Orchestrator: orch, TurnMemory: memory.New(20),
		TtsGate: ttsGate, AsyncTts: asyncTts, ModelAlias: cfg.Models.DefaultChat,
		ScreenW: screenW, ScreenH: screenH,
	})

	sched := scheduler.New(st, &dispatcherAdapter{
		orchestrator: orch, actuator: act,
		shellTimeout: time.Duration(cfg.Actuator.ShellTimeoutSec) * time.Second,
	})
	if err := sched.LoadAndStart(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Chat: chatSvc, Orchestrator: orch, Skills: reg, Scheduler: sched,
		Push: pushBus, Screen: scr, Gateway: gw, Store: st, ModelAlias: cfg.Models.DefaultChat,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("serving", zap.Int("port", cfg.Server.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// probeScreenSize captures one frame to learn the display's logical
// resolution, falling back to a conservative default if capture fails
// (e.g. screen-recording permission not yet granted).
func probeScreenSize(ctx context.Context, scr *screen.ScreenSource) (int, int) {
	frame := scr.Capture(ctx)
	if frame.Error != screen.ErrorNone {
		log.Warn("could not determine screen size, using default", zap.String("tag", string(frame.Error)))
		return 1920, 1080
	}
	return frame.LogicalWidth, frame.LogicalHeight
}

func storeDBPath() string {
	dir := cfg.Store.DataDir
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = home + "/.lavis"
	}
	return dir + "/lavis.db"
}
