package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/config"
	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/detect"
	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/flight"
	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/mission"
	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/missionlog"
	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/orchestrator"
	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/photocapture"
	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/safety"
	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/storage"
	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/vision"
)

// keepAliveEvery is well under the vehicle's 15s inactivity failsafe.
const keepAliveEvery = 10 * time.Second

// Synthetic camera geometry for simulated runs. The QR tag sits in the top
// left corner, clear of the central region the obstacle check watches. The
// frame rate must stay well under the hover delay so the previous stop's
// tag is off screen before identification starts.
const (
	simFrameEvery = 50 * time.Millisecond
	simSceneSize  = 480
	simTagSize    = 128
	simTagOffset  = 8
)

var flyFlags struct {
	mission   string
	waypoints string
	addr      string
	output    string
	db        string
	simulate  bool
}

var flyCmd = &cobra.Command{
	Use:   "fly",
	Short: "Fly the configured inspection mission",
	Long: `Fly loads the mission configuration, wires the vehicle, camera, safety
monitor and photo pipeline together and runs the mission to completion.

Usage:
  inspector fly --simulate --waypoints plan.yaml    # Simulated end-to-end run
  inspector fly --mission mission.yaml --db runs.db # Real vehicle, recorded

SIGINT or SIGTERM cancels the mission; an airborne vehicle lands before the
process exits. With --simulate a synthetic camera serves each stop's QR tag
so identification and photos exercise the full pipeline. On a real vehicle
the video stream is not decoded; stops identify as the fallback label until
a camera feed is wired in.`,
	Args: cobra.NoArgs,
	RunE: runFly,
}

func init() {
	f := flyCmd.Flags()
	f.StringVarP(&flyFlags.mission, "mission", "m", "", "Mission config YAML (defaults apply when omitted)")
	f.StringVar(&flyFlags.waypoints, "waypoints", "", "Standalone flight plan YAML, replaces the config's mission section")
	f.StringVar(&flyFlags.addr, "addr", flight.DefaultTelloAddr, "Vehicle command address")
	f.StringVarP(&flyFlags.output, "output", "o", "", "Photo output directory, overrides photo.output_dir")
	f.StringVar(&flyFlags.db, "db", "", "SQLite mission record path (in-memory record when omitted)")
	f.BoolVar(&flyFlags.simulate, "simulate", false, "Fly a simulated vehicle with a synthetic camera")
}

func runFly(cmd *cobra.Command, args []string) error {
	cfg, err := loadMissionConfig(flyFlags.mission, flyFlags.waypoints)
	if err != nil {
		return err
	}
	if flyFlags.output != "" {
		cfg.Photo.OutputDir = flyFlags.output
	}
	if len(cfg.Mission.Waypoints) == 0 {
		return fmt.Errorf("no waypoints configured, pass --mission or --waypoints")
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.New()
	var wg sync.WaitGroup

	var ctrl flight.Controller
	if flyFlags.simulate {
		logger.Info("flying a simulated vehicle")
		ctrl = flight.NewSimulator(clk, logger.Named("sim"))
	} else {
		tello, err := flight.DialTello(ctx, flyFlags.addr, cfg.Flight.CommandTimeout(), logger.Named("tello"))
		if err != nil {
			return fmt.Errorf("vehicle link: %w", err)
		}
		defer tello.Close()
		tello.KeepAlive(ctx, &wg, keepAliveEvery)
		ctrl = tello
	}

	nav := flight.NewNavigator(ctrl, clk, logger.Named("nav"), navConfig(cfg.Flight))
	nav.LoadPlan(cfg.Waypoints())

	feed := vision.NewFeed(clk, cfg.Safety.FrameMaxAge())
	monitor := safety.NewMonitor(feed, nil, safetyConfig(cfg.Safety), clk, logger.Named("safety"))
	ident := detect.NewIdentifier(detect.NewQRDecoder(), cfg.Detection.PollInterval(), clk, logger.Named("detect"))

	photos, err := storage.NewPhotoStore(cfg.Photo.OutputDir, cfg.Detection.FallbackLabel,
		cfg.Photo.JPEGQuality, clk, logger.Named("photos"))
	if err != nil {
		return fmt.Errorf("photo store: %w", err)
	}

	seq := photocapture.NewSequencer(nav, photos, feed, cfg.Angles(),
		cfg.Photo.RotateSettleDelay(), clk, logger.Named("capture"))

	missionID := uuid.NewString()
	var rec missionlog.Recorder
	var dbRun *missionlog.Run
	if flyFlags.db != "" {
		db, err := missionlog.Open(flyFlags.db)
		if err != nil {
			return err
		}
		defer db.Close()
		dbRun, err = db.BeginRun(missionID, clk.Now())
		if err != nil {
			return err
		}
		rec = dbRun
	}

	orch := orchestrator.New(orchestrator.Deps{
		Nav:     nav,
		Monitor: monitor,
		Ident:   ident,
		Camera:  feed,
		Seq:     seq,
		Rec:     rec,
		Clock:   clk,
		Logger:  logger.Named("mission"),
	}, orchestrator.Config{
		MissionID:      missionID,
		MinBatteryPct:  cfg.Flight.MinBatteryPercent,
		HoverStability: cfg.Flight.HoverStabilityDelay(),
		DetectTimeout:  cfg.Detection.Timeout(),
		DetectPoll:     cfg.Detection.PollInterval(),
		FallbackLabel:  cfg.Detection.FallbackLabel,
		ReturnHome:     cfg.Mission.ReturnHome,
	})

	if flyFlags.simulate {
		wg.Add(1)
		go func() {
			defer wg.Done()
			publishSimFrames(ctx, feed, orch)
		}()
	}

	out := orch.Run(ctx)

	// Release the signal context so the keepalive and camera goroutines
	// wind down before the outcome is reported.
	stop()
	wg.Wait()

	if dbRun != nil {
		if err := dbRun.Finish(out); err != nil {
			logger.Errorw("record outcome", "error", err)
		}
	}

	printOutcome(cmd.OutOrStdout(), out)
	if out.Status != mission.OutcomeCompleted {
		return fmt.Errorf("mission %s: %s", out.Status, out.Reason)
	}
	return nil
}

func navConfig(f config.Flight) flight.NavConfig {
	return flight.NavConfig{
		TakeoffHeightCm: f.TakeoffHeightCm,
		SpeedCmS:        f.MovementSpeedCmS,
		ToleranceCm:     f.WaypointToleranceCm,
		InterMoveDelay:  f.InterMoveDelay(),
		TakeoffAttempts: f.TakeoffAttempts,
	}
}

func safetyConfig(s config.Safety) safety.Config {
	return safety.Config{
		PollInterval:      s.PollInterval(),
		ObstacleEnabled:   s.ObstacleEnabled,
		CoverageRatio:     s.ObstacleCoverageRatio,
		EdgeThreshold:     s.ObstacleEdgeThreshold,
		GestureEnabled:    s.GestureEnabled,
		GestureConfidence: s.GestureConfidence,
		AbortOnDegraded:   s.AbortOnDegraded,
	}
}

func printOutcome(w io.Writer, out mission.Outcome) {
	fmt.Fprintf(w, "mission %s: %s", out.MissionID, out.Status)
	if out.Reason != "" {
		fmt.Fprintf(w, " (%s)", out.Reason)
	}
	fmt.Fprintf(w, "\n  photos:   %d\n  duration: %s\n",
		len(out.Artifacts), out.Ended.Sub(out.Started).Round(time.Millisecond))
}

// publishSimFrames drives the camera of a simulated run. While the vehicle
// is at a stop the frame carries that waypoint's QR tag so identification
// succeeds; between stops the view is a clean wall.
func publishSimFrames(ctx context.Context, feed *vision.Feed, orch *orchestrator.Orchestrator) {
	ticker := time.NewTicker(simFrameEvery)
	defer ticker.Stop()

	wall := vision.Uniform(simSceneSize, simSceneSize, 255)
	scenes := map[string]*vision.Frame{}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			label := orch.Status().Waypoint
			if label == "" {
				feed.Publish(wall)
				continue
			}
			scene, ok := scenes[label]
			if !ok {
				scene = tagScene(label)
				scenes[label] = scene
			}
			feed.Publish(scene)
		}
	}
}

// tagScene renders the wall with the stop's QR tag in the corner. Falls
// back to the bare wall if the tag does not encode.
func tagScene(label string) *vision.Frame {
	scene := vision.Uniform(simSceneSize, simSceneSize, 255)
	tag, err := detect.EncodeQRFrame(simStructureID(label), simTagSize)
	if err != nil {
		return scene
	}
	for y := 0; y < tag.H; y++ {
		for x := 0; x < tag.W; x++ {
			scene.Set(x+simTagOffset, y+simTagOffset, tag.At(x, y))
		}
	}
	return scene
}

func simStructureID(label string) string {
	return "SIM-" + strings.ToUpper(label)
}
