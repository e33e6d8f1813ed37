// Command acquired wires the acquisition-core controllers (stage/camera
// hardware, live view, contrast and laser autofocus, the multi-point
// scheduler, the experiment registry) into a single process and exposes
// the operator dashboard over HTTP, mirroring how cmd/radar assembles its
// serial/DB/HTTP stack in one main().
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/squidcore/acquisition/internal/autofocus"
	"github.com/squidcore/acquisition/internal/bus"
	"github.com/squidcore/acquisition/internal/config"
	"github.com/squidcore/acquisition/internal/dataset"
	"github.com/squidcore/acquisition/internal/fsutil"
	"github.com/squidcore/acquisition/internal/hardware"
	"github.com/squidcore/acquisition/internal/hardware/gvcamera"
	"github.com/squidcore/acquisition/internal/hardware/mcubus"
	"github.com/squidcore/acquisition/internal/job"
	"github.com/squidcore/acquisition/internal/laseraf"
	"github.com/squidcore/acquisition/internal/live"
	"github.com/squidcore/acquisition/internal/monitor"
	"github.com/squidcore/acquisition/internal/multipoint"
	"github.com/squidcore/acquisition/internal/registry"
	"github.com/squidcore/acquisition/internal/resource"
	"github.com/squidcore/acquisition/internal/timeutil"
	"github.com/squidcore/acquisition/internal/version"
)

var (
	listen      = flag.String("listen", ":8090", "HTTP listen address for the operator dashboard and admin routes")
	configFile  = flag.String("config", "", "Path to a rig configuration JSON file (defaults to the repository's config/acquisition.defaults.json)")
	dbPath      = flag.String("db-path", "acquisition.db", "Path to the sqlite experiment registry")
	mcuPort     = flag.String("mcu-port", "", "Serial port for the stage/illumination/piezo/filter-wheel microcontroller (e.g. /dev/ttyUSB0); empty uses a mock port")
	cameraIface = flag.String("camera-iface", "", "Network interface the imaging camera is attached to; empty uses an in-memory mock source")
	cameraPort  = flag.Int("camera-port", 8149, "GigE Vision streaming port")
	versionFlag = flag.Bool("version", false, "Print version information and exit")
)

// piezoMinUm/piezoMaxUm describe the P-736 style piezo stage's travel
// range; the rig config doesn't carry this since it's a fixed property of
// the piezo hardware, not a software position limit.
const (
	piezoMinUm = 0
	piezoMaxUm = 300
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetOutput(os.Stdout)

	if *versionFlag {
		fmt.Printf("acquired v%s (git SHA: %s)\n", version.Version, version.GitSHA)
		os.Exit(0)
	}

	rigCfg, err := loadRigConfig(*configFile)
	if err != nil {
		log.Fatalf("failed to load rig configuration: %v", err)
	}

	experiments, err := registry.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open experiment registry %s: %v", *dbPath, err)
	}
	defer experiments.Close()

	clock := timeutil.RealClock{}
	b := bus.New(256)
	resources := resource.New(b, clock)

	stageBus, closePort, err := newMicrocontrollerBus(*mcuPort)
	if err != nil {
		log.Fatalf("failed to open microcontroller port %s: %v", *mcuPort, err)
	}
	defer closePort()

	stage := mcubus.NewStage(stageBus)
	illumination := mcubus.NewIllumination(stageBus)
	filterWheel := mcubus.NewFilterWheel(stageBus)
	joystick := mcubus.NewJoystick(stageBus)
	piezo := mcubus.NewPiezo(stageBus, piezoMinUm, piezoMaxUm)

	camera := newImagingCamera(*cameraIface, *cameraPort)

	autofocusCtrl := autofocus.New(camera, stage, b)

	// No laser-autofocus sensor (hardware.AutofocusCamera) backend ships in
	// this repo, so laserAF is nil. multipoint.New accepts a nil laserAF;
	// multipoint.Controller.prepare fails a run that requests reflection
	// autofocus with a ConfigurationError.
	var laserAF *laseraf.Controller

	liveCtrl := live.New(camera, illumination, filterWheel, resources, b, clock)

	var mpController *multipoint.Controller
	jobs := job.NewRunner(64, 64, true, func(reason string) {
		if mpController != nil {
			if err := mpController.StopAcquisition(); err != nil {
				log.Printf("acquired: job-failure abort (%s) could not stop acquisition: %v", reason, err)
			}
		}
	}, b)

	fs := fsutil.OSFileSystem{}
	ds := dataset.New(fs)

	mpCfg := rigCfg.GetMultipointConfig()

	mpController = multipoint.New(
		camera, stage, piezo, illumination, filterWheel, joystick,
		nil, // fluidics: no backend ships in this repo
		hardware.NoSpinningDisk{},
		resources, autofocusCtrl, laserAF, liveCtrl, jobs, ds, fs, b, clock, mpCfg, experiments,
	)

	tracker := monitor.NewTracker(b, clock)
	tracker.Start()
	defer tracker.Stop()

	mux := http.NewServeMux()
	tracker.AttachAdminRoutes(mux, commandHandler(mpController, liveCtrl))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	server := &http.Server{Addr: *listen, Handler: mux}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("acquired v%s listening on %s", version.Version, *listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()
	log.Printf("acquired: graceful shutdown complete")
}

// loadRigConfig loads the operator-supplied rig configuration file, or the
// defaults file found by config.MustLoadDefaultConfig if path is empty.
func loadRigConfig(path string) (*config.RigConfig, error) {
	if path == "" {
		return config.MustLoadDefaultConfig(), nil
	}
	return config.LoadRigConfig(path)
}

// newMicrocontrollerBus opens the stage/illumination/piezo/filter-wheel
// serial link, or a mock port when none is configured (e.g. development
// without the rig attached).
func newMicrocontrollerBus(port string) (*mcubus.Bus, func(), error) {
	if port == "" {
		mock := mcubus.NewMockPort()
		b := mcubus.New(mock, 2*time.Second)
		return b, func() {}, nil
	}
	conn, err := mcubus.OpenReal(port, mcubus.DefaultMode())
	if err != nil {
		return nil, nil, err
	}
	b := mcubus.New(conn, 2*time.Second)
	return b, func() { conn.Close() }, nil
}

// newImagingCamera builds the imaging-camera backend: a live GigE Vision
// source bound to iface when given, otherwise an in-memory mock source
// with no packets (development/testing without the rig attached).
func newImagingCamera(iface string, port int) *gvcamera.Camera {
	if iface == "" {
		return gvcamera.New(gvcamera.NewMemorySource(nil))
	}
	source, err := gvcamera.NewLiveSource(iface, port)
	if err != nil {
		log.Fatalf("failed to open camera on %s:%d: %v", iface, port, err)
	}
	return gvcamera.New(source)
}

// commandHandler dispatches operator debug-route commands to the
// multipoint and live controllers, grounded on internal/serialmux's
// fixed-verb command dispatch.
func commandHandler(mp *multipoint.Controller, lc *live.Controller) monitor.CommandHandler {
	return func(command string, args map[string]string) error {
		switch command {
		case "start-acquisition":
			return mp.StartAcquisition(context.Background())
		case "stop-acquisition":
			return mp.StopAcquisition()
		case "start-experiment":
			return mp.StartNewExperiment(args["experiment_id"])
		case "start-live":
			return lc.StartLive(context.Background())
		case "stop-live":
			return lc.StopLive()
		default:
			return fmt.Errorf("acquired: unknown command %q", command)
		}
	}
}
