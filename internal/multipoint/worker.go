// Package multipoint implements the MultiPointController scheduler FSM and
// the MultiPointWorker that runs the ordered scan on its own goroutine
// (spec.md §4.8, §4.9): outer timepoint loop, per-timepoint region/FOV
// iteration, per-FOV autofocus and Z-stack acquisition, and the
// camera/trigger handshake that bridges the worker goroutine to the
// camera's own frame-delivery goroutine.
package multipoint

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/squidcore/acquisition/internal/acqerrors"
	"github.com/squidcore/acquisition/internal/acqlog"
	"github.com/squidcore/acquisition/internal/acqmodel"
	"github.com/squidcore/acquisition/internal/autofocus"
	"github.com/squidcore/acquisition/internal/bus"
	"github.com/squidcore/acquisition/internal/dataset"
	"github.com/squidcore/acquisition/internal/diagnostics"
	"github.com/squidcore/acquisition/internal/fsutil"
	"github.com/squidcore/acquisition/internal/hardware"
	"github.com/squidcore/acquisition/internal/job"
	"github.com/squidcore/acquisition/internal/laseraf"
	"github.com/squidcore/acquisition/internal/timeutil"
)

// Worker runs the ordered multi-region, multi-FOV, multi-Z, multi-timepoint
// scan described in spec.md §4.9. One Worker is built per run and discarded
// afterward; MultiPointController owns its lifecycle.
type Worker struct {
	camera       hardware.Camera
	stage        hardware.Stage
	piezo        hardware.Piezo
	illumination hardware.Illumination
	filterWheel  hardware.FilterWheel
	joystick     hardware.Joystick
	fluidics     hardware.Fluidics
	spinningDisk hardware.SpinningDisk

	autofocusCtrl *autofocus.Controller
	laserAF       *laseraf.Controller

	jobs  *job.Runner
	ds    *dataset.Writer
	fs    fsutil.FileSystem
	b     *bus.Bus
	clock timeutil.Clock
	cfg   Config

	triggerMode hardware.TriggerMode

	mu             sync.Mutex
	aborted        bool
	afFOVCount     int
	lastKnownZMm   map[string]float64
	imageFormat    acqmodel.ImageFormat
	previewScaling float64

	ready     *flag
	imageIdle *flag

	captureMu      sync.Mutex
	pendingCapture *acqmodel.CaptureInfo
}

// NewWorker builds a Worker wired to its hardware and support packages.
// piezo, filterWheel, joystick, fluidics, spinningDisk, autofocusCtrl, and
// laserAF may be nil for rigs or runs that don't use them. clock defaults
// to timeutil.RealClock{} if nil.
func NewWorker(
	camera hardware.Camera,
	stage hardware.Stage,
	piezo hardware.Piezo,
	illumination hardware.Illumination,
	filterWheel hardware.FilterWheel,
	joystick hardware.Joystick,
	fluidics hardware.Fluidics,
	spinningDisk hardware.SpinningDisk,
	autofocusCtrl *autofocus.Controller,
	laserAF *laseraf.Controller,
	jobs *job.Runner,
	ds *dataset.Writer,
	fs fsutil.FileSystem,
	b *bus.Bus,
	clock timeutil.Clock,
	cfg Config,
) *Worker {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if spinningDisk == nil {
		spinningDisk = hardware.NoSpinningDisk{}
	}
	w := &Worker{
		camera:        camera,
		stage:         stage,
		piezo:         piezo,
		illumination:  illumination,
		filterWheel:   filterWheel,
		joystick:      joystick,
		fluidics:      fluidics,
		spinningDisk:  spinningDisk,
		autofocusCtrl: autofocusCtrl,
		laserAF:       laserAF,
		jobs:          jobs,
		ds:            ds,
		fs:            fs,
		b:             b,
		clock:         clock,
		cfg:           cfg,
		triggerMode:   hardware.TriggerSoftware,
		ready:         newFlag(true),
		imageIdle:     newFlag(true),
	}
	camera.RegisterFrameCallback(w.onFrame)
	return w
}

// SetTriggerMode selects software or hardware triggering for the capture
// handshake (spec.md §4.9 "Per capture" steps 2 and 7).
func (w *Worker) SetTriggerMode(mode hardware.TriggerMode) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.triggerMode = mode
}

// RequestAbort marks the run for unwinding at the next checkpoint (spec.md
// §4.9 "Abort semantics"). It may be called from any goroutine, including
// the camera's frame goroutine when a save job cannot be dispatched.
func (w *Worker) RequestAbort(reason string) {
	w.mu.Lock()
	already := w.aborted
	w.aborted = true
	w.mu.Unlock()
	if !already {
		acqlog.Logf("multipoint: abort requested: %s", reason)
	}
}

func (w *Worker) abortRequested() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.aborted
}

func fovKey(region string, fov int) string {
	return fmt.Sprintf("%s|%d", region, fov)
}

// Run executes the full outer timepoint loop and returns the number of FOVs
// acquired and whether the run completed successfully (spec.md §4.9 "Outer
// loop"). It publishes AcquisitionWorkerFinished on the event bus when done,
// which MultiPointController's Completion logic subscribes to.
func (w *Worker) Run(ctx context.Context, params acqmodel.AcquisitionParameters) (int, bool) {
	w.mu.Lock()
	w.lastKnownZMm = make(map[string]float64)
	w.afFOVCount = 0
	w.imageFormat = params.ImageFormat
	w.previewScaling = params.DisplayResolutionScaling
	w.mu.Unlock()

	root := dataset.ExperimentRoot(params.BasePath, params.ExperimentID)
	fovCount := 0
	var runErr error

	for tp := 0; tp < params.Nt; tp++ {
		if w.abortRequested() {
			break
		}

		if params.UseFluidics && w.fluidics != nil {
			if err := w.fluidics.RunBeforeImaging(ctx, tp); err != nil {
				acqlog.Logf("multipoint: fluidics before-imaging round %d failed: %v", tp, err)
			}
		}

		n, err := w.runSingleTimePoint(ctx, params, root, tp)
		fovCount += n
		if err != nil {
			runErr = err
			acqlog.Logf("multipoint: timepoint %d failed: %v", tp, err)
			break
		}

		if params.UseFluidics && w.fluidics != nil {
			if err := w.fluidics.RunAfterImaging(ctx, tp); err != nil {
				acqlog.Logf("multipoint: fluidics after-imaging round %d failed: %v", tp, err)
			}
		}

		if w.abortRequested() || tp+1 >= params.Nt {
			continue
		}

		tNext := params.AcquisitionStartTime.Add(time.Duration(float64(tp+1) * params.DeltaTSeconds * float64(time.Second)))
		if !w.clock.Now().Before(tNext) {
			acqlog.Logf("multipoint: timepoint %d running behind schedule, starting immediately", tp+1)
			continue
		}

		acqlog.Logf("multipoint: waiting for timepoint %d, scheduled at %s", tp+1, tNext)
		step := time.Duration(params.DeltaTSeconds / 20 * float64(time.Second))
		if step <= 0 || step > 500*time.Millisecond {
			step = 500 * time.Millisecond
		}
		for w.clock.Now().Before(tNext) {
			if w.abortRequested() {
				break
			}
			w.clock.Sleep(step)
		}
	}

	w.drainOutstandingFrames()
	w.jobs.Stop()

	success := runErr == nil && !w.abortRequested()
	if w.b != nil {
		w.b.Publish(bus.AcquisitionWorkerFinished{
			ExperimentID:  params.ExperimentID,
			Success:       success,
			Err:           runErr,
			FinalFOVCount: fovCount,
		})
	}
	return fovCount, success
}

// runSingleTimePoint implements spec.md §4.9 "Single time point".
func (w *Worker) runSingleTimePoint(ctx context.Context, params acqmodel.AcquisitionParameters, root string, tp int) (int, error) {
	if w.joystick != nil {
		if err := w.joystick.Disable(); err != nil {
			acqlog.Logf("multipoint: disable joystick: %v", err)
		}
		defer func() {
			if err := w.joystick.Enable(); err != nil {
				acqlog.Logf("multipoint: re-enable joystick: %v", err)
			}
		}()
	}

	dir := dataset.TimepointDir(root, tp)
	if err := w.ds.EnsureTimepointDir(dir); err != nil {
		return 0, fmt.Errorf("create timepoint dir: %w", err)
	}

	if params.ZRange != nil {
		startZ := params.ZRange.MinMm
		if params.ZStacking == acqmodel.ZStackFromTop {
			startZ = params.ZRange.MaxMm
		}
		if err := w.stage.MoveZ(ctx, startZ); err != nil {
			acqlog.Logf("multipoint: z-stack init move failed: %v", err)
		}
	}

	var rows []dataset.FOVCoordinateRow
	fovCount := 0

	for _, region := range params.ScanPositionInformation.RegionNames {
		positions := params.ScanPositionInformation.RegionFOVCoordsMm[region]
		total := len(positions)
		for fov, pos := range positions {
			if w.abortRequested() {
				w.writePartialCoordinates(dir, rows, params.UsePiezo)
				return fovCount, nil
			}

			if err := w.moveToFOV(ctx, region, fov, pos, tp, params); err != nil {
				acqlog.Logf("multipoint: move to fov (%s,%d) failed: %v", region, fov, err)
			}

			fovRows, err := w.acquireAtPosition(ctx, params, region, fov, total, dir, tp)
			rows = append(rows, fovRows...)
			fovCount++
			if err != nil {
				acqlog.Logf("multipoint: acquire at (%s,%d) failed: %v", region, fov, err)
			}

			if w.abortRequested() {
				w.writePartialCoordinates(dir, rows, params.UsePiezo)
				return fovCount, nil
			}
		}
	}

	if err := w.ds.WriteTimepointCoordinates(dir, rows, params.UsePiezo); err != nil {
		acqlog.Logf("multipoint: write timepoint coordinates: %v", err)
	}
	if err := w.ds.WriteDoneMarker(dir); err != nil {
		acqlog.Logf("multipoint: write timepoint done marker: %v", err)
	}
	return fovCount, nil
}

func (w *Worker) writePartialCoordinates(dir string, rows []dataset.FOVCoordinateRow, usePiezo bool) {
	if err := w.ds.WriteTimepointCoordinates(dir, rows, usePiezo); err != nil {
		acqlog.Logf("multipoint: write partial coordinates after abort: %v", err)
	}
}

// moveToFOV moves the stage to the FOV's X/Y, then resolves Z either by
// skipping straight to a previously recorded autofocus Z (spec.md §4.9
// "Single time point" step 4's reflection/contrast AF skip) or by moving to
// the coordinate's own Z.
func (w *Worker) moveToFOV(ctx context.Context, region string, fov int, pos acqmodel.Position, tp int, params acqmodel.AcquisitionParameters) error {
	cur, err := w.stage.GetPosition()
	if err != nil {
		return fmt.Errorf("read position: %w", err)
	}
	target := acqmodel.Position{XMm: pos.XMm, YMm: pos.YMm, ZMm: cur.ZMm, ThetaRad: cur.ThetaRad}
	if err := w.stage.MoveTo(ctx, target); err != nil {
		return fmt.Errorf("move xy: %w", err)
	}
	w.settle(w.cfg.StageSettleDelay)

	if (params.DoAutofocus || params.DoReflectionAutofocus) && tp > 0 {
		w.mu.Lock()
		z, ok := w.lastKnownZMm[fovKey(region, fov)]
		w.mu.Unlock()
		if ok {
			if err := w.stage.MoveZ(ctx, z); err != nil {
				return fmt.Errorf("move to recorded z: %w", err)
			}
			w.settle(w.cfg.StageSettleDelay)
			return nil
		}
	}

	if err := w.stage.MoveZ(ctx, pos.ZMm); err != nil {
		return fmt.Errorf("move z: %w", err)
	}
	w.settle(w.cfg.StageSettleDelay)
	return nil
}

// acquireAtPosition implements spec.md §4.9 "Acquire at one FOV": autofocus,
// the NZ Z-stack loop over selected configurations, and Z restoration.
func (w *Worker) acquireAtPosition(ctx context.Context, params acqmodel.AcquisitionParameters, region string, fov, totalFOVs int, dir string, tp int) ([]dataset.FOVCoordinateRow, error) {
	key := fovKey(region, fov)
	w.runAutofocus(ctx, params, key, dir)

	if params.NZ > 1 && params.ZStacking == acqmodel.ZStackFromCenter {
		offsetMm := -params.DeltaZMm * math.Round(float64(params.NZ-1)/2)
		w.stepZ(ctx, params, offsetMm)
	}

	var rows []dataset.FOVCoordinateRow
	for z := 0; z < params.NZ; z++ {
		if w.abortRequested() {
			break
		}

		acquirePos, err := w.stage.GetPosition()
		if err != nil {
			acqlog.Logf("multipoint: read position at z-level %d: %v", z, err)
		}
		if params.DoReflectionAutofocus && z == 0 && params.Nt > 1 {
			w.mu.Lock()
			w.lastKnownZMm[key] = acquirePos.ZMm
			w.mu.Unlock()
		}

		var zPiezoUm float64
		var hasPiezo bool
		if params.UsePiezo && w.piezo != nil {
			if v, err := w.piezo.GetZUm(); err == nil {
				zPiezoUm, hasPiezo = v, true
			}
		}

		for ci, cfg := range params.SelectedConfigurations {
			applyOffset := params.NZ == 1 && cfg.ZOffsetUm != nil
			if applyOffset {
				w.stepZ(ctx, params, *cfg.ZOffsetUm/1000)
			}

			capture := acqmodel.CaptureInfo{
				Position:        acquirePos,
				ZIndex:          z,
				Configuration:   cfg,
				ConfigIndex:     ci,
				RegionID:        region,
				FOV:             fov,
				TimePoint:       tp,
				SaveDirectory:   dir,
				TotalTimePoints: params.Nt,
				TotalZLevels:    params.NZ,
				TotalChannels:   len(params.SelectedConfigurations),
			}
			if hasPiezo {
				zPiezoUmCopy := zPiezoUm
				capture.ZPiezoUm = &zPiezoUmCopy
			}

			var captureErr error
			if cfg.IsBayerOrRGB() {
				captureErr = w.captureRGBComposite(ctx, capture)
			} else {
				captureErr = w.captureOne(ctx, capture)
			}
			if captureErr != nil {
				acqlog.Logf("multipoint: capture failed at (%s,%d,z=%d,%s): %v", region, fov, z, cfg.Name, captureErr)
			}

			if applyOffset {
				w.stepZ(ctx, params, -*cfg.ZOffsetUm/1000)
			}

			if w.b != nil {
				w.b.Publish(bus.AcquisitionRegionProgress{
					ExperimentID: params.ExperimentID,
					RegionID:     region,
					FOVsDone:     fov + 1,
					FOVsTotal:    totalFOVs,
				})
			}
		}

		row := dataset.FOVCoordinateRow{
			Region: region, FOV: fov, ZLevel: z,
			XMm: acquirePos.XMm, YMm: acquirePos.YMm, ZUm: acquirePos.ZMm * 1000,
			Time: w.clock.Now(),
		}
		if hasPiezo {
			row.ZPiezoUm = zPiezoUm
		}
		rows = append(rows, row)

		if w.abortRequested() {
			break
		}
		if z < params.NZ-1 {
			w.stepZ(ctx, params, zStepMm(params))
		}
	}

	w.restoreZAfterStack(ctx, params)
	return rows, nil
}

// runAutofocus implements spec.md §4.9 acquire_at_position step 1.
func (w *Worker) runAutofocus(ctx context.Context, params acqmodel.AcquisitionParameters, key, dir string) {
	if params.DoReflectionAutofocus {
		if w.laserAF == nil {
			return
		}
		if err := w.laserAF.MoveToTarget(ctx, 0); err != nil {
			acqlog.Logf("multipoint: reflection autofocus failed at %s, continuing without: %v", key, err)
			w.saveZSearchDiagnostic(dir, key)
		}
		return
	}

	if !params.DoAutofocus || w.autofocusCtrl == nil {
		return
	}
	if params.NZ != 1 && params.ZStacking != acqmodel.ZStackFromCenter {
		return
	}

	w.mu.Lock()
	n := w.afFOVCount
	w.afFOVCount++
	w.mu.Unlock()

	every := w.cfg.NumberOfFOVsPerAF
	if every > 0 && n%every != 0 {
		return
	}

	if bestZ, ok := w.autofocusCtrl.Run(ctx, autofocus.SweepConfig{}); !ok {
		acqlog.Logf("multipoint: contrast autofocus did not converge at %s", key)
		w.saveSweepDiagnostic(dir, key, bestZ)
	}
}

// saveSweepDiagnostic writes the failed Run call's (Z, grade) trace next to
// the timepoint's images, so an operator can see why contrast autofocus
// didn't converge without re-running it (spec.md §4.9 "save the focus-camera
// image for diagnostics").
func (w *Worker) saveSweepDiagnostic(dir, key string, bestZMm float64) {
	if w.fs == nil || w.autofocusCtrl == nil {
		return
	}
	samples := w.autofocusCtrl.LastSweep()
	if len(samples) == 0 {
		return
	}
	png, err := diagnostics.SweepCurvePNG(samples, bestZMm)
	if err != nil {
		acqlog.Logf("multipoint: render sweep diagnostic for %s: %v", key, err)
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_autofocus_sweep.png", key))
	if err := w.fs.WriteFile(path, png, 0o644); err != nil {
		acqlog.Logf("multipoint: write sweep diagnostic for %s: %v", key, err)
	}
}

// saveZSearchDiagnostic writes the failed MoveToTarget call's candidate
// Z-search trace next to the timepoint's images.
func (w *Worker) saveZSearchDiagnostic(dir, key string) {
	if w.fs == nil || w.laserAF == nil {
		return
	}
	samples := w.laserAF.LastZSearch()
	if len(samples) == 0 {
		return
	}
	png, err := diagnostics.ZSearchTracePNG(samples)
	if err != nil {
		acqlog.Logf("multipoint: render z-search diagnostic for %s: %v", key, err)
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_laseraf_zsearch.png", key))
	if err := w.fs.WriteFile(path, png, 0o644); err != nil {
		acqlog.Logf("multipoint: write z-search diagnostic for %s: %v", key, err)
	}
}

// zStepMm is the per-Z-level step direction applied while walking the
// stack, negative for FROM_TOP (spec.md §4.9 "Single time point" step 3).
func zStepMm(params acqmodel.AcquisitionParameters) float64 {
	if params.ZStacking == acqmodel.ZStackFromTop {
		return -params.DeltaZMm
	}
	return params.DeltaZMm
}

// stepZ moves Z by deltaMm, via the piezo when UsePiezo is set, else the
// stage, settling afterward.
func (w *Worker) stepZ(ctx context.Context, params acqmodel.AcquisitionParameters, deltaMm float64) {
	if params.UsePiezo && w.piezo != nil {
		if err := w.piezoMoveRelative(ctx, deltaMm*1000); err != nil {
			acqlog.Logf("multipoint: piezo z-step failed: %v", err)
		}
		w.settle(w.cfg.PiezoSettleDelay)
		return
	}
	if err := w.stageMoveZRelative(ctx, deltaMm); err != nil {
		acqlog.Logf("multipoint: stage z-step failed: %v", err)
	}
	w.settle(w.cfg.StageSettleDelay)
}

// restoreZAfterStack implements spec.md §4.9 acquire_at_position step 4.
func (w *Worker) restoreZAfterStack(ctx context.Context, params acqmodel.AcquisitionParameters) {
	if params.NZ <= 1 {
		return
	}
	if params.UsePiezo && w.piezo != nil {
		if err := w.piezoMoveRelative(ctx, -params.DeltaZMm*1000*float64(params.NZ-1)); err != nil {
			acqlog.Logf("multipoint: piezo z restore failed: %v", err)
		}
		return
	}
	rel := -params.DeltaZMm * float64(params.NZ-1)
	if params.ZStacking == acqmodel.ZStackFromCenter {
		rel = -params.DeltaZMm*float64(params.NZ-1) + params.DeltaZMm*math.Round(float64(params.NZ-1)/2)
	}
	if err := w.stageMoveZRelative(ctx, rel); err != nil {
		acqlog.Logf("multipoint: stage z restore failed: %v", err)
	}
}

func (w *Worker) stageMoveZRelative(ctx context.Context, deltaMm float64) error {
	cur, err := w.stage.GetPosition()
	if err != nil {
		return err
	}
	return w.stage.MoveZ(ctx, cur.ZMm+deltaMm)
}

func (w *Worker) piezoMoveRelative(ctx context.Context, deltaUm float64) error {
	cur, err := w.piezo.GetZUm()
	if err != nil {
		return err
	}
	return w.piezo.MoveToZUm(ctx, cur+deltaUm)
}

func (w *Worker) settle(d time.Duration) {
	if d > 0 {
		w.clock.Sleep(d)
	}
}

func (w *Worker) applyChannel(ctx context.Context, cfg acqmodel.ChannelMode) error {
	if err := w.camera.SetExposureTimeMs(cfg.ExposureTimeMs); err != nil {
		return fmt.Errorf("set exposure: %w", err)
	}
	if err := w.camera.SetAnalogGain(cfg.AnalogGain); err != nil {
		return fmt.Errorf("set gain: %w", err)
	}
	if err := w.illumination.SetSource(strconv.Itoa(cfg.IlluminationSource)); err != nil {
		return fmt.Errorf("set illumination source: %w", err)
	}
	if err := w.illumination.SetIntensityPercent(cfg.IlluminationIntensity); err != nil {
		return fmt.Errorf("set illumination intensity: %w", err)
	}
	if w.filterWheel != nil {
		if err := w.filterWheel.MoveTo(ctx, cfg.EmissionFilterPosition); err != nil {
			return fmt.Errorf("move filter wheel: %w", err)
		}
	}
	if err := w.spinningDisk.Engage(ctx); err != nil {
		acqlog.Logf("multipoint: spinning disk engage: %v", err)
	}
	return nil
}

// totalFrameTime approximates camera.total_frame_time from the channel's
// configured exposure plus a fixed readout allowance (spec.md §4.9
// camera/trigger handshake timeouts), since hardware.Camera has no direct
// frame-time accessor.
func totalFrameTime(cfg acqmodel.ChannelMode) time.Duration {
	return time.Duration(cfg.ExposureTimeMs*float64(time.Millisecond)) + readoutOverhead
}

// captureOne drives the full camera/trigger handshake for a single frame
// (spec.md §4.9 "Camera/trigger handshake").
func (w *Worker) captureOne(ctx context.Context, capture acqmodel.CaptureInfo) error {
	if err := w.applyChannel(ctx, capture.Configuration); err != nil {
		return fmt.Errorf("apply channel: %w", err)
	}

	w.mu.Lock()
	swMode := w.triggerMode != hardware.TriggerHardware
	w.mu.Unlock()

	if swMode {
		if err := w.illumination.On(); err != nil {
			return fmt.Errorf("illumination on: %w", err)
		}
	}

	frameTime := totalFrameTime(capture.Configuration)

	if !w.ready.Wait(w.clock.After(frameTime + 10*time.Second)) {
		w.RequestAbort("capture handshake: camera not ready for trigger")
		return acqerrors.NewConfigurationError("camera not ready for trigger")
	}
	w.ready.Clear()

	w.setPendingCapture(capture)

	if err := w.camera.SendTrigger(); err != nil {
		return fmt.Errorf("send trigger: %w", err)
	}

	if swMode {
		if !w.ready.Wait(w.clock.After(5*frameTime + 2*time.Second)) {
			w.RequestAbort("capture handshake: frame callback did not complete in time")
			return acqerrors.NewConfigurationError("frame callback timeout")
		}
		if err := w.illumination.Off(); err != nil {
			acqlog.Logf("multipoint: illumination off after capture: %v", err)
		}
	} else {
		w.clock.Sleep(frameTime)
	}

	return nil
}

func (w *Worker) setPendingCapture(c acqmodel.CaptureInfo) {
	w.captureMu.Lock()
	defer w.captureMu.Unlock()
	cp := c
	w.pendingCapture = &cp
}

func (w *Worker) takePendingCapture() *acqmodel.CaptureInfo {
	w.captureMu.Lock()
	defer w.captureMu.Unlock()
	c := w.pendingCapture
	w.pendingCapture = nil
	return c
}

// onFrame is the camera's frame-delivery callback (spec.md §4.9 "Image
// callback"); it runs on the camera's own goroutine and must not block.
func (w *Worker) onFrame(frame hardware.Frame) {
	if w.ready.Get() {
		acqlog.Logf("multipoint: frame arrived with no pending trigger, dropping")
		return
	}
	w.imageIdle.Clear()
	defer w.imageIdle.Set()

	capture := w.takePendingCapture()
	if capture == nil {
		acqlog.Logf("multipoint: frame arrived with no capture info recorded")
		w.ready.Set()
		return
	}
	capture.CaptureTime = frame.CapturedAt
	w.ready.Set()

	w.mu.Lock()
	format := w.imageFormat
	scaling := w.previewScaling
	w.mu.Unlock()

	id := uuid.NewString()
	if err := w.jobs.Dispatch(job.NewSaveImageJob(id, *capture, frame, format, w.fs)); err != nil {
		acqlog.Logf("multipoint: dispatch save image job failed: %v", err)
		w.RequestAbort(fmt.Sprintf("save image dispatch failed: %v", err))
	}
	if scaling > 0 && scaling < 1 {
		pid := uuid.NewString()
		if err := w.jobs.Dispatch(job.NewPreviewJob(pid, *capture, frame, scaling)); err != nil {
			acqlog.Logf("multipoint: dispatch preview job failed: %v", err)
		}
	}

	if w.b != nil {
		w.b.Publish(bus.NewImage{Capture: *capture})
	}
}

// captureRGBComposite captures three sub-exposures and merges them into one
// frame for a ChannelMode whose name marks it as an RGB composite channel
// (spec.md §4.9 acquire_at_position step 3b, "composite from three separate
// BF channels"). Unlike captureOne, it issues its sub-triggers synchronously
// rather than through the persistent ready/image-idle handshake, since one
// logical RGB capture here corresponds to three physical sub-exposures
// rather than one.
func (w *Worker) captureRGBComposite(ctx context.Context, capture acqmodel.CaptureInfo) error {
	if err := w.applyChannel(ctx, capture.Configuration); err != nil {
		return fmt.Errorf("apply channel: %w", err)
	}

	var merged []float64
	var width, height int
	frameTime := totalFrameTime(capture.Configuration)

	for _, ch := range [3]string{"R", "G", "B"} {
		if err := w.illumination.SetSource(fmt.Sprintf("%d_%s", capture.Configuration.IlluminationSource, ch)); err != nil {
			return fmt.Errorf("set rgb sub-channel %s source: %w", ch, err)
		}
		if err := w.illumination.On(); err != nil {
			return fmt.Errorf("illumination on for rgb sub-channel %s: %w", ch, err)
		}
		frame, err := w.captureSyncFrame(ctx, frameTime)
		if offErr := w.illumination.Off(); offErr != nil {
			acqlog.Logf("multipoint: illumination off after rgb sub-channel %s: %v", ch, offErr)
		}
		if err != nil {
			return fmt.Errorf("capture rgb sub-channel %s: %w", ch, err)
		}
		if merged == nil {
			merged = make([]float64, len(frame.Pixels))
			width, height = frame.Width, frame.Height
		}
		for i, v := range frame.Pixels {
			merged[i] += v / 3
		}
	}

	composite := hardware.Frame{Pixels: merged, Width: width, Height: height, CapturedAt: w.clock.Now()}
	capture.CaptureTime = composite.CapturedAt

	w.mu.Lock()
	format := w.imageFormat
	scaling := w.previewScaling
	w.mu.Unlock()

	id := uuid.NewString()
	if err := w.jobs.Dispatch(job.NewSaveImageJob(id, capture, composite, format, w.fs)); err != nil {
		w.RequestAbort(fmt.Sprintf("rgb composite save dispatch failed: %v", err))
		return err
	}
	if scaling > 0 && scaling < 1 {
		pid := uuid.NewString()
		if err := w.jobs.Dispatch(job.NewPreviewJob(pid, capture, composite, scaling)); err != nil {
			acqlog.Logf("multipoint: dispatch rgb preview job failed: %v", err)
		}
	}
	if w.b != nil {
		w.b.Publish(bus.NewImage{Capture: capture})
	}
	return nil
}

// captureSyncFrame triggers the camera and waits for exactly one frame via
// a temporary callback registration, the same pattern as
// autofocus.Controller.captureFrame except that it registers w.onFrame
// again before returning.
func (w *Worker) captureSyncFrame(ctx context.Context, timeout time.Duration) (hardware.Frame, error) {
	frames := make(chan hardware.Frame, 1)
	w.camera.RegisterFrameCallback(func(f hardware.Frame) {
		select {
		case frames <- f:
		default:
		}
	})
	defer w.camera.RegisterFrameCallback(w.onFrame)

	if !w.camera.IsReady() {
		return hardware.Frame{}, fmt.Errorf("camera not ready")
	}
	if err := w.camera.SendTrigger(); err != nil {
		return hardware.Frame{}, fmt.Errorf("send trigger: %w", err)
	}

	select {
	case f := <-frames:
		return f, nil
	case <-ctx.Done():
		return hardware.Frame{}, ctx.Err()
	case <-w.clock.After(timeout):
		return hardware.Frame{}, fmt.Errorf("no frame within %s", timeout)
	}
}

// drainOutstandingFrames implements spec.md §4.9 "End of run": wait for any
// in-flight trigger/callback to finish before the run's final cleanup.
func (w *Worker) drainOutstandingFrames() {
	timeout := w.cfg.EndOfRunDrainTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if !w.ready.Wait(w.clock.After(timeout)) {
		acqlog.Logf("multipoint: timed out waiting for outstanding trigger to complete")
	}
	if !w.imageIdle.Wait(w.clock.After(timeout)) {
		acqlog.Logf("multipoint: timed out waiting for image callback to go idle")
	}
}
