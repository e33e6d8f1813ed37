package multipoint

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/squidcore/acquisition/internal/acqerrors"
	"github.com/squidcore/acquisition/internal/acqlog"
	"github.com/squidcore/acquisition/internal/acqmodel"
	"github.com/squidcore/acquisition/internal/autofocus"
	"github.com/squidcore/acquisition/internal/bus"
	"github.com/squidcore/acquisition/internal/dataset"
	"github.com/squidcore/acquisition/internal/fsutil"
	"github.com/squidcore/acquisition/internal/hardware"
	"github.com/squidcore/acquisition/internal/job"
	"github.com/squidcore/acquisition/internal/laseraf"
	"github.com/squidcore/acquisition/internal/live"
	"github.com/squidcore/acquisition/internal/registry"
	"github.com/squidcore/acquisition/internal/resource"
	"github.com/squidcore/acquisition/internal/statemachine"
	"github.com/squidcore/acquisition/internal/timeutil"
)

// State is one of MultiPointController's six states (spec.md §4.8).
type State int

const (
	StateIdle State = iota
	StatePreparing
	StateRunning
	StateAborting
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StatePreparing:
		return "Preparing"
	case StateRunning:
		return "Running"
	case StateAborting:
		return "Aborting"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

const ownerName = "MultiPointController"

// autoFocusPlaneRegion tags the 3-corner plane fit applied uniformly across
// every real region's FOVs, bypassing FocusMap.Interpolate's single-region
// check (spec.md §4.8 Preparation step 11, "compute an autofocus plane").
const autoFocusPlaneRegion = "__plane__"

func transitionTable() statemachine.Table[State] {
	return statemachine.NewTable(
		[2]State{StateIdle, StatePreparing},
		[2]State{StatePreparing, StateRunning},
		[2]State{StatePreparing, StateFailed},
		[2]State{StateRunning, StateAborting},
		[2]State{StateRunning, StateCompleted},
		[2]State{StateRunning, StateFailed},
		[2]State{StateAborting, StateCompleted},
		[2]State{StateAborting, StateFailed},
		[2]State{StateCompleted, StateIdle},
		[2]State{StateFailed, StateIdle},
	)
}

// Controller drives MultiPointWorker through its Preparation/Running/
// Completion lifecycle (spec.md §4.8).
type Controller struct {
	machine *statemachine.Machine[State]

	camera       hardware.Camera
	stage        hardware.Stage
	piezo        hardware.Piezo
	illumination hardware.Illumination
	filterWheel  hardware.FilterWheel
	joystick     hardware.Joystick
	fluidics     hardware.Fluidics
	spinningDisk hardware.SpinningDisk

	resources     *resource.Coordinator
	autofocusCtrl *autofocus.Controller
	laserAF       *laseraf.Controller
	liveCtrl      *live.Controller // optional; nil if the rig has no separate live view to suspend
	experiments   *registry.Store  // optional; nil disables duplicate-ID tracking across process restarts

	jobs  *job.Runner
	ds    *dataset.Writer
	fs    fsutil.FileSystem
	b     *bus.Bus
	clock timeutil.Clock
	cfg   Config

	mu sync.Mutex

	nx, ny, nz, nt                     int
	deltaXMm, deltaYMm, deltaZMm        float64
	deltaTSeconds                       float64
	doAutofocus, doReflectionAutofocus  bool
	usePiezo                            bool
	zStacking                           acqmodel.ZStackingConfig
	zRange                              *acqmodel.ZRange
	selectedConfigurations              []acqmodel.ChannelMode
	displayResolutionScaling            float64
	imageFormat                         acqmodel.ImageFormat
	basePath                            string
	experimentID                        string
	scanPositions                       acqmodel.ScanPositionInformation
	acquireCurrentFOV                   bool
	focusMap                            *acqmodel.FocusMap
	genFocusMap                         bool
	fluidicsRounds                      int
	metadata                            dataset.Metadata

	lease             *acqmodel.ResourceLease
	activeExperimentID string
	startPosition     acqmodel.Position
	wasLive           bool
	wasCallbackEnabled bool
	priorConfig       acqmodel.ChannelMode
	usedFocusMapBeforeRun bool

	worker *Worker
}

// New builds an idle Controller and subscribes to its worker's completion
// event. piezo, filterWheel, joystick, fluidics, spinningDisk, autofocusCtrl,
// laserAF, and liveCtrl may be nil for rigs/runs that don't use them.
func New(
	camera hardware.Camera,
	stage hardware.Stage,
	piezo hardware.Piezo,
	illumination hardware.Illumination,
	filterWheel hardware.FilterWheel,
	joystick hardware.Joystick,
	fluidics hardware.Fluidics,
	spinningDisk hardware.SpinningDisk,
	resources *resource.Coordinator,
	autofocusCtrl *autofocus.Controller,
	laserAF *laseraf.Controller,
	liveCtrl *live.Controller,
	jobs *job.Runner,
	ds *dataset.Writer,
	fs fsutil.FileSystem,
	b *bus.Bus,
	clock timeutil.Clock,
	cfg Config,
	experiments *registry.Store,
) *Controller {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	m := statemachine.New("MultiPointController", StateIdle, transitionTable())
	m.SetEventBus(b)
	m.SetCommandWhitelist(StateIdle, []string{
		"SetAcquisitionParameters", "SetAcquisitionPath", "SetAcquisitionChannels",
		"StartNewExperiment", "StartAcquisition", "SetScanPositions",
		"SetDatasetMetadata", "SetFocusMap", "SetGenFocusMap", "SetAcquireCurrentFOV",
	})
	m.SetCommandWhitelist(StateRunning, []string{"StopAcquisition"})
	for _, s := range []State{StatePreparing, StateAborting, StateCompleted, StateFailed} {
		m.SetCommandWhitelist(s, nil)
	}

	c := &Controller{
		machine:                  m,
		camera:                   camera,
		stage:                    stage,
		piezo:                    piezo,
		illumination:             illumination,
		filterWheel:              filterWheel,
		joystick:                 joystick,
		fluidics:                 fluidics,
		spinningDisk:             spinningDisk,
		resources:                resources,
		autofocusCtrl:            autofocusCtrl,
		laserAF:                  laserAF,
		liveCtrl:                 liveCtrl,
		experiments:              experiments,
		jobs:                     jobs,
		ds:                       ds,
		fs:                       fs,
		b:                        b,
		clock:                    clock,
		cfg:                      cfg,
		nz:                       1,
		nt:                       1,
		displayResolutionScaling: 1,
		imageFormat:              acqmodel.ImageFormatTIFF,
	}

	if b != nil {
		b.Subscribe("AcquisitionWorkerFinished", c.onWorkerFinished)
	}
	return c
}

// State returns the current FSM state.
func (c *Controller) State() State { return c.machine.State() }

// --- Idle-state setters (spec.md §4.8 "Configuration commands") ---

func (c *Controller) SetAcquisitionParameters(nx, ny, nz, nt int, deltaXMm, deltaYMm, deltaZMm, deltaTSeconds float64, doAutofocus, doReflectionAutofocus, usePiezo bool, zStacking acqmodel.ZStackingConfig, zRange *acqmodel.ZRange) error {
	if err := c.machine.CheckCommand("SetAcquisitionParameters"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nx, c.ny, c.nz, c.nt = nx, ny, nz, nt
	c.deltaXMm, c.deltaYMm, c.deltaZMm, c.deltaTSeconds = deltaXMm, deltaYMm, deltaZMm, deltaTSeconds
	c.doAutofocus, c.doReflectionAutofocus, c.usePiezo = doAutofocus, doReflectionAutofocus, usePiezo
	c.zStacking = zStacking
	c.zRange = zRange
	return nil
}

func (c *Controller) SetAcquisitionPath(basePath string, imageFormat acqmodel.ImageFormat, displayResolutionScaling float64) error {
	if err := c.machine.CheckCommand("SetAcquisitionPath"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.basePath = basePath
	c.imageFormat = imageFormat
	c.displayResolutionScaling = displayResolutionScaling
	return nil
}

func (c *Controller) SetAcquisitionChannels(channels []acqmodel.ChannelMode) error {
	if err := c.machine.CheckCommand("SetAcquisitionChannels"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selectedConfigurations = append([]acqmodel.ChannelMode(nil), channels...)
	return nil
}

// StartNewExperiment assigns the experiment ID, rejecting a name whose
// directory already exists (spec.md §4.8 "reject a duplicate experiment ID
// at this point rather than overwriting on write").
func (c *Controller) StartNewExperiment(experimentID string) error {
	if err := c.machine.CheckCommand("StartNewExperiment"); err != nil {
		return err
	}
	c.mu.Lock()
	basePath := c.basePath
	c.mu.Unlock()

	root := dataset.ExperimentRoot(basePath, experimentID)
	if c.fs.Exists(root) {
		return acqerrors.NewConfigurationErrorf("experiment %q already exists at %s", experimentID, root)
	}
	if c.experiments != nil {
		exists, err := c.experiments.Exists(experimentID)
		if err != nil {
			return fmt.Errorf("multipoint: check experiment registry: %w", err)
		}
		if exists {
			return acqerrors.NewConfigurationErrorf("experiment %q is already recorded in the registry", experimentID)
		}
	}

	c.mu.Lock()
	c.experimentID = experimentID
	c.mu.Unlock()
	return nil
}

func (c *Controller) SetScanPositions(info acqmodel.ScanPositionInformation) error {
	if err := c.machine.CheckCommand("SetScanPositions"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scanPositions = info.Clone()
	return nil
}

func (c *Controller) SetDatasetMetadata(meta dataset.Metadata) error {
	if err := c.machine.CheckCommand("SetDatasetMetadata"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata = meta
	return nil
}

func (c *Controller) SetFocusMap(m *acqmodel.FocusMap) error {
	if err := c.machine.CheckCommand("SetFocusMap"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.focusMap = m
	return nil
}

func (c *Controller) SetGenFocusMap(gen bool) error {
	if err := c.machine.CheckCommand("SetGenFocusMap"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.genFocusMap = gen
	return nil
}

func (c *Controller) SetAcquireCurrentFOV(acquire bool) error {
	if err := c.machine.CheckCommand("SetAcquireCurrentFOV"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acquireCurrentFOV = acquire
	return nil
}

// SetFluidicsRounds is valid in any state (spec.md §4.8: "fluidics round
// count may be adjusted independent of the FSM's current state"), so it is
// not gated through CheckCommand.
func (c *Controller) SetFluidicsRounds(rounds int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fluidicsRounds = rounds
}

// StartAcquisition runs the Preparation sequence and, on success, launches
// the worker goroutine (spec.md §4.8 "Preparation").
func (c *Controller) StartAcquisition(ctx context.Context) error {
	if err := c.machine.CheckCommand("StartAcquisition"); err != nil {
		return err
	}
	if err := c.machine.TransitionTo(StatePreparing); err != nil {
		return err
	}

	params, err := c.prepare(ctx)
	if err != nil {
		acqlog.Logf("multipoint: preparation failed: %v", err)
		c.releaseLease()
		if tErr := c.machine.TransitionTo(StateFailed); tErr != nil {
			c.machine.ForceState(StateFailed, err.Error())
		}
		if c.b != nil {
			c.b.Publish(bus.ControllerError{Controller: ownerName, Operation: "StartAcquisition", Err: err})
		}
		if tErr := c.machine.TransitionTo(StateIdle); tErr != nil {
			c.machine.ForceState(StateIdle, "reset after preparation failure")
		}
		return nil
	}

	c.jobs.Start(ctx)
	w := NewWorker(c.camera, c.stage, c.piezo, c.illumination, c.filterWheel, c.joystick, c.fluidics, c.spinningDisk, c.autofocusCtrl, c.laserAF, c.jobs, c.ds, c.fs, c.b, c.clock, c.cfg)

	c.mu.Lock()
	c.worker = w
	c.activeExperimentID = params.ExperimentID
	c.mu.Unlock()

	if c.experiments != nil {
		if err := c.experiments.RecordStart(params.ExperimentID, params.BasePath, c.clock.Now()); err != nil {
			acqlog.Logf("multipoint: record experiment start in registry: %v", err)
		}
	}

	if err := c.machine.TransitionTo(StateRunning); err != nil {
		return err
	}
	if c.b != nil {
		c.b.Publish(bus.AcquisitionStateChanged{InProgress: true, ExperimentID: params.ExperimentID})
	}

	go w.Run(ctx, params)
	return nil
}

// StopAcquisition requests the running worker abort (spec.md §4.8 "Abort").
func (c *Controller) StopAcquisition() error {
	if err := c.machine.CheckCommand("StopAcquisition"); err != nil {
		return err
	}
	if err := c.machine.TransitionTo(StateAborting); err != nil {
		return err
	}
	c.mu.Lock()
	w := c.worker
	expID := c.activeExperimentID
	c.mu.Unlock()

	if w != nil {
		w.RequestAbort("StopAcquisition")
	}
	if c.b != nil {
		c.b.Publish(bus.AcquisitionStateChanged{InProgress: true, ExperimentID: expID, IsAborting: true})
	}
	return nil
}

// prepare runs spec.md §4.8's 13-step Preparation sequence and returns the
// frozen AcquisitionParameters for the run, or an error if any step fails.
func (c *Controller) prepare(ctx context.Context) (acqmodel.AcquisitionParameters, error) {
	c.mu.Lock()
	doReflectionAF := c.doReflectionAutofocus
	c.mu.Unlock()

	// Step 1: validate settings.
	if doReflectionAF && (c.laserAF == nil || !c.laserAF.IsInitialized()) {
		return acqmodel.AcquisitionParameters{}, acqerrors.NewConfigurationError("reflection autofocus requires an initialized laser autofocus controller")
	}

	// Step 2: snapshot start_position.
	startPos, err := c.stage.GetPosition()
	if err != nil {
		return acqmodel.AcquisitionParameters{}, fmt.Errorf("read start position: %w", err)
	}
	c.mu.Lock()
	c.startPosition = startPos
	c.mu.Unlock()

	c.mu.Lock()
	nz, deltaZMm := c.nz, c.deltaZMm
	zRange := c.zRange
	acquireCurrentFOV := c.acquireCurrentFOV
	c.mu.Unlock()

	// Step 3: default ZRange from start Z.
	if zRange == nil {
		zRange = &acqmodel.ZRange{MinMm: startPos.ZMm, MaxMm: startPos.ZMm + deltaZMm*float64(nz-1)}
		c.mu.Lock()
		c.zRange = zRange
		c.mu.Unlock()
	}

	c.mu.Lock()
	scanPositions := c.scanPositions.Clone()
	c.mu.Unlock()

	// Step 4: acquire_current_fov builds a synthetic single-FOV region.
	if acquireCurrentFOV {
		scanPositions = acqmodel.ScanPositionInformation{
			RegionNames:       []string{"current"},
			RegionCoordsMm:    map[string]acqmodel.Position{"current": startPos},
			RegionFOVCoordsMm: map[string][]acqmodel.Position{"current": {startPos}},
		}
	}
	if len(scanPositions.RegionNames) == 0 {
		return acqmodel.AcquisitionParameters{}, acqerrors.NewConfigurationError("no scan positions configured")
	}

	c.mu.Lock()
	basePath, experimentID := c.basePath, c.experimentID
	channels := append([]acqmodel.ChannelMode(nil), c.selectedConfigurations...)
	meta := c.metadata
	focusMap := c.focusMap
	genFocusMap := c.genFocusMap
	objective := c.metadata.Objective.Name
	c.mu.Unlock()

	if basePath == "" || experimentID == "" {
		return acqmodel.AcquisitionParameters{}, acqerrors.NewConfigurationError("acquisition path and experiment ID must be set before starting")
	}

	// Step 5: build the ScanPositionInformation snapshot (done above).
	root := dataset.ExperimentRoot(basePath, experimentID)
	if err := c.ds.EnsureExperimentRoot(root); err != nil {
		return acqmodel.AcquisitionParameters{}, &acqerrors.FilesystemError{Path: root, Cause: err}
	}

	// Step 6: write coordinates.csv.
	var coordRows []dataset.RegionCoordinateRow
	for _, region := range scanPositions.RegionNames {
		center := scanPositions.RegionCoordsMm[region]
		coordRows = append(coordRows, dataset.RegionCoordinateRow{Region: region, XMm: center.XMm, YMm: center.YMm, ZMm: center.ZMm})
	}
	if err := c.ds.WriteExperimentCoordinates(root, coordRows); err != nil {
		return acqmodel.AcquisitionParameters{}, &acqerrors.FilesystemError{Path: root, Cause: err}
	}

	c.mu.Lock()
	params := acqmodel.AcquisitionParameters{
		NX: c.nx, NY: c.ny, NZ: c.nz, Nt: c.nt,
		DeltaXMm: c.deltaXMm, DeltaYMm: c.deltaYMm, DeltaZMm: c.deltaZMm, DeltaTSeconds: c.deltaTSeconds,
		DoAutofocus: c.doAutofocus, DoReflectionAutofocus: c.doReflectionAutofocus,
		UsePiezo: c.usePiezo, UseFluidics: c.fluidicsRounds > 0,
		ZStacking: c.zStacking, ZRange: c.zRange,
		SelectedConfigurations:   channels,
		DisplayResolutionScaling: c.displayResolutionScaling,
		ImageFormat:              c.imageFormat,
		ExperimentID:             experimentID,
		BasePath:                 basePath,
		AcquisitionStartTime:     c.clock.Now(),
		ScanPositionInformation:  scanPositions,
	}
	c.mu.Unlock()

	if err := params.Validate(); err != nil {
		return acqmodel.AcquisitionParameters{}, err
	}

	// Step 7: write acquisition parameters.json.
	if err := c.ds.WriteAcquisitionParameters(root, params, meta); err != nil {
		return acqmodel.AcquisitionParameters{}, &acqerrors.FilesystemError{Path: root, Cause: err}
	}

	// Step 8: persist channel configs.
	if err := c.ds.WriteConfigurations(root, acqmodel.ChannelConfigurationSet{Modes: channels, Objective: objective}); err != nil {
		return acqmodel.AcquisitionParameters{}, &acqerrors.FilesystemError{Path: root, Cause: err}
	}

	// Step 9: snapshot prior live/callback/channel state.
	c.mu.Lock()
	c.wasLive = c.liveCtrl != nil && c.liveCtrl.State() == live.StateLive
	c.wasCallbackEnabled = c.camera.CallbackEnabled()
	if len(channels) > 0 {
		c.priorConfig = channels[0]
	}
	c.usedFocusMapBeforeRun = focusMap != nil
	c.mu.Unlock()

	// Step 10/11: focus map handling.
	if focusMap != nil {
		c.applyFocusMap(&scanPositions, focusMap)
	} else if genFocusMap && !doReflectionAF {
		plane, err := c.buildAutofocusPlane(ctx, scanPositions)
		if err != nil {
			acqlog.Logf("multipoint: autofocus plane generation failed, continuing without: %v", err)
		} else {
			c.applyFocusMap(&scanPositions, plane)
		}
	}
	params.ScanPositionInformation = scanPositions

	// Step 12: stop live if running, enable camera callbacks.
	lease, err := c.resources.Acquire([]acqmodel.Resource{acqmodel.CameraControl, acqmodel.IlluminationControl, acqmodel.StageControl}, ownerName, acqmodel.ModeAcquiring, nil)
	if err != nil {
		return acqmodel.AcquisitionParameters{}, err
	}
	c.mu.Lock()
	c.lease = lease
	c.mu.Unlock()

	if c.wasLive {
		if err := c.liveCtrl.StopLive(); err != nil {
			acqlog.Logf("multipoint: stop live before acquisition: %v", err)
		}
	}
	c.camera.EnableCallback()

	return params, nil
}

// applyFocusMap overwrites each FOV's Z with the map's interpolated value
// for its region (spec.md §4.8 Preparation step 10); a "__plane__"-tagged
// map is interpolated against every real region uniformly.
func (c *Controller) applyFocusMap(info *acqmodel.ScanPositionInformation, m *acqmodel.FocusMap) {
	plane := m.Region() == autoFocusPlaneRegion
	for _, region := range info.RegionNames {
		if !plane && m.Region() != region {
			continue
		}
		positions := info.RegionFOVCoordsMm[region]
		for i, pos := range positions {
			lookupRegion := region
			if plane {
				lookupRegion = autoFocusPlaneRegion
			}
			z, err := m.Interpolate(pos.XMm, pos.YMm, lookupRegion)
			if err != nil {
				continue
			}
			positions[i] = pos.WithZ(z)
		}
		info.RegionFOVCoordsMm[region] = positions
	}
}

// buildAutofocusPlane runs contrast autofocus at three bounding-box corners
// of the scan and fits a plane through the results, then recenters the
// stage (spec.md §4.8 Preparation step 11).
func (c *Controller) buildAutofocusPlane(ctx context.Context, info acqmodel.ScanPositionInformation) (*acqmodel.FocusMap, error) {
	if c.autofocusCtrl == nil {
		return nil, fmt.Errorf("no autofocus controller configured")
	}

	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, region := range info.RegionNames {
		for _, pos := range info.RegionFOVCoordsMm[region] {
			minX, maxX = math.Min(minX, pos.XMm), math.Max(maxX, pos.XMm)
			minY, maxY = math.Min(minY, pos.YMm), math.Max(maxY, pos.YMm)
		}
	}
	if math.IsInf(minX, 1) {
		return nil, fmt.Errorf("no FOVs to derive autofocus plane corners from")
	}

	current, err := c.stage.GetPosition()
	if err != nil {
		return nil, fmt.Errorf("read position before autofocus plane: %w", err)
	}

	corners := []acqmodel.Position{
		{XMm: minX, YMm: minY, ZMm: current.ZMm},
		{XMm: maxX, YMm: minY, ZMm: current.ZMm},
		{XMm: minX, YMm: maxY, ZMm: current.ZMm},
	}

	var points []acqmodel.FocusMapPoint
	for _, corner := range corners {
		if err := c.stage.MoveTo(ctx, corner); err != nil {
			return nil, fmt.Errorf("move to autofocus plane corner: %w", err)
		}
		z, ok := c.autofocusCtrl.Run(ctx, autofocus.SweepConfig{})
		if !ok {
			return nil, fmt.Errorf("autofocus did not converge at corner (%.4f, %.4f)", corner.XMm, corner.YMm)
		}
		points = append(points, acqmodel.FocusMapPoint{XMm: corner.XMm, YMm: corner.YMm, ZMm: z})
	}

	centerX, centerY := (minX+maxX)/2, (minY+maxY)/2
	if err := c.stage.MoveTo(ctx, acqmodel.Position{XMm: centerX, YMm: centerY}); err != nil {
		acqlog.Logf("multipoint: move to grid center after autofocus plane: %v", err)
	}

	return acqmodel.NewFocusMap(autoFocusPlaneRegion, points)
}

func (c *Controller) releaseLease() {
	c.mu.Lock()
	lease := c.lease
	c.lease = nil
	c.mu.Unlock()
	if lease != nil {
		c.resources.Release(lease)
	}
}

// onWorkerFinished is the bus.Subscribe handler for AcquisitionWorkerFinished
// (spec.md §4.8 "Completion"). It ignores events from a stale run ID, so a
// fast StartAcquisition -> StopAcquisition -> StartAcquisition sequence
// cannot have an old worker's completion corrupt the new run's state.
func (c *Controller) onWorkerFinished(e bus.Event) error {
	evt, ok := e.(bus.AcquisitionWorkerFinished)
	if !ok {
		return nil
	}

	c.mu.Lock()
	if evt.ExperimentID != c.activeExperimentID {
		c.mu.Unlock()
		return nil
	}
	wasLive := c.wasLive
	wasCallbackEnabled := c.wasCallbackEnabled
	priorConfig := c.priorConfig
	startPos := c.startPosition
	c.worker = nil
	c.mu.Unlock()

	if !wasCallbackEnabled {
		c.camera.DisableCallback()
	}
	if ctx := context.Background(); wasLive && c.liveCtrl != nil {
		if priorConfig.Name != "" {
			if err := c.liveCtrl.SetMicroscopeMode(ctx, priorConfig); err != nil {
				acqlog.Logf("multipoint: restore channel after run: %v", err)
			}
		}
		if err := c.liveCtrl.StartLive(ctx); err != nil {
			acqlog.Logf("multipoint: restore live mode after run: %v", err)
		}
	}
	if err := c.stage.MoveTo(context.Background(), startPos); err != nil {
		acqlog.Logf("multipoint: restore start position after run: %v", err)
	}

	c.releaseLease()

	root := dataset.ExperimentRoot(c.currentBasePath(), evt.ExperimentID)
	if err := c.ds.WriteDoneMarker(root); err != nil {
		acqlog.Logf("multipoint: write experiment done marker: %v", err)
	}

	if c.experiments != nil {
		failureReason := ""
		if !evt.Success && evt.Err != nil {
			failureReason = evt.Err.Error()
		}
		if err := c.experiments.RecordEnd(evt.ExperimentID, evt.Success, failureReason, evt.FinalFOVCount, c.clock.Now()); err != nil {
			acqlog.Logf("multipoint: record experiment end in registry: %v", err)
		}
	}

	if c.b != nil {
		c.b.Publish(bus.AcquisitionStateChanged{InProgress: false, ExperimentID: evt.ExperimentID})
	}

	final := StateCompleted
	if !evt.Success {
		final = StateFailed
		if evt.Err != nil {
			acqlog.Logf("multipoint: run %s finished with error: %v", evt.ExperimentID, evt.Err)
		}
	}
	if err := c.machine.TransitionTo(final); err != nil {
		c.machine.ForceState(final, "worker completion")
	}
	if err := c.machine.TransitionTo(StateIdle); err != nil {
		c.machine.ForceState(StateIdle, "reset after completion")
	}
	return nil
}

func (c *Controller) currentBasePath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.basePath
}
