package monitor

import (
	"github.com/vzahanych/engagement-edge/internal/config"
	"github.com/vzahanych/engagement-edge/internal/fallback"
	"github.com/vzahanych/engagement-edge/internal/inference"
	"github.com/vzahanych/engagement-edge/internal/landmarks"
	"github.com/vzahanych/engagement-edge/internal/loader"
	"github.com/vzahanych/engagement-edge/internal/logger"
	"github.com/vzahanych/engagement-edge/internal/models"
	"github.com/vzahanych/engagement-edge/internal/results"
	"github.com/vzahanych/engagement-edge/internal/scheduler"
	"github.com/vzahanych/engagement-edge/internal/service"
	"github.com/vzahanych/engagement-edge/internal/session"
	"github.com/vzahanych/engagement-edge/internal/state"
)

// Pipeline holds every wired component
type Pipeline struct {
	Monitor     *Monitor
	Registry    *models.Registry
	Engine      *inference.Engine
	Scheduler   *scheduler.Scheduler
	Coordinator *fallback.Coordinator
	Remote      *fallback.Client
	Queue       *results.Queue
	Transmitter *results.Transmitter
}

// Build wires the pipeline from configuration. stateMgr persists the model
// preference and the prediction log; runtime opens model sessions.
func Build(cfg *config.Config, stateMgr *state.Manager, runtime session.Runtime, log *logger.Logger) (*Pipeline, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	ec := cfg.Engagement

	registry, err := models.NewRegistry(models.RegistryConfig{
		DefaultModel:  ec.Models.DefaultModel,
		PreferenceKey: ec.Models.PreferenceKey,
		CatalogueFile: ec.Models.CatalogueFile,
	}, stateMgr, log)
	if err != nil {
		return nil, err
	}

	ld := loader.New(loader.Config{
		BaseURL:      ec.Loader.BaseURL,
		AssetPaths:   ec.Loader.AssetPaths,
		FallbackDirs: ec.Loader.FallbackDirs,
		Timeout:      ec.Loader.Timeout,
	}, runtime, log)

	engine := inference.NewEngine(inference.Config{
		IntraOpThreads:           ec.Runtime.IntraOpThreads,
		DisableGraphOptimization: ec.Runtime.DisableGraphOptimization,
		Profiling:                ec.Runtime.Profiling,
		WarmUp:                   true,
		LoadTimeout:              ec.Loader.Timeout,
	}, registry, ld, landmarks.NewPreprocessor(log), log)

	var remote *fallback.Client
	var remoteProc fallback.RemoteProcessor
	if ec.Fallback.ServiceURL != "" {
		remote = fallback.NewClient(fallback.ClientConfig{
			ServiceURL:    ec.Fallback.ServiceURL,
			Endpoint:      ec.Fallback.Endpoint,
			Timeout:       ec.Fallback.Timeout,
			RetryAttempts: ec.Fallback.RetryAttempts,
			RetryDelay:    ec.Fallback.RetryDelay,
		}, log)
		remoteProc = remote
	}

	coordinator := fallback.NewCoordinator(fallback.Config{
		MaxLocalErrors:  ec.Fallback.MaxLocalErrors,
		FPS:             ec.Scheduler.FPS,
		IntervalSeconds: ec.Scheduler.InferenceInterval.Seconds(),
	}, engine, remoteProc, log)

	queue := results.NewQueue(results.QueueConfig{
		StateManager: stateMgr,
		MaxSize:      ec.Results.QueueSize,
	}, log)

	transmitter := results.NewTransmitter(results.TransmitterConfig{
		Endpoint:             ec.Results.Endpoint,
		BatchSize:            ec.Results.BatchSize,
		TransmissionInterval: ec.Results.TransmissionInterval,
		MaxRetries:           ec.Results.MaxRetries,
	}, queue, stateMgr, log)

	active := registry.Active()
	sched := scheduler.New(scheduler.Config{
		CollectionInterval: ec.Scheduler.CollectionInterval,
		InferenceInterval:  ec.Scheduler.InferenceInterval,
		SequenceLength:     active.Input.SequenceLength,
		NumLandmarks:       active.Input.NumLandmarks,
	}, coordinator, queue, log)

	mon := New(Components{
		Engine:      engine,
		Scheduler:   sched,
		Coordinator: coordinator,
		Queue:       queue,
	}, log)

	return &Pipeline{
		Monitor:     mon,
		Registry:    registry,
		Engine:      engine,
		Scheduler:   sched,
		Coordinator: coordinator,
		Remote:      remote,
		Queue:       queue,
		Transmitter: transmitter,
	}, nil
}

// Register adds the pipeline services in start order
func (p *Pipeline) Register(mgr *service.Manager) {
	mgr.Register(p.Engine)
	mgr.Register(p.Monitor)
	mgr.Register(p.Coordinator)
	mgr.Register(p.Transmitter)
	mgr.Register(p.Scheduler)
}
