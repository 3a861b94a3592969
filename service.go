package signing

import (
	"context"
	"fmt"
	"strings"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/Skyvell/signing-signicat/admission"
	"github.com/Skyvell/signing-signicat/continuation"
	"github.com/Skyvell/signing-signicat/core"
	"github.com/Skyvell/signing-signicat/fanout"
	"github.com/Skyvell/signing-signicat/orchestrator"
	"github.com/Skyvell/signing-signicat/webhooks"
)

// Service is the composed signing pipeline: admission gate, orchestrator,
// continuation manager and the callback processor, wired over one set of
// durable stores.
type Service struct {
	config            core.Config
	logger            core.Logger
	loggerProvider    core.LoggerProvider
	metricsRecorder   core.MetricsRecorder
	errorMapper       core.ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    core.ConfigProvider
	optionsResolver   core.OptionsResolver

	bundleStore   core.BundleStore
	vehicleStore  core.VehicleStore
	summaryReader core.SummaryReader

	renderer      core.Renderer
	assembler     core.Assembler
	signRequester core.SignRequester
	deliverer     core.Deliverer

	fanOut       core.FanOutProcessor
	continuation *continuation.Manager
	orchestrator *orchestrator.Orchestrator
	gate         *admission.Gate
	trigger      core.OrchestrationTrigger
	callbacks    *webhooks.Processor
	observer     core.Observer
}

type ServiceDependencies struct {
	Logger            core.Logger
	LoggerProvider    core.LoggerProvider
	MetricsRecorder   core.MetricsRecorder
	ErrorMapper       core.ErrorMapper
	PersistenceClient any
	RepositoryFactory any
	ConfigProvider    core.ConfigProvider
	OptionsResolver   core.OptionsResolver
	BundleStore       core.BundleStore
	VehicleStore      core.VehicleStore
	SummaryReader     core.SummaryReader
	Renderer          core.Renderer
	Assembler         core.Assembler
	SignRequester     core.SignRequester
	Deliverer         core.Deliverer
	FanOut            core.FanOutProcessor
	Trigger           core.OrchestrationTrigger
}

func NewService(cfg core.Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("signing", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("signing"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = core.NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = core.DefaultErrorMapper
	}

	finalConfig, err := core.ResolveConfig(
		context.Background(),
		builder.configProvider,
		builder.optionsResolver,
		builder.runtimeConfig,
	)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if err := builder.resolveStores(); err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	if builder.bundleStore == nil || builder.vehicleStore == nil {
		return nil, fmt.Errorf("signing: bundle and vehicle stores are required")
	}
	if builder.renderer == nil || builder.assembler == nil || builder.signRequester == nil || builder.deliverer == nil {
		return nil, fmt.Errorf("signing: renderer, assembler, sign requester and deliverer are required")
	}

	observer := core.Observer{Logger: logger, Metrics: builder.metricsRecorder}

	fanOut := builder.fanOut
	if fanOut == nil {
		processor := fanout.NewProcessor(finalConfig.FanOut)
		processor.Observer = observer
		fanOut = processor
	}

	manager, err := continuation.NewManager(builder.bundleStore, finalConfig.Wait)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	manager.Observer = observer

	orch, err := orchestrator.New(orchestrator.Config{
		Bundles:       builder.bundleStore,
		Vehicles:      builder.vehicleStore,
		Renderer:      builder.renderer,
		Assembler:     builder.assembler,
		SignRequester: builder.signRequester,
		Deliverer:     builder.deliverer,
		FanOut:        fanOut,
		Continuation:  manager,
		Observer:      observer,
	})
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	trigger := builder.trigger
	if trigger == nil {
		trigger = orchestrator.Trigger{Orchestrator: orch}
	}
	manager.Trigger = trigger

	gate, err := admission.New(admission.Config{
		Bundles:  builder.bundleStore,
		Vehicles: builder.vehicleStore,
		Trigger:  trigger,
		Observer: observer,
	})
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	var callbacks *webhooks.Processor
	if builder.callbackVerifier != nil && builder.callbackLedger != nil {
		callbacks = webhooks.NewProcessor(builder.callbackVerifier, builder.callbackLedger, manager)
		callbacks.ClaimLease = finalConfig.Callback.ClaimLease
		callbacks.MaxAttempts = finalConfig.Callback.MaxAttempts
		callbacks.Observer = observer
	}

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		bundleStore:       builder.bundleStore,
		vehicleStore:      builder.vehicleStore,
		summaryReader:     builder.summaryReader,
		renderer:          builder.renderer,
		assembler:         builder.assembler,
		signRequester:     builder.signRequester,
		deliverer:         builder.deliverer,
		fanOut:            fanOut,
		continuation:      manager,
		orchestrator:      orch,
		gate:              gate,
		trigger:           trigger,
		callbacks:         callbacks,
		observer:          observer,
	}, nil
}

func Setup(cfg core.Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper core.ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() core.Config {
	if s == nil {
		return core.Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metricsRecorder,
		ErrorMapper:       s.errorMapper,
		PersistenceClient: s.persistenceClient,
		RepositoryFactory: s.repositoryFactory,
		ConfigProvider:    s.configProvider,
		OptionsResolver:   s.optionsResolver,
		BundleStore:       s.bundleStore,
		VehicleStore:      s.vehicleStore,
		SummaryReader:     s.summaryReader,
		Renderer:          s.renderer,
		Assembler:         s.assembler,
		SignRequester:     s.signRequester,
		Deliverer:         s.deliverer,
		FanOut:            s.fanOut,
		Trigger:           s.trigger,
	}
}

// Callbacks returns the inbound callback processor, or nil when no verifier
// and ledger were configured.
func (s *Service) Callbacks() *webhooks.Processor {
	if s == nil {
		return nil
	}
	return s.callbacks
}

func (s *Service) IngestBatch(ctx context.Context, rows []core.BatchRow) (core.IngestReport, error) {
	if s == nil || s.gate == nil {
		return core.IngestReport{}, fmt.Errorf("signing: service is not configured")
	}
	report, err := s.gate.IngestBatch(ctx, rows)
	if err != nil {
		return core.IngestReport{}, mapBuildError(s.errorMapper, err)
	}
	return report, nil
}

func (s *Service) ResumeSigning(ctx context.Context, msg core.CallbackMessage) (core.ResumeResult, error) {
	if s == nil || s.continuation == nil {
		return core.ResumeResult{}, fmt.Errorf("signing: service is not configured")
	}
	result, err := s.continuation.Resume(ctx, msg)
	if err != nil {
		return core.ResumeResult{}, mapBuildError(s.errorMapper, err)
	}
	return result, nil
}

func (s *Service) ExpireWaits(ctx context.Context, limit int) ([]string, error) {
	if s == nil || s.continuation == nil {
		return nil, fmt.Errorf("signing: service is not configured")
	}
	if limit <= 0 {
		limit = s.config.Wait.SweepBatchSize
	}
	expired, err := s.continuation.SweepExpired(ctx, limit)
	if err != nil {
		return nil, mapBuildError(s.errorMapper, err)
	}
	return expired, nil
}

// RedeliverVehicle retries delivery for a single failed vehicle after its
// bundle settled as partially failed. The bundle status stays terminal; only
// the vehicle record advances.
func (s *Service) RedeliverVehicle(ctx context.Context, bundleID string, contractID string) (core.Vehicle, error) {
	if s == nil || s.vehicleStore == nil || s.deliverer == nil {
		return core.Vehicle{}, fmt.Errorf("signing: service is not configured")
	}
	bundleID = strings.TrimSpace(bundleID)
	contractID = strings.TrimSpace(contractID)
	if bundleID == "" || contractID == "" {
		return core.Vehicle{}, core.NewValidationError("signing: bundle id and contract id are required")
	}

	bundle, err := s.bundleStore.GetBundle(ctx, bundleID)
	if err != nil {
		return core.Vehicle{}, mapBuildError(s.errorMapper, err)
	}
	if strings.TrimSpace(bundle.SignedArtifactRef) == "" {
		return core.Vehicle{}, core.NewValidationError(
			fmt.Sprintf("signing: bundle %s has no signed artifact to deliver", bundleID),
		)
	}

	vehicle, err := s.vehicleStore.GetVehicle(ctx, bundleID, contractID)
	if err != nil {
		return core.Vehicle{}, mapBuildError(s.errorMapper, err)
	}
	if vehicle.Status == core.VehicleStatusDelivered {
		return vehicle, nil
	}
	if vehicle.Status != core.VehicleStatusDeliveryFailed {
		return core.Vehicle{}, core.NewValidationError(
			fmt.Sprintf("signing: vehicle %s/%s is %s, not delivery_failed", bundleID, contractID, vehicle.Status),
		)
	}

	result, deliverErr := s.deliverer.DeliverContract(ctx, core.DeliverRequest{
		BundleID:          bundleID,
		ContractID:        contractID,
		SignedArtifactRef: bundle.SignedArtifactRef,
		SigningLogRef:     bundle.SigningLogRef,
	})
	if deliverErr != nil {
		if _, markErr := s.vehicleStore.MarkVehicleDeliveryFailed(ctx, bundleID, contractID, deliverErr.Error()); markErr != nil {
			s.observer.LogWarn(ctx, "redelivery failure could not be recorded", map[string]any{
				"bundle_id":   bundleID,
				"contract_id": contractID,
				"error":       markErr.Error(),
			})
		}
		return core.Vehicle{}, mapBuildError(s.errorMapper, deliverErr)
	}

	delivered, err := s.vehicleStore.MarkVehicleDelivered(ctx, bundleID, contractID, result.DeliveryID, result.Receipt)
	if err != nil {
		return core.Vehicle{}, mapBuildError(s.errorMapper, err)
	}
	return delivered, nil
}

// RunBundle drives one bundle through its pending stages, the same entry the
// orchestration trigger fires after admission.
func (s *Service) RunBundle(ctx context.Context, bundleID string) error {
	if s == nil || s.orchestrator == nil {
		return fmt.Errorf("signing: service is not configured")
	}
	return s.orchestrator.Run(ctx, bundleID)
}

func (s *Service) GetBundleSummary(ctx context.Context, bundleID string) (core.BundleSummary, error) {
	if s == nil || s.summaryReader == nil {
		return core.BundleSummary{}, fmt.Errorf("signing: summary reader is not configured")
	}
	summary, err := s.summaryReader.GetBundleSummary(ctx, bundleID)
	if err != nil {
		return core.BundleSummary{}, mapBuildError(s.errorMapper, err)
	}
	return summary, nil
}

func (s *Service) ListTransitions(ctx context.Context, bundleID string) ([]core.BundleTransition, error) {
	if s == nil || s.bundleStore == nil {
		return nil, fmt.Errorf("signing: service is not configured")
	}
	transitions, err := s.bundleStore.ListTransitions(ctx, bundleID)
	if err != nil {
		return nil, mapBuildError(s.errorMapper, err)
	}
	return transitions, nil
}

func (s *Service) GetVehicle(ctx context.Context, bundleID, contractID string) (core.Vehicle, error) {
	if s == nil || s.vehicleStore == nil {
		return core.Vehicle{}, fmt.Errorf("signing: service is not configured")
	}
	vehicle, err := s.vehicleStore.GetVehicle(ctx, bundleID, contractID)
	if err != nil {
		return core.Vehicle{}, mapBuildError(s.errorMapper, err)
	}
	return vehicle, nil
}

func (s *Service) ListVehicles(ctx context.Context, bundleID string) ([]core.Vehicle, error) {
	if s == nil || s.vehicleStore == nil {
		return nil, fmt.Errorf("signing: service is not configured")
	}
	vehicles, err := s.vehicleStore.ListVehicles(ctx, bundleID)
	if err != nil {
		return nil, mapBuildError(s.errorMapper, err)
	}
	return vehicles, nil
}
