package signing

import (
	"github.com/Skyvell/signing-signicat/core"
	"github.com/Skyvell/signing-signicat/webhooks"
)

type serviceBuilder struct {
	runtimeConfig     core.Config
	logger            core.Logger
	loggerProvider    core.LoggerProvider
	metricsRecorder   core.MetricsRecorder
	errorMapper       core.ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    core.ConfigProvider
	optionsResolver   core.OptionsResolver
	bundleStore       core.BundleStore
	vehicleStore      core.VehicleStore
	summaryReader     core.SummaryReader
	renderer          core.Renderer
	assembler         core.Assembler
	signRequester     core.SignRequester
	deliverer         core.Deliverer
	fanOut            core.FanOutProcessor
	trigger           core.OrchestrationTrigger
	callbackVerifier  webhooks.Verifier
	callbackLedger    webhooks.DeliveryLedger
}

func defaultServiceBuilder(cfg core.Config) serviceBuilder {
	return serviceBuilder{runtimeConfig: cfg}
}

// resolveStores fills in any store the caller did not inject directly, using
// the repository factory when one is available.
func (b *serviceBuilder) resolveStores() error {
	if b.repositoryFactory == nil {
		return nil
	}

	if b.bundleStore == nil || b.vehicleStore == nil {
		var provider core.StoreProvider
		if factory, ok := b.repositoryFactory.(core.RepositoryStoreFactory); ok {
			built, err := factory.BuildStores(b.persistenceClient)
			if err != nil {
				return err
			}
			provider = built
		} else if direct, ok := b.repositoryFactory.(core.StoreProvider); ok {
			provider = direct
		}
		if provider != nil {
			if b.bundleStore == nil {
				b.bundleStore = provider.BundleStore()
			}
			if b.vehicleStore == nil {
				b.vehicleStore = provider.VehicleStore()
			}
		}
	}

	if b.summaryReader == nil {
		if provider, ok := b.repositoryFactory.(interface{ SummaryStore() core.SummaryReader }); ok {
			b.summaryReader = provider.SummaryStore()
		}
	}
	if b.callbackLedger == nil {
		if provider, ok := b.repositoryFactory.(interface {
			CallbackLedgerStore() webhooks.DeliveryLedger
		}); ok {
			b.callbackLedger = provider.CallbackLedgerStore()
		}
	}
	return nil
}

type Option func(*serviceBuilder)

func WithLogger(logger core.Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper core.ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConfigProvider(provider core.ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver core.OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithBundleStore(store core.BundleStore) Option {
	return func(b *serviceBuilder) {
		b.bundleStore = store
	}
}

func WithVehicleStore(store core.VehicleStore) Option {
	return func(b *serviceBuilder) {
		b.vehicleStore = store
	}
}

func WithSummaryReader(reader core.SummaryReader) Option {
	return func(b *serviceBuilder) {
		b.summaryReader = reader
	}
}

func WithRenderer(renderer core.Renderer) Option {
	return func(b *serviceBuilder) {
		b.renderer = renderer
	}
}

func WithAssembler(assembler core.Assembler) Option {
	return func(b *serviceBuilder) {
		b.assembler = assembler
	}
}

func WithSignRequester(requester core.SignRequester) Option {
	return func(b *serviceBuilder) {
		b.signRequester = requester
	}
}

func WithDeliverer(deliverer core.Deliverer) Option {
	return func(b *serviceBuilder) {
		b.deliverer = deliverer
	}
}

func WithFanOutProcessor(processor core.FanOutProcessor) Option {
	return func(b *serviceBuilder) {
		b.fanOut = processor
	}
}

func WithOrchestrationTrigger(trigger core.OrchestrationTrigger) Option {
	return func(b *serviceBuilder) {
		b.trigger = trigger
	}
}

func WithCallbackVerifier(verifier webhooks.Verifier) Option {
	return func(b *serviceBuilder) {
		b.callbackVerifier = verifier
	}
}

func WithCallbackLedger(ledger webhooks.DeliveryLedger) Option {
	return func(b *serviceBuilder) {
		b.callbackLedger = ledger
	}
}
