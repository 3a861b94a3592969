package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"

	"github.com/Skyvell/signing-signicat/core"
	"github.com/Skyvell/signing-signicat/webhooks"
)

type RepositoryFactory struct {
	db *bun.DB

	bundleStore         *BundleStore
	vehicleStore        *VehicleStore
	callbackLedgerStore *CallbackLedgerStore
	summaryStore        *SummaryStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.bundleStore != nil && f.vehicleStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) BundleStore() core.BundleStore {
	if f == nil {
		return nil
	}
	return f.bundleStore
}

func (f *RepositoryFactory) VehicleStore() core.VehicleStore {
	if f == nil {
		return nil
	}
	return f.vehicleStore
}

func (f *RepositoryFactory) CallbackLedgerStore() webhooks.DeliveryLedger {
	if f == nil || f.callbackLedgerStore == nil {
		return nil
	}
	return f.callbackLedgerStore
}

func (f *RepositoryFactory) SummaryStore() core.SummaryReader {
	if f == nil || f.summaryStore == nil {
		return nil
	}
	return f.summaryStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) initStores() error {
	bundleStore, err := NewBundleStore(f.db)
	if err != nil {
		return err
	}
	f.bundleStore = bundleStore
	vehicleStore, err := NewVehicleStore(f.db)
	if err != nil {
		return err
	}
	f.vehicleStore = vehicleStore
	callbackLedgerStore, err := NewCallbackLedgerStore(f.db)
	if err != nil {
		return err
	}
	f.callbackLedgerStore = callbackLedgerStore
	summaryStore, err := NewSummaryStore(bundleStore, vehicleStore)
	if err != nil {
		return err
	}
	f.summaryStore = summaryStore

	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
