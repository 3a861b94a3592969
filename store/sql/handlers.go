package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func bundleHandlers() repository.ModelHandlers[*bundleRecord] {
	return repository.ModelHandlers[*bundleRecord]{
		NewRecord: func() *bundleRecord {
			return &bundleRecord{}
		},
		GetID: func(record *bundleRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *bundleRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *bundleRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func vehicleHandlers() repository.ModelHandlers[*vehicleRecord] {
	return repository.ModelHandlers[*vehicleRecord]{
		NewRecord: func() *vehicleRecord {
			return &vehicleRecord{}
		},
		GetID: func(record *vehicleRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *vehicleRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *vehicleRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func callbackDeliveryHandlers() repository.ModelHandlers[*callbackDeliveryRecord] {
	return repository.ModelHandlers[*callbackDeliveryRecord]{
		NewRecord: func() *callbackDeliveryRecord {
			return &callbackDeliveryRecord{}
		},
		GetID: func(record *callbackDeliveryRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *callbackDeliveryRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *callbackDeliveryRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
