package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"hydra-fleet-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
	"github.com/google/uuid"
)

// DeviceRepository is the persisted side of the device registry. Documents
// are keyed by the stable hardware identifier, which gives CouchDB native
// upsert-by-external-identifier semantics.
type DeviceRepository interface {
	Upsert(ctx context.Context, hardwareID string, info domain.DeviceInfo) (*domain.Device, error)
	FindByHardwareID(ctx context.Context, hardwareID string) (*domain.Device, error)
	FindByID(ctx context.Context, id string) (*domain.Device, error)
	List(ctx context.Context) ([]*domain.Device, error)
	SetFields(ctx context.Context, hardwareID string, fields map[string]interface{}) error
}

type deviceRepository struct {
	client *kivik.Client
	dbName string
}

func NewDeviceRepository(client *kivik.Client, dbName string) DeviceRepository {
	return &deviceRepository{
		client: client,
		dbName: dbName,
	}
}

func docID(hardwareID string) string {
	return fmt.Sprintf("device:%s", hardwareID)
}

func (r *deviceRepository) Upsert(ctx context.Context, hardwareID string, info domain.DeviceInfo) (*domain.Device, error) {
	db := r.client.DB(r.dbName)

	var rawDoc map[string]interface{}
	row := db.Get(ctx, docID(hardwareID))
	if err := row.ScanDoc(&rawDoc); err != nil {
		// First contact: enroll the device.
		now := time.Now()
		device := &domain.Device{
			ID:           uuid.New().String(),
			HardwareID:   hardwareID,
			Name:         info.Name,
			Model:        info.Model,
			Manufacturer: info.Manufacturer,
			OSVersion:    info.OSVersion,
			PolicyStatus: domain.PolicyNormal,
			LastSeen:     now,
			CreatedAt:    now,
		}
		if _, err := db.Put(ctx, docID(hardwareID), device); err != nil {
			return nil, fmt.Errorf("failed to create device: %w", err)
		}
		return device, nil
	}

	if info.Name != "" {
		rawDoc["name"] = info.Name
	}
	if info.Model != "" {
		rawDoc["model"] = info.Model
	}
	if info.Manufacturer != "" {
		rawDoc["manufacturer"] = info.Manufacturer
	}
	if info.OSVersion != "" {
		rawDoc["os_version"] = info.OSVersion
	}

	if _, err := db.Put(ctx, docID(hardwareID), rawDoc); err != nil {
		return nil, fmt.Errorf("failed to update device: %w", err)
	}

	return r.FindByHardwareID(ctx, hardwareID)
}

func (r *deviceRepository) FindByHardwareID(ctx context.Context, hardwareID string) (*domain.Device, error) {
	db := r.client.DB(r.dbName)

	row := db.Get(ctx, docID(hardwareID))

	var device domain.Device
	if err := row.ScanDoc(&device); err != nil {
		return nil, fmt.Errorf("failed to find device: %w", err)
	}

	return &device, nil
}

func (r *deviceRepository) FindByID(ctx context.Context, id string) (*domain.Device, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"id":          id,
			"hardware_id": map[string]interface{}{"$exists": true},
		},
		"limit": 1,
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query device: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, fmt.Errorf("device not found")
	}

	var device domain.Device
	if err := rows.ScanDoc(&device); err != nil {
		return nil, fmt.Errorf("failed to scan device: %w", err)
	}

	return &device, nil
}

func (r *deviceRepository) List(ctx context.Context) ([]*domain.Device, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"hardware_id": map[string]interface{}{"$exists": true},
		},
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []*domain.Device
	for rows.Next() {
		var device domain.Device
		if err := rows.ScanDoc(&device); err != nil {
			continue // Skip malformed docs
		}
		devices = append(devices, &device)
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].LastSeen.After(devices[j].LastSeen)
	})

	return devices, nil
}

func (r *deviceRepository) SetFields(ctx context.Context, hardwareID string, fields map[string]interface{}) error {
	db := r.client.DB(r.dbName)

	var rawDoc map[string]interface{}
	row := db.Get(ctx, docID(hardwareID))
	if err := row.ScanDoc(&rawDoc); err != nil {
		return fmt.Errorf("failed to load device for update: %w", err)
	}

	for key, value := range fields {
		rawDoc[key] = value
	}

	if _, err := db.Put(ctx, docID(hardwareID), rawDoc); err != nil {
		return fmt.Errorf("failed to update device fields: %w", err)
	}

	return nil
}
