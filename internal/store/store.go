package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"device-relay-backend/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	EnsureAdmin(ctx context.Context, admin *model.Admin) error
	GetAdminByUsername(ctx context.Context, username string) (*model.Admin, error)

	UpsertDevice(ctx context.Context, device *model.Device) error
	GetDevice(ctx context.Context, deviceID string) (*model.Device, error)
	ListDevicesForAdmin(ctx context.Context, adminID string) ([]model.Device, error)
	SetDeviceConnected(ctx context.Context, deviceID string, connected bool, at time.Time) error

	CreateSession(ctx context.Context, session *model.Session) error
	GetActiveSession(ctx context.Context, deviceID string, now time.Time) (*model.Session, error)
	DeactivateSessions(ctx context.Context, deviceID string) error

	AppendActivity(ctx context.Context, activity *model.Activity) error
	ListActivity(ctx context.Context, deviceID string, limit int) ([]model.Activity, error)

	CreateCommand(ctx context.Context, command *model.Command) error
	UpdateCommandResult(ctx context.Context, commandID string, status model.CommandStatus, output, errMsg string, at time.Time) error
	ListPendingCommands(ctx context.Context, deviceID string) ([]model.Command, error)

	UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeleteSubscription(ctx context.Context, adminID, endpoint string) error
	GetSubscription(ctx context.Context, adminID, endpoint string) (*model.PushSubscription, error)
	ListSubscriptionsForAdmin(ctx context.Context, adminID string) ([]model.PushSubscription, error)

	Cleanup(ctx context.Context, now time.Time) (CleanupResult, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db        *gorm.DB
	retention Retention
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB, retention Retention) Store {
	if retention.Activity <= 0 {
		retention.Activity = DefaultRetention.Activity
	}
	if retention.Commands <= 0 {
		retention.Commands = DefaultRetention.Commands
	}
	return &gormStore{db: db, retention: retention}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// EnsureAdmin creates the admin if the username is unknown and refreshes its password hash otherwise.
func (s *gormStore) EnsureAdmin(ctx context.Context, admin *model.Admin) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		DoUpdates: clause.AssignmentColumns([]string{"password_hash", "updated_at"}),
	}).Create(admin).Error
	if err != nil {
		return fmt.Errorf("failed to ensure admin %q: %w", admin.Username, err)
	}
	return nil
}

func (s *gormStore) GetAdminByUsername(ctx context.Context, username string) (*model.Admin, error) {
	var admin model.Admin
	if err := s.db.WithContext(ctx).First(&admin, "username = ?", username).Error; err != nil {
		return nil, notFound(err)
	}
	return &admin, nil
}

// UpsertDevice inserts the device or replaces its mutable columns.
func (s *gormStore) UpsertDevice(ctx context.Context, device *model.Device) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"admin_id", "name", "model", "android_version", "info", "connected", "last_seen", "updated_at",
		}),
	}).Create(device).Error
	if err != nil {
		return fmt.Errorf("failed to upsert device %s: %w", device.ID, err)
	}
	return nil
}

func (s *gormStore) GetDevice(ctx context.Context, deviceID string) (*model.Device, error) {
	var device model.Device
	if err := s.db.WithContext(ctx).First(&device, "id = ?", deviceID).Error; err != nil {
		return nil, notFound(err)
	}
	return &device, nil
}

func (s *gormStore) ListDevicesForAdmin(ctx context.Context, adminID string) ([]model.Device, error) {
	var devices []model.Device
	if err := s.db.WithContext(ctx).
		Where("admin_id = ?", adminID).
		Order("connected DESC, name ASC").
		Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("failed to list devices for admin %s: %w", adminID, err)
	}
	return devices, nil
}

func (s *gormStore) SetDeviceConnected(ctx context.Context, deviceID string, connected bool, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&model.Device{}).
		Where("id = ?", deviceID).
		Updates(map[string]any{"connected": connected, "last_seen": at})
	if res.Error != nil {
		return fmt.Errorf("failed to update connected flag for device %s: %w", deviceID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) CreateSession(ctx context.Context, session *model.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("failed to create session for device %s: %w", session.DeviceID, err)
	}
	return nil
}

// GetActiveSession returns the newest session that is active and not yet expired.
func (s *gormStore) GetActiveSession(ctx context.Context, deviceID string, now time.Time) (*model.Session, error) {
	var session model.Session
	err := s.db.WithContext(ctx).
		Where("device_id = ? AND active = ? AND expires_at > ?", deviceID, true, now).
		Order("created_at DESC").
		First(&session).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &session, nil
}

func (s *gormStore) DeactivateSessions(ctx context.Context, deviceID string) error {
	err := s.db.WithContext(ctx).
		Model(&model.Session{}).
		Where("device_id = ? AND active = ?", deviceID, true).
		Update("active", false).Error
	if err != nil {
		return fmt.Errorf("failed to deactivate sessions for device %s: %w", deviceID, err)
	}
	return nil
}

func (s *gormStore) AppendActivity(ctx context.Context, activity *model.Activity) error {
	if activity.ID == "" {
		activity.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(activity).Error; err != nil {
		return fmt.Errorf("failed to append activity %s: %w", activity.Action, err)
	}
	return nil
}

// ListActivity returns the newest entries first. A non-positive limit defaults to 50.
func (s *gormStore) ListActivity(ctx context.Context, deviceID string, limit int) ([]model.Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	var activities []model.Activity
	if err := s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("created_at DESC").
		Limit(limit).
		Find(&activities).Error; err != nil {
		return nil, fmt.Errorf("failed to list activity for device %s: %w", deviceID, err)
	}
	return activities, nil
}

func (s *gormStore) CreateCommand(ctx context.Context, command *model.Command) error {
	if command.ID == "" {
		command.ID = uuid.NewString()
	}
	command.Status = model.CommandPending
	if err := s.db.WithContext(ctx).Create(command).Error; err != nil {
		return fmt.Errorf("failed to create command for device %s: %w", command.DeviceID, err)
	}
	return nil
}

// UpdateCommandResult moves a pending command to a terminal status exactly once.
func (s *gormStore) UpdateCommandResult(ctx context.Context, commandID string, status model.CommandStatus, output, errMsg string, at time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Command{}).
			Where("id = ? AND status = ?", commandID, model.CommandPending).
			Updates(map[string]any{
				"status":      status,
				"output":      output,
				"error":       errMsg,
				"executed_at": at,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update command %s: %w", commandID, res.Error)
		}
		if res.RowsAffected > 0 {
			return nil
		}

		var count int64
		if err := tx.Model(&model.Command{}).Where("id = ?", commandID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to look up command %s: %w", commandID, err)
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrCommandFinal
	})
}

func (s *gormStore) ListPendingCommands(ctx context.Context, deviceID string) ([]model.Command, error) {
	var commands []model.Command
	if err := s.db.WithContext(ctx).
		Where("device_id = ? AND status = ?", deviceID, model.CommandPending).
		Order("created_at ASC").
		Find(&commands).Error; err != nil {
		return nil, fmt.Errorf("failed to list pending commands for device %s: %w", deviceID, err)
	}
	return commands, nil
}

func (s *gormStore) UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"admin_id", "p256dh", "auth"}),
	}).Create(sub).Error
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, adminID, endpoint string) error {
	if err := s.db.WithContext(ctx).
		Where("admin_id = ? AND endpoint = ?", adminID, endpoint).
		Delete(&model.PushSubscription{}).Error; err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

func (s *gormStore) GetSubscription(ctx context.Context, adminID, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	if err := s.db.WithContext(ctx).
		First(&sub, "admin_id = ? AND endpoint = ?", adminID, endpoint).Error; err != nil {
		return nil, notFound(err)
	}
	return &sub, nil
}

func (s *gormStore) ListSubscriptionsForAdmin(ctx context.Context, adminID string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Where("admin_id = ?", adminID).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscriptions for admin %s: %w", adminID, err)
	}
	return subs, nil
}

// Cleanup expires stale sessions and deletes rows strictly older than the
// retention windows. Running it twice with no writes in between changes nothing
// the second time.
func (s *gormStore) Cleanup(ctx context.Context, now time.Time) (CleanupResult, error) {
	var result CleanupResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Session{}).
			Where("active = ? AND expires_at <= ?", true, now).
			Update("active", false)
		if res.Error != nil {
			return fmt.Errorf("failed to expire sessions: %w", res.Error)
		}
		result.SessionsExpired = res.RowsAffected

		res = tx.Where("created_at < ?", now.Add(-s.retention.Activity)).Delete(&model.Activity{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete old activity: %w", res.Error)
		}
		result.ActivitiesDeleted = res.RowsAffected

		res = tx.Where("created_at < ?", now.Add(-s.retention.Commands)).Delete(&model.Command{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete old commands: %w", res.Error)
		}
		result.CommandsDeleted = res.RowsAffected
		return nil
	})
	if err != nil {
		return CleanupResult{}, err
	}
	return result, nil
}
