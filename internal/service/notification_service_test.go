package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"positionbot/internal/models"
)

func newTestNotificationService(repo *MockNotificationRepository, settingsRepo *MockSettingsRepository) *NotificationService {
	settings := NewSettingsService(settingsRepo, time.Minute)
	return NewNotificationService(repo, settings, 16)
}

func TestNotificationService_Deliver(t *testing.T) {
	repo := &MockNotificationRepository{}
	settingsRepo := newMockSettingsRepository()
	settingsRepo.settings[1] = models.DefaultUserSettings(1)

	svc := newTestNotificationService(repo, settingsRepo)
	hub := &MockBroadcaster{}
	svc.SetWebSocketHub(hub)

	svc.deliver(context.Background(), &models.Notification{
		Type:    models.NotificationTypeOpen,
		UserID:  1,
		Message: "позиция открыта",
	})

	if repo.savedCount() != 1 {
		t.Errorf("saved = %d, want 1", repo.savedCount())
	}
	if hub.count() != 1 {
		t.Errorf("broadcasts = %d, want 1", hub.count())
	}
}

func TestNotificationService_PrefsFilter(t *testing.T) {
	tests := []struct {
		name      string
		notifType string
		disable   func(p *models.NotificationPreferences)
		delivered bool
	}{
		{
			name:      "отключенный SL не доставляется",
			notifType: models.NotificationTypeSL,
			disable:   func(p *models.NotificationPreferences) { p.StopLoss = false },
			delivered: false,
		},
		{
			name:      "отключение SL не влияет на ликвидацию",
			notifType: models.NotificationTypeLiquidation,
			disable:   func(p *models.NotificationPreferences) { p.StopLoss = false },
			delivered: true,
		},
		{
			name:      "GHOST следует настройке ошибок API",
			notifType: models.NotificationTypeGhost,
			disable:   func(p *models.NotificationPreferences) { p.APIError = false },
			delivered: false,
		},
		{
			name:      "неизвестный тип всегда доставляется",
			notifType: "CUSTOM",
			disable:   func(p *models.NotificationPreferences) {},
			delivered: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &MockNotificationRepository{}
			settingsRepo := newMockSettingsRepository()
			s := models.DefaultUserSettings(1)
			tt.disable(&s.NotificationPrefs)
			settingsRepo.settings[1] = s

			svc := newTestNotificationService(repo, settingsRepo)
			svc.deliver(context.Background(), &models.Notification{
				Type: tt.notifType, UserID: 1, Message: "test",
			})

			got := repo.savedCount() == 1
			if got != tt.delivered {
				t.Errorf("delivered = %v, want %v", got, tt.delivered)
			}
		})
	}
}

// Системные уведомления (реконсилер, UserID == 0) не фильтруются настройками
func TestNotificationService_SystemEventsBypassPrefs(t *testing.T) {
	repo := &MockNotificationRepository{}
	settingsRepo := newMockSettingsRepository()
	svc := newTestNotificationService(repo, settingsRepo)

	svc.deliver(context.Background(), &models.Notification{
		Type: models.NotificationTypeGhost, UserID: 0, Message: "неотслеживаемая позиция",
	})

	if repo.savedCount() != 1 {
		t.Error("system notification must not be filtered")
	}
}

func TestNotificationService_SaveErrorStillBroadcasts(t *testing.T) {
	repo := &MockNotificationRepository{saveErr: errors.New("db down")}
	settingsRepo := newMockSettingsRepository()
	settingsRepo.settings[1] = models.DefaultUserSettings(1)

	svc := newTestNotificationService(repo, settingsRepo)
	hub := &MockBroadcaster{}
	svc.SetWebSocketHub(hub)

	svc.deliver(context.Background(), &models.Notification{
		Type: models.NotificationTypeClose, UserID: 1, Message: "закрыто",
	})

	if hub.count() != 1 {
		t.Error("broadcast must happen even when DB save fails")
	}
}

func TestNotificationService_RunDeliversQueued(t *testing.T) {
	repo := &MockNotificationRepository{}
	settingsRepo := newMockSettingsRepository()
	settingsRepo.settings[1] = models.DefaultUserSettings(1)
	svc := newTestNotificationService(repo, settingsRepo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	for i := 0; i < 3; i++ {
		svc.Notify(&models.Notification{
			Type: models.NotificationTypeOpen, UserID: 1, Message: "open",
		})
	}

	deadline := time.After(time.Second)
	for repo.savedCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("delivered %d of 3", repo.savedCount())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestNotificationService_NotifyFillsDefaults(t *testing.T) {
	repo := &MockNotificationRepository{}
	svc := newTestNotificationService(repo, newMockSettingsRepository())

	n := &models.Notification{Type: models.NotificationTypeError, UserID: 0}
	svc.Notify(n)

	if n.Timestamp.IsZero() {
		t.Error("timestamp not filled")
	}
	if n.Severity != models.SeverityInfo {
		t.Errorf("severity = %q, want info", n.Severity)
	}
}
