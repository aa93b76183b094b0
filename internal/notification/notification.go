package notification

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/clubinhonerd/clubinhonerd/internal/config"
	"github.com/clubinhonerd/clubinhonerd/internal/database"
)

// EventType represents the type of event that can trigger a notification
type EventType string

const (
	EventEnrollmentCreated  EventType = "enrollment_created"
	EventEnrollmentApproved EventType = "enrollment_approved"
	EventAnnouncementPosted EventType = "announcement_posted"
	EventContactMessage     EventType = "contact_message"
)

// Recipient is someone an event is addressed to
type Recipient struct {
	Email string
	Name  string
}

// Event represents a notification event
type Event struct {
	Type    EventType
	Title   string
	Message string
	Fields  map[string]string

	// Recipients and Template drive email delivery. Template is one of the
	// embedded email templates and is executed once per recipient with
	// Data, plus the recipient's name.
	Recipients []Recipient
	ReplyTo    string
	Template   string
	Data       map[string]any

	Timestamp time.Time
}

// Provider is the interface for notification providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Send delivers the event, returning one result per attempted recipient
	Send(ctx context.Context, event Event) []Result
}

// Result is the outcome of delivering an event to one recipient
type Result struct {
	Recipient string
	Err       error
}

// Manager handles notification dispatch
type Manager struct {
	db        *database.DB
	loader    *config.Loader
	providers map[string]Provider
	mu        sync.RWMutex
	events    chan Event
	stopChan  chan struct{}
	wg        sync.WaitGroup

	// Running state
	running bool
}

// NewManager creates a new notification manager
func NewManager(db *database.DB) *Manager {
	return &Manager{
		db:        db,
		loader:    config.NewLoader(db),
		providers: make(map[string]Provider),
		events:    make(chan Event, 100),
	}
}

// RegisterProvider registers a notification provider
func (m *Manager) RegisterProvider(provider Provider) {
	m.mu.Lock()
	m.providers[provider.Name()] = provider
	m.mu.Unlock()

	log.Info().Str("provider", provider.Name()).Msg("Registered notification provider")
}

// ListProviders returns all registered provider names
func (m *Manager) ListProviders() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	return names
}

// Start starts the notification dispatcher
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	m.running = true
	stop := make(chan struct{})
	m.stopChan = stop
	m.wg.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Notification dispatcher panicked")
			}
		}()
		m.dispatcher(stop)
	})
	log.Info().Msg("Notification manager started")
}

// Stop stops the dispatcher after delivering the events already queued
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stop := m.stopChan
	m.stopChan = nil
	m.mu.Unlock()

	close(stop)
	m.wg.Wait()

	log.Info().Msg("Notification manager stopped")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Notify queues an event for notification. Events are dropped when the
// notifications.enabled setting is off or the queue is full.
func (m *Manager) Notify(event Event) {
	if !m.loader.Bool("notifications.enabled", true) {
		log.Debug().Str("type", string(event.Type)).Msg("Notifications disabled, skipping event")
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case m.events <- event:
	default:
		log.Warn().Str("type", string(event.Type)).Msg("Notification queue full, dropping event")
	}
}

// dispatcher processes events and sends notifications
func (m *Manager) dispatcher(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			m.drain()
			return
		case event := <-m.events:
			m.Dispatch(event)
		}
	}
}

func (m *Manager) drain() {
	for {
		select {
		case event := <-m.events:
			m.Dispatch(event)
		default:
			return
		}
	}
}

// Dispatch sends an event to all registered providers synchronously
func (m *Manager) Dispatch(event Event) {
	m.mu.RLock()
	providers := make([]Provider, 0, len(m.providers))
	for _, p := range m.providers {
		providers = append(providers, p)
	}
	m.mu.RUnlock()

	if len(providers) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, provider := range providers {
		for _, result := range provider.Send(ctx, event) {
			if result.Err != nil {
				log.Error().
					Err(result.Err).
					Str("provider", provider.Name()).
					Str("event", string(event.Type)).
					Str("recipient", result.Recipient).
					Msg("Failed to send notification")
			} else {
				log.Debug().
					Str("provider", provider.Name()).
					Str("event", string(event.Type)).
					Str("recipient", result.Recipient).
					Msg("Notification sent")
			}
			m.logNotification(event, provider.Name(), result)
		}
	}
}

// logNotification logs a notification attempt to the database
func (m *Manager) logNotification(event Event, provider string, result Result) {
	status := "sent"
	errMsg := ""
	if result.Err != nil {
		status = "failed"
		errMsg = result.Err.Error()
	}

	err := m.db.LogNotification(&database.NotificationLog{
		Provider:  provider,
		EventType: string(event.Type),
		Recipient: result.Recipient,
		Title:     event.Title,
		Status:    status,
		Error:     errMsg,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to log notification")
	}
}

