// Package customer is the narrow customer collaborator: profile
// records and KYC status, dispatching CUSTOMER_* events for the bridge.
package customer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nexum/internal/storage"
	"nexum/pkg/apperr"
	"nexum/pkg/clock"
	"nexum/pkg/events"
)

// KYCStatus is the customer's verification state.
type KYCStatus string

// KYC statuses.
const (
	KYCPending  KYCStatus = "PENDING"
	KYCVerified KYCStatus = "VERIFIED"
	KYCRejected KYCStatus = "REJECTED"
	KYCExpired  KYCStatus = "EXPIRED"
)

// Customer is a bank customer.
type Customer struct {
	ID        string    `msgpack:"id"`
	FullName  string    `msgpack:"full_name"`
	Email     string    `msgpack:"email"`
	Phone     string    `msgpack:"phone,omitempty"`
	Country   string    `msgpack:"country,omitempty"`
	KYCStatus KYCStatus `msgpack:"kyc_status"`
	CreatedAt time.Time `msgpack:"created_at"`
	UpdatedAt time.Time `msgpack:"updated_at"`
}

// Manager owns customer records.
type Manager struct {
	store      storage.Storage
	dispatcher events.Dispatcher
	clock      clock.Clock
	logger     *zap.Logger
}

// NewManager creates a Manager.
func NewManager(store storage.Storage, dispatcher events.Dispatcher, clk clock.Clock, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, dispatcher: dispatcher, clock: clk, logger: logger}
}

// Create persists a new customer in KYC PENDING state.
func (m *Manager) Create(ctx context.Context, fullName, email, phone, country string) (*Customer, error) {
	const op = "customer.Create"
	if fullName == "" {
		return nil, apperr.E(apperr.Validation, op, "full name is required")
	}
	now := m.clock.Now()
	c := Customer{
		ID:        uuid.NewString(),
		FullName:  fullName,
		Email:     email,
		Phone:     phone,
		Country:   country,
		KYCStatus: KYCPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Save(ctx, storage.TableCustomers, c.ID, c); err != nil {
		return nil, err
	}
	m.publish(events.CustomerCreated, c.ID, map[string]any{
		"full_name":  c.FullName,
		"kyc_status": string(c.KYCStatus),
	})
	return &c, nil
}

// Get loads a customer.
func (m *Manager) Get(ctx context.Context, id string) (*Customer, error) {
	var c Customer
	if err := m.store.Load(ctx, storage.TableCustomers, id, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Update persists profile mutations. KYC status moves through SetKYCStatus.
func (m *Manager) Update(ctx context.Context, c Customer) (*Customer, error) {
	existing, err := m.Get(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	existing.FullName = c.FullName
	existing.Email = c.Email
	existing.Phone = c.Phone
	existing.Country = c.Country
	existing.UpdatedAt = m.clock.Now()
	if err := m.store.Save(ctx, storage.TableCustomers, existing.ID, existing); err != nil {
		return nil, err
	}
	m.publish(events.CustomerUpdated, existing.ID, map[string]any{
		"full_name": existing.FullName,
	})
	return existing, nil
}

// SetKYCStatus transitions the KYC state and dispatches
// CUSTOMER_KYC_CHANGED.
func (m *Manager) SetKYCStatus(ctx context.Context, id string, status KYCStatus) (*Customer, error) {
	const op = "customer.SetKYCStatus"
	switch status {
	case KYCPending, KYCVerified, KYCRejected, KYCExpired:
	default:
		return nil, apperr.Ef(apperr.Validation, op, "unknown kyc status %q", status)
	}
	c, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	previous := c.KYCStatus
	c.KYCStatus = status
	c.UpdatedAt = m.clock.Now()
	if err := m.store.Save(ctx, storage.TableCustomers, c.ID, c); err != nil {
		return nil, err
	}
	m.publish(events.CustomerKYCChanged, c.ID, map[string]any{
		"previous_status": string(previous),
		"new_status":      string(status),
	})
	return c, nil
}

func (m *Manager) publish(kind events.Kind, customerID string, data map[string]any) {
	m.dispatcher.Publish(events.Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		EntityType: "customer",
		EntityID:   customerID,
		Data:       data,
		Timestamp:  m.clock.Now(),
	})
}
