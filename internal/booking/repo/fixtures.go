package repo

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"service-dispatch/internal/booking/domain"
)

// Seeder inserts records owned by flows outside dispatch: onboarding and
// booking creation.
type Seeder interface {
	CreateCustomer(ctx context.Context, c domain.Customer) error
	CreateProvider(ctx context.Context, p domain.Provider) error
	CreateBooking(ctx context.Context, b domain.Booking) error
}

type Fixtures struct {
	Customers []domain.Customer `yaml:"customers"`
	Providers []struct {
		ID       string `yaml:"id"`
		Name     string `yaml:"name"`
		Phone    string `yaml:"phone"`
		Verified bool   `yaml:"verified"`
		Tier     string `yaml:"tier"`
	} `yaml:"providers"`
	Bookings []struct {
		ID        string   `yaml:"id"`
		UserID    string   `yaml:"user_id"`
		ServiceID string   `yaml:"service_id"`
		Status    string   `yaml:"status"`
		Address   string   `yaml:"address"`
		Lat       *float64 `yaml:"lat"`
		Lng       *float64 `yaml:"lng"`
	} `yaml:"bookings"`
}

// LoadFixtures seeds a development database from a YAML file.
// Bookings may only start in PENDING_CONFIRMATION or CONFIRMED.
func LoadFixtures(ctx context.Context, s Seeder, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read fixtures: %w", err)
	}
	var f Fixtures
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse fixtures: %w", err)
	}

	now := time.Now().UTC()
	for _, c := range f.Customers {
		if err := s.CreateCustomer(ctx, c); err != nil {
			return err
		}
	}
	for _, p := range f.Providers {
		err := s.CreateProvider(ctx, domain.Provider{
			ID: p.ID, Name: p.Name, Phone: p.Phone, Verified: p.Verified, Tier: p.Tier,
		})
		if err != nil {
			return err
		}
	}
	for _, b := range f.Bookings {
		status := domain.Status(b.Status)
		if status == "" {
			status = domain.StatusPendingConfirmation
		}
		if status != domain.StatusPendingConfirmation && status != domain.StatusConfirmed {
			return fmt.Errorf("fixture booking %s: status %s cannot be seeded", b.ID, b.Status)
		}
		err := s.CreateBooking(ctx, domain.Booking{
			ID: b.ID, UserID: b.UserID, ServiceID: b.ServiceID, Status: status, Address: b.Address,
			AddressLat: b.Lat, AddressLng: b.Lng, CreatedAt: now, UpdatedAt: now,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
