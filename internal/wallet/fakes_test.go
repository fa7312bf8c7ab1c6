package wallet

import (
	"context"
	"time"

	"punchcard-go/internal/models"
	"punchcard-go/internal/store"

	"github.com/google/uuid"
)

type fakeCards struct {
	orgs  map[string]models.Organization
	cards map[string]models.Card
}

func (f *fakeCards) GetCard(_ context.Context, id string) (models.Card, error) {
	card, ok := f.cards[id]
	if !ok {
		return models.Card{}, store.ErrNotFound
	}
	return card, nil
}

func (f *fakeCards) GetOrganization(_ context.Context, id string) (models.Organization, error) {
	org, ok := f.orgs[id]
	if !ok {
		return models.Organization{}, store.ErrNotFound
	}
	return org, nil
}

type fakePasses struct {
	bySerial map[string]models.WalletPass
	regs     []models.Registration

	touchedSerials []string
	touchedCards   []string
	deletedDevices []string
}

func newFakePasses() *fakePasses {
	return &fakePasses{bySerial: make(map[string]models.WalletPass)}
}

func (f *fakePasses) CreateWalletPass(_ context.Context, cardID string, userID int) (models.WalletPass, error) {
	for _, pass := range f.bySerial {
		if pass.CardID == cardID {
			return pass, nil
		}
	}
	token, err := models.GenerateToken()
	if err != nil {
		return models.WalletPass{}, err
	}
	pass := models.WalletPass{
		SerialNumber: uuid.NewString(),
		CardID:       cardID,
		UserID:       userID,
		AuthToken:    token,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	f.bySerial[pass.SerialNumber] = pass
	return pass, nil
}

func (f *fakePasses) GetWalletPass(_ context.Context, serialNumber string) (models.WalletPass, error) {
	pass, ok := f.bySerial[serialNumber]
	if !ok {
		return models.WalletPass{}, store.ErrNotFound
	}
	return pass, nil
}

func (f *fakePasses) GetWalletPassByCard(_ context.Context, cardID string) (models.WalletPass, error) {
	for _, pass := range f.bySerial {
		if pass.CardID == cardID {
			return pass, nil
		}
	}
	return models.WalletPass{}, store.ErrNotFound
}

func (f *fakePasses) TouchWalletPass(_ context.Context, serialNumber string) error {
	if pass, ok := f.bySerial[serialNumber]; ok {
		pass.UpdatedAt = time.Now()
		f.bySerial[serialNumber] = pass
	}
	f.touchedSerials = append(f.touchedSerials, serialNumber)
	return nil
}

func (f *fakePasses) TouchWalletPassByCard(_ context.Context, cardID string) error {
	f.touchedCards = append(f.touchedCards, cardID)
	return nil
}

func (f *fakePasses) GetRegistrationsByCard(_ context.Context, cardID string) ([]models.Registration, error) {
	return f.regs, nil
}

func (f *fakePasses) DeleteRegistration(_ context.Context, deviceLibraryID, passTypeID, serialNumber string) error {
	f.deletedDevices = append(f.deletedDevices, deviceLibraryID)
	kept := f.regs[:0]
	for _, reg := range f.regs {
		if reg.DeviceLibraryID == deviceLibraryID && reg.PassTypeID == passTypeID && reg.SerialNumber == serialNumber {
			continue
		}
		kept = append(kept, reg)
	}
	f.regs = kept
	return nil
}
