package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"punchcard-go/internal/models"
	"punchcard-go/internal/store"

	"github.com/stretchr/testify/require"
)

type memPassStore struct {
	passes map[string]models.WalletPass
	regs   []models.Registration
}

func newMemPassStore() *memPassStore {
	return &memPassStore{passes: make(map[string]models.WalletPass)}
}

func (m *memPassStore) CreateWalletPass(_ context.Context, cardID string, userID int) (models.WalletPass, error) {
	for _, pass := range m.passes {
		if pass.CardID == cardID {
			return pass, nil
		}
	}
	token, err := models.GenerateToken()
	if err != nil {
		return models.WalletPass{}, err
	}
	pass := models.WalletPass{
		SerialNumber: "serial-" + cardID,
		CardID:       cardID,
		UserID:       userID,
		AuthToken:    token,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	m.passes[pass.SerialNumber] = pass
	return pass, nil
}

func (m *memPassStore) GetWalletPass(_ context.Context, serialNumber string) (models.WalletPass, error) {
	pass, ok := m.passes[serialNumber]
	if !ok {
		return models.WalletPass{}, store.ErrNotFound
	}
	return pass, nil
}

func (m *memPassStore) GetWalletPassByCard(_ context.Context, cardID string) (models.WalletPass, error) {
	for _, pass := range m.passes {
		if pass.CardID == cardID {
			return pass, nil
		}
	}
	return models.WalletPass{}, store.ErrNotFound
}

func (m *memPassStore) TouchWalletPass(_ context.Context, serialNumber string) error {
	if pass, ok := m.passes[serialNumber]; ok {
		pass.UpdatedAt = time.Now()
		m.passes[serialNumber] = pass
	}
	return nil
}

func (m *memPassStore) TouchWalletPassByCard(_ context.Context, cardID string) error {
	for serial, pass := range m.passes {
		if pass.CardID == cardID {
			pass.UpdatedAt = time.Now()
			m.passes[serial] = pass
		}
	}
	return nil
}

func (m *memPassStore) UpsertRegistration(_ context.Context, deviceLibraryID, passTypeID, serialNumber, pushToken string) (bool, error) {
	for i, reg := range m.regs {
		if reg.DeviceLibraryID == deviceLibraryID && reg.PassTypeID == passTypeID && reg.SerialNumber == serialNumber {
			m.regs[i].PushToken = pushToken
			m.regs[i].LastSeenAt = time.Now()
			return false, nil
		}
	}
	m.regs = append(m.regs, models.Registration{
		DeviceLibraryID: deviceLibraryID,
		PassTypeID:      passTypeID,
		SerialNumber:    serialNumber,
		PushToken:       pushToken,
		CreatedAt:       time.Now(),
		LastSeenAt:      time.Now(),
	})
	return true, nil
}

func (m *memPassStore) DeleteRegistration(_ context.Context, deviceLibraryID, passTypeID, serialNumber string) error {
	kept := m.regs[:0]
	for _, reg := range m.regs {
		if reg.DeviceLibraryID == deviceLibraryID && reg.PassTypeID == passTypeID && reg.SerialNumber == serialNumber {
			continue
		}
		kept = append(kept, reg)
	}
	m.regs = kept
	return nil
}

func (m *memPassStore) GetRegistrationsByCard(_ context.Context, cardID string) ([]models.Registration, error) {
	var out []models.Registration
	for _, reg := range m.regs {
		if pass, ok := m.passes[reg.SerialNumber]; ok && pass.CardID == cardID {
			out = append(out, reg)
		}
	}
	return out, nil
}

func (m *memPassStore) ChangedSerials(_ context.Context, deviceLibraryID, passTypeID string, since *time.Time) ([]string, time.Time, error) {
	var serials []string
	var last time.Time
	for _, reg := range m.regs {
		if reg.DeviceLibraryID != deviceLibraryID || reg.PassTypeID != passTypeID {
			continue
		}
		pass, ok := m.passes[reg.SerialNumber]
		if !ok {
			continue
		}
		if since != nil && !pass.UpdatedAt.Truncate(time.Second).After(*since) {
			continue
		}
		serials = append(serials, pass.SerialNumber)
		if pass.UpdatedAt.After(last) {
			last = pass.UpdatedAt
		}
	}
	return serials, last, nil
}

func (m *memPassStore) PurgeStaleRegistrations(_ context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	kept := m.regs[:0]
	for _, reg := range m.regs {
		if reg.LastSeenAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, reg)
	}
	m.regs = kept
	return purged, nil
}

type stubBuilder struct {
	data []byte
	err  error
}

func (s *stubBuilder) Build(_ context.Context, cardID string) ([]byte, models.WalletPass, error) {
	return s.data, models.WalletPass{CardID: cardID, UpdatedAt: time.Now()}, s.err
}

func passKitFixture(t *testing.T) (*http.ServeMux, *memPassStore, models.WalletPass) {
	t.Helper()

	passes := newMemPassStore()
	pass, err := passes.CreateWalletPass(context.Background(), "card-1", 7)
	require.NoError(t, err)

	h := &Handler{
		Passes:  passes,
		Builder: &stubBuilder{data: []byte("PK\x03\x04signed-pass")},
	}
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux, passes, pass
}

func registerRequest(pass models.WalletPass, token, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost,
		"/v1/devices/device-a/registrations/pass.com.punchcard/"+pass.SerialNumber,
		strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "ApplePass "+token)
	}
	return req
}

func TestRegisterDevice(t *testing.T) {
	mux, passes, pass := passKitFixture(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, registerRequest(pass, pass.AuthToken, `{"pushToken":"tok-1"}`))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, passes.regs, 1)

	// Same device registering again refreshes the row.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, registerRequest(pass, pass.AuthToken, `{"pushToken":"tok-2"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, passes.regs, 1)
	require.Equal(t, "tok-2", passes.regs[0].PushToken)
}

func TestRegisterDeviceBadToken(t *testing.T) {
	mux, passes, pass := passKitFixture(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, registerRequest(pass, "wrong-token", `{"pushToken":"tok-1"}`))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, passes.regs)
}

func TestRegisterDeviceUnknownSerial(t *testing.T) {
	mux, _, _ := passKitFixture(t)

	req := httptest.NewRequest(http.MethodPost,
		"/v1/devices/device-a/registrations/pass.com.punchcard/no-such-serial",
		strings.NewReader(`{"pushToken":"tok-1"}`))
	req.Header.Set("Authorization", "ApplePass anything")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterDeviceMissingPushToken(t *testing.T) {
	mux, _, pass := passKitFixture(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, registerRequest(pass, pass.AuthToken, `{}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnregisterDevice(t *testing.T) {
	mux, passes, pass := passKitFixture(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, registerRequest(pass, pass.AuthToken, `{"pushToken":"tok-1"}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	req := httptest.NewRequest(http.MethodDelete,
		"/v1/devices/device-a/registrations/pass.com.punchcard/"+pass.SerialNumber, nil)
	req.Header.Set("Authorization", "ApplePass "+pass.AuthToken)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, passes.regs)
}

func TestListChangedSerials(t *testing.T) {
	mux, _, pass := passKitFixture(t)

	listURL := "/v1/devices/device-a/registrations/pass.com.punchcard"

	// No registrations yet.
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, listURL, nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, registerRequest(pass, pass.AuthToken, `{"pushToken":"tok-1"}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, listURL, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		SerialNumbers []string `json:"serialNumbers"`
		LastUpdated   string   `json:"lastUpdated"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, []string{pass.SerialNumber}, body.SerialNumbers)
	require.NotEmpty(t, body.LastUpdated)

	// Replaying the reported watermark must not re-list the same serial,
	// even though the stored timestamp keeps sub-second precision.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, listURL+"?passesUpdatedSince="+body.LastUpdated, nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Nothing changed after a future watermark either.
	future := strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, listURL+"?passesUpdatedSince="+future, nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGetPass(t *testing.T) {
	mux, _, pass := passKitFixture(t)

	passURL := "/v1/passes/pass.com.punchcard/" + pass.SerialNumber

	req := httptest.NewRequest(http.MethodGet, passURL, nil)
	req.Header.Set("Authorization", "ApplePass "+pass.AuthToken)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/vnd.apple.pkpass", rec.Header().Get("Content-Type"))
	require.NotEmpty(t, rec.Header().Get("Last-Modified"))
	require.True(t, strings.HasPrefix(rec.Body.String(), "PK"))
}

func TestGetPassNotModified(t *testing.T) {
	mux, _, pass := passKitFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/passes/pass.com.punchcard/"+pass.SerialNumber, nil)
	req.Header.Set("Authorization", "ApplePass "+pass.AuthToken)
	req.Header.Set("If-Modified-Since", time.Now().Add(time.Minute).UTC().Format(http.TimeFormat))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotModified, rec.Code)
}

func TestGetPassUnknownSerial(t *testing.T) {
	mux, _, _ := passKitFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/passes/pass.com.punchcard/no-such-serial", nil)
	req.Header.Set("Authorization", "ApplePass anything")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetPassBadToken(t *testing.T) {
	mux, _, pass := passKitFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/passes/pass.com.punchcard/"+pass.SerialNumber, nil)
	req.Header.Set("Authorization", "ApplePass wrong-token")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDeviceLog(t *testing.T) {
	mux, _, _ := passKitFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/log", strings.NewReader(`{"logs":["could not fetch pass"]}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
