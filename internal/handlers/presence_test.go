package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/livepresence/internal/domain"
	"github.com/nfrund/livepresence/internal/handlers"
	"github.com/nfrund/livepresence/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakePresence struct {
	snap domain.PresenceSnapshot
	err  error
}

func (f *fakePresence) Snapshot(context.Context) (domain.PresenceSnapshot, error) {
	return f.snap, f.err
}

func (f *fakePresence) Status(_ context.Context, userID string) (domain.PresenceRecord, error) {
	if f.err != nil {
		return domain.PresenceRecord{}, f.err
	}
	if r, ok := f.snap.Record(userID); ok {
		return r, nil
	}
	return domain.OfflineRecord(userID), nil
}

// mockPresence implements handlers.PresenceReader with call expectations.
type mockPresence struct {
	mock.Mock
}

func (m *mockPresence) Snapshot(ctx context.Context) (domain.PresenceSnapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.PresenceSnapshot), args.Error(1)
}

func (m *mockPresence) Status(ctx context.Context, userID string) (domain.PresenceRecord, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(domain.PresenceRecord), args.Error(1)
}

func setupPresenceTest(reader handlers.PresenceReader) *echo.Echo {
	e := echo.New()
	e.Validator = handlers.NewValidator()
	h := handlers.NewPresenceHandler(reader)
	e.GET("/health", h.HealthCheck)
	e.GET("/api/presence", h.GetPresence)
	e.GET("/api/presence/:userID", h.GetUserPresence)
	return e
}

func serve(e *echo.Echo, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func testSnapshot() domain.PresenceSnapshot {
	seen := time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)
	return domain.PresenceSnapshot{
		Version: 7,
		TakenAt: seen.Add(time.Minute),
		Records: []domain.PresenceRecord{
			{UserID: "alice", Username: "Dr. Alice", IsOnline: true, LastSeen: seen, Version: 7},
			{UserID: "bob", Username: "Nurse Bob", IsOnline: false, LastSeen: seen, Version: 5},
			{UserID: "carol", Username: "Dr. Carol"},
		},
	}
}

func TestPresenceHandler_GetPresence(t *testing.T) {
	e := setupPresenceTest(&fakePresence{snap: testSnapshot()})

	rec := serve(e, "/api/presence")
	require.Equal(t, http.StatusOK, rec.Code)

	var body handlers.PresenceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, uint64(7), body.Version)
	assert.Equal(t, 1, body.Online)
	require.Len(t, body.Users, 3)
	assert.Equal(t, "alice", body.Users[0].ID)
	assert.True(t, body.Users[0].IsOnline)
	assert.NotNil(t, body.Users[1].LastSeen)
	assert.Nil(t, body.Users[2].LastSeen)
}

func TestPresenceHandler_GetUserPresence(t *testing.T) {
	e := setupPresenceTest(&fakePresence{snap: testSnapshot()})

	tests := []struct {
		name       string
		userID     string
		wantOnline bool
		wantSeen   bool
	}{
		{"online user", "alice", true, true},
		{"offline user", "bob", false, true},
		{"unknown user defaults to offline", "zed", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(e, "/api/presence/"+tt.userID)
			require.Equal(t, http.StatusOK, rec.Code)

			var entry protocol.UserEntry
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
			assert.Equal(t, tt.userID, entry.ID)
			assert.Equal(t, tt.wantOnline, entry.IsOnline)
			assert.Equal(t, tt.wantSeen, entry.LastSeen != nil)
		})
	}
}

func TestPresenceHandler_Unavailable(t *testing.T) {
	e := setupPresenceTest(&fakePresence{err: errors.New("registry closed")})

	for _, target := range []string{"/api/presence", "/api/presence/alice", "/health"} {
		rec := serve(e, target)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, target)
	}
}

func TestPresenceHandler_HealthCheck(t *testing.T) {
	e := setupPresenceTest(&fakePresence{snap: testSnapshot()})

	rec := serve(e, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body handlers.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
}

func TestPresenceHandler_UserLookupUsesStatusOnly(t *testing.T) {
	reader := &mockPresence{}
	seen := time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)
	reader.On("Status", mock.Anything, "bob").
		Return(domain.PresenceRecord{UserID: "bob", LastSeen: seen, Version: 3}, nil).
		Once()

	e := setupPresenceTest(reader)
	rec := serve(e, "/api/presence/bob")
	require.Equal(t, http.StatusOK, rec.Code)

	var entry protocol.UserEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, uint64(3), entry.Version)
	require.NotNil(t, entry.LastSeen)
	assert.True(t, seen.Equal(*entry.LastSeen))

	reader.AssertExpectations(t)
	reader.AssertNotCalled(t, "Snapshot", mock.Anything)
}
