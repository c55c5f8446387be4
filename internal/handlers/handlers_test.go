package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"schoolbus-backend/internal/middleware"
	"schoolbus-backend/internal/models"
	"schoolbus-backend/internal/services"
)

const testSecret = "handler-secret"

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	return sqlx.NewDb(mockDB, "postgres"), mock
}

func asUser(req *http.Request, userID, role string) *http.Request {
	return req.WithContext(middleware.WithUser(req.Context(), middleware.UserClaims{UserID: userID, Role: role}))
}

func withURLParams(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestLogin(t *testing.T) {
	db, mock := newMockDB(t)

	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)

	userRow := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "email", "password", "name", "role", "school_id", "created_at", "updated_at"}).
			AddRow("u1", "parent@example.com", string(hash), "Pat", "parent", "school-1", int64(1), int64(1))
	}
	mock.ExpectQuery(`FROM users WHERE email = \$1`).WithArgs("parent@example.com").WillReturnRows(userRow())
	mock.ExpectQuery(`FROM users WHERE email = \$1`).WithArgs("parent@example.com").WillReturnRows(userRow())

	handler := Login(db, testSecret)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"parent@example.com","password":"correct-horse"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	claims, err := middleware.ParseToken(testSecret, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "parent", claims.Role)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"parent@example.com","password":"wrong"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUploadScans(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO scan_events`).
		WithArgs("s1-1000", "s1", "Al", "boarding", "t1", int64(1000), "d1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT school_id FROM students`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"school_id"}).AddRow("school-1"))
	mock.ExpectExec(`INSERT INTO passenger_status`).
		WithArgs("t1", "s1", "school-1", "boarded", int64(1000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO scan_events`).
		WithArgs("s2-900", "s2", "Bo", "boarding", nil, int64(900), "d1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	body := `{"scans":[
		{"id":"s1-1000","student_id":"s1","student_name":"Al","action":"boarding","trip_id":"t1","captured_at":1000},
		{"id":"s2-900","student_id":"s2","student_name":"Bo","action":"boarding","captured_at":900}
	]}`
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/driver/scans", strings.NewReader(body)), "d1", "driver")
	rec := httptest.NewRecorder()
	UploadScans(db).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp models.ScanUploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.ScanUploadResponse{Success: true, Received: 2, Stored: 1, Updated: 1}, resp)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUploadScans_RejectsInvalidBatch(t *testing.T) {
	db, mock := newMockDB(t)

	cases := map[string]string{
		"empty":           `{"scans":[]}`,
		"bad action":      `{"scans":[{"id":"s1-1","student_id":"s1","action":"waving","captured_at":1}]}`,
		"missing id":      `{"scans":[{"student_id":"s1","action":"boarding","captured_at":1}]}`,
		"not json":        `scans`,
		"missing capture": `{"scans":[{"id":"s1-1","student_id":"s1","action":"boarding"}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			req := asUser(httptest.NewRequest(http.MethodPost, "/api/driver/scans", strings.NewReader(body)), "d1", "driver")
			rec := httptest.NewRecorder()
			UploadScans(db).ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDriverRoster(t *testing.T) {
	db, mock := newMockDB(t)

	rec := httptest.NewRecorder()
	GetDriverRoster(db).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/driver/roster", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	mock.ExpectQuery(`FROM students s`).
		WithArgs("school-1", "t1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "school_id", "route_id", "name", "full_name", "display_name",
			"first_name", "last_name", "latitude", "longitude", "status"}).
			AddRow("s1", "school-1", nil, nil, "Ali Hassan", nil, nil, nil, 24.8, 46.7, "absent"))

	rec = httptest.NewRecorder()
	GetDriverRoster(db).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/driver/roster?school_id=school-1&trip_id=t1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.RosterResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Students, 1)
	assert.Equal(t, "Ali Hassan", resp.Students[0].Name)
	assert.Equal(t, "absent", resp.Students[0].Status)
	require.NotNil(t, resp.TripID)
	assert.Equal(t, "t1", *resp.TripID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetPassengerStatus(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`INSERT INTO passenger_status`).
		WithArgs("t1", "s1", "absent", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"school_id"}).AddRow("school-1"))

	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"status":"absent"}`))
	req = withURLParams(req, map[string]string{"tripId": "t1", "studentId": "s1"})
	rec := httptest.NewRecorder()
	SetPassengerStatus(db).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Status models.PassengerStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "school-1", resp.Status.SchoolID)
	require.NoError(t, mock.ExpectationsWereMet())

	req = httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"status":"asleep"}`))
	req = withURLParams(req, map[string]string{"tripId": "t1", "studentId": "s1"})
	rec = httptest.NewRecorder()
	SetPassengerStatus(db).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetPassengerStatus_SchoolComesFromStudent(t *testing.T) {
	db, mock := newMockDB(t)

	// A school in the body is not a parameter of the write
	mock.ExpectQuery(`SELECT \$1, s.id, s.school_id, \$3, \$4\s+FROM students s`).
		WithArgs("t1", "s1", "boarded", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"school_id"}).AddRow("school-1"))

	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"school_id":"school-9","status":"boarded"}`))
	req = withURLParams(req, map[string]string{"tripId": "t1", "studentId": "s1"})
	rec := httptest.NewRecorder()
	SetPassengerStatus(db).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Status models.PassengerStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "school-1", resp.Status.SchoolID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetPassengerStatus_UnknownStudent(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`INSERT INTO passenger_status`).
		WithArgs("t1", "ghost", "absent", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"school_id"}))

	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"status":"absent"}`))
	req = withURLParams(req, map[string]string{"tripId": "t1", "studentId": "ghost"})
	rec := httptest.NewRecorder()
	SetPassengerStatus(db).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOptimizeRoute(t *testing.T) {
	body := `{
		"school": {"latitude": 24.7136, "longitude": 46.6753},
		"students": [
			{"id": "B", "name": "B", "latitude": 24.72, "longitude": 46.68, "status": "pending"},
			{"id": "A", "name": "A", "latitude": 24.80, "longitude": 46.70, "status": "pending"},
			{"id": "C", "name": "C", "status": "pending"}
		]
	}`
	rec := httptest.NewRecorder()
	OptimizeRoute(services.NewRouteOptimizer()).ServeHTTP(rec,
		httptest.NewRequest(http.MethodPost, "/api/driver/route/optimize", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var summary models.RouteSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.Len(t, summary.Stops, 2)
	assert.Equal(t, "A", summary.Stops[0].Student.ID)
	assert.Equal(t, 1, summary.Stops[0].Order)
	assert.Equal(t, "B", summary.Stops[1].Student.ID)
	assert.Equal(t, 3, summary.Stats.Total)
	assert.Equal(t, 1, summary.Stats.WithoutLocation)
}

func TestRegisterFCMToken(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(`INSERT INTO fcm_tokens`).
		WithArgs("p1", "tok", "ios", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	req := asUser(httptest.NewRequest(http.MethodPost, "/api/fcm-token",
		strings.NewReader(`{"token":"tok","device_type":"ios"}`)), "p1", "parent")
	rec := httptest.NewRecorder()
	RegisterFCMToken(db).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationsInbox(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`FROM notifications`).
		WithArgs("p1", 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "parent_id", "title", "body", "created_at", "read",
			"kind", "status", "student_id", "student_name", "trip_id", "school_id"}).
			AddRow("n1", "p1", "On Bus 🚌", "Ali is boarded.", int64(10), false,
				"passengerStatus", "boarded", "s1", "Ali", "t1", "school-1"))

	rec := httptest.NewRecorder()
	ListNotifications(db).ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/parent/notifications", nil), "p1", "parent"))
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)["notifications"].([]interface{})
	require.Len(t, list, 1)
	first := list[0].(map[string]interface{})
	assert.Equal(t, "On Bus 🚌", first["title"])
	assert.Equal(t, "passengerStatus", first["data"].(map[string]interface{})["kind"])

	mock.ExpectExec(`UPDATE notifications SET read = TRUE`).
		WithArgs("n9", "p1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	req := asUser(httptest.NewRequest(http.MethodPatch, "/", nil), "p1", "parent")
	req = withURLParams(req, map[string]string{"id": "n9"})
	rec = httptest.NewRecorder()
	MarkNotificationRead(db).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	ListNotifications(db).ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/parent/notifications?limit=0", nil), "p1", "parent"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.NoError(t, mock.ExpectationsWereMet())
}
