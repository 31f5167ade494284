package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	apperrors "github.com/louisbranch/motorpool/internal/platform/errors"
	"github.com/louisbranch/motorpool/internal/services/fleet/domain/car"
	"github.com/louisbranch/motorpool/internal/services/fleet/domain/event"
	"github.com/louisbranch/motorpool/internal/services/fleet/projection"
	"github.com/louisbranch/motorpool/internal/services/fleet/service"
	"github.com/louisbranch/motorpool/internal/services/fleet/storage/memory"
	"github.com/louisbranch/motorpool/internal/services/fleet/storage/sqlite"
)

type testServer struct {
	handler http.Handler
	manager *projection.Manager
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	events, err := sqlite.OpenEvents(filepath.Join(t.TempDir(), "events.sqlite"))
	if err != nil {
		t.Fatalf("open events store: %v", err)
	}
	t.Cleanup(func() { _ = events.Close() })
	docs := memory.New()
	svc, err := service.New(events, docs, service.DefaultOptions())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	manager, err := projection.NewManager(events, docs, projection.Handlers(), projection.Options{}, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return testServer{handler: NewHandler(svc, manager), manager: manager}
}

func (s testServer) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s testServer) catchUp(t *testing.T) {
	t.Helper()
	if err := s.manager.CatchUp(context.Background()); err != nil {
		t.Fatalf("catch up: %v", err)
	}
}

func (s testServer) createCar(t *testing.T, body string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/cars", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want %d (body %s)", rec.Code, http.StatusCreated, rec.Body.String())
	}
	var created createdResponse
	decode(t, rec, &created)
	if created.ID == "" {
		t.Fatal("expected car id")
	}
	return created.ID
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
}

func TestCreateCarAndReadLive(t *testing.T) {
	srv := newTestServer(t)
	id := srv.createCar(t, `{"latitude": 5, "longitude": 7}`)

	rec := srv.do(t, http.MethodPut, "/cars/"+id+"/location", `{"latitude": 6, "longitude": 8, "expected_version": 1}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("update status = %d, want %d (body %s)", rec.Code, http.StatusNoContent, rec.Body.String())
	}
	if got := rec.Header().Get("X-Car-Version"); got != "2" {
		t.Fatalf("X-Car-Version = %q, want %q", got, "2")
	}

	rec = srv.do(t, http.MethodGet, "/cars/"+id+"/live", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("live status = %d, want %d", rec.Code, http.StatusOK)
	}
	var state car.State
	decode(t, rec, &state)
	if state.CurrentPosition.Latitude != 6 || state.CurrentPosition.Longitude != 8 || state.Version != 2 {
		t.Fatalf("state = %+v, want version 2 at {6 8}", state)
	}
}

func TestCreateCarWithoutBodyStartsAtOrigin(t *testing.T) {
	srv := newTestServer(t)
	id := srv.createCar(t, "")

	rec := srv.do(t, http.MethodGet, "/cars/"+id+"/live", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("live status = %d, want %d", rec.Code, http.StatusOK)
	}
	var state car.State
	decode(t, rec, &state)
	if state.Version != 1 || state.InitialPosition == nil || *state.InitialPosition != (car.Position{}) || state.CurrentPosition != (car.Position{}) {
		t.Fatalf("state = %+v, want version 1 at origin", state)
	}
}

func TestStaleVersionReturnsConflict(t *testing.T) {
	srv := newTestServer(t)
	id := srv.createCar(t, `{"latitude": 0, "longitude": 0}`)
	srv.do(t, http.MethodPut, "/cars/"+id+"/location", `{"latitude": 1, "longitude": 1}`)

	rec := srv.do(t, http.MethodPut, "/cars/"+id+"/location", `{"latitude": 2, "longitude": 2, "expected_version": 1}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
	var body errorBody
	decode(t, rec, &body)
	if body.Code != apperrors.CodeConcurrencyConflict {
		t.Fatalf("code = %s, want %s", body.Code, apperrors.CodeConcurrencyConflict)
	}
}

func TestPositionReadModelLags(t *testing.T) {
	srv := newTestServer(t)
	id := srv.createCar(t, `{"latitude": 3, "longitude": 4}`)

	rec := srv.do(t, http.MethodGet, "/cars/"+id+"/position", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status before catch up = %d, want %d", rec.Code, http.StatusNotFound)
	}

	srv.catchUp(t)
	rec = srv.do(t, http.MethodGet, "/cars/"+id+"/position", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var position projection.CurrentPosition
	decode(t, rec, &position)
	if position.CarID != id || position.Latitude != 3 || position.Longitude != 4 {
		t.Fatalf("position = %+v, want %s at {3 4}", position, id)
	}
}

func TestMaintenanceRoutes(t *testing.T) {
	srv := newTestServer(t)
	id := srv.createCar(t, `{"latitude": 0, "longitude": 0}`)

	for _, body := range []string{
		`{"id": 1, "name": "Oil", "description": "Change oil"}`,
		`{"id": 2, "name": "Tires"}`,
		`{"id": 1, "checked": true}`,
	} {
		rec := srv.do(t, http.MethodPut, "/cars/"+id+"/maintenance", body)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("upsert status = %d, want %d (body %s)", rec.Code, http.StatusNoContent, rec.Body.String())
		}
	}
	rec := srv.do(t, http.MethodDelete, "/cars/"+id+"/maintenance/2", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("remove status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	srv.catchUp(t)

	rec = srv.do(t, http.MethodGet, "/cars/"+id+"/maintenance", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("plan status = %d, want %d", rec.Code, http.StatusOK)
	}
	var plan projection.MaintenancePlan
	decode(t, rec, &plan)
	if len(plan.Items) != 1 || plan.Items[0].ID != 1 || !plan.Items[0].Checked || plan.Items[0].Name != "Oil" {
		t.Fatalf("plan = %+v, want checked Oil only", plan)
	}

	rec = srv.do(t, http.MethodDelete, "/cars/"+id+"/maintenance/abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad item id status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestGenericReadModel(t *testing.T) {
	srv := newTestServer(t)
	id := srv.createCar(t, `{"latitude": 9, "longitude": 1}`)
	srv.catchUp(t)

	rec := srv.do(t, http.MethodGet, "/read-models/"+projection.ModelCurrentPosition+"/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	var doc documentView
	decode(t, rec, &doc)
	if doc.Model != projection.ModelCurrentPosition || doc.CarID != id || doc.LastSeq != 1 {
		t.Fatalf("doc = %+v, want %s/%s at seq 1", doc, projection.ModelCurrentPosition, id)
	}

	rec = srv.do(t, http.MethodGet, "/read-models/odometer/"+id, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown model status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestEventsRoutes(t *testing.T) {
	srv := newTestServer(t)
	first := srv.createCar(t, `{"latitude": 0, "longitude": 0}`)
	srv.createCar(t, `{"latitude": 1, "longitude": 1}`)
	srv.do(t, http.MethodPut, "/cars/"+first+"/location", `{"latitude": 2, "longitude": 2}`)

	rec := srv.do(t, http.MethodGet, "/cars/"+first+"/events", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("car events status = %d, want %d", rec.Code, http.StatusOK)
	}
	var carEvents eventsResponse
	decode(t, rec, &carEvents)
	if len(carEvents.Events) != 2 || carEvents.Events[1].StreamSeq != 2 {
		t.Fatalf("car events = %+v, want two in stream order", carEvents.Events)
	}
	last := carEvents.Events[1]
	payload, err := event.Decode(last.Type, last.Payload)
	if err != nil {
		t.Fatalf("decode payload %s: %v", last.Payload, err)
	}
	if want := (event.LocationUpdated{Latitude: 2, Longitude: 2}); payload != want {
		t.Fatalf("payload = %+v, want %+v", payload, want)
	}

	rec = srv.do(t, http.MethodGet, "/events?after=1&limit=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("events status = %d, want %d", rec.Code, http.StatusOK)
	}
	var page eventsResponse
	decode(t, rec, &page)
	if len(page.Events) != 1 || page.Events[0].GlobalSeq != 2 || page.NextAfter != 2 {
		t.Fatalf("page = %+v, want global seq 2", page)
	}

	rec = srv.do(t, http.MethodGet, "/events?filter="+url.QueryEscape(`stream_id = "`+first+`"`), "")
	var filtered eventsResponse
	decode(t, rec, &filtered)
	if len(filtered.Events) != 2 {
		t.Fatalf("filtered = %d events, want 2", len(filtered.Events))
	}

	rec = srv.do(t, http.MethodGet, "/events?limit=x", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestProjectionRoutes(t *testing.T) {
	srv := newTestServer(t)
	srv.createCar(t, `{"latitude": 0, "longitude": 0}`)
	srv.catchUp(t)

	rec := srv.do(t, http.MethodGet, "/projections", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp projectionsResponse
	decode(t, rec, &resp)
	if len(resp.Projections) != 2 {
		t.Fatalf("projections = %d, want 2", len(resp.Projections))
	}
	for _, status := range resp.Projections {
		if status.Checkpoint != 1 || status.Lag != 0 {
			t.Fatalf("status = %+v, want checkpoint 1 and no lag", status)
		}
	}

	rec = srv.do(t, http.MethodPost, "/projections/"+projection.NameCurrentPosition+"/rebuild", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("rebuild status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	rec = srv.do(t, http.MethodPost, "/projections/odometer/rebuild", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown rebuild status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestProjectionRoutesDisabled(t *testing.T) {
	handler := NewHandler(nil, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/projections", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestErrorsAreLocalized(t *testing.T) {
	srv := newTestServer(t)
	missing := uuid.NewString()

	rec := srv.do(t, http.MethodGet, "/cars/"+missing+"/live", "", "Accept-Language", "pt-BR,pt;q=0.9")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	var body errorBody
	decode(t, rec, &body)
	if body.Message != "Car não encontrado" {
		t.Fatalf("message = %q, want %q", body.Message, "Car não encontrado")
	}
	if got := rec.Header().Get("Content-Language"); got != "pt-BR" {
		t.Fatalf("Content-Language = %q, want pt-BR", got)
	}
}

func TestInvalidRequests(t *testing.T) {
	srv := newTestServer(t)
	id := srv.createCar(t, `{"latitude": 0, "longitude": 0}`)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		field  string
	}{
		{name: "empty body", method: http.MethodPut, path: "/cars/" + id + "/location", body: "", field: "body"},
		{name: "unknown field", method: http.MethodPost, path: "/cars", body: `{"speed": 3}`, field: "body"},
		{name: "malformed car id", method: http.MethodGet, path: "/cars/car-1/live", field: "car_id"},
		{name: "item id", method: http.MethodPut, path: "/cars/" + id + "/maintenance", body: `{"id": 0}`, field: "item_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, tt.method, tt.path, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusBadRequest, rec.Body.String())
			}
			var body errorBody
			decode(t, rec, &body)
			if body.Field != tt.field {
				t.Fatalf("field = %q, want %q", body.Field, tt.field)
			}
		})
	}
}
