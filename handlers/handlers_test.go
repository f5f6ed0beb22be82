package handlers_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/stitchbot/stitchbot/handlers"
	"github.com/stitchbot/stitchbot/logger"
	"github.com/stitchbot/stitchbot/models"
	"github.com/stitchbot/stitchbot/orchestrator"
	"github.com/stitchbot/stitchbot/p2p"
	"github.com/stitchbot/stitchbot/repository"
	"github.com/stitchbot/stitchbot/routers"
)

type mockRepo struct {
	mu      sync.Mutex
	records map[string]*models.StitchRecord
	failAll bool
}

func newMockRepo() *mockRepo {
	return &mockRepo{records: make(map[string]*models.StitchRecord)}
}

func (m *mockRepo) PutStitch(rec *models.StitchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *rec
	m.records[rec.ID] = &copy
	return nil
}

func (m *mockRepo) GetStitch(id string) (*models.StitchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *rec
	return &copy, nil
}

func (m *mockRepo) GetAllStitches() ([]*models.StitchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return nil, fmt.Errorf("leveldb: closed")
	}
	res := make([]*models.StitchRecord, 0, len(m.records))
	for _, rec := range m.records {
		copy := *rec
		res = append(res, &copy)
	}
	// newest first, like the leveldb repository
	for i := 1; i < len(res); i++ {
		for j := i; j > 0 && res[j].CreatedAt > res[j-1].CreatedAt; j-- {
			res[j], res[j-1] = res[j-1], res[j]
		}
	}
	return res, nil
}

type staticStatus orchestrator.Status

func (s staticStatus) Status() orchestrator.Status { return orchestrator.Status(s) }

func testServer(hub http.Handler) (*mux.Router, *mockRepo) {
	logger.Logger = zap.NewNop()

	mockRepo := newMockRepo()
	status := staticStatus{LiveBlocks: 42, Capacity: 10000, Processed: 50, LastBlock: "abc", Stitches: 2}
	handler := handlers.NewHandler(status, mockRepo)
	router := mux.NewRouter()
	routers.RegisterRoutes(router, handler, hub)
	return router, mockRepo
}

func seed(repo *mockRepo) {
	repo.PutStitch(&models.StitchRecord{ID: "s1", WeakBlock: "w1", Status: models.StitchHealed, TxID: "tx1", CreatedAt: 1})
	repo.PutStitch(&models.StitchRecord{ID: "s2", WeakBlock: "w2", Status: models.StitchTimeout, CreatedAt: 2})
	repo.PutStitch(&models.StitchRecord{ID: "s3", WeakBlock: "w3", Status: models.StitchHealed, TxID: "tx3", CreatedAt: 3})
}

type listResponse struct {
	Count    int                    `json:"count"`
	Stitches []*models.StitchRecord `json:"stitches"`
}

func TestGetStatus(t *testing.T) {
	router, _ := testServer(nil)

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/status", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d, body: %s", res.Code, res.Body.String())
	}
	if ct := res.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected JSON content type, got %q", ct)
	}

	var got orchestrator.Status
	if err := json.Unmarshal(res.Body.Bytes(), &got); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if got.LiveBlocks != 42 || got.Capacity != 10000 || got.Stitches != 2 || got.LastBlock != "abc" {
		t.Fatalf("unexpected status %+v", got)
	}
}

func TestListStitches(t *testing.T) {
	router, repo := testServer(nil)
	seed(repo)

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/stitches", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d, body: %s", res.Code, res.Body.String())
	}

	var got listResponse
	if err := json.Unmarshal(res.Body.Bytes(), &got); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if got.Count != 3 || len(got.Stitches) != 3 {
		t.Fatalf("expected 3 stitches, got %d", got.Count)
	}
	if got.Stitches[0].ID != "s3" {
		t.Fatalf("expected newest stitch first, got %s", got.Stitches[0].ID)
	}
}

func TestListStitches_FilterAndLimit(t *testing.T) {
	router, repo := testServer(nil)
	seed(repo)

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/stitches?status=healed&limit=1", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d, body: %s", res.Code, res.Body.String())
	}

	var got listResponse
	if err := json.Unmarshal(res.Body.Bytes(), &got); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if got.Count != 1 || got.Stitches[0].ID != "s3" {
		t.Fatalf("expected only s3, got %+v", got.Stitches)
	}
}

func TestListStitches_BadLimit(t *testing.T) {
	router, _ := testServer(nil)

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/stitches?limit=-2", nil))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d, body: %s", res.Code, res.Body.String())
	}
}

func TestListStitches_RepositoryError(t *testing.T) {
	router, repo := testServer(nil)
	repo.failAll = true

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/stitches", nil))
	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d, body: %s", res.Code, res.Body.String())
	}
}

func TestGetStitch(t *testing.T) {
	router, repo := testServer(nil)
	seed(repo)

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/stitches/s1", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d, body: %s", res.Code, res.Body.String())
	}

	var got models.StitchRecord
	if err := json.Unmarshal(res.Body.Bytes(), &got); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if got.WeakBlock != "w1" || got.TxID != "tx1" {
		t.Fatalf("unexpected record %+v", got)
	}
}

func TestGetStitch_NotFound(t *testing.T) {
	router, _ := testServer(nil)

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/stitches/nope", nil))
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d, body: %s", res.Code, res.Body.String())
	}
}

func TestPeerEndpoint(t *testing.T) {
	hub := p2p.NewHub()
	defer hub.Close()
	router, _ := testServer(hub)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/p2p"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial /p2p: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.PeerCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 1 peer, got %d", hub.PeerCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
