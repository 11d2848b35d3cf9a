package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/zentrochat/zentro/internal/localstore"
)

type fixedClients int

func (n fixedClients) ClientCount() int { return int(n) }

func TestHealthReportsClientsAndLocalStoreSize(t *testing.T) {
	gin.SetMode(gin.TestMode)
	local, err := localstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("localstore.Open() error = %v", err)
	}
	defer local.Close()

	router := gin.New()
	router.GET("/health", healthHandler(fixedClients(3), local))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health status = %d, want 200", w.Code)
	}

	var body struct {
		Status          string  `json:"status"`
		Clients         int     `json:"clients"`
		LocalStoreBytes float64 `json:"local_store_bytes"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Status != "ok" || body.Clients != 3 {
		t.Errorf("health = %+v, want ok with 3 clients", body)
	}
	if body.LocalStoreBytes != float64(local.DiskUsage()) {
		t.Errorf("local_store_bytes = %v, want %d", body.LocalStoreBytes, local.DiskUsage())
	}
}
