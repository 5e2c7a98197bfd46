package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-knowledge-backend/internal/config"
	"github.com/tbourn/go-knowledge-backend/internal/domain"
	"github.com/tbourn/go-knowledge-backend/internal/repo"
	"github.com/tbourn/go-knowledge-backend/internal/search"
	"github.com/tbourn/go-knowledge-backend/internal/services"
)

func routerTestConfig() config.Config {
	return config.Config{
		GinMode:         "test",
		APIBasePath:     "/api/v1",
		MaxContentRunes: 500_000,
		MaxUploadBytes:  5 << 20,
		ChunkMaxRunes:   1200,
		ProcessTimeout:  time.Minute,
		ProcessAsync:    false,
		RateRPS:         1000,
		RateBurst:       1000,
		OTEL:            config.OTELConfig{ServiceName: "go-knowledge-backend"},
	}
}

func newTestEngine(t *testing.T) (*gin.Engine, *services.Processor) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("router-%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	r := gin.New()
	proc := RegisterRoutes(r, db, search.NewHashedEmbedder(), routerTestConfig())
	return r, proc
}

func TestRegisterRoutes_Health(t *testing.T) {
	r, _ := newTestEngine(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status"`) {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestRegisterRoutes_NoRouteAndNoMethod(t *testing.T) {
	r, _ := newTestEngine(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/definitely/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("no route status = %d; want 404", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPatch, "/health", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("no method status = %d; want 405", w.Code)
	}
}

func TestRegisterRoutes_MetricsEndpoint(t *testing.T) {
	r, _ := newTestEngine(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "http_requests_total") {
		t.Fatalf("prometheus exposition missing expected metric")
	}
}

func TestRegisterRoutes_RequestIDAndSecurityHeaders(t *testing.T) {
	r, _ := newTestEngine(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Header().Get("X-Request-ID") == "" {
		t.Errorf("X-Request-ID missing")
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("security headers missing")
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("default CORS should allow all origins, got %q", w.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestRegisterRoutes_BucketLifecycleUnderBasePath(t *testing.T) {
	r, _ := newTestEngine(t)

	body := strings.NewReader(`{"name":"faq","bucket_type":"general"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/buckets", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "u1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d: %s", w.Code, w.Body.String())
	}
	var b domain.Bucket
	if err := json.Unmarshal(w.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/buckets/"+b.ID, nil)
	req.Header.Set("X-User-ID", "u1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("get: %d: %s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_ReturnsDrainableProcessor(t *testing.T) {
	_, proc := newTestEngine(t)
	if proc == nil {
		t.Fatalf("RegisterRoutes returned no processor handle")
	}
	// No jobs outstanding: Drain must return immediately.
	proc.Drain()
}

func TestGroupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	for _, prefix := range []string{"", "/"} {
		r := gin.New()
		g := groupWithPrefix(r, prefix)
		g.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		if w.Code != http.StatusOK {
			t.Errorf("prefix %q: status = %d", prefix, w.Code)
		}
	}
}
