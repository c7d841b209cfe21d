package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func up(context.Context) error { return nil }

func failing(context.Context) error { return errors.New("unreachable") }

func TestRunAggregates(t *testing.T) {
	c := NewChecker()
	c.Register("worker", Ping(up, false))
	assert.Equal(t, StatusUp, c.Run(context.Background()).Status)

	c.Register("cache", Ping(failing, true))
	report := c.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, "unreachable", report.Components["cache"].Message)

	c.Register("items", Ping(failing, false))
	assert.Equal(t, StatusDown, c.Run(context.Background()).Status)
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker()
	c.Register("cache", Ping(failing, true))
	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	c.Register("worker", Ping(failing, false))
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
