package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/preop/preop/internal/platform/auth"
)

// newHandlerServer mounts the handler behind a stub auth middleware that
// injects the given staff role.
func newHandlerServer(svc *Service, role string) *echo.Echo {
	e := echo.New()
	api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := context.WithValue(c.Request().Context(), auth.UserRoleKey, role)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	NewHandler(svc).RegisterRoutes(api)
	return e
}

func TestHandler_ListAndGet(t *testing.T) {
	mock := &MockSMSSender{}
	svc := newTestService(mock)

	sent := &Notification{Recipient: "+34600111222", Body: "hola"}
	_ = svc.Send(context.Background(), sent)
	mock.ShouldFail = true
	mock.FailError = "gateway down"
	failed := &Notification{Recipient: "+34600333444", Body: "recordatorio"}
	_ = svc.Send(context.Background(), failed)

	e := newHandlerServer(svc, auth.RoleNurse)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listed []*Notification
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 records, got %d", len(listed))
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/notifications/"+failed.ID, nil))
	if rec.Code != http.StatusOK {
		t.Errorf("get status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/notifications/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown id, got %d", rec.Code)
	}
}

func TestHandler_RetryFailedDelivery(t *testing.T) {
	mock := &MockSMSSender{ShouldFail: true, FailError: "gateway down"}
	svc := newTestService(mock)

	n := &Notification{Recipient: "+34600111222", Body: "hola"}
	_ = svc.Send(context.Background(), n)

	mock.ShouldFail = false
	e := newHandlerServer(svc, auth.RoleOwner)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/notifications/"+n.ID+"/retry", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("retry status = %d: %s", rec.Code, rec.Body.String())
	}
	var got Notification
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode retry response: %v", err)
	}
	if got.Status != "sent" {
		t.Errorf("expected status sent after retry, got %s", got.Status)
	}

	// A sent record cannot be retried again.
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/notifications/"+n.ID+"/retry", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for re-retry, got %d", rec.Code)
	}
}

func TestHandler_RejectsMissingRole(t *testing.T) {
	svc := newTestService(&MockSMSSender{})
	e := newHandlerServer(svc, "")

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 without staff role, got %d", rec.Code)
	}
}
