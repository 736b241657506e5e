package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"propflow.app/assist/internal/http/handler"
	"propflow.app/assist/internal/http/middleware"
	"propflow.app/assist/internal/model"
)

var _ = Describe("EscalationHandler", func() {
	var (
		router      *gin.Engine
		escalations *mockEscalationStore
	)

	newRequest := func(method, path string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-1")
		req.Header.Set("X-User-ID", "user-1")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	pendingEscalation := func() *model.Escalation {
		return &model.Escalation{
			ID:             5,
			TenantID:       "tenant-1",
			ConversationID: 42,
			Capability:     "send_email",
			Arguments:      json.RawMessage(`{"to":"max@test.de"}`),
			Status:         model.EscalationPending,
		}
	}

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		escalations = &mockEscalationStore{}
		h := handler.NewEscalationHandler(escalations)

		group := router.Group("/escalations")
		group.Use(middleware.Identity())
		group.GET("", h.ListPending)
		group.POST("/:escalation_id/decision", h.Decide)
	})

	It("lists pending escalations for the tenant", func() {
		escalations.listPendingFn = func(_ context.Context, tenantID string) ([]model.Escalation, error) {
			Expect(tenantID).To(Equal("tenant-1"))
			return []model.Escalation{*pendingEscalation()}, nil
		}

		w := newRequest(http.MethodGet, "/escalations", nil)

		Expect(w.Code).To(Equal(http.StatusOK))
		var resp map[string][]map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["escalations"]).To(HaveLen(1))
		Expect(resp["escalations"][0]["capability"]).To(Equal("send_email"))
		Expect(resp["escalations"][0]["status"]).To(Equal("pending"))
	})

	It("approves a pending escalation", func() {
		var decidedStatus model.EscalationStatus
		escalations.getByIDFn = func(_ context.Context, id int64) (*model.Escalation, error) {
			return pendingEscalation(), nil
		}
		escalations.updateStatusFn = func(_ context.Context, id int64, status model.EscalationStatus) error {
			Expect(id).To(Equal(int64(5)))
			decidedStatus = status
			return nil
		}

		body, _ := json.Marshal(map[string]string{"decision": "approve"})
		w := newRequest(http.MethodPost, "/escalations/5/decision", body)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(decidedStatus).To(Equal(model.EscalationApproved))

		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["status"]).To(Equal("approved"))
	})

	It("rejects a pending escalation", func() {
		var decidedStatus model.EscalationStatus
		escalations.getByIDFn = func(_ context.Context, id int64) (*model.Escalation, error) {
			return pendingEscalation(), nil
		}
		escalations.updateStatusFn = func(_ context.Context, id int64, status model.EscalationStatus) error {
			decidedStatus = status
			return nil
		}

		body, _ := json.Marshal(map[string]string{"decision": "reject"})
		w := newRequest(http.MethodPost, "/escalations/5/decision", body)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(decidedStatus).To(Equal(model.EscalationRejected))
	})

	It("refuses an unknown decision verb", func() {
		body, _ := json.Marshal(map[string]string{"decision": "maybe"})
		w := newRequest(http.MethodPost, "/escalations/5/decision", body)

		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("hides escalations belonging to another tenant", func() {
		escalations.getByIDFn = func(_ context.Context, id int64) (*model.Escalation, error) {
			esc := pendingEscalation()
			esc.TenantID = "tenant-2"
			return esc, nil
		}

		body, _ := json.Marshal(map[string]string{"decision": "approve"})
		w := newRequest(http.MethodPost, "/escalations/5/decision", body)

		Expect(w.Code).To(Equal(http.StatusNotFound))
	})

	It("conflicts on an already decided escalation", func() {
		escalations.getByIDFn = func(_ context.Context, id int64) (*model.Escalation, error) {
			esc := pendingEscalation()
			esc.Status = model.EscalationApproved
			return esc, nil
		}

		body, _ := json.Marshal(map[string]string{"decision": "reject"})
		w := newRequest(http.MethodPost, "/escalations/5/decision", body)

		Expect(w.Code).To(Equal(http.StatusConflict))
	})
})
