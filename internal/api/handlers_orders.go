package api

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/salesdesk/internal/command"
	"example.com/backstage/services/salesdesk/internal/models"
	"example.com/backstage/services/salesdesk/internal/render"
	"example.com/backstage/services/salesdesk/internal/rules"
	"example.com/backstage/services/salesdesk/internal/store"
)

// orderVisible reports whether the employee may see the order. Admins
// see everything, sales employees their own orders, delivery accounts
// the delivery queue.
func orderVisible(emp models.Employee, o models.Order) bool {
	switch emp.Role {
	case models.RoleAdmin:
		return true
	case models.RoleEmployee:
		return o.EmployeeID == emp.ID
	case models.RoleDelivery:
		return o.Status == models.OrderScheduled || o.Status == models.OrderFulfilled
	}
	return false
}

func (s *Server) handleListOrders(c *gin.Context) {
	emp := currentEmployee(c)
	orders := s.store.Snapshot().Orders()

	visible := orders[:0]
	for _, o := range orders {
		if orderVisible(emp, o) {
			visible = append(visible, o)
		}
	}

	c.JSON(http.StatusOK, gin.H{"orders": visible})
}

func (s *Server) handleGetOrder(c *gin.Context) {
	snap := s.store.Snapshot()

	order, ok := snap.Order(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	if !orderVisible(currentEmployee(c), order) {
		c.JSON(http.StatusForbidden, gin.H{"error": "order not accessible"})
		return
	}

	body := gin.H{"order": order}
	if client, ok := snap.Client(order.ClientID); ok {
		body["client"] = client
	}
	if order.InvoiceID != "" {
		if inv, ok := snap.Invoice(order.InvoiceID); ok {
			body["invoice"] = inv
		}
	}
	c.JSON(http.StatusOK, body)
}

type createOrderRequest struct {
	LeadID string            `json:"lead_id" binding:"required"`
	Lines  []models.LineItem `json:"lines" binding:"required"`
}

func (s *Server) handleCreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Clients retrying a timed-out submit reuse the same key and get the
	// original order back instead of a duplicate.
	idemKey := c.GetHeader("Idempotency-Key")
	if idemKey == "" {
		idemKey = uuid.NewString()
	}

	s.submit(c, command.KindCreateOrder, command.CreateOrderPayload{
		LeadID: req.LeadID,
		Lines:  req.Lines,
	}, idemKey)
}

type generateInvoiceRequest struct {
	Supersede bool `json:"supersede"`
}

func (s *Server) handleGenerateInvoice(c *gin.Context) {
	var req generateInvoiceRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	s.submit(c, command.KindGenerateInvoice, command.GenerateInvoicePayload{
		OrderID:   c.Param("id"),
		Supersede: req.Supersede,
	}, "")
}

func (s *Server) handleMarkPaid(c *gin.Context) {
	s.submit(c, command.KindMarkPaid, command.MarkPaidPayload{OrderID: c.Param("id")}, "")
}

type scheduleDeliveryRequest struct {
	DeliveryAt time.Time `json:"delivery_at" binding:"required"`
}

func (s *Server) handleScheduleDelivery(c *gin.Context) {
	var req scheduleDeliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.submit(c, command.KindScheduleDelivery, command.ScheduleDeliveryPayload{
		OrderID:    c.Param("id"),
		DeliveryAt: req.DeliveryAt,
	}, "")
}

func (s *Server) handleMarkFulfilled(c *gin.Context) {
	s.submit(c, command.KindMarkFulfilled, command.MarkFulfilledPayload{OrderID: c.Param("id")}, "")
}

// handleOrderDocument renders the printable invoice for a scheduled or
// fulfilled order. The artifact is rendered fresh on every request and
// persisted best effort; a write failure only costs the cached copy.
func (s *Server) handleOrderDocument(c *gin.Context) {
	snap := s.store.Snapshot()

	order, ok := snap.Order(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	if !orderVisible(currentEmployee(c), order) {
		c.JSON(http.StatusForbidden, gin.H{"error": "order not accessible"})
		return
	}
	if !rules.CanPrint(order) {
		c.JSON(http.StatusConflict, gin.H{
			"error": "documents are printable once delivery is scheduled",
		})
		return
	}

	invoice, ok := snap.Invoice(order.InvoiceID)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invoice record missing"})
		return
	}
	client, _ := snap.Client(order.ClientID)

	artifact, err := s.renderer.Render(render.Document{
		Invoice:  invoice,
		Order:    order,
		Client:   client,
		Settings: snap.Settings(),
	})
	if err != nil {
		log.Error().Err(err).Str("invoice_id", invoice.ID).Msg("Invoice render failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "render failed"})
		return
	}

	ref := invoice.DocumentRef
	if ref == "" {
		ref = render.DocumentRef(s.renderer, invoice.ID)
	}
	target := filepath.Join(s.store.Dir(), filepath.FromSlash(ref))
	if err := writeArtifact(target, artifact); err != nil {
		log.Warn().Err(err).Str("ref", ref).Msg("Document artifact not persisted")
	}

	c.Data(http.StatusOK, "text/html; charset=utf-8", artifact)
}

func writeArtifact(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return store.WriteAtomic(path, data)
}
