package api

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/salesdesk/internal/command"
	"example.com/backstage/services/salesdesk/internal/models"
	"example.com/backstage/services/salesdesk/internal/search"
	"example.com/backstage/services/salesdesk/internal/store"
)

const searchLimit = 50

func (s *Server) handleListClients(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"clients": s.store.Snapshot().Clients()})
}

func (s *Server) handleListInvoices(c *gin.Context) {
	emp := currentEmployee(c)
	snap := s.store.Snapshot()
	invoices := snap.Invoices()

	// Invoice visibility follows the owning order
	visible := invoices[:0]
	for _, inv := range invoices {
		order, ok := snap.Order(inv.OrderID)
		if ok && orderVisible(emp, order) {
			visible = append(visible, inv)
		}
	}

	c.JSON(http.StatusOK, gin.H{"invoices": visible})
}

// eventVisible reports whether the employee may see a calendar event.
// An empty visibility list means the entry is shared with everyone.
func eventVisible(emp models.Employee, ev models.CalendarEvent) bool {
	if emp.Role == models.RoleAdmin || len(ev.VisibleTo) == 0 {
		return true
	}
	return slices.Contains(ev.VisibleTo, emp.ID) || slices.Contains(ev.VisibleTo, string(emp.Role))
}

func (s *Server) handleListEvents(c *gin.Context) {
	emp := currentEmployee(c)
	events := s.store.Snapshot().Events()

	visible := events[:0]
	for _, ev := range events {
		if eventVisible(emp, ev) {
			visible = append(visible, ev)
		}
	}

	c.JSON(http.StatusOK, gin.H{"events": visible})
}

type createEventRequest struct {
	Title     string          `json:"title" binding:"required"`
	At        time.Time       `json:"at" binding:"required"`
	Related   models.EventRef `json:"related"`
	VisibleTo []string        `json:"visible_to"`
}

func (s *Server) handleCreateEvent(c *gin.Context) {
	var req createEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.submit(c, command.KindCreateCalendarEvent, command.CreateCalendarEventPayload{
		Title:     req.Title,
		At:        req.At,
		Related:   req.Related,
		VisibleTo: req.VisibleTo,
	}, "")
}

func (s *Server) handleListNotifications(c *gin.Context) {
	emp := currentEmployee(c)

	var visible []models.Notification
	for _, n := range s.store.Snapshot().Notifications() {
		if n.Dismissed {
			continue
		}
		if n.ForEmployee == emp.ID || (n.ForRole != "" && n.ForRole == emp.Role) {
			visible = append(visible, n)
		}
	}

	c.JSON(http.StatusOK, gin.H{"notifications": visible})
}

func (s *Server) handleNotificationRead(c *gin.Context) {
	s.submit(c, command.KindMarkNotificationRead, command.MarkNotificationReadPayload{
		NotificationID: c.Param("id"),
	}, "")
}

func (s *Server) handleNotificationDismiss(c *gin.Context) {
	s.submit(c, command.KindDismissNotification, command.DismissNotificationPayload{
		NotificationID: c.Param("id"),
	}, "")
}

// handleSearch answers free-text queries over leads and orders. It
// prefers Elasticsearch and falls back to scanning the store snapshot,
// so search keeps working when the cluster is down or not configured.
func (s *Server) handleSearch(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'q' required"})
		return
	}

	emp := currentEmployee(c)
	var docs []map[string]interface{}

	if s.search.Enabled() {
		found, err := s.search.Search(c.Request.Context(), q)
		if err != nil {
			log.Warn().Err(err).Str("query", q).Msg("Search backend failed, scanning store")
			docs = scanStore(s.store.Snapshot(), emp, q)
		} else {
			for _, doc := range found {
				if docVisible(emp, doc) {
					docs = append(docs, doc)
				}
			}
		}
	} else {
		docs = scanStore(s.store.Snapshot(), emp, q)
	}

	if docs == nil {
		docs = []map[string]interface{}{}
	}
	c.JSON(http.StatusOK, gin.H{"query": q, "results": docs})
}

// docVisible applies the same per-role rules as the list endpoints to a
// search document
func docVisible(emp models.Employee, doc map[string]interface{}) bool {
	if emp.Role == models.RoleAdmin {
		return true
	}
	switch doc["type"] {
	case "lead":
		return emp.Role == models.RoleEmployee && doc["assigned_to"] == emp.ID
	case "order":
		if emp.Role == models.RoleEmployee {
			return doc["employee_id"] == emp.ID
		}
		return doc["status"] == string(models.OrderScheduled) ||
			doc["status"] == string(models.OrderFulfilled)
	}
	return false
}

// scanStore is the fallback search path: build the same documents the
// indexer would and match every query token against their text fields.
func scanStore(snap *store.Snapshot, emp models.Employee, q string) []map[string]interface{} {
	tokens := strings.Fields(strings.ToLower(q))

	var docs []map[string]interface{}
	for _, lead := range snap.Leads() {
		doc := search.LeadDoc(lead)
		if docVisible(emp, doc) && docMatches(doc, tokens) {
			docs = append(docs, doc)
			if len(docs) >= searchLimit {
				return docs
			}
		}
	}
	for _, order := range snap.Orders() {
		client, _ := snap.Client(order.ClientID)
		doc := search.OrderDoc(order, client)
		if docVisible(emp, doc) && docMatches(doc, tokens) {
			docs = append(docs, doc)
			if len(docs) >= searchLimit {
				return docs
			}
		}
	}
	return docs
}

func docMatches(doc map[string]interface{}, tokens []string) bool {
	var b strings.Builder
	for _, v := range doc {
		if s, ok := v.(string); ok {
			b.WriteString(strings.ToLower(s))
			b.WriteByte(' ')
		}
	}
	text := b.String()

	for _, tok := range tokens {
		if !strings.Contains(text, tok) {
			return false
		}
	}
	return len(tokens) > 0
}
