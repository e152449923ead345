package api

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/salesdesk/internal/command"
	"example.com/backstage/services/salesdesk/internal/importer"
	"example.com/backstage/services/salesdesk/internal/models"
	"example.com/backstage/services/salesdesk/internal/processor"
)

const (
	importChunkRows = 250
	maxImportBytes  = 10 << 20
)

func (s *Server) handleListLeads(c *gin.Context) {
	emp := currentEmployee(c)
	leads := s.store.Snapshot().Leads()

	// Admins see the whole funnel, employees their own assignments
	if emp.Role != models.RoleAdmin {
		visible := leads[:0]
		for _, l := range leads {
			if l.AssignedTo == emp.ID {
				visible = append(visible, l)
			}
		}
		leads = visible
	}

	c.JSON(http.StatusOK, gin.H{"leads": leads})
}

type createLeadRequest struct {
	Business       string `json:"business" binding:"required"`
	ContactName    string `json:"contact_name"`
	Phone          string `json:"phone"`
	Email          string `json:"email"`
	Region         string `json:"region"`
	FlavorInterest string `json:"flavor_interest"`
}

func (s *Server) handleCreateLead(c *gin.Context) {
	var req createLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.submit(c, command.KindCreateLead, command.CreateLeadPayload{LeadRow: command.LeadRow{
		Business:       req.Business,
		ContactName:    req.ContactName,
		Phone:          req.Phone,
		Email:          req.Email,
		Region:         req.Region,
		FlavorInterest: req.FlavorInterest,
	}}, "")
}

type updateLeadRequest struct {
	Business       *string `json:"business"`
	ContactName    *string `json:"contact_name"`
	Phone          *string `json:"phone"`
	Email          *string `json:"email"`
	Region         *string `json:"region"`
	FlavorInterest *string `json:"flavor_interest"`
}

func (s *Server) handleUpdateLead(c *gin.Context) {
	var req updateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.submit(c, command.KindUpdateLead, command.UpdateLeadPayload{
		LeadID:         c.Param("id"),
		Business:       req.Business,
		ContactName:    req.ContactName,
		Phone:          req.Phone,
		Email:          req.Email,
		Region:         req.Region,
		FlavorInterest: req.FlavorInterest,
	}, "")
}

// handleImportLeads accepts a multipart lead file, parses it with the
// probed importer, and feeds the rows through ImportLeads commands in
// chunks. The batch key is derived from the file content, so re-uploading
// the same file after a partial failure resumes instead of duplicating.
func (s *Server) handleImportLeads(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' required"})
		return
	}
	if file.Size > maxImportBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, maxImportBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	imp := importer.Select(file.Filename)
	rows, parseErrs, err := imp.Parse(bytes.NewReader(data))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if len(rows) == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":        "no importable rows in file",
			"parse_errors": parseErrs,
		})
		return
	}

	sum := sha256.Sum256(data)
	batchKey := fmt.Sprintf("csv:%x", sum[:8])
	actor := currentEmployee(c).ID

	var (
		merged     []processor.RowResult
		imported   int
		duplicates int
	)
	for start, chunk := 0, 0; start < len(rows); start, chunk = start+importChunkRows, chunk+1 {
		end := start + importChunkRows
		if end > len(rows) {
			end = len(rows)
		}
		chunkKey := fmt.Sprintf("%s:%d", batchKey, chunk)

		env, err := command.New(command.KindImportLeads, actor, command.ImportLeadsPayload{
			BatchKey: chunkKey,
			Rows:     rows[start:end],
		}, chunkKey)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		res, err := s.proc.Submit(c.Request.Context(), env)
		if err != nil {
			log.Error().Err(err).Str("batch", chunkKey).Msg("Import chunk deferred")
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":    "import interrupted by a storage failure, re-upload the same file to resume",
				"batch":    batchKey,
				"imported": imported,
				"rows":     merged,
			})
			return
		}
		if !res.Applied() {
			writeResult(c, res)
			return
		}
		if res.Duplicate && len(res.Rows) == 0 {
			// The replayed key short-circuits before the handler runs, so
			// report the leads the original pass stamped with this chunk.
			res.Rows = s.stampedRows(chunkKey)
		}

		for _, r := range res.Rows {
			r.Row += start
			merged = append(merged, r)
			if r.Ref == "" {
				continue
			}
			if res.Duplicate {
				duplicates++
			} else {
				imported++
			}
		}
	}

	if merged == nil {
		merged = []processor.RowResult{}
	}
	body := gin.H{
		"batch":    batchKey,
		"importer": imp.Name(),
		"imported": imported,
		"rows":     merged,
	}
	if duplicates > 0 {
		body["duplicates"] = duplicates
	}
	if len(parseErrs) > 0 {
		body["parse_errors"] = parseErrs
	}
	c.JSON(http.StatusOK, body)
}

// stampedRows lists the leads a previous import stamped with the batch
// key, in the shape the import handler would have reported them
func (s *Server) stampedRows(batchKey string) []processor.RowResult {
	var rows []processor.RowResult
	for _, l := range s.store.Snapshot().Leads() {
		if l.SourceBatch == batchKey {
			rows = append(rows, processor.RowResult{Row: len(rows) + 1, Ref: l.ID})
		}
	}
	return rows
}

type assignLeadRequest struct {
	EmployeeID string `json:"employee_id" binding:"required"`
}

func (s *Server) handleAssignLead(c *gin.Context) {
	var req assignLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.submit(c, command.KindAssignLead, command.AssignLeadPayload{
		LeadID:     c.Param("id"),
		EmployeeID: req.EmployeeID,
	}, "")
}

type assignLeadsBulkRequest struct {
	LeadIDs    []string `json:"lead_ids" binding:"required"`
	EmployeeID string   `json:"employee_id" binding:"required"`
}

func (s *Server) handleAssignLeadsBulk(c *gin.Context) {
	var req assignLeadsBulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.submit(c, command.KindAssignLeadsBulk, command.AssignLeadsBulkPayload{
		LeadIDs:    req.LeadIDs,
		EmployeeID: req.EmployeeID,
	}, "")
}

type rejectLeadRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleRejectLead(c *gin.Context) {
	var req rejectLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.submit(c, command.KindRejectLead, command.RejectLeadPayload{
		LeadID: c.Param("id"),
		Reason: req.Reason,
	}, "")
}

type repInfoRequest struct {
	RepName    string `json:"rep_name" binding:"required"`
	RepPhone   string `json:"rep_phone"`
	RepEmail   string `json:"rep_email"`
	RepAddress string `json:"rep_address"`
}

func (s *Server) handleFillRepInfo(c *gin.Context) {
	var req repInfoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.submit(c, command.KindFillRepInfo, command.FillRepInfoPayload{
		LeadID:     c.Param("id"),
		RepName:    req.RepName,
		RepPhone:   req.RepPhone,
		RepEmail:   req.RepEmail,
		RepAddress: req.RepAddress,
	}, "")
}
