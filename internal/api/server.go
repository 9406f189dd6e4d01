package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ycwei/tender-watch/internal/models"
	"github.com/ycwei/tender-watch/internal/repository"
)

// Server exposes the stored tenders over a read-only HTTP surface. It never
// writes; reconciliation stays the only writer.
type Server struct {
	Repo repository.TenderRepository
}

func NewServer(repo repository.TenderRepository) *Server {
	return &Server{Repo: repo}
}

func (s *Server) Router() *gin.Engine {
	r := gin.Default()
	r.GET("/api/ping", s.ping)
	r.GET("/api/tenders", s.listTenders)         // ?since_days=&title=&unit=&min_budget=&max_budget=&include_expired=
	r.GET("/api/tenders/archive", s.listArchived) // ?reason=Awarded,Expired
	return r
}

func (s *Server) Run(addr string) error {
	return s.Router().Run(addr)
}

func (s *Server) ping(c *gin.Context) {
	n, err := s.Repo.CountActive(c)
	if err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "active": n})
}

func (s *Server) listTenders(c *gin.Context) {
	filter := repository.ActiveFilter{
		TitleKeyword:   c.Query("title"),
		UnitKeyword:    c.Query("unit"),
		IncludeExpired: c.Query("include_expired") == "true",
	}
	if v, err := strconv.Atoi(c.DefaultQuery("since_days", "0")); err == nil && v > 0 {
		filter.SinceDays = v
	}
	if v, err := strconv.ParseInt(c.DefaultQuery("min_budget", "0"), 10, 64); err == nil && v > 0 {
		filter.MinBudget = v
	}
	if v, err := strconv.ParseInt(c.DefaultQuery("max_budget", "0"), 10, 64); err == nil && v > 0 {
		filter.MaxBudget = v
	}

	tenders, err := s.Repo.ListActive(c, filter)
	if err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": len(tenders), "data": tenders})
}

func (s *Server) listArchived(c *gin.Context) {
	var reasons []models.ArchiveReason
	if v := c.Query("reason"); v != "" {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				reasons = append(reasons, models.ArchiveReason(name))
			}
		}
	}

	archived, err := s.Repo.ListArchived(c, reasons)
	if err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": len(archived), "data": archived})
}
