package httpapi

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ncmcheck/internal/dataset"
	"ncmcheck/internal/ncm"
	"ncmcheck/internal/pipeline"
	"ncmcheck/internal/util"
)

// An empty text is a valid request; it yields a report with nothingFound set.
type checkRequest struct {
	Text string `json:"text"`
	Date string `json:"date"`
}

type batchRequest struct {
	Texts []string `json:"texts" binding:"required"`
	Date  string   `json:"date"`
}

type registryRef struct {
	Source   string `json:"source"`
	Checksum string `json:"checksum"`
}

type checkResponse struct {
	ReferenceDate string      `json:"referenceDate"`
	NothingFound  bool        `json:"nothingFound"`
	Counts        ncm.Counts  `json:"counts"`
	Rows          []ncm.Row   `json:"rows"`
	Registry      registryRef `json:"registry"`
}

type registryInfo struct {
	Source   string    `json:"source"`
	Checksum string    `json:"checksum"`
	Records  int       `json:"records"`
	AsOf     *string   `json:"asOf"`
	LoadedAt time.Time `json:"loadedAt"`
}

func (s *Server) health(c *gin.Context) {
	snap := s.store.Current()
	body := gin.H{"status": "ok", "registryLoaded": snap != nil}
	if snap != nil {
		body["records"] = snap.Registry.Len()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) check(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	at, err := pipeline.ParseReferenceDate(req.Date, s.loc)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.checker.Check(req.Text, at)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toCheckResponse(res))
}

func (s *Server) checkBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Texts) > maxBatchTexts {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many texts in one batch", "max": maxBatchTexts})
		return
	}
	at, err := pipeline.ParseReferenceDate(req.Date, s.loc)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results, err := pipeline.CheckBatch(c.Request.Context(), s.checker, req.Texts, at, s.batchLimit)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]checkResponse, 0, len(results))
	for _, res := range results {
		out = append(out, toCheckResponse(res))
	}
	c.JSON(http.StatusOK, gin.H{"results": out, "count": len(out)})
}

func (s *Server) registryInfo(c *gin.Context) {
	snap := s.store.Current()
	if snap == nil {
		s.fail(c, pipeline.ErrNoRegistry)
		return
	}
	c.JSON(http.StatusOK, toRegistryInfo(snap))
}

// lookupCode answers for one code. Unknown codes get 404 with the same row
// shape the check endpoints use.
func (s *Server) lookupCode(c *gin.Context) {
	code := ncm.Normalize(c.Param("code"))
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code has no digits"})
		return
	}
	at, err := pipeline.ParseReferenceDate(c.Query("date"), s.loc)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	snap := s.store.Current()
	if snap == nil {
		s.fail(c, pipeline.ErrNoRegistry)
		return
	}
	if at.IsZero() {
		at = s.checker.Now()
	}

	res := ncm.Lookup(snap.Registry, code, at)
	status := http.StatusOK
	if res.Status == ncm.StatusNotFound {
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{
		"referenceDate": at.Format("2006-01-02"),
		"row":           res.Row(),
	})
}

func (s *Server) uploadRegistry(c *gin.Context) {
	format, err := dataset.ParseFormat(c.Query("format"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	blob, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "dataset too large", "maxBytes": tooLarge.Limit})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(blob) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty dataset body"})
		return
	}

	snap, err := s.sync.LoadBlob(c.Request.Context(), blob, format, dataset.OriginUpload)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toRegistryInfo(snap))
}

// fail maps domain errors to status codes. Anything unrecognised is a 500
// and is logged by the request logger through c.Error.
func (s *Server) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, pipeline.ErrNoRegistry):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, ncm.ErrInvalidDataset):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, dataset.ErrMalformed), errors.Is(err, dataset.ErrUnsupportedFormat):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func toCheckResponse(res pipeline.Result) checkResponse {
	return checkResponse{
		ReferenceDate: res.Report.ReferenceDate.Format("2006-01-02"),
		NothingFound:  res.Report.NothingFound(),
		Counts:        res.Report.Counts(),
		Rows:          res.Report.Rows(),
		Registry:      registryRef{Source: res.Snapshot.Source, Checksum: res.Snapshot.Checksum},
	}
}

func toRegistryInfo(snap *ncm.Snapshot) registryInfo {
	info := registryInfo{
		Source:   snap.Source,
		Checksum: snap.Checksum,
		Records:  snap.Registry.Len(),
		LoadedAt: snap.LoadedAt,
	}
	if asOf, ok := snap.Registry.AsOf(); ok {
		info.AsOf = util.StringPtr(asOf.Format("2006-01-02"))
	}
	return info
}
