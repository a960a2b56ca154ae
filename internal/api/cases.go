package api

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/derm-diagnosis-server/internal/domain"
	"github.com/derm-diagnosis-server/internal/middleware"
	"github.com/derm-diagnosis-server/internal/service"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type createPatientRequest struct {
	FullName    string `json:"full_name" binding:"required"`
	DateOfBirth string `json:"date_of_birth" binding:"required"` // YYYY-MM-DD
	SkinType    int    `json:"skin_type"`
}

func (s *Server) handleCreatePatient(c *gin.Context) {
	var req createPatientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, domain.NewValidationError("body", err.Error(), nil))
		return
	}

	dob, err := time.Parse("2006-01-02", req.DateOfBirth)
	if err != nil {
		s.respondError(c, domain.NewValidationError("date_of_birth", "must be YYYY-MM-DD", req.DateOfBirth))
		return
	}
	if req.SkinType < 0 || req.SkinType > 6 {
		s.respondError(c, domain.NewValidationError("skin_type", "must be 1-6, or 0 when unrecorded", req.SkinType))
		return
	}

	patient := &domain.Patient{
		ID:          uuid.New().String(),
		OwnerID:     middleware.Owner(c),
		FullName:    req.FullName,
		DateOfBirth: dob,
		SkinType:    req.SkinType,
	}
	if err := s.deps.Patients.Create(c.Request.Context(), patient); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, patient)
}

func (s *Server) handleGetPatient(c *gin.Context) {
	patient, err := s.deps.Patients.GetByID(c.Request.Context(), c.Param("id"), middleware.Owner(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, patient)
}

func (s *Server) handleListPatients(c *gin.Context) {
	limit, offset := pagination(c)
	patients, err := s.deps.Patients.ListByOwner(c.Request.Context(), middleware.Owner(c), limit, offset)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"patients": patients, "limit": limit, "offset": offset})
}

type createCaseRequest struct {
	PatientID      string                `json:"patient_id" binding:"required"`
	SymptomContext domain.SymptomContext `json:"symptom_context"`
}

func (s *Server) handleCreateCase(c *gin.Context) {
	var req createCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, domain.NewValidationError("body", err.Error(), nil))
		return
	}

	ownerID := middleware.Owner(c)
	if _, err := s.deps.Patients.GetByID(c.Request.Context(), req.PatientID, ownerID); err != nil {
		s.respondError(c, err)
		return
	}

	newCase := &domain.Case{
		ID:             uuid.New().String(),
		PatientID:      req.PatientID,
		OwnerID:        ownerID,
		ImageRefs:      []string{},
		SymptomContext: req.SymptomContext,
		Status:         domain.CasePending,
	}
	if err := s.deps.Cases.Create(c.Request.Context(), newCase); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newCase)
}

func (s *Server) handleGetCase(c *gin.Context) {
	loaded, err := s.deps.Cases.GetByID(c.Request.Context(), c.Param("id"), middleware.Owner(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, loaded)
}

func (s *Server) handleListCases(c *gin.Context) {
	limit, offset := pagination(c)
	cases, err := s.deps.Cases.ListByOwner(c.Request.Context(), middleware.Owner(c), limit, offset)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cases": cases, "limit": limit, "offset": offset})
}

// imagePayload is one submitted image: base64 data plus its media type. The
// ref is the caller's storage reference persisted on the case.
type imagePayload struct {
	Ref      string `json:"ref"`
	MIMEType string `json:"mime_type" binding:"required"`
	Data     string `json:"data" binding:"required"` // base64
}

func (p imagePayload) decode() (domain.ImagePayload, error) {
	data, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return domain.ImagePayload{}, domain.NewValidationError("images", "image data is not valid base64", p.Ref)
	}
	return domain.ImagePayload{Ref: p.Ref, MIMEType: p.MIMEType, Data: data}, nil
}

type analyzeCaseRequest struct {
	Images         []imagePayload         `json:"images" binding:"required"`
	SymptomContext *domain.SymptomContext `json:"symptom_context"`
}

// handleAnalyzeCase runs the full pipeline for a case. Both providers failing
// is reported as 502 with the case left pending; a partial failure still
// returns 200 with the surviving result plus the failure notice.
func (s *Server) handleAnalyzeCase(c *gin.Context) {
	var req analyzeCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, domain.NewValidationError("body", err.Error(), nil))
		return
	}

	images := make([]domain.ImagePayload, 0, len(req.Images))
	for _, img := range req.Images {
		decoded, err := img.decode()
		if err != nil {
			s.respondError(c, err)
			return
		}
		images = append(images, decoded)
	}

	svcReq := service.AnalyzeRequest{Images: images}
	if req.SymptomContext != nil {
		svcReq.Symptoms = *req.SymptomContext
	}

	outcome, err := s.deps.Analysis.AnalyzeCase(c.Request.Context(), middleware.Owner(c), c.Param("id"), svcReq)
	if err != nil {
		s.respondError(c, err)
		return
	}

	if outcome.Case.Status == domain.CasePending {
		c.JSON(http.StatusBadGateway, outcome)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func pagination(c *gin.Context) (limit, offset int) {
	limit = defaultPageSize
	if v, ok := intQuery(c, "limit"); ok && v > 0 && v <= maxPageSize {
		limit = v
	}
	if v, ok := intQuery(c, "offset"); ok && v >= 0 {
		offset = v
	}
	return
}

func intQuery(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
