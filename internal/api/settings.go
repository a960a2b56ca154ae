package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/derm-diagnosis-server/internal/domain"
	"github.com/derm-diagnosis-server/internal/feedback"
	"github.com/derm-diagnosis-server/internal/middleware"
)

func (s *Server) handleGetSettings(c *gin.Context) {
	settings, err := s.deps.Settings.Get(c.Request.Context(), middleware.Owner(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

type putSettingsRequest struct {
	ConfidenceThreshold *int `json:"confidence_threshold" binding:"required"`
}

func (s *Server) handlePutSettings(c *gin.Context) {
	var req putSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, domain.NewValidationError("body", err.Error(), nil))
		return
	}

	settings := &domain.UserSettings{
		OwnerID:             middleware.Owner(c),
		ConfidenceThreshold: *req.ConfidenceThreshold,
	}
	if err := s.deps.Settings.Put(c.Request.Context(), settings); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

type saveFeedbackRequest struct {
	CaseID             string `json:"case_id" binding:"required"`
	ClinicianDiagnosis string `json:"clinician_diagnosis" binding:"required"`
	Agreed             bool   `json:"agreed"`
	Notes              string `json:"notes"`
}

// handleSaveFeedback records the clinician's verdict on a case's top-ranked
// diagnosis. The suggested diagnosis is read from the case itself so the
// stored verdict always refers to what the system actually proposed.
func (s *Server) handleSaveFeedback(c *gin.Context) {
	var req saveFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, domain.NewValidationError("body", err.Error(), nil))
		return
	}

	ownerID := middleware.Owner(c)
	loaded, err := s.deps.Cases.GetByID(c.Request.Context(), req.CaseID, ownerID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if len(loaded.FinalDiagnoses) == 0 {
		s.respondError(c, domain.NewValidationError("case_id", "case has no analysis to give feedback on", req.CaseID))
		return
	}

	fb := &feedback.Feedback{
		CaseID:             req.CaseID,
		OwnerID:            ownerID,
		SuggestedDiagnosis: loaded.FinalDiagnoses[0].Name,
		ClinicianDiagnosis: req.ClinicianDiagnosis,
		Agreed:             req.Agreed,
		Notes:              req.Notes,
	}
	if err := s.deps.Feedback.Save(c.Request.Context(), fb); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, fb)
}

func (s *Server) handleListFeedback(c *gin.Context) {
	limit, offset := pagination(c)
	list, err := s.deps.Feedback.List(c.Request.Context(), middleware.Owner(c), limit, offset)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"feedback": list, "limit": limit, "offset": offset})
}
