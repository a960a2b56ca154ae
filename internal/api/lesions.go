package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/derm-diagnosis-server/internal/domain"
	"github.com/derm-diagnosis-server/internal/middleware"
	"github.com/derm-diagnosis-server/internal/service"
)

type createLesionRequest struct {
	PatientID string `json:"patient_id" binding:"required"`
	Label     string `json:"label" binding:"required"`
	BodySite  string `json:"body_site"`
}

func (s *Server) handleCreateLesion(c *gin.Context) {
	var req createLesionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, domain.NewValidationError("body", err.Error(), nil))
		return
	}

	ownerID := middleware.Owner(c)
	if _, err := s.deps.Patients.GetByID(c.Request.Context(), req.PatientID, ownerID); err != nil {
		s.respondError(c, err)
		return
	}

	lesion := &domain.TrackedLesion{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		PatientID: req.PatientID,
		Label:     req.Label,
		BodySite:  req.BodySite,
	}
	if err := s.deps.Lesions.CreateLesion(c.Request.Context(), lesion); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, lesion)
}

func (s *Server) handleGetLesion(c *gin.Context) {
	lesion, err := s.deps.Lesions.GetLesion(c.Request.Context(), c.Param("id"), middleware.Owner(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lesion)
}

type addSnapshotRequest struct {
	ImageRef string `json:"image_ref" binding:"required"`
	TakenAt  string `json:"taken_at" binding:"required"` // RFC 3339
}

func (s *Server) handleAddSnapshot(c *gin.Context) {
	var req addSnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, domain.NewValidationError("body", err.Error(), nil))
		return
	}

	takenAt, err := time.Parse(time.RFC3339, req.TakenAt)
	if err != nil {
		s.respondError(c, domain.NewValidationError("taken_at", "must be RFC 3339", req.TakenAt))
		return
	}

	snapshot := &domain.LesionSnapshot{
		ID:       uuid.New().String(),
		LesionID: c.Param("id"),
		ImageRef: req.ImageRef,
		TakenAt:  takenAt,
	}
	if err := s.deps.Lesions.AddSnapshot(c.Request.Context(), middleware.Owner(c), snapshot); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snapshot)
}

func (s *Server) handleListSnapshots(c *gin.Context) {
	limit, _ := pagination(c)
	snapshots, err := s.deps.Lesions.LatestSnapshots(c.Request.Context(), c.Param("id"), middleware.Owner(c), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snapshots})
}

type compareLesionRequest struct {
	PreviousSnapshotID string       `json:"previous_snapshot_id" binding:"required"`
	CurrentSnapshotID  string       `json:"current_snapshot_id" binding:"required"`
	PreviousImage      imagePayload `json:"previous_image" binding:"required"`
	CurrentImage       imagePayload `json:"current_image" binding:"required"`
}

// handleCompareLesion runs a progression comparison between two snapshots.
// Image bytes travel with the request since blob storage sits outside this
// service.
func (s *Server) handleCompareLesion(c *gin.Context) {
	var req compareLesionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, domain.NewValidationError("body", err.Error(), nil))
		return
	}

	prevImage, err := req.PreviousImage.decode()
	if err != nil {
		s.respondError(c, err)
		return
	}
	currImage, err := req.CurrentImage.decode()
	if err != nil {
		s.respondError(c, err)
		return
	}

	comparison, err := s.deps.Comparison.Compare(c.Request.Context(), middleware.Owner(c), c.Param("id"),
		service.SnapshotInput{SnapshotID: req.PreviousSnapshotID, Image: prevImage},
		service.SnapshotInput{SnapshotID: req.CurrentSnapshotID, Image: currImage},
	)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, comparison)
}

func (s *Server) handleListComparisons(c *gin.Context) {
	history, err := s.deps.Comparison.History(c.Request.Context(), middleware.Owner(c), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comparisons": history})
}
