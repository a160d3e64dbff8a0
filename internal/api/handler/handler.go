package handler

import (
	"errors"
	"net/http"
	"strconv"

	"procureflow/internal/api/dto"
	"procureflow/internal/domain"
	"procureflow/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type WorkflowHandler struct {
	service service.WorkflowService
}

func NewWorkflowHandler(svc service.WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{service: svc}
}

func (h *WorkflowHandler) CreateDefinition(c *gin.Context) {
	var req dto.CreateDefinitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	def, err := h.service.CreateDefinition(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, def)
}

func (h *WorkflowHandler) ListDefinitions(c *gin.Context) {
	defs, err := h.service.ListDefinitions(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, defs)
}

func (h *WorkflowHandler) GetDefinition(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	version := 0
	if v := c.Query("version"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid version"})
			return
		}
		version = parsed
	}

	def, err := h.service.GetDefinition(c.Request.Context(), id, version)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, def)
}

func (h *WorkflowHandler) ActivateDefinition(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid version"})
		return
	}

	def, err := h.service.ActivateDefinition(c.Request.Context(), id, version)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, def)
}

func (h *WorkflowHandler) CreateExecution(c *gin.Context) {
	var req dto.CreateExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	execution, err := h.service.CreateExecution(c.Request.Context(), req)
	if err != nil {
		// Activation can fail (no approver, directory down) with the
		// execution persisted as PENDING for manual remediation.
		respondErrorWithExecution(c, err, execution)
		return
	}
	c.JSON(http.StatusCreated, execution)
}

func (h *WorkflowHandler) GetExecution(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	resp, err := h.service.GetExecution(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *WorkflowHandler) SubmitAction(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req dto.SubmitActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	execution, err := h.service.SubmitAction(c.Request.Context(), id, req)
	// A duplicate or late action is an idempotent success: the caller gets
	// the already-resolved state back and can retry safely.
	if errors.Is(err, domain.ErrStageAlreadyResolved) {
		c.JSON(http.StatusOK, execution)
		return
	}
	if err != nil {
		respondErrorWithExecution(c, err, execution)
		return
	}
	c.JSON(http.StatusOK, execution)
}

func (h *WorkflowHandler) ReassignStage(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	stageID, ok := pathUUID(c, "stageId")
	if !ok {
		return
	}
	var req dto.ReassignStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	execution, err := h.service.ReassignStage(c.Request.Context(), id, stageID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, execution)
}

func (h *WorkflowHandler) EscalateStage(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	stageID, ok := pathUUID(c, "stageId")
	if !ok {
		return
	}
	var req dto.EscalateStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	execution, err := h.service.EscalateStage(c.Request.Context(), id, stageID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, execution)
}

func (h *WorkflowHandler) CancelExecution(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req dto.CancelExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	execution, err := h.service.CancelExecution(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, execution)
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func respondError(c *gin.Context, err error) {
	respondErrorWithExecution(c, err, nil)
}

// respondErrorWithExecution maps the engine taxonomy to HTTP statuses. The
// unauthorized message deliberately does not list the real assignees.
func respondErrorWithExecution(c *gin.Context, err error, execution *domain.WorkflowExecution) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrDefinitionNotFound),
		errors.Is(err, domain.ErrExecutionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorizedApprover):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrDirectoryUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrDefinitionInactive),
		errors.Is(err, domain.ErrDefinitionInvalid),
		errors.Is(err, domain.ErrInvalidBranchTarget),
		errors.Is(err, domain.ErrStaleStageAction),
		errors.Is(err, domain.ErrCommentsRequired),
		errors.Is(err, domain.ErrConditionFailedNoSkip),
		errors.Is(err, domain.ErrNoApproverAssigned),
		errors.Is(err, domain.ErrInvalidAction),
		errors.Is(err, domain.ErrExecutionFinished):
		status = http.StatusUnprocessableEntity
	}

	body := gin.H{"error": err.Error()}
	if execution != nil {
		body["execution"] = execution
	}
	c.JSON(status, body)
}
