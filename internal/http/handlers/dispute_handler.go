package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/domain/repository"
	"github.com/ignatzorin/escrow-backend/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-backend/internal/dto"
	"github.com/ignatzorin/escrow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/service"
	"github.com/ignatzorin/escrow-backend/internal/validation"
)

type DisputeHandler struct {
	svc            *service.DisputeService
	maxUploadBytes int64
}

func NewDisputeHandler(s *service.DisputeService, maxUploadMB int64) *DisputeHandler {
	if maxUploadMB <= 0 {
		maxUploadMB = 10
	}
	return &DisputeHandler{svc: s, maxUploadBytes: maxUploadMB * 1024 * 1024}
}

// OpenDispute POST /orders/:id/dispute
func (h *DisputeHandler) OpenDispute(c *gin.Context) {
	runAction(c, "id", func(c *gin.Context, actor service.Actor, orderID uuid.UUID) (any, error) {
		var req dto.OpenDisputeRequest
		if err := common.BindJSON(c, &req, false); err != nil {
			return nil, err
		}
		dispute, err := h.svc.OpenDispute(c.Request.Context(), actor, orderID, req.ToInput())
		if err != nil {
			return nil, err
		}
		c.Status(http.StatusCreated)
		return dispute, nil
	})
}

// GetOrderDispute GET /orders/:id/dispute
func (h *DisputeHandler) GetOrderDispute(c *gin.Context) {
	runAction(c, "id", func(c *gin.Context, actor service.Actor, orderID uuid.UUID) (any, error) {
		return h.svc.GetByOrder(c.Request.Context(), actor, orderID)
	})
}

// ListDisputes GET /disputes
// Стороны видят свои споры, медиаторы и администраторы видят очередь.
func (h *DisputeHandler) ListDisputes(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.Fail(c, err)
		return
	}

	limit, offset := common.GetPagination(c)
	disputes, err := h.svc.List(c.Request.Context(), actor, repository.DisputeFilter{
		Status:   valueobject.DisputeStatus(c.Query("status")),
		Priority: valueobject.DisputePriority(c.Query("priority")),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		common.Fail(c, err)
		return
	}
	common.RespondOK(c, dto.NewListResponse(disputes, limit, offset))
}

// GetDispute GET /disputes/:id
func (h *DisputeHandler) GetDispute(c *gin.Context) {
	runAction(c, "id", func(c *gin.Context, actor service.Actor, disputeID uuid.UUID) (any, error) {
		return h.svc.Get(c.Request.Context(), actor, disputeID)
	})
}

// Respond POST /disputes/:id/respond
func (h *DisputeHandler) Respond(c *gin.Context) {
	runAction(c, "id", func(c *gin.Context, actor service.Actor, disputeID uuid.UUID) (any, error) {
		var req dto.RespondDisputeRequest
		if err := common.BindJSON(c, &req, false); err != nil {
			return nil, err
		}
		return h.svc.Respond(c.Request.Context(), actor, disputeID, service.RespondInput{
			Message:          req.Message,
			AcceptResolution: req.AcceptResolution,
		})
	})
}

// SubmitEvidence POST /disputes/:id/evidence
// Принимает multipart форму с необязательным файлом в поле file.
func (h *DisputeHandler) SubmitEvidence(c *gin.Context) {
	runAction(c, "id", func(c *gin.Context, actor service.Actor, disputeID uuid.UUID) (any, error) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+1024*1024)

		in := service.EvidenceInput{
			Type:        valueobject.EvidenceType(c.PostForm("type")),
			Title:       c.PostForm("title"),
			Description: c.PostForm("description"),
		}
		if in.Type == "" {
			in.Type = valueobject.EvidenceTypeText
		}
		if err := validation.First(
			validation.ValidateLength("название", in.Title, 0, validation.MaxEvidenceTitle),
			validation.ValidateLength("описание", in.Description, 0, validation.MaxMessageLength),
		); err != nil {
			return nil, err
		}

		var tooLarge *http.MaxBytesError
		fileHeader, err := c.FormFile("file")
		switch {
		case err == nil:
			if fileHeader.Size > h.maxUploadBytes {
				return nil, apperror.New(apperror.ErrCodeValidation, "файл слишком большой")
			}
			file, err := fileHeader.Open()
			if err != nil {
				return nil, apperror.Wrap(err, apperror.ErrCodeBadRequest, "не удалось прочитать файл")
			}
			defer file.Close()

			data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
			if err != nil {
				return nil, apperror.Wrap(err, apperror.ErrCodeBadRequest, "не удалось прочитать файл")
			}
			in.FileName = fileHeader.Filename
			in.File = data
		case errors.Is(err, http.ErrMissingFile):
		case errors.As(err, &tooLarge):
			return nil, apperror.New(apperror.ErrCodeValidation, "файл слишком большой")
		default:
			return nil, apperror.Wrap(err, apperror.ErrCodeBadRequest, "ожидалась multipart форма")
		}

		evidence, err := h.svc.SubmitEvidence(c.Request.Context(), actor, disputeID, in)
		if err != nil {
			return nil, err
		}
		c.Status(http.StatusCreated)
		return evidence, nil
	})
}

// SendMessage POST /disputes/:id/messages
func (h *DisputeHandler) SendMessage(c *gin.Context) {
	runAction(c, "id", func(c *gin.Context, actor service.Actor, disputeID uuid.UUID) (any, error) {
		var req dto.DisputeMessageRequest
		if err := common.BindJSON(c, &req, false); err != nil {
			return nil, err
		}
		msg, err := h.svc.SendMessage(c.Request.Context(), actor, disputeID, req.Body, req.Internal)
		if err != nil {
			return nil, err
		}
		c.Status(http.StatusCreated)
		return msg, nil
	})
}

// ProposeResolution POST /disputes/:id/resolution
func (h *DisputeHandler) ProposeResolution(c *gin.Context) {
	runAction(c, "id", func(c *gin.Context, actor service.Actor, disputeID uuid.UUID) (any, error) {
		var req dto.ProposeResolutionRequest
		if err := common.BindJSON(c, &req, false); err != nil {
			return nil, err
		}
		return h.svc.ProposeResolution(c.Request.Context(), actor, disputeID, req.ToInput())
	})
}

// Agree POST /disputes/:id/agree
func (h *DisputeHandler) Agree(c *gin.Context) {
	runAction(c, "id", func(c *gin.Context, actor service.Actor, disputeID uuid.UUID) (any, error) {
		return h.svc.Agree(c.Request.Context(), actor, disputeID)
	})
}

// Cancel POST /disputes/:id/cancel
func (h *DisputeHandler) Cancel(c *gin.Context) {
	runAction(c, "id", func(c *gin.Context, actor service.Actor, disputeID uuid.UUID) (any, error) {
		return h.svc.CancelDispute(c.Request.Context(), actor, disputeID)
	})
}

// ForceExecute POST /disputes/:id/force
func (h *DisputeHandler) ForceExecute(c *gin.Context) {
	runAction(c, "id", func(c *gin.Context, actor service.Actor, disputeID uuid.UUID) (any, error) {
		var req dto.ForceResolutionRequest
		if err := common.BindJSON(c, &req, false); err != nil {
			return nil, err
		}
		return h.svc.ForceExecute(c.Request.Context(), actor, disputeID, req.Notes)
	})
}
