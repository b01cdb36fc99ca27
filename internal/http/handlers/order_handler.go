package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/domain/entity"
	"github.com/ignatzorin/escrow-backend/internal/domain/repository"
	"github.com/ignatzorin/escrow-backend/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-backend/internal/dto"
	"github.com/ignatzorin/escrow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

type OrderHandler struct {
	orders *service.OrderService
}

// NewOrderHandler создаёт новый хэндлер.
func NewOrderHandler(orders *service.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// CreateOrder обрабатывает POST /orders.
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.Fail(c, err)
		return
	}

	var req dto.CreateOrderRequest
	if err := common.BindJSON(c, &req, false); err != nil {
		common.Fail(c, err)
		return
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), actor, req.ToInput())
	if err != nil {
		common.Fail(c, err)
		return
	}
	common.RespondJSON(c, http.StatusCreated, order)
}

// ListMyOrders обрабатывает GET /orders/my.
func (h *OrderHandler) ListMyOrders(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.Fail(c, err)
		return
	}

	limit, offset := common.GetPagination(c)
	orders, err := h.orders.ListMy(c.Request.Context(), actor, repository.OrderFilter{
		Status: valueobject.OrderStatus(c.Query("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		common.Fail(c, err)
		return
	}
	common.RespondOK(c, dto.NewListResponse(orders, limit, offset))
}

// GetOrder обрабатывает GET /orders/:id.
func (h *OrderHandler) GetOrder(c *gin.Context) {
	runAction(c, "id", func(c *gin.Context, actor service.Actor, id uuid.UUID) (any, error) {
		return h.orders.Get(c.Request.Context(), actor, id)
	})
}

// Fund обрабатывает POST /orders/:id/fund.
func (h *OrderHandler) Fund(c *gin.Context) {
	runAction(c, "id", func(c *gin.Context, actor service.Actor, id uuid.UUID) (any, error) {
		return h.orders.Fund(c.Request.Context(), actor, id)
	})
}

// Accept обрабатывает POST /orders/:id/accept.
func (h *OrderHandler) Accept(c *gin.Context) {
	runAction(c, "id", func(c *gin.Context, actor service.Actor, id uuid.UUID) (any, error) {
		return h.orders.Accept(c.Request.Context(), actor, id)
	})
}

// SubmitDelivery обрабатывает POST /orders/:id/deliveries.
func (h *OrderHandler) SubmitDelivery(c *gin.Context) {
	runAction(c, "id", func(c *gin.Context, actor service.Actor, id uuid.UUID) (any, error) {
		var req dto.SubmitDeliveryRequest
		if err := common.BindJSON(c, &req, false); err != nil {
			return nil, err
		}
		delivery, err := h.orders.SubmitDelivery(c.Request.Context(), actor, id, req.Message)
		if err != nil {
			return nil, err
		}
		c.Status(http.StatusCreated)
		return delivery, nil
	})
}

// ListDeliveries обрабатывает GET /orders/:id/deliveries.
func (h *OrderHandler) ListDeliveries(c *gin.Context) {
	runAction(c, "id", func(c *gin.Context, actor service.Actor, id uuid.UUID) (any, error) {
		deliveries, err := h.orders.Deliveries(c.Request.Context(), actor, id)
		if err != nil {
			return nil, err
		}
		if deliveries == nil {
			deliveries = []*entity.Delivery{}
		}
		return deliveries, nil
	})
}

// RequestRevision обрабатывает POST /orders/:id/revision.
func (h *OrderHandler) RequestRevision(c *gin.Context) {
	runAction(c, "id", func(c *gin.Context, actor service.Actor, id uuid.UUID) (any, error) {
		var req dto.ReasonRequest
		if err := common.BindJSON(c, &req, true); err != nil {
			return nil, err
		}
		return h.orders.RequestRevision(c.Request.Context(), actor, id, req.Reason)
	})
}

// AcceptDelivery обрабатывает POST /orders/:id/accept-delivery.
func (h *OrderHandler) AcceptDelivery(c *gin.Context) {
	runAction(c, "id", func(c *gin.Context, actor service.Actor, id uuid.UUID) (any, error) {
		return h.orders.AcceptDelivery(c.Request.Context(), actor, id)
	})
}

// Cancel обрабатывает POST /orders/:id/cancel.
func (h *OrderHandler) Cancel(c *gin.Context) {
	runAction(c, "id", func(c *gin.Context, actor service.Actor, id uuid.UUID) (any, error) {
		var req dto.ReasonRequest
		if err := common.BindJSON(c, &req, true); err != nil {
			return nil, err
		}
		return h.orders.Cancel(c.Request.Context(), actor, id, req.Reason)
	})
}

// Reconcile обрабатывает POST /orders/:id/reconcile.
func (h *OrderHandler) Reconcile(c *gin.Context) {
	runAction(c, "id", func(c *gin.Context, actor service.Actor, id uuid.UUID) (any, error) {
		return h.orders.Reconcile(c.Request.Context(), actor, id)
	})
}

// History обрабатывает GET /orders/:id/history.
func (h *OrderHandler) History(c *gin.Context) {
	runAction(c, "id", func(c *gin.Context, actor service.Actor, id uuid.UUID) (any, error) {
		entries, err := h.orders.History(c.Request.Context(), actor, id)
		if err != nil {
			return nil, err
		}
		if entries == nil {
			entries = []*entity.AuditEntry{}
		}
		return entries, nil
	})
}
