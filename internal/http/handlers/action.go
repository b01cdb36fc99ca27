package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

// runAction достаёт пользователя и UUID из параметра пути, вызывает fn и пишет результат.
func runAction(c *gin.Context, param string, fn func(c *gin.Context, actor service.Actor, id uuid.UUID) (any, error)) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.Fail(c, err)
		return
	}
	id, err := common.ParseUUIDParam(c, param)
	if err != nil {
		common.Fail(c, err)
		return
	}

	result, err := fn(c, actor, id)
	if err != nil {
		common.Fail(c, err)
		return
	}

	// fn может выставить свой статус через c.Status, по умолчанию 200.
	common.RespondJSON(c, c.Writer.Status(), result)
}
