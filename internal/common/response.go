package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{
		Code:    SuccessCode,
		Message: errorMsg[SuccessCode],
		Data:    data,
	})
}

func Error(c *gin.Context, err error) {
	e := ConvertErr(err)
	c.JSON(httpStatus(e.ErrCode), Response{
		Code:    e.ErrCode,
		Message: e.ErrMsg,
		Data:    nil,
	})
}

func httpStatus(code int) int {
	switch code {
	case ProjectNotExists, PipelineNotExists, TransformationNotExists, ExecutionNotExists, BufferNotExists:
		return http.StatusNotFound
	case RequestInvalid, YamlInvalid, DestinationInUse:
		return http.StatusBadRequest
	default:
		return http.StatusOK
	}
}
