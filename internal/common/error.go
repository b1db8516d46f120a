package common

import (
	"errors"
	"fmt"
)

type ErrNo struct {
	ErrCode int    `json:"err_code"`
	ErrMsg  string `json:"err_msg"`
}

const (
	SuccessCode = 0
	ServiceErr  = iota + 10000
	RequestInvalid
	YamlInvalid
	ProjectNotExists
	PipelineNotExists
	TransformationNotExists
	ExecutionNotExists
	BufferNotExists
	DestinationInUse
	PipelineStartFail
	GetHistoryFail
	CleanHistoryFail
	SyncFail
)

var errorMsg = map[int]string{
	SuccessCode:             "success",
	ServiceErr:              "service error",
	RequestInvalid:          "request invalid",
	YamlInvalid:             "yaml invalid",
	ProjectNotExists:        "project not exists",
	PipelineNotExists:       "pipeline not exists",
	TransformationNotExists: "transformation not exists",
	ExecutionNotExists:      "execution not exists",
	BufferNotExists:         "buffer not exists",
	DestinationInUse:        "destination already used by another pipeline",
	PipelineStartFail:       "pipeline starts fail",
	GetHistoryFail:          "get history fail",
	CleanHistoryFail:        "clean history fail",
	SyncFail:                "project sync fail",
}

func (e ErrNo) Error() string {
	return fmt.Sprintf("err_code=%d, err_msg=%s", e.ErrCode, e.ErrMsg)
}

func NewErrNo(errCode int) error {
	return ErrNo{
		ErrCode: errCode,
		ErrMsg:  errorMsg[errCode],
	}
}

// WithMsg keeps the code but replaces the message, for errors whose detail
// matters to the caller (sync validation, descriptor problems).
func WithMsg(errCode int, msg string) error {
	return ErrNo{
		ErrCode: errCode,
		ErrMsg:  msg,
	}
}

func ConvertErr(err error) ErrNo {
	e := ErrNo{}
	if errors.As(err, &e) {
		return e
	}
	e = ErrNo{
		ErrCode: ServiceErr,
		ErrMsg:  err.Error(),
	}
	return e
}

// Engine error kinds. Wrap them with fmt.Errorf("%w: ...") and test with errors.Is.
var (
	ErrConfiguration      = errors.New("configuration error")
	ErrNotFound           = errors.New("not found")
	ErrSourceUnavailable  = errors.New("source unavailable")
	ErrTableNotFound      = errors.New("dataset table not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrBufferNotFound     = errors.New("buffer not found")
)

// IsPermanent reports whether retrying err can never succeed.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range []error{ErrConfiguration, ErrNotFound, ErrTableNotFound, ErrSourceUnavailable, ErrBufferNotFound} {
		if errors.Is(err, target) {
			return true
		}
	}
	var e ErrNo
	return errors.As(err, &e)
}
