package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPermanent(t *testing.T) {
	assert.False(t, IsPermanent(nil))
	assert.False(t, IsPermanent(errors.New("connection reset")))
	assert.True(t, IsPermanent(fmt.Errorf("%w: no pipeline", ErrConfiguration)))
	assert.True(t, IsPermanent(fmt.Errorf("load: %w", ErrTableNotFound)))
	assert.True(t, IsPermanent(NewErrNo(PipelineNotExists)))
	assert.False(t, IsPermanent(fmt.Errorf("%w: disk", ErrStorageUnavailable)))
}

func TestConvertErr(t *testing.T) {
	e := ConvertErr(fmt.Errorf("wrapped: %w", NewErrNo(ExecutionNotExists)))
	assert.Equal(t, ExecutionNotExists, e.ErrCode)
	assert.Equal(t, "execution not exists", e.ErrMsg)

	e = ConvertErr(errors.New("boom"))
	assert.Equal(t, ServiceErr, e.ErrCode)
	assert.Equal(t, "boom", e.ErrMsg)
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, 404, httpStatus(BufferNotExists))
	assert.Equal(t, 400, httpStatus(RequestInvalid))
	assert.Equal(t, 200, httpStatus(ServiceErr))
}

func TestDefaultConfig(t *testing.T) {
	c := GetConfig()
	assert.Equal(t, 5, c.TaskMaxRetry)
	assert.Equal(t, "@every 1m", c.ScanCron)
	assert.Equal(t, "local", c.StorageProvider)
	assert.NotZero(t, c.TaskRetryDelay)
}
