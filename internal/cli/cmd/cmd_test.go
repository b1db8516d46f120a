package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"dataflow/internal/cli/client"
	"dataflow/internal/common"
	"dataflow/pkg/api"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	query  string
	body   string
}

func server(t *testing.T) *[]recorded {
	gin.SetMode(gin.TestMode)
	var calls []recorded
	r := gin.New()
	r.Use(func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		calls = append(calls, recorded{c.Request.Method, c.Request.URL.Path, c.Request.URL.RawQuery, string(body)})
		c.Next()
	})
	r.POST("/pipeline/:slug/run", func(c *gin.Context) {
		if c.Param("slug") == "ghost" {
			common.Error(c, common.NewErrNo(common.PipelineNotExists))
			return
		}
		common.Success(c, api.RunResponse{ExecutionID: 12})
	})
	r.POST("/stream/:slug", func(c *gin.Context) {
		common.Success(c, api.Execution{ID: 13, Status: "LOADING"})
	})
	r.POST("/execution/:id/abort", func(c *gin.Context) {
		common.Success(c, api.Execution{ID: 12, Status: "ABORTED"})
	})
	r.GET("/execution/:id/buffer", func(c *gin.Context) {
		if c.Query("position") != "0" {
			common.Error(c, common.NewErrNo(common.BufferNotExists))
			return
		}
		c.Data(http.StatusOK, "text/csv", []byte("amt\n2\n"))
	})
	r.GET("/history", func(c *gin.Context) {
		common.Success(c, []api.ExecutionHistoryBrief{{ID: 3, Pipeline: "orders", Status: "OPERATIONAL", TriggerType: "manual"}})
	})
	r.GET("/pipeline", func(c *gin.Context) {
		common.Success(c, []api.PipelineBrief{{ID: 1, Slug: "orders", Project: "sales", Status: "CRITICAL", Frequency: 60}})
	})
	r.POST("/project/:id/run", func(c *gin.Context) {
		common.Success(c, api.ProjectRunResponse{ExecutionIDs: map[string]uint{"refunds": 8, "orders": 7}})
	})
	r.DELETE("/history/:slug", func(c *gin.Context) {
		common.Success(c, api.CleanHistoryResponse{Deleted: 4})
	})
	r.GET("/transformation/:slug", func(c *gin.Context) {
		common.Success(c, api.TransformationCode{Slug: c.Param("slug"), Pipeline: c.Query("pipeline"), Language: "python", Code: "def run(df):\n    return df"})
	})

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	client.SetServerURL(ts.URL)
	return &calls
}

func execute(args ...string) (string, error) {
	root := &cobra.Command{Use: "dataflow", SilenceUsage: true, SilenceErrors: true}
	RegisterCommands(root)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRunCommand(t *testing.T) {
	calls := server(t)

	out, err := execute("run", "orders")
	require.NoError(t, err)
	assert.Equal(t, "Started pipeline orders, execution 12\n", out)

	out, err = execute("run", "orders", "--stream", `{"x": 1}`)
	require.NoError(t, err)
	assert.Equal(t, "Started pipeline orders, execution 13\n", out)
	last := (*calls)[len(*calls)-1]
	assert.Equal(t, "/stream/orders", last.path)
	assert.JSONEq(t, `{"x": 1}`, last.body)

	_, err = execute("run", "orders", "--stream", `{x`)
	assert.Error(t, err)

	_, err = execute("run", "ghost")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, common.PipelineNotExists, apiErr.Code)
}

func TestAbortAndProjectRun(t *testing.T) {
	server(t)

	out, err := execute("abort", "12")
	require.NoError(t, err)
	assert.Equal(t, "Execution 12 marked ABORTED\n", out)

	_, err = execute("abort", "twelve")
	assert.Error(t, err)

	out, err = execute("run-project", "1")
	require.NoError(t, err)
	assert.Equal(t, "orders: execution 7\nrefunds: execution 8\n", out)
}

func TestBufferCommand(t *testing.T) {
	calls := server(t)

	out, err := execute("buffer", "12", "--rows", "1", "--offset", "1")
	require.NoError(t, err)
	assert.Equal(t, "amt\n2\n", out)
	assert.Equal(t, "offset=1&position=0&rows=1", (*calls)[0].query)

	file := filepath.Join(t.TempDir(), "page.csv")
	_, err = execute("buffer", "12", "-o", file)
	require.NoError(t, err)
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "amt\n2\n", string(data))

	_, err = execute("buffer", "12", "--position", "2")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, common.BufferNotExists, apiErr.Code)
}

func TestListingCommands(t *testing.T) {
	calls := server(t)

	out, err := execute("history", "-p", "orders")
	require.NoError(t, err)
	assert.Contains(t, out, "orders")
	assert.Contains(t, out, "OPERATIONAL")
	assert.Equal(t, "limit=20&pipeline=orders", (*calls)[0].query)

	out, err = execute("list")
	require.NoError(t, err)
	assert.Contains(t, out, "sales")
	assert.Contains(t, out, "CRITICAL")

	out, err = execute("clean-history", "all")
	require.NoError(t, err)
	assert.Equal(t, "Deleted 4 executions\n", out)

	out, err = execute("code", "clean", "-p", "orders")
	require.NoError(t, err)
	assert.Equal(t, "# orders/clean (python)\ndef run(df):\n    return df\n", out)
}

func TestClientDecodesEnvelope(t *testing.T) {
	server(t)
	var resp api.RunResponse
	require.NoError(t, client.Call(http.MethodPost, "/pipeline/orders/run", nil, &resp))
	assert.Equal(t, uint(12), resp.ExecutionID)

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"execution_id": 12}`, string(raw))
}
