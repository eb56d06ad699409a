package v1

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/tickettransfer/internal/apierrors"
	"github.com/goatkit/tickettransfer/internal/models"
	"github.com/goatkit/tickettransfer/internal/service/remoterpc"
	"github.com/goatkit/tickettransfer/internal/service/transferconfig"
)

// configRequest carries the API key, which TransferConfig never serialises.
type configRequest struct {
	models.TransferConfig
	APIKey string `json:"api_key"`
}

func (r *configRequest) config() *models.TransferConfig {
	cfg := r.TransferConfig
	cfg.Secret = r.APIKey
	return &cfg
}

// GET /api/v1/transfer-configs?active=true
func (router *APIRouter) handleListConfigs(c *gin.Context) {
	activeOnly, _ := strconv.ParseBool(c.Query("active"))
	configs, err := router.deps.Configs.List(c.Request.Context(), activeOnly)
	if err != nil {
		router.sendServiceError(c, err)
		return
	}
	sendSuccess(c, gin.H{"count": len(configs), "configs": configs})
}

// GET /api/v1/transfer-configs/:id
func (router *APIRouter) handleGetConfig(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	cfg, err := router.deps.Configs.Get(c.Request.Context(), id)
	if err != nil {
		router.sendServiceError(c, err)
		return
	}
	sendSuccess(c, cfg)
}

// POST /api/v1/transfer-configs
func (router *APIRouter) handleCreateConfig(c *gin.Context) {
	var body configRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		apierrors.ErrorWithMessage(c, apierrors.CodeInvalidRequest, "Invalid configuration: "+err.Error())
		return
	}
	created, err := router.deps.Configs.Create(c.Request.Context(), body.config())
	if err != nil {
		router.sendServiceError(c, err)
		return
	}
	sendCreated(c, created)
}

// PUT /api/v1/transfer-configs/:id
// A blank api_key keeps the stored one.
func (router *APIRouter) handleUpdateConfig(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	var body configRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		apierrors.ErrorWithMessage(c, apierrors.CodeInvalidRequest, "Invalid configuration: "+err.Error())
		return
	}
	cfg := body.config()
	cfg.ID = id
	updated, err := router.deps.Configs.Update(c.Request.Context(), cfg)
	if err != nil {
		router.sendServiceError(c, err)
		return
	}
	sendSuccess(c, updated)
}

// DELETE /api/v1/transfer-configs/:id
func (router *APIRouter) handleDeleteConfig(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	if err := router.deps.Configs.Delete(c.Request.Context(), id); err != nil {
		router.sendServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleTestConfig authenticates against the destination and reports
// the stored result. A failed login is still a 200 with success=false so
// the client can show the message next to the config.
// POST /api/v1/transfer-configs/:id/test
func (router *APIRouter) handleTestConfig(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	testErr := router.deps.Configs.TestConnection(ctx, id)
	if testErr != nil && !remoterpc.IsAuthentication(testErr) {
		router.sendServiceError(c, testErr)
		return
	}

	cfg, err := router.deps.Configs.Get(ctx, id)
	if err != nil {
		router.sendServiceError(c, err)
		return
	}
	resp := APIResponse{Success: testErr == nil, Data: gin.H{
		"config_id":        id,
		"last_test_date":   cfg.LastTestDate,
		"last_test_result": cfg.LastTestResult,
	}}
	if testErr != nil {
		resp.Error = testErr.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// GET /api/v1/transfer-configs/export?ids=1,2&include_secrets=true
func (router *APIRouter) handleExportConfigs(c *gin.Context) {
	var opts transferconfig.ExportOptions
	if raw := c.Query("ids"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || id <= 0 {
				apierrors.Error(c, apierrors.CodeInvalidID)
				return
			}
			opts.IDs = append(opts.IDs, id)
		}
	}
	opts.IncludeSecrets, _ = strconv.ParseBool(c.Query("include_secrets"))

	var buf bytes.Buffer
	if _, err := router.deps.Configs.Export(c.Request.Context(), &buf, opts); err != nil {
		router.sendServiceError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="transfer-configs.yaml"`)
	c.Data(http.StatusOK, "application/yaml", buf.Bytes())
}

// POST /api/v1/transfer-configs/import (body: YAML document)
func (router *APIRouter) handleImportConfigs(c *gin.Context) {
	result, err := router.deps.Configs.Import(c.Request.Context(), c.Request.Body)
	if err != nil {
		router.sendServiceError(c, err)
		return
	}
	sendSuccess(c, result)
}
