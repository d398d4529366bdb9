package handler

import (
	"encoding/json"
	"net/http"

	"github.com/quotaforge/gateway/chatapi"
	"github.com/quotaforge/gateway/upstream"
)

// ModelsHandler implements GET /v1/models.
type ModelsHandler struct {
	upstream upstream.Provider
}

// NewModelsHandler constructs a ModelsHandler listing whichever
// upstream (mock or real) the gateway is configured to use.
func NewModelsHandler(up upstream.Provider) *ModelsHandler {
	return &ModelsHandler{upstream: up}
}

type modelsList struct {
	Object string              `json:"object"`
	Data   []chatapi.ModelInfo `json:"data"`
}

func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	list := modelsList{
		Object: "list",
		Data: []chatapi.ModelInfo{
			{ID: h.upstream.Name(), Object: "model", OwnedBy: h.upstream.Name()},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(list)
}
