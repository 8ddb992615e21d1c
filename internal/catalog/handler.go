package catalog

import (
	"encoding/json"
	"net/http"
)

// Handler serves the product list loaded at startup.
type Handler struct {
	body []byte
}

func NewHandler(products []Product) *Handler {
	if products == nil {
		products = []Product{}
	}
	body, _ := json.Marshal(products)
	return &Handler{body: body}
}

// ListProducts handles GET /products.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.body)
}
