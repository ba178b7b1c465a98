package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dreamware/meshlite/internal/cluster"
	"github.com/dreamware/meshlite/internal/storage"
)

// Product is a catalog entry
type Product struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Stock int     `json:"stock"`
}

// OrderRequest is the body of POST /orders
type OrderRequest struct {
	CustomerID string  `json:"customer_id" validate:"required"`
	ProductID  string  `json:"product_id" validate:"required"`
	Quantity   int     `json:"quantity" validate:"gte=1"`
	TotalPrice float64 `json:"total_price" validate:"gte=0"`
}

// Order is a created order
type Order struct {
	CreatedAt  time.Time `json:"created_at"`
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	ProductID  string    `json:"product_id"`
	Quantity   int       `json:"quantity"`
	TotalPrice float64   `json:"total_price"`
}

// OrderCreated acknowledges POST /orders
type OrderCreated struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

var seedProducts = []Product{
	{ID: "1", Name: "Laptop", Price: 999.99, Stock: 50},
	{ID: "2", Name: "Mouse", Price: 29.99, Stock: 200},
	{ID: "3", Name: "Keyboard", Price: 79.99, Stock: 150},
}

type backend struct {
	products *storage.Collection[Product]
	orders   *storage.Collection[Order]
	validate *validator.Validate
	now      func() time.Time
	log      zerolog.Logger
	name     string
}

// newBackend creates a backend with the seeded product catalog
func newBackend(name string, log zerolog.Logger) (*backend, error) {
	b := &backend{
		name:     name,
		products: storage.NewCollection[Product]("products"),
		orders:   storage.NewCollection[Order]("orders"),
		validate: validator.New(),
		now:      time.Now,
		log:      log,
	}
	for _, p := range seedProducts {
		if err := b.products.Put(p.ID, p); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *backend) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", b.handleHealth)
	mux.HandleFunc("GET /products", b.handleListProducts)
	mux.HandleFunc("GET /products/{id}", b.handleGetProduct)
	mux.HandleFunc("POST /orders", b.handleCreateOrder)
	mux.HandleFunc("GET /orders/{id}", b.handleGetOrder)
	return mux
}

func (b *backend) handleHealth(w http.ResponseWriter, _ *http.Request) {
	cluster.WriteJSON(w, http.StatusOK, cluster.StatusResponse{Status: "healthy", Service: b.name})
}

func (b *backend) handleListProducts(w http.ResponseWriter, _ *http.Request) {
	products, err := b.products.List()
	if err != nil {
		cluster.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	cluster.WriteJSON(w, http.StatusOK, products)
}

func (b *backend) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := b.products.Get(r.PathValue("id"))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		cluster.WriteError(w, http.StatusNotFound, "Product not found")
	case err != nil:
		cluster.WriteError(w, http.StatusInternalServerError, err.Error())
	default:
		cluster.WriteJSON(w, http.StatusOK, p)
	}
}

func (b *backend) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cluster.WriteError(w, http.StatusBadRequest, "bad json")
		return
	}
	if err := b.validate.Struct(req); err != nil {
		cluster.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	order := Order{
		ID:         uuid.NewString(),
		CustomerID: req.CustomerID,
		ProductID:  req.ProductID,
		Quantity:   req.Quantity,
		TotalPrice: req.TotalPrice,
		CreatedAt:  b.now().UTC(),
	}
	if err := b.orders.Put(order.ID, order); err != nil {
		cluster.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	b.log.Info().Str("order_id", order.ID).Str("customer_id", order.CustomerID).Msg("order created")

	cluster.WriteJSON(w, http.StatusCreated, OrderCreated{OrderID: order.ID, Status: "created"})
}

func (b *backend) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := b.orders.Get(r.PathValue("id"))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		cluster.WriteError(w, http.StatusNotFound, "Order not found")
	case err != nil:
		cluster.WriteError(w, http.StatusInternalServerError, err.Error())
	default:
		cluster.WriteJSON(w, http.StatusOK, o)
	}
}
