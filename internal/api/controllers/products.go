package controllers

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/datallboy/gocdse/internal/app"
)

type ProductController struct {
	App *app.Context
}

// HandleList returns every product the catalog search has recorded.
func (ctrl *ProductController) HandleList(c *echo.Context) error {
	products, err := ctrl.App.Store.ListProducts(c.Request().Context())
	if err != nil {
		ctrl.App.Logger.Error("Failed to list products: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to read products")
	}
	return c.JSON(http.StatusOK, products)
}
