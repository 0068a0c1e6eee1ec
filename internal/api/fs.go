package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/spectriclabs/gmrt-ingest/internal/fileset"
)

func (a *API) GetFileLocations(c echo.Context) error {
	return c.JSON(http.StatusOK, a.Cfg.LocationDetails)
}

// GetFiles returns the aggregated timeline of the input files.
func (a *API) GetFiles(c echo.Context) error {
	return c.JSON(http.StatusOK, a.Meta)
}

func (a *API) GetOnOff(c echo.Context) error {
	pairs := a.Meta.OnOff()
	if pairs == nil {
		pairs = []fileset.OnOff{}
	}
	return c.JSON(http.StatusOK, pairs)
}
