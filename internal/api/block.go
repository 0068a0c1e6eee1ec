package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"

	"github.com/spectriclabs/gmrt-ingest/internal/rawblock"
)

const (
	HeaderBlock    = "X-Gmrt-Block"
	HeaderPadding  = "X-Gmrt-Padding"
	HeaderChecksum = "X-Gmrt-Checksum"
)

// readBlock seeks a new session to the block named in the URL and
// reads it. Failures are returned as *echo.HTTPError.
func (a *API) readBlock(c echo.Context) (block int64, data []byte, padding bool, err error) {
	block, err = strconv.ParseInt(c.Param("index"), 10, 64)
	if err != nil {
		return 0, nil, false, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("bad block index %q", c.Param("index")))
	}

	session, release, err := a.OpenSession(c.Request().Context())
	if err != nil {
		a.Logger.Error("Error opening session", zap.Error(err))
		return 0, nil, false, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer release()

	if err := session.Seek(block); err != nil {
		if errors.Is(err, rawblock.ErrSeekOutOfRange) {
			return 0, nil, false, echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return 0, nil, false, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	data = make([]byte, session.SampPerBlock())
	if _, padding, err = session.ReadBlock(data); err != nil {
		a.Logger.Error("Error reading block", zap.Int64("block", block), zap.Error(err))
		return 0, nil, false, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return block, data, padding, nil
}

// GetBlock returns one converted block, time-major with one byte per
// channel. The padding flag and an xxh3 checksum of the body are sent
// as headers.
//
// The URL is of the form:
// /ingest/block/:index
func (a *API) GetBlock(c echo.Context) error {
	block, data, padding, err := a.readBlock(c)
	if err != nil {
		return err
	}
	h := c.Response().Header()
	h.Set(HeaderBlock, strconv.FormatInt(block, 10))
	h.Set(HeaderPadding, strconv.FormatBool(padding))
	h.Set(HeaderChecksum, fmt.Sprintf("%016x", xxh3.Hash(data)))
	return c.Blob(http.StatusOK, echo.MIMEOctetStream, data)
}

// GetChannel returns the samples of one channel of a block as JSON.
//
// The URL is of the form:
// /ingest/block/:index/channel/:channel
func (a *API) GetChannel(c echo.Context) error {
	channum, err := strconv.Atoi(c.Param("channel"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("bad channel %q", c.Param("channel")))
	}
	block, data, padding, err := a.readBlock(c)
	if err != nil {
		return err
	}
	out := make([]float64, a.Meta.PtsPerBlock)
	if _, err := rawblock.ExtractChannel(channum, a.Meta.NumChan, data, out); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	h := c.Response().Header()
	h.Set(HeaderBlock, strconv.FormatInt(block, 10))
	h.Set(HeaderPadding, strconv.FormatBool(padding))
	return c.JSON(http.StatusOK, out)
}
