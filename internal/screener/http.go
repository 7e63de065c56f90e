package screener

import (
	"context"
	"fmt"

	"resty.dev/v3"

	"github.com/STTM-NSU/crypto-buyer/internal/config"
	"github.com/STTM-NSU/crypto-buyer/internal/logger"
)

type rankedResponse struct {
	Products []string `json:"products"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// HTTPSource asks a ranking service for the list.
// curl -X GET "http://localhost:8000/ranked" -H "accept: application/json"
type HTTPSource struct {
	c   *resty.Client
	cfg config.ScreenerConfig

	logger logger.Logger
}

func NewHTTPSource(cfg config.ScreenerConfig, logger logger.Logger) *HTTPSource {
	client := resty.New().
		SetLogger(logger).
		SetBaseURL(cfg.Address)

	return &HTTPSource{
		c:      client,
		cfg:    cfg,
		logger: logger,
	}
}

func (s *HTTPSource) Close() error {
	return s.c.Close()
}

func (s *HTTPSource) Products(ctx context.Context) ([]string, error) {
	resp, err := s.c.R().
		SetHeader("Accept", "application/json").
		SetResult(&rankedResponse{}).
		SetError(&errorResponse{}).
		SetContext(ctx).
		Get(s.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: can't send request for ranked products", err)
	}

	s.logger.Debugf("got response %s status: %s, %s", resp.Request.URL, resp.Status(), resp.Duration())

	if resp.IsError() {
		msg := resp.Status()
		if e, ok := resp.Error().(*errorResponse); ok && e.Message != "" {
			msg = e.Message
		}
		return nil, fmt.Errorf("%s: ranked products request error", msg)
	}
	if resp.IsSuccess() {
		return Normalize(resp.Result().(*rankedResponse).Products, s.cfg.Limit), nil
	}

	return nil, fmt.Errorf("ranked products unexpected request error: %s", resp.Status())
}
