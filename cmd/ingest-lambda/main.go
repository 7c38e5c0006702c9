// Package main implements the inbound email webhook as an AWS Lambda
// function behind a Function URL. It runs the same pipeline as the HTTP
// server's /webhooks routes.
package main

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/pet-mail-ingest/internal/app"
	"github.com/tbourn/pet-mail-ingest/internal/config"
	"github.com/tbourn/pet-mail-ingest/internal/domain"
	"github.com/tbourn/pet-mail-ingest/internal/mailparse"
	"github.com/tbourn/pet-mail-ingest/internal/observability"
	"github.com/tbourn/pet-mail-ingest/internal/services"
	"github.com/tbourn/pet-mail-ingest/internal/sysutil"
)

// Ingester runs one parsed email through the pipeline.
type Ingester interface {
	Process(ctx context.Context, email *domain.ParsedEmail) *services.Response
}

// handler adapts Function URL requests to the ingestion pipeline.
type handler struct {
	ing           Ingester
	secret        string
	inboundDomain string
	maxBody       int64
}

func newHandler(ing Ingester, p config.PipelineConfig) *handler {
	return &handler{
		ing:           ing,
		secret:        p.WebhookSecret,
		inboundDomain: p.InboundDomain,
		maxBody:       p.MaxBodyBytes,
	}
}

func (h *handler) handle(ctx context.Context, req events.LambdaFunctionURLRequest) (events.LambdaFunctionURLResponse, error) {
	lg := log.With().Str("request_id", req.RequestContext.RequestID).Logger()
	ctx = lg.WithContext(ctx)

	if req.RequestContext.HTTP.Method != http.MethodPost {
		return errorResponse(http.StatusMethodNotAllowed, "method_not_allowed", "use POST"), nil
	}
	if h.secret != "" {
		got := header(req.Headers, "x-webhook-secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			lg.Warn().Msg("webhook secret mismatch")
			return errorResponse(http.StatusUnauthorized, "unauthorized", "invalid webhook secret"), nil
		}
	}

	body, err := decodeBody(req)
	if err != nil {
		return respond(services.Rejected(err)), nil
	}
	if h.maxBody > 0 && int64(len(body)) > h.maxBody {
		resp := services.Rejected(fmt.Errorf("body exceeds %d bytes", h.maxBody))
		return jsonResponse(http.StatusRequestEntityTooLarge, resp), nil
	}

	email, err := h.parse(req, body)
	if err != nil {
		lg.Warn().Err(err).Msg("inbound email rejected")
		return respond(services.Rejected(err)), nil
	}

	resp := h.ing.Process(ctx, email)
	ev := lg.Info()
	if resp.Code() >= http.StatusInternalServerError {
		ev = lg.Error()
	}
	ev.Str("email_key", resp.EmailKey).
		Str("status", string(resp.Status)).
		Str("pet_id", resp.PetID).
		Int("attachments", resp.AttachmentCount).
		Msg("inbound email")
	return respond(resp), nil
}

// parse treats message/rfc822 bodies and /raw paths as MIME, anything else
// as the JSON payload.
func (h *handler) parse(req events.LambdaFunctionURLRequest, body []byte) (*domain.ParsedEmail, error) {
	ct := strings.ToLower(header(req.Headers, "content-type"))
	if strings.HasPrefix(ct, "message/rfc822") || strings.HasSuffix(req.RawPath, "/raw") {
		return mailparse.ParseRaw(bytes.NewReader(body), h.inboundDomain)
	}
	var p mailparse.Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("invalid JSON payload: %w", err)
	}
	return mailparse.FromPayload(p, h.inboundDomain)
}

func decodeBody(req events.LambdaFunctionURLRequest) ([]byte, error) {
	if !req.IsBase64Encoded {
		return []byte(req.Body), nil
	}
	b, err := base64.StdEncoding.DecodeString(req.Body)
	if err != nil {
		return nil, errors.New("body is not valid base64")
	}
	return b, nil
}

// header looks a header up case-insensitively; Function URLs lowercase
// names but test harnesses often do not.
func header(h map[string]string, name string) string {
	if v, ok := h[name]; ok {
		return v
	}
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func respond(resp *services.Response) events.LambdaFunctionURLResponse {
	return jsonResponse(resp.Code(), resp)
}

func errorResponse(status int, code, msg string) events.LambdaFunctionURLResponse {
	return jsonResponse(status, map[string]string{"code": code, "message": msg})
}

func jsonResponse(status int, v any) events.LambdaFunctionURLResponse {
	b, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		b = []byte(`{"code":"internal_error","message":"encode response"}`)
	}
	return events.LambdaFunctionURLResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(b),
	}
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	sysutil.InitLogger(os.Stdout, cfg.LogLevel, false, cfg.OTEL.ServiceName)

	shutdown, err := observability.SetupOTel(ctx, cfg.OTEL, sysutil.FirstNonEmpty(os.Getenv("AWS_LAMBDA_FUNCTION_VERSION"), "lambda"))
	if err != nil {
		log.Fatal().Err(err).Msg("setup tracing")
	}
	defer func() { _ = shutdown(ctx) }()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("wire service")
	}
	lambda.Start(newHandler(a.Ingester, cfg.Pipeline).handle)
}
