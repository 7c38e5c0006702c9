package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/tbourn/pet-mail-ingest/internal/config"
	"github.com/tbourn/pet-mail-ingest/internal/domain"
	"github.com/tbourn/pet-mail-ingest/internal/services"
)

const testDomain = "pets.example.com"

type fakeIngester struct {
	got  *domain.ParsedEmail
	resp *services.Response
}

func (f *fakeIngester) Process(_ context.Context, e *domain.ParsedEmail) *services.Response {
	f.got = e
	if f.resp != nil {
		return f.resp
	}
	return &services.Response{Status: services.StatusSuccess, EmailKey: e.EmailKey}
}

func newTestHandler(ing Ingester) *handler {
	return newHandler(ing, config.PipelineConfig{
		InboundDomain: testDomain,
		WebhookSecret: "hook",
		MaxBodyBytes:  4096,
	})
}

func request(method, path, body string, headers map[string]string) events.LambdaFunctionURLRequest {
	req := events.LambdaFunctionURLRequest{
		RawPath: path,
		Headers: headers,
		Body:    body,
	}
	req.RequestContext.RequestID = "req-1"
	req.RequestContext.HTTP.Method = method
	return req
}

func decode(t *testing.T, resp events.LambdaFunctionURLResponse) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(resp.Body), &m); err != nil {
		t.Fatalf("body not JSON: %v (%q)", err, resp.Body)
	}
	return m
}

func TestHandle_JSONPayload(t *testing.T) {
	ing := &fakeIngester{}
	h := newTestHandler(ing)
	body := `{"message_id":"<m1@vet.example>","from":"Dr Vet <dr@vet.example>","to":["fluffy@` + testDomain + `"],"subject":"Results"}`

	resp, err := h.handle(context.Background(), request("POST", "/", body, map[string]string{
		"x-webhook-secret": "hook",
		"content-type":     "application/json",
	}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if resp.StatusCode != 200 || resp.Headers["Content-Type"] != "application/json" {
		t.Fatalf("resp = %+v", resp)
	}
	if ing.got == nil || ing.got.From != "dr@vet.example" || ing.got.Recipient != "fluffy@"+testDomain {
		t.Fatalf("parsed = %+v", ing.got)
	}
	if m := decode(t, resp); m["status"] != "success" {
		t.Fatalf("body = %v", m)
	}
}

func TestHandle_RawMIMEBase64(t *testing.T) {
	ing := &fakeIngester{resp: &services.Response{Status: services.StatusPendingApproval, PendingApprovalID: "ap-1"}}
	h := newTestHandler(ing)
	raw := strings.Join([]string{
		"From: New Vet <new@vet.example>",
		"To: fluffy@" + testDomain,
		"Subject: Hello",
		"Message-ID: <raw-1@vet.example>",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Fluffy looks great.",
		"",
	}, "\r\n")
	req := request("POST", "/raw", base64.StdEncoding.EncodeToString([]byte(raw)), map[string]string{"X-Webhook-Secret": "hook"})
	req.IsBase64Encoded = true

	resp, err := h.handle(context.Background(), req)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if resp.StatusCode != 202 {
		t.Fatalf("status = %d body=%s", resp.StatusCode, resp.Body)
	}
	if ing.got == nil || ing.got.From != "new@vet.example" || !strings.Contains(ing.got.TextBody, "Fluffy looks great.") {
		t.Fatalf("parsed = %+v", ing.got)
	}
}

func TestHandle_Rejections(t *testing.T) {
	valid := `{"from":"dr@vet.example","to":["fluffy@` + testDomain + `"]}`
	ok := map[string]string{"x-webhook-secret": "hook"}
	bad := request("POST", "/", "%%%", ok)
	bad.IsBase64Encoded = true

	cases := []struct {
		name   string
		req    events.LambdaFunctionURLRequest
		status int
		code   string
	}{
		{"wrong method", request("GET", "/", "", ok), 405, "method_not_allowed"},
		{"missing secret", request("POST", "/", valid, nil), 401, "unauthorized"},
		{"wrong secret", request("POST", "/", valid, map[string]string{"x-webhook-secret": "nope"}), 401, "unauthorized"},
		{"bad json", request("POST", "/", "{", ok), 400, ""},
		{"no sender", request("POST", "/", `{"to":["fluffy@`+testDomain+`"]}`, ok), 400, ""},
		{"too large", request("POST", "/", strings.Repeat("x", 5000), ok), 413, ""},
		{"bad base64", bad, 400, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ing := &fakeIngester{}
			resp, err := newTestHandler(ing).handle(context.Background(), tc.req)
			if err != nil {
				t.Fatalf("handle: %v", err)
			}
			if resp.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d (%s)", resp.StatusCode, tc.status, resp.Body)
			}
			m := decode(t, resp)
			if tc.code != "" && m["code"] != tc.code {
				t.Fatalf("code = %v, want %s", m["code"], tc.code)
			}
			if tc.code == "" && m["status"] != string(services.StatusValidationError) {
				t.Fatalf("status field = %v", m["status"])
			}
			if ing.got != nil {
				t.Fatalf("pipeline ran for rejected request")
			}
		})
	}
}

func TestHandle_NoSecretConfigured(t *testing.T) {
	ing := &fakeIngester{}
	h := newHandler(ing, config.PipelineConfig{InboundDomain: testDomain})
	body := `{"from":"dr@vet.example","to":["fluffy@` + testDomain + `"]}`
	resp, _ := h.handle(context.Background(), request("POST", "/", body, nil))
	if resp.StatusCode != 200 || ing.got == nil {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestHeader(t *testing.T) {
	h := map[string]string{"Content-Type": "message/rfc822", "x-webhook-secret": "s"}
	if header(h, "content-type") != "message/rfc822" || header(h, "X-Webhook-Secret") != "s" || header(h, "missing") != "" {
		t.Fatalf("header lookup failed")
	}
}
