package workflow

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/ClareAI/astra-voice-receptionist/internal/apperr"
	"github.com/ClareAI/astra-voice-receptionist/internal/domain"
	"github.com/jung-kurt/gofpdf/v2"
	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// ActionRunner executes one workflow step, given its config and the
// template context for interpolation (spec.md §4.H "Actions"). Each method
// returns the step's output object (stored into workflow_run.result[]).
type ActionRunner struct {
	httpClient *http.Client

	smtpAddr string // host:port, empty disables send_email (no-op)
	smtpFrom string
	smtpAuth smtp.Auth

	twilioClient    *twilio.RestClient
	twilioFromPhone string

	aiEndpoint string // OpenAI-compatible endpoint for the ai_* actions
	aiAPIKey   string

	leadStore LeadStore
	priceList PriceList
}

// LeadStore persists a Lead produced by store_lead.
type LeadStore interface {
	SaveLead(ctx context.Context, lead domain.LeadRecord) error
}

// PriceList resolves a tenant's catalogue for build_quote.
type PriceList interface {
	PriceFor(ctx context.Context, tenantID, description string) (unitPrice float64, taxRate float64, found bool)
}

// NewActionRunner constructs an ActionRunner. Any of the external-service
// fields may be left at their zero value, in which case that action is a
// documented no-op (spec.md §4.H "SMTP or no-op if not configured").
func NewActionRunner(httpTimeout time.Duration, smtpAddr, smtpFrom string, smtpAuth smtp.Auth, twilioAccountSID, twilioAuthToken, twilioFromPhone, aiEndpoint, aiAPIKey string, leadStore LeadStore, priceList PriceList) *ActionRunner {
	var client *twilio.RestClient
	if twilioAccountSID != "" && twilioAuthToken != "" {
		client = twilio.NewRestClientWithParams(twilio.ClientParams{Username: twilioAccountSID, Password: twilioAuthToken})
	}

	return &ActionRunner{
		httpClient:      &http.Client{Timeout: httpTimeout},
		smtpAddr:        smtpAddr,
		smtpFrom:        smtpFrom,
		smtpAuth:        smtpAuth,
		twilioClient:    client,
		twilioFromPhone: twilioFromPhone,
		aiEndpoint:      aiEndpoint,
		aiAPIKey:        aiAPIKey,
		leadStore:       leadStore,
		priceList:       priceList,
	}
}

// Run dispatches to the action named by step.Action.
func (a *ActionRunner) Run(ctx context.Context, step domain.Step, tctx templateContext, tenantID, callID string) (map[string]interface{}, error) {
	switch step.Action {
	case domain.ActionSendEmail:
		return a.sendEmail(step.Config, tctx)
	case domain.ActionSendSMS:
		return a.sendSMS(step.Config, tctx)
	case domain.ActionFireWebhook:
		return a.fireWebhook(ctx, step.Config, tctx)
	case domain.ActionAISummarize:
		return a.aiCall(ctx, step.Config, tctx, "summary", false)
	case domain.ActionAIExtract:
		return a.aiCall(ctx, step.Config, tctx, "extracted", true)
	case domain.ActionAIExtractQuote:
		return a.aiCall(ctx, step.Config, tctx, "extracted", true)
	case domain.ActionBuildQuote:
		return a.buildQuote(ctx, step.Config, tctx, tenantID)
	case domain.ActionStoreLead:
		return a.storeLead(ctx, step.Config, tctx, tenantID, callID)
	default:
		return nil, apperr.New(apperr.InvalidInput, "unknown action: "+string(step.Action))
	}
}

func (a *ActionRunner) sendEmail(cfg domain.JSONB, tctx templateContext) (map[string]interface{}, error) {
	to, _ := cfg["to"].(string)
	subject := interpolate(stringOr(cfg, "subject"), tctx)
	body := interpolate(stringOr(cfg, "body"), tctx)

	if a.smtpAddr == "" || to == "" {
		return map[string]interface{}{"sent": false, "reason": "smtp not configured"}, nil
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", a.smtpFrom, to, subject, body)
	if err := smtp.SendMail(a.smtpAddr, a.smtpAuth, a.smtpFrom, []string{to}, []byte(msg)); err != nil {
		return nil, apperr.Wrap(apperr.UpstreamFailure, "send_email failed", err)
	}
	return map[string]interface{}{"sent": true, "to": to}, nil
}

func (a *ActionRunner) sendSMS(cfg domain.JSONB, tctx templateContext) (map[string]interface{}, error) {
	to, _ := cfg["to"].(string)
	body := interpolate(stringOr(cfg, "body"), tctx)

	if a.twilioClient == nil || to == "" {
		return map[string]interface{}{"sent": false, "to": to, "reason": "twilio not configured"}, nil
	}

	params := &twilioapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(a.twilioFromPhone)
	params.SetBody(body)

	if _, err := a.twilioClient.Api.CreateMessage(params); err != nil {
		return nil, apperr.Wrap(apperr.UpstreamFailure, "send_sms failed", err)
	}
	return map[string]interface{}{"sent": true, "to": to}, nil
}

func (a *ActionRunner) fireWebhook(ctx context.Context, cfg domain.JSONB, tctx templateContext) (map[string]interface{}, error) {
	url, _ := cfg["url"].(string)
	secret, _ := cfg["secret"].(string)
	if url == "" {
		return nil, apperr.New(apperr.InvalidInput, "fire_webhook requires url")
	}

	payload := map[string]interface{}{
		"caller":     tctx.Caller,
		"tenant":     tctx.Tenant,
		"transcript": tctx.Transcript,
		"timestamp":  tctx.Timestamp,
	}
	if includeSteps, _ := cfg["includeStepOutputs"].(bool); includeSteps {
		payload["step_outputs"] = tctx.StepOutputs
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "encode fire_webhook body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "build fire_webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		req.Header.Set("X-Workflow-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamFailure, "fire_webhook request failed", err)
	}
	defer resp.Body.Close()

	return map[string]interface{}{"status_code": resp.StatusCode}, nil
}

type openAIChatRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
}

// aiCall invokes an OpenAI-compatible chat completion endpoint. jsonMode
// strips markdown code fences before parsing (spec.md §4.H "ai_extract,
// ai_extract_quote ... strip markdown code fences").
func (a *ActionRunner) aiCall(ctx context.Context, cfg domain.JSONB, tctx templateContext, outputKey string, jsonMode bool) (map[string]interface{}, error) {
	if a.aiEndpoint == "" {
		return map[string]interface{}{outputKey: ""}, nil
	}

	prompt := interpolate(stringOr(cfg, "prompt"), tctx)
	model, _ := cfg["model"].(string)
	if model == "" {
		model = "gpt-4o-mini"
	}

	reqBody, err := json.Marshal(openAIChatRequest{
		Model:    model,
		Messages: []openAIMessage{{Role: "user", Content: prompt + "\n\nTranscript:\n" + tctx.Transcript}},
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "encode ai request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.aiEndpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "build ai request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.aiAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.aiAPIKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamFailure, "ai request failed", err)
	}
	defer resp.Body.Close()

	var chatResp openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, apperr.Wrap(apperr.UpstreamFailure, "decode ai response", err)
	}
	if len(chatResp.Choices) == 0 {
		return map[string]interface{}{outputKey: ""}, nil
	}

	content := chatResp.Choices[0].Message.Content
	if !jsonMode {
		return map[string]interface{}{outputKey: content}, nil
	}

	content = stripCodeFences(content)
	var extracted map[string]interface{}
	if err := json.Unmarshal([]byte(content), &extracted); err != nil {
		return map[string]interface{}{outputKey: map[string]interface{}{"raw": content}}, nil
	}
	return map[string]interface{}{outputKey: extracted}, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

type quoteLineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
}

// buildQuote matches extracted line items to tenant pricing, computes
// totals, and renders a PDF (spec.md §4.H "build_quote"). Line items come
// from the step's own config if set, falling back to a prior
// ai_extract_quote step's output so a quote can be built from the
// conversation without a hand-authored lineItems list.
func (a *ActionRunner) buildQuote(ctx context.Context, cfg domain.JSONB, tctx templateContext, tenantID string) (map[string]interface{}, error) {
	rawItems, ok := cfg["lineItems"].([]interface{})
	if !ok || len(rawItems) == 0 {
		rawItems, _ = tctx.Extracted["lineItems"].([]interface{})
	}
	taxRate, _ := cfg["taxRate"].(float64)

	type line struct {
		Description string
		Quantity    float64
		UnitPrice   float64
		Total       float64
	}

	var lines []line
	var subtotal float64
	for _, raw := range rawItems {
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		desc, _ := m["description"].(string)
		qty, _ := m["quantity"].(float64)
		if qty == 0 {
			qty = 1
		}

		unitPrice, lineTax, found := float64(0), taxRate, false
		if a.priceList != nil {
			unitPrice, lineTax, found = a.priceList.PriceFor(ctx, tenantID, desc)
		}
		if found {
			taxRate = lineTax
		}

		total := unitPrice * qty
		subtotal += total
		lines = append(lines, line{Description: desc, Quantity: qty, UnitPrice: unitPrice, Total: total})
	}

	tax := subtotal * taxRate
	grandTotal := subtotal + tax
	quoteNumber := fmt.Sprintf("Q-%s-%s", time.Now().Format("20060102"), randomHex(4))

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(0, 10, "Quote "+quoteNumber)
	pdf.Ln(14)
	pdf.SetFont("Arial", "", 11)
	for _, l := range lines {
		pdf.Cell(0, 8, fmt.Sprintf("%s x%.0f - $%.2f", l.Description, l.Quantity, l.Total))
		pdf.Ln(8)
	}
	pdf.Ln(4)
	pdf.Cell(0, 8, fmt.Sprintf("Subtotal: $%.2f", subtotal))
	pdf.Ln(8)
	pdf.Cell(0, 8, fmt.Sprintf("Tax: $%.2f", tax))
	pdf.Ln(8)
	pdf.Cell(0, 8, fmt.Sprintf("Total: $%.2f", grandTotal))

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "render quote pdf", err)
	}

	return map[string]interface{}{
		"quoteNumber": quoteNumber,
		"subtotal":    subtotal,
		"tax":         tax,
		"total":       grandTotal,
		"pdfBytes":    buf.Len(),
	}, nil
}

func randomHex(n int) string {
	b := make([]byte, n/2+1)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)[:n]
}

// storeLead merges the triggering event's lead, the most recent extraction,
// and the step's own config into one record, in increasing precedence order
// (spec.md §4.H "merge config > extracted > event.lead").
func (a *ActionRunner) storeLead(ctx context.Context, cfg domain.JSONB, tctx templateContext, tenantID, callID string) (map[string]interface{}, error) {
	fields := map[string]interface{}{}
	for k, v := range tctx.EventLead {
		fields[k] = v
	}
	for k, v := range tctx.Extracted {
		fields[k] = v
	}
	for k, v := range cfg {
		fields[k] = v
	}

	priority, _ := fields["priority"].(string)
	if priority == "" {
		priority = "normal"
	}

	lead := domain.LeadRecord{
		TenantID: tenantID,
		CallID:   callID,
		Name:     stringField(fields, "name"),
		Phone:    stringField(fields, "phone"),
		Email:    stringField(fields, "email"),
		Priority: priority,
		Fields:   domain.JSONB(fields),
	}

	if a.leadStore != nil {
		if err := a.leadStore.SaveLead(ctx, lead); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "store_lead failed", err)
		}
	}

	return map[string]interface{}{"name": lead.Name, "phone": lead.Phone, "priority": lead.Priority}, nil
}

func stringOr(cfg domain.JSONB, key string) string {
	s, _ := cfg[key].(string)
	return s
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}
