package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// HandleSubmitTransaction scores a transaction.
func (h *Handlers) HandleSubmitTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tx := map[string]any{}
	required := []struct{ arg, field string }{
		{"transaction_id", "transactionId"},
		{"user_id", "userId"},
		{"merchant", "merchant"},
		{"location", "location"},
		{"ip_address", "ipAddress"},
	}
	for _, r := range required {
		v := req.GetString(r.arg, "")
		if v == "" {
			return mcp.NewToolResultError(r.arg + " is required"), nil
		}
		tx[r.field] = v
	}
	if _, ok := req.GetArguments()["amount"]; !ok {
		return mcp.NewToolResultError("amount is required"), nil
	}
	tx["amount"] = req.GetFloat("amount", 0)
	if v := req.GetString("channel", ""); v != "" {
		tx["channel"] = v
	}
	if v := req.GetString("payment_instrument", ""); v != "" {
		tx["paymentInstrument"] = v
	}

	raw, err := h.client.SubmitTransaction(ctx, tx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to submit transaction: %v", err)), nil
	}

	var resp struct {
		Transaction transactionInfo `json:"transaction"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse result: %v", err)), nil
	}
	return mcp.NewToolResultText(formatTransaction(resp.Transaction)), nil
}

// HandleGetTransaction fetches one transaction.
func (h *Handlers) HandleGetTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("transaction_id", "")
	if id == "" {
		return mcp.NewToolResultError("transaction_id is required"), nil
	}

	raw, err := h.client.GetTransaction(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get transaction: %v", err)), nil
	}

	var resp struct {
		Transaction transactionInfo `json:"transaction"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse transaction: %v", err)), nil
	}
	return mcp.NewToolResultText(formatTransaction(resp.Transaction)), nil
}

// HandleListTransactions lists recent transactions.
func (h *Handlers) HandleListTransactions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := strings.ToUpper(req.GetString("status", ""))
	userID := req.GetString("user_id", "")
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListTransactions(ctx, status, userID, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list transactions: %v", err)), nil
	}

	var resp struct {
		Transactions []transactionInfo `json:"transactions"`
		Pagination   struct {
			Total int `json:"total"`
		} `json:"pagination"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse transactions: %v", err)), nil
	}
	if len(resp.Transactions) == 0 {
		return mcp.NewToolResultText("No transactions found."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Showing %d of %d transaction(s):\n\n", len(resp.Transactions), resp.Pagination.Total)
	for i, t := range resp.Transactions {
		fmt.Fprintf(&sb, "%d. %s  %s  score %d  %s\n", i+1, t.TransactionID, t.Status, t.RiskScore, t.UserID)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleNextForReview pops the highest-risk queued transaction.
func (h *Handlers) HandleNextForReview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.NextForReview(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch next review: %v", err)), nil
	}

	var resp struct {
		Transaction *transactionInfo `json:"transaction"`
		Remaining   int              `json:"remaining"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse review: %v", err)), nil
	}
	if resp.Transaction == nil {
		return mcp.NewToolResultText("Review queue is empty."), nil
	}

	text := formatTransaction(*resp.Transaction)
	text += fmt.Sprintf("\n%d transaction(s) left in the queue.", resp.Remaining)
	return mcp.NewToolResultText(text), nil
}

// HandleReviewQueue lists the review queue.
func (h *Handlers) HandleReviewQueue(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ReviewQueue(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get review queue: %v", err)), nil
	}

	var resp struct {
		Queue []struct {
			TransactionID string `json:"transactionId"`
			UserID        string `json:"userId"`
			RiskScore     int    `json:"riskScore"`
			Status        string `json:"status"`
		} `json:"queue"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse review queue: %v", err)), nil
	}
	if len(resp.Queue) == 0 {
		return mcp.NewToolResultText("Review queue is empty."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d transaction(s) awaiting review:\n\n", len(resp.Queue))
	for i, e := range resp.Queue {
		fmt.Fprintf(&sb, "%d. %s  score %d  %s", i+1, e.TransactionID, e.RiskScore, e.Status)
		if e.UserID != "" {
			fmt.Fprintf(&sb, "  (%s)", e.UserID)
		}
		sb.WriteString("\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleReviewTransaction records an analyst decision.
func (h *Handlers) HandleReviewTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("transaction_id", "")
	if id == "" {
		return mcp.NewToolResultError("transaction_id is required"), nil
	}
	status := strings.ToUpper(req.GetString("status", ""))
	if status == "" {
		return mcp.NewToolResultError("status is required"), nil
	}
	notes := req.GetString("notes", "")

	raw, err := h.client.ReviewTransaction(ctx, id, status, notes)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Review failed: %v", err)), nil
	}

	var resp struct {
		Transaction transactionInfo `json:"transaction"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse review: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Transaction %s marked %s by %s.",
		resp.Transaction.TransactionID, resp.Transaction.Status, resp.Transaction.ReviewedBy)), nil
}

// HandleBlacklistEntity adds a value to the blacklist.
func (h *Handlers) HandleBlacklistEntity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind := req.GetString("type", "")
	if kind == "" {
		return mcp.NewToolResultError("type is required"), nil
	}
	value := req.GetString("value", "")
	if value == "" {
		return mcp.NewToolResultError("value is required"), nil
	}

	raw, err := h.client.AddToBlacklist(ctx, kind, value)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to blacklist: %v", err)), nil
	}

	var resp struct {
		Added bool `json:"added"`
	}
	_ = json.Unmarshal(raw, &resp)
	if !resp.Added {
		return mcp.NewToolResultText(fmt.Sprintf("%s %q was already blacklisted.", kind, value)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Blacklisted %s %q.", kind, value)), nil
}

// HandleFlagIP flags an IP address.
func (h *Handlers) HandleFlagIP(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ip := req.GetString("ip_address", "")
	if ip == "" {
		return mcp.NewToolResultError("ip_address is required"), nil
	}
	reason := req.GetString("reason", "")
	if reason == "" {
		return mcp.NewToolResultError("reason is required"), nil
	}

	raw, err := h.client.FlagIP(ctx, ip, reason)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to flag IP: %v", err)), nil
	}

	var resp struct {
		Network struct {
			LinkedUsers      []string `json:"linkedUserIds"`
			TransactionCount int      `json:"transactionCount"`
		} `json:"network"`
	}
	_ = json.Unmarshal(raw, &resp)
	return mcp.NewToolResultText(fmt.Sprintf(
		"Flagged %s (%s).\nSeen on %d transaction(s) from %d user(s).",
		ip, reason, resp.Network.TransactionCount, len(resp.Network.LinkedUsers))), nil
}

// HandleFraudNetworkStats summarizes the fraud graph and its largest rings.
func (h *Handlers) HandleFraudNetworkStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 5)

	statsRaw, err := h.client.GraphStats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get graph stats: %v", err)), nil
	}
	ringsRaw, err := h.client.FraudRings(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get fraud rings: %v", err)), nil
	}

	var stats struct {
		Stats struct {
			Vertices    int `json:"totalVertices"`
			Edges       int `json:"totalEdges"`
			Rings       int `json:"fraudRings"`
			LargestRing int `json:"largestRing"`
		} `json:"stats"`
	}
	var rings struct {
		Rings [][]string `json:"rings"`
	}
	if err := json.Unmarshal(statsRaw, &stats); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse graph stats: %v", err)), nil
	}
	if err := json.Unmarshal(ringsRaw, &rings); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse fraud rings: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString("Fraud Network:\n")
	fmt.Fprintf(&sb, "  Users: %d\n", stats.Stats.Vertices)
	fmt.Fprintf(&sb, "  Links: %d\n", stats.Stats.Edges)
	fmt.Fprintf(&sb, "  Rings: %d (largest %d)\n", stats.Stats.Rings, stats.Stats.LargestRing)
	if len(rings.Rings) > 0 {
		sb.WriteString("\nLargest rings:\n")
		for i, r := range rings.Rings {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, strings.Join(r, ", "))
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleCheckActorsLinked checks whether two users share a ring.
func (h *Handlers) HandleCheckActorsLinked(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := req.GetString("user_a", "")
	b := req.GetString("user_b", "")
	if a == "" || b == "" {
		return mcp.NewToolResultError("user_a and user_b are required"), nil
	}

	raw, err := h.client.ActorsLinked(ctx, a, b)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check link: %v", err)), nil
	}

	var resp struct {
		Linked bool `json:"linked"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse result: %v", err)), nil
	}
	if resp.Linked {
		return mcp.NewToolResultText(fmt.Sprintf("%s and %s are in the same fraud ring.", a, b)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s and %s are not linked.", a, b)), nil
}

// HandleFraudSummary returns aggregate detection figures.
func (h *Handlers) HandleFraudSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	period := req.GetString("period", "24h")

	raw, err := h.client.Summary(ctx, period)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get summary: %v", err)), nil
	}

	text, err := formatSummary(period, raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse summary: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// --- Formatting helpers ---

type transactionInfo struct {
	TransactionID string   `json:"transactionId"`
	UserID        string   `json:"userId"`
	Amount        string   `json:"amount"`
	Merchant      string   `json:"merchant"`
	RiskScore     int      `json:"riskScore"`
	Status        string   `json:"status"`
	Reasons       []string `json:"fraudReasons"`
	ReviewedBy    string   `json:"reviewedBy"`
}

func formatTransaction(t transactionInfo) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Transaction %s\n", t.TransactionID)
	fmt.Fprintf(&sb, "  User: %s\n", t.UserID)
	if t.Amount != "" {
		fmt.Fprintf(&sb, "  Amount: %s at %s\n", t.Amount, t.Merchant)
	}
	fmt.Fprintf(&sb, "  Risk score: %d\n", t.RiskScore)
	fmt.Fprintf(&sb, "  Status: %s\n", t.Status)
	if t.ReviewedBy != "" {
		fmt.Fprintf(&sb, "  Reviewed by: %s\n", t.ReviewedBy)
	}
	if len(t.Reasons) > 0 {
		sb.WriteString("  Reasons:\n")
		for _, r := range t.Reasons {
			fmt.Fprintf(&sb, "    - %s\n", r)
		}
	}
	return sb.String()
}

func formatSummary(period string, raw json.RawMessage) (string, error) {
	var resp struct {
		Summary map[string]any `json:"summary"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if resp.Summary == nil {
		return "", fmt.Errorf("unexpected summary response format")
	}
	s := resp.Summary

	var sb strings.Builder
	fmt.Fprintf(&sb, "Fraud summary (%s):\n", period)
	fmt.Fprintf(&sb, "  Transactions: %s\n", getString(s, "totalTransactions"))
	fmt.Fprintf(&sb, "  Fraud: %s | Under review: %s | Safe: %s\n",
		getString(s, "fraudDetected"), getString(s, "underReview"), getString(s, "safeTransactions"))
	if v, ok := getFloat(s, "detectionRate"); ok {
		fmt.Fprintf(&sb, "  Detection rate: %.2f%%\n", v)
	}
	if v, ok := getFloat(s, "averageRiskScore"); ok {
		fmt.Fprintf(&sb, "  Average risk score: %.2f\n", v)
	}
	if top, ok := s["topFraudMerchants"].([]any); ok && len(top) > 0 {
		sb.WriteString("  Top fraud merchants:\n")
		for _, item := range top {
			if m, ok := item.(map[string]any); ok {
				fmt.Fprintf(&sb, "    - %s (%s)\n", getString(m, "merchant"), getString(m, "count"))
			}
		}
	}
	return sb.String(), nil
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
