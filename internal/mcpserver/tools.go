package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the fraudwatch MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolSubmitTransaction = mcp.NewTool("submit_transaction",
	mcp.WithDescription(
		"Score a payment transaction for fraud risk. "+
			"Returns the risk score (0-100), the status (SAFE, UNDER_REVIEW or FRAUD) and every reason that contributed. "+
			"Transactions that need review are queued for analysts automatically."),
	mcp.WithString("transaction_id",
		mcp.Required(),
		mcp.Description("Unique transaction ID. Resubmitting an existing ID is rejected.")),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The paying user's ID, usually an email address")),
	mcp.WithNumber("amount",
		mcp.Required(),
		mcp.Description("Transaction amount (non-negative)")),
	mcp.WithString("merchant",
		mcp.Required(),
		mcp.Description("Merchant name")),
	mcp.WithString("location",
		mcp.Required(),
		mcp.Description("Where the payment was made, e.g. 'Berlin, DE'")),
	mcp.WithString("ip_address",
		mcp.Required(),
		mcp.Description("Source IPv4 address")),
	mcp.WithString("channel",
		mcp.Description("Payment channel"),
		mcp.Enum("Web App", "Mobile App", "API")),
	mcp.WithString("payment_instrument",
		mcp.Description("Card fingerprint or other instrument identifier")),
)

var ToolGetTransaction = mcp.NewTool("get_transaction",
	mcp.WithDescription("Look up a stored transaction with its risk analysis and review history."),
	mcp.WithString("transaction_id",
		mcp.Required(),
		mcp.Description("The transaction ID")),
)

var ToolListTransactions = mcp.NewTool("list_transactions",
	mcp.WithDescription("List recent transactions, newest first. Optionally filter by status or user."),
	mcp.WithString("status",
		mcp.Description("Only return transactions with this status"),
		mcp.Enum("SAFE", "UNDER_REVIEW", "FRAUD")),
	mcp.WithString("user_id",
		mcp.Description("Only return this user's transactions")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of transactions to return (default 20)")),
)

var ToolNextForReview = mcp.NewTool("next_for_review",
	mcp.WithDescription(
		"Take the highest-risk transaction off the analyst review queue. "+
			"The transaction is removed from the queue; record the decision with review_transaction."),
)

var ToolReviewQueue = mcp.NewTool("review_queue",
	mcp.WithDescription("Show the analyst review queue, highest risk first, without removing anything."),
)

var ToolReviewTransaction = mcp.NewTool("review_transaction",
	mcp.WithDescription("Record an analyst decision for a transaction."),
	mcp.WithString("transaction_id",
		mcp.Required(),
		mcp.Description("The transaction ID")),
	mcp.WithString("status",
		mcp.Required(),
		mcp.Description("The decision"),
		mcp.Enum("SAFE", "UNDER_REVIEW", "FRAUD")),
	mcp.WithString("notes",
		mcp.Description("Reviewer notes, appended to the transaction's reasons")),
)

var ToolBlacklistEntity = mcp.NewTool("blacklist_entity",
	mcp.WithDescription(
		"Add a user, IP address, payment instrument or merchant to the blacklist. "+
			"Future transactions that match score higher."),
	mcp.WithString("type",
		mcp.Required(),
		mcp.Description("What kind of value this is"),
		mcp.Enum("user", "ip", "instrument", "merchant")),
	mcp.WithString("value",
		mcp.Required(),
		mcp.Description("The value to blacklist")),
)

var ToolFlagIP = mcp.NewTool("flag_ip",
	mcp.WithDescription("Flag an IP address as suspicious. Every transaction from it scores higher."),
	mcp.WithString("ip_address",
		mcp.Required(),
		mcp.Description("IPv4 address to flag")),
	mcp.WithString("reason",
		mcp.Required(),
		mcp.Description("Why the address is suspicious")),
)

var ToolFraudNetworkStats = mcp.NewTool("fraud_network_stats",
	mcp.WithDescription(
		"Summarize the fraud network: users linked by shared IP addresses, "+
			"the number of fraud rings and the largest rings."),
	mcp.WithNumber("limit",
		mcp.Description("How many rings to list (default 5)")),
)

var ToolCheckActorsLinked = mcp.NewTool("check_actors_linked",
	mcp.WithDescription("Check whether two users belong to the same fraud ring."),
	mcp.WithString("user_a",
		mcp.Required(),
		mcp.Description("First user ID")),
	mcp.WithString("user_b",
		mcp.Required(),
		mcp.Description("Second user ID")),
)

var ToolFraudSummary = mcp.NewTool("fraud_summary",
	mcp.WithDescription("Aggregate detection figures (totals, detection rate, top fraud merchants) over a period."),
	mcp.WithString("period",
		mcp.Description("Reporting period (default 24h)"),
		mcp.Enum("1h", "24h", "7d", "30d", "all")),
)
