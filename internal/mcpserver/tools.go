package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the commerce ops MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolListPDFs = mcp.NewTool("list_pdfs",
	mcp.WithDescription(
		"Browse the PDF catalog. Returns every purchasable report with its "+
			"price, currency, and payment link status."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of PDFs to return (default 100)")),
)

var ToolGetPDF = mcp.NewTool("get_pdf",
	mcp.WithDescription(
		"Look up one PDF in the catalog by ID. Shows full detail including "+
			"the cached payment link if one exists."),
	mcp.WithString("pdf_id",
		mcp.Required(),
		mcp.Description("The catalog ID of the PDF (e.g. 'pdf-q3-outlook')")),
)

var ToolCreatePaymentLink = mcp.NewTool("create_payment_link",
	mcp.WithDescription(
		"Create (or fetch the cached) shareable payment link for a PDF. "+
			"The link is reusable and not tied to any user; paste it into "+
			"show notes or a newsletter."),
	mcp.WithString("pdf_id",
		mcp.Required(),
		mcp.Description("The catalog ID of the PDF to sell through the link")),
)

var ToolLookupPurchase = mcp.NewTool("lookup_purchase",
	mcp.WithDescription(
		"Look up a purchase by ID. Shows its status (pending, completed, "+
			"failed, disputed), the buyer, amounts, and failure reason if any. "+
			"Use this when a listener reports a payment problem."),
	mcp.WithString("purchase_id",
		mcp.Required(),
		mcp.Description("The purchase ID (e.g. 'pur_a1b2c3')")),
)

var ToolListUserPurchases = mcp.NewTool("list_user_purchases",
	mcp.WithDescription(
		"List a user's purchases, newest first. Use this to see what a "+
			"listener has bought and whether anything failed."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The user ID whose purchases to list")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of purchases to return (default 50)")),
)

var ToolResendReceipt = mcp.NewTool("resend_receipt",
	mcp.WithDescription(
		"Re-send the receipt email for a completed purchase with a fresh "+
			"download link. Use this when a listener lost the email or their "+
			"download link expired."),
	mcp.WithString("purchase_id",
		mcp.Required(),
		mcp.Description("The completed purchase to re-deliver")),
)
