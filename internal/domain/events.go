package domain

import "time"

// Event bus channels.
const (
	ChannelIdeas        = "ideas"
	ChannelTransactions = "transactions"
)

// StreamLifecycle is the durable stream journaling every lifecycle event.
const StreamLifecycle = "lifecycle"

// Event names published on the bus and written to the audit log.
const (
	EventIdeaCreated    = "idea_created"
	EventIdeaUpdated    = "idea_updated"
	EventIdeaDeleted    = "idea_deleted"
	EventIdeaExecuted   = "idea_executed"
	EventBuyRecorded    = "buy_recorded"
	EventPositionSold   = "position_sold"
	EventTxUpdated      = "transaction_updated"
	EventTxDeleted      = "transaction_deleted"
	EventLedgerArchived = "ledger_archived"
)

// LifecycleEvent is the JSON payload published for every lifecycle change.
type LifecycleEvent struct {
	Event         string    `json:"event"`
	IdeaID        int64     `json:"idea_id,omitempty"`
	TransactionID int64     `json:"transaction_id,omitempty"`
	Ticker        string    `json:"ticker,omitempty"`
	PaperTrade    bool      `json:"paper_trade"`
	Detail        string    `json:"detail,omitempty"`
	At            time.Time `json:"at"`
}
