package models

// Credit history source values.
const (
	CreditSourcePurchase     = "purchase"
	CreditSourceSubscription = "subscription"
	CreditSourceBonus        = "bonus"
	CreditSourceConsume      = "consume"
	CreditSourceReconcile    = "reconcile"
)

// CreditHistory is an append-only record of one ledger mutation.
type CreditHistory struct {
	BaseModel

	ProfileID     string `json:"profile_id" gorm:"not null;size:36;index"`
	Delta         int    `json:"delta" gorm:"not null"`
	BalanceAfter  int    `json:"balance_after" gorm:"not null"`
	Source        string `json:"source" gorm:"not null;size:20;index"`
	TransactionID string `json:"transaction_id" gorm:"size:100;index"`
	ProductID     string `json:"product_id" gorm:"size:100"`
}

// TableName pins the table name
func (CreditHistory) TableName() string {
	return "credit_history"
}
