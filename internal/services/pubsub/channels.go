// Package pubsub fans trading events out over Redis pub/sub.
//
// Channel naming convention: {domain}:{entity}:{account}
// Examples: trading:decision:default, trading:exit:acc-1, trading:state:default
package pubsub

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const DomainTrading = "trading"

const (
	EntityDecision = "decision"
	EntityExit     = "exit"
	EntityOrder    = "order"
	EntityState    = "state"
)

// ChannelAllTrading matches every trading channel of every account.
const ChannelAllTrading = DomainTrading + ":*"

func DecisionChannel(account string) string {
	return fmt.Sprintf("%s:%s:%s", DomainTrading, EntityDecision, account)
}

func ExitChannel(account string) string {
	return fmt.Sprintf("%s:%s:%s", DomainTrading, EntityExit, account)
}

func OrderChannel(account string) string {
	return fmt.Sprintf("%s:%s:%s", DomainTrading, EntityOrder, account)
}

func StateChannel(account string) string {
	return fmt.Sprintf("%s:%s:%s", DomainTrading, EntityState, account)
}

// AccountPattern matches every trading channel of one account.
func AccountPattern(account string) string {
	return fmt.Sprintf("%s:*:%s", DomainTrading, account)
}

// ParseChannel extracts domain, entity and qualifiers from {domain}:{entity}[:{q1}:...].
func ParseChannel(channel string) (domain, entity string, qualifiers []string) {
	parts := strings.SplitN(channel, ":", 3)
	if len(parts) < 2 {
		return "", "", nil
	}
	domain = parts[0]
	entity = parts[1]
	if len(parts) == 3 {
		qualifiers = strings.Split(parts[2], ":")
	}
	return domain, entity, qualifiers
}

type MessageType string

const (
	MessageTypeDecision MessageType = "decision"
	MessageTypeExit     MessageType = "exit"
	MessageTypeOrder    MessageType = "order"
	MessageTypeState    MessageType = "state"
)

// Envelope wraps every message. Data holds the JSON of the event itself.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Channel   string          `json:"channel"`
	Account   string          `json:"account,omitempty"`
	StockCode string          `json:"stock_code,omitempty"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// StatePayload announces an orchestrator state transition.
type StatePayload struct {
	State    string `json:"state"`
	Previous string `json:"previous"`
	Reason   string `json:"reason,omitempty"`
}
